// Package di builds the services of the app from its configuration.
package di

import (
	"context"
	"io"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/activity"
	"github.com/trezcool/backoffice/core/chat"
	"github.com/trezcool/backoffice/core/cms"
	"github.com/trezcool/backoffice/core/communicating"
	"github.com/trezcool/backoffice/core/course"
	"github.com/trezcool/backoffice/core/crud"
	"github.com/trezcool/backoffice/core/dashboard"
	"github.com/trezcool/backoffice/core/filemanager"
	"github.com/trezcool/backoffice/core/payment"
	"github.com/trezcool/backoffice/core/taskmanager"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/services/broker"
	"github.com/trezcool/backoffice/services/captcha"
	"github.com/trezcool/backoffice/services/email"
	"github.com/trezcool/backoffice/services/jobs"
	"github.com/trezcool/backoffice/services/kvstore"
	"github.com/trezcool/backoffice/services/payment"
	"github.com/trezcool/backoffice/services/sms"
	"github.com/trezcool/backoffice/services/storage"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/storage/database/sqlx"
)

// Overrides replaces the external services; nil fields are built from the configuration.
type Overrides struct {
	Mail    core.EmailService
	SMS     core.SMSSender
	KV      core.KVStore
	Captcha user.Captcha
	Storage filemanager.Storage
	Gateway payment.Gateway
}

// Container holds every service of the app.
type Container struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *gorm.DB
	Validate   *validator.Validate
	Translator *ut.UniversalTranslator

	Broker *broker.GoChannel
	kv     core.KVStore

	UserSvc          *user.Service
	OTPSvc           *user.OTPService
	ActivitySvc      *activity.Service
	CMSSvc           *cms.Contents
	CommunicatingSvc *communicating.Service
	CourseSvc        *course.Service
	TaskSvc          *taskmanager.Service
	ChatSvc          *chat.Service
	FileSvc          *filemanager.Service
	PaymentSvc       *payment.Service
	DashboardSvc     *dashboard.Service
}

// NewValidator returns a validator whose messages are translated in every supported locale.
func NewValidator() (*validator.Validate, *ut.UniversalTranslator) {
	validate := validator.New()
	uni := core.NewTranslator()
	core.InitValidators(validate, uni)
	user.InitValidators(validate, uni)
	core.RegisterMessages(uni, course.Messages)
	core.RegisterMessages(uni, filemanager.Messages)
	core.RegisterMessages(uni, payment.Messages)
	return validate, uni
}

// New wires the services on top of an open and migrated db.
func New(ctx context.Context, conf *core.Config, logger core.Logger, db *gorm.DB, ovr Overrides) (*Container, error) {
	validate, uni := NewValidator()
	c := &Container{
		Conf:       conf,
		Logger:     logger,
		DB:         db,
		Validate:   validate,
		Translator: uni,
		Broker:     broker.NewGoChannel(conf.Debug),
	}

	if err := c.external(ctx, &ovr); err != nil {
		return nil, err
	}
	c.kv = ovr.KV

	settings := crud.Settings{
		Validate:        validate,
		DefaultPageSize: conf.Pagination.DefaultPageSize,
		MaxPageSize:     conf.Pagination.MaxPageSize,
	}
	c.ActivitySvc = activity.NewService(gormrepos.NewActivityRepository(db), settings, logger)
	settings.Auditor = c.ActivitySvc

	c.UserSvc = user.NewService(gormrepos.NewUserRepository(db), settings, ovr.Mail, conf)
	c.OTPSvc = user.NewOTPService(c.UserSvc, ovr.KV, ovr.SMS, ovr.Captcha, conf)

	c.CommunicatingSvc = communicating.NewService(
		gormrepos.NewRepository[communicating.ContactMessage](db),
		gormrepos.NewSubscriberRepository(db),
		gormrepos.NewRepository[communicating.Notification](db),
		settings,
		ovr.Mail,
		conf,
	)

	c.CMSSvc = cms.NewContents(cms.Repositories{
		Categories:   gormrepos.NewRepository[cms.ContentCategory](db),
		Managers:     gormrepos.NewRepository[cms.ContentManager](db),
		Blogs:        gormrepos.NewRepository[cms.Blog](db),
		Posts:        gormrepos.NewRepository[cms.Post](db),
		Comments:     gormrepos.NewRepository[cms.Comment](db),
		Stories:      gormrepos.NewRepository[cms.Story](db),
		Services:     gormrepos.NewRepository[cms.Service](db),
		Galleries:    gormrepos.NewRepository[cms.Gallery](db),
		GalleryItems: gormrepos.NewRepository[cms.GalleryItem](db),
		WorkSamples:  gormrepos.NewRepository[cms.WorkSample](db),
	}, settings, c.CommunicatingSvc, logger)

	c.CourseSvc = course.NewService(
		gormrepos.NewRepository[course.Course](db),
		gormrepos.NewRepository[course.CourseChapter](db),
		gormrepos.NewRepository[course.Lesson](db),
		gormrepos.NewEnrollmentRepository(db),
		settings,
	)

	c.TaskSvc = taskmanager.NewService(
		gormrepos.NewRepository[taskmanager.Task](db),
		gormrepos.NewRepository[taskmanager.TaskAttachment](db),
		c.CommunicatingSvc,
		settings,
		logger,
	)
	c.ChatSvc = chat.NewService(gormrepos.NewChatRepository(db), c.Broker, c.TaskSvc, settings, logger)

	c.FileSvc = filemanager.NewService(
		gormrepos.NewRepository[filemanager.Folder](db),
		gormrepos.NewFileRepository(db),
		ovr.Storage,
		settings,
		conf,
		logger,
	)

	c.PaymentSvc = payment.NewService(gormrepos.NewPaymentRepository(db), ovr.Gateway, c.CourseSvc, c.CommunicatingSvc, settings, conf, logger)

	dashRepo, err := sqlxrepos.NewDashboardRepository(db)
	if err != nil {
		return nil, err
	}
	c.DashboardSvc = dashboard.NewService(dashRepo, c.ActivitySvc, taskmanager.OpenStatuses)
	return c, nil
}

// external builds the services talking to the outside world, unless overridden.
// Console services replace the mail and SMS providers in debug mode.
func (c *Container) external(ctx context.Context, ovr *Overrides) error {
	conf := c.Conf
	if ovr.Mail == nil {
		if conf.Debug || conf.SendgridAPIKey == "" {
			ovr.Mail = emailsvc.NewConsoleService(conf, c.Logger)
		} else {
			ovr.Mail = emailsvc.NewSendgridService(conf, c.Logger)
		}
	}
	if ovr.SMS == nil {
		if conf.Debug || conf.SMS.GatewayURL == "" {
			ovr.SMS = smssvc.NewConsoleService(c.Logger)
		} else {
			ovr.SMS = smssvc.NewGatewayService(conf)
		}
	}
	if ovr.KV == nil {
		kv, err := kvstore.New(conf)
		if err != nil {
			return errors.Wrap(err, "setting up kv store")
		}
		ovr.KV = kv
	}
	if ovr.Captcha == nil {
		ovr.Captcha = captchasvc.NewService(ovr.KV, c.Logger)
	}
	if ovr.Storage == nil {
		store, err := storagesvc.New(ctx, conf)
		if err != nil {
			return errors.Wrap(err, "setting up file storage")
		}
		ovr.Storage = store
	}
	if ovr.Gateway == nil {
		ovr.Gateway = paymentsvc.New(conf)
	}
	return nil
}

// Jobs returns the periodic maintenance jobs.
func (c *Container) Jobs() []jobs.CronJob {
	return []jobs.CronJob{
		jobs.NewExpirePayments(c.PaymentSvc, c.Conf, c.Logger),
		jobs.NewPurgeActivities(c.ActivitySvc, c.Conf, c.Logger),
	}
}

// Close releases the broker, the kv store and the database.
func (c *Container) Close() error {
	if err := c.Broker.Close(); err != nil {
		return errors.Wrap(err, "closing broker")
	}
	if cl, ok := c.kv.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			return errors.Wrap(err, "closing kv store")
		}
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return errors.Wrap(err, "getting sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "closing database")
}
