// Package payment charges users through a payment gateway and enrolls them in the courses they paid for.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/course"
	"github.com/trezcool/backoffice/core/crud"
)

const Table = "payments"

// Payment statuses
const (
	StatusPending  = 1
	StatusPaid     = 2
	StatusFailed   = 3
	StatusExpired  = 4
	StatusRefunded = 5
)

// Gateway events
const (
	EventIgnored = iota
	EventPaid
	EventFailed
)

var (
	ErrAmountRequired  = errors.New("amount must be greater than zero")
	ErrAlreadyEnrolled = errors.New("already enrolled in this course")
	ErrCourseIsFree    = errors.New("this course is free")
	ErrInvalidEvent    = errors.New("invalid payment event")

	// Messages are the translations of the payment errors.
	Messages = map[string]core.Texts{
		ErrAmountRequired.Error():  {"fa": "مبلغ باید بیشتر از صفر باشد"},
		ErrAlreadyEnrolled.Error(): {"fa": "شما قبلا در این دوره ثبت‌نام کرده‌اید"},
		ErrCourseIsFree.Error():    {"fa": "این دوره رایگان است"},
		ErrInvalidEvent.Error():    {"fa": "رویداد پرداخت نامعتبر است"},
	}
)

type Payment struct {
	core.Model
	UserID      int             `json:"user_id" gorm:"not null;index" validate:"required" ref:"security/User"`
	CourseID    null.Int        `json:"course_id" gorm:"index" ref:"course/Course"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency    string          `json:"currency" gorm:"size:3;not null" validate:"required,len=3"`
	Description string          `json:"description" gorm:"size:255" validate:"max=255"`
	Gateway     string          `json:"gateway" gorm:"size:30"`
	Reference   string          `json:"reference" gorm:"size:255;index"`
	CheckoutURL string          `json:"checkout_url" gorm:"size:1000"`
	PaidAt      null.Time       `json:"paid_at"`
}

func (Payment) TableName() string { return Table }

func (p *Payment) References() []crud.Reference {
	return []crud.Reference{
		{Field: "user_id", Table: "users", ID: p.UserID},
		{Field: "course_id", Table: course.TableCourses, ID: int(p.CourseID.Int)},
	}
}

func (*Payment) Statuses() []int {
	return []int{StatusPending, StatusPaid, StatusFailed, StatusExpired, StatusRefunded}
}

type (
	Repository interface {
		crud.Repository[Payment]
		// FindByReference returns core.ErrNotFound when no payment has the gateway reference.
		FindByReference(ctx context.Context, ref string) (Payment, error)
		// ExpirePending flags the pending payments created before t as expired.
		ExpirePending(ctx context.Context, before time.Time) (int64, error)
	}

	CheckoutRequest struct {
		PaymentID   int
		Amount      decimal.Decimal
		Currency    string
		Description string
		Email       string
	}

	Checkout struct {
		Reference string
		URL       string
	}

	Event struct {
		Type      int
		Reference string
		PaymentID int
	}

	// Gateway is a payment provider.
	Gateway interface {
		Name() string
		Checkout(ctx context.Context, req CheckoutRequest) (Checkout, error)
		// ParseEvent verifies the signature of a webhook payload and decodes it.
		ParseEvent(payload []byte, signature string) (Event, error)
	}

	// Courses is the part of the course service payments depend on.
	Courses interface {
		GetCourse(ctx context.Context, id int) (course.Course, error)
		IsEnrolled(ctx context.Context, userID, courseID int) (bool, error)
		Enroll(ctx context.Context, userID, courseID int, paymentID null.Int) (course.Enrollment, error)
	}

	StartRequest struct {
		CourseID    int             `json:"course_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description" validate:"max=255"`
	}

	Service struct {
		records  *crud.Service[Payment, *Payment]
		repo     Repository
		gateway  Gateway
		courses  Courses
		notifier core.Notifier
		currency string
		logger   core.Logger
	}
)

func NewService(repo Repository, gateway Gateway, courses Courses, notifier core.Notifier, settings crud.Settings, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		records:  crud.NewService[Payment](repo, settings),
		repo:     repo,
		gateway:  gateway,
		courses:  courses,
		notifier: notifier,
		currency: conf.Stripe.Currency,
		logger:   logger,
	}
}

func (svc *Service) Records() *crud.Service[Payment, *Payment] { return svc.records }

// Start creates a pending payment for the context actor and opens a checkout session for it.
func (svc *Service) Start(ctx context.Context, req StartRequest) (Payment, error) {
	actor, ok := core.ActorFromContext(ctx)
	if !ok {
		return Payment{}, core.ErrPermissionDenied
	}

	pmt := Payment{
		UserID:      actor.ID,
		Amount:      req.Amount,
		Currency:    svc.currency,
		Description: core.CleanString(req.Description),
		Gateway:     svc.gateway.Name(),
	}
	if req.CourseID > 0 {
		crs, err := svc.courses.GetCourse(ctx, req.CourseID)
		if err != nil {
			if core.IsNotFound(err) {
				return Payment{}, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: core.MsgRelatedNotFound})
			}
			return Payment{}, err
		}
		if crs.IsFree() {
			return Payment{}, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: ErrCourseIsFree.Error()})
		}
		enrolled, err := svc.courses.IsEnrolled(ctx, actor.ID, crs.ID)
		if err != nil {
			return Payment{}, err
		}
		if enrolled {
			return Payment{}, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: ErrAlreadyEnrolled.Error()})
		}
		pmt.CourseID = null.IntFrom(crs.ID)
		pmt.Amount = crs.Price
		if pmt.Description == "" {
			pmt.Description = crs.Title
		}
	}
	if !pmt.Amount.IsPositive() {
		return Payment{}, core.NewValidationError(nil, core.FieldError{Field: "amount", Error: ErrAmountRequired.Error()})
	}

	pmt.Status = StatusPending
	if err := svc.records.AddOrUpdate(ctx, &pmt); err != nil {
		return Payment{}, err
	}

	co, err := svc.gateway.Checkout(ctx, CheckoutRequest{
		PaymentID:   pmt.ID,
		Amount:      pmt.Amount,
		Currency:    pmt.Currency,
		Description: pmt.Description,
		Email:       actor.Email,
	})
	if err != nil {
		pmt.Status = StatusFailed
		if err := svc.records.AddOrUpdate(ctx, &pmt); err != nil {
			svc.logger.Error("flagging payment as failed: "+err.Error(), err)
		}
		return Payment{}, errors.Wrap(err, "opening checkout session")
	}

	pmt.Reference = co.Reference
	pmt.CheckoutURL = co.URL
	if err := svc.records.AddOrUpdate(ctx, &pmt); err != nil {
		return Payment{}, err
	}
	return pmt, nil
}

// HandleWebhook applies a gateway notification. Paid payments of a course enroll their user.
func (svc *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := svc.gateway.ParseEvent(payload, signature)
	if err != nil {
		return core.NewValidationError(ErrInvalidEvent)
	}
	if evt.Type == EventIgnored {
		return nil
	}

	pmt, err := svc.find(ctx, evt)
	if err != nil {
		return err
	}

	switch evt.Type {
	case EventPaid:
		if pmt.Status == StatusPaid {
			// a replay settles the enrollment a previous delivery may have failed to write
			return svc.enroll(ctx, pmt)
		}
		pmt.Status = StatusPaid
		pmt.PaidAt = null.TimeFrom(time.Now().UTC())
	case EventFailed:
		if pmt.Status != StatusPending {
			return nil
		}
		pmt.Status = StatusFailed
	}
	if evt.Reference != "" {
		pmt.Reference = evt.Reference
	}
	if err := svc.records.AddOrUpdate(ctx, &pmt); err != nil {
		return err
	}

	if pmt.Status == StatusPaid {
		return svc.enroll(ctx, pmt)
	}
	return nil
}

// enroll registers the payer of a paid course payment and tells them about it.
func (svc *Service) enroll(ctx context.Context, pmt Payment) error {
	if !pmt.CourseID.Valid {
		return nil
	}
	courseID := int(pmt.CourseID.Int)
	enrolled, err := svc.courses.IsEnrolled(ctx, pmt.UserID, courseID)
	if err != nil || enrolled {
		return err
	}
	if _, err := svc.courses.Enroll(ctx, pmt.UserID, courseID, null.IntFrom(pmt.ID)); err != nil {
		return errors.Wrapf(err, "enrolling user %d", pmt.UserID)
	}

	title := "Enrolled in " + pmt.Description
	if err := svc.notifier.Notify(ctx, pmt.UserID, title, "Your payment was received.", fmt.Sprintf("/courses/%d", courseID)); err != nil {
		svc.logger.Error(fmt.Sprintf("notifying user %d of enrollment: %v", pmt.UserID, err), err)
	}
	return nil
}

func (svc *Service) find(ctx context.Context, evt Event) (Payment, error) {
	if evt.PaymentID > 0 {
		return svc.records.Find(ctx, evt.PaymentID)
	}
	if evt.Reference == "" {
		return Payment{}, core.NewValidationError(ErrInvalidEvent)
	}
	pmt, err := svc.repo.FindByReference(ctx, evt.Reference)
	return pmt, errors.Wrap(err, "finding payment by reference")
}

// ExpirePending flags the payments pending for longer than ttl as expired.
func (svc *Service) ExpirePending(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := svc.repo.ExpirePending(ctx, time.Now().UTC().Add(-ttl))
	return n, errors.Wrap(err, "expiring pending payments")
}
