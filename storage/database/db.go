// Package database opens the relational store and keeps its schema up to date.
package database

import (
	"database/sql"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/activity"
	"github.com/trezcool/backoffice/core/chat"
	"github.com/trezcool/backoffice/core/cms"
	"github.com/trezcool/backoffice/core/communicating"
	"github.com/trezcool/backoffice/core/course"
	"github.com/trezcool/backoffice/core/filemanager"
	"github.com/trezcool/backoffice/core/payment"
	"github.com/trezcool/backoffice/core/taskmanager"
	"github.com/trezcool/backoffice/core/user"
)

// Models lists every persisted model, in creation order.
var Models = []interface{}{
	&filemanager.Folder{},
	&filemanager.File{},
	&user.User{},
	&activity.Log{},
	&cms.ContentCategory{},
	&cms.ContentManager{},
	&cms.Blog{},
	&cms.Post{},
	&cms.Comment{},
	&cms.Story{},
	&cms.Service{},
	&cms.Gallery{},
	&cms.GalleryItem{},
	&cms.WorkSample{},
	&communicating.ContactMessage{},
	&communicating.NewsletterSubscriber{},
	&communicating.Notification{},
	&course.Course{},
	&course.CourseChapter{},
	&course.Lesson{},
	&course.Enrollment{},
	&taskmanager.Task{},
	&taskmanager.TaskAttachment{},
	&chat.ChatMessage{},
	&payment.Payment{},
}

func open(dbName string, admin bool, conf *core.Config) (*sql.DB, error) {
	usr := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		usr = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     usr,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return sql.Open("postgres", u.String())
}

// Open connects to the configured database and waits until it answers.
func Open(conf *core.Config) (*gorm.DB, error) {
	gormConf := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if conf.Database.LogQueries {
		gormConf.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var dialector gorm.Dialector
	switch conf.Database.Engine {
	case "sqlite":
		dialector = sqlite.Open(conf.Database.Path)
	case "postgres":
		sqlDB, err := open(conf.Database.Name, false, conf)
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	default:
		return nil, errors.Errorf("unsupported database engine %q", conf.Database.Engine)
	}

	db, err := gorm.Open(dialector, gormConf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "getting sql.DB")
	}
	if conf.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(conf.Database.MaxOpenConns)
	}
	if err = ping(sqlDB); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ping waits for the database to be ready, backing off exponentially between attempts.
func ping(db *sql.DB) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(db.Ping, bo); err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func exists(db *sql.DB, query string, args ...interface{}) (bool, error) {
	var found bool
	err := db.QueryRow(query, args...).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return found, err
}

func createAppUser(db *sql.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}

	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		q := "CREATE USER " + pq.QuoteIdentifier(conf.Database.User) +
			" CREATEDB ENCRYPTED PASSWORD " + pq.QuoteLiteral(conf.Database.Password)
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sql.DB, conf *core.Config) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the app user (as admin) then the app database (as the app user).
// It is a no-op for sqlite, whose database file is created on open.
func CreateIfNotExist(conf *core.Config) error {
	if conf.Database.Engine != "postgres" {
		return nil
	}

	db, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()

	if err = ping(db); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(db, conf); err != nil {
		return err
	}

	appDB, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = appDB.Close() }()
	return createDB(appDB, conf)
}

// Migrate creates or alters the tables of all Models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
