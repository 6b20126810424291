// Package testutil sets up the database and the fixtures of the tests.
package testutil

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/apps/api/di"
	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/services/email"
	"github.com/trezcool/backoffice/services/logger"
	"github.com/trezcool/backoffice/services/sms"
	"github.com/trezcool/backoffice/storage/database"
)

// NewConfig returns the test configuration with a private in-memory sqlite database.
func NewConfig(t *testing.T) *core.Config {
	conf := core.NewTestConfig()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conf.Database.Path = "file:" + name + "?mode=memory&cache=shared"
	conf.Storage.LocalRoot = t.TempDir()
	return conf
}

// NewLogger returns a logger writing nowhere.
func NewLogger(conf *core.Config) core.Logger {
	std := logrus.New()
	std.SetOutput(io.Discard)
	return logsvc.NewRollbarLogger(std, conf)
}

// PrepareDB opens and migrates the database of conf; it is closed at the end of the test.
func PrepareDB(t *testing.T, conf *core.Config) *gorm.DB {
	t.Helper()
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("database.Open() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(db); err != nil {
			t.Errorf("database.Close() failed: %v", err)
		}
	})
	if err = database.Migrate(db); err != nil {
		t.Fatalf("database.Migrate() failed: %v", err)
	}
	return db
}

// NewContainer wires every service on a fresh database.
// Mail and SMS default to the console services, mail being sent synchronously.
func NewContainer(t *testing.T, ovr di.Overrides) *di.Container {
	t.Helper()
	conf := NewConfig(t)
	logger := NewLogger(conf)
	db := PrepareDB(t, conf)
	if ovr.Mail == nil {
		ovr.Mail = emailsvc.NewConsoleServiceMock(conf, logger)
	}
	if ovr.SMS == nil {
		ovr.SMS = smssvc.NewConsoleService(nil)
	}
	c, err := di.New(context.Background(), conf, logger, db, ovr)
	if err != nil {
		t.Fatalf("di.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Broker.Close() })
	return c
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:     name,
		Username: uname,
		Email:    email,
		Roles:    roles,
		IsActive: isActive,
	}
	usr.CreatedAt = tstamp
	usr.UpdatedAt = tstamp
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.UpdateOrCreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// ActorContext returns a context carrying usr as the actor.
func ActorContext(usr user.User) context.Context {
	return core.WithActor(context.Background(), usr.Actor())
}
