// Package activity keeps the audit trail of what users did.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const Table = "activity_logs"

// Auth actions, next to the crud.Action values.
const (
	ActionLogin    crud.Action = "login"
	ActionLoginOTP crud.Action = "login_otp"
	ActionRefresh  crud.Action = "token_refresh"
)

type Log struct {
	core.Model
	UserID      null.Int    `json:"user_id" gorm:"index" ref:"security/User"`
	Action      crud.Action `json:"action" gorm:"size:30;not null;index"`
	ObjectType  string      `json:"object_type" gorm:"size:60;not null;index"`
	ObjectID    int         `json:"object_id" gorm:"index"`
	Description string      `json:"description" gorm:"size:255"`
	IP          string      `json:"ip" gorm:"size:45"`
}

func (Log) TableName() string { return Table }

type Repository interface {
	crud.Repository[Log]
	Add(ctx context.Context, log *Log) error
	// PurgeBefore hard deletes the logs created before t.
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
	Recent(ctx context.Context, n int) ([]Log, error)
}

// Service writes the activity logs; it implements crud.Auditor.
type Service struct {
	records *crud.Service[Log, *Log]
	repo    Repository
	logger  core.Logger
}

var _ crud.Auditor = (*Service)(nil)

func NewService(repo Repository, settings crud.Settings, logger core.Logger) *Service {
	// logs are not audited themselves
	settings.Auditor = nil
	return &Service{
		records: crud.NewService[Log](repo, settings),
		repo:    repo,
		logger:  logger,
	}
}

func (svc *Service) Records() *crud.Service[Log, *Log] { return svc.records }

func (svc *Service) Audit(ctx context.Context, action crud.Action, objectType string, objectID int) {
	svc.Log(ctx, action, objectType, objectID, fmt.Sprintf("%s %s #%d", action, objectType, objectID))
}

// Log records action on behalf of the context actor; failures are reported, not returned.
func (svc *Service) Log(ctx context.Context, action crud.Action, objectType string, objectID int, description string) {
	entry := &Log{
		Action:      action,
		ObjectType:  objectType,
		ObjectID:    objectID,
		Description: description,
	}
	if actor, ok := core.ActorFromContext(ctx); ok {
		entry.UserID = null.IntFrom(actor.ID)
		entry.IP = actor.IP
	}
	if err := svc.repo.Add(ctx, entry); err != nil {
		svc.logger.Error(fmt.Sprintf("writing activity log: %v", err), err)
	}
}

func (svc *Service) Recent(ctx context.Context, n int) ([]Log, error) {
	logs, err := svc.repo.Recent(ctx, n)
	return logs, errors.Wrap(err, "listing recent activities")
}

// Purge removes the logs older than retention.
func (svc *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := svc.repo.PurgeBefore(ctx, time.Now().UTC().Add(-retention))
	return n, errors.Wrap(err, "purging activity logs")
}
