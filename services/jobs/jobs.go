package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/backoffice/core"
)

type (
	PaymentExpirer interface {
		ExpirePending(ctx context.Context, ttl time.Duration) (int64, error)
	}

	ActivityPurger interface {
		Purge(ctx context.Context, retention time.Duration) (int64, error)
	}
)

// ExpirePayments flags the payments left pending for too long as expired.
type ExpirePayments struct {
	payments PaymentExpirer
	ttl      time.Duration
	schedule string
	logger   core.Logger
}

func NewExpirePayments(payments PaymentExpirer, conf *core.Config, logger core.Logger) *ExpirePayments {
	return &ExpirePayments{
		payments: payments,
		ttl:      conf.Jobs.PendingPaymentTTL,
		schedule: conf.Jobs.ExpirePaymentsSchedule,
		logger:   logger,
	}
}

func (j *ExpirePayments) Name() string     { return "expire_payments" }
func (j *ExpirePayments) Schedule() string { return j.schedule }

func (j *ExpirePayments) Run(ctx context.Context) error {
	n, err := j.payments.ExpirePending(ctx, j.ttl)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info(fmt.Sprintf("%d pending payments expired", n))
	}
	return nil
}

// PurgeActivities removes the activity logs older than the retention window.
type PurgeActivities struct {
	activities ActivityPurger
	retention  time.Duration
	schedule   string
	logger     core.Logger
}

func NewPurgeActivities(activities ActivityPurger, conf *core.Config, logger core.Logger) *PurgeActivities {
	return &PurgeActivities{
		activities: activities,
		retention:  conf.Jobs.ActivityRetention,
		schedule:   conf.Jobs.PurgeActivitiesSchedule,
		logger:     logger,
	}
}

func (j *PurgeActivities) Name() string     { return "purge_activities" }
func (j *PurgeActivities) Schedule() string { return j.schedule }

func (j *PurgeActivities) Run(ctx context.Context) error {
	n, err := j.activities.Purge(ctx, j.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info(fmt.Sprintf("%d activity logs purged", n))
	}
	return nil
}
