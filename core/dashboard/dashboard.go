// Package dashboard aggregates the figures shown on the back-office home page.
package dashboard

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/backoffice/core/activity"
)

const recentActivities = 10

type (
	Counts struct {
		Users          int64 `json:"users" db:"users"`
		ActiveUsers    int64 `json:"active_users" db:"active_users"`
		Posts          int64 `json:"posts" db:"posts"`
		Courses        int64 `json:"courses" db:"courses"`
		Enrollments    int64 `json:"enrollments" db:"enrollments"`
		UnreadContacts int64 `json:"unread_contacts" db:"unread_contacts"`
	}

	StatusCount struct {
		Status int   `json:"status" db:"status"`
		Count  int64 `json:"count" db:"count"`
	}

	Summary struct {
		Counts
		OpenTasks  []StatusCount   `json:"open_tasks"`
		Revenue    decimal.Decimal `json:"revenue"`
		Activities []activity.Log  `json:"activities"`
	}

	Repository interface {
		Counts(ctx context.Context) (Counts, error)
		// TasksByStatus counts the live tasks having one of statuses.
		TasksByStatus(ctx context.Context, statuses []int) ([]StatusCount, error)
		// Revenue sums the paid payments.
		Revenue(ctx context.Context) (decimal.Decimal, error)
	}

	Service struct {
		repo       Repository
		activities *activity.Service
		openTasks  []int
	}
)

func NewService(repo Repository, activities *activity.Service, openTaskStatuses []int) *Service {
	return &Service{repo: repo, activities: activities, openTasks: openTaskStatuses}
}

func (svc *Service) Summary(ctx context.Context) (Summary, error) {
	var (
		sum Summary
		err error
	)
	if sum.Counts, err = svc.repo.Counts(ctx); err != nil {
		return Summary{}, errors.Wrap(err, "counting records")
	}
	if sum.OpenTasks, err = svc.repo.TasksByStatus(ctx, svc.openTasks); err != nil {
		return Summary{}, errors.Wrap(err, "counting open tasks")
	}
	if sum.Revenue, err = svc.repo.Revenue(ctx); err != nil {
		return Summary{}, errors.Wrap(err, "summing revenue")
	}
	if sum.Activities, err = svc.activities.Recent(ctx, recentActivities); err != nil {
		return Summary{}, err
	}
	if sum.OpenTasks == nil {
		sum.OpenTasks = []StatusCount{}
	}
	return sum, nil
}
