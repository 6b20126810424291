package gormrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/core/activity"
)

type ActivityRepository struct {
	*Repository[activity.Log]
}

var _ activity.Repository = (*ActivityRepository)(nil)

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{Repository: NewRepository[activity.Log](db)}
}

func (repo *ActivityRepository) Add(ctx context.Context, log *activity.Log) error {
	return repo.Create(ctx, log)
}

func (repo *ActivityRepository) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	res := repo.conn(ctx).Where("created_at < ?", t.UTC()).Delete(&activity.Log{})
	return res.RowsAffected, errors.Wrap(res.Error, "deleting old activity logs")
}

func (repo *ActivityRepository) Recent(ctx context.Context, n int) ([]activity.Log, error) {
	logs := make([]activity.Log, 0, n)
	err := repo.conn(ctx).Where("is_deleted = ?", false).Order("id DESC").Limit(n).Find(&logs).Error
	return logs, errors.Wrap(err, "selecting recent activity logs")
}
