// Package sqlxrepos holds the read models written in plain SQL.
package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/core/communicating"
	"github.com/trezcool/backoffice/core/dashboard"
	"github.com/trezcool/backoffice/core/payment"
)

const countsQuery = `
SELECT
	(SELECT COUNT(*) FROM users WHERE is_deleted = ?) AS users,
	(SELECT COUNT(*) FROM users WHERE is_deleted = ? AND is_active = ?) AS active_users,
	(SELECT COUNT(*) FROM posts WHERE is_deleted = ?) AS posts,
	(SELECT COUNT(*) FROM courses WHERE is_deleted = ?) AS courses,
	(SELECT COUNT(*) FROM enrollments WHERE is_deleted = ?) AS enrollments,
	(SELECT COUNT(*) FROM contact_messages WHERE is_deleted = ? AND status = ?) AS unread_contacts`

type dashboardRepository struct {
	db *sqlx.DB
}

var _ dashboard.Repository = (*dashboardRepository)(nil) // interface compliance check

// NewDashboardRepository shares the connection pool of gdb.
func NewDashboardRepository(gdb *gorm.DB) (*dashboardRepository, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "getting sql.DB")
	}
	driver := "postgres"
	if gdb.Dialector.Name() == "sqlite" {
		driver = "sqlite3"
	}
	return &dashboardRepository{db: sqlx.NewDb(sqlDB, driver)}, nil
}

func (repo *dashboardRepository) Counts(ctx context.Context) (dashboard.Counts, error) {
	var counts dashboard.Counts
	err := repo.db.GetContext(ctx, &counts, repo.db.Rebind(countsQuery),
		false, false, true, false, false, false, false, communicating.ContactUnread)
	return counts, errors.Wrap(err, "counting records")
}

func (repo *dashboardRepository) TasksByStatus(ctx context.Context, statuses []int) ([]dashboard.StatusCount, error) {
	counts := make([]dashboard.StatusCount, 0, len(statuses))
	if len(statuses) == 0 {
		return counts, nil
	}
	q, args, err := sqlx.In(
		"SELECT status, COUNT(*) AS count FROM tasks WHERE is_deleted = ? AND status IN (?) GROUP BY status ORDER BY status",
		false, statuses,
	)
	if err != nil {
		return nil, errors.Wrap(err, "building tasks query")
	}
	err = repo.db.SelectContext(ctx, &counts, repo.db.Rebind(q), args...)
	return counts, errors.Wrap(err, "counting tasks")
}

func (repo *dashboardRepository) Revenue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := repo.db.GetContext(ctx, &total,
		repo.db.Rebind("SELECT SUM(amount) FROM payments WHERE is_deleted = ? AND status = ?"),
		false, payment.StatusPaid)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "summing payments")
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
