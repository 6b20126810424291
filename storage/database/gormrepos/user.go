package gormrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/core/user"
)

type UserRepository struct {
	*Repository[user.User]
}

var _ user.Repository = (*UserRepository)(nil) // interface compliance check

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{Repository: NewRepository[user.User](db)}
}

func (repo *UserRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	tx := repo.conn(ctx).Where("is_active = ? AND is_deleted = ?", true, false)
	switch {
	case filter.ID != 0:
		tx = tx.Where("id = ?", filter.ID)
	case len(filter.UsernameOrEmail) > 0:
		tx = tx.Where("username IN ? OR email IN ?", filter.UsernameOrEmail, filter.UsernameOrEmail)
	case filter.Phone != "":
		tx = tx.Where("phone = ?", filter.Phone)
	default:
		return user.User{}, errors.New("empty user filter")
	}

	var usr user.User
	err := tx.Order("id").Take(&usr).Error
	return usr, trapNotFound(err, "selecting user")
}

func (repo *UserRepository) CheckUniqueness(ctx context.Context, usr user.User) error {
	checks := []struct {
		column string
		value  string
		err    error
	}{
		{"username", usr.Username, user.ErrUsernameExists},
		{"email", usr.Email, user.ErrEmailExists},
		{"phone", usr.Phone, user.ErrPhoneExists},
	}
	for _, check := range checks {
		if check.value == "" {
			continue
		}
		var n int64
		err := repo.conn(ctx).Model(&user.User{}).
			Where(check.column+" = ? AND id <> ?", check.value, usr.ID).
			Count(&n).Error
		if err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if n > 0 {
			return check.err
		}
	}
	return nil
}

func (repo *UserRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if err := repo.conn(ctx).Save(&usr).Error; err != nil {
		return user.User{}, errors.Wrap(err, "saving user")
	}
	return usr, nil
}

func (repo *UserRepository) SetLastLogin(ctx context.Context, id int, at time.Time) error {
	err := repo.conn(ctx).Model(&user.User{}).Where("id = ?", id).Update("last_login", at.UTC()).Error
	return errors.Wrap(err, "updating last login")
}
