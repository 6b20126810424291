// Package gormrepos implements the repositories on top of gorm.
package gormrepos

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

var (
	readOnlyColumns = map[string]bool{"id": true, "created_at": true, "updated_at": true, "is_deleted": true}
	decimalType     = reflect.TypeOf(decimal.Decimal{})
	likeEscaper     = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// Repository implements crud.Repository for any gorm model.
// The columns clients can filter, search and sort on are read from the model schema.
type Repository[T any] struct {
	db      *gorm.DB
	table   string
	columns map[string]*schema.Field // by json and db name
	props   []crud.Property
}

var _ crud.Repository[struct{}] = (*Repository[struct{}])(nil)

// NewRepository parses the schema of T; it panics when T is not a valid gorm model.
func NewRepository[T any](db *gorm.DB) *Repository[T] {
	sch, err := schema.Parse(new(T), &sync.Map{}, db.NamingStrategy)
	if err != nil {
		panic(errors.Wrapf(err, "parsing schema of %T", *new(T)))
	}

	repo := &Repository[T]{
		db:      db,
		table:   sch.Table,
		columns: make(map[string]*schema.Field, len(sch.Fields)*2),
	}
	for _, fld := range sch.Fields {
		name := jsonName(fld)
		if fld.DBName == "" || name == "" {
			continue
		}
		repo.columns[name] = fld
		repo.columns[fld.DBName] = fld
		repo.props = append(repo.props, property(name, fld))
	}
	return repo
}

func (repo *Repository[T]) conn(ctx context.Context) *gorm.DB {
	return repo.db.WithContext(ctx)
}

func (repo *Repository[T]) Table() string { return repo.table }

func (repo *Repository[T]) Create(ctx context.Context, obj *T) error {
	return errors.Wrap(repo.conn(ctx).Create(obj).Error, "inserting")
}

func (repo *Repository[T]) Update(ctx context.Context, obj *T) error {
	res := repo.conn(ctx).Model(obj).Select("*").Omit("id", "created_at", "is_deleted").Updates(obj)
	if res.Error != nil {
		return errors.Wrap(res.Error, "updating")
	}
	if res.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *Repository[T]) FindByID(ctx context.Context, id int) (T, error) {
	var obj T
	err := repo.conn(ctx).Where("id = ?", id).Take(&obj).Error
	return obj, trapNotFound(err, "selecting by id")
}

func (repo *Repository[T]) Exists(ctx context.Context, table string, id int) (bool, error) {
	var n int64
	if err := repo.conn(ctx).Table(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "counting %s", table)
	}
	return n > 0, nil
}

func (repo *Repository[T]) List(ctx context.Context, q crud.ListQuery) ([]T, int64, error) {
	var fldErrs []core.FieldError

	tx := repo.conn(ctx).Model(new(T))
	if q.IsDeleted != nil {
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: "is_deleted"}, Value: *q.IsDeleted})
	}
	for _, cond := range q.Filters {
		fld, ok := repo.columns[cond.Column]
		if !ok || !filterable(fld) {
			fldErrs = append(fldErrs, core.FieldError{Field: cond.Column, Error: core.MsgUnknownColumn})
			continue
		}
		val, err := coerce(fld, cond.Value)
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: cond.Column, Error: core.MsgInvalidValue})
			continue
		}
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: fld.DBName}, Value: val})
	}
	for _, cond := range q.Searches {
		fld, ok := repo.columns[cond.Column]
		if !ok || !searchable(fld) {
			fldErrs = append(fldErrs, core.FieldError{Field: cond.Column, Error: core.MsgUnknownColumn})
			continue
		}
		term := "%" + likeEscaper.Replace(strings.ToLower(cast.ToString(cond.Value))) + "%"
		tx = tx.Where(`LOWER(?) LIKE ? ESCAPE '\'`, clause.Column{Name: fld.DBName}, term)
	}

	orderings := make([]clause.OrderByColumn, 0, len(q.Orderings)+1)
	var byID bool
	for _, ord := range q.Orderings {
		fld, ok := repo.columns[ord.Field]
		if !ok || !filterable(fld) {
			fldErrs = append(fldErrs, core.FieldError{Field: "sort", Error: core.MsgUnknownColumn})
			continue
		}
		byID = byID || fld.DBName == "id"
		orderings = append(orderings, clause.OrderByColumn{Column: clause.Column{Name: fld.DBName}, Desc: !ord.Ascending})
	}
	if !byID {
		orderings = append(orderings, clause.OrderByColumn{Column: clause.Column{Name: "id"}})
	}
	if len(fldErrs) > 0 {
		return nil, 0, core.NewValidationError(nil, fldErrs...)
	}

	tx = tx.Session(&gorm.Session{})
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "counting")
	}

	data := make([]T, 0, q.PageSize)
	if total == 0 {
		return data, 0, nil
	}
	for _, ord := range orderings {
		tx = tx.Order(ord)
	}
	if q.PageSize > 0 {
		tx = tx.Offset(q.Offset()).Limit(q.PageSize)
	}
	if err := tx.Find(&data).Error; err != nil {
		return nil, 0, errors.Wrap(err, "selecting")
	}
	return data, total, nil
}

func (repo *Repository[T]) SetDeleted(ctx context.Context, id int, deleted bool, children ...crud.Child) error {
	now := time.Now().UTC()
	return repo.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(repo.table).Where("id = ?", id).Updates(map[string]interface{}{"is_deleted": deleted, "updated_at": now})
		if res.Error != nil {
			return errors.Wrap(res.Error, "flagging deleted")
		}
		if res.RowsAffected == 0 {
			return core.ErrNotFound
		}
		return walk(tx, repo.table, id, children, func(tx *gorm.DB, c crud.Child, parentIDs []int) error {
			err := tx.Exec(
				"UPDATE ? SET is_deleted = ?, updated_at = ? WHERE ? IN ?",
				clause.Table{Name: c.Table}, deleted, now, clause.Column{Name: c.ForeignKey}, parentIDs,
			).Error
			return errors.Wrapf(err, "flagging %s deleted", c.Table)
		})
	})
}

func (repo *Repository[T]) Delete(ctx context.Context, id int, children ...crud.Child) error {
	return repo.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(repo.table).Where("id = ?", id).Count(&n).Error; err != nil {
			return errors.Wrap(err, "counting")
		}
		if n == 0 {
			return core.ErrNotFound
		}
		// a parent cycle may remove the row itself along with its children
		err := walk(tx, repo.table, id, children, func(tx *gorm.DB, c crud.Child, parentIDs []int) error {
			err := tx.Exec(
				"DELETE FROM ? WHERE ? IN ?",
				clause.Table{Name: c.Table}, clause.Column{Name: c.ForeignKey}, parentIDs,
			).Error
			return errors.Wrapf(err, "deleting %s", c.Table)
		})
		if err != nil {
			return err
		}
		return errors.Wrap(tx.Where("id = ?", id).Delete(new(T)).Error, "deleting")
	})
}

func (repo *Repository[T]) Properties() []crud.Property {
	return repo.props
}

type walkFunc func(tx *gorm.DB, c crud.Child, parentIDs []int) error

// walk applies fn to the rows of children owned by the row id of table, grandchildren first.
func walk(tx *gorm.DB, table string, id int, children []crud.Child, fn walkFunc) error {
	w := walker{tx: tx, fn: fn, seen: map[string]map[int]bool{table: {id: true}}}
	return w.walk(children, []int{id})
}

type walker struct {
	tx   *gorm.DB
	fn   walkFunc
	seen map[string]map[int]bool // rows already walked, per table
}

func (w walker) walk(children []crud.Child, parentIDs []int) error {
	for _, c := range children {
		grandchildren := c.Children
		if c.Recursive {
			grandchildren = children
		}
		if len(grandchildren) > 0 {
			var ids []int
			err := w.tx.Table(c.Table).Where("? IN ?", clause.Column{Name: c.ForeignKey}, parentIDs).Pluck("id", &ids).Error
			if err != nil {
				return errors.Wrapf(err, "selecting %s", c.Table)
			}
			if ids = w.unseen(c.Table, ids); len(ids) > 0 {
				if err = w.walk(grandchildren, ids); err != nil {
					return err
				}
			}
		}
		if err := w.fn(w.tx, c, parentIDs); err != nil {
			return err
		}
	}
	return nil
}

// unseen marks ids as walked and returns the ones that were not; it breaks parent cycles.
func (w walker) unseen(table string, ids []int) []int {
	seen, ok := w.seen[table]
	if !ok {
		seen = make(map[int]bool, len(ids))
		w.seen[table] = seen
	}
	return lo.Filter(ids, func(id int, _ int) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		return true
	})
}

// trapNotFound maps gorm's "record not found" to core.ErrNotFound.
func trapNotFound(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.ErrNotFound
	}
	return errors.Wrap(err, msg)
}
