package crud

import (
	"context"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/backoffice/core"
)

// Settings are the dependencies shared by every Service.
type Settings struct {
	Validate        *validator.Validate
	Auditor         Auditor
	DefaultPageSize int
	MaxPageSize     int
}

type (
	// SaveHook runs around the saving of a record; existing is nil on creation.
	SaveHook[T any, PT RecordPtr[T]] func(ctx context.Context, obj PT, existing PT) error
	// DeleteHook runs around the deletion of obj.
	DeleteHook[T any, PT RecordPtr[T]] func(ctx context.Context, obj PT, typ DeleteType) error

	Option[T any, PT RecordPtr[T]] func(*Service[T, PT])
)

// WithBeforeSave registers a hook run after validation and before the record is written.
func WithBeforeSave[T any, PT RecordPtr[T]](hook SaveHook[T, PT]) Option[T, PT] {
	return func(svc *Service[T, PT]) { svc.beforeSave = append(svc.beforeSave, hook) }
}

// WithAfterSave registers a hook run once the record has been written.
func WithAfterSave[T any, PT RecordPtr[T]](hook SaveHook[T, PT]) Option[T, PT] {
	return func(svc *Service[T, PT]) { svc.afterSave = append(svc.afterSave, hook) }
}

// WithBeforeDelete registers a hook that can veto a deletion.
func WithBeforeDelete[T any, PT RecordPtr[T]](hook DeleteHook[T, PT]) Option[T, PT] {
	return func(svc *Service[T, PT]) { svc.beforeDelete = append(svc.beforeDelete, hook) }
}

// WithAfterDelete registers a hook run once a record has been deleted.
func WithAfterDelete[T any, PT RecordPtr[T]](hook DeleteHook[T, PT]) Option[T, PT] {
	return func(svc *Service[T, PT]) { svc.afterDelete = append(svc.afterDelete, hook) }
}

// Service implements the generic record operations on top of a Repository.
type Service[T any, PT RecordPtr[T]] struct {
	name     string
	repo     Repository[T]
	settings Settings

	beforeSave   []SaveHook[T, PT]
	afterSave    []SaveHook[T, PT]
	beforeDelete []DeleteHook[T, PT]
	afterDelete  []DeleteHook[T, PT]
}

func NewService[T any, PT RecordPtr[T]](repo Repository[T], settings Settings, opts ...Option[T, PT]) *Service[T, PT] {
	svc := &Service[T, PT]{
		name:     reflect.TypeOf((*T)(nil)).Elem().Name(),
		repo:     repo,
		settings: settings,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Name of the managed entity, e.g. "Blog".
func (svc *Service[T, PT]) Name() string { return svc.name }

func (svc *Service[T, PT]) Repository() Repository[T] { return svc.repo }

func (svc *Service[T, PT]) Properties() []Property { return svc.repo.Properties() }

// AddOrUpdate creates obj when its ID is 0, updates the existing record otherwise.
func (svc *Service[T, PT]) AddOrUpdate(ctx context.Context, obj PT) error {
	base := obj.Base()
	if cl, ok := any(obj).(Cleaner); ok {
		cl.Clean()
	}
	if svc.settings.Validate != nil {
		if err := svc.settings.Validate.StructCtx(ctx, obj); err != nil {
			return err
		}
	}
	if err := svc.checkStatus(obj); err != nil {
		return err
	}
	if err := svc.checkReferences(ctx, obj); err != nil {
		return err
	}

	if base.ID == 0 {
		if err := runSaveHooks(ctx, svc.beforeSave, obj, nil); err != nil {
			return err
		}
		base.IsDeleted = false
		if err := svc.repo.Create(ctx, obj); err != nil {
			return errors.Wrapf(err, "creating %s", svc.name)
		}
		svc.audit(ctx, ActionCreate, base.ID)
		return runSaveHooks(ctx, svc.afterSave, obj, nil)
	}

	existing, err := svc.repo.FindByID(ctx, base.ID)
	if err != nil {
		return errors.Wrapf(err, "finding %s", svc.name)
	}
	orig := PT(&existing)
	if err := runSaveHooks(ctx, svc.beforeSave, obj, orig); err != nil {
		return err
	}
	base.CreatedAt = orig.Base().CreatedAt
	base.IsDeleted = orig.Base().IsDeleted
	if err := svc.repo.Update(ctx, obj); err != nil {
		return errors.Wrapf(err, "updating %s", svc.name)
	}
	svc.audit(ctx, ActionUpdate, base.ID)
	return runSaveHooks(ctx, svc.afterSave, obj, orig)
}

// List returns a page of records matching q.
func (svc *Service[T, PT]) List(ctx context.Context, q ListQuery) (Page[T], error) {
	q.Normalize(svc.settings.DefaultPageSize, svc.settings.MaxPageSize)
	data, total, err := svc.repo.List(ctx, q)
	if err != nil {
		return Page[T]{}, errors.Wrapf(err, "listing %s", svc.name)
	}
	return NewPage(data, total, q, svc.repo.Properties()), nil
}

// Get returns the record with the given id along with its properties.
func (svc *Service[T, PT]) Get(ctx context.Context, id int) (Detail[T], error) {
	obj, err := svc.repo.FindByID(ctx, id)
	if err != nil {
		return Detail[T]{}, errors.Wrapf(err, "finding %s", svc.name)
	}
	return Detail[T]{Data: obj, Properties: svc.repo.Properties()}, nil
}

// Find returns the record with the given id.
func (svc *Service[T, PT]) Find(ctx context.Context, id int) (T, error) {
	obj, err := svc.repo.FindByID(ctx, id)
	return obj, errors.Wrapf(err, "finding %s", svc.name)
}

// Delete removes the record with the given id the way typ says.
func (svc *Service[T, PT]) Delete(ctx context.Context, id int, typ DeleteType) error {
	if !typ.Valid() {
		return core.ErrInvalidDeleteType
	}
	obj, err := svc.repo.FindByID(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "finding %s", svc.name)
	}
	ptr := PT(&obj)
	for _, hook := range svc.beforeDelete {
		if err := hook(ctx, ptr, typ); err != nil {
			return err
		}
	}

	var children []Child
	if typ.Cascade() {
		if parent, ok := any(ptr).(Parent); ok {
			children = parent.Children()
		}
	}

	action := ActionSoftDelete
	if typ.Hard() {
		action = ActionHardDelete
		err = svc.repo.Delete(ctx, id, children...)
	} else {
		err = svc.repo.SetDeleted(ctx, id, true, children...)
	}
	if err != nil {
		return errors.Wrapf(err, "deleting %s", svc.name)
	}

	for _, hook := range svc.afterDelete {
		if err := hook(ctx, ptr, typ); err != nil {
			return err
		}
	}
	svc.audit(ctx, action, id)
	return nil
}

// Undelete restores a soft deleted record.
func (svc *Service[T, PT]) Undelete(ctx context.Context, id int) error {
	if _, err := svc.repo.FindByID(ctx, id); err != nil {
		return errors.Wrapf(err, "finding %s", svc.name)
	}
	if err := svc.repo.SetDeleted(ctx, id, false); err != nil {
		return errors.Wrapf(err, "undeleting %s", svc.name)
	}
	svc.audit(ctx, ActionUndelete, id)
	return nil
}

func runSaveHooks[T any, PT RecordPtr[T]](ctx context.Context, hooks []SaveHook[T, PT], obj, existing PT) error {
	for _, hook := range hooks {
		if err := hook(ctx, obj, existing); err != nil {
			return err
		}
	}
	return nil
}

// checkStatus defaults a zero status to the first allowed one and rejects unknown codes.
func (svc *Service[T, PT]) checkStatus(obj PT) error {
	sv, ok := any(obj).(StatusValidator)
	if !ok {
		return nil
	}
	statuses := sv.Statuses()
	if len(statuses) == 0 {
		return nil
	}
	base := obj.Base()
	if base.Status == 0 && !lo.Contains(statuses, 0) {
		base.Status = statuses[0]
	}
	if !lo.Contains(statuses, base.Status) {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: core.MsgInvalidStatus})
	}
	return nil
}

func (svc *Service[T, PT]) checkReferences(ctx context.Context, obj PT) error {
	ref, ok := any(obj).(Referencer)
	if !ok {
		return nil
	}
	var fldErrs []core.FieldError
	for _, r := range ref.References() {
		if r.ID == 0 {
			continue
		}
		exists, err := svc.repo.Exists(ctx, r.Table, r.ID)
		if err != nil {
			return errors.Wrapf(err, "checking %s reference", r.Field)
		}
		if !exists {
			fldErrs = append(fldErrs, core.FieldError{Field: r.Field, Error: core.MsgRelatedNotFound})
		}
	}
	if len(fldErrs) > 0 {
		return core.NewValidationError(nil, fldErrs...)
	}
	return nil
}

func (svc *Service[T, PT]) audit(ctx context.Context, action Action, id int) {
	if svc.settings.Auditor != nil {
		svc.settings.Auditor.Audit(ctx, action, svc.name, id)
	}
}
