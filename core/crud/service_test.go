package crud_test

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

type widget struct {
	core.Model
	Name    string `json:"name" validate:"required,max=10"`
	OwnerID int    `json:"owner_id"`
}

func (w *widget) Clean() { w.Name = strings.TrimSpace(w.Name) }

func (*widget) Statuses() []int { return []int{5, 6} }

func (w *widget) References() []crud.Reference {
	return []crud.Reference{{Field: "owner_id", Table: "owners", ID: w.OwnerID}}
}

func (*widget) Children() []crud.Child {
	return []crud.Child{{Table: "parts", ForeignKey: "widget_id"}}
}

// fakeRepo keeps widgets in a map and records the cascades it was asked for.
type fakeRepo struct {
	rows     map[int]widget
	owners   map[int]bool
	pk       int
	children []crud.Child
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[int]widget{}, owners: map[int]bool{1: true}}
}

func (r *fakeRepo) Create(_ context.Context, w *widget) error {
	r.pk++
	w.ID = r.pk
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	r.rows[w.ID] = *w
	return nil
}

func (r *fakeRepo) Update(_ context.Context, w *widget) error {
	if _, ok := r.rows[w.ID]; !ok {
		return core.ErrNotFound
	}
	w.UpdatedAt = time.Now().UTC()
	r.rows[w.ID] = *w
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id int) (widget, error) {
	w, ok := r.rows[id]
	if !ok {
		return widget{}, core.ErrNotFound
	}
	return w, nil
}

func (r *fakeRepo) Exists(_ context.Context, table string, id int) (bool, error) {
	return table == "owners" && r.owners[id], nil
}

func (r *fakeRepo) List(_ context.Context, q crud.ListQuery) ([]widget, int64, error) {
	var data []widget
	for _, w := range r.rows {
		if w.IsDeleted == *q.IsDeleted {
			data = append(data, w)
		}
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })
	total := int64(len(data))
	if off := q.Offset(); off < len(data) {
		data = data[off:]
	} else {
		data = nil
	}
	if len(data) > q.PageSize {
		data = data[:q.PageSize]
	}
	return data, total, nil
}

func (r *fakeRepo) SetDeleted(_ context.Context, id int, deleted bool, children ...crud.Child) error {
	w, ok := r.rows[id]
	if !ok {
		return core.ErrNotFound
	}
	w.IsDeleted = deleted
	r.rows[id] = w
	r.children = children
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id int, children ...crud.Child) error {
	if _, ok := r.rows[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.rows, id)
	r.children = children
	return nil
}

func (r *fakeRepo) Properties() []crud.Property {
	return []crud.Property{{Name: "name", Label: "Name", Type: "string"}}
}

type auditEntry struct {
	action crud.Action
	typ    string
	id     int
}

type auditorMock struct{ entries []auditEntry }

func (a *auditorMock) Audit(_ context.Context, action crud.Action, objectType string, objectID int) {
	a.entries = append(a.entries, auditEntry{action, objectType, objectID})
}

func newService(t *testing.T, opts ...crud.Option[widget, *widget]) (*crud.Service[widget, *widget], *fakeRepo, *auditorMock) {
	t.Helper()
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	repo, auditor := newFakeRepo(), new(auditorMock)
	settings := crud.Settings{Validate: validate, Auditor: auditor, DefaultPageSize: 2, MaxPageSize: 3}
	return crud.NewService[widget](repo, settings, opts...), repo, auditor
}

func fieldErrors(t *testing.T, err error) []core.FieldError {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want a validation error, got %v", err)
	return verr.Fields
}

func TestService_AddOrUpdate(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor := newService(t)
	assert.Equal(t, "widget", svc.Name())

	w := &widget{Name: "  knob  "}
	require.NoError(t, svc.AddOrUpdate(ctx, w))
	assert.Equal(t, 1, w.ID)
	assert.Equal(t, "knob", w.Name, "cleaned")
	assert.Equal(t, 5, w.Status, "first allowed status")

	created := repo.rows[w.ID].CreatedAt
	require.NoError(t, repo.SetDeleted(ctx, w.ID, true))

	upd := &widget{Name: "dial", Model: core.Model{ID: w.ID, Status: 6}}
	require.NoError(t, svc.AddOrUpdate(ctx, upd))
	saved := repo.rows[w.ID]
	assert.Equal(t, "dial", saved.Name)
	assert.Equal(t, 6, saved.Status)
	assert.Equal(t, created, saved.CreatedAt, "created_at is kept")
	assert.True(t, saved.IsDeleted, "is_deleted only changes through Delete")

	assert.Equal(t, []auditEntry{{crud.ActionCreate, "widget", 1}, {crud.ActionUpdate, "widget", 1}}, auditor.entries)

	t.Run("unknown id", func(t *testing.T) {
		err := svc.AddOrUpdate(ctx, &widget{Name: "x", Model: core.Model{ID: 42}})
		assert.True(t, core.IsNotFound(err))
	})
	t.Run("validation", func(t *testing.T) {
		err := svc.AddOrUpdate(ctx, &widget{Name: "   "})
		var verrs validator.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Equal(t, "name", verrs[0].Field())
	})
	t.Run("invalid status", func(t *testing.T) {
		err := svc.AddOrUpdate(ctx, &widget{Name: "x", Model: core.Model{Status: 7}})
		assert.Equal(t, []core.FieldError{{Field: "status", Error: core.MsgInvalidStatus}}, fieldErrors(t, err))
	})
	t.Run("missing reference", func(t *testing.T) {
		err := svc.AddOrUpdate(ctx, &widget{Name: "x", OwnerID: 2})
		assert.Equal(t, []core.FieldError{{Field: "owner_id", Error: core.MsgRelatedNotFound}}, fieldErrors(t, err))
		require.NoError(t, svc.AddOrUpdate(ctx, &widget{Name: "x", OwnerID: 1}))
	})
}

func TestService_saveHooks(t *testing.T) {
	ctx := context.Background()
	var calls []bool // existing != nil
	svc, repo, _ := newService(t, crud.WithBeforeSave[widget](func(_ context.Context, obj, existing *widget) error {
		calls = append(calls, existing != nil)
		if obj.Name == "forbidden" {
			return core.ErrPermissionDenied
		}
		if existing != nil {
			obj.OwnerID = existing.OwnerID
		}
		return nil
	}))

	w := &widget{Name: "knob", OwnerID: 1}
	require.NoError(t, svc.AddOrUpdate(ctx, w))
	require.NoError(t, svc.AddOrUpdate(ctx, &widget{Name: "knob", Model: core.Model{ID: w.ID}}))
	assert.Equal(t, []bool{false, true}, calls)
	assert.Equal(t, 1, repo.rows[w.ID].OwnerID, "hook sees the stored record")

	err := svc.AddOrUpdate(ctx, &widget{Name: "forbidden"})
	assert.Equal(t, core.ErrPermissionDenied, err)
	assert.Len(t, repo.rows, 1)
}

func TestService_afterSaveHooks(t *testing.T) {
	ctx := context.Background()
	type call struct{ id, prevOwner int }
	var calls []call
	svc, _, _ := newService(t, crud.WithAfterSave[widget](func(_ context.Context, obj, existing *widget) error {
		c := call{id: obj.ID}
		if existing != nil {
			c.prevOwner = existing.OwnerID
		}
		calls = append(calls, c)
		return nil
	}))

	w := &widget{Name: "knob", OwnerID: 1}
	require.NoError(t, svc.AddOrUpdate(ctx, w))
	require.NoError(t, svc.AddOrUpdate(ctx, &widget{Name: "knob", Model: core.Model{ID: w.ID}}))
	assert.Equal(t, []call{{id: w.ID}, {id: w.ID, prevOwner: 1}}, calls, "created ids are known")

	require.Error(t, svc.AddOrUpdate(ctx, &widget{Name: "too long a name"}))
	assert.Len(t, calls, 2, "not run on failed saves")
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	var vetoed, after []crud.DeleteType
	svc, repo, auditor := newService(t,
		crud.WithBeforeDelete[widget](func(_ context.Context, obj *widget, typ crud.DeleteType) error {
			if obj.Name == "keep" {
				vetoed = append(vetoed, typ)
				return core.ErrPermissionDenied
			}
			return nil
		}),
		crud.WithAfterDelete[widget](func(_ context.Context, _ *widget, typ crud.DeleteType) error {
			after = append(after, typ)
			return nil
		}),
	)
	add := func(name string) int {
		w := &widget{Name: name}
		require.NoError(t, svc.AddOrUpdate(ctx, w))
		return w.ID
	}

	id := add("knob")
	for _, typ := range []crud.DeleteType{0, 5, -1} {
		assert.Equal(t, core.ErrInvalidDeleteType, svc.Delete(ctx, id, typ), "type %d", typ)
	}
	assert.True(t, core.IsNotFound(svc.Delete(ctx, 42, crud.SoftDelete)))

	keep := add("keep")
	assert.Equal(t, core.ErrPermissionDenied, svc.Delete(ctx, keep, crud.HardDelete))
	assert.Equal(t, []crud.DeleteType{crud.HardDelete}, vetoed)
	assert.Contains(t, repo.rows, keep)

	tests := []struct {
		typ          crud.DeleteType
		wantChildren []crud.Child
		wantRow      bool
		wantAction   crud.Action
	}{
		{typ: crud.SoftDelete, wantRow: true, wantAction: crud.ActionSoftDelete},
		{typ: crud.SoftDeleteCascade, wantChildren: (*widget).Children(nil), wantRow: true, wantAction: crud.ActionSoftDelete},
		{typ: crud.HardDelete, wantAction: crud.ActionHardDelete},
		{typ: crud.HardDeleteCascade, wantChildren: (*widget).Children(nil), wantAction: crud.ActionHardDelete},
	}
	for _, tt := range tests {
		id := add("knob")
		repo.children = nil
		require.NoError(t, svc.Delete(ctx, id, tt.typ))
		assert.Equal(t, tt.wantChildren, repo.children, "type %d", tt.typ)
		row, ok := repo.rows[id]
		assert.Equal(t, tt.wantRow, ok, "type %d", tt.typ)
		if ok {
			assert.True(t, row.IsDeleted)
		}
		assert.Equal(t, auditEntry{tt.wantAction, "widget", id}, auditor.entries[len(auditor.entries)-1])
	}
	assert.Equal(t, []crud.DeleteType{crud.SoftDelete, crud.SoftDeleteCascade, crud.HardDelete, crud.HardDeleteCascade}, after)
}

func TestService_Undelete(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor := newService(t)
	w := &widget{Name: "knob"}
	require.NoError(t, svc.AddOrUpdate(ctx, w))
	require.NoError(t, svc.Delete(ctx, w.ID, crud.SoftDelete))
	require.NoError(t, svc.Undelete(ctx, w.ID))
	assert.False(t, repo.rows[w.ID].IsDeleted)
	assert.Equal(t, crud.ActionUndelete, auditor.entries[len(auditor.entries)-1].action)

	assert.True(t, core.IsNotFound(svc.Undelete(ctx, 42)))
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, svc.AddOrUpdate(ctx, &widget{Name: name}))
	}
	require.NoError(t, svc.Delete(ctx, 5, crud.SoftDelete))

	page, err := svc.List(ctx, crud.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize, "default page size")
	assert.EqualValues(t, 4, page.Total, "deleted records are hidden by default")
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, svc.Properties(), page.Properties)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "a", page.Data[0].Name)

	page, err = svc.List(ctx, crud.ListQuery{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageSize, "capped")
	assert.Len(t, page.Data, 1)

	deleted := true
	page, err = svc.List(ctx, crud.ListQuery{IsDeleted: &deleted})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "e", page.Data[0].Name)

	page, err = svc.List(ctx, crud.ListQuery{Page: 9})
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	w := &widget{Name: "knob"}
	require.NoError(t, svc.AddOrUpdate(ctx, w))

	detail, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "knob", detail.Data.Name)
	assert.Equal(t, svc.Properties(), detail.Properties)

	_, err = svc.Get(ctx, 42)
	assert.True(t, core.IsNotFound(err))
}

func TestListQuery_Normalize(t *testing.T) {
	q := crud.ListQuery{Sort: "-title, id"}
	q.Normalize(20, 100)
	assert.Equal(t, []core.DBOrdering{{Field: "title"}, {Field: "id", Ascending: true}}, q.Orderings)
	assert.False(t, *q.IsDeleted)
	assert.Equal(t, 0, q.Offset())

	q = crud.ListQuery{Page: 3, PageSize: 10}
	q.Normalize(20, 100)
	assert.Equal(t, []core.DBOrdering{{Field: "id", Ascending: true}}, q.Orderings)
	assert.Equal(t, 20, q.Offset())
}
