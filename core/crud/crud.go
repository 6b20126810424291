// Package crud implements the AddOrUpdate / List / Get / Delete / Undelete cycle shared by every record.
package crud

import (
	"context"

	"github.com/trezcool/backoffice/core"
)

// DeleteType selects how Delete removes a record.
type DeleteType int

const (
	SoftDelete        DeleteType = iota + 1 // flag the record as deleted
	SoftDeleteCascade                       // flag the record and its children as deleted
	HardDelete                              // remove the row
	HardDeleteCascade                       // remove the children rows, then the row
)

func (t DeleteType) Valid() bool { return t >= SoftDelete && t <= HardDeleteCascade }

func (t DeleteType) Cascade() bool { return t == SoftDeleteCascade || t == HardDeleteCascade }

func (t DeleteType) Hard() bool { return t == HardDelete || t == HardDeleteCascade }

// Action is what happened to a record, as written to the activity log.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionSoftDelete Action = "soft_delete"
	ActionHardDelete Action = "hard_delete"
	ActionUndelete   Action = "undelete"
)

type (
	// Record is implemented by every model embedding core.Model.
	Record interface {
		Base() *core.Model
	}

	// RecordPtr constrains PT to be a pointer to T implementing Record.
	RecordPtr[T any] interface {
		*T
		Record
	}

	// Reference is a foreign key which must point to an existing row when set.
	Reference struct {
		Field string // json field name, for error reporting
		Table string
		ID    int
	}

	// Referencer is implemented by records holding foreign keys.
	Referencer interface {
		References() []Reference
	}

	// Child is a table whose rows belong to a record through ForeignKey.
	// Deletions cascade to the grandchildren listed in Children.
	// A Recursive child lives in its parent's table: its rows own the same children as the parent, level after level.
	Child struct {
		Table      string
		ForeignKey string
		Children   []Child
		Recursive  bool
	}

	// Parent is implemented by records whose deletion cascades to children.
	Parent interface {
		Children() []Child
	}

	// Cleaner is implemented by records normalizing their input before validation.
	Cleaner interface {
		Clean()
	}

	// StatusValidator is implemented by records restricting their status codes.
	StatusValidator interface {
		Statuses() []int
	}

	// Auditor records write operations; it must not fail the operation.
	Auditor interface {
		Audit(ctx context.Context, action Action, objectType string, objectID int)
	}

	Repository[T any] interface {
		Create(ctx context.Context, obj *T) error
		// Update saves all columns of obj except id, created_at and is_deleted.
		Update(ctx context.Context, obj *T) error
		// FindByID returns core.ErrNotFound when no row matches, deleted rows included.
		FindByID(ctx context.Context, id int) (T, error)
		Exists(ctx context.Context, table string, id int) (bool, error)
		// List returns the page of records matching q along with the total count.
		List(ctx context.Context, q ListQuery) ([]T, int64, error)
		SetDeleted(ctx context.Context, id int, deleted bool, children ...Child) error
		Delete(ctx context.Context, id int, children ...Child) error
		Properties() []Property
	}
)

// Property describes a field of a record for clients rendering forms and tables.
type Property struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	Ref        string `json:"ref,omitempty"` // referenced entity, e.g. "cms/ContentCategory"
	Filterable bool   `json:"filterable"`
	Searchable bool   `json:"searchable"`
	Sortable   bool   `json:"sortable"`
	ReadOnly   bool   `json:"read_only"`
}
