package crud

import (
	"math"

	"github.com/trezcool/backoffice/core"
)

// Condition is a {column, value} pair of a list query.
type Condition struct {
	Column string      `json:"column"`
	Value  interface{} `json:"value"`
}

// ListQuery is the input of every List operation.
// Filters are exact matches, Searches are case-insensitive substring matches; all are AND-ed.
type ListQuery struct {
	Sort      string      `json:"sort"`
	Page      int         `json:"page"`
	PageSize  int         `json:"pageSize"`
	IsDeleted *bool       `json:"is_deleted"`
	Filters   []Condition `json:"filters"`
	Searches  []Condition `json:"searches"`

	Orderings []core.DBOrdering `json:"-"`
}

// Normalize fills defaults: first page, default page size capped to maxSize,
// non-deleted records and ascending ids.
func (q *ListQuery) Normalize(defaultSize, maxSize int) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultSize
	}
	if maxSize > 0 && q.PageSize > maxSize {
		q.PageSize = maxSize
	}
	if q.IsDeleted == nil {
		deleted := false
		q.IsDeleted = &deleted
	}
	if len(q.Orderings) == 0 {
		q.Orderings = core.ParseOrdering(q.Sort)
	}
	if len(q.Orderings) == 0 {
		q.Orderings = []core.DBOrdering{{Field: "id", Ascending: true}}
	}
}

// Offset of the first record of the page.
func (q ListQuery) Offset() int { return (q.Page - 1) * q.PageSize }

// Filter adds an exact match condition.
func (q *ListQuery) Filter(column string, value interface{}) {
	q.Filters = append(q.Filters, Condition{Column: column, Value: value})
}

type Page[T any] struct {
	Data       []T        `json:"data"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	Total      int64      `json:"total"`
	TotalPages int        `json:"total_pages"`
	Properties []Property `json:"properties"`
}

func NewPage[T any](data []T, total int64, q ListQuery, props []Property) Page[T] {
	if data == nil {
		data = []T{}
	}
	var pages int
	if q.PageSize > 0 {
		pages = int(math.Ceil(float64(total) / float64(q.PageSize)))
	}
	return Page[T]{
		Data:       data,
		Page:       q.Page,
		PageSize:   q.PageSize,
		Total:      total,
		TotalPages: pages,
		Properties: props,
	}
}

// Detail is the output of Get.
type Detail[T any] struct {
	Data       T          `json:"data"`
	Properties []Property `json:"properties"`
}
