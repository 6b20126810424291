package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

var orderingParam = "ordering"

type (
	IDRequest struct {
		ID int `json:"id" validate:"required,min=1"`
	}

	DeleteRequest struct {
		ID   int             `json:"id" validate:"required,min=1"`
		Type crud.DeleteType `json:"type"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads the `ordering` query param, e.g. ?ordering=-created_at,id
func (ord *Ordering) Bind(ctx echo.Context) {
	if val := ctx.QueryParam(orderingParam); val != "" {
		ord.Orderings = core.ParseOrdering(val)
	}
}

// bindListQuery reads a crud.ListQuery from the body; the `ordering` query param applies when no sort is given.
func bindListQuery(ctx echo.Context) (crud.ListQuery, error) {
	var q crud.ListQuery
	if err := ctx.Bind(&q); err != nil {
		return q, errors.Wrap(err, "binding to ListQuery")
	}
	if q.Sort == "" {
		ordering := new(Ordering)
		ordering.Bind(ctx)
		q.Orderings = ordering.Orderings
	}
	return q, nil
}

func bindID(ctx echo.Context) (int, error) {
	var data IDRequest
	if err := ctx.Bind(&data); err != nil {
		return 0, errors.Wrap(err, "binding to IDRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return 0, err
	}
	return data.ID, nil
}
