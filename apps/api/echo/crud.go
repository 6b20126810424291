package echoapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core/crud"
)

// crudAPI serves the AddOrUpdate / List / Get / Delete / UnDelete cluster of one entity.
type crudAPI[T any, PT crud.RecordPtr[T]] struct {
	entity string
	svc    *crud.Service[T, PT]
}

// module is the route group of an app module, e.g. /api/v1/cms.
type module struct {
	*echo.Group
	name string
	path string
}

func newModule(parent *echo.Group, parentPath, name string, m ...echo.MiddlewareFunc) module {
	return module{
		Group: parent.Group("/"+name, m...),
		name:  name,
		path:  parentPath + "/" + name,
	}
}

// with returns the module guarded by m.
func (g module) with(m ...echo.MiddlewareFunc) module {
	return module{Group: g.Group.Group("", m...), name: g.name, path: g.path}
}

// registerCRUD mounts the cluster of entity under g: reads go through read, writes through write.
func registerCRUD[T any, PT crud.RecordPtr[T]](
	g module,
	reg *schemaRegistry,
	entity string,
	svc *crud.Service[T, PT],
	read, write echo.MiddlewareFunc,
) {
	api := crudAPI[T, PT]{entity: entity, svc: svc}

	g.POST("/"+entity+"AddOrUpdate", api.addOrUpdate, write)
	g.POST("/"+entity+"List", api.list, read)
	g.POST("/"+entity+"Get", api.get, read)
	g.POST("/"+entity+"Delete", api.delete, write)
	g.POST("/"+entity+"UnDelete", api.undelete, write)

	reg.add(entitySchema{
		Module:     g.name,
		Entity:     entity,
		Path:       g.path + "/" + entity,
		Properties: svc.Properties(),
	})
}

func (api crudAPI[T, PT]) addOrUpdate(ctx echo.Context) error {
	obj := PT(new(T))
	if err := ctx.Bind(obj); err != nil {
		return errors.Wrapf(err, "binding to %s", api.entity)
	}
	if err := api.svc.AddOrUpdate(ctx.Request().Context(), obj); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, obj)
}

func (api crudAPI[T, PT]) list(ctx echo.Context) error {
	q, err := bindListQuery(ctx)
	if err != nil {
		return err
	}
	page, err := api.svc.List(ctx.Request().Context(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api crudAPI[T, PT]) get(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	detail, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api crudAPI[T, PT]) delete(ctx echo.Context) error {
	var data DeleteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DeleteRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), data.ID, data.Type); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api crudAPI[T, PT]) undelete(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Undelete(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

type entitySchema struct {
	Module     string          `json:"module"`
	Entity     string          `json:"entity"`
	Path       string          `json:"path"` // + AddOrUpdate | List | Get | Delete | UnDelete
	Properties []crud.Property `json:"properties"`
}

// schemaRegistry describes the registered entities to the clients; it is filled at setup only.
type schemaRegistry struct {
	entities []entitySchema
}

func (reg *schemaRegistry) add(es entitySchema) {
	reg.entities = append(reg.entities, es)
}

func (reg *schemaRegistry) list(ctx echo.Context) error {
	entities := make([]entitySchema, len(reg.entities))
	copy(entities, reg.entities)
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Module != entities[j].Module {
			return entities[i].Module < entities[j].Module
		}
		return entities[i].Entity < entities[j].Entity
	})
	if module := ctx.QueryParam("module"); module != "" {
		filtered := entities[:0]
		for _, es := range entities {
			if es.Module == module {
				filtered = append(filtered, es)
			}
		}
		entities = filtered
	}
	return ctx.JSON(http.StatusOK, entities)
}
