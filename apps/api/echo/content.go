package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *server) registerActivityAPI(g module) {
	admin := adminMiddleware()
	registerCRUD(g, s.schema, "ActivityLog", s.opts.ActivitySvc.Records(), admin, admin)
}

func (s *server) registerCMSAPI(g module) {
	svc, admin := s.opts.CMSSvc, adminMiddleware()
	registerCRUD(g, s.schema, "ContentCategory", svc.Categories(), noMiddleware, admin)
	registerCRUD(g, s.schema, "ContentManager", svc.Managers(), noMiddleware, admin)
	registerCRUD(g, s.schema, "Blog", svc.Blogs(), noMiddleware, admin)
	registerCRUD(g, s.schema, "Post", svc.Posts(), noMiddleware, admin)
	registerCRUD(g, s.schema, "Comment", svc.Comments(), noMiddleware, admin)
	registerCRUD(g, s.schema, "Story", svc.Stories(), noMiddleware, admin)
	registerCRUD(g, s.schema, "Service", svc.Services(), noMiddleware, admin)
	registerCRUD(g, s.schema, "Gallery", svc.Galleries(), noMiddleware, admin)
	registerCRUD(g, s.schema, "GalleryItem", svc.GalleryItems(), noMiddleware, admin)
	registerCRUD(g, s.schema, "WorkSample", svc.WorkSamples(), noMiddleware, admin)
}

func (s *server) registerDashboardAPI(g module) {
	g.GET("/Summary", s.dashboardSummary, adminMiddleware())
}

func (s *server) dashboardSummary(ctx echo.Context) error {
	summary, err := s.opts.DashboardSvc.Summary(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, summary)
}
