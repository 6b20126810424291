package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core/communicating"
)

func (s *server) registerCommunicatingAPI(g module, authed []echo.MiddlewareFunc) {
	// public endpoints of the website
	g.POST("/ContactSubmit", s.contactSubmit)
	g.POST("/NewsletterSubscribe", s.newsletterSubscribe)
	g.POST("/NewsletterUnsubscribe", s.newsletterUnsubscribe)

	ag := g.with(authed...)
	ag.POST("/MyNotifications", s.myNotifications)
	ag.POST("/NotificationMarkRead", s.notificationMarkRead)

	svc, admin := s.opts.CommunicatingSvc, adminMiddleware()
	registerCRUD(ag, s.schema, "ContactMessage", svc.Contacts(), admin, admin)
	registerCRUD(ag, s.schema, "NewsletterSubscriber", svc.Subscribers(), admin, admin)
	registerCRUD(ag, s.schema, "Notification", svc.Notifications(), admin, admin)
}

func (s *server) contactSubmit(ctx echo.Context) error {
	var data communicating.ContactMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ContactMessage")
	}
	msg, err := s.opts.CommunicatingSvc.SubmitContact(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (s *server) newsletterSubscribe(ctx echo.Context) error {
	var data SubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubscribeRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	sub, err := s.opts.CommunicatingSvc.Subscribe(ctx.Request().Context(), data.Email, data.Name)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (s *server) newsletterUnsubscribe(ctx echo.Context) error {
	var data SubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubscribeRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	if err := s.opts.CommunicatingSvc.Unsubscribe(ctx.Request().Context(), data.Email); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *server) myNotifications(ctx echo.Context) error {
	q, err := bindListQuery(ctx)
	if err != nil {
		return err
	}
	page, err := s.opts.CommunicatingSvc.MyNotifications(ctx.Request().Context(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, page)
}

func (s *server) notificationMarkRead(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	if err := s.opts.CommunicatingSvc.MarkRead(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

type SubscribeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=150"`
}
