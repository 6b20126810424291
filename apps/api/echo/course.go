package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core/payment"
)

// signatureHeader carries the signature of the payment gateway webhooks.
const signatureHeader = "Stripe-Signature"

func (s *server) registerCourseAPI(g module) {
	svc := s.opts.CourseSvc
	registerCRUD(g, s.schema, "Course", svc.Courses(), noMiddleware, staffMiddleware)
	registerCRUD(g, s.schema, "CourseChapter", svc.Chapters(), noMiddleware, staffMiddleware)
	registerCRUD(g, s.schema, "Lesson", svc.Lessons(), noMiddleware, staffMiddleware)
	registerCRUD(g, s.schema, "Enrollment", svc.Enrollments(), staffMiddleware, adminMiddleware())

	g.POST("/MyCourses", s.myCourses)
	g.POST("/EnrollFree", s.enrollFree)
}

func (s *server) myCourses(ctx echo.Context) error {
	mine, err := s.opts.CourseSvc.MyCourses(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, mine)
}

func (s *server) enrollFree(ctx echo.Context) error {
	var data CourseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CourseRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	enr, err := s.opts.CourseSvc.EnrollFree(ctx.Request().Context(), data.CourseID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (s *server) registerPaymentAPI(g module, authed []echo.MiddlewareFunc) {
	// called by the gateway: authenticated by its signature
	g.POST("/webhook", s.paymentWebhook)

	ag := g.with(authed...)
	ag.POST("/PaymentStart", s.paymentStart)
	admin := adminMiddleware()
	registerCRUD(ag, s.schema, "Payment", s.opts.PaymentSvc.Records(), admin, admin)
}

func (s *server) paymentStart(ctx echo.Context) error {
	var data payment.StartRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	pmt, err := s.opts.PaymentSvc.Start(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, pmt)
}

func (s *server) paymentWebhook(ctx echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, 1<<16))
	if err != nil {
		return errors.Wrap(err, "reading webhook payload")
	}
	if err := s.opts.PaymentSvc.HandleWebhook(ctx.Request().Context(), payload, ctx.Request().Header.Get(signatureHeader)); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusOK)
}

type CourseRequest struct {
	CourseID int `json:"course_id" validate:"required,min=1"`
}
