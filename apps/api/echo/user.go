package echoapi

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/activity"
	"github.com/trezcool/backoffice/core/crud"
	"github.com/trezcool/backoffice/core/user"
)

const (
	msgPasswordResetSent = "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."
	msgPasswordResetDone = "Password has been reset with the new password."
	msgCodeSent          = "A verification code has been sent to your phone."
)

var userMessages = map[string]core.Texts{
	msgPasswordResetSent: {"fa": "اگر این ایمیل متعلق به یک حساب فعال باشد، به زودی ایمیلی حاوی دستورالعمل بازنشانی رمز عبور دریافت خواهید کرد."},
	msgPasswordResetDone: {"fa": "رمز عبور با موفقیت تغییر کرد."},
	msgCodeSent:          {"fa": "کد تایید به تلفن شما ارسال شد."},
}

func (s *server) registerUserAPI(ug module, authed []echo.MiddlewareFunc) {
	if s.opts.Translator != nil {
		core.RegisterMessages(s.opts.Translator, userMessages)
	}

	// un-authed endpoints
	ug.POST("/login", s.login)
	ug.POST("/password-reset", s.resetPassword)
	ug.POST("/password-reset-confirm", s.confirmPasswordReset)
	ug.GET("/Captcha", s.newCaptcha)
	ug.GET("/Captcha/:id/image", s.captchaImage)
	ug.POST("/SendOTP", s.sendOTP)
	ug.POST("/VerifyOTP", s.verifyOTP)

	// authed endpoints
	ag := ug.with(authed...)
	ag.POST("/token-refresh", s.refresh)
	ag.GET("/me", s.me)
	ag.GET("/roles", s.queryRoles, adminMiddleware())
	registerCRUD(ag, s.schema, "User", s.opts.UserSvc.Records(), adminMiddleware(), adminMiddleware())
}

// Handlers

func (s *server) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	data.Username = core.CleanString(data.Username, true /* lower */)
	if err := ctx.Validate(&data); err != nil {
		return err
	}

	usr, err := s.opts.UserSvc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return err
	}
	return s.loggedIn(ctx, usr, activity.ActionLogin)
}

// loggedIn records the login of usr and responds with their token.
func (s *server) loggedIn(ctx echo.Context, usr user.User, action crud.Action) error {
	token, err := s.tokens.Issue(usr)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	actor := usr.Actor()
	actor.IP = ctx.RealIP()
	s.opts.ActivitySvc.Log(core.WithActor(ctx.Request().Context(), actor), action, s.opts.UserSvc.Records().Name(), usr.ID, string(action))
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, User: &usr})
}

func (s *server) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	data.Email = core.CleanString(data.Email, true /* lower */)
	if err := ctx.Validate(&data); err != nil {
		return err
	}

	if err := s.opts.UserSvc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || core.IsNotFound(err)) {
		// do not return errors to attackers
		s.opts.Logger.Error("requesting password reset", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: s.translate(ctx, msgPasswordResetSent)})
}

func (s *server) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}

	if err := s.opts.UserSvc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: s.translate(ctx, msgPasswordResetDone)})
}

func (s *server) refresh(ctx echo.Context) error {
	token, err := s.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	claims, _ := getContextClaims(ctx)
	s.opts.ActivitySvc.Log(ctx.Request().Context(), activity.ActionRefresh, s.opts.UserSvc.Records().Name(), claims.UserID(), string(activity.ActionRefresh))
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (s *server) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, s.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *server) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (s *server) newCaptcha(ctx echo.Context) error {
	id := s.opts.OTPSvc.NewCaptcha()
	return ctx.JSON(http.StatusOK, CaptchaResponse{
		CaptchaID: id,
		ImageURL:  ctx.Request().URL.Path + "/" + id + "/image",
	})
}

func (s *server) captchaImage(ctx echo.Context) error {
	var img bytes.Buffer
	if err := s.opts.OTPSvc.WriteCaptcha(&img, ctx.Param("id")); err != nil {
		return errHttpNotFound
	}
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Blob(http.StatusOK, "image/png", img.Bytes())
}

func (s *server) sendOTP(ctx echo.Context) error {
	var data SendOTPRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendOTPRequest")
	}
	data.Phone = core.CleanString(data.Phone)
	if err := ctx.Validate(&data); err != nil {
		return err
	}

	if err := s.opts.OTPSvc.SendCode(ctx.Request().Context(), data.Phone, data.CaptchaID, data.Captcha); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: s.translate(ctx, msgCodeSent)})
}

func (s *server) verifyOTP(ctx echo.Context) error {
	var data VerifyOTPRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyOTPRequest")
	}
	data.Phone = core.CleanString(data.Phone)
	if err := ctx.Validate(&data); err != nil {
		return err
	}

	usr, err := s.opts.OTPSvc.VerifyCode(ctx.Request().Context(), data.Phone, data.Code)
	if err != nil {
		return err
	}
	return s.loggedIn(ctx, usr, activity.ActionLoginOTP)
}

func (s *server) translate(ctx echo.Context, msg string) string {
	return core.Translate(requestTranslator(ctx, s.opts.Translator), msg)
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string     `json:"token"`
		User  *user.User `json:"user,omitempty"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	CaptchaResponse struct {
		CaptchaID string `json:"captcha_id"`
		ImageURL  string `json:"image_url"`
	}

	SendOTPRequest struct {
		Phone     string `json:"phone" validate:"required,phone"`
		CaptchaID string `json:"captcha_id" validate:"required"`
		Captcha   string `json:"captcha" validate:"required"`
	}

	VerifyOTPRequest struct {
		Phone string `json:"phone" validate:"required,phone"`
		Code  string `json:"code" validate:"required,numeric"`
	}
)
