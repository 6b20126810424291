package echoapi

import (
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAccountDeactivated = echo.NewHTTPError(http.StatusForbidden, user.ErrAccountDeactivated.Error())
	errRefreshExpired     = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden      = echo.NewHTTPError(http.StatusForbidden, core.ErrPermissionDenied.Error())
	errHttpNotFound       = echo.NewHTTPError(http.StatusNotFound, "not found")

	httpMessages = map[string]core.Texts{
		"user not authenticated":   {"fa": "کاربر احراز هویت نشده است"},
		"refresh has expired":      {"fa": "مهلت تمدید توکن به پایان رسیده است"},
		"not found":                {"fa": "یافت نشد"},
		"missing or malformed jwt": {"fa": "توکن ارسال نشده یا نامعتبر است"},
		"invalid or expired jwt":   {"fa": "توکن نامعتبر یا منقضی شده است"},
	}
)

// statusOf maps the app errors to their HTTP status; 0 means unknown.
func statusOf(err error) int {
	switch err {
	case core.ErrNotFound, core.ErrInvalidDeleteType, user.ErrInvalidCredentials:
		return http.StatusBadRequest
	case core.ErrPermissionDenied, user.ErrAccountDeactivated:
		return http.StatusForbidden
	case core.ErrTooManyRequests:
		return http.StatusTooManyRequests
	}
	return 0
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// Messages are translated to the locale of the request.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, uni *ut.UniversalTranslator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}
		trans := requestTranslator(ctx, uni)

		cause := errors.Cause(err)
		if c := statusOf(cause); c != 0 {
			code = c
			message = core.Translate(trans, cause.Error())
		} else {
			switch origErr := cause.(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = core.Translate(trans, origErr.Message.(string))
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
				if m, ok := message.(string); ok {
					message = core.Translate(trans, m)
				}
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(origErr))
				for _, vErr := range origErr {
					fldErrs[vErr.Field()] = vErr.Translate(trans)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					fldErrs := make(map[string]string, len(origErr.Fields))
					for _, fErr := range origErr.Fields {
						fldErrs[fErr.Field] = core.Translate(trans, fErr.Error)
					}
					message = fldErrs
				} else {
					message = core.Translate(trans, origErr.Error())
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				if actor, ok := core.ActorFromContext(ctx.Request().Context()); ok {
					logger.Error(msg, errors.Wrap(err, msg), actor)
				} else {
					logger.Error(msg, errors.Wrap(err, msg))
				}

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// requestTranslator picks the translator of the first supported Accept-Language locale; en is the fallback.
func requestTranslator(ctx echo.Context, uni *ut.UniversalTranslator) ut.Translator {
	if uni == nil {
		return nil
	}
	var locales []string
	for _, tag := range strings.Split(ctx.Request().Header.Get("Accept-Language"), ",") {
		tag = strings.TrimSpace(strings.SplitN(tag, ";", 2)[0])
		if tag == "" {
			continue
		}
		locales = append(locales, strings.ToLower(strings.SplitN(tag, "-", 2)[0]))
	}
	trans, _ := uni.FindTranslator(locales...)
	return trans
}
