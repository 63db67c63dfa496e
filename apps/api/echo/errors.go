package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// errorBody maps err to the status and JSON body answered to the client.
// ok is false for errors the API does not know, which are answered as 500s.
func errorBody(err error, translator ut.Translator) (code int, body interface{}, ok bool) {
	switch cause := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if cause == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, cause.Message, true
		}
		if inner, isHTTP := cause.Internal.(*echo.HTTPError); isHTTP {
			cause = inner
		}
		return cause.Code, cause.Message, true
	case validator.ValidationErrors:
		return http.StatusBadRequest, core.TranslateErrors(cause, translator), true
	case *core.ValidationError:
		if len(cause.Fields) == 0 {
			return http.StatusBadRequest, cause.Error(), true
		}
		fields := make(map[string]string, len(cause.Fields))
		for _, f := range cause.Fields {
			fields[f.Field] = f.Error
		}
		return http.StatusBadRequest, fields, true
	case *core.StateError:
		return cause.Code, cause.Message, true
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), false
}

// newAppHTTPErrorHandler answers errors returned by handlers as JSON and reports unknown ones.
// signalShutdown is called whenever a core shutdown error comes through.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, body, ok := errorBody(err, translator)
		if !ok {
			var ident core.Identity
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				ident = claims.Identity()
			}
			msg := ctx.Request().Method + " " + ctx.Path()
			logger.Error(msg, errors.Wrap(err, msg), ident)
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			body = err.Error()
		}
		if m, isStr := body.(string); isStr {
			body = echo.Map{"error": m}
		}
		if ctx.Response().Committed {
			return
		}

		if ctx.Request().Method == http.MethodHead {
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, body)
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}
