package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/evaluation"
	"github.com/iroils/evalapp/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")

	// status codes of the domain errors
	errStatusCodes = map[error]int{
		user.ErrNotFound:               http.StatusNotFound,
		entry.ErrNotFound:              http.StatusNotFound,
		evaluation.ErrNotFound:         http.StatusNotFound,
		analysis.ErrNoSnapshot:         http.StatusNotFound,
		evaluation.ErrEntryNotAssigned: http.StatusConflict,
		entry.ErrNoInstitution:         http.StatusBadRequest,
		entry.ErrNoEventNumber:         http.StatusBadRequest,
		evaluation.ErrNoInstitution:    http.StatusBadRequest,
		analysis.ErrNoInstitution:      http.StatusBadRequest,
		analysis.ErrCacheDisabled:      http.StatusBadRequest,
	}
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(
	logger core.Logger,
	translator ut.Translator,
	auth authenticator,
	signalShutdown func(),
) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		origErr := errors.Cause(err)
		if httpErr, ok := origErr.(*echo.HTTPError); ok {
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = httpErr.Message
			} else {
				if httpErr.Internal != nil {
					if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
						httpErr = herr
					}
				}
				code = httpErr.Code
				message = httpErr.Message
			}
		} else if fields, ok := core.TranslateErrors(origErr, translator); ok {
			code = http.StatusBadRequest
			if len(fields) > 0 {
				message = fields
			} else {
				message = origErr.Error()
			}
		} else if status, ok := errStatusCodes[origErr]; ok {
			code = status
			message = origErr.Error()
		} else { // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			usr, uErr := auth.contextUser(ctx)
			if uErr != nil {
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr.ID = claims.Subject
					usr.Username = claims.Username
					usr.Email = claims.Email
				}
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
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
