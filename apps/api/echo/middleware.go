package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/evaluation"
)

var institutionParam = "institution"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// evaluatorMiddleware only lets active evaluators of an institution through
// and scopes the request to their institution.
func evaluatorMiddleware(auth authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !claims.IsEvaluator {
				return errHttpForbidden
			}
			usr, err := auth.activeUser(ctx)
			if err != nil {
				return err
			}
			if !usr.IsEvaluator() {
				return errHttpForbidden
			}
			if usr.Institution == "" {
				return evaluation.ErrNoInstitution
			}
			ctx.Set(contextInstitutionKey, usr.Institution)
			return next(ctx)
		}
	}
}

// institutionMiddleware scopes the request to the user's institution.
// Users without an institution (superadmins) must provide the `institution` query param.
func institutionMiddleware(auth authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := auth.activeUser(ctx)
			if err != nil {
				return err
			}
			inst := usr.Institution
			if inst == "" {
				inst = core.NormalizeInstitution(ctx.QueryParam(institutionParam))
			}
			if inst == "" {
				return core.NewValidationError(nil, core.FieldError{Field: institutionParam, Error: "this field is required"})
			}
			ctx.Set(contextInstitutionKey, inst)
			return next(ctx)
		}
	}
}
