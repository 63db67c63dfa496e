package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

var (
	studentMiddleware = requireRole(RoleStudent)
	staffMiddleware   = requireRole(RoleStaff)
)

// requireRole lets the request through when the token carries any of roles.
// It must run after the jwt middleware.
func requireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}
