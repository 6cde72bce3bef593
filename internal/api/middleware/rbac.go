package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RBAC admits a request only when the role claim Auth placed in the context
// is one of allowedRoles. It must run after Auth; a missing or non-string
// claim is treated as no role.
func RBAC(allowedRoles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(CtxRole).(string)
			if _, ok := allowed[role]; !ok {
				return echo.NewHTTPError(http.StatusForbidden, "operator role not allowed on the admin API")
			}
			return next(c)
		}
	}
}
