package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/auth"
)

const identityKey = "identity"

// requireAuth accepts "Authorization: Bearer <token>" or a token query
// parameter and stores the resolved identity on the context.
func requireAuth(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var token string
			if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
					return apperr.ErrInvalidCredentials
				}
				token = parts[1]
			} else {
				token = strings.TrimPrefix(c.QueryParam("token"), "Bearer ")
			}
			if token == "" {
				return apperr.ErrInvalidCredentials
			}

			id, err := a.Authenticate(c.Request().Context(), token)
			if err != nil {
				return err
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

func requireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !lo.Contains(roles, identity(c).Role) {
				return apperr.ErrForbiddenRole
			}
			return next(c)
		}
	}
}

func identity(c echo.Context) auth.Identity {
	id, _ := c.Get(identityKey).(auth.Identity)
	return id
}
