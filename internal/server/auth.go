package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"promptrelay/internal/core"
)

// AuthMiddleware creates an Echo middleware that validates the master key.
// If masterKey is empty, no authentication is required.
func AuthMiddleware(masterKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return writeError(c, core.NewAuthenticationError("missing authorization header"))
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return writeError(c, core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'"))
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return writeError(c, core.NewAuthenticationError("invalid master key"))
			}

			return next(c)
		}
	}
}
