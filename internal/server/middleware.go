package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const secretHeader = "X-Ingest-Secret"

// RequireSecret rejects requests that do not carry the shared secret in
// X-Ingest-Secret or as a bearer token. The comparison is constant-time.
// An empty configured secret rejects everything.
func RequireSecret(secret string) echo.MiddlewareFunc {
	expected := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			provided := providedSecret(c.Request())
			if provided == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing ingest secret")
			}
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid ingest secret")
			}
			return next(c)
		}
	}
}

func providedSecret(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(secretHeader)); v != "" {
		return v
	}
	auth := r.Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
