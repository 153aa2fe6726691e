package session

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const identityKey = "identity"

// Restorer revalidates a remember-me token against the account store.
type Restorer interface {
	Restore(c echo.Context, token string) (*Identity, error)
}

// RestorerFunc adapts a function to the Restorer interface.
type RestorerFunc func(c echo.Context, token string) (*Identity, error)

func (f RestorerFunc) Restore(c echo.Context, token string) (*Identity, error) {
	return f(c, token)
}

// LoadIdentity resolves the caller's identity from the session cookie, or
// failing that from the remember-me cookie, and stashes it in the echo
// context. Requests without either proceed anonymously.
func LoadIdentity(m *Manager, restorer Restorer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			identity, err := m.Load(ctx, c.Request())
			if err == nil {
				c.Set(identityKey, identity)
				return next(c)
			}
			if !errors.Is(err, ErrNoSession) {
				return echo.NewHTTPError(http.StatusInternalServerError, "session store unavailable")
			}

			if restorer != nil {
				if cookie, err := c.Request().Cookie(RememberCookie); err == nil && cookie.Value != "" {
					restored, err := restorer.Restore(c, cookie.Value)
					if err == nil && restored != nil {
						if err := m.Open(ctx, c.Response(), *restored); err == nil {
							c.Set(identityKey, restored)
						}
					}
				}
			}

			return next(c)
		}
	}
}

// FromContext returns the identity stashed by LoadIdentity, if any.
func FromContext(c echo.Context) *Identity {
	identity, _ := c.Get(identityKey).(*Identity)
	return identity
}

// RequireUser rejects anonymous requests.
func RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if FromContext(c) == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "login required")
		}
		return next(c)
	}
}

// RequireAdmin rejects requests from non-admin accounts.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := FromContext(c)
		if identity == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "login required")
		}
		if !identity.IsAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin only")
		}
		return next(c)
	}
}
