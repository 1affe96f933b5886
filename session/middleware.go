package session

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const contextKey = "session"

// Redirect sends requests without a valid session to the landing page.
func Redirect(p *Provider, logger *log.Logger) echo.MiddlewareFunc {
	return require(p, logger, func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/")
	})
}

// Reject answers requests without a valid session with 401.
func Reject(p *Provider, logger *log.Logger) echo.MiddlewareFunc {
	return require(p, logger, func(c echo.Context) error {
		return c.String(http.StatusUnauthorized, "not signed in")
	})
}

func require(p *Provider, logger *log.Logger, deny echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, err := p.Resolve(c.Request())
			if err != nil {
				logger.WithError(err).WithField("path", c.Path()).Debug("session rejected")
			}
			if err != nil || sess == nil {
				return deny(c)
			}
			c.Set(contextKey, sess)
			return next(c)
		}
	}
}

// FromContext returns the session stored by the middleware.
func FromContext(c echo.Context) *domain.Session {
	sess, _ := c.Get(contextKey).(*domain.Session)
	return sess
}
