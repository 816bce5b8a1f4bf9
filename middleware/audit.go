package middleware

import (
	"consenthub/services"

	"github.com/labstack/echo/v4"
)

const ContextKeyActor = "actor"

// AuditContext is middleware that captures who is calling for audit logging
func AuditContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := services.Actor{
				IPAddress: c.RealIP(),
				UserAgent: c.Request().UserAgent(),
			}

			if user := GetCurrentUser(c); user != nil {
				actor.ID = user.ID
				actor.Name = user.Name
				actor.Email = user.Email
				actor.Role = user.Role
			}

			c.Set(ContextKeyActor, actor)
			return next(c)
		}
	}
}

// GetActor retrieves the audit actor from the request
func GetActor(c echo.Context) services.Actor {
	if actor, ok := c.Get(ContextKeyActor).(services.Actor); ok {
		return actor
	}
	return services.Actor{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()}
}
