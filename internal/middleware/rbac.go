package middleware

import (
	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/gofiber/fiber/v2"
)

func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := ActorFrom(c)
		if err != nil {
			return httpx.Unauthorized(c, "missing_actor", "Not authenticated")
		}
		for _, r := range roles {
			if actor.Role == r {
				return c.Next()
			}
		}
		return httpx.Forbidden(c, "forbidden", "Insufficient permissions")
	}
}

// RequireStaff admits staff and admins.
func RequireStaff() fiber.Handler {
	return RequireRole(models.RoleStaff, models.RoleAdmin)
}
