package handlers

import (
	"errors"
	"strconv"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}

func queryLimit(c *fiber.Ctx) int {
	if v := c.Query("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			return l
		}
	}
	return 0
}
