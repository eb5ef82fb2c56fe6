package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs one line per request. Probes under skipPrefix are
// logged at debug level only.
func RequestLogger(logger *slog.Logger, skipPrefix string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Path()
		level := slog.LevelInfo
		if skipPrefix != "" && strings.HasPrefix(path, skipPrefix) {
			level = slog.LevelDebug
		}

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"took", time.Since(start),
		)
		return err
	}
}
