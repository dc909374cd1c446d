package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/starmint/starmint/starmint/metrics"
)

// LoggingMiddleware logs each request at a level chosen by its status and
// records its latency by route pattern.
func LoggingMiddleware(m *metrics.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		statusCode := c.Response().StatusCode()
		m.ObserveRequest(c.Method(), c.Route().Path, strconv.Itoa(statusCode), duration)

		level := slog.LevelInfo
		if statusCode >= 400 && statusCode < 500 {
			level = slog.LevelWarn
		} else if statusCode >= 500 {
			level = slog.LevelError
		}

		attrs := []any{
			slog.String("type", "http"),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", statusCode),
			slog.Duration("duration", duration),
			slog.String("ip", c.IP()),
		}
		if bidder := c.Get(BidderHeader); bidder != "" {
			attrs = append(attrs, slog.String("bidder_id", bidder))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		slog.Log(c.UserContext(), level, "HTTP request processed", attrs...)
		return nil
	}
}
