package api

import (
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bazaarhq/conversation-service/internal/auth"
	"github.com/bazaarhq/conversation-service/internal/config"
	"github.com/bazaarhq/conversation-service/internal/handlers"
	"github.com/bazaarhq/conversation-service/internal/metrics"
	"github.com/bazaarhq/conversation-service/internal/middleware"
)

// NewServer assembles the Fiber app: health and metrics open, the v1 API
// behind JWT auth, the append path additionally behind the per-user rate
// limiter, and the websocket endpoint for live viewers.
func NewServer(cfg *config.Config, ch *handlers.ConversationHandler, wh *handlers.WSHandler, v *auth.Validator, rdb *redis.Client) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "conversation-service",
		DisableStartupMessage: cfg.App.Env == "production",
	})
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/v1", auth.Middleware(v))

	v1.Post("/conversations", ch.Create)
	v1.Get("/conversations", ch.List)
	v1.Get("/conversations/:id/participants", ch.Participants)
	v1.Get("/conversations/:id/messages", ch.Messages)
	v1.Post("/conversations/:id/read", ch.MarkRead)

	appendRoute := v1.Group("")
	if rdb != nil {
		rl := middleware.NewRateLimiter(rdb, "rl:append", cfg.App.RatePerMinute, time.Minute)
		appendRoute.Use(rl.ByKey(func(c *fiber.Ctx) string {
			if u, err := auth.CurrentUser(c); err == nil {
				return u.ID
			}
			return c.IP()
		}))
	}
	appendRoute.Post("/conversations/:id/messages", ch.Append)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wh.Serve(v)))

	return app
}
