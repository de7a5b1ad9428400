// Package api exposes the REST surface, the health and metrics endpoints and
// mounts the realtime socket.
package api

import (
	"context"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/config"
	"github.com/dreamerumesh/connecTu-backend/internal/media"
	"github.com/dreamerumesh/connecTu-backend/internal/metrics"
	"github.com/dreamerumesh/connecTu-backend/internal/realtime"
	"github.com/dreamerumesh/connecTu-backend/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

type handler struct {
	auth   *service.AuthService
	users  *service.UserService
	chats  *service.ChatService
	media  *media.Service
	logger *zap.Logger
}

// Deps are the collaborators of the HTTP surface. Media and Realtime may be
// nil; their routes then answer 503 or are not mounted.
type Deps struct {
	Config   *config.Config
	Auth     *service.AuthService
	Users    *service.UserService
	Chats    *service.ChatService
	Media    *media.Service
	Realtime *realtime.Server
	Health   func(ctx context.Context) error
	Logger   *zap.Logger
}

// New builds the fiber app with middleware and all routes.
func New(d Deps) *fiber.App {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	cfg := d.Config.App

	app := fiber.New(fiber.Config{
		AppName:      "connectu",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BodyLimit:    d.Config.Media.MaxUploadBytes + 1<<20,
		ErrorHandler: errorHandler(d.Logger),
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(requestLogger(d.Logger))
	app.Use(metrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				d.Logger.Warn("health check failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if d.Realtime != nil {
		app.Get("/ws", d.Realtime.Upgrade(), d.Realtime.Handler())
	}

	h := &handler{auth: d.Auth, users: d.Users, chats: d.Chats, media: d.Media, logger: d.Logger}

	limiter := NewIPRateLimiter(cfg.RateLimitPerMin, d.Logger)
	app.Hooks().OnShutdown(func() error {
		limiter.Stop()
		return nil
	})

	api := app.Group("/api", limiter.Handler())

	otp := api.Group("/otp")
	otp.Post("/send", h.sendOTP)
	otp.Post("/verify", h.verifyOTP)

	protected := authRequired(d.Auth)

	users := api.Group("/users")
	users.Post("/send-otp", h.sendOTP)
	users.Post("/verify-otp", h.verifyOTP)
	users.Get("/me", protected, h.me)
	users.Put("/me", protected, h.updateMe)
	users.Patch("/me/settings", protected, h.updateSettings)
	users.Patch("/me/status", protected, h.updateStatus)
	users.Post("/me/avatar", protected, h.uploadAvatar)
	users.Post("/find-by-phones", protected, h.findByPhones)
	users.Post("/logout", protected, h.logout)
	users.Get("/:userId/presence", protected, h.presence)

	chats := api.Group("/chats", protected)
	chats.Get("/", h.listChats)
	chats.Get("/contacts", h.contacts)
	chats.Post("/send", h.sendMessage)
	chats.Post("/create", h.createChat)
	chats.Put("/edit-message", h.editMessage)
	chats.Delete("/delete-message", h.deleteForMe)
	chats.Delete("/delete-message-for-everyone", h.deleteForEveryone)
	chats.Delete("/clear-chat", h.clearChat)
	chats.Get("/:chatId/messages", h.history)
	chats.Put("/:chatId/read", h.markRead)

	api.Post("/media/upload", protected, h.uploadMedia)

	return app
}
