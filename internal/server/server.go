package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"shadowrealms_backend/internal/controller"
	"shadowrealms_backend/internal/middleware"
	"shadowrealms_backend/internal/service"
	"shadowrealms_backend/pkg/config"
	"shadowrealms_backend/pkg/logging"
)

type Deps struct {
	Subscriptions *service.SubscriptionService
	Admin         *service.AdminService
	RateLimit     config.RateLimitConfig
	PublicDir     string
}

func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      service.GameName,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger())
	app.Use(helmet.New())
	app.Use(cors.New())

	app.Get("/healthz", controller.Health)

	app.Use(middleware.RateLimit(
		d.RateLimit.GlobalMax,
		d.RateLimit.GlobalWindow,
		"Too many requests from this IP, please try again later.",
	))

	setupRoutes(app, d)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Endpoint not found",
		})
	})
	return app
}

func setupRoutes(app *fiber.App, d Deps) {
	subscribers := controller.NewSubscriberController(d.Subscriptions, d.PublicDir)
	admin := controller.NewAdminController(d.Admin)

	app.Get("/", subscribers.Home)

	api := app.Group("/api")
	api.Post("/subscribe", middleware.RateLimit(
		d.RateLimit.SubscribeMax,
		d.RateLimit.SubscribeWindow,
		"Too many subscriptions from this IP, please try again in an hour.",
	), subscribers.Subscribe)
	api.Post("/unsubscribe", subscribers.Unsubscribe)

	adminRoutes := api.Group("/admin", middleware.AdminAuth(d.Admin))
	adminRoutes.Get("/stats", admin.Stats)
	adminRoutes.Get("/subscribers", admin.Subscribers)
	adminRoutes.Delete("/subscribers", admin.Clear)
	adminRoutes.Get("/export", admin.Export)
}

// errorHandler keeps fiber's own status codes but never echoes internal errors.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		if code < fiber.StatusInternalServerError {
			message = fe.Message
		}
	}
	if code >= fiber.StatusInternalServerError {
		logging.Module("http").Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
