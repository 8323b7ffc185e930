package controller

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"shadowrealms_backend/internal/service"
)

type SubscribeInput struct {
	Email string `json:"email" form:"email"`
}

type SubscriberController struct {
	subscriptions *service.SubscriptionService
	publicDir     string
}

func NewSubscriberController(subscriptions *service.SubscriptionService, publicDir string) *SubscriberController {
	return &SubscriberController{subscriptions: subscriptions, publicDir: publicDir}
}

func requestInfo(c *fiber.Ctx) service.RequestInfo {
	return service.RequestInfo{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Referrer:  c.Get(fiber.HeaderReferer),
	}
}

// Home records the visit and serves the landing page when one is configured.
func (sc *SubscriberController) Home(c *fiber.Ctx) error {
	sc.subscriptions.Visit(c.UserContext(), requestInfo(c))

	if sc.publicDir != "" {
		index := filepath.Join(sc.publicDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			return c.SendFile(index)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (sc *SubscriberController) Subscribe(c *fiber.Ctx) error {
	var input SubscribeInput
	if err := c.BodyParser(&input); err != nil {
		input.Email = ""
	}

	conf, err := sc.subscriptions.Register(c.UserContext(), input.Email, requestInfo(c))
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "EMAIL_INVALID",
			"message": "Invalid email address",
		})
	case errors.Is(err, service.ErrDuplicateEmail):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "EMAIL_EXISTS",
			"message": "This email is already registered",
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "SERVER_ERROR",
			"message": "Internal server error",
		})
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"message":      "Subscription successful",
		"subscriberId": conf.SubscriberID,
		"degraded":     conf.Degraded,
	})
}

func (sc *SubscriberController) Unsubscribe(c *fiber.Ctx) error {
	var input SubscribeInput
	if err := c.BodyParser(&input); err != nil {
		input.Email = ""
	}

	err := sc.subscriptions.Unsubscribe(c.UserContext(), input.Email, requestInfo(c))
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid email address",
		})
	case errors.Is(err, service.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Email not found",
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Internal server error",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Unsubscribed successfully",
	})
}

func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}
