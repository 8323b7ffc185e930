package controller

import (
	"bytes"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/internal/service"
	"shadowrealms_backend/pkg/logging"
)

// AdminSubscriber is the row shape the dashboard lists.
type AdminSubscriber struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	SubscribedAt string `json:"subscribed_at"`
	Source       string `json:"source"`
	IPAddress    string `json:"ip_address"`
}

type AdminController struct {
	admin *service.AdminService
}

func NewAdminController(admin *service.AdminService) *AdminController {
	return &AdminController{admin: admin}
}

func serverError(c *fiber.Ctx, err error, msg string) error {
	logging.Module("http").Error().Err(err).Str("path", c.Path()).Msg(msg)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Internal server error",
	})
}

func (ac *AdminController) Stats(c *fiber.Ctx) error {
	stats, err := ac.admin.Stats(c.UserContext())
	if err != nil {
		return serverError(c, err, "Failed to compute stats")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"stats":   stats,
	})
}

func (ac *AdminController) Subscribers(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(service.DefaultPageSize)))
	page, limit = service.NormalizePage(page, limit)

	subs, err := ac.admin.List(c.UserContext(), page, limit)
	if err != nil {
		return serverError(c, err, "Failed to list subscribers")
	}

	rows := make([]AdminSubscriber, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, toAdminSubscriber(sub))
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"subscribers": rows,
		"page":        page,
		"limit":       limit,
	})
}

func toAdminSubscriber(sub model.Subscriber) AdminSubscriber {
	return AdminSubscriber{
		ID:           sub.ID,
		Email:        sub.Email,
		SubscribedAt: sub.SubscribedAt.UTC().Format("2006-01-02 15:04:05"),
		Source:       sub.Source,
		IPAddress:    sub.IPAddress,
	}
}

// Export sends the CSV attachment, or JSON with ?format=json.
func (ac *AdminController) Export(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if c.Query("format") == "json" {
		if _, err := ac.admin.ExportJSON(c.UserContext(), &buf); err != nil {
			return serverError(c, err, "Failed to export subscribers")
		}
		c.Attachment("subscribers.json")
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
		return c.Send(buf.Bytes())
	}

	if _, err := ac.admin.ExportCSV(c.UserContext(), &buf); err != nil {
		return serverError(c, err, "Failed to export subscribers")
	}
	c.Attachment("subscribers.csv")
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Clear wipes every subscriber. It needs ?confirm=yes on top of the password.
func (ac *AdminController) Clear(c *fiber.Ctx) error {
	if c.Query("confirm") != "yes" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Add confirm=yes to delete every subscriber",
		})
	}
	if err := ac.admin.ClearAll(c.UserContext()); err != nil {
		return serverError(c, err, "Failed to clear subscribers")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "All subscribers deleted",
	})
}
