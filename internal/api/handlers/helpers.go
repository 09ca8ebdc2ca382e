package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
)

func GetUserID(c *fiber.Ctx) int64 {
	raw, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(raw, 10, 64)
	return userID
}

func GetRequester(c *fiber.Ctx) service.Requester {
	teams, _ := c.Locals("team_ids").([]string)
	return service.Requester{UserID: GetUserID(c), TeamHints: teams}
}

// bindJSON parses and validates the request body into v.
func bindJSON(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return apperr.Invalid("", "malformed request body")
	}
	return transfer.Validate(v)
}

// respondError maps service errors onto status codes. Anything unrecognized
// is logged and reported as a 500 without details.
func respondError(c *fiber.Ctx, err error) error {
	var ve *apperr.ValidationError
	var ce *apperr.CreditInsufficientError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": ve.Error(),
			"field": ve.Field,
		})
	case errors.As(err, &ce):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":             ce.Error(),
			"credits_required":  ce.CreditsRequired,
			"credits_available": ce.CreditsAvailable,
		})
	case errors.Is(err, apperr.ErrExternalReadOnly):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Something went wrong",
	})
}
