package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
)

type ItemHandler struct {
	items    service.ItemService
	timeline service.TimelineService
}

func NewItemHandler(items service.ItemService, timeline service.TimelineService) *ItemHandler {
	return &ItemHandler{items: items, timeline: timeline}
}

func (h *ItemHandler) Register(r fiber.Router) {
	r.Post("/items", h.CreateItem)
	r.Post("/items/bulk", h.CreateBulk)
	r.Get("/items", h.ListItems)
	r.Get("/items/summary", h.Summary)
	r.Post("/items/:id/cancel", h.CancelItem)
	r.Post("/items/:id/retry", h.RetryItem)
	r.Delete("/items/:id", h.DeleteItem)
}

func (h *ItemHandler) CreateItem(c *fiber.Ctx) error {
	var req transfer.CreateItemRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	item, err := h.items.Create(c.Context(), GetRequester(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

func (h *ItemHandler) CreateBulk(c *fiber.Ctx) error {
	var req transfer.BulkScheduleRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	items, err := h.items.CreateBulk(c.Context(), GetRequester(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"items": items,
		"count": len(items),
	})
}

func (h *ItemHandler) ListItems(c *fiber.Ctx) error {
	var q transfer.TimelineQuery
	if err := c.QueryParser(&q); err != nil {
		return respondError(c, apperr.Invalid("", "malformed query"))
	}
	if err := transfer.Validate(&q); err != nil {
		return respondError(c, err)
	}

	page, err := h.timeline.List(c.Context(), GetRequester(c), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(page)
}

func (h *ItemHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.items.Summary(c.Context(), GetRequester(c), c.Query("account_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

func (h *ItemHandler) CancelItem(c *fiber.Ctx) error {
	item, err := h.items.Cancel(c.Context(), GetRequester(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *ItemHandler) RetryItem(c *fiber.Ctx) error {
	item, err := h.items.Retry(c.Context(), GetRequester(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *ItemHandler) DeleteItem(c *fiber.Ctx) error {
	if err := h.items.Delete(c.Context(), GetRequester(c), c.Params("id"), c.QueryBool("remote", false)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
