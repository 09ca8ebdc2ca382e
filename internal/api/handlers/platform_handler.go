package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
)

type PlatformHandler struct {
	ps service.PlatformService
}

func NewPlatformHandler(ps service.PlatformService) *PlatformHandler {
	return &PlatformHandler{ps: ps}
}

func (h *PlatformHandler) Register(r fiber.Router) {
	r.Post("/accounts", h.ConnectAccount)
}

func (h *PlatformHandler) ConnectAccount(c *fiber.Ctx) error {
	var req transfer.ConnectAccountRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	account, err := h.ps.Connect(c.Context(), GetRequester(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}
