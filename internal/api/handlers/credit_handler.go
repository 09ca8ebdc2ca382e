package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
)

type CreditHandler struct {
	credits  service.CreditService
	platform string
}

func NewCreditHandler(credits service.CreditService, platform string) *CreditHandler {
	return &CreditHandler{credits: credits, platform: platform}
}

func (h *CreditHandler) Register(r fiber.Router) {
	r.Post("/generate", h.Generate)
	r.Get("/credits", h.Balance)
}

func (h *CreditHandler) Generate(c *fiber.Ctx) error {
	var req transfer.GenerateRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	out, err := h.credits.Reconcile(c.Context(), GetUserID(c), service.GenerationRequest{
		Prompt:   req.Prompt,
		Variants: req.Variants,
		Tone:     req.Tone,
		Platform: h.platform,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(transfer.GenerateResponse{
		OperationID: out.OperationID,
		Variants:    out.Variants,
		Estimated:   out.Estimated,
		Charged:     out.Charged,
		Available:   out.Available,
	})
}

func (h *CreditHandler) Balance(c *fiber.Ctx) error {
	balance, err := h.credits.Balance(c.Context(), GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"balance": balance})
}
