package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
)

type MediaHandler struct {
	media service.MediaService
}

func NewMediaHandler(media service.MediaService) *MediaHandler {
	return &MediaHandler{media: media}
}

func (h *MediaHandler) Register(r fiber.Router) {
	r.Post("/media", h.Upload)
}

func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	assets, err := h.media.Upload(c.Context(), GetRequester(c), c.FormValue("account_id"), form.File["files"])
	if err != nil {
		return respondError(c, err)
	}

	refs := make([]string, 0, len(assets))
	for _, a := range assets {
		refs = append(refs, a.FileURL)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"assets":     assets,
		"media_refs": refs,
	})
}
