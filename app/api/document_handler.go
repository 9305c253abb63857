package api

import (
	"errors"

	"visionrag/store"

	"github.com/gofiber/fiber/v2"
)

type DocumentHandler struct {
	documents store.DocumentStore
}

func NewDocumentHandler(documents store.DocumentStore) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
	}
}

func (h *DocumentHandler) HandleGetDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" || len(id) > 128 {
		return ErrInvalidID()
	}

	doc, err := h.documents.GetDocumentByID(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound(id, "document")
	}
	if err != nil {
		return err
	}
	return c.JSON(doc)
}
