package api

import (
	"context"

	"visionrag/pipeline"
	"visionrag/types"

	"github.com/gofiber/fiber/v2"
)

type Ingester interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*types.Ingested, error)
}

type FileHandler struct {
	ingester Ingester
}

func NewFileHandler(ingester Ingester) *FileHandler {
	return &FileHandler{
		ingester: ingester,
	}
}

func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrMissingFile()
	}

	var params types.UploadParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	data, err := readUpload(fileHeader)
	if err != nil {
		return err
	}

	res, err := h.ingester.Ingest(c.UserContext(), pipeline.Upload{
		Filename: fileHeader.Filename,
		Data:     data,
		DocID:    params.DocID,
		Replace:  params.Replace,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":    "ok",
		"doc_id":    res.DocID,
		"path":      res.Locator,
		"file_name": res.Filename,
		"bundles":   res.Bundles,
	})
}
