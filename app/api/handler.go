package api

import (
	"context"
	"io"
	"mime/multipart"

	"visionrag/pipeline"
	"visionrag/types"

	"github.com/gofiber/fiber/v2"
)

type Answerer interface {
	Answer(ctx context.Context, q pipeline.Question) (*types.QAResponse, error)
}

type RequestHandler struct {
	answerer Answerer
}

func NewRequestHandler(answerer Answerer) *RequestHandler {
	return &RequestHandler{
		answerer: answerer,
	}
}

// HandleQA answers a question about an ingested document. A file sent with
// the question is ingested first and becomes the scope.
func (h *RequestHandler) HandleQA(c *fiber.Ctx) error {
	var params types.QAParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	q := pipeline.Question{
		Text:  params.Question,
		DocID: params.DocID,
	}
	if fileHeader, err := c.FormFile("file"); err == nil {
		data, err := readUpload(fileHeader)
		if err != nil {
			return err
		}
		q.File = &pipeline.Upload{
			Filename: fileHeader.Filename,
			Data:     data,
			DocID:    params.DocID,
		}
	}

	resp, err := h.answerer.Answer(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func readUpload(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}
