package api

import (
	"errors"
	"fmt"
	"log/slog"

	"visionrag/pipeline"

	"github.com/gofiber/fiber/v2"
)

// NewErrorHandler maps handler errors to JSON responses and logs every
// request that did not end with an Error or ValidationError.
func NewErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx, err error) error {
		return handleError(logger, c, err)
	}
}

func handleError(logger *slog.Logger, c *fiber.Ctx, err error) error {
	var apiError Error
	if errors.As(err, &apiError) {
		return c.Status(apiError.Code).JSON(apiError)
	}
	var valError ValidationError
	if errors.As(err, &valError) {
		return c.Status(valError.Status).JSON(valError)
	}

	apiError = NewError(fiber.StatusInternalServerError, err.Error())
	var fiberError *fiber.Error
	switch {
	case errors.As(err, &fiberError):
		apiError = NewError(fiberError.Code, fiberError.Message)
	case errors.Is(err, pipeline.ErrNoQuestion),
		errors.Is(err, pipeline.ErrEmptyFile),
		errors.Is(err, pipeline.ErrNoFilename):
		apiError = NewError(fiber.StatusBadRequest, err.Error())
	}

	logger.Error("[API] request failed",
		"method", c.Method(),
		"path", c.Path(),
		"code", apiError.Code,
		"err", err,
	)
	return c.Status(apiError.Code).JSON(apiError)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid request",
	}
}

func ErrMissingFile() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "file is required",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
