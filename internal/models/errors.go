package models

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// AppError is the canonical error envelope returned by every HTTP-facing
// handler in this repository. Code classifies the failure, Message is
// safe to show to a client, Err (optional) carries the underlying cause
// for logging but is never serialized.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Code: fiber.StatusNotFound, Message: message, Err: err}
}

func NewValidationError(message string, err error) *AppError {
	return &AppError{Code: fiber.StatusBadRequest, Message: message, Err: err}
}

func NewUnauthorizedError(message string, err error) *AppError {
	return &AppError{Code: fiber.StatusUnauthorized, Message: message, Err: err}
}

func NewForbiddenError(message string, err error) *AppError {
	return &AppError{Code: fiber.StatusForbidden, Message: message, Err: err}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{Code: fiber.StatusInternalServerError, Message: message, Err: err}
}

// RespondWithError writes the standard JSON error envelope for a Fiber
// handler, logging internal errors with their wrapped cause.
func RespondWithError(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code >= fiber.StatusInternalServerError {
			slog.Error("request failed", slog.String("path", c.Path()), slog.String("error", appErr.Error()))
		}
		return c.Status(appErr.Code).JSON(fiber.Map{"error": appErr.Message})
	}
	slog.Error("unhandled request error", slog.String("path", c.Path()), slog.String("error", err.Error()))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// OAuthError is the structured body every auth endpoint returns per C1 —
// {error, hint, message} rather than a bare message, matching the OAuth
// client_credentials-style error envelope this server's clients expect.
type OAuthError struct {
	Error   string `json:"error"`
	Hint    string `json:"hint,omitempty"`
	Message string `json:"message,omitempty"`
}
