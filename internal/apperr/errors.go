// Package apperr defines the tagged error type used across the service
// boundary: services return these (or wrap sentinel errors into them) and
// the HTTP edge maps them to a single uniform JSON envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Stable error codes, per the taxonomy in the core specification.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeTokenMissing        = "TOKEN_MISSING"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidSession       = "INVALID_SESSION"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeAdminRequired       = "ADMIN_REQUIRED"
	CodeProjectNotFound     = "PROJECT_NOT_FOUND"
	CodeEntryNotFound       = "ENTRY_NOT_FOUND"
	CodeEntriesNotFound     = "ENTRIES_NOT_FOUND"
	CodeNoActiveTimer       = "NO_ACTIVE_TIMER"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeTimerConflict       = "TIMER_CONFLICT"
	CodeTimerRunning        = "TIMER_RUNNING"
	CodeUserExists          = "USER_EXISTS"
	CodeEntityStale         = "ENTITY_STALE"
	CodeInvalidEndTime      = "INVALID_END_TIME"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// defaultStatus maps a code to its default HTTP status when a constructor
// doesn't set one explicitly.
var defaultStatus = map[string]int{
	CodeValidationError:     http.StatusBadRequest,
	CodeTokenMissing:        http.StatusUnauthorized,
	CodeTokenInvalid:        http.StatusUnauthorized,
	CodeTokenExpired:        http.StatusUnauthorized,
	CodeInvalidSession:      http.StatusUnauthorized,
	CodeInvalidCredentials:  http.StatusUnauthorized,
	CodeInvalidRefreshToken: http.StatusUnauthorized,
	CodeAccessDenied:        http.StatusForbidden,
	CodeAdminRequired:       http.StatusForbidden,
	CodeProjectNotFound:     http.StatusNotFound,
	CodeEntryNotFound:       http.StatusNotFound,
	CodeEntriesNotFound:     http.StatusNotFound,
	CodeNoActiveTimer:       http.StatusNotFound,
	CodeUserNotFound:        http.StatusNotFound,
	CodeTimerConflict:       http.StatusConflict,
	CodeTimerRunning:        http.StatusConflict,
	CodeUserExists:          http.StatusConflict,
	CodeEntityStale:         http.StatusConflict,
	CodeInvalidEndTime:      http.StatusBadRequest,
	CodeRateLimitExceeded:   http.StatusTooManyRequests,
	CodeInternalError:       http.StatusInternalServerError,
}

// AppError is a structured, tagged application error carried across
// service boundaries instead of raw strings or dynamic shape-checked
// objects.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Internal   error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// WithDetail attaches a structured detail (e.g. a conflicting entity, a
// retry_after hint) to the error body.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithInternal records the underlying cause for logging; it is never
// serialized to the client.
func (e *AppError) WithInternal(err error) *AppError {
	e.Internal = err
	return e
}

// New builds an AppError for a taxonomy code with a custom message.
func New(code, message string) *AppError {
	status, ok := defaultStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// Validation builds a VALIDATION_ERROR with a field-keyed detail map.
func Validation(message string, fields map[string]string) *AppError {
	err := New(CodeValidationError, message)
	if len(fields) > 0 {
		err.Details = make(map[string]any, len(fields))
		for k, v := range fields {
			err.Details[k] = v
		}
	}
	return err
}

// RateLimited builds a RATE_LIMIT_EXCEEDED error carrying a retry_after hint.
func RateLimited(retryAfterSeconds int) *AppError {
	return New(CodeRateLimitExceeded, "rate limit exceeded").WithDetail("retryAfter", retryAfterSeconds)
}

// Internal wraps an unexpected error without leaking its message to the client.
func Internal(cause error) *AppError {
	return New(CodeInternalError, "an internal error occurred").WithInternal(cause)
}

// Response is the uniform wire envelope for all error responses.
type Response struct {
	Success bool   `json:"success"`
	Error   Detail `json:"error"`
}

type Detail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) toResponse() Response {
	return Response{
		Success: false,
		Error: Detail{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
		},
	}
}

// Send writes an error to the response, logging internal causes with a
// correlation id and never leaking internal messages to the client.
func Send(c *fiber.Ctx, err error, log zerolog.Logger) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			log.Error().
				Err(appErr.Internal).
				Str("code", appErr.Code).
				Str("requestId", c.Get(fiber.HeaderXRequestID)).
				Msg("application error")
		}
		return c.Status(appErr.HTTPStatus).JSON(appErr.toResponse())
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		appErr = New(CodeValidationError, fiberErr.Message)
		appErr.HTTPStatus = fiberErr.Code
		return c.Status(appErr.HTTPStatus).JSON(appErr.toResponse())
	}

	log.Error().Err(err).Str("requestId", c.Get(fiber.HeaderXRequestID)).Msg("unexpected error")
	appErr = Internal(err)
	return c.Status(appErr.HTTPStatus).JSON(appErr.toResponse())
}

// Handler adapts Send into a fiber.ErrorHandler for the global middleware chain.
func Handler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return Send(c, err, log)
	}
}

// Is reports whether err is an *AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
