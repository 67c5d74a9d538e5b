package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppError(t *testing.T) {
	t.Run("Error() returns formatted message", func(t *testing.T) {
		err := &AppError{Code: CodeValidationError, Message: "bad input"}

		expected := "VALIDATION_ERROR: bad input"
		if err.Error() != expected {
			t.Errorf("Error() = %s, want %s", err.Error(), expected)
		}
	})

	t.Run("Unwrap() returns internal error", func(t *testing.T) {
		internalErr := errors.New("internal failure")
		err := &AppError{Code: CodeInternalError, Message: "boom", Internal: internalErr}

		if !errors.Is(err, internalErr) {
			t.Error("Unwrap() should return internal error")
		}
	})

	t.Run("WithDetail adds detail", func(t *testing.T) {
		err := New(CodeValidationError, "invalid input").WithDetail("field", "email")

		if err.Details == nil {
			t.Fatal("Details should not be nil")
		}
		if err.Details["field"] != "email" {
			t.Errorf("Details[field] = %v, want email", err.Details["field"])
		}
	})

	t.Run("WithInternal sets internal error", func(t *testing.T) {
		internalErr := errors.New("database error")
		err := New(CodeInternalError, "operation failed").WithInternal(internalErr)

		if err.Internal != internalErr {
			t.Error("WithInternal() did not set internal error")
		}
	})
}

func TestNewDefaultsStatusFromTaxonomy(t *testing.T) {
	tests := []struct {
		code           string
		expectedStatus int
	}{
		{CodeValidationError, http.StatusBadRequest},
		{CodeTokenMissing, http.StatusUnauthorized},
		{CodeInvalidCredentials, http.StatusUnauthorized},
		{CodeInvalidRefreshToken, http.StatusUnauthorized},
		{CodeAccessDenied, http.StatusForbidden},
		{CodeAdminRequired, http.StatusForbidden},
		{CodeProjectNotFound, http.StatusNotFound},
		{CodeNoActiveTimer, http.StatusNotFound},
		{CodeTimerConflict, http.StatusConflict},
		{CodeTimerRunning, http.StatusConflict},
		{CodeUserExists, http.StatusConflict},
		{CodeEntityStale, http.StatusConflict},
		{CodeInvalidEndTime, http.StatusBadRequest},
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "message")
			if err.HTTPStatus != tt.expectedStatus {
				t.Errorf("New(%s).HTTPStatus = %d, want %d", tt.code, err.HTTPStatus, tt.expectedStatus)
			}
			if err.Code != tt.code {
				t.Errorf("New(%s).Code = %s, want %s", tt.code, err.Code, tt.code)
			}
		})
	}
}

func TestRateLimited(t *testing.T) {
	err := RateLimited(30)

	if err.Code != CodeRateLimitExceeded {
		t.Errorf("Code = %s, want %s", err.Code, CodeRateLimitExceeded)
	}
	if err.Details["retryAfter"] != 30 {
		t.Errorf("Details[retryAfter] = %v, want 30", err.Details["retryAfter"])
	}
}

func TestValidation(t *testing.T) {
	err := Validation("invalid request body", map[string]string{"email": "must be a valid email"})

	if err.Code != CodeValidationError {
		t.Errorf("Code = %s, want %s", err.Code, CodeValidationError)
	}
	if err.Details["email"] != "must be a valid email" {
		t.Errorf("Details[email] = %v, want validation message", err.Details["email"])
	}
}

func TestIs(t *testing.T) {
	notFoundErr := New(CodeProjectNotFound, "project not found")
	otherErr := New(CodeValidationError, "invalid")

	if !Is(notFoundErr, CodeProjectNotFound) {
		t.Error("Is() should return true for matching code")
	}
	if Is(otherErr, CodeProjectNotFound) {
		t.Error("Is() should return false for mismatched code")
	}
	if Is(errors.New("random error"), CodeProjectNotFound) {
		t.Error("Is() should return false for non-AppError")
	}
}

func TestInternal(t *testing.T) {
	originalErr := errors.New("database connection failed")
	wrapped := Internal(originalErr)

	if wrapped.Code != CodeInternalError {
		t.Errorf("Code = %s, want %s", wrapped.Code, CodeInternalError)
	}
	if !errors.Is(wrapped, originalErr) {
		t.Error("Internal() should wrap the original error")
	}
}
