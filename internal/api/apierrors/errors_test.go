package apierrors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/romanbabin/convogate/internal/domain"
)

func TestFromDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"empty input", domain.ErrInputEmpty, CodeValidationError, http.StatusBadRequest},
		{"too long", domain.ErrInputTooLong, CodeValidationError, http.StatusBadRequest},
		{"rate limited", domain.ErrRateLimited, CodeRateLimitExceeded, http.StatusTooManyRequests},
		{"not found", domain.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"invalid rule", domain.ErrInvalidRule, CodeValidationError, http.StatusBadRequest},
		{"config unavailable", domain.ErrConfigUnavailable, CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"moderation unavailable", domain.ErrModerationUnavailable, CodeModerationUnavailable, http.StatusBadGateway},
		{"llm unavailable", domain.ErrLLMUnavailable, CodeLLMUnavailable, http.StatusBadGateway},
		{"llm timeout", domain.ErrLLMTimeout, CodeLLMTimeout, http.StatusGatewayTimeout},
		{"canceled", domain.ErrCanceled, CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"unknown", errUnmapped{}, CodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromDomainError(tt.err)
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", apiErr.Code, tt.wantCode)
			}
			if apiErr.StatusCode() != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", apiErr.StatusCode(), tt.wantStatus)
			}
		})
	}
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "unmapped" }

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, "req-123", ValidationError("bad input"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want %q", resp.Error.RequestID, "req-123")
	}
	if resp.Error.Code != CodeValidationError {
		t.Errorf("Code = %s, want %s", resp.Error.Code, CodeValidationError)
	}
}

func TestWithDetailsAndRequestID(t *testing.T) {
	err := NewAPIError(CodeConflict, "conflict").WithDetails(map[string]string{"field": "x"}).WithRequestID("r-1")
	if err.RequestID != "r-1" {
		t.Errorf("RequestID = %q, want %q", err.RequestID, "r-1")
	}
	if err.Details == nil {
		t.Error("Details should not be nil")
	}
}
