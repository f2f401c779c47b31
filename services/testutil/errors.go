package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest   = "INVALID_REQUEST"
	ErrorCodeUnauthorized     = "UNAUTHORIZED"
	ErrorCodeDraftNotFound    = "DRAFT_NOT_FOUND"
	ErrorCodeWalletNotFound   = "WALLET_NOT_FOUND"
	ErrorCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrorCodeDuplicateAddress = "DUPLICATE_ADDRESS"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d: %s", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorDetail(t *testing.T, resp *httptest.ResponseRecorder, key, expected string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if got := errResp.Details[key]; got != expected {
		t.Fatalf("expected detail %s=%q, got %q", key, expected, got)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeDraftNotFound, ErrorCodeWalletNotFound:
		return http.StatusNotFound
	case ErrorCodeQuotaExceeded, ErrorCodeDuplicateAddress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
