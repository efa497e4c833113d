package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusAndCodeByKind(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		code   string
	}{
		{Validation("bad"), http.StatusBadRequest, "invalid_request"},
		{Unauthorized("no"), http.StatusUnauthorized, "unauthorized"},
		{Forbidden("no"), http.StatusForbidden, "forbidden"},
		{NotFound("missing"), http.StatusNotFound, "not_found"},
		{Conflict("busy"), http.StatusConflict, "conflict"},
		{Conflict("busy").WithCode("concurrent_modification"), http.StatusConflict, "concurrent_modification"},
		{New(KindRateLimited, "slow down"), http.StatusTooManyRequests, "rate_limited"},
		{Internal("boom"), http.StatusInternalServerError, "internal_error"},
		{New(KindUnknown, "?"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.status {
			t.Errorf("%q: status = %d, want %d", tc.err.Message, got, tc.status)
		}
		if got := tc.err.ErrorCode(); got != tc.code {
			t.Errorf("%q: code = %q, want %q", tc.err.Message, got, tc.code)
		}
	}
}

func TestGetKindFollowsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("load lead: %w", NotFound("lead not found"))
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected wrapped not-found error to keep its kind")
	}
	if GetKind(fmt.Errorf("plain")) != KindUnknown {
		t.Fatalf("expected plain error to map to KindUnknown")
	}
}

func TestErrorStringIncludesOp(t *testing.T) {
	err := Conflict("lead is terminal").WithOp("estimate_sent")
	if err.Error() != "estimate_sent: lead is terminal" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
