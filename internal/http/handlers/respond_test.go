package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

func TestStatusForKinds(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:           http.StatusBadRequest,
		apperr.KindForbidden:            http.StatusForbidden,
		apperr.KindNotFound:             http.StatusNotFound,
		apperr.KindConflict:             http.StatusConflict,
		apperr.KindInvalidState:         http.StatusConflict,
		apperr.KindInsufficientFunds:    http.StatusPaymentRequired,
		apperr.KindUnavailable:          http.StatusServiceUnavailable,
		apperr.KindNetwork:              http.StatusBadGateway,
		apperr.KindTimeout:              http.StatusGatewayTimeout,
		apperr.KindReconciliationNeeded: http.StatusInternalServerError,
		apperr.KindInternal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), "kind %s", kind)
	}
}

func TestWriteErrorIncludesReason(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, logging.Default(), apperr.OutOfHours("book", "07:00 is outside the shift"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "validation", body.Error)
	assert.Equal(t, "out_of_hours", body.Reason)
	assert.Contains(t, body.Message, "outside the shift")
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, logging.Default(), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "internal", body.Error)
	assert.Equal(t, "internal error", body.Message)
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonError(rec, "oops", http.StatusTeapot)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
}
