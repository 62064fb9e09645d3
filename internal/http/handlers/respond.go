package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/reqctx"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

var kindStatus = map[apperr.Kind]int{
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
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Message: msg})
}

// writeError renders err using its apperr kind. Internal failures are logged
// and their detail withheld from the client.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	resp := errorResponse{Error: string(kind), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Reason = ae.Reason
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "kind", kind)
		if kind == apperr.KindInternal {
			resp.Message = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("http.decode", "invalid request body: %v", err)
	}
	return nil
}

// caller returns the authenticated user id, writing 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, ok := reqctx.UserIDFromContext(r.Context())
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
	}
	return uid, ok
}
