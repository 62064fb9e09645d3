package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/consult-escrow/internal/calls"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// CallsHandler drives the call session state machine for the caller.
type CallsHandler struct {
	machine *calls.StateMachine
	logger  *logging.Logger
}

func NewCallsHandler(machine *calls.StateMachine, logger *logging.Logger) *CallsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallsHandler{machine: machine, logger: logger}
}

// CreateCallRequest is the body of POST /calls.
type CreateCallRequest struct {
	Callee string `json:"callee"`
}

// Create handles POST /calls.
func (h *CallsHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sess, err := h.machine.CreateCall(r.Context(), uid, strings.TrimSpace(req.Callee))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// State handles GET /calls/{peerID}.
func (h *CallsHandler) State(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	sess, err := h.machine.State(r.Context(), uid, chi.URLParam(r, "peerID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Accept handles POST /calls/{peerID}/accept. The caller is the callee.
func (h *CallsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	sess, err := h.machine.AcceptCall(r.Context(), uid, chi.URLParam(r, "peerID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// End handles POST /calls/{peerID}/end.
func (h *CallsHandler) End(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.machine.EndCall(r.Context(), uid, chi.URLParam(r, "peerID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
