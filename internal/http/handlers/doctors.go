package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/reqctx"
	"github.com/wolfman30/consult-escrow/internal/slots"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// DoctorsHandler serves doctor profiles and open slots.
type DoctorsHandler struct {
	directory  bookings.Directory
	calculator *slots.Calculator
	logger     *logging.Logger
}

// NewDoctorsHandler creates a new doctors handler.
func NewDoctorsHandler(directory bookings.Directory, calculator *slots.Calculator, logger *logging.Logger) *DoctorsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DoctorsHandler{directory: directory, calculator: calculator, logger: logger}
}

// SlotsResponse lists the open start times for one doctor on one date.
type SlotsResponse struct {
	DoctorID    string           `json:"doctor_id"`
	Date        string           `json:"date"`
	SlotMinutes int              `json:"slot_minutes"`
	Slots       []slots.TimeSlot `json:"slots"`
}

// GetDoctor handles GET /doctors/{doctorID}. Profiles are read through the
// request cache; a cache failure falls back to the directory.
func (h *DoctorsHandler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "doctorID"))
	if id == "" {
		jsonError(w, "doctor id required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	c := reqctx.CacheFromContext(ctx)
	key := "doctor:" + id

	var doc bookings.Doctor
	hit, err := c.Get(ctx, key, &doc)
	if err != nil {
		h.logger.Warn("doctor cache read failed", "error", err, "doctor_id", id)
	}
	if hit {
		writeJSON(w, http.StatusOK, doc)
		return
	}

	found, err := h.directory.Doctor(ctx, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := c.Set(ctx, key, found, 0); err != nil {
		h.logger.Warn("doctor cache write failed", "error", err, "doctor_id", id)
	}
	writeJSON(w, http.StatusOK, found)
}

// ListSlots handles GET /doctors/{doctorID}/slots?date=YYYY-MM-DD.
func (h *DoctorsHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "doctorID"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	seq, err := h.calculator.Available(r.Context(), id, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := SlotsResponse{DoctorID: id, Date: date, SlotMinutes: h.calculator.SlotMinutes(), Slots: []slots.TimeSlot{}}
	for s := range seq {
		resp.Slots = append(resp.Slots, s)
	}
	writeJSON(w, http.StatusOK, resp)
}
