package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/reservations"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// BookingsHandler exposes booking and cancellation to authenticated users.
type BookingsHandler struct {
	booker    *reservations.BookingCoordinator
	canceller *reservations.CancellationCoordinator
	backend   bookings.Backend
	logger    *logging.Logger
}

// NewBookingsHandler creates a new bookings handler.
func NewBookingsHandler(booker *reservations.BookingCoordinator, canceller *reservations.CancellationCoordinator, backend bookings.Backend, logger *logging.Logger) *BookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingsHandler{booker: booker, canceller: canceller, backend: backend, logger: logger}
}

// BookingsListResponse wraps a list of bookings.
type BookingsListResponse struct {
	Bookings []bookings.Booking `json:"bookings"`
}

// List handles GET /bookings. The caller sees bookings where they are the
// patient, or the doctor when role=doctor.
func (h *BookingsHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := bookings.Filter{
		Date:     strings.TrimSpace(q.Get("date")),
		FromDate: strings.TrimSpace(q.Get("from")),
	}
	switch q.Get("role") {
	case "", "patient":
		f.PatientID = uid
	case "doctor":
		f.DoctorID = uid
	default:
		jsonError(w, "role must be patient or doctor", http.StatusBadRequest)
		return
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, bookings.Status(s))
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	list, err := h.backend.ListUpcoming(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []bookings.Booking{}
	}
	writeJSON(w, http.StatusOK, BookingsListResponse{Bookings: list})
}

// Create handles POST /bookings. The patient is always the caller.
func (h *BookingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	var req reservations.BookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.PatientID != "" && req.PatientID != uid {
		jsonError(w, "cannot book on behalf of another patient", http.StatusForbidden)
		return
	}
	req.PatientID = uid

	b, err := h.booker.Book(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Cancel handles POST /bookings/{bookingID}/cancel.
func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	ack, err := h.canceller.Cancel(r.Context(), chi.URLParam(r, "bookingID"), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}
