package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/reservations"
)

func TestCreateBookingDebitsFee(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Seed("patient-a", 50000)

	rec := env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 20000))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[bookings.Booking](t, rec)
	assert.Equal(t, "patient-a", b.PatientID)
	assert.Equal(t, bookings.StatusPending, b.Status)

	rec = env.do(t, http.MethodGet, "/wallet/balance", "patient-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(30000), decode[BalanceResponse](t, rec).Balance)
}

func TestCreateBookingErrors(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Seed("patient-a", 50000)
	env.ledger.Seed("patient-b", 50000)
	env.ledger.Seed("patient-poor", 100)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 20000)).Code)

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		kind   string
	}{
		{"slot taken", "patient-b", bookBody("10:00", 20000), http.StatusConflict, "conflict"},
		{"insufficient funds", "patient-poor", bookBody("11:00", 20000), http.StatusPaymentRequired, "insufficient_funds"},
		{"out of hours", "patient-b", bookBody("18:00", 20000), http.StatusBadRequest, "validation"},
		{"unknown field", "patient-b", map[string]any{"doctor": doctorID}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/bookings", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestCreateBookingChargesDoctorFee(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Seed("patient-a", 50000)

	rec := env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "validation", decode[errorResponse](t, rec).Error)

	body := bookBody("10:00", 0)
	body["is_follow_up"] = true
	rec = env.do(t, http.MethodPost, "/bookings", "patient-a", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/wallet/balance", "patient-a", nil)
	assert.Equal(t, int64(50000), decode[BalanceResponse](t, rec).Balance)

	rec = env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(20000), decode[bookings.Booking](t, rec).Fee)

	rec = env.do(t, http.MethodGet, "/wallet/balance", "patient-a", nil)
	assert.Equal(t, int64(30000), decode[BalanceResponse](t, rec).Balance)
}

func TestCreateBookingRequiresCaller(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/bookings", "", bookBody("10:00", 0))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBookingOnBehalfOfOtherPatientIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	body := bookBody("10:00", 0)
	body["patient_id"] = "patient-b"
	rec := env.do(t, http.MethodPost, "/bookings", "patient-a", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelBookingRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Seed("patient-a", 50000)
	b := decode[bookings.Booking](t, env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 20000)))

	rec := env.do(t, http.MethodPost, "/bookings/"+b.ID+"/cancel", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/bookings/"+b.ID+"/cancel", doctorID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ack := decode[reservations.Ack](t, rec)
	assert.Equal(t, int64(20000), ack.Refunded)
	assert.Equal(t, bookings.StatusCancelled, ack.Booking.Status)

	rec = env.do(t, http.MethodGet, "/wallet/balance", "patient-a", nil)
	assert.Equal(t, int64(50000), decode[BalanceResponse](t, rec).Balance)

	rec = env.do(t, http.MethodPost, "/bookings/"+b.ID+"/cancel", "patient-a", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelUnknownBooking(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/bookings/missing/cancel", "patient-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBookingsByRole(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Seed("patient-a", 50000)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 0)).Code)

	rec := env.do(t, http.MethodGet, "/bookings", "patient-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[BookingsListResponse](t, rec).Bookings, 1)

	rec = env.do(t, http.MethodGet, "/bookings?role=doctor", doctorID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[BookingsListResponse](t, rec).Bookings, 1)

	rec = env.do(t, http.MethodGet, "/bookings", "patient-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[BookingsListResponse](t, rec).Bookings)

	rec = env.do(t, http.MethodGet, "/bookings?role=admin", "patient-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
