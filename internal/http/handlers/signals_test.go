package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/reservations"
)

func TestSignalsPushesCanonicalSnapshots(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Seed("patient-a", 50000)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signals?peer=patient-a&as=" + doctorID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var initial reservations.Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial.Bookings)
	require.NotNil(t, initial.Call)

	rec := env.do(t, http.MethodPost, "/bookings", "patient-a", bookBody("10:00", 20000))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap reservations.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, relay.EventBooked, snap.Signal.Type)
	require.Len(t, snap.Bookings, 1)
	assert.Equal(t, "10:00", snap.Bookings[0].Time)
}

func TestSignalsRequiresPeer(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/ws/signals", doctorID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
