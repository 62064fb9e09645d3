package events

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/pkg/logging"
)

var outboxColumns = []string{"id", "aggregate_key", "type", "payload", "attempts", "created_at"}

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "doctor-1", TypeNotificationRequested, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	_, err = store.Insert(context.Background(), "doctor-1", TypeNotificationRequested, NotificationRequestedV1{ReceiverID: "doctor-1"})
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT id").WithArgs(int32(10), 5).WillReturnRows(
		pgxmock.NewRows(outboxColumns).
			AddRow(id, "doctor-1", TypeNotificationRequested, []byte(`{"receiver_id":"doctor-1"}`), 2, time.Now().UTC()))
	entries, err := store.FetchPending(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "doctor-1", entries[0].Key)
	assert.Equal(t, 2, entries[0].Attempts)

	mock.ExpectExec("UPDATE outbox SET attempts").WithArgs(id, "ses throttled").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkFailed(context.Background(), id, errors.New("ses throttled")))

	mock.ExpectExec("UPDATE outbox SET delivered_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStoreInsertRejectsUnmarshalablePayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewOutboxStore(mock).Insert(context.Background(), "k", TypeNotificationRequested, make(chan int))
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

type handlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f handlerFunc) Handle(ctx context.Context, entry OutboxEntry) error { return f(ctx, entry) }

func TestDelivererRecordsFailuresAndParksExhaustedEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	okID, retryID, parkedID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id").WithArgs(int32(25), 3).WillReturnRows(
		pgxmock.NewRows(outboxColumns).
			AddRow(okID, "p1", TypeNotificationRequested, []byte("{}"), 0, now).
			AddRow(retryID, "p2", TypeNotificationRequested, []byte("{}"), 0, now).
			AddRow(parkedID, "p3", TypeNotificationRequested, []byte("{}"), 2, now))
	mock.ExpectExec("UPDATE outbox SET delivered_at").WithArgs(okID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE outbox SET attempts").WithArgs(retryID, "queue unavailable").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE outbox SET attempts").WithArgs(parkedID, "queue unavailable").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	var buf bytes.Buffer
	d := NewDeliverer(NewOutboxStore(mock), handlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		if entry.ID == okID {
			return nil
		}
		return errors.New("queue unavailable")
	}), logging.NewWithWriter("info", &buf)).WithMaxAttempts(3)

	assert.Equal(t, 1, d.drain(context.Background()))
	assert.Contains(t, buf.String(), "parked after max attempts")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelivererFetchErrorDeliversNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("connection reset"))
	d := NewDeliverer(NewOutboxStore(mock), handlerFunc(func(context.Context, OutboxEntry) error {
		t.Fatal("handler must not run")
		return nil
	}), nil)
	assert.Equal(t, 0, d.drain(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
