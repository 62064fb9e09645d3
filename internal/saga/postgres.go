package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `booking_id, kind, status, patient_id, doctor_id, fee, attempts, last_error, created_at, updated_at`

// PgStore keeps saga records in the booking_sagas table.
type PgStore struct {
	db rowQuerier
}

func NewPgStore(db rowQuerier) *PgStore {
	if db == nil {
		panic("saga: pgx pool required")
	}
	return &PgStore{db: db}
}

func (s *PgStore) Begin(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO booking_sagas (booking_id, kind, status, patient_id, doctor_id, fee)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_id, kind) DO UPDATE
		SET status = EXCLUDED.status, last_error = '', updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, rec.BookingID, string(rec.Kind), string(rec.Status), rec.PatientID, rec.DoctorID, rec.Fee); err != nil {
		return apperr.FromCall("saga.begin", fmt.Errorf("saga: begin: %w", err))
	}
	return nil
}

func (s *PgStore) Advance(ctx context.Context, bookingID string, kind Kind, status Status, cause error) error {
	query := `
		UPDATE booking_sagas
		SET status = $3,
		    last_error = $4,
		    attempts = attempts + CASE WHEN $4 = '' THEN 0 ELSE 1 END,
		    updated_at = now()
		WHERE booking_id = $1 AND kind = $2
	`
	tag, err := s.db.Exec(ctx, query, bookingID, string(kind), string(status), causeText(cause))
	if err != nil {
		return apperr.FromCall("saga.advance", fmt.Errorf("saga: advance: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "saga.advance", "no %s saga for booking %s", kind, bookingID)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, bookingID string, kind Kind) (*Record, bool, error) {
	query := `SELECT ` + recordColumns + ` FROM booking_sagas WHERE booking_id = $1 AND kind = $2`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, bookingID, string(kind)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.FromCall("saga.get", fmt.Errorf("saga: get: %w", err))
	}
	return rec, true, nil
}

func (s *PgStore) ListRepairable(ctx context.Context, staleBefore time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 25
	}
	statuses := make([]string, 0, len(RepairableStatuses()))
	for _, st := range RepairableStatuses() {
		statuses = append(statuses, string(st))
	}
	query := `
		SELECT ` + recordColumns + `
		FROM booking_sagas
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, statuses, staleBefore, limit)
	if err != nil {
		return nil, apperr.FromCall("saga.list", fmt.Errorf("saga: list repairable: %w", err))
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("saga: scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec    Record
		kind   string
		status string
	)
	if err := row.Scan(&rec.BookingID, &kind, &status, &rec.PatientID, &rec.DoctorID, &rec.Fee,
		&rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	rec.Status = Status(status)
	return &rec, nil
}

var _ Ledger = (*PgStore)(nil)
