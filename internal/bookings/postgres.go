package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

// activeSlotIndex is the partial unique index guarding holding bookings.
const activeSlotIndex = "bookings_active_slot_idx"

const uniqueViolation = "23505"

const bookingColumns = `id, doctor_id, patient_id, booking_date, booking_time, type, status, fee, is_follow_up, reason, notes, created_at`

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend persists bookings in Postgres.
type PostgresBackend struct {
	db  DB
	now func() time.Time
}

// NewPostgresBackend creates a backend over a pgx pool or mock.
func NewPostgresBackend(db DB) *PostgresBackend {
	if db == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresBackend{db: db, now: time.Now}
}

// CreateBooking inserts a pending booking. The partial unique index on
// (doctor_id, booking_date, booking_time) decides slot contention.
func (b *PostgresBackend) CreateBooking(ctx context.Context, p CreateParams) (*Booking, error) {
	booking := &Booking{
		ID:         uuid.NewString(),
		DoctorID:   p.DoctorID,
		PatientID:  p.PatientID,
		Date:       p.Date,
		Time:       p.Time,
		Type:       p.Type,
		Status:     StatusPending,
		Fee:        p.Fee,
		IsFollowUp: p.IsFollowUp,
		Reason:     p.Reason,
		Notes:      p.Notes,
		CreatedAt:  b.now().UTC(),
	}
	_, err := b.db.Exec(ctx, `
		INSERT INTO bookings (id, doctor_id, patient_id, booking_date, booking_time, type, status, fee, is_follow_up, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		booking.ID, booking.DoctorID, booking.PatientID, booking.Date, booking.Time,
		string(booking.Type), string(booking.Status), booking.Fee, booking.IsFollowUp,
		booking.Reason, booking.Notes, booking.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSlotIndex {
			return nil, apperr.New(apperr.KindConflict, "bookings.create",
				"slot %s %s already booked for doctor %s", p.Date, p.Time, p.DoctorID)
		}
		return nil, apperr.FromCall("bookings.create", fmt.Errorf("bookings: insert: %w", err))
	}
	return booking, nil
}

// GetBooking loads a booking by id.
func (b *PostgresBackend) GetBooking(ctx context.Context, id string) (*Booking, error) {
	row := b.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "bookings.get", "booking %s not found", id)
	}
	if err != nil {
		return nil, apperr.FromCall("bookings.get", fmt.Errorf("bookings: load: %w", err))
	}
	return booking, nil
}

// FindActive returns the booking holding the slot, if any.
func (b *PostgresBackend) FindActive(ctx context.Context, doctorID, date, clock string) (*Booking, bool, error) {
	row := b.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE doctor_id = $1 AND booking_date = $2 AND booking_time = $3 AND status = ANY($4)`,
		doctorID, date, clock, statusStrings(HoldingStatuses()))
	booking, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.FromCall("bookings.find_active", fmt.Errorf("bookings: find active: %w", err))
	}
	return booking, true, nil
}

// ListUpcoming returns bookings ordered by date and time.
func (b *PostgresBackend) ListUpcoming(ctx context.Context, f Filter) ([]Booking, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Date != "" {
		add("booking_date = $%d", f.Date)
	}
	if f.FromDate != "" {
		add("booking_date >= $%d", f.FromDate)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY booking_date, booking_time LIMIT $%d`, len(args))

	rows, err := b.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.FromCall("bookings.list", fmt.Errorf("bookings: list: %w", err))
	}
	defer rows.Close()

	out := []Booking{}
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		out = append(out, *booking)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromCall("bookings.list", fmt.Errorf("bookings: list rows: %w", err))
	}
	return out, nil
}

// CancelBooking moves a holding booking to cancelled.
func (b *PostgresBackend) CancelBooking(ctx context.Context, id string) (*Booking, error) {
	row := b.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+bookingColumns,
		id, string(StatusCancelled), statusStrings(HoldingStatuses()))
	booking, err := scanBooking(row)
	if err == nil {
		return booking, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.FromCall("bookings.cancel", fmt.Errorf("bookings: cancel: %w", err))
	}
	current, err := b.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return current, nil
	}
	return nil, apperr.New(apperr.KindInvalidState, "bookings.cancel", "booking %s is %s", id, current.Status)
}

// MarkNeedsReconciliation flags a pending booking whose compensation failed.
func (b *PostgresBackend) MarkNeedsReconciliation(ctx context.Context, id string) error {
	_, err := b.db.Exec(ctx, `
		UPDATE bookings
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, string(StatusNeedsReconciliation), string(StatusPending))
	if err != nil {
		return apperr.FromCall("bookings.mark_reconcile", fmt.Errorf("bookings: mark reconciliation: %w", err))
	}
	return nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		booking Booking
		typ     string
		status  string
	)
	if err := row.Scan(&booking.ID, &booking.DoctorID, &booking.PatientID, &booking.Date, &booking.Time,
		&typ, &status, &booking.Fee, &booking.IsFollowUp, &booking.Reason, &booking.Notes, &booking.CreatedAt); err != nil {
		return nil, err
	}
	booking.Type = Type(typ)
	booking.Status = Status(status)
	return &booking, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

var _ Backend = (*PostgresBackend)(nil)
