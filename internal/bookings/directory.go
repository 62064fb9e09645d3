package bookings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

// SQLDirectory reads doctors and shifts through database/sql.
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over an open database handle.
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	if db == nil {
		panic("bookings: sql db required")
	}
	return &SQLDirectory{db: db}
}

// Doctor loads a doctor profile.
func (d *SQLDirectory) Doctor(ctx context.Context, id string) (*Doctor, error) {
	var doc Doctor
	var email sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, specialty, hospital, email, consultation_fee
		FROM doctors WHERE id = $1`, id).Scan(
		&doc.ID, &doc.Name, &doc.Specialty, &doc.Hospital, &email, &doc.ConsultationFee)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "directory.doctor", "doctor %s not found", id)
	}
	if err != nil {
		return nil, apperr.FromCall("directory.doctor", fmt.Errorf("bookings: load doctor: %w", err))
	}
	doc.Email = email.String
	return &doc, nil
}

// Shift loads the doctor's shift for date.
func (d *SQLDirectory) Shift(ctx context.Context, doctorID, date string) (Shift, bool, error) {
	shift := Shift{DoctorID: doctorID, Date: date}
	err := d.db.QueryRowContext(ctx, `
		SELECT start_time, end_time
		FROM shifts WHERE doctor_id = $1 AND shift_date = $2`, doctorID, date).Scan(&shift.Start, &shift.End)
	if errors.Is(err, sql.ErrNoRows) {
		return Shift{}, false, nil
	}
	if err != nil {
		return Shift{}, false, apperr.FromCall("directory.shift", fmt.Errorf("bookings: load shift: %w", err))
	}
	return shift, true, nil
}

// ShiftsOn lists shifts on date, optionally limited to doctorIDs.
func (d *SQLDirectory) ShiftsOn(ctx context.Context, date string, doctorIDs []string) ([]Shift, error) {
	query := `SELECT doctor_id, shift_date, start_time, end_time FROM shifts WHERE shift_date = $1`
	args := []any{date}
	if len(doctorIDs) > 0 {
		query += ` AND doctor_id = ANY($2)`
		args = append(args, pq.Array(doctorIDs))
	}
	query += ` ORDER BY doctor_id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.FromCall("directory.shifts_on", fmt.Errorf("bookings: list shifts: %w", err))
	}
	defer rows.Close()

	out := []Shift{}
	for rows.Next() {
		var s Shift
		if err := rows.Scan(&s.DoctorID, &s.Date, &s.Start, &s.End); err != nil {
			return nil, fmt.Errorf("bookings: scan shift: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ Directory = (*SQLDirectory)(nil)
