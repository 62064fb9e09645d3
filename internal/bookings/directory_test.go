package bookings

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

func TestSQLDirectoryDoctor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLDirectory(db)

	mock.ExpectQuery("SELECT id, name, specialty").WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "specialty", "hospital", "email", "consultation_fee"}).
			AddRow("doc-1", "Dr. Lin", "cardiology", "General", "lin@example.com", int64(20000)))

	doc, err := dir.Doctor(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "cardiology", doc.Specialty)
	assert.Equal(t, "lin@example.com", doc.Email)
	assert.Equal(t, int64(20000), doc.ConsultationFee)

	mock.ExpectQuery("SELECT id, name, specialty").WithArgs("nobody").WillReturnError(sql.ErrNoRows)
	_, err = dir.Doctor(context.Background(), "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSQLDirectoryShift(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLDirectory(db)

	mock.ExpectQuery("SELECT start_time, end_time").WithArgs("doc-1", "2025-06-20").
		WillReturnRows(sqlmock.NewRows([]string{"start_time", "end_time"}).AddRow("08:00", "17:00"))

	shift, found, err := dir.Shift(context.Background(), "doc-1", "2025-06-20")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Shift{DoctorID: "doc-1", Date: "2025-06-20", Start: "08:00", End: "17:00"}, shift)

	mock.ExpectQuery("SELECT start_time, end_time").WithArgs("doc-1", "2025-06-21").WillReturnError(sql.ErrNoRows)
	_, found, err = dir.Shift(context.Background(), "doc-1", "2025-06-21")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectQuery("SELECT start_time, end_time").WillReturnError(errors.New("connection refused"))
	_, _, err = dir.Shift(context.Background(), "doc-1", "2025-06-22")
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectoryShiftsOnFiltersDoctors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLDirectory(db)

	mock.ExpectQuery(`AND doctor_id = ANY\(\$2\)`).
		WithArgs("2025-06-20", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"doctor_id", "shift_date", "start_time", "end_time"}).
			AddRow("doc-1", "2025-06-20", "08:00", "12:00").
			AddRow("doc-2", "2025-06-20", "13:00", "18:00"))

	shifts, err := dir.ShiftsOn(context.Background(), "2025-06-20", []string{"doc-1", "doc-2"})
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	assert.Equal(t, "13:00", shifts[1].Start)
	require.NoError(t, mock.ExpectationsWereMet())
}
