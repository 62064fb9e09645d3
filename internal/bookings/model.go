package bookings

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire/storage format for booking dates.
const DateLayout = "2006-01-02"

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending             Status = "pending"
	StatusConfirmed           Status = "confirmed"
	StatusCancelled           Status = "cancelled"
	StatusCompleted           Status = "completed"
	StatusNeedsReconciliation Status = "pending_needs_reconciliation"
)

// Holding reports whether a booking in this status occupies its slot.
func (s Status) Holding() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusNeedsReconciliation:
		return true
	default:
		return false
	}
}

// Cancellable reports whether a booking in this status may be cancelled.
func (s Status) Cancellable() bool {
	return s.Holding()
}

// HoldingStatuses lists the statuses covered by the slot uniqueness index.
func HoldingStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusNeedsReconciliation}
}

// Type is the consultation channel.
type Type string

const (
	TypeOnsite Type = "onsite"
	TypeOnline Type = "online"
)

// Valid reports whether t is a known consultation type.
func (t Type) Valid() bool {
	return t == TypeOnsite || t == TypeOnline
}

// Doctor is read-only reference data owned by the backend.
type Doctor struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Specialty       string `json:"specialty"`
	Hospital        string `json:"hospital"`
	Email           string `json:"email,omitempty"`
	ConsultationFee int64  `json:"consultation_fee"`
}

// Shift is a doctor's working window on one date. Start and End are HH:MM.
type Shift struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

// Window returns the shift bounds in minutes after midnight.
func (s Shift) Window() (start, end int, err error) {
	if start, err = ParseClock(s.Start); err != nil {
		return 0, 0, err
	}
	if end, err = ParseClock(s.End); err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("bookings: shift end %s not after start %s", s.End, s.Start)
	}
	return start, end, nil
}

// Booking is a reservation of one slot by one patient.
type Booking struct {
	ID         string    `json:"id"`
	DoctorID   string    `json:"doctor_id"`
	PatientID  string    `json:"patient_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Type       Type      `json:"type"`
	Status     Status    `json:"status"`
	Fee        int64     `json:"fee"`
	IsFollowUp bool      `json:"is_follow_up"`
	Reason     string    `json:"reason,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Party reports whether userID is the booking's patient or doctor.
func (b *Booking) Party(userID string) bool {
	return userID != "" && (userID == b.PatientID || userID == b.DoctorID)
}

// Counterparty returns the other participant relative to userID.
func (b *Booking) Counterparty(userID string) string {
	if userID == b.DoctorID {
		return b.PatientID
	}
	return b.DoctorID
}

// CreateParams is the input of Backend.CreateBooking.
type CreateParams struct {
	DoctorID   string
	PatientID  string
	Date       string
	Time       string
	Type       Type
	Fee        int64
	IsFollowUp bool
	Reason     string
	Notes      string
}

// Filter narrows Backend.ListUpcoming. Empty fields do not filter.
type Filter struct {
	DoctorID  string
	PatientID string
	Date      string
	FromDate  string
	Statuses  []Status
	Limit     int
}

// ParseClock converts HH:MM into minutes after midnight.
func ParseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("bookings: invalid time %q, want HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bookings: invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bookings: invalid minute in %q", v)
	}
	return h*60 + m, nil
}

// FormatClock converts minutes after midnight into HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(v string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(v), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bookings: invalid date %q, want YYYY-MM-DD", v)
	}
	return d, nil
}
