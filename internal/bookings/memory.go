package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

type slotKey struct {
	doctorID string
	date     string
	clock    string
}

// MemoryBackend is an in-process Backend for local runs and tests. It enforces
// slot uniqueness under a mutex, mirroring the Postgres partial index.
type MemoryBackend struct {
	mu       sync.Mutex
	bookings map[string]*Booking
	holding  map[slotKey]string
	now      func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		bookings: make(map[string]*Booking),
		holding:  make(map[slotKey]string),
		now:      time.Now,
	}
}

func (m *MemoryBackend) CreateBooking(ctx context.Context, p CreateParams) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromCall("bookings.create", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey{p.DoctorID, p.Date, p.Time}
	if _, taken := m.holding[key]; taken {
		return nil, apperr.New(apperr.KindConflict, "bookings.create",
			"slot %s %s already booked for doctor %s", p.Date, p.Time, p.DoctorID)
	}
	b := &Booking{
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
		CreatedAt:  m.now().UTC(),
	}
	m.bookings[b.ID] = b
	m.holding[key] = b.ID
	out := *b
	return &out, nil
}

func (m *MemoryBackend) GetBooking(ctx context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "bookings.get", "booking %s not found", id)
	}
	out := *b
	return &out, nil
}

func (m *MemoryBackend) FindActive(ctx context.Context, doctorID, date, clock string) (*Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.holding[slotKey{doctorID, date, clock}]
	if !ok {
		return nil, false, nil
	}
	out := *m.bookings[id]
	return &out, true, nil
}

func (m *MemoryBackend) ListUpcoming(ctx context.Context, f Filter) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Booking{}
	for _, b := range m.bookings {
		if f.DoctorID != "" && b.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientID != "" && b.PatientID != f.PatientID {
			continue
		}
		if f.Date != "" && b.Date != f.Date {
			continue
		}
		if f.FromDate != "" && b.Date < f.FromDate {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, b.Status) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) CancelBooking(ctx context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "bookings.cancel", "booking %s not found", id)
	}
	switch {
	case b.Status == StatusCancelled:
	case b.Status.Cancellable():
		b.Status = StatusCancelled
		delete(m.holding, slotKey{b.DoctorID, b.Date, b.Time})
	default:
		return nil, apperr.New(apperr.KindInvalidState, "bookings.cancel", "booking %s is %s", id, b.Status)
	}
	out := *b
	return &out, nil
}

func (m *MemoryBackend) MarkNeedsReconciliation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[id]; ok && b.Status == StatusPending {
		b.Status = StatusNeedsReconciliation
	}
	return nil
}

// SetStatus applies a backend-side transition such as confirmed or completed.
// Moving into a holding status claims the slot again and fails with a
// conflict when another booking holds it, as the partial index would.
func (m *MemoryBackend) SetStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "bookings.set_status", "booking %s not found", id)
	}
	key := slotKey{b.DoctorID, b.Date, b.Time}
	holder, held := m.holding[key]
	if status.Holding() {
		if held && holder != id {
			return apperr.New(apperr.KindConflict, "bookings.set_status",
				"slot %s %s already booked for doctor %s", b.Date, b.Time, b.DoctorID)
		}
		m.holding[key] = id
	} else if holder == id {
		delete(m.holding, key)
	}
	b.Status = status
	return nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MemoryDirectory serves doctors and shifts from maps.
type MemoryDirectory struct {
	mu      sync.RWMutex
	doctors map[string]Doctor
	shifts  map[string]Shift
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		doctors: make(map[string]Doctor),
		shifts:  make(map[string]Shift),
	}
}

// PutDoctor registers a doctor.
func (d *MemoryDirectory) PutDoctor(doc Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doctors[doc.ID] = doc
}

// PutShift registers a shift, replacing any shift for the same doctor and date.
func (d *MemoryDirectory) PutShift(s Shift) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shifts[s.DoctorID+"|"+s.Date] = s
}

func (d *MemoryDirectory) Doctor(ctx context.Context, id string) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "directory.doctor", "doctor %s not found", id)
	}
	return &doc, nil
}

func (d *MemoryDirectory) Shift(ctx context.Context, doctorID, date string) (Shift, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shifts[doctorID+"|"+date]
	return s, ok, nil
}

func (d *MemoryDirectory) ShiftsOn(ctx context.Context, date string, doctorIDs []string) ([]Shift, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []Shift{}
	for _, s := range d.shifts {
		if s.Date != date {
			continue
		}
		if len(doctorIDs) > 0 && !containsString(doctorIDs, s.DoctorID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoctorID < out[j].DoctorID })
	return out, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var (
	_ Backend   = (*MemoryBackend)(nil)
	_ Directory = (*MemoryDirectory)(nil)
)
