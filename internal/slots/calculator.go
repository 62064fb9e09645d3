// Package slots derives bookable consultation times for a doctor on a date.
package slots

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// TimeSlot is a derived (doctor, date, time) triple.
type TimeSlot struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// Options tunes the calculator. Zero values fall back to defaults.
type Options struct {
	SlotMinutes  int
	DefaultStart string
	DefaultEnd   string
	Location     *time.Location
	Now          func() time.Time
}

// Calculator lists free slots. Nothing is cached between calls.
type Calculator struct {
	directory    bookings.Directory
	backend      bookings.Backend
	logger       *logging.Logger
	slotMinutes  int
	defaultStart string
	defaultEnd   string
	loc          *time.Location
	now          func() time.Time
}

// NewCalculator wires a calculator over the directory and booking backend.
func NewCalculator(directory bookings.Directory, backend bookings.Backend, opts Options, logger *logging.Logger) *Calculator {
	if backend == nil {
		panic("slots: booking backend required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.SlotMinutes <= 0 {
		opts.SlotMinutes = 30
	}
	if strings.TrimSpace(opts.DefaultStart) == "" {
		opts.DefaultStart = "08:00"
	}
	if strings.TrimSpace(opts.DefaultEnd) == "" {
		opts.DefaultEnd = "17:00"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Calculator{
		directory:    directory,
		backend:      backend,
		logger:       logger,
		slotMinutes:  opts.SlotMinutes,
		defaultStart: opts.DefaultStart,
		defaultEnd:   opts.DefaultEnd,
		loc:          opts.Location,
		now:          opts.Now,
	}
}

// SlotMinutes is the consultation length and grid step.
func (c *Calculator) SlotMinutes() int { return c.slotMinutes }

// Location is the clinic time zone used for "today".
func (c *Calculator) Location() *time.Location { return c.loc }

// Now returns the calculator's clock in the clinic time zone.
func (c *Calculator) Now() time.Time { return c.now().In(c.loc) }

// Window returns the working window for doctorID on date in minutes after
// midnight. A missing shift, a failed lookup or a malformed shift all degrade
// to the default window.
func (c *Calculator) Window(ctx context.Context, doctorID, date string) (start, end int) {
	if c.directory != nil {
		shift, found, err := c.directory.Shift(ctx, doctorID, date)
		switch {
		case err != nil:
			c.logger.Warn("shift lookup failed, using default window",
				"doctor_id", doctorID, "date", date, "error", err)
		case found:
			s, e, werr := shift.Window()
			if werr == nil {
				return s, e
			}
			c.logger.Warn("malformed shift, using default window",
				"doctor_id", doctorID, "date", date, "error", werr)
		}
	}
	s, _ := bookings.ParseClock(c.defaultStart)
	e, _ := bookings.ParseClock(c.defaultEnd)
	return s, e
}

// Fits reports whether a consultation starting at clock lies on the slot grid
// and ends within [start, end].
func (c *Calculator) Fits(start, end, clock int) bool {
	if clock < start || clock+c.slotMinutes > end {
		return false
	}
	return (clock-start)%c.slotMinutes == 0
}

// Available returns the free slots for doctorID on date in ascending order.
// The sequence is finite and may be ranged over any number of times; it is
// built from a fresh booking query on every call. A failed booking lookup is
// reported as unavailable rather than risking a taken slot.
func (c *Calculator) Available(ctx context.Context, doctorID, date string) (iter.Seq[TimeSlot], error) {
	const op = "slots.available"
	if strings.TrimSpace(doctorID) == "" || strings.TrimSpace(date) == "" {
		return nil, apperr.Validation(op, "doctor id and date are required")
	}
	day, err := bookings.ParseDate(date, c.loc)
	if err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	start, end := c.Window(ctx, doctorID, date)

	held, err := c.backend.ListUpcoming(ctx, bookings.Filter{
		DoctorID: doctorID,
		Date:     date,
		Statuses: bookings.HoldingStatuses(),
	})
	if err != nil {
		c.logger.Error("booking lookup failed, refusing to list slots",
			"doctor_id", doctorID, "date", date, "error", err)
		return nil, apperr.Wrap(apperr.KindUnavailable, op, err)
	}
	taken := make(map[string]struct{}, len(held))
	for _, b := range held {
		taken[b.Time] = struct{}{}
	}

	now := c.Now()
	today := sameDay(day, now)
	step := c.slotMinutes

	return func(yield func(TimeSlot) bool) {
		for t := start; t+step <= end; t += step {
			if today && Elapsed(t, now) {
				continue
			}
			clock := bookings.FormatClock(t)
			if _, ok := taken[clock]; ok {
				continue
			}
			if !yield(TimeSlot{DoctorID: doctorID, Date: date, Time: clock}) {
				return
			}
		}
	}, nil
}

// Elapsed reports whether clock (minutes after midnight) is strictly before
// the wall-clock time of now.
func Elapsed(clock int, now time.Time) bool {
	return clock*60 < now.Hour()*3600+now.Minute()*60+now.Second()
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool { return sameDay(a, b) }

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
