package saga

import (
	"context"
	"time"

	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// Repairer drives one stale saga to a terminal state, or as far as it can.
type Repairer interface {
	Repair(ctx context.Context, rec Record) error
}

// Worker polls the ledger for stale sagas and hands them to a Repairer.
type Worker struct {
	ledger     Ledger
	repairer   Repairer
	logger     *logging.Logger
	batchSize  int
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewWorker(ledger Ledger, repairer Repairer, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		ledger:     ledger,
		repairer:   repairer,
		logger:     logger,
		batchSize:  25,
		interval:   30 * time.Second,
		staleAfter: 2 * time.Minute,
		now:        time.Now,
	}
}

func (w *Worker) WithBatchSize(size int) *Worker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *Worker) WithInterval(interval time.Duration) *Worker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithStaleAfter sets how long a saga must sit untouched before repair, so
// in-flight requests are left alone.
func (w *Worker) WithStaleAfter(d time.Duration) *Worker {
	if d > 0 {
		w.staleAfter = d
	}
	return w
}

func (w *Worker) Start(ctx context.Context) {
	if w.ledger == nil || w.repairer == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce repairs one batch and returns how many sagas were repaired.
func (w *Worker) RunOnce(ctx context.Context) int {
	records, err := w.ledger.ListRepairable(ctx, w.now().Add(-w.staleAfter), w.batchSize)
	if err != nil {
		w.logger.Error("saga fetch failed", "error", err)
		return 0
	}
	repaired := 0
	for _, rec := range records {
		if err := w.repairer.Repair(ctx, rec); err != nil {
			w.logger.Error("saga repair failed", "error", err, "booking_id", rec.BookingID,
				"kind", rec.Kind, "status", rec.Status, "attempts", rec.Attempts)
			if advErr := w.ledger.Advance(ctx, rec.BookingID, rec.Kind, rec.Status, err); advErr != nil {
				w.logger.Error("saga attempt record failed", "error", advErr, "booking_id", rec.BookingID)
			}
			continue
		}
		repaired++
		w.logger.Info("saga repaired", "booking_id", rec.BookingID, "kind", rec.Kind, "from_status", rec.Status)
	}
	return repaired
}
