package bootstrap

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/calls"
	appconfig "github.com/wolfman30/consult-escrow/internal/config"
	"github.com/wolfman30/consult-escrow/internal/notify"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
	"github.com/wolfman30/consult-escrow/internal/reservations"
	"github.com/wolfman30/consult-escrow/internal/retry"
	"github.com/wolfman30/consult-escrow/internal/slots"
	"github.com/wolfman30/consult-escrow/internal/wallet"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// Core is the reservation and call machinery shared by the API and the
// reconciler.
type Core struct {
	Calculator *slots.Calculator
	Ledger     *wallet.LedgerClient
	Booker     *reservations.BookingCoordinator
	Canceller  *reservations.CancellationCoordinator
	Repairer   *reservations.Repairer
	Calls      *calls.StateMachine
	Watcher    *reservations.Watcher
}

// BuildCore wires the coordinators on top of stores. Notifications go through
// the outbox when one exists and are logged otherwise.
func BuildCore(cfg *appconfig.Config, stores *Stores, m *metrics.BookingMetrics, logger *logging.Logger) *Core {
	if logger == nil {
		logger = logging.Default()
	}
	calc := slots.NewCalculator(stores.Directory, stores.Backend, slots.Options{
		SlotMinutes:  cfg.SlotMinutes,
		DefaultStart: cfg.DefaultShiftStart,
		DefaultEnd:   cfg.DefaultShiftEnd,
		Location:     cfg.Location(),
	}, logger)
	ledger := wallet.NewLedgerClient(stores.Wallet, cfg.CallTimeout, m, logger)

	var notifier notify.Gateway = notify.NewLogGateway(logger)
	if stores.Outbox != nil {
		notifier = notify.NewOutboxGateway(stores.Outbox)
	}

	policy := retry.Policy{
		Attempts:  cfg.CompensationMaxAttempts,
		BaseDelay: cfg.CompensationBaseDelay,
		MaxDelay:  retry.DefaultPolicy().MaxDelay,
	}
	deps := reservations.Deps{
		Backend:    stores.Backend,
		Directory:  stores.Directory,
		Calculator: calc,
		Wallet:     ledger,
		Sagas:      stores.Sagas,
		Relay:      stores.Relay,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     logger,
	}
	opts := reservations.Options{
		HorizonDays:  cfg.BookingHorizonDays,
		CallTimeout:  cfg.CallTimeout,
		Compensation: policy,
	}
	machine := calls.NewStateMachine(stores.CallRecords, stores.Relay, logger,
		calls.WithCallTimeout(cfg.CallTimeout),
		calls.WithRetryPolicy(policy),
		calls.WithMetrics(m),
	)
	return &Core{
		Calculator: calc,
		Ledger:     ledger,
		Booker:     reservations.NewBookingCoordinator(deps, opts),
		Canceller:  reservations.NewCancellationCoordinator(deps, opts, reservations.FullRefund{}),
		Repairer:   reservations.NewRepairer(deps, opts),
		Calls:      machine,
		Watcher:    reservations.NewWatcher(stores.Relay, stores.Backend, ledger, machine, logger),
	}
}

// BuildNotificationFanout returns the transports the outbox dispatcher
// delivers to: SQS when a queue is configured, SES email to doctors when a
// sender is configured, and the log otherwise.
func BuildNotificationFanout(cfg *appconfig.Config, stores *Stores, sqsClient *sqs.Client, sesClient *sesv2.Client, logger *logging.Logger) notify.Fanout {
	var out notify.Fanout
	if sqsClient != nil && cfg.NotificationQueueURL != "" {
		out = append(out, notify.NewSQSGateway(sqsClient, cfg.NotificationQueueURL))
	}
	if sesClient != nil && cfg.SESFromEmail != "" {
		if gw := notify.NewSESGateway(sesClient, DoctorEmails(stores), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); gw != nil {
			out = append(out, gw)
		}
	}
	if len(out) == 0 {
		out = append(out, notify.NewLogGateway(logger))
	}
	return out
}

// DoctorEmails resolves receiver ids against the doctor directory. Patients
// have no directory entry and are skipped.
func DoctorEmails(stores *Stores) notify.EmailResolver {
	return notify.EmailResolverFunc(func(ctx context.Context, userID string) (string, bool, error) {
		doc, err := stores.Directory.Doctor(ctx, userID)
		if errors.Is(err, apperr.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return doc.Email, doc.Email != "", nil
	})
}
