package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
)

type blockingService struct {
	*MemoryService
}

func (b blockingService) Debit(ctx context.Context, m Mutation) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLedgerClientUsesBookingKeys(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	svc.Seed("p", 1000)
	client := NewLedgerClient(svc, time.Second, nil, nil)

	require.NoError(t, client.ChargeBookingFee(ctx, "p", "b1", 300))
	applied, err := client.DebitApplied(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, applied)

	refunded, err := client.RefundApplied(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, refunded)

	require.NoError(t, client.RefundBooking(ctx, "p", "b1", 300))
	entry, found, _ := svc.Entry(ctx, "b1-refund")
	require.True(t, found)
	assert.Equal(t, ReasonRefund, entry.Reason)
	assert.Equal(t, "b1", entry.RelatedBookingID)

	balance, err := client.Balance(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestLedgerClientPerCallTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)
	client := NewLedgerClient(blockingService{NewMemoryService()}, 10*time.Millisecond, m, nil)

	err := client.ChargeBookingFee(context.Background(), "p", "b1", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.True(t, apperr.Ambiguous(err))

	families, err := reg.Gather()
	require.NoError(t, err)
	var timeouts float64
	for _, mf := range families {
		if mf.GetName() != "consult_wallet_operations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() == "timeout" {
					timeouts += metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(1), timeouts)
}
