package payment

import (
	"context"
	"strings"
	"testing"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *bus.Bus {
	return bus.New(bus.WithDelayRange(0, 0))
}

func TestService_ProcessPaymentApproved(t *testing.T) {
	b := newTestBus()
	New(b, WithApproval(func() bool { return true }), WithoutDelay())

	amount := models.NewMoney(240000, "USD")
	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.ProcessPayment, events.PaymentRequestPayload{
			OrderID:      "ORD-1",
			Amount:       amount,
			CustomerName: "Ana Torres",
		})))
	b.Drain()

	history := b.History()
	require.Len(t, history, 2)
	require.Equal(t, events.PaymentProcessed, history[1].Kind)

	var p events.PaymentResultPayload
	require.NoError(t, history[1].UnmarshalPayload(&p))
	assert.Equal(t, models.ID("ORD-1"), p.OrderID)
	assert.True(t, strings.HasPrefix(p.TransactionID, "TXN-"))
	assert.Equal(t, amount, p.Amount)
	assert.Equal(t, "Ana Torres", p.CustomerName)
}

func TestService_ProcessPaymentDeclined(t *testing.T) {
	b := newTestBus()
	New(b, WithApproval(func() bool { return false }), WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.ProcessPayment, events.PaymentRequestPayload{
			OrderID: "ORD-2",
			Amount:  models.NewMoney(80000, "USD"),
		})))
	b.Drain()

	history := b.History()
	require.Len(t, history, 2)
	require.Equal(t, events.PaymentFailed, history[1].Kind)

	var p events.PaymentResultPayload
	require.NoError(t, history[1].UnmarshalPayload(&p))
	assert.Equal(t, ReasonCardDeclined, p.Reason)
	assert.Empty(t, p.TransactionID)
}

func TestService_RefundAlwaysSucceeds(t *testing.T) {
	b := newTestBus()
	New(b, WithApproval(func() bool { return false }), WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.RefundPayment, events.PaymentRequestPayload{
			OrderID:       "ORD-3",
			TransactionID: "TXN-99",
			Amount:        models.NewMoney(50000, "USD"),
		})))
	b.Drain()

	history := b.History()
	require.Len(t, history, 2)
	require.Equal(t, events.PaymentRefunded, history[1].Kind)

	var p events.PaymentResultPayload
	require.NoError(t, history[1].UnmarshalPayload(&p))
	assert.Equal(t, "TXN-99", p.TransactionID)
	assert.Equal(t, int64(50000), p.Amount.Amount)
}

func TestService_TransactionIDsAreUnique(t *testing.T) {
	b := newTestBus()
	New(b, WithApproval(func() bool { return true }), WithoutDelay())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx,
			events.NewEvent(events.ProcessPayment, events.PaymentRequestPayload{
				OrderID: "ORD-4",
				Amount:  models.NewMoney(1000, "USD"),
			})))
		b.Drain()
	}

	seen := make(map[string]bool)
	for _, event := range b.History() {
		if event.Kind != events.PaymentProcessed {
			continue
		}
		var p events.PaymentResultPayload
		require.NoError(t, event.UnmarshalPayload(&p))
		assert.False(t, seen[p.TransactionID], "duplicate transaction id %s", p.TransactionID)
		seen[p.TransactionID] = true
	}
	assert.Len(t, seen, 5)
}
