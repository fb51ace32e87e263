package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/ordersaga/fulfillment-system/inventory-service"
	"github.com/ordersaga/fulfillment-system/notification-service"
	"github.com/ordersaga/fulfillment-system/order-service/domain"
	"github.com/ordersaga/fulfillment-system/payment-service"
	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/saga"
	"github.com/ordersaga/fulfillment-system/shipping-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	bus          *bus.Bus
	inventory    *inventory.Service
	notification *notification.Service
	orchestrator *Orchestrator
}

// newFixture wires the full simulation with zero latency and a forced
// payment outcome.
func newFixture(t *testing.T, approve bool, stock map[string]int) *fixture {
	t.Helper()

	b := bus.New(bus.WithDelayRange(0, 0))

	invOpts := []inventory.Option{inventory.WithoutDelay()}
	if stock != nil {
		invOpts = append(invOpts, inventory.WithStock(stock))
	}
	inv := inventory.New(b, invOpts...)
	payment.New(b, payment.WithApproval(func() bool { return approve }), payment.WithoutDelay())
	shipping.New(b, shipping.WithoutDelay())
	notif := notification.New(b, notification.WithoutDelay())

	return &fixture{
		bus:          b,
		inventory:    inv,
		notification: notif,
		orchestrator: New(b, WithSettleDelay(0)),
	}
}

func kindsOf(history []*events.Event) []events.Kind {
	kinds := make([]events.Kind, len(history))
	for i, event := range history {
		kinds[i] = event.Kind
	}
	return kinds
}

func TestOrchestrator_HappyPath(t *testing.T) {
	f := newFixture(t, true, nil)

	orderID, err := f.orchestrator.CreateOrder(context.Background(), CreateOrderInput{
		CustomerName: "Ana Torres",
		Product:      "laptop",
		Quantity:     2,
		Address:      "Calle 123",
	})
	require.NoError(t, err)
	f.bus.Drain()

	order, ok := f.orchestrator.GetOrder(orderID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.True(t, strings.HasPrefix(order.TransactionID, "TXN-"))
	assert.True(t, strings.HasPrefix(order.TrackingNumber, "TRACK-"))
	assert.Empty(t, order.FailureReason)

	status, ok := f.orchestrator.SagaStatus(orderID)
	require.True(t, ok)
	assert.Equal(t, saga.StatusCompleted, status)

	// Two laptops left the shelf.
	assert.Equal(t, 8, f.inventory.Stock("laptop"))

	kinds := kindsOf(f.bus.History())
	for _, expected := range []events.Kind{
		events.CheckInventory, events.InventoryAvailable,
		events.ReserveInventory, events.InventoryReserved,
		events.ProcessPayment, events.PaymentProcessed,
		events.ScheduleShipping, events.ShippingScheduled,
		events.OrderCompleted,
	} {
		assert.Contains(t, kinds, expected)
	}
	assert.NotContains(t, kinds, events.OrderFailed)
	assert.NotContains(t, kinds, events.ReleaseInventory)

	assert.Equal(t, 1, f.notification.Sent(events.OrderCompleted))
}

func TestOrchestrator_InsufficientInventory(t *testing.T) {
	f := newFixture(t, true, map[string]int{"tablet": 2})

	orderID, err := f.orchestrator.CreateOrder(context.Background(), CreateOrderInput{
		CustomerName: "Luis Mena",
		Product:      "tablet",
		Quantity:     5,
		Address:      "Calle 456",
	})
	require.NoError(t, err)
	f.bus.Drain()

	order, ok := f.orchestrator.GetOrder(orderID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, order.Status)
	assert.Equal(t, domain.ReasonOutOfStock, order.FailureReason)

	// Nothing was reserved, so nothing moved.
	assert.Equal(t, 2, f.inventory.Stock("tablet"))

	kinds := kindsOf(f.bus.History())
	assert.Contains(t, kinds, events.InventoryUnavailable)
	assert.Contains(t, kinds, events.OrderFailed)
	assert.NotContains(t, kinds, events.ReserveInventory)
	assert.NotContains(t, kinds, events.ProcessPayment)

	assert.Equal(t, 1, f.notification.Sent(events.OrderFailed))
}

func TestOrchestrator_PaymentFailureCompensates(t *testing.T) {
	f := newFixture(t, false, nil)

	orderID, err := f.orchestrator.CreateOrder(context.Background(), CreateOrderInput{
		CustomerName: "Ana Torres",
		Product:      "smartphone",
		Quantity:     3,
		Address:      "Calle 123",
	})
	require.NoError(t, err)
	f.bus.Drain()

	order, ok := f.orchestrator.GetOrder(orderID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, order.Status)
	assert.Equal(t, domain.ReasonPaymentDeclined, order.FailureReason)

	// The reservation was compensated: stock is back where it started.
	assert.Equal(t, inventory.DefaultStock()["smartphone"], f.inventory.Stock("smartphone"))

	// Compensation pairing: the release mirrors the reservation exactly.
	var reserved, released *events.InventoryPayload
	for _, event := range f.bus.History() {
		switch event.Kind {
		case events.ReserveInventory:
			var p events.InventoryPayload
			require.NoError(t, event.UnmarshalPayload(&p))
			reserved = &p
		case events.ReleaseInventory:
			var p events.InventoryPayload
			require.NoError(t, event.UnmarshalPayload(&p))
			released = &p
		}
	}
	require.NotNil(t, reserved)
	require.NotNil(t, released)
	assert.Equal(t, reserved.Product, released.Product)
	assert.Equal(t, reserved.Quantity, released.Quantity)

	kinds := kindsOf(f.bus.History())
	assert.Contains(t, kinds, events.PaymentFailed)
	assert.Contains(t, kinds, events.InventoryReleased)
	assert.Contains(t, kinds, events.OrderFailed)
	assert.NotContains(t, kinds, events.ScheduleShipping)
}

func TestOrchestrator_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, true, nil)

	tests := []struct {
		name  string
		input CreateOrderInput
	}{
		{"missing customer", CreateOrderInput{Product: "laptop", Quantity: 1}},
		{"zero quantity", CreateOrderInput{CustomerName: "Ana", Product: "laptop"}},
		{"unknown product", CreateOrderInput{CustomerName: "Ana", Product: "submarine", Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orchestrator.CreateOrder(context.Background(), tt.input)
			assert.Error(t, err)
		})
	}

	f.bus.Drain()
	assert.Empty(t, f.bus.History(), "invalid orders must not start a saga")
}

func TestOrchestrator_UnknownOrderEventIsNoOp(t *testing.T) {
	f := newFixture(t, true, nil)

	require.NoError(t, f.bus.Publish(context.Background(),
		events.NewEvent(events.InventoryAvailable, events.InventoryPayload{
			OrderID:  "ORD-GHOST123",
			Product:  "laptop",
			Quantity: 1,
		})))
	f.bus.Drain()

	// The orchestrator must not react: no follow-up command was issued.
	kinds := kindsOf(f.bus.History())
	assert.NotContains(t, kinds, events.ReserveInventory)
}

func TestOrchestrator_TerminalOrderIgnoresStragglers(t *testing.T) {
	f := newFixture(t, true, nil)

	orderID, err := f.orchestrator.CreateOrder(context.Background(), CreateOrderInput{
		CustomerName: "Ana Torres",
		Product:      "headphones",
		Quantity:     1,
		Address:      "Calle 123",
	})
	require.NoError(t, err)
	f.bus.Drain()

	order, _ := f.orchestrator.GetOrder(orderID)
	require.Equal(t, domain.StatusCompleted, order.Status)
	completedAt := order.Timestamps.UpdatedAt

	// A duplicate outcome after completion changes nothing.
	require.NoError(t, f.bus.Publish(context.Background(),
		events.NewEvent(events.PaymentProcessed, events.PaymentResultPayload{
			OrderID:       orderID,
			TransactionID: "TXN-DUPLICATE",
		})))
	f.bus.Drain()

	order, _ = f.orchestrator.GetOrder(orderID)
	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.NotEqual(t, "TXN-DUPLICATE", order.TransactionID)
	assert.Equal(t, completedAt, order.Timestamps.UpdatedAt)
}

func TestOrchestrator_ReplayMatchesFinalStatus(t *testing.T) {
	f := newFixture(t, true, nil)

	okID, err := f.orchestrator.CreateOrder(context.Background(), CreateOrderInput{
		CustomerName: "Ana Torres",
		Product:      "laptop",
		Quantity:     1,
		Address:      "Calle 123",
	})
	require.NoError(t, err)
	f.bus.Drain()

	statuses := domain.ReplayStatus(f.bus.History())
	assert.Equal(t, domain.StatusCompleted, statuses[okID])

	order, _ := f.orchestrator.GetOrder(okID)
	assert.Equal(t, order.Status, statuses[okID])
}

func TestOrchestrator_GetAllOrders(t *testing.T) {
	f := newFixture(t, true, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.orchestrator.CreateOrder(ctx, CreateOrderInput{
			CustomerName: "Ana Torres",
			Product:      "headphones",
			Quantity:     1,
			Address:      "Calle 123",
		})
		require.NoError(t, err)
	}
	f.bus.Drain()

	assert.Len(t, f.orchestrator.GetAllOrders(), 3)
}
