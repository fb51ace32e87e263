package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *bus.Bus {
	return bus.New(bus.WithDelayRange(0, 0))
}

func kindsOf(history []*events.Event) []events.Kind {
	kinds := make([]events.Kind, len(history))
	for i, event := range history {
		kinds[i] = event.Kind
	}
	return kinds
}

func TestService_CheckInventory(t *testing.T) {
	tests := []struct {
		name     string
		stock    map[string]int
		quantity int
		expected events.Kind
	}{
		{
			name:     "enough stock",
			stock:    map[string]int{"laptop": 10},
			quantity: 3,
			expected: events.InventoryAvailable,
		},
		{
			name:     "exactly enough stock",
			stock:    map[string]int{"laptop": 3},
			quantity: 3,
			expected: events.InventoryAvailable,
		},
		{
			name:     "not enough stock",
			stock:    map[string]int{"laptop": 2},
			quantity: 3,
			expected: events.InventoryUnavailable,
		},
		{
			name:     "unknown product",
			stock:    map[string]int{},
			quantity: 1,
			expected: events.InventoryUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBus()
			New(b, WithStock(tt.stock), WithoutDelay())

			require.NoError(t, b.Publish(context.Background(),
				events.NewEvent(events.CheckInventory, events.InventoryPayload{
					OrderID:  "ORD-1",
					Product:  "laptop",
					Quantity: tt.quantity,
				})))
			b.Drain()

			assert.Contains(t, kindsOf(b.History()), tt.expected)
		})
	}
}

func TestService_CheckInventoryReportsCurrentStock(t *testing.T) {
	b := newTestBus()
	New(b, WithStock(map[string]int{"tablet": 2}), WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.CheckInventory, events.InventoryPayload{
			OrderID:  "ORD-1",
			Product:  "tablet",
			Quantity: 5,
		})))
	b.Drain()

	history := b.History()
	require.Len(t, history, 2)
	assert.Equal(t, events.InventoryUnavailable, history[1].Kind)

	var p events.InventoryPayload
	require.NoError(t, history[1].UnmarshalPayload(&p))
	assert.Equal(t, 2, p.CurrentStock)
	assert.Equal(t, 5, p.Quantity)
}

func TestService_CheckInventoryDoesNotMutateLedger(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithStock(map[string]int{"laptop": 10}), WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.CheckInventory, events.InventoryPayload{
			OrderID:  "ORD-1",
			Product:  "laptop",
			Quantity: 4,
		})))
	b.Drain()

	assert.Equal(t, 10, svc.Stock("laptop"))
}

func TestService_ReserveDecrementsStock(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithStock(map[string]int{"smartphone": 15}), WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.ReserveInventory, events.InventoryPayload{
			OrderID:  "ORD-1",
			Product:  "smartphone",
			Quantity: 4,
		})))
	b.Drain()

	assert.Equal(t, 11, svc.Stock("smartphone"))

	history := b.History()
	require.Len(t, history, 2)
	assert.Equal(t, events.InventoryReserved, history[1].Kind)

	var p events.InventoryPayload
	require.NoError(t, history[1].UnmarshalPayload(&p))
	assert.Equal(t, 11, p.RemainingStock)
}

func TestService_ReleaseRestoresStock(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithStock(map[string]int{"headphones": 16}), WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.ReleaseInventory, events.InventoryPayload{
			OrderID:  "ORD-1",
			Product:  "headphones",
			Quantity: 4,
		})))
	b.Drain()

	assert.Equal(t, 20, svc.Stock("headphones"))
	assert.Contains(t, kindsOf(b.History()), events.InventoryReleased)
}

func TestService_ReserveThenReleaseIsNeutral(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithoutDelay())

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx,
		events.NewEvent(events.ReserveInventory, events.InventoryPayload{
			OrderID: "ORD-1", Product: "laptop", Quantity: 2,
		})))
	b.Drain()
	require.NoError(t, b.Publish(ctx,
		events.NewEvent(events.ReleaseInventory, events.InventoryPayload{
			OrderID: "ORD-1", Product: "laptop", Quantity: 2,
		})))
	b.Drain()

	assert.Equal(t, DefaultStock()["laptop"], svc.Stock("laptop"))
}

// Reservations from concurrent orders must serialize on the ledger: after n
// concurrent single-unit reservations the count drops by exactly n.
func TestService_ConcurrentReservationsStaySerialized(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithStock(map[string]int{"laptop": 1000}), WithoutDelay())

	const workers = 100

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = b.Publish(context.Background(),
				events.NewEvent(events.ReserveInventory, events.InventoryPayload{
					OrderID:  "ORD-STRESS",
					Product:  "laptop",
					Quantity: 1,
				}))
		}()
	}
	wg.Wait()
	b.Drain()

	assert.Equal(t, 1000-workers, svc.Stock("laptop"))
}

func TestDefaultStock(t *testing.T) {
	stock := DefaultStock()
	assert.Equal(t, 10, stock["laptop"])
	assert.Equal(t, 15, stock["smartphone"])
	assert.Equal(t, 8, stock["tablet"])
	assert.Equal(t, 20, stock["headphones"])
}
