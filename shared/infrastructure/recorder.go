package infrastructure

import (
	"context"

	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

// StoreRecorder is an event handler that appends every event it sees to an
// event store, keyed by the order the event belongs to. Subscribing it across
// all kinds turns the store into a durable copy of the bus history.
type StoreRecorder struct {
	store events.EventStore
}

// NewStoreRecorder creates a recorder over the given store
func NewStoreRecorder(store events.EventStore) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// Handle implements events.EventHandler
func (r *StoreRecorder) Handle(ctx context.Context, event *events.Event) error {
	orderID, ok := events.OrderIDOf(event)
	if !ok {
		return errors.Errorf("event %s carries no order reference", event.Kind)
	}

	return r.store.SaveEvents(ctx, orderID, []*events.Event{event})
}
