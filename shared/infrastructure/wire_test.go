package infrastructure

import (
	"context"
	"sync"
	"testing"

	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	original := events.NewEvent(events.ProcessPayment, events.PaymentRequestPayload{
		OrderID:      "ORD-AAAA1111",
		Amount:       models.NewMoney(120000, "USD"),
		CustomerName: "Ana Torres",
	})
	original.Metadata.Set("source", "test")

	w, err := toWire(original)
	require.NoError(t, err)
	assert.Equal(t, original.ID.String(), w.ID)
	assert.Equal(t, "PROCESS_PAYMENT", w.Kind)
	assert.Equal(t, "payments", w.Topic)

	restored := fromWire(w)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Kind, restored.Kind)
	assert.Equal(t, original.Topic, restored.Topic)

	// The payload crossed the boundary as JSON but decodes to the same struct.
	var p events.PaymentRequestPayload
	require.NoError(t, restored.UnmarshalPayload(&p))
	assert.Equal(t, models.ID("ORD-AAAA1111"), p.OrderID)
	assert.Equal(t, int64(120000), p.Amount.Amount)

	source, ok := restored.Metadata.Get("source")
	require.True(t, ok)
	assert.Equal(t, "test", source)
}

func TestFromWire_NilMetadata(t *testing.T) {
	restored := fromWire(&wireEvent{
		ID:   "some-id",
		Kind: "ORDER_COMPLETED",
	})

	require.NotNil(t, restored.Metadata)
	restored.Metadata.Set("k", "v") // must not panic
}

type captureStore struct {
	mu    sync.Mutex
	saved map[models.ID][]*events.Event
}

func (s *captureStore) SaveEvents(ctx context.Context, orderID models.ID, evts []*events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[orderID] = append(s.saved[orderID], evts...)
	return nil
}

func (s *captureStore) GetEvents(ctx context.Context, orderID models.ID) ([]*events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[orderID], nil
}

func (s *captureStore) GetEventsByKind(ctx context.Context, kind events.Kind, offset, limit int) ([]*events.Event, error) {
	return nil, nil
}

func TestStoreRecorder_KeysByOrder(t *testing.T) {
	store := &captureStore{saved: make(map[models.ID][]*events.Event)}
	recorder := NewStoreRecorder(store)

	ctx := context.Background()
	require.NoError(t, recorder.Handle(ctx,
		events.NewEvent(events.CheckInventory, events.InventoryPayload{OrderID: "ORD-1"})))
	require.NoError(t, recorder.Handle(ctx,
		events.NewEvent(events.OrderCompleted, events.OrderResultPayload{OrderID: "ORD-1"})))
	require.NoError(t, recorder.Handle(ctx,
		events.NewEvent(events.CheckInventory, events.InventoryPayload{OrderID: "ORD-2"})))

	saved, err := store.GetEvents(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	saved, err = store.GetEvents(ctx, "ORD-2")
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestStoreRecorder_RejectsEventsWithoutOrder(t *testing.T) {
	store := &captureStore{saved: make(map[models.ID][]*events.Event)}
	recorder := NewStoreRecorder(store)

	err := recorder.Handle(context.Background(),
		events.NewEvent(events.OrderCompleted, map[string]string{"unrelated": "data"}))
	assert.Error(t, err)
}

func TestSplitToChunks(t *testing.T) {
	chunks := splitToChunks([]int{1, 2, 3, 4, 5, 6, 7}, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2, 3}, chunks[0])
	assert.Equal(t, []int{4, 5, 6}, chunks[1])
	assert.Equal(t, []int{7}, chunks[2])

	assert.Nil(t, splitToChunks([]int{}, 3))
}
