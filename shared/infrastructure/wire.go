package infrastructure

import (
	"encoding/json"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// wireEvent is the envelope saga events travel in outside the process. The
// payload stays raw JSON so the receiving side can decode it into the typed
// payload for its kind.
type wireEvent struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  events.Metadata `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func toWire(event *events.Event) (*wireEvent, error) {
	payload, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	return &wireEvent{
		ID:        event.ID.String(),
		Kind:      event.Kind.String(),
		Topic:     string(event.Topic),
		Payload:   payload,
		Metadata:  event.Metadata,
		Timestamp: event.Timestamp,
	}, nil
}

func fromWire(w *wireEvent) *events.Event {
	metadata := w.Metadata
	if metadata == nil {
		metadata = make(events.Metadata)
	}

	return &events.Event{
		ID:        models.ID(w.ID),
		Kind:      events.Kind(w.Kind),
		Topic:     events.Topic(w.Topic),
		Data:      w.Payload,
		Metadata:  metadata,
		Timestamp: w.Timestamp,
	}
}
