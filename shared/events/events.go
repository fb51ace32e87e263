package events

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/models"
)

var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrInvalidReceiver = errors.New("receiver should be a pointer")
)

// Kind identifies one of the closed set of saga events. New kinds are a
// compile-time concern: routing tables below must cover every constant.
type Kind string

const (
	CheckInventory       Kind = "CHECK_INVENTORY"
	InventoryAvailable   Kind = "INVENTORY_AVAILABLE"
	InventoryUnavailable Kind = "INVENTORY_UNAVAILABLE"
	ReserveInventory     Kind = "RESERVE_INVENTORY"
	InventoryReserved    Kind = "INVENTORY_RESERVED"
	ReleaseInventory     Kind = "RELEASE_INVENTORY"
	InventoryReleased    Kind = "INVENTORY_RELEASED"

	ProcessPayment   Kind = "PROCESS_PAYMENT"
	PaymentProcessed Kind = "PAYMENT_PROCESSED"
	PaymentFailed    Kind = "PAYMENT_FAILED"
	RefundPayment    Kind = "REFUND_PAYMENT"
	PaymentRefunded  Kind = "PAYMENT_REFUNDED"

	ScheduleShipping  Kind = "SCHEDULE_SHIPPING"
	ShippingScheduled Kind = "SHIPPING_SCHEDULED"
	CancelShipping    Kind = "CANCEL_SHIPPING"
	ShippingCancelled Kind = "SHIPPING_CANCELLED"

	OrderCompleted Kind = "ORDER_COMPLETED"
	OrderFailed    Kind = "ORDER_FAILED"
)

func (k Kind) String() string {
	return string(k)
}

// IsCommand reports whether the kind requests work from a domain service,
// as opposed to reporting an outcome.
func (k Kind) IsCommand() bool {
	switch k {
	case CheckInventory, ReserveInventory, ReleaseInventory,
		ProcessPayment, RefundPayment, ScheduleShipping, CancelShipping:
		return true
	}
	return false
}

// Topic is the presentation topic an event is routed to. Topics are only
// consumed by external visualization; saga correctness never depends on them.
type Topic string

const (
	TopicOrders        Topic = "orders"
	TopicPayments      Topic = "payments"
	TopicShipping      Topic = "shipping"
	TopicNotifications Topic = "notifications"
)

var topicByKind = map[Kind]Topic{
	CheckInventory:       TopicOrders,
	InventoryAvailable:   TopicOrders,
	InventoryUnavailable: TopicOrders,
	ReserveInventory:     TopicOrders,
	InventoryReserved:    TopicOrders,
	ReleaseInventory:     TopicOrders,
	InventoryReleased:    TopicOrders,
	ProcessPayment:       TopicPayments,
	PaymentProcessed:     TopicPayments,
	PaymentFailed:        TopicPayments,
	RefundPayment:        TopicPayments,
	PaymentRefunded:      TopicPayments,
	ScheduleShipping:     TopicShipping,
	ShippingScheduled:    TopicShipping,
	CancelShipping:       TopicShipping,
	ShippingCancelled:    TopicShipping,
	OrderCompleted:       TopicNotifications,
	OrderFailed:          TopicNotifications,
}

var consumerGroupByKind = map[Kind]string{
	CheckInventory:    "inventory-group",
	ReserveInventory:  "inventory-group",
	ReleaseInventory:  "inventory-group",
	ProcessPayment:    "payment-group",
	RefundPayment:     "payment-group",
	ScheduleShipping:  "shipping-group",
	CancelShipping:    "shipping-group",
	ShippingScheduled: "notif-group",
	OrderCompleted:    "notif-group",
	OrderFailed:       "notif-group",
}

// Kinds returns every event kind in the closed set.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(topicByKind))
	for kind := range topicByKind {
		kinds = append(kinds, kind)
	}
	return kinds
}

// TopicOf returns the presentation topic for a kind.
func TopicOf(kind Kind) (Topic, error) {
	topic, ok := topicByKind[kind]
	if !ok {
		return "", ErrUnknownKind
	}
	return topic, nil
}

// ConsumerGroupOf returns the consumer group that services a kind, if any.
// Outcome kinds consumed only by coordinators have no group.
func ConsumerGroupOf(kind Kind) (string, bool) {
	group, ok := consumerGroupByKind[kind]
	return group, ok
}

// Metadata represents event metadata
type Metadata map[string]string

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) Set(key, value string) {
	m[key] = value
}

func (m Metadata) Clone() Metadata {
	clone := Metadata{}
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Event is a saga event. Immutable once published.
type Event struct {
	ID        models.ID   `json:"id"`
	Kind      Kind        `json:"kind"`
	Topic     Topic       `json:"topic"`
	Data      interface{} `json:"data"`
	Metadata  Metadata    `json:"metadata"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// EventHandler handles saga events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the EventHandler interface
type HandlerFunc func(ctx context.Context, event *Event) error

func (f HandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventStore stores and retrieves events
type EventStore interface {
	SaveEvents(ctx context.Context, orderID models.ID, events []*Event) error
	GetEvents(ctx context.Context, orderID models.ID) ([]*Event, error)
	GetEventsByKind(ctx context.Context, kind Kind, offset, limit int) ([]*Event, error)
}

// NewEvent creates a new saga event
func NewEvent(kind Kind, data interface{}) *Event {
	topic := topicByKind[kind]
	return &Event{
		ID:        models.GenerateUUID(),
		Kind:      kind,
		Topic:     topic,
		Data:      data,
		Metadata:  make(Metadata),
		Timestamp: time.Now(),
	}
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata.Set(key, value)
	return e
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	if b, ok := e.Data.([]byte); ok {
		return b, nil
	}

	if b, ok := e.Data.(json.RawMessage); ok {
		return b, nil
	}

	return json.Marshal(e.Data)
}

// UnmarshalPayload unmarshals the event payload into the given receiver.
// In-process events carry the payload struct itself, so the same-type case
// is a direct copy; transported events carry JSON bytes.
func (e *Event) UnmarshalPayload(v interface{}) error {
	vValue := reflect.ValueOf(v)
	if vValue.Kind() != reflect.Ptr {
		return ErrInvalidReceiver
	}

	vValue = vValue.Elem()
	payloadValue := reflect.ValueOf(e.Data)
	if payloadValue.IsValid() && vValue.Type() == payloadValue.Type() {
		vValue.Set(payloadValue)
		return nil
	}

	if b, ok := e.Data.([]byte); ok {
		return json.Unmarshal(b, v)
	}

	if b, ok := e.Data.(json.RawMessage); ok {
		return json.Unmarshal([]byte(b), v)
	}

	raw, err := e.MarshalPayload()
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, v)
}

// ToJSON converts event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// Clone creates a copy of the event
func (e *Event) Clone() *Event {
	return &Event{
		ID:        e.ID,
		Kind:      e.Kind,
		Topic:     e.Topic,
		Data:      e.Data,
		Metadata:  e.Metadata.Clone(),
		Timestamp: e.Timestamp,
	}
}
