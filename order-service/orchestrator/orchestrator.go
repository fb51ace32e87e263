// Package orchestrator implements the centralized saga topology: one
// coordinator owns the per-order state machine, issues every command event
// and interprets every outcome, including the compensation path.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ordersaga/fulfillment-system/order-service/domain"
	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/models"
	"github.com/ordersaga/fulfillment-system/shared/saga"
	"github.com/ordersaga/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// The settle delay is a best-effort ordering heuristic, not an
// acknowledgment: it gives RELEASE_INVENTORY time to land before the
// terminal ORDER_FAILED goes out.
const defaultSettleDelay = 1000 * time.Millisecond

// CreateOrderInput carries the caller-provided order fields
type CreateOrderInput struct {
	CustomerName string `json:"customer_name"`
	Product      string `json:"product"`
	Quantity     int    `json:"quantity"`
	Address      string `json:"address"`
}

// Orchestrator drives fulfillment sagas from a single place
type Orchestrator struct {
	bus         *bus.Bus
	orders      *domain.Repository
	tracker     *saga.Tracker
	settleDelay time.Duration
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithSettleDelay overrides the compensation settle delay (tests)
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.settleDelay = d
	}
}

// New creates an orchestrator with its own order registry and subscribes it
// to every outcome event it interprets.
func New(b *bus.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:         b,
		orders:      domain.NewRepository(),
		tracker:     saga.NewTracker(),
		settleDelay: defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(o)
	}

	b.Subscribe(events.InventoryAvailable, events.HandlerFunc(o.handleInventoryAvailable))
	b.Subscribe(events.InventoryUnavailable, events.HandlerFunc(o.handleInventoryUnavailable))
	b.Subscribe(events.InventoryReserved, events.HandlerFunc(o.handleInventoryReserved))
	b.Subscribe(events.PaymentProcessed, events.HandlerFunc(o.handlePaymentProcessed))
	b.Subscribe(events.PaymentFailed, events.HandlerFunc(o.handlePaymentFailed))
	b.Subscribe(events.ShippingScheduled, events.HandlerFunc(o.handleShippingScheduled))
	return o
}

// CreateOrder registers a new order and kicks off its saga. It returns the
// generated identifier immediately; callers observe progress through events.
func (o *Orchestrator) CreateOrder(ctx context.Context, in CreateOrderInput) (models.ID, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.create_order",
		trace.WithAttributes(
			attribute.String("product", in.Product),
			attribute.Int("quantity", in.Quantity),
		),
	)
	defer span.End()

	order, err := domain.NewOrder(in.CustomerName, in.Product, in.Quantity, in.Address)
	if err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, "invalid order")
	}

	o.orders.Save(order)
	o.tracker.Start(order.ID)
	o.bus.Log(fmt.Sprintf("[orchestrator] new order created: %s", order.ID), bus.SeverityInfo, in)

	o.transition(order.ID, domain.StatusCheckingInventory)
	if err := o.bus.Publish(ctx, events.NewEvent(events.CheckInventory, events.InventoryPayload{
		OrderID:  order.ID,
		Product:  order.Product,
		Quantity: order.Quantity,
	})); err != nil {
		span.RecordError(err)
		return "", err
	}

	return order.ID, nil
}

// GetOrder returns an order from this coordinator's registry
func (o *Orchestrator) GetOrder(id models.ID) (*domain.Order, bool) {
	return o.orders.Find(id)
}

// GetAllOrders returns every order this coordinator owns
func (o *Orchestrator) GetAllOrders() []*domain.Order {
	return o.orders.All()
}

// SagaStatus reports the tracked saga status for an order
func (o *Orchestrator) SagaStatus(id models.ID) (saga.Status, bool) {
	return o.tracker.Status(id)
}

func (o *Orchestrator) handleInventoryAvailable(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "inventory available: bad payload")
	}

	order, ok := o.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	o.bus.Log(fmt.Sprintf("[orchestrator] inventory available, reserving for order %s", order.ID), bus.SeverityInfo, nil)
	o.transition(order.ID, domain.StatusReservingInventory)
	o.tracker.Progress(order.ID)

	return o.bus.Publish(ctx, events.NewEvent(events.ReserveInventory, events.InventoryPayload{
		OrderID:  order.ID,
		Product:  order.Product,
		Quantity: order.Quantity,
	}))
}

func (o *Orchestrator) handleInventoryUnavailable(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "inventory unavailable: bad payload")
	}

	order, ok := o.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	o.bus.Log(fmt.Sprintf("[orchestrator] order %s failed: out of stock", order.ID), bus.SeverityError, nil)
	return o.fail(ctx, order, domain.ReasonOutOfStock)
}

func (o *Orchestrator) handleInventoryReserved(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "inventory reserved: bad payload")
	}

	order, ok := o.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	amount, err := domain.AmountFor(order.Product, order.Quantity)
	if err != nil {
		return errors.Wrap(err, "inventory reserved")
	}

	o.bus.Log(fmt.Sprintf("[orchestrator] inventory reserved, charging order %s", order.ID), bus.SeverityInfo, nil)
	o.transition(order.ID, domain.StatusProcessingPayment)

	return o.bus.Publish(ctx, events.NewEvent(events.ProcessPayment, events.PaymentRequestPayload{
		OrderID:      order.ID,
		Amount:       amount,
		CustomerName: order.CustomerName,
	}))
}

func (o *Orchestrator) handlePaymentProcessed(ctx context.Context, event *events.Event) error {
	var p events.PaymentResultPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "payment processed: bad payload")
	}

	order, ok := o.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	o.orders.Update(order.ID, func(ord *domain.Order) {
		ord.TransactionID = p.TransactionID
		ord.Status = domain.StatusSchedulingShipping
	})

	o.bus.Log(fmt.Sprintf("[orchestrator] payment processed, scheduling shipment for order %s", order.ID), bus.SeverityInfo, nil)

	return o.bus.Publish(ctx, events.NewEvent(events.ScheduleShipping, events.ShippingPayload{
		OrderID: order.ID,
		Address: order.Address,
		Product: order.Product,
	}))
}

// handlePaymentFailed runs the compensation: release the reservation first,
// then declare the order failed once the settle delay elapses.
func (o *Orchestrator) handlePaymentFailed(ctx context.Context, event *events.Event) error {
	var p events.PaymentResultPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "payment failed: bad payload")
	}

	order, ok := o.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	o.bus.Log(fmt.Sprintf("[orchestrator] payment declined, compensating order %s", order.ID), bus.SeverityError, nil)
	o.transition(order.ID, domain.StatusCompensating)
	o.tracker.Compensate(order.ID)

	if err := o.bus.Publish(ctx, events.NewEvent(events.ReleaseInventory, events.InventoryPayload{
		OrderID:  order.ID,
		Product:  order.Product,
		Quantity: order.Quantity,
	})); err != nil {
		return err
	}

	o.bus.After(o.settleDelay, func() {
		if err := o.fail(ctx, order, domain.ReasonPaymentDeclined); err != nil {
			o.bus.Log(fmt.Sprintf("[orchestrator] failed to close order %s", order.ID), bus.SeverityError, err.Error())
		}
	})
	return nil
}

func (o *Orchestrator) handleShippingScheduled(ctx context.Context, event *events.Event) error {
	var p events.ShippingPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "shipping scheduled: bad payload")
	}

	order, ok := o.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	o.orders.Update(order.ID, func(ord *domain.Order) {
		ord.TrackingNumber = p.TrackingNumber
		ord.Status = domain.StatusCompleted
	})
	o.tracker.Complete(order.ID)

	o.bus.Log(fmt.Sprintf("[orchestrator] shipment scheduled, order %s completed", order.ID), bus.SeveritySuccess, nil)
	telemetry.RecordCounter(ctx, "orders_terminal_total", "Orders reaching a terminal state", 1,
		attribute.String("topology", "orchestration"),
		attribute.String("status", string(domain.StatusCompleted)),
	)

	return o.bus.Publish(ctx, events.NewEvent(events.OrderCompleted, events.OrderResultPayload{
		OrderID:        order.ID,
		CustomerName:   order.CustomerName,
		TrackingNumber: p.TrackingNumber,
	}))
}

func (o *Orchestrator) fail(ctx context.Context, order *domain.Order, reason string) error {
	o.orders.Update(order.ID, func(ord *domain.Order) {
		ord.Status = domain.StatusFailed
		ord.FailureReason = reason
	})
	o.tracker.Fail(order.ID)

	telemetry.RecordCounter(ctx, "orders_terminal_total", "Orders reaching a terminal state", 1,
		attribute.String("topology", "orchestration"),
		attribute.String("status", string(domain.StatusFailed)),
	)

	return o.bus.Publish(ctx, events.NewEvent(events.OrderFailed, events.OrderResultPayload{
		OrderID:      order.ID,
		CustomerName: order.CustomerName,
		Reason:       reason,
	}))
}

// lookup fetches the order or logs a defensive no-op for events that belong
// to the other topology's registry.
func (o *Orchestrator) lookup(id models.ID, kind events.Kind) (*domain.Order, bool) {
	order, ok := o.orders.Find(id)
	if !ok {
		o.bus.Log(fmt.Sprintf("[orchestrator] no order %s for %s", id, kind), bus.SeverityWarning, nil)
		return nil, false
	}
	if order.Status.Terminal() {
		o.bus.Log(fmt.Sprintf("[orchestrator] order %s already terminal, ignoring %s", id, kind), bus.SeverityWarning, nil)
		return nil, false
	}
	return order, true
}

func (o *Orchestrator) transition(id models.ID, status domain.Status) {
	o.orders.Update(id, func(ord *domain.Order) {
		ord.Status = status
	})
}
