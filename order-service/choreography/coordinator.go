// Package choreography implements the decentralized saga topology. There is
// no central state machine: each subscription below is an independent
// reaction rule keyed on one outcome event, consulting a lightweight order
// registry only for the fields the next command needs. Correctness is
// emergent: it depends on every service publishing its expected event exactly
// once and on every rule being registered.
package choreography

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

const defaultSettleDelay = 1000 * time.Millisecond

// CreateOrderInput carries the caller-provided order fields
type CreateOrderInput struct {
	CustomerName string `json:"customer_name"`
	Product      string `json:"product"`
	Quantity     int    `json:"quantity"`
	Address      string `json:"address"`
}

// Coordinator registers the reaction rules and the order registry they
// consult. It issues only the initial command; everything after that is the
// rules reacting to each other's consequences.
type Coordinator struct {
	bus         *bus.Bus
	orders      *domain.Repository
	tracker     *saga.Tracker
	settleDelay time.Duration
}

// Option configures the coordinator
type Option func(*Coordinator)

// WithSettleDelay overrides the compensation settle delay (tests)
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.settleDelay = d
	}
}

// New creates the coordinator and registers every reaction rule
func New(b *bus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:         b,
		orders:      domain.NewRepository(),
		tracker:     saga.NewTracker(),
		settleDelay: defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(c)
	}

	b.Subscribe(events.InventoryAvailable, events.HandlerFunc(c.onInventoryAvailable))
	b.Subscribe(events.InventoryReserved, events.HandlerFunc(c.onInventoryReserved))
	b.Subscribe(events.PaymentProcessed, events.HandlerFunc(c.onPaymentProcessed))
	b.Subscribe(events.ShippingScheduled, events.HandlerFunc(c.onShippingScheduled))
	b.Subscribe(events.PaymentFailed, events.HandlerFunc(c.onPaymentFailed))
	b.Subscribe(events.InventoryUnavailable, events.HandlerFunc(c.onInventoryUnavailable))
	return c
}

// CreateOrder publishes only the initial CHECK_INVENTORY command; all
// subsequent coordination is emergent from the rule set.
func (c *Coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (models.ID, error) {
	ctx, span := telemetry.StartSpan(ctx, "choreography.create_order",
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

	c.orders.Save(order)
	c.tracker.Start(order.ID)
	c.bus.Log(fmt.Sprintf("[choreography] new order created: %s", order.ID), bus.SeverityInfo, in)

	if err := c.bus.Publish(ctx, events.NewEvent(events.CheckInventory, events.InventoryPayload{
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
func (c *Coordinator) GetOrder(id models.ID) (*domain.Order, bool) {
	return c.orders.Find(id)
}

// GetAllOrders returns every order this coordinator owns
func (c *Coordinator) GetAllOrders() []*domain.Order {
	return c.orders.All()
}

// SagaStatus reports the tracked saga status for an order
func (c *Coordinator) SagaStatus(id models.ID) (saga.Status, bool) {
	return c.tracker.Status(id)
}

// Rule: INVENTORY_AVAILABLE -> RESERVE_INVENTORY
func (c *Coordinator) onInventoryAvailable(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "inventory available rule: bad payload")
	}

	order, ok := c.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	c.bus.Log("[choreography] inventory available, moving to reserve", bus.SeverityInfo, nil)
	c.tracker.Progress(order.ID)

	return c.bus.Publish(ctx, events.NewEvent(events.ReserveInventory, events.InventoryPayload{
		OrderID:  order.ID,
		Product:  order.Product,
		Quantity: order.Quantity,
	}))
}

// Rule: INVENTORY_RESERVED -> PROCESS_PAYMENT
func (c *Coordinator) onInventoryReserved(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "inventory reserved rule: bad payload")
	}

	order, ok := c.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	amount, err := domain.AmountFor(order.Product, order.Quantity)
	if err != nil {
		return errors.Wrap(err, "inventory reserved rule")
	}

	c.bus.Log("[choreography] inventory reserved, payment takes over", bus.SeverityInfo, nil)

	return c.bus.Publish(ctx, events.NewEvent(events.ProcessPayment, events.PaymentRequestPayload{
		OrderID:      order.ID,
		Amount:       amount,
		CustomerName: order.CustomerName,
	}))
}

// Rule: PAYMENT_PROCESSED -> SCHEDULE_SHIPPING
func (c *Coordinator) onPaymentProcessed(ctx context.Context, event *events.Event) error {
	var p events.PaymentResultPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "payment processed rule: bad payload")
	}

	order, ok := c.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	c.orders.Update(order.ID, func(ord *domain.Order) {
		ord.TransactionID = p.TransactionID
	})
	c.bus.Log("[choreography] payment processed, shipping takes over", bus.SeverityInfo, nil)

	return c.bus.Publish(ctx, events.NewEvent(events.ScheduleShipping, events.ShippingPayload{
		OrderID: order.ID,
		Address: order.Address,
		Product: order.Product,
	}))
}

// Rule: SHIPPING_SCHEDULED -> ORDER_COMPLETED
func (c *Coordinator) onShippingScheduled(ctx context.Context, event *events.Event) error {
	var p events.ShippingPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "shipping scheduled rule: bad payload")
	}

	order, ok := c.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	c.orders.Update(order.ID, func(ord *domain.Order) {
		ord.TrackingNumber = p.TrackingNumber
		ord.Status = domain.StatusCompleted
	})
	c.tracker.Complete(order.ID)

	c.bus.Log("[choreography] shipment scheduled, saga completed", bus.SeveritySuccess, nil)
	telemetry.RecordCounter(ctx, "orders_terminal_total", "Orders reaching a terminal state", 1,
		attribute.String("topology", "choreography"),
		attribute.String("status", string(domain.StatusCompleted)),
	)

	return c.bus.Publish(ctx, events.NewEvent(events.OrderCompleted, events.OrderResultPayload{
		OrderID:        order.ID,
		CustomerName:   order.CustomerName,
		TrackingNumber: p.TrackingNumber,
	}))
}

// Rule: PAYMENT_FAILED -> RELEASE_INVENTORY, then ORDER_FAILED after the
// settle delay.
func (c *Coordinator) onPaymentFailed(ctx context.Context, event *events.Event) error {
	var p events.PaymentResultPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "payment failed rule: bad payload")
	}

	order, ok := c.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	c.bus.Log("[choreography] payment declined, inventory compensates", bus.SeverityError, nil)
	c.tracker.Compensate(order.ID)

	if err := c.bus.Publish(ctx, events.NewEvent(events.ReleaseInventory, events.InventoryPayload{
		OrderID:  order.ID,
		Product:  order.Product,
		Quantity: order.Quantity,
	})); err != nil {
		return err
	}

	c.bus.After(c.settleDelay, func() {
		if err := c.fail(ctx, order, domain.ReasonPaymentDeclined); err != nil {
			c.bus.Log(fmt.Sprintf("[choreography] failed to close order %s", order.ID), bus.SeverityError, err.Error())
		}
	})
	return nil
}

// Rule: INVENTORY_UNAVAILABLE -> ORDER_FAILED
func (c *Coordinator) onInventoryUnavailable(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "inventory unavailable rule: bad payload")
	}

	order, ok := c.lookup(p.OrderID, event.Kind)
	if !ok {
		return nil
	}

	c.bus.Log("[choreography] inventory unavailable, saga failed", bus.SeverityError, nil)
	return c.fail(ctx, order, domain.ReasonOutOfStock)
}

func (c *Coordinator) fail(ctx context.Context, order *domain.Order, reason string) error {
	c.orders.Update(order.ID, func(ord *domain.Order) {
		ord.Status = domain.StatusFailed
		ord.FailureReason = reason
	})
	c.tracker.Fail(order.ID)

	telemetry.RecordCounter(ctx, "orders_terminal_total", "Orders reaching a terminal state", 1,
		attribute.String("topology", "choreography"),
		attribute.String("status", string(domain.StatusFailed)),
	)

	return c.bus.Publish(ctx, events.NewEvent(events.OrderFailed, events.OrderResultPayload{
		OrderID:      order.ID,
		CustomerName: order.CustomerName,
		Reason:       reason,
	}))
}

// lookup silently skips events for orders owned by the other topology. Both
// coordinators share one bus, so every outcome event reaches both; the
// registry is what scopes reactions.
func (c *Coordinator) lookup(id models.ID, kind events.Kind) (*domain.Order, bool) {
	order, ok := c.orders.Find(id)
	if !ok {
		c.bus.Log(fmt.Sprintf("[choreography] no order %s for %s", id, kind), bus.SeverityWarning, nil)
		return nil, false
	}
	if order.Status.Terminal() {
		c.bus.Log(fmt.Sprintf("[choreography] order %s already terminal, ignoring %s", id, kind), bus.SeverityWarning, nil)
		return nil, false
	}
	return order, true
}
