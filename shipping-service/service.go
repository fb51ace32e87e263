// Package shipping implements the shipping domain service. Scheduling always
// succeeds and produces a tracking number with an estimated delivery three
// days out; cancellation is the compensating action.
package shipping

import (
	"context"
	"fmt"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

const (
	defaultScheduleDelay = 900 * time.Millisecond
	defaultCancelDelay   = 600 * time.Millisecond

	deliveryLeadDays = 3
)

// Service schedules and cancels shipments
type Service struct {
	bus *bus.Bus

	scheduleDelay time.Duration
	cancelDelay   time.Duration

	now func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithoutDelay disables the simulated processing latency (tests)
func WithoutDelay() Option {
	return func(s *Service) {
		s.scheduleDelay = 0
		s.cancelDelay = 0
	}
}

// WithClock overrides the clock used for delivery estimates (tests)
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates the shipping service and subscribes it to its commands
func New(b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		bus:           b,
		scheduleDelay: defaultScheduleDelay,
		cancelDelay:   defaultCancelDelay,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.Subscribe(events.ScheduleShipping, events.HandlerFunc(s.scheduleShipping))
	b.Subscribe(events.CancelShipping, events.HandlerFunc(s.cancelShipping))
	return s
}

func (s *Service) scheduleShipping(ctx context.Context, event *events.Event) error {
	var p events.ShippingPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "schedule shipping: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[shipping] scheduling shipment for order %s", p.OrderID), bus.SeverityInfo, nil)
	sleep(s.scheduleDelay)

	trackingNumber := fmt.Sprintf("TRACK-%d", time.Now().UnixNano())
	estimated := s.now().AddDate(0, 0, deliveryLeadDays).Format("2006-01-02")

	s.bus.Log(fmt.Sprintf("[shipping] shipment scheduled for order %s (%s)", p.OrderID, trackingNumber), bus.SeveritySuccess, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.ShippingScheduled, events.ShippingPayload{
		OrderID:           p.OrderID,
		Address:           p.Address,
		TrackingNumber:    trackingNumber,
		EstimatedDelivery: estimated,
	}))
}

// cancelShipping is the compensation for a scheduled shipment; it always
// succeeds.
func (s *Service) cancelShipping(ctx context.Context, event *events.Event) error {
	var p events.ShippingPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "cancel shipping: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[shipping] cancelling shipment for order %s", p.OrderID), bus.SeverityWarning, nil)
	sleep(s.cancelDelay)

	s.bus.Log(fmt.Sprintf("[shipping] shipment cancelled (compensation) for order %s", p.OrderID), bus.SeverityWarning, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.ShippingCancelled, events.ShippingPayload{
		OrderID:        p.OrderID,
		TrackingNumber: p.TrackingNumber,
	}))
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
