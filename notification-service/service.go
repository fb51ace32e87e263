// Package notification implements the notification fan-out: it reacts to
// terminal and shipping events by logging a simulated email. It never
// publishes further events.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

const defaultSendDelay = 500 * time.Millisecond

// Service sends simulated customer notifications
type Service struct {
	bus       *bus.Bus
	sendDelay time.Duration

	mu   sync.Mutex
	sent map[events.Kind]int
}

// Option configures the service
type Option func(*Service)

// WithoutDelay disables the simulated send latency (tests)
func WithoutDelay() Option {
	return func(s *Service) {
		s.sendDelay = 0
	}
}

// New creates the notification service and subscribes it to its events
func New(b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		bus:       b,
		sendDelay: defaultSendDelay,
		sent:      make(map[events.Kind]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	b.Subscribe(events.OrderCompleted, events.HandlerFunc(s.sendOrderConfirmation))
	b.Subscribe(events.OrderFailed, events.HandlerFunc(s.sendOrderFailure))
	b.Subscribe(events.ShippingScheduled, events.HandlerFunc(s.sendShippingNotification))
	return s
}

// Sent returns how many notifications of a kind were delivered
func (s *Service) Sent(kind events.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[kind]
}

func (s *Service) sendOrderConfirmation(ctx context.Context, event *events.Event) error {
	var p events.OrderResultPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "order confirmation: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[notification] sending confirmation to %s", p.CustomerName), bus.SeverityInfo, nil)
	sleep(s.sendDelay)

	s.record(events.OrderCompleted)
	s.bus.Log(fmt.Sprintf("[notification] confirmation email sent for order %s", p.OrderID), bus.SeveritySuccess, nil)
	return nil
}

func (s *Service) sendOrderFailure(ctx context.Context, event *events.Event) error {
	var p events.OrderResultPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "order failure: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[notification] sending failure notice to %s", p.CustomerName), bus.SeverityInfo, nil)
	sleep(s.sendDelay)

	s.record(events.OrderFailed)
	s.bus.Log(fmt.Sprintf("[notification] failure email sent for order %s: %s", p.OrderID, p.Reason), bus.SeverityWarning, nil)
	return nil
}

func (s *Service) sendShippingNotification(ctx context.Context, event *events.Event) error {
	var p events.ShippingPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "shipping notification: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[notification] sending tracking info %s", p.TrackingNumber), bus.SeverityInfo, nil)
	sleep(s.sendDelay)

	s.record(events.ShippingScheduled)
	s.bus.Log(fmt.Sprintf("[notification] shipping email sent for order %s", p.OrderID), bus.SeveritySuccess, nil)
	return nil
}

func (s *Service) record(kind events.Kind) {
	s.mu.Lock()
	s.sent[kind]++
	s.mu.Unlock()
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
