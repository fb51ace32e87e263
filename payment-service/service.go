// Package payment implements the payment domain service. Processing succeeds
// with probability 0.8 unless an approval policy is injected; refunds always
// succeed.
package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

const (
	defaultProcessDelay = 1000 * time.Millisecond
	defaultRefundDelay  = 700 * time.Millisecond

	approvalRate = 0.8

	// ReasonCardDeclined is the fixed reason reported on a declined charge
	ReasonCardDeclined = "Tarjeta rechazada"
)

// Service charges and refunds orders
type Service struct {
	bus     *bus.Bus
	approve func() bool

	processDelay time.Duration
	refundDelay  time.Duration
}

// Option configures the service
type Option func(*Service)

// WithApproval replaces the probabilistic outcome with a policy, which is
// how tests force declines deterministically.
func WithApproval(approve func() bool) Option {
	return func(s *Service) {
		s.approve = approve
	}
}

// WithoutDelay disables the simulated processing latency (tests)
func WithoutDelay() Option {
	return func(s *Service) {
		s.processDelay = 0
		s.refundDelay = 0
	}
}

// New creates the payment service and subscribes it to its commands
func New(b *bus.Bus, opts ...Option) *Service {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex

	s := &Service{
		bus: b,
		approve: func() bool {
			rngMu.Lock()
			defer rngMu.Unlock()
			return rng.Float64() < approvalRate
		},
		processDelay: defaultProcessDelay,
		refundDelay:  defaultRefundDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.Subscribe(events.ProcessPayment, events.HandlerFunc(s.processPayment))
	b.Subscribe(events.RefundPayment, events.HandlerFunc(s.refundPayment))
	return s
}

func (s *Service) processPayment(ctx context.Context, event *events.Event) error {
	var p events.PaymentRequestPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "process payment: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[payment] charging %s for order %s", p.Amount, p.OrderID), bus.SeverityInfo, nil)
	sleep(s.processDelay)

	if s.approve() {
		transactionID := fmt.Sprintf("TXN-%d", time.Now().UnixNano())
		s.bus.Log(fmt.Sprintf("[payment] charge succeeded for order %s (%s)", p.OrderID, transactionID), bus.SeveritySuccess, nil)
		return s.bus.Publish(ctx, events.NewEvent(events.PaymentProcessed, events.PaymentResultPayload{
			OrderID:       p.OrderID,
			TransactionID: transactionID,
			Amount:        p.Amount,
			CustomerName:  p.CustomerName,
		}))
	}

	s.bus.Log(fmt.Sprintf("[payment] charge declined for order %s", p.OrderID), bus.SeverityError, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.PaymentFailed, events.PaymentResultPayload{
		OrderID: p.OrderID,
		Amount:  p.Amount,
		Reason:  ReasonCardDeclined,
	}))
}

// refundPayment is the compensation for a processed charge; it always
// succeeds.
func (s *Service) refundPayment(ctx context.Context, event *events.Event) error {
	var p events.PaymentRequestPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "refund payment: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[payment] refunding order %s", p.OrderID), bus.SeverityWarning, nil)
	sleep(s.refundDelay)

	s.bus.Log(fmt.Sprintf("[payment] refund completed (compensation) for order %s", p.OrderID), bus.SeverityWarning, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.PaymentRefunded, events.PaymentResultPayload{
		OrderID:       p.OrderID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
	}))
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
