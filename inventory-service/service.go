// Package inventory implements the inventory domain service: it reacts to
// CHECK_INVENTORY, RESERVE_INVENTORY and RELEASE_INVENTORY commands and
// reports outcomes back over the bus. The stock ledger is mutex-serialized so
// reservations for the same product from concurrent orders stay atomic.
package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

const (
	defaultCheckDelay   = 800 * time.Millisecond
	defaultReserveDelay = 600 * time.Millisecond
	defaultReleaseDelay = 500 * time.Millisecond
)

// DefaultStock is the catalog the simulation starts with
func DefaultStock() map[string]int {
	return map[string]int{
		"laptop":     10,
		"smartphone": 15,
		"tablet":     8,
		"headphones": 20,
	}
}

// Service owns the stock ledger
type Service struct {
	bus *bus.Bus

	mu    sync.Mutex
	stock map[string]int

	checkDelay   time.Duration
	reserveDelay time.Duration
	releaseDelay time.Duration
}

// Option configures the service
type Option func(*Service)

// WithStock replaces the initial stock ledger
func WithStock(stock map[string]int) Option {
	return func(s *Service) {
		s.stock = make(map[string]int, len(stock))
		for product, units := range stock {
			s.stock[product] = units
		}
	}
}

// WithoutDelay disables the simulated processing latency (tests)
func WithoutDelay() Option {
	return func(s *Service) {
		s.checkDelay = 0
		s.reserveDelay = 0
		s.releaseDelay = 0
	}
}

// New creates the inventory service and subscribes it to its commands
func New(b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		bus:          b,
		stock:        DefaultStock(),
		checkDelay:   defaultCheckDelay,
		reserveDelay: defaultReserveDelay,
		releaseDelay: defaultReleaseDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.Subscribe(events.CheckInventory, events.HandlerFunc(s.checkInventory))
	b.Subscribe(events.ReserveInventory, events.HandlerFunc(s.reserveInventory))
	b.Subscribe(events.ReleaseInventory, events.HandlerFunc(s.releaseInventory))
	return s
}

// Stock returns the current units on hand for a product
func (s *Service) Stock(product string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[product]
}

// checkInventory is deterministic given current stock: available iff
// stock >= quantity. It never mutates the ledger.
func (s *Service) checkInventory(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "check inventory: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[inventory] checking availability for order %s", p.OrderID), bus.SeverityInfo, nil)
	sleep(s.checkDelay)

	s.mu.Lock()
	current := s.stock[p.Product]
	s.mu.Unlock()

	result := events.InventoryPayload{
		OrderID:      p.OrderID,
		Product:      p.Product,
		Quantity:     p.Quantity,
		CurrentStock: current,
	}

	if current >= p.Quantity {
		s.bus.Log(fmt.Sprintf("[inventory] stock available for order %s", p.OrderID), bus.SeveritySuccess, nil)
		return s.bus.Publish(ctx, events.NewEvent(events.InventoryAvailable, result))
	}

	s.bus.Log(fmt.Sprintf("[inventory] insufficient stock for order %s", p.OrderID), bus.SeverityError, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.InventoryUnavailable, result))
}

// reserveInventory decrements unconditionally; availability must have been
// checked beforehand by the caller.
func (s *Service) reserveInventory(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "reserve inventory: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[inventory] reserving stock for order %s", p.OrderID), bus.SeverityInfo, nil)
	sleep(s.reserveDelay)

	s.mu.Lock()
	s.stock[p.Product] -= p.Quantity
	remaining := s.stock[p.Product]
	s.mu.Unlock()

	s.bus.Log(fmt.Sprintf("[inventory] stock reserved for order %s", p.OrderID), bus.SeveritySuccess, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.InventoryReserved, events.InventoryPayload{
		OrderID:        p.OrderID,
		Product:        p.Product,
		Quantity:       p.Quantity,
		RemainingStock: remaining,
	}))
}

// releaseInventory is the compensation for a reservation. It assumes at most
// one release per reservation; nothing enforces that.
func (s *Service) releaseInventory(ctx context.Context, event *events.Event) error {
	var p events.InventoryPayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return errors.Wrap(err, "release inventory: bad payload")
	}

	s.bus.Log(fmt.Sprintf("[inventory] releasing stock for order %s", p.OrderID), bus.SeverityWarning, nil)
	sleep(s.releaseDelay)

	s.mu.Lock()
	s.stock[p.Product] += p.Quantity
	s.mu.Unlock()

	s.bus.Log(fmt.Sprintf("[inventory] stock released (compensation) for order %s", p.OrderID), bus.SeverityWarning, nil)
	return s.bus.Publish(ctx, events.NewEvent(events.InventoryReleased, events.InventoryPayload{
		OrderID:  p.OrderID,
		Product:  p.Product,
		Quantity: p.Quantity,
	}))
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
