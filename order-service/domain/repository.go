package domain

import (
	"sort"
	"sync"

	"github.com/ordersaga/fulfillment-system/shared/models"
)

// Repository is an in-memory order registry. Each coordinator owns exactly
// one; orders are never visible across registries. Orders are kept for audit
// after reaching a terminal state.
type Repository struct {
	mu     sync.RWMutex
	orders map[models.ID]*Order
}

// NewRepository creates an empty order registry
func NewRepository() *Repository {
	return &Repository{orders: make(map[models.ID]*Order)}
}

// Save stores an order
func (r *Repository) Save(order *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
}

// Find returns a copy of the order, so readers never observe a mutation
// mid-flight.
func (r *Repository) Find(id models.ID) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, false
	}
	clone := *order
	return &clone, true
}

// Update applies fn to the order under the registry lock and bumps its
// update timestamp. Returns false when the order is unknown to this
// registry, e.g. an event that belongs to the other topology.
func (r *Repository) Update(id models.ID, fn func(*Order)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return false
	}
	fn(order)
	order.Timestamps = order.Timestamps.Update()
	return true
}

// All returns copies of every order, oldest first
func (r *Repository) All() []*Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Order, 0, len(r.orders))
	for _, order := range r.orders {
		clone := *order
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamps.CreatedAt.Before(all[j].Timestamps.CreatedAt)
	})
	return all
}
