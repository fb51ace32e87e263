// Package saga holds the lightweight saga bookkeeping shared by both
// topologies. There is no saga engine here: in orchestration the coordinator
// owns the state machine, in choreography the flow is emergent from the
// reaction rules. The tracker only records where each saga stands.
package saga

import (
	"sync"

	"github.com/ordersaga/fulfillment-system/shared/models"
)

// Status represents the current status of a saga (used for tracking only)
type Status string

const (
	StatusStarted      Status = "started"
	StatusInProgress   Status = "in_progress"
	StatusCompensating Status = "compensating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether a saga has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Tracker records per-saga status. Safe for concurrent handlers.
type Tracker struct {
	mu     sync.RWMutex
	states map[models.ID]Status
}

// NewTracker creates an empty saga tracker
func NewTracker() *Tracker {
	return &Tracker{states: make(map[models.ID]Status)}
}

// Start marks a new saga as started
func (t *Tracker) Start(id models.ID) {
	t.set(id, StatusStarted)
}

// Progress marks a saga as in progress
func (t *Tracker) Progress(id models.ID) {
	t.set(id, StatusInProgress)
}

// Compensate marks a saga as compensating
func (t *Tracker) Compensate(id models.ID) {
	t.set(id, StatusCompensating)
}

// Complete marks a saga as completed
func (t *Tracker) Complete(id models.ID) {
	t.set(id, StatusCompleted)
}

// Fail marks a saga as failed
func (t *Tracker) Fail(id models.ID) {
	t.set(id, StatusFailed)
}

// Status returns the recorded status for a saga
func (t *Tracker) Status(id models.ID) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[id]
	return s, ok
}

func (t *Tracker) set(id models.ID, s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A terminal saga never moves again.
	if current, ok := t.states[id]; ok && current.Terminal() {
		return
	}
	t.states[id] = s
}
