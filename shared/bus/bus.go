// Package bus provides the in-process publish/subscribe router every
// component of the simulation communicates through. Dispatch is asynchronous:
// each subscriber runs on its own goroutine after an independent randomized
// delay, so completion order across subscribers is not guaranteed.
package bus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

// Severity classifies a log entry
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one line of the observability side-channel. Not part of saga
// correctness.
type LogEntry struct {
	Time     time.Time   `json:"time"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
}

const (
	defaultMinDelay    = 500 * time.Millisecond
	defaultMaxDelay    = 1000 * time.Millisecond
	defaultLogCapacity = 50
)

// Bus routes events to subscribers and keeps the process-wide event history.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[events.Kind][]events.EventHandler
	history     []*events.Event

	wg sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand

	minDelay time.Duration
	maxDelay time.Duration

	logMu   sync.Mutex
	entries []LogEntry
	logCap  int
}

// Option configures a Bus
type Option func(*Bus)

// WithDelayRange overrides the simulated dispatch latency. A zero max
// disables the delay entirely, which the tests rely on.
func WithDelayRange(min, max time.Duration) Option {
	return func(b *Bus) {
		b.minDelay = min
		b.maxDelay = max
	}
}

// WithRandSource makes the dispatch jitter deterministic
func WithRandSource(src rand.Source) Option {
	return func(b *Bus) {
		b.rng = rand.New(src)
	}
}

// WithLogCapacity overrides the ring buffer size of the side-channel log
func WithLogCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.logCap = n
		}
	}
}

// New creates an event bus
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[events.Kind][]events.EventHandler),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		minDelay:    defaultMinDelay,
		maxDelay:    defaultMaxDelay,
		logCap:      defaultLogCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ events.Publisher = (*Bus)(nil)

// Subscribe registers a handler for an event kind. Never fails; the registry
// is append-only for the process lifetime and invocation follows insertion
// order, though completion order is up to the scheduler.
func (b *Bus) Subscribe(kind events.Kind, handler events.EventHandler) {
	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
	b.mu.Unlock()

	b.Log("Subscription registered for event: "+kind.String(), SeverityInfo, nil)
}

// Publish records each event in the history and fans it out to every
// subscriber of its kind. Callers never wait for handlers; a handler error or
// panic is logged and isolated, never propagated or retried.
func (b *Bus) Publish(ctx context.Context, evts ...*events.Event) error {
	for _, event := range evts {
		if _, err := events.TopicOf(event.Kind); err != nil {
			return errors.Wrapf(err, "refusing to publish %q", event.Kind)
		}

		b.mu.Lock()
		b.history = append(b.history, event)
		handlers := make([]events.EventHandler, len(b.subscribers[event.Kind]))
		copy(handlers, b.subscribers[event.Kind])
		b.mu.Unlock()

		b.Log("Event published: "+event.Kind.String(), SeverityInfo, event.Data)

		for _, handler := range handlers {
			b.dispatch(ctx, event, handler)
		}
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, event *events.Event, handler events.EventHandler) {
	delay := b.randomDelay()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.Log("Handler panicked on "+event.Kind.String(), SeverityError, r)
			}
		}()

		if delay > 0 {
			time.Sleep(delay)
		}

		if err := handler.Handle(ctx, event); err != nil {
			b.Log("Handler failed on "+event.Kind.String(), SeverityWarning, err.Error())
		}
	}()
}

// After schedules fn on a bus-tracked goroutine once d elapses. Coordinators
// use it for the best-effort settle delay between a compensation command and
// the terminal event that follows it.
func (b *Bus) After(d time.Duration, fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.Log("Scheduled task panicked", SeverityError, r)
			}
		}()

		if d > 0 {
			time.Sleep(d)
		}
		fn()
	}()
}

// Drain blocks until every in-flight dispatch, including cascades published
// by handlers, has completed.
func (b *Bus) Drain() {
	b.wg.Wait()
}

// History returns a copy of the ordered event history
func (b *Bus) History() []*events.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := make([]*events.Event, len(b.history))
	copy(history, b.history)
	return history
}

// Log appends an entry to the capped side-channel log, evicting the oldest
// entry past capacity.
func (b *Bus) Log(message string, severity Severity, data interface{}) {
	b.logMu.Lock()
	defer b.logMu.Unlock()

	b.entries = append(b.entries, LogEntry{
		Time:     time.Now(),
		Severity: severity,
		Message:  message,
		Data:     data,
	})
	if len(b.entries) > b.logCap {
		b.entries = b.entries[len(b.entries)-b.logCap:]
	}
}

// Entries returns a copy of the side-channel log
func (b *Bus) Entries() []LogEntry {
	b.logMu.Lock()
	defer b.logMu.Unlock()

	entries := make([]LogEntry, len(b.entries))
	copy(entries, b.entries)
	return entries
}

func (b *Bus) randomDelay() time.Duration {
	if b.maxDelay <= 0 {
		return 0
	}
	if b.maxDelay <= b.minDelay {
		return b.minDelay
	}

	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.minDelay + time.Duration(b.rng.Int63n(int64(b.maxDelay-b.minDelay)))
}
