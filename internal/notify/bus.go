// Package notify implements the in-process typed pub/sub bus. Publishers
// never block: a subscriber whose buffer is full drops events and its drop
// counter increments.
package notify

import (
	"sync"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/types"
)

// Config bounds the bus.
type Config struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
	// HistorySize bounds the retained event ring buffer.
	HistorySize int
}

// DefaultConfig returns bus defaults.
func DefaultConfig() Config {
	return Config{SubscriberBuffer: 128, HistorySize: 1024}
}

// subscriber is one registered receiver with its drop accounting.
type subscriber struct {
	id      string
	ch      chan types.Event
	dropped uint64
}

// Bus fans typed events out to subscribers and retains the last N events.
type Bus struct {
	mu          sync.RWMutex
	cfg         Config
	subscribers map[string]*subscriber

	// ring buffer of retained events
	history []types.Event
	head    int
	full    bool

	published uint64
	closed    bool
}

// NewBus creates a bus.
func NewBus(cfg Config) *Bus {
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	return &Bus{
		cfg:         cfg,
		subscribers: make(map[string]*subscriber),
		history:     make([]types.Event, cfg.HistorySize),
	}
}

// Subscribe registers a receiver and returns its channel. Re-subscribing an
// existing id replaces the previous registration (its channel is closed).
func (b *Bus) Subscribe(id string) <-chan types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[id]; ok {
		close(old.ch)
	}
	sub := &subscriber{id: id, ch: make(chan types.Event, b.cfg.SubscriberBuffer)}
	b.subscribers[id] = sub
	logging.Events("Subscriber registered: %s", id)
	return sub.ch
}

// Unsubscribe removes a receiver and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
		logging.Events("Subscriber removed: %s (dropped=%d)", id, sub.dropped)
	}
}

// Notify fans an event out. The publisher never blocks: full subscriber
// buffers drop the event and count it.
func (b *Bus) Notify(event types.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.published++
	b.history[b.head] = event
	b.head = (b.head + 1) % len(b.history)
	if b.head == 0 {
		b.full = true
	}

	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.mu.Lock()
			sub.dropped++
			b.mu.Unlock()
			logging.EventsDebug("Subscriber %s full, dropped %s event", sub.id, event.Type)
		}
	}
}

// HistoryFilter narrows History results.
type HistoryFilter struct {
	Types    []types.EventType
	Severity types.Severity
	Limit    int
}

// History returns retained events, newest first, filtered.
func (b *Bus) History(filter HistoryFilter) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.head
	if b.full {
		size = len(b.history)
	}

	typeSet := map[types.EventType]bool{}
	for _, t := range filter.Types {
		typeSet[t] = true
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = size
	}

	out := make([]types.Event, 0, limit)
	for i := 0; i < size && len(out) < limit; i++ {
		// Walk backwards from the newest entry.
		idx := (b.head - 1 - i + len(b.history)) % len(b.history)
		ev := b.history[idx]
		if len(typeSet) > 0 && !typeSet[ev.Type] {
			continue
		}
		if filter.Severity != "" && ev.Severity != filter.Severity {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Stats reports bus counters.
type Stats struct {
	Published   uint64            `json:"published"`
	Subscribers int               `json:"subscribers"`
	Dropped     map[string]uint64 `json:"dropped"`
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := make(map[string]uint64, len(b.subscribers))
	for id, sub := range b.subscribers {
		dropped[id] = sub.dropped
	}
	return Stats{
		Published:   b.published,
		Subscribers: len(b.subscribers),
		Dropped:     dropped,
	}
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	logging.Events("Bus closed after %d events", b.published)
}
