package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator.
const (
	EventState   = "pipeline.state"
	EventSummary = "pipeline.summary"
)

// Event is one entry on the event stream.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	RunID     string          `json:"run_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventFilter selects events for a subscriber. Empty fields match everything.
type EventFilter struct {
	Types []string
	RunID string
}

// EventBus provides pub-sub distribution of pipeline events.
// It maintains a ring buffer for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	if ringSize <= 0 {
		ringSize = 1
	}
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe(filter EventFilter) (<-chan Event, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan Event, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subscribers, id)
			eb.mu.Unlock()
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// ReplaySince returns buffered events after the given event ID, oldest first.
// An empty or unknown ID (overwritten by ring wrap) replays the whole buffer.
func (eb *EventBus) ReplaySince(lastEventID string, filter EventFilter) []Event {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var all, after []Event
	found := false
	for i := 0; i < eb.ringSize; i++ {
		idx := (eb.ringHead + i) % eb.ringSize
		e := eb.ring[idx]
		if e.ID == "" || !matchesFilter(e, filter) && e.ID != lastEventID {
			continue
		}
		if e.ID == lastEventID {
			found = true
			after = after[:0]
			continue
		}
		all = append(all, e)
		if found {
			after = append(after, e)
		}
	}
	if found {
		return after
	}
	return all
}

// Publish sends an event to all matching subscribers and adds it to the ring buffer.
func (eb *EventBus) Publish(eventType, runID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	now := time.Now()
	seq := eb.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:      eventType,
		RunID:     runID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	eb.mu.RUnlock()
}

func matchesFilter(e Event, f EventFilter) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if strings.TrimSpace(t) == e.Type {
			return true
		}
	}
	return false
}
