package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventPromptSynthesized EventType = "prompt_synthesized"
	EventJobSubmitted      EventType = "job_submitted"
	EventSessionCompleted  EventType = "session_completed"
	EventSessionFailed     EventType = "session_failed"
)

// Event is a progress notification for one session.
type Event struct {
	SessionID domain.SessionID `json:"session_id"`
	Type      EventType        `json:"type"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

const subscriberBuffer = 100

// EventBus fans session events out to subscribers. A slow subscriber loses events
// instead of blocking the publisher.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.SessionID][]chan Event // "" holds subscribers of every session
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.SessionID][]chan Event),
	}
}

// Subscribe returns a channel of events for one session and its unsubscribe func.
// Unsubscribing closes the channel.
func (b *EventBus) Subscribe(id domain.SessionID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = append(b.subs[id], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[id]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[id] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[id]) == 0 {
				delete(b.subs, id)
			}
		})
	}
	return ch, unsub
}

// SubscribeAll receives the events of every session.
func (b *EventBus) SubscribeAll() (<-chan Event, func()) {
	return b.Subscribe("")
}

func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[e.SessionID], e)
	if e.SessionID != "" {
		b.deliver(b.subs[""], e)
	}
}

func (b *EventBus) deliver(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "session_id", e.SessionID, "type", e.Type)
		}
	}
}
