// ABOUTME: In-process event bus for recording lifecycle and batch notifications
// ABOUTME: Subscribers get buffered channels; slow consumers lose oldest events
package recorder

import (
	"sync"

	"github.com/harper/recall/internal/models"
)

// EventKind discriminates bus events.
type EventKind string

const (
	// EventStatusChanged fires on every start, stop, and mode change.
	EventStatusChanged EventKind = "status_changed"
	// EventBatchRefreshed fires after every batch of accepted frames.
	EventBatchRefreshed EventKind = "batch_refreshed"
)

// Event is a recording notification. Stats is set for batch events.
type Event struct {
	Kind    EventKind
	Session models.RecordingSession
	Stats   models.RecordingStats
	Err     error
}

const subscriberBuffer = 16

// Bus fans recording events out to subscribers. Delivery is at-least-once
// with bounded memory: a subscriber that falls more than subscriberBuffer
// events behind loses the oldest ones. Consumers must tolerate gaps.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new consumer. The caller must eventually call
// Unsubscribe with the returned channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		for {
			select {
			case sub <- ev:
			default:
				// Full buffer: drop the oldest event and retry.
				select {
				case <-sub:
				default:
				}
				continue
			}
			break
		}
	}
}
