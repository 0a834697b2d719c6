package bus

import (
	"sync"
	"time"

	"github.com/stacklight/wabridge/pkg/messaging"
)

// Bus fans provider events out to any number of observer channels. Observers
// that fall behind are skipped rather than blocking the publisher.
type Bus struct {
	observers []chan Event
	mu        sync.RWMutex
}

func New() *Bus {
	return &Bus{observers: make([]chan Event, 0)}
}

// Subscribe returns a channel that receives copies of all bus events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.observers = append(b.observers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes an observer channel and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, obs := range b.observers {
		if obs == ch {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			close(ch)
			return
		}
	}
}

// PublishEvent fans out a domain event from the named provider.
func (b *Bus) PublishEvent(provider string, evt messaging.Event) {
	b.publish(Event{
		Kind:     KindProviderEvent,
		Provider: provider,
		Event:    &evt,
		Time:     time.Now(),
	})
}

// PublishPairing fans out one step of a QR pairing flow.
func (b *Bus) PublishPairing(provider string, evt messaging.PairingEvent) {
	b.publish(Event{
		Kind:     KindPairingQR,
		Provider: provider,
		Pairing:  &evt,
		Time:     time.Now(),
	})
}

func (b *Bus) publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, obs := range b.observers {
		select {
		case obs <- event:
		default:
			// Non-blocking: skip slow observers
		}
	}
}
