// Package bus is the broadcast fabric: typed events fan out to connected
// observers with lossless per-observer ordering. Slow observers lose their
// oldest queued events; producers never block.
package bus

import (
	"log/slog"
	"sync"

	"github.com/everloop-ai/everloop/pkg/protocol"
)

// EventHandler receives one broadcast event frame.
type EventHandler func(protocol.EventFrame)

// EventPublisher abstracts event broadcast + subscription. The gateway and
// the agent executor both publish through this interface.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event protocol.EventFrame)
}

const defaultQueueSize = 256

// Broadcaster implements EventPublisher with a bounded per-observer queue.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	queueSize int
}

type subscriber struct {
	queue chan protocol.EventFrame
	done  chan struct{}
}

// New creates a Broadcaster. queueSize <= 0 selects the default.
func New(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broadcaster{
		subs:      make(map[string]*subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers an observer. Events are delivered to handler in
// broadcast order on a dedicated goroutine. Re-subscribing an existing id
// replaces the previous subscription.
func (b *Broadcaster) Subscribe(id string, handler EventHandler) {
	sub := &subscriber{
		queue: make(chan protocol.EventFrame, b.queueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.queue:
				handler(ev)
			}
		}
	}()
}

// Unsubscribe removes an observer. Pending undelivered events are discarded.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
}

// Broadcast enqueues the event for every observer. When an observer's queue
// is full its oldest event is dropped to make room; the producer never blocks
// on delivery.
func (b *Broadcaster) Broadcast(event protocol.EventFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		b.enqueue(id, sub, event)
	}
}

// enqueue delivers the event to one observer, dropping its oldest queued
// events until the new one fits. The delivery goroutine can win the race for
// a freed slot, so a single drop-then-send is not enough; the incoming event
// itself is never the one dropped.
func (b *Broadcaster) enqueue(id string, sub *subscriber, event protocol.EventFrame) {
	for {
		select {
		case sub.queue <- event:
			return
		default:
		}
		select {
		case <-sub.queue:
			slog.Debug("bus: dropped oldest event for slow observer", "observer", id)
		default:
		}
	}
}
