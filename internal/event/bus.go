package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/logger"
)

// Subscription identifies one registered handler. Cancel it to stop
// receiving events; cancelling twice is a no-op.
type Subscription struct {
	bus     *Bus
	typ     Type
	handler Handler
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}

// Bus is the process-wide publish/subscribe dispatcher. Publish never
// blocks the publisher: events queue internally and a single dispatch
// goroutine delivers them in publish order, which gives every subscriber
// FIFO delivery per event type. Handler panics are caught, logged, and
// never interrupt delivery to the remaining subscribers.
type Bus struct {
	log *logger.Logger

	mu   sync.Mutex
	cond *sync.Cond
	subs map[Type][]*Subscription

	queue []Event
	// published and dispatched are monotonic event counters.
	published  uint64
	dispatched uint64
	closed     bool

	wg sync.WaitGroup
}

// NewBus creates a started bus. Call Close to stop dispatching.
func NewBus(log *logger.Logger) *Bus {
	b := &Bus{
		log:  log,
		subs: make(map[Type][]*Subscription),
	}
	b.cond = sync.NewCond(&b.mu)

	b.wg.Add(1)
	go b.run()

	return b
}

// Subscribe registers a handler for one event type. It may be called at
// any time, including from inside a handler; a handler registered during
// dispatch of an event does not receive that event.
func (b *Bus) Subscribe(typ Type, handler Handler) *Subscription {
	sub := &Subscription{bus: b, typ: typ, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Copy-on-write so in-flight dispatch snapshots stay untouched.
	existing := b.subs[typ]
	next := make([]*Subscription, len(existing), len(existing)+1)
	copy(next, existing)
	b.subs[typ] = append(next, sub)

	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subs[sub.typ]
	next := make([]*Subscription, 0, len(existing))

	for _, s := range existing {
		if s != sub {
			next = append(next, s)
		}
	}

	b.subs[sub.typ] = next
}

// Publish enqueues the event and returns immediately.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.queue = append(b.queue, e)
	b.published++
	b.cond.Broadcast()
}

// Flush blocks until every event published before the call has been
// dispatched. Used by tests and orderly shutdown.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.published
	for b.dispatched < target && !b.closed {
		b.cond.Wait()
	}
}

// Close drains pending events and stops the dispatch goroutine.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return
	}

	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	b.wg.Wait()

	// Wake anyone parked in Flush.
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Bus) run() {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}

		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()

			return
		}

		e := b.queue[0]
		b.queue = b.queue[1:]
		// Snapshot before invoking: handlers subscribed during dispatch
		// of e must not receive e.
		snapshot := b.subs[e.Type]
		b.mu.Unlock()

		for _, sub := range snapshot {
			b.deliver(sub, e)
		}

		b.mu.Lock()
		b.dispatched++
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// deliver invokes one handler with panic isolation. A faulty strategy
// handler must never stop delivery to the others sharing the bus.
func (b *Bus) deliver(sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event_type", string(e.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	sub.handler(e)
}
