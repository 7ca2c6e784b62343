package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handle identifies a subscription and is used to cancel it.
type Handle string

// Callback receives each published enriched transaction. It runs on a
// goroutine owned by the subscription, so a slow or panicking callback
// affects only its own subscription.
type Callback func(tx EnrichedTransaction)

// subscriber is one registered observer with its delivery queue.
type subscriber struct {
	handle   Handle
	callback Callback
	ch       chan EnrichedTransaction
	done     chan struct{}
	dropped  atomic.Uint64
}

// Bus fans enriched transactions out to registered observers. Delivery is
// fire-and-forget per subscriber: each subscriber drains a private buffered
// channel on its own goroutine, and a full buffer drops the event for that
// subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Handle]*subscriber
	bufferSize  int
	logger      *zap.Logger
	closed      bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a fan-out bus. bufferSize is the per-subscriber queue
// depth; values below 1 fall back to 64.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[Handle]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.Named("fanout"),
	}
}

// Subscribe registers callback and returns a handle for Unsubscribe.
func (b *Bus) Subscribe(callback Callback) Handle {
	sub := &subscriber{
		handle:   Handle(uuid.NewString()),
		callback: callback,
		ch:       make(chan EnrichedTransaction, b.bufferSize),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub.handle
	}
	b.subscribers[sub.handle] = sub
	b.mu.Unlock()

	go b.deliverLoop(sub)
	return sub.handle
}

// Unsubscribe removes the subscription. Events already queued for it are
// discarded; unknown handles are ignored.
func (b *Bus) Unsubscribe(handle Handle) {
	b.mu.Lock()
	sub, ok := b.subscribers[handle]
	if ok {
		delete(b.subscribers, handle)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish enqueues tx for every subscriber. It never blocks: a subscriber
// whose queue is full misses this event.
func (b *Bus) Publish(tx EnrichedTransaction) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- tx:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			sub.dropped.Add(1)
			b.logger.Debug("dropped event for slow subscriber",
				zap.String("handle", string(sub.handle)),
				zap.String("tx_hash", tx.Hash.Hex()))
		}
	}
}

// Close stops all subscriptions. Publish calls after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for handle, sub := range b.subscribers {
		close(sub.done)
		delete(b.subscribers, handle)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns cumulative published, delivered, and dropped counts.
func (b *Bus) Stats() (published, delivered, dropped uint64) {
	return b.published.Load(), b.delivered.Load(), b.dropped.Load()
}

// deliverLoop drains one subscriber's queue, shielding the bus from
// callbacks that block or panic.
func (b *Bus) deliverLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case tx := <-sub.ch:
			b.invoke(sub, tx)
		}
	}
}

func (b *Bus) invoke(sub *subscriber, tx EnrichedTransaction) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("subscriber callback panicked",
				zap.String("handle", string(sub.handle)),
				zap.Any("panic", r))
		}
	}()
	sub.callback(tx)
}
