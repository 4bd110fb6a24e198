// Package eventbus implements the per-session ordered broadcast: a totally
// ordered sequence of envelopes delivered to subscribers (players and
// spectators), with snapshot-then-stream reconnection and a bounded tail so
// brief reconnects need no re-snapshot.
package eventbus

import "sync"

// DefaultTailSize is the minimum bounded tail the bus retains for
// reconnecting subscribers.
const DefaultTailSize = 64

// DefaultQueueSize is the default bound on a subscriber's outbound queue.
const DefaultQueueSize = 256

// Envelope is one emitted event.
type Envelope struct {
	Seq     uint64
	Kind    string
	Payload interface{}
}

type subscriber struct {
	ch   chan Envelope
	dead bool
}

// Bus is one session's event bus, independent of every other session's.
type Bus struct {
	mu        sync.Mutex
	seq       uint64
	tail      []Envelope
	tailStart uint64 // seq of the oldest entry currently in tail
	tailSize  int
	queueSize int
	subs      map[string]*subscriber
	onDrop    func(subscriberID string)
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithTailSize overrides DefaultTailSize.
func WithTailSize(n int) Option { return func(b *Bus) { b.tailSize = n } }

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option { return func(b *Bus) { b.queueSize = n } }

// WithDropHandler registers a callback invoked when a subscriber is
// dropped for being too slow, so the owner can close the backing socket.
func WithDropHandler(f func(subscriberID string)) Option {
	return func(b *Bus) { b.onDrop = f }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		tailSize:  DefaultTailSize,
		queueSize: DefaultQueueSize,
		subs:      make(map[string]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends kind/payload as the next envelope and fans it out to
// every live subscriber. Delivery is non-blocking per subscriber: a full
// queue marks that subscriber dead and drops it, rather than stalling the
// publishing session's actor goroutine.
func (b *Bus) Publish(kind string, payload interface{}) Envelope {
	b.mu.Lock()
	b.seq++
	env := Envelope{Seq: b.seq, Kind: kind, Payload: payload}

	b.tail = append(b.tail, env)
	if len(b.tail) > b.tailSize {
		drop := len(b.tail) - b.tailSize
		b.tail = b.tail[drop:]
	}
	if len(b.tail) > 0 {
		b.tailStart = b.tail[0].Seq
	}

	var dropped []string
	for id, sub := range b.subs {
		if sub.dead {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			sub.dead = true
			close(sub.ch)
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, id := range dropped {
		if b.onDrop != nil {
			b.onDrop(id)
		}
	}
	return env
}

// Subscribe registers subscriberID and returns the bus's current seq (the
// caller should take its state snapshot at this same logical instant) plus
// a channel that will receive every subsequent envelope. A prior
// subscription under the same id is replaced.
func (b *Bus) Subscribe(subscriberID string) (seqAtSnapshot uint64, events <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[subscriberID]; ok && !old.dead {
		close(old.ch)
	}
	ch := make(chan Envelope, b.queueSize)
	b.subs[subscriberID] = &subscriber{ch: ch}
	return b.seq, ch
}

// Resume resubscribes subscriberID for reconnection: if
// lastSeq is still covered by the tail (lastSeq >= TailStart()-1, i.e. no
// gap), the caller can stream tail events with seq > lastSeq and then this
// channel, without resending a full snapshot. If ok is false, lastSeq has
// fallen out of the tail and the caller must fall back to Subscribe's
// snapshot-then-stream path.
func (b *Bus) Resume(subscriberID string, lastSeq uint64) (tailEvents []Envelope, events <-chan Envelope, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.tail) > 0 && lastSeq < b.tailStart-1 {
		return nil, nil, false
	}
	if len(b.tail) == 0 && lastSeq != b.seq {
		return nil, nil, false
	}

	for _, env := range b.tail {
		if env.Seq > lastSeq {
			tailEvents = append(tailEvents, env)
		}
	}

	if old, ok := b.subs[subscriberID]; ok && !old.dead {
		close(old.ch)
	}
	ch := make(chan Envelope, b.queueSize)
	b.subs[subscriberID] = &subscriber{ch: ch}
	return tailEvents, ch, true
}

// Unsubscribe removes subscriberID and closes its channel.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[subscriberID]; ok {
		if !sub.dead {
			close(sub.ch)
		}
		delete(b.subs, subscriberID)
	}
}

// TailStart is the seq of the oldest event still retained.
func (b *Bus) TailStart() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tailStart
}

// CurrentSeq is the seq of the most recently published event (0 if none).
func (b *Bus) CurrentSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// SubscriberCount reports the number of live subscribers (players +
// spectators).
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if !s.dead {
			n++
		}
	}
	return n
}
