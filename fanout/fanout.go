// Package fanout is the process-wide broadcast point: every relayed
// message is published once and delivered to every live subscription.
// Delivery is best effort, a subscriber that cannot keep up loses
// messages instead of slowing anyone else down.
package fanout

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/adwski/chat-relay/model"
	"github.com/rs/zerolog"
)

const defaultCapacity = 64

var ErrNoSubscribers = errors.New("no subscribers")

type Fanout struct {
	logger   zerolog.Logger
	mx       *sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
}

func New(logger *zerolog.Logger, capacity int) *Fanout {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Fanout{
		logger:   logger.With().Str("component", "fanout").Logger(),
		mx:       &sync.RWMutex{},
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
	}
}

// Subscribe registers a queue of the configured capacity. Sessions must
// subscribe before they start reading inbound traffic, or they could
// miss the very message their own traffic triggers.
func (f *Fanout) Subscribe() *Subscription {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.nextID++
	sub := &Subscription{
		f:  f,
		id: f.nextID,
		ch: make(chan *model.Message, f.capacity),
	}
	f.subs[sub.id] = sub
	f.logger.Debug().
		Uint64("subscriber", sub.id).
		Int("total", len(f.subs)).
		Msg("subscribed")
	return sub
}

// Publish delivers msg to every subscription without blocking. A full
// queue drops the message for that subscriber only and widens its gap.
// Publishing under the write lock keeps one total order: all
// subscribers observe the same interleaving of publishes.
func (f *Fanout) Publish(msg *model.Message) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	if len(f.subs) == 0 {
		return ErrNoSubscribers
	}
	for _, sub := range f.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.missed.Add(1)
			f.logger.Debug().
				Uint64("subscriber", sub.id).
				Str("room", msg.Room).
				Str("kind", msg.Data.Kind.String()).
				Msg("subscriber queue full, message dropped")
		}
	}
	return nil
}

func (f *Fanout) Subscribers() int {
	f.mx.RLock()
	defer f.mx.RUnlock()
	return len(f.subs)
}

func (f *Fanout) remove(id uint64) {
	f.mx.Lock()
	defer f.mx.Unlock()

	sub, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(sub.ch)
	f.logger.Debug().
		Uint64("subscriber", id).
		Int("total", len(f.subs)).
		Msg("unsubscribed")
}

type Subscription struct {
	f      *Fanout
	id     uint64
	ch     chan *model.Message
	missed atomic.Uint64
}

// C is the receive side. It is closed by Close.
func (s *Subscription) C() <-chan *model.Message {
	return s.ch
}

// Missed reports how many messages were dropped for this subscription
// since the last call, and resets the gap.
func (s *Subscription) Missed() uint64 {
	return s.missed.Swap(0)
}

// Close deregisters the subscription and closes its channel. Safe to
// call once the owning session is done receiving; repeated calls are
// no-ops.
func (s *Subscription) Close() {
	s.f.remove(s.id)
}
