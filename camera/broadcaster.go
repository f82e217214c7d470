package camera

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/greendrake/octocast/util"
)

var (
	ErrBroadcasterClosed = errors.New("broadcaster is closed")
	ErrSubscriberExists  = errors.New("subscriber already exists")
	ErrSubscriberUnknown = errors.New("subscriber not found")
	ErrInvalidQueueSize  = errors.New("queue size must be positive")
)

// DropPolicy decides what happens when a subscriber's queue is full.
type DropPolicy int

const (
	// DropOldest discards the oldest queued value to make room for the new one.
	DropOldest DropPolicy = iota
	// Evict closes the subscription with util.ErrConsumerLagging.
	Evict
)

// Subscription is one consumer's bounded queue.
type Subscription[T any] struct {
	ID      string
	C       <-chan T
	ch      chan T
	policy  DropPolicy
	dropped atomic.Uint64
	mu      sync.Mutex
	err     error
}

// Dropped returns how many values were discarded for this subscriber.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Err tells why C was closed. It is nil while C is open.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription[T]) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Broadcaster fans values out from one writer to any number of subscribers.
// The registry is guarded by a single mutex; Publish never blocks on a subscriber.
// Values are shared by reference and must not be modified once published.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[string]*Subscription[T]
	closed    bool
	published uint64
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: make(map[string]*Subscription[T]),
	}
}

// Subscribe registers a subscriber whose queue holds up to size values.
func (b *Broadcaster[T]) Subscribe(id string, size int, policy DropPolicy) (*Subscription[T], error) {
	if size < 1 {
		return nil, ErrInvalidQueueSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBroadcasterClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}
	ch := make(chan T, size)
	s := &Subscription[T]{
		ID:     id,
		C:      ch,
		ch:     ch,
		policy: policy,
	}
	b.subs[id] = s
	return s, nil
}

// Unsubscribe removes a subscriber and closes its queue with util.ErrConsumerDisconnected.
func (b *Broadcaster[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, exists := b.subs[id]
	if !exists {
		return ErrSubscriberUnknown
	}
	delete(b.subs, id)
	s.end(util.ErrConsumerDisconnected)
	return nil
}

// Publish offers v to every subscriber and returns how many queued it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.published++
	n := 0
	for id, s := range b.subs {
		select {
		case s.ch <- v:
			n++
			continue
		default:
		}
		switch s.policy {
		case DropOldest:
			select {
			case <-s.ch:
			default:
			}
			s.dropped.Add(1)
			select {
			case s.ch <- v:
				n++
			default:
			}
		case Evict:
			delete(b.subs, id)
			s.end(util.ErrConsumerLagging)
		}
	}
	return n
}

// CloseWithError closes every subscription with err and rejects new ones.
func (b *Broadcaster[T]) CloseWithError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.end(err)
	}
}

func (b *Broadcaster[T]) Close() {
	b.CloseWithError(nil)
}

// Len returns the number of current subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster[T]) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}
