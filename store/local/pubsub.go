package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message is an in-process pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// subscriber is one Subscribe call's endpoint. Its mutex makes sends
// and close mutually exclusive: a publisher holding a stale snapshot
// can never write into a closed channel.
type subscriber struct {
	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

func (s *subscriber) send(msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// PubSub is an in-process fan-out pub/sub. Delivery is non-blocking:
// a subscriber that cannot keep up loses messages instead of stalling
// the publisher, and every loss is counted.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	bufSize     int
	dropped     atomic.Int64
}

// NewPubSub creates a PubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *PubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &PubSub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		bufSize:     bufSize,
	}
}

// Publish sends a message to every current subscriber of the channel.
// A cancelled context aborts before any delivery.
func (ps *PubSub) Publish(ctx context.Context, channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps.mu.RLock()
	subs := make([]*subscriber, 0, len(ps.subscribers[channel]))
	for s := range ps.subscribers[channel] {
		subs = append(subs, s)
	}
	ps.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: message}
	for _, s := range subs {
		if !s.send(msg) {
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a shared message channel for the given channels and
// a cancel function. Cancel is idempotent; it detaches the subscriber
// from every channel and closes the message channel, after which no
// further delivery is possible.
func (ps *PubSub) Subscribe(_ context.Context, channels ...string) (<-chan *Message, func(), error) {
	sub := &subscriber{ch: make(chan *Message, ps.bufSize)}

	ps.mu.Lock()
	for _, c := range channels {
		set := ps.subscribers[c]
		if set == nil {
			set = make(map[*subscriber]struct{})
			ps.subscribers[c] = set
		}
		set[sub] = struct{}{}
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			for _, c := range channels {
				delete(ps.subscribers[c], sub)
				if len(ps.subscribers[c]) == 0 {
					delete(ps.subscribers, c)
				}
			}
			ps.mu.Unlock()
			sub.close()
		})
	}

	return sub.ch, cancel, nil
}

// Dropped returns how many messages were lost to full or closed
// subscriber buffers since creation.
func (ps *PubSub) Dropped() int64 {
	return ps.dropped.Load()
}
