package comm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is a published topic message.
type Event struct {
	ID     string
	Topic  string
	Data   any
	Source string
	Time   time.Time
}

// SubscriberFunc handles one delivered Event. Callbacks run
// concurrently with each other; a panic in one callback is isolated
// and does not affect the others or the publisher.
type SubscriberFunc func(ctx context.Context, ev Event)

type subscription struct {
	id string
	fn SubscriberFunc
}

// wireEvent is the transport encoding of an Event. Origin carries the
// publishing middleware's instance id so a bridge can drop its own
// echoes.
type wireEvent struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Topic  string `json:"topic"`
	Source string `json:"source"`
	Data   any    `json:"data"`
}

const topicPrefix = "arbor:topic:"

// Subscribe registers fn for events on topic and returns an
// unsubscribe function. With a transport configured, the first
// subscriber on a topic also starts a pump that feeds remote events
// into the local fan-out.
func (m *Middleware) Subscribe(topic string, fn SubscriberFunc) func() {
	sub := &subscription{id: uuid.NewString(), fn: fn}

	m.subsMu.Lock()
	m.subs[topic] = append(m.subs[topic], sub)
	needBridge := m.transport != nil && m.bridges[topic] == nil
	if needBridge {
		// Reserve the slot before dropping the lock so concurrent
		// subscribers start at most one pump.
		m.bridges[topic] = func() {}
	}
	m.subsMu.Unlock()

	if needBridge {
		m.startBridge(topic)
	}

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		list := m.subs[topic]
		for i, s := range list {
			if s == sub {
				m.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (m *Middleware) startBridge(topic string) {
	ch, cancel, err := m.transport.Subscribe(context.Background(), topicPrefix+topic)
	if err != nil {
		m.logger.Error("transport subscribe failed",
			zap.String("topic", topic), zap.Error(err))
		m.subsMu.Lock()
		delete(m.bridges, topic)
		m.subsMu.Unlock()
		return
	}

	m.subsMu.Lock()
	m.bridges[topic] = cancel
	m.subsMu.Unlock()

	go func() {
		for msg := range ch {
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				m.logger.Warn("bad transport event",
					zap.String("topic", topic), zap.Error(err))
				continue
			}
			if we.Origin == m.id {
				continue
			}
			m.dispatch(context.Background(), Event{
				ID:     we.ID,
				Topic:  we.Topic,
				Data:   we.Data,
				Source: we.Source,
				Time:   time.Now(),
			})
		}
	}()
}

// Publish delivers data to every subscriber of topic, invoking each
// callback in its own goroutine, and returns once all callbacks have
// finished. With a transport configured the event is also forwarded to
// remote middlewares.
func (m *Middleware) Publish(ctx context.Context, topic string, data any, source string) {
	ev := Event{
		ID:     uuid.NewString(),
		Topic:  topic,
		Data:   data,
		Source: source,
		Time:   time.Now(),
	}
	m.published.Add(1)
	m.dispatch(ctx, ev)

	if m.transport != nil {
		payload, err := json.Marshal(wireEvent{
			ID:     ev.ID,
			Origin: m.id,
			Topic:  topic,
			Source: source,
			Data:   data,
		})
		if err != nil {
			m.logger.Warn("event not transportable",
				zap.String("topic", topic), zap.Error(err))
			return
		}
		if err := m.transport.Publish(ctx, topicPrefix+topic, string(payload)); err != nil {
			m.logger.Error("transport publish failed",
				zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (m *Middleware) dispatch(ctx context.Context, ev Event) {
	m.subsMu.RLock()
	subs := make([]*subscription, len(m.subs[ev.Topic]))
	copy(subs, m.subs[ev.Topic])
	m.subsMu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("subscriber panicked",
						zap.String("topic", ev.Topic),
						zap.String("subscriber", sub.id),
						zap.Any("panic", r))
				}
			}()
			sub.fn(ctx, ev)
			m.delivered.Add(1)
		}(sub)
	}
	wg.Wait()
}
