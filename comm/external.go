package comm

import (
	"time"
)

// QueueEntry is one item of an external input or output channel.
type QueueEntry struct {
	Time    time.Time
	Channel string
	Source  string
	Data    any
}

// ExternalInput enqueues data arriving from outside the forest (a
// sensor reading, an operator command) on the named input channel.
// The queue is bounded; when full the oldest entry is dropped.
func (m *Middleware) ExternalInput(channel string, data any, source string) {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	m.inQ[channel] = appendBounded(m.inQ[channel], QueueEntry{
		Time:    time.Now(),
		Channel: channel,
		Source:  source,
		Data:    data,
	}, m.cfg.QueueLimit)
}

// DrainInput removes and returns all queued entries on the named input
// channel, oldest first.
func (m *Middleware) DrainInput(channel string) []QueueEntry {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	out := m.inQ[channel]
	delete(m.inQ, channel)
	return out
}

// ExternalOutput enqueues data produced by a tree for consumption
// outside the forest on the named output channel. The queue is
// bounded; when full the oldest entry is dropped.
func (m *Middleware) ExternalOutput(channel string, data any, source string) {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	m.outQ[channel] = appendBounded(m.outQ[channel], QueueEntry{
		Time:    time.Now(),
		Channel: channel,
		Source:  source,
		Data:    data,
	}, m.cfg.QueueLimit)
}

// DrainOutput removes and returns all queued entries on the named
// output channel, oldest first.
func (m *Middleware) DrainOutput(channel string) []QueueEntry {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	out := m.outQ[channel]
	delete(m.outQ, channel)
	return out
}

func appendBounded(q []QueueEntry, e QueueEntry, limit int) []QueueEntry {
	q = append(q, e)
	if len(q) > limit {
		q = q[len(q)-limit:]
	}
	return q
}
