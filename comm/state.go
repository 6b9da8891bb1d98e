package comm

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WatchFunc observes one state transition for a watched key.
type WatchFunc func(key string, old, new any, source string)

type watcher struct {
	id     string
	source string
	fn     WatchFunc
}

// StateChange is one entry of a key's bounded change history.
type StateChange struct {
	Time   time.Time
	Key    string
	Old    any
	New    any
	Source string
}

// WatchState registers fn for changes to key on behalf of source and
// returns an unwatch function. Watchers only fire when the stored
// value actually changes.
func (m *Middleware) WatchState(key string, fn WatchFunc, source string) func() {
	w := &watcher{id: uuid.NewString(), source: source, fn: fn}
	m.stateMu.Lock()
	m.watchers[key] = append(m.watchers[key], w)
	m.stateMu.Unlock()

	return func() {
		m.stateMu.Lock()
		defer m.stateMu.Unlock()
		list := m.watchers[key]
		for i, cand := range list {
			if cand == w {
				m.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// UpdateState stores a new value for key. When the value differs from
// the previous one the change is appended to the key's history and all
// watchers fire; an update to the identical value is a no-op.
func (m *Middleware) UpdateState(key string, value any, source string) {
	m.stateMu.Lock()
	old, existed := m.state[key]
	if existed && reflect.DeepEqual(old, value) {
		m.stateMu.Unlock()
		return
	}
	m.state[key] = value
	m.history[key] = append(m.history[key], StateChange{
		Time:   time.Now(),
		Key:    key,
		Old:    old,
		New:    value,
		Source: source,
	})
	if len(m.history[key]) > m.cfg.HistoryLimit {
		m.history[key] = m.history[key][len(m.history[key])-m.cfg.HistoryLimit:]
	}
	watchers := make([]*watcher, len(m.watchers[key]))
	copy(watchers, m.watchers[key])
	m.stateMu.Unlock()

	m.stateUpdates.Add(1)
	for _, w := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("state watcher panicked",
						zap.String("key", key),
						zap.String("watcher", w.source),
						zap.Any("panic", r))
				}
			}()
			w.fn(key, old, value, source)
		}()
	}
}

// State returns the current value for key.
func (m *Middleware) State(key string) (any, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	v, ok := m.state[key]
	return v, ok
}

// StateHistory returns a copy of the key's bounded change history,
// oldest first.
func (m *Middleware) StateHistory(key string) []StateChange {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	out := make([]StateChange, len(m.history[key]))
	copy(out, m.history[key])
	return out
}
