package comm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ServiceHandler serves one Request invocation.
type ServiceHandler func(ctx context.Context, params map[string]any) (any, error)

// BehaviorFunc is a remotely callable behavior exposed by a node.
type BehaviorFunc func(ctx context.Context, params map[string]any) (any, error)

// BehaviorCall is one entry of the behavior call log.
type BehaviorCall struct {
	Time     time.Time
	Behavior string
	Source   string
	Err      string
}

// RegisterService exposes a named request/response handler. A second
// registration under the same name replaces the first.
func (m *Middleware) RegisterService(name string, h ServiceHandler) {
	m.svcMu.Lock()
	m.services[name] = h
	m.svcMu.Unlock()
	m.logger.Debug("service registered", zap.String("service", name))
}

// UnregisterService removes a named handler.
func (m *Middleware) UnregisterService(name string) {
	m.svcMu.Lock()
	delete(m.services, name)
	m.svcMu.Unlock()
}

// Request invokes the named service synchronously and returns its
// response. An unregistered name yields ErrUnknownService; a handler
// panic is converted to an error rather than unwinding the caller.
func (m *Middleware) Request(ctx context.Context, service string, params map[string]any, source string) (resp any, err error) {
	m.svcMu.RLock()
	h := m.services[service]
	m.svcMu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	m.requests.Add(1)
	m.logger.Debug("service request",
		zap.String("service", service), zap.String("source", source))

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("service handler panicked",
				zap.String("service", service), zap.Any("panic", r))
			resp = nil
			err = fmt.Errorf("comm: service %q panicked: %v", service, r)
		}
	}()
	return h(ctx, params)
}

// RegisterBehavior exposes a named behavior for direct cross-tree
// invocation.
func (m *Middleware) RegisterBehavior(name string, fn BehaviorFunc) {
	m.svcMu.Lock()
	m.behaviors[name] = fn
	m.svcMu.Unlock()
	m.logger.Debug("behavior registered", zap.String("behavior", name))
}

// UnregisterBehavior removes a named behavior.
func (m *Middleware) UnregisterBehavior(name string) {
	m.svcMu.Lock()
	delete(m.behaviors, name)
	m.svcMu.Unlock()
}

// CallBehavior invokes a behavior registered by another node and
// records the call in the call log. An unregistered name yields
// ErrUnknownBehavior.
func (m *Middleware) CallBehavior(ctx context.Context, behavior string, params map[string]any, source string) (resp any, err error) {
	m.svcMu.RLock()
	fn := m.behaviors[behavior]
	m.svcMu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBehavior, behavior)
	}
	m.behaviorCalls.Add(1)

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("behavior panicked",
				zap.String("behavior", behavior), zap.Any("panic", r))
			resp = nil
			err = fmt.Errorf("comm: behavior %q panicked: %v", behavior, r)
		}
		entry := BehaviorCall{Time: time.Now(), Behavior: behavior, Source: source}
		if err != nil {
			entry.Err = err.Error()
		}
		m.svcMu.Lock()
		m.callLog = append(m.callLog, entry)
		if len(m.callLog) > m.cfg.HistoryLimit {
			m.callLog = m.callLog[len(m.callLog)-m.cfg.HistoryLimit:]
		}
		m.svcMu.Unlock()
	}()
	return fn(ctx, params)
}

// BehaviorCallLog returns a copy of the recent behavior call log,
// oldest first.
func (m *Middleware) BehaviorCallLog() []BehaviorCall {
	m.svcMu.RLock()
	defer m.svcMu.RUnlock()
	out := make([]BehaviorCall, len(m.callLog))
	copy(out, m.callLog)
	return out
}
