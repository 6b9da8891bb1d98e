package comm

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// AuditEntry records one shared-blackboard access.
type AuditEntry struct {
	Time   time.Time
	Source string
	Action string // "set", "get" or "remove"
	Key    string
}

const mirrorPrefix = "arbor:bb:"

// SetShared writes a key into the shared blackboard and records the
// access. With a mirror store configured the value is also written
// through; mirror failures are logged, never surfaced.
func (m *Middleware) SetShared(ctx context.Context, key string, value any, source string) {
	m.shared.Set(key, value)
	m.recordAudit("set", key, source)

	if m.mirror != nil {
		payload, err := json.Marshal(value)
		if err != nil {
			m.logger.Warn("shared value not mirrorable",
				zap.String("key", key), zap.Error(err))
			return
		}
		if err := m.mirror.Set(ctx, mirrorPrefix+key, string(payload), 0); err != nil {
			m.logger.Error("shared mirror write failed",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// GetShared reads a key from the shared blackboard, returning def when
// absent, and records the access.
func (m *Middleware) GetShared(key string, def any, source string) any {
	m.recordAudit("get", key, source)
	return m.shared.Get(key, def)
}

// RemoveShared deletes a key from the shared blackboard and records
// the access. It reports whether the key was present.
func (m *Middleware) RemoveShared(ctx context.Context, key string, source string) bool {
	ok := m.shared.Remove(key)
	m.recordAudit("remove", key, source)

	if m.mirror != nil {
		if err := m.mirror.Del(ctx, mirrorPrefix+key); err != nil {
			m.logger.Error("shared mirror delete failed",
				zap.String("key", key), zap.Error(err))
		}
	}
	return ok
}

func (m *Middleware) recordAudit(action, key, source string) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, AuditEntry{
		Time:   time.Now(),
		Source: source,
		Action: action,
		Key:    key,
	})
	if len(m.audit) > m.cfg.AuditLimit {
		m.audit = m.audit[len(m.audit)-m.cfg.AuditLimit:]
	}
}

// AuditLog returns a copy of the bounded access log, oldest first.
func (m *Middleware) AuditLog() []AuditEntry {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
