// Package comm implements the forest communication middleware: six
// cross-tree interaction patterns (publish/subscribe, request/response,
// shared blackboard, state watching, direct behavior call, task board)
// plus external input/output channels, driven by the forest tick cycle.
//
// A Middleware is created independently and attached to one or more
// forests with AddMiddleware, which invokes Initialize once per forest.
// All cross-tree interaction goes through the middleware or the shared
// blackboard, never through direct node references.
package comm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/arborbt/arbor/blackboard"
	"github.com/arborbt/arbor/bt"
	"github.com/arborbt/arbor/forest"
	"github.com/arborbt/arbor/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnknownService is returned by Request for an unregistered name.
	ErrUnknownService = errors.New("comm: unknown service")
	// ErrUnknownBehavior is returned by CallBehavior for an
	// unregistered name.
	ErrUnknownBehavior = errors.New("comm: unknown behavior")
	// ErrUnknownTask is returned for an absent task id.
	ErrUnknownTask = errors.New("comm: unknown task")
	// ErrNotTaskOwner is returned when a node completes or fails a task
	// it did not claim.
	ErrNotTaskOwner = errors.New("comm: not the task owner")
	// ErrTaskNotClaimed is returned when completing or failing a task
	// that is not in the claimed state.
	ErrTaskNotClaimed = errors.New("comm: task not claimed")
)

const (
	defaultAuditLimit   = 1000
	defaultHistoryLimit = 100
	defaultQueueLimit   = 1000
)

// Config holds Middleware settings.
type Config struct {
	// AuditLimit bounds the shared-blackboard audit log.
	AuditLimit int `mapstructure:"audit_limit"`
	// HistoryLimit bounds the per-key state change history.
	HistoryLimit int `mapstructure:"history_limit"`
	// QueueLimit bounds each external input/output queue.
	QueueLimit int `mapstructure:"queue_limit"`
	// Blackboard configures the middleware-owned shared Blackboard.
	Blackboard blackboard.Config `mapstructure:"blackboard"`
}

func (c Config) withDefaults() Config {
	if c.AuditLimit <= 0 {
		c.AuditLimit = defaultAuditLimit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = defaultQueueLimit
	}
	return c
}

// Middleware is the cross-tree interaction surface.
type Middleware struct {
	id     string
	name   string
	cfg    Config
	logger *zap.Logger
	shared *blackboard.Blackboard

	// Optional cross-process bridge; nil for a single-process forest.
	transport store.PubSub
	mirror    store.Store

	mu      sync.RWMutex
	forests []*forest.BehaviorForest

	subsMu  sync.RWMutex
	subs    map[string][]*subscription
	bridges map[string]func() // per-topic transport pump cancel

	svcMu     sync.RWMutex
	services  map[string]ServiceHandler
	behaviors map[string]BehaviorFunc
	callLog   []BehaviorCall

	stateMu  sync.Mutex
	watchers map[string][]*watcher
	state    map[string]any
	history  map[string][]StateChange

	auditMu sync.Mutex
	audit   []AuditEntry

	taskMu sync.Mutex
	tasks  map[string]*Task

	extMu sync.Mutex
	inQ   map[string][]QueueEntry
	outQ  map[string][]QueueEntry

	published     atomic.Int64
	delivered     atomic.Int64
	requests      atomic.Int64
	stateUpdates  atomic.Int64
	behaviorCalls atomic.Int64
	cycles        atomic.Int64
}

// Option customizes a Middleware.
type Option func(*Middleware)

// WithTransport bridges pub/sub events over an external transport so
// forests in different processes see each other's topics.
func WithTransport(ps store.PubSub) Option {
	return func(m *Middleware) { m.transport = ps }
}

// WithMirror mirrors shared blackboard writes into an external store.
func WithMirror(s store.Store) Option {
	return func(m *Middleware) { m.mirror = s }
}

// New creates a Middleware. A nil logger defaults to a no-op logger.
func New(name string, cfg Config, logger *zap.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	m := &Middleware{
		id:        uuid.NewString(),
		name:      name,
		cfg:       cfg,
		logger:    logger,
		shared:    blackboard.New(cfg.Blackboard, logger),
		subs:      make(map[string][]*subscription),
		bridges:   make(map[string]func()),
		services:  make(map[string]ServiceHandler),
		behaviors: make(map[string]BehaviorFunc),
		watchers:  make(map[string][]*watcher),
		state:     make(map[string]any),
		history:   make(map[string][]StateChange),
		tasks:     make(map[string]*Task),
		inQ:       make(map[string][]QueueEntry),
		outQ:      make(map[string][]QueueEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements forest.Middleware.
func (m *Middleware) Name() string { return m.name }

// Initialize implements forest.Middleware; it runs once per forest at
// attach time.
func (m *Middleware) Initialize(f *forest.BehaviorForest) error {
	m.mu.Lock()
	m.forests = append(m.forests, f)
	m.mu.Unlock()
	m.logger.Info("middleware initialized",
		zap.String("middleware", m.name),
		zap.String("forest", f.Name()))
	return nil
}

// PreTick implements forest.Middleware.
func (m *Middleware) PreTick(context.Context) {
	m.cycles.Add(1)
}

// PostTick implements forest.Middleware.
func (m *Middleware) PostTick(_ context.Context, statuses map[string]bt.Status) {
	for node, status := range statuses {
		m.logger.Debug("forest node ticked",
			zap.String("middleware", m.name),
			zap.String("node", node),
			zap.String("status", status.String()))
	}
}

// Shared returns the middleware-owned shared Blackboard.
func (m *Middleware) Shared() *blackboard.Blackboard { return m.shared }

// Close tears down transport bridges. Safe when no transport is set.
func (m *Middleware) Close() {
	m.subsMu.Lock()
	bridges := m.bridges
	m.bridges = make(map[string]func())
	m.subsMu.Unlock()
	for _, cancel := range bridges {
		cancel()
	}
}

// Stats is a per-pattern counter snapshot.
type Stats struct {
	Cycles        int64
	Published     int64
	Delivered     int64
	Requests      int64
	StateUpdates  int64
	BehaviorCalls int64
	Subscribers   int
	Watchers      int
	Services      int
	Behaviors     int
	Tasks         map[TaskState]int
	AuditLen      int
}

// Stats returns a best-effort snapshot of the middleware's counters.
func (m *Middleware) Stats() Stats {
	st := Stats{
		Cycles:        m.cycles.Load(),
		Published:     m.published.Load(),
		Delivered:     m.delivered.Load(),
		Requests:      m.requests.Load(),
		StateUpdates:  m.stateUpdates.Load(),
		BehaviorCalls: m.behaviorCalls.Load(),
		Tasks:         make(map[TaskState]int),
	}
	m.subsMu.RLock()
	for _, subs := range m.subs {
		st.Subscribers += len(subs)
	}
	m.subsMu.RUnlock()
	m.stateMu.Lock()
	for _, ws := range m.watchers {
		st.Watchers += len(ws)
	}
	m.stateMu.Unlock()
	m.svcMu.RLock()
	st.Services = len(m.services)
	st.Behaviors = len(m.behaviors)
	m.svcMu.RUnlock()
	m.taskMu.Lock()
	for _, t := range m.tasks {
		st.Tasks[t.State]++
	}
	m.taskMu.Unlock()
	m.auditMu.Lock()
	st.AuditLen = len(m.audit)
	m.auditMu.Unlock()
	return st
}
