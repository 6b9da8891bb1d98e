package forest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arborbt/arbor/blackboard"
	"github.com/arborbt/arbor/bt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrDuplicateNode is returned when a node name is already taken.
	ErrDuplicateNode = errors.New("forest: node name already registered")
	// ErrUnknownNode is returned for operations on an absent node.
	ErrUnknownNode = errors.New("forest: unknown node")
	// ErrAlreadyRunning is returned by Start when the forest is running.
	ErrAlreadyRunning = errors.New("forest: already running")
)

// Middleware hooks into the forest's tick cycle. Initialize runs once
// when the middleware is attached.
type Middleware interface {
	Name() string
	Initialize(f *BehaviorForest) error
	PreTick(ctx context.Context)
	PostTick(ctx context.Context, statuses map[string]bt.Status)
}

// Event records one participant's status transition.
type Event struct {
	Node string
	Old  bt.Status
	New  bt.Status
	Time time.Time
}

const defaultMonitorInterval = time.Second

// Config holds BehaviorForest settings.
type Config struct {
	// MonitorInterval is the cadence of the forest monitoring loop.
	MonitorInterval time.Duration
	// Blackboard configures the forest-level shared Blackboard.
	Blackboard blackboard.Config
}

// BehaviorForest drives many cooperating behavior trees. Each Tick runs
// middleware PreTick hooks, ticks every registered node concurrently
// (each exactly once per cycle, no cross-node ordering), then runs
// PostTick hooks with the aggregate status map.
type BehaviorForest struct {
	name            string
	monitorInterval time.Duration
	bb              *blackboard.Blackboard
	logger          *zap.Logger

	mu          sync.RWMutex
	nodes       map[string]*Node
	middlewares []Middleware
	inflight    map[string]context.CancelFunc
	subs        []func(Event)

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cycles int64
}

// New creates a BehaviorForest. A nil logger defaults to a no-op logger.
func New(name string, cfg Config, logger *zap.Logger) *BehaviorForest {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &BehaviorForest{
		name:            name,
		monitorInterval: interval,
		bb:              blackboard.New(cfg.Blackboard, logger),
		logger:          logger,
		nodes:           make(map[string]*Node),
		inflight:        make(map[string]context.CancelFunc),
	}
}

// Name returns the forest's name.
func (f *BehaviorForest) Name() string { return f.name }

// Blackboard returns the forest-level shared Blackboard.
func (f *BehaviorForest) Blackboard() *blackboard.Blackboard { return f.bb }

// AddNode registers a participant. Node names are unique within a
// forest. Safe to call while the forest is running.
func (f *BehaviorForest) AddNode(node *Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[node.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, node.Name())
	}
	f.nodes[node.Name()] = node
	f.logger.Info("forest node added",
		zap.String("forest", f.name),
		zap.String("node", node.Name()),
		zap.String("kind", node.Kind().String()))
	return nil
}

// RemoveNode unregisters a participant and cancels any in-flight tick
// for it. The wrapped tree itself is untouched.
func (f *BehaviorForest) RemoveNode(name string) error {
	f.mu.Lock()
	node, ok := f.nodes[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	delete(f.nodes, name)
	cancel := f.inflight[name]
	delete(f.inflight, name)
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	node.Tree().Stop()
	f.logger.Info("forest node removed",
		zap.String("forest", f.name), zap.String("node", name))
	return nil
}

// Node returns the participant registered under name.
func (f *BehaviorForest) Node(name string) (*Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[name]
	return n, ok
}

// Nodes returns a snapshot of all participants.
func (f *BehaviorForest) Nodes() []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out
}

// AddMiddleware attaches m, invoking its Initialize hook once.
func (f *BehaviorForest) AddMiddleware(m Middleware) error {
	if err := m.Initialize(f); err != nil {
		return fmt.Errorf("forest: initialize middleware %q: %w", m.Name(), err)
	}
	f.mu.Lock()
	f.middlewares = append(f.middlewares, m)
	f.mu.Unlock()
	f.logger.Info("middleware attached",
		zap.String("forest", f.name), zap.String("middleware", m.Name()))
	return nil
}

// Subscribe registers fn to receive participant status transitions.
func (f *BehaviorForest) Subscribe(fn func(Event)) {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
}

// Tick runs one forest cycle: PreTick hooks, every node present at
// cycle start ticked exactly once (concurrently, no ordering), then
// PostTick hooks with the aggregate status map, which is returned.
func (f *BehaviorForest) Tick(ctx context.Context) map[string]bt.Status {
	f.mu.RLock()
	middlewares := make([]Middleware, len(f.middlewares))
	copy(middlewares, f.middlewares)
	nodes := make([]*Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		nodes = append(nodes, n)
	}
	f.mu.RUnlock()

	for _, m := range middlewares {
		m.PreTick(ctx)
	}

	statuses := make(map[string]bt.Status, len(nodes))
	var statusMu sync.Mutex
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			nodeCtx, cancel := context.WithCancel(ctx)
			f.mu.Lock()
			f.inflight[node.Name()] = cancel
			f.mu.Unlock()
			defer func() {
				cancel()
				f.mu.Lock()
				delete(f.inflight, node.Name())
				f.mu.Unlock()
			}()

			prev := node.LastStatus()
			status := node.Tree().Tick(nodeCtx)
			node.setLastStatus(status)
			if prev != status {
				f.emit(Event{Node: node.Name(), Old: prev, New: status, Time: time.Now()})
			}

			statusMu.Lock()
			statuses[node.Name()] = status
			statusMu.Unlock()
		}(node)
	}
	wg.Wait()

	f.mu.Lock()
	f.cycles++
	f.mu.Unlock()

	for _, m := range middlewares {
		m.PostTick(ctx, statuses)
	}
	return statuses
}

// Start launches every contained tree's own tick manager and the
// forest-level monitoring loop.
func (f *BehaviorForest) Start(ctx context.Context) error {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.running {
		return ErrAlreadyRunning
	}

	started := make([]*Node, 0, len(f.Nodes()))
	for _, node := range f.Nodes() {
		if err := node.Tree().Start(ctx); err != nil {
			for _, s := range started {
				s.Tree().Stop()
			}
			return fmt.Errorf("forest: start node %q: %w", node.Name(), err)
		}
		started = append(started, node)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.running = true
	f.wg.Add(1)
	go f.monitor(loopCtx)
	f.logger.Info("forest started", zap.String("forest", f.name))
	return nil
}

// monitor periodically surfaces participant status transitions while
// the trees tick themselves.
func (f *BehaviorForest) monitor(ctx context.Context) {
	defer f.wg.Done()
	limiter := rate.NewLimiter(rate.Every(f.monitorInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		for _, node := range f.Nodes() {
			prev := node.LastStatus()
			current := node.Tree().Stats().Tick.LastStatus
			if prev != current {
				node.setLastStatus(current)
				f.emit(Event{Node: node.Name(), Old: prev, New: current, Time: time.Now()})
			}
		}
	}
}

// Stop halts the monitoring loop and every contained tree's tick
// manager, awaiting in-flight work. Idempotent.
func (f *BehaviorForest) Stop() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	cancel := f.cancel
	f.runMu.Unlock()

	cancel()
	f.wg.Wait()

	for _, node := range f.Nodes() {
		node.Tree().Stop()
	}

	f.runMu.Lock()
	f.running = false
	f.cancel = nil
	f.runMu.Unlock()
	f.logger.Info("forest stopped", zap.String("forest", f.name))
}

// Running reports whether the forest-level loop is active.
func (f *BehaviorForest) Running() bool {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	return f.running
}

func (f *BehaviorForest) emit(ev Event) {
	f.mu.RLock()
	subs := make([]func(Event), len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Stats is a read-only snapshot of the forest.
type Stats struct {
	Name        string
	Cycles      int64
	Nodes       map[string]bt.Status
	Middlewares []string
}

// Stats returns a best-effort snapshot.
func (f *BehaviorForest) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	nodes := make(map[string]bt.Status, len(f.nodes))
	for name, n := range f.nodes {
		nodes[name] = n.LastStatus()
	}
	mws := make([]string, 0, len(f.middlewares))
	for _, m := range f.middlewares {
		mws = append(mws, m.Name())
	}
	return Stats{Name: f.name, Cycles: f.cycles, Nodes: nodes, Middlewares: mws}
}
