// Package tree composes a node tree, its Blackboard and a tick manager
// into one addressable behavior tree unit.
package tree

import (
	"context"
	"sync"
	"time"

	"github.com/arborbt/arbor/blackboard"
	"github.com/arborbt/arbor/bt"
	"github.com/arborbt/arbor/bt/btreg"
	"github.com/arborbt/arbor/tick"
	"go.uber.org/zap"
)

// Event records a root status transition.
type Event struct {
	Tree string
	Old  bt.Status
	New  bt.Status
	Time time.Time
}

// Config holds BehaviorTree settings.
type Config struct {
	// TickInterval is the cadence of the ticking loop.
	TickInterval time.Duration
	// Blackboard configures the tree's own Blackboard.
	Blackboard blackboard.Config
}

// BehaviorTree owns a root node (optional until set), a Blackboard and
// a tick manager, kept mutually consistent: the manager always points
// at the tree's current root, and the whole subtree shares the tree's
// Blackboard.
type BehaviorTree struct {
	name    string
	bb      *blackboard.Blackboard
	manager *tick.Manager
	logger  *zap.Logger

	mu   sync.RWMutex
	root bt.Node
	subs []func(Event)
}

// New creates an empty BehaviorTree. A nil logger defaults to a no-op
// logger.
func New(name string, cfg Config, logger *zap.Logger) *BehaviorTree {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &BehaviorTree{
		name:    name,
		bb:      blackboard.New(cfg.Blackboard, logger),
		manager: tick.New(cfg.TickInterval, logger),
		logger:  logger,
	}
	t.manager.OnStatusChange(func(old, new bt.Status) {
		t.emit(Event{Tree: name, Old: old, New: new, Time: time.Now()})
	})
	return t
}

// Name returns the tree's name.
func (t *BehaviorTree) Name() string { return t.name }

// Blackboard returns the tree's shared Blackboard.
func (t *BehaviorTree) Blackboard() *blackboard.Blackboard { return t.bb }

// Manager returns the tree's tick manager.
func (t *BehaviorTree) Manager() *tick.Manager { return t.manager }

// Root returns the current root node, nil until one is set.
func (t *BehaviorTree) Root() bt.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// SetRoot validates the fully built node graph and installs it as the
// tree's root, wiring the Blackboard and fault sink through the
// subtree. Structural violations are returned unchanged.
func (t *BehaviorTree) SetRoot(root bt.Node) error {
	if err := bt.Validate(root); err != nil {
		return err
	}
	root.SetBlackboard(t.bb)
	root.SetLogger(t.logger)
	t.mu.Lock()
	t.root = root
	t.mu.Unlock()
	t.manager.SetRoot(root)
	return nil
}

// LoadFromRoot accepts an already-constructed node graph from a
// declarative loader. It is SetRoot under the loader-facing name.
func (t *BehaviorTree) LoadFromRoot(root bt.Node) error {
	return t.SetRoot(root)
}

// LoadFromDef builds the tree from a flat declarative definition using
// the given registry, then installs the result as the root.
func (t *BehaviorTree) LoadFromDef(reg *btreg.Registry, def btreg.NodeDef) error {
	root, err := btreg.Build(reg, def)
	if err != nil {
		return err
	}
	return t.SetRoot(root)
}

// Tick evaluates the root once.
func (t *BehaviorTree) Tick(ctx context.Context) bt.Status {
	return t.manager.TickOnce(ctx)
}

// Start launches the periodic ticking loop.
func (t *BehaviorTree) Start(ctx context.Context) error {
	return t.manager.Start(ctx)
}

// Stop halts the loop, waiting for the in-flight tick.
func (t *BehaviorTree) Stop() {
	t.manager.Stop()
}

// Reset clears every node's status and the Blackboard while keeping
// the tree structure.
func (t *BehaviorTree) Reset() {
	if root := t.Root(); root != nil {
		root.Reset()
	}
	t.bb.Clear()
}

// Subscribe registers fn to receive status transition events.
func (t *BehaviorTree) Subscribe(fn func(Event)) {
	t.mu.Lock()
	t.subs = append(t.subs, fn)
	t.mu.Unlock()
}

func (t *BehaviorTree) emit(ev Event) {
	t.mu.RLock()
	subs := make([]func(Event), len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Stats aggregates the manager's and Blackboard's snapshots.
type Stats struct {
	Name       string
	Tick       tick.Stats
	Blackboard blackboard.Stats
}

// Stats returns a read-only snapshot.
func (t *BehaviorTree) Stats() Stats {
	return Stats{
		Name:       t.name,
		Tick:       t.manager.Stats(),
		Blackboard: t.bb.Stats(),
	}
}
