package bt

import (
	"context"
	"sync"
	"time"

	"github.com/arborbt/arbor/blackboard"
	"go.uber.org/zap"
)

// ActionFunc is externally supplied work executed by an Action node.
type ActionFunc func(ctx context.Context, bb *blackboard.Blackboard) Status

// ConditionFunc is an externally supplied predicate evaluated by a
// Condition node.
type ConditionFunc func(ctx context.Context, bb *blackboard.Blackboard) bool

// Action executes externally supplied work and maps its outcome
// directly to a Status. A panic in the work function is caught at the
// node boundary, logged, and converted to Failure; it never propagates
// to the caller's tick.
type Action struct {
	BaseNode
	fn ActionFunc
}

// NewAction creates an Action running fn on each tick.
func NewAction(name string, fn ActionFunc) *Action {
	a := &Action{BaseNode: newBaseNode(name, 0), fn: fn}
	a.bind(a)
	return a
}

// SetAction replaces the work function. It exists for callers whose
// function must close over the node itself, e.g. to call ResolveKey.
func (a *Action) SetAction(fn ActionFunc) { a.fn = fn }

func (a *Action) Tick(ctx context.Context) Status {
	status := a.run(ctx)
	a.setStatus(status)
	return status
}

func (a *Action) run(ctx context.Context) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger().Error("action node panicked",
				zap.String("node", a.Name()),
				zap.Any("recover", r))
			status = StatusFailure
		}
	}()
	if a.fn == nil {
		return StatusFailure
	}
	return a.fn(ctx, a.Blackboard())
}

// Condition evaluates a boolean predicate, mapping true to Success and
// false to Failure. Panics are caught like Action panics.
type Condition struct {
	BaseNode
	fn ConditionFunc
}

// NewCondition creates a Condition evaluating fn on each tick.
func NewCondition(name string, fn ConditionFunc) *Condition {
	c := &Condition{BaseNode: newBaseNode(name, 0), fn: fn}
	c.bind(c)
	return c
}

func (c *Condition) Tick(ctx context.Context) Status {
	status := c.run(ctx)
	c.setStatus(status)
	return status
}

func (c *Condition) run(ctx context.Context) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger().Error("condition node panicked",
				zap.String("node", c.Name()),
				zap.Any("recover", r))
			status = StatusFailure
		}
	}()
	if c.fn == nil {
		return StatusFailure
	}
	if c.fn(ctx, c.Blackboard()) {
		return StatusSuccess
	}
	return StatusFailure
}

// Wait runs until the configured duration has elapsed across ticks,
// then succeeds. The elapsed timer starts on the first tick after a
// reset.
type Wait struct {
	BaseNode
	duration time.Duration

	startMu sync.Mutex
	started time.Time
}

// NewWait creates a Wait leaf succeeding after d has elapsed.
func NewWait(name string, d time.Duration) *Wait {
	w := &Wait{BaseNode: newBaseNode(name, 0), duration: d}
	w.bind(w)
	return w
}

func (w *Wait) Tick(ctx context.Context) Status {
	w.startMu.Lock()
	if w.started.IsZero() {
		w.started = time.Now()
	}
	elapsed := time.Since(w.started)
	w.startMu.Unlock()

	status := StatusRunning
	if elapsed >= w.duration {
		status = StatusSuccess
	}
	w.setStatus(status)
	return status
}

// Reset clears the elapsed timer along with the node status.
func (w *Wait) Reset() {
	w.startMu.Lock()
	w.started = time.Time{}
	w.startMu.Unlock()
	w.BaseNode.Reset()
}
