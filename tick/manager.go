// Package tick drives repeated evaluation of a behavior tree root on a
// fixed cadence. A Manager owns at most one ticking loop; stopping it
// cancels the in-flight iteration and waits for it, so no orphaned
// ticking survives Stop.
package tick

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arborbt/arbor/bt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNoRoot is returned by Start when no root node is configured.
	ErrNoRoot = errors.New("tick: no root node configured")
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("tick: manager already running")
)

const defaultInterval = 100 * time.Millisecond

// Manager drives one root node. At most one tick runs at a time: a new
// tick never starts before the previous top-level Tick call returns.
type Manager struct {
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	root    bt.Node
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tickMu sync.Mutex // serializes TickOnce

	statsMu    sync.Mutex
	tickCount  int64
	totalDur   time.Duration
	lastStatus bt.Status

	onTick         func(bt.Status)
	onStatusChange func(old, new bt.Status)
}

// New creates a Manager ticking every interval. A non-positive interval
// defaults to 100ms; a nil logger defaults to a no-op logger.
func New(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		interval:   interval,
		logger:     logger,
		lastStatus: bt.StatusFailure,
	}
}

// SetRoot points the manager at root. Safe to call while stopped or
// between ticks.
func (m *Manager) SetRoot(root bt.Node) {
	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
}

// Root returns the current root node.
func (m *Manager) Root() bt.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// OnTick registers a callback invoked after every tick with the
// resulting status.
func (m *Manager) OnTick(fn func(bt.Status)) {
	m.statsMu.Lock()
	m.onTick = fn
	m.statsMu.Unlock()
}

// OnStatusChange registers a callback invoked when the root status
// differs from the previous tick's.
func (m *Manager) OnStatusChange(fn func(old, new bt.Status)) {
	m.statsMu.Lock()
	m.onStatusChange = fn
	m.statsMu.Unlock()
}

// Start launches the ticking loop. It fails with ErrNoRoot when no
// root is set and ErrAlreadyRunning when the loop is already active.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root == nil {
		return ErrNoRoot
	}
	if m.running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.loop(loopCtx)
	m.logger.Info("tick manager started", zap.Duration("interval", m.interval))
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	// The loop may also die through the caller's context, not just
	// Stop; returning to idle here keeps Running() honest and lets a
	// later Start succeed either way.
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
	}()
	// The limiter sleeps only the remainder of the period after each
	// tick; a slow tick is followed by an immediate one.
	limiter := rate.NewLimiter(rate.Every(m.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// Cancellation is expected shutdown, not an error.
			return
		}
		m.TickOnce(ctx)
	}
}

// Stop cancels the loop, waits for the in-flight tick to finish, and
// returns the manager to the idle state. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.cancel = nil
	m.mu.Unlock()
	m.logger.Info("tick manager stopped")
}

// Running reports whether the ticking loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TickOnce executes the root exactly once, records the status, and
// fires the per-tick and status-change callbacks. It may be called
// manually while the loop is stopped; concurrent calls serialize.
func (m *Manager) TickOnce(ctx context.Context) bt.Status {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	root := m.Root()
	if root == nil {
		return bt.StatusFailure
	}

	start := time.Now()
	status := m.safeTick(ctx, root)
	elapsed := time.Since(start)

	m.statsMu.Lock()
	m.tickCount++
	m.totalDur += elapsed
	prev := m.lastStatus
	m.lastStatus = status
	onTick := m.onTick
	onStatusChange := m.onStatusChange
	m.statsMu.Unlock()

	if onStatusChange != nil && prev != status {
		onStatusChange(prev, status)
	}
	if onTick != nil {
		onTick(status)
	}
	return status
}

func (m *Manager) safeTick(ctx context.Context, root bt.Node) (status bt.Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked",
				zap.String("root", root.Name()),
				zap.Any("recover", r))
			status = bt.StatusFailure
		}
	}()
	return root.Tick(ctx)
}

// Stats is a read-only best-effort snapshot.
type Stats struct {
	Running    bool
	TickCount  int64
	LastStatus bt.Status
	AvgTick    time.Duration
	Interval   time.Duration
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	count := m.tickCount
	total := m.totalDur
	last := m.lastStatus
	m.statsMu.Unlock()

	var avg time.Duration
	if count > 0 {
		avg = total / time.Duration(count)
	}
	return Stats{
		Running:    m.Running(),
		TickCount:  count,
		LastStatus: last,
		AvgTick:    avg,
		Interval:   m.interval,
	}
}
