package bt

import (
	"context"
	"sync"
)

func (n *BaseNode) onlyChild() Node {
	children := n.Children()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// Inverter swaps its child's Success and Failure; Running passes
// through unchanged.
type Inverter struct {
	BaseNode
}

// NewInverter creates an Inverter around child. A nil child may be set
// later with AddChild.
func NewInverter(name string, child Node) *Inverter {
	i := &Inverter{BaseNode: newBaseNode(name, 1)}
	i.bind(i)
	if child != nil {
		_ = i.AddChild(child)
	}
	return i
}

func (i *Inverter) Tick(ctx context.Context) Status {
	child := i.onlyChild()
	if child == nil {
		i.setStatus(StatusFailure)
		return StatusFailure
	}
	var status Status
	switch child.Tick(ctx) {
	case StatusSuccess:
		status = StatusFailure
	case StatusFailure:
		status = StatusSuccess
	default:
		status = StatusRunning
	}
	i.setStatus(status)
	return status
}

// Repeater re-runs its child. Each child success increments the repeat
// counter, resets the child and yields Running until the counter
// reaches the configured count, then yields Success. A repeat count of
// zero or less repeats forever. A child failure resets the counter and
// fails the Repeater.
type Repeater struct {
	BaseNode
	repeat int

	countMu sync.Mutex
	count   int
}

// NewRepeater creates a Repeater running child repeat times. repeat <= 0
// repeats forever.
func NewRepeater(name string, repeat int, child Node) *Repeater {
	r := &Repeater{BaseNode: newBaseNode(name, 1), repeat: repeat}
	r.bind(r)
	if child != nil {
		_ = r.AddChild(child)
	}
	return r
}

// Count returns the number of child successes since the last reset.
func (r *Repeater) Count() int {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return r.count
}

func (r *Repeater) Tick(ctx context.Context) Status {
	child := r.onlyChild()
	if child == nil {
		r.setStatus(StatusFailure)
		return StatusFailure
	}
	var status Status
	switch child.Tick(ctx) {
	case StatusSuccess:
		r.countMu.Lock()
		r.count++
		done := r.repeat > 0 && r.count >= r.repeat
		r.countMu.Unlock()
		child.Reset()
		if done {
			status = StatusSuccess
		} else {
			status = StatusRunning
		}
	case StatusFailure:
		r.countMu.Lock()
		r.count = 0
		r.countMu.Unlock()
		status = StatusFailure
	default:
		status = StatusRunning
	}
	r.setStatus(status)
	return status
}

// Reset clears the repeat counter along with the subtree status.
func (r *Repeater) Reset() {
	r.countMu.Lock()
	r.count = 0
	r.countMu.Unlock()
	r.BaseNode.Reset()
}

// UntilSuccess retries its child until it succeeds: a child failure
// resets the child and yields Running so the next tick retries.
type UntilSuccess struct {
	BaseNode
}

// NewUntilSuccess creates an UntilSuccess around child.
func NewUntilSuccess(name string, child Node) *UntilSuccess {
	u := &UntilSuccess{BaseNode: newBaseNode(name, 1)}
	u.bind(u)
	if child != nil {
		_ = u.AddChild(child)
	}
	return u
}

func (u *UntilSuccess) Tick(ctx context.Context) Status {
	child := u.onlyChild()
	if child == nil {
		u.setStatus(StatusFailure)
		return StatusFailure
	}
	var status Status
	switch child.Tick(ctx) {
	case StatusSuccess:
		status = StatusSuccess
	case StatusFailure:
		child.Reset()
		status = StatusRunning
	default:
		status = StatusRunning
	}
	u.setStatus(status)
	return status
}

// UntilFailure is the mirror of UntilSuccess, terminating when the
// child fails.
type UntilFailure struct {
	BaseNode
}

// NewUntilFailure creates an UntilFailure around child.
func NewUntilFailure(name string, child Node) *UntilFailure {
	u := &UntilFailure{BaseNode: newBaseNode(name, 1)}
	u.bind(u)
	if child != nil {
		_ = u.AddChild(child)
	}
	return u
}

func (u *UntilFailure) Tick(ctx context.Context) Status {
	child := u.onlyChild()
	if child == nil {
		u.setStatus(StatusFailure)
		return StatusFailure
	}
	var status Status
	switch child.Tick(ctx) {
	case StatusFailure:
		status = StatusFailure
	case StatusSuccess:
		child.Reset()
		status = StatusRunning
	default:
		status = StatusRunning
	}
	u.setStatus(status)
	return status
}
