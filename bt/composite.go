package bt

import (
	"context"
	"sync"
)

// Composites re-evaluate from the first child on every tick: there is
// no memory of which child was running on the previous cycle. A child
// that returned Running is ticked again from the top next cycle.

// Sequence ticks children left to right and succeeds only when all
// children succeed (logical AND). A child failure short-circuits;
// remaining children are not ticked that cycle. An empty Sequence
// succeeds.
type Sequence struct {
	BaseNode
}

// NewSequence creates a Sequence with the given children.
func NewSequence(name string, children ...Node) *Sequence {
	s := &Sequence{BaseNode: newBaseNode(name, unboundedChildren)}
	s.bind(s)
	for _, c := range children {
		_ = s.AddChild(c)
	}
	return s
}

func (s *Sequence) Tick(ctx context.Context) Status {
	for _, c := range s.Children() {
		switch c.Tick(ctx) {
		case StatusFailure:
			s.setStatus(StatusFailure)
			return StatusFailure
		case StatusRunning:
			s.setStatus(StatusRunning)
			return StatusRunning
		}
	}
	s.setStatus(StatusSuccess)
	return StatusSuccess
}

// Selector ticks children left to right and succeeds as soon as one
// child succeeds (logical OR). It fails only when every child failed.
// An empty Selector fails.
type Selector struct {
	BaseNode
}

// NewSelector creates a Selector with the given children.
func NewSelector(name string, children ...Node) *Selector {
	s := &Selector{BaseNode: newBaseNode(name, unboundedChildren)}
	s.bind(s)
	for _, c := range children {
		_ = s.AddChild(c)
	}
	return s
}

func (s *Selector) Tick(ctx context.Context) Status {
	for _, c := range s.Children() {
		switch c.Tick(ctx) {
		case StatusSuccess:
			s.setStatus(StatusSuccess)
			return StatusSuccess
		case StatusRunning:
			s.setStatus(StatusRunning)
			return StatusRunning
		}
	}
	s.setStatus(StatusFailure)
	return StatusFailure
}

// Parallel ticks all children concurrently every cycle, never
// short-circuiting, then resolves the tally of results under its
// Policy. An empty Parallel succeeds.
type Parallel struct {
	BaseNode
	policy Policy
}

// NewParallel creates a Parallel resolving results under policy.
func NewParallel(name string, policy Policy, children ...Node) *Parallel {
	p := &Parallel{BaseNode: newBaseNode(name, unboundedChildren), policy: policy}
	p.bind(p)
	for _, c := range children {
		_ = p.AddChild(c)
	}
	return p
}

// Policy returns the aggregation policy.
func (p *Parallel) Policy() Policy { return p.policy }

func (p *Parallel) Tick(ctx context.Context) Status {
	children := p.Children()
	if len(children) == 0 {
		p.setStatus(StatusSuccess)
		return StatusSuccess
	}

	results := make([]Status, len(children))
	var wg sync.WaitGroup
	for i, c := range children {
		wg.Add(1)
		go func(i int, c Node) {
			defer wg.Done()
			results[i] = c.Tick(ctx)
		}(i, c)
	}
	wg.Wait()

	var succeeded, failed, running int
	for _, r := range results {
		switch r {
		case StatusSuccess:
			succeeded++
		case StatusFailure:
			failed++
		case StatusRunning:
			running++
		}
	}

	status := p.resolve(succeeded, failed, running, len(children))
	p.setStatus(status)
	return status
}

func (p *Parallel) resolve(succeeded, failed, running, total int) Status {
	switch p.policy {
	case SucceedOnOne:
		if succeeded >= 1 {
			return StatusSuccess
		}
		if running > 0 {
			return StatusRunning
		}
		return StatusFailure
	case FailOnAll:
		if failed == total {
			return StatusFailure
		}
		if running > 0 {
			return StatusRunning
		}
		return StatusSuccess
	case FailOnOne:
		if failed >= 1 {
			return StatusFailure
		}
		if running > 0 {
			return StatusRunning
		}
		return StatusSuccess
	default: // SucceedOnAll
		if failed > 0 {
			return StatusFailure
		}
		if running > 0 {
			return StatusRunning
		}
		return StatusSuccess
	}
}
