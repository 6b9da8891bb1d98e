// Package forest coordinates a set of cooperating behavior trees. Each
// participant wraps a tree with identity, a node kind, capabilities and
// dependencies; the forest ticks every participant per cycle and runs
// middleware hooks around each cycle.
package forest

import (
	"sync"

	"github.com/arborbt/arbor/bt"
	"github.com/arborbt/arbor/tree"
)

// Kind classifies a forest participant's role.
type Kind int

const (
	KindMaster Kind = iota
	KindWorker
	KindMonitor
	KindCoordinator
)

func (k Kind) String() string {
	switch k {
	case KindMaster:
		return "master"
	case KindWorker:
		return "worker"
	case KindMonitor:
		return "monitor"
	case KindCoordinator:
		return "coordinator"
	default:
		return "unknown"
	}
}

// Node is a participant in a forest: a behavior tree plus identity,
// capabilities and dependencies. The capability set defaults to a
// singleton derived from the node kind.
type Node struct {
	name string
	tree *tree.BehaviorTree
	kind Kind

	mu           sync.RWMutex
	capabilities map[string]struct{}
	dependencies map[string]struct{}
	lastStatus   bt.Status
}

// NewNode wraps t as a forest participant of the given kind.
func NewNode(name string, t *tree.BehaviorTree, kind Kind) *Node {
	return &Node{
		name:         name,
		tree:         t,
		kind:         kind,
		capabilities: map[string]struct{}{kind.String(): {}},
		dependencies: make(map[string]struct{}),
		lastStatus:   bt.StatusFailure,
	}
}

// Name returns the participant's name.
func (n *Node) Name() string { return n.name }

// Tree returns the wrapped behavior tree.
func (n *Node) Tree() *tree.BehaviorTree { return n.tree }

// Kind returns the participant's role.
func (n *Node) Kind() Kind { return n.kind }

// AddCapability adds cap to the capability set.
func (n *Node) AddCapability(cap string) {
	n.mu.Lock()
	n.capabilities[cap] = struct{}{}
	n.mu.Unlock()
}

// Capabilities returns a snapshot of the capability set.
func (n *Node) Capabilities() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.capabilities))
	for c := range n.capabilities {
		out = append(out, c)
	}
	return out
}

// HasCapabilities reports whether the node's capability set is a
// superset of requirements.
func (n *Node) HasCapabilities(requirements []string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, r := range requirements {
		if _, ok := n.capabilities[r]; !ok {
			return false
		}
	}
	return true
}

// AddDependency records that this node depends on the named node.
func (n *Node) AddDependency(name string) {
	n.mu.Lock()
	n.dependencies[name] = struct{}{}
	n.mu.Unlock()
}

// Dependencies returns a snapshot of the dependency set.
func (n *Node) Dependencies() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.dependencies))
	for d := range n.dependencies {
		out = append(out, d)
	}
	return out
}

// LastStatus returns the status of the most recent forest cycle.
func (n *Node) LastStatus() bt.Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastStatus
}

func (n *Node) setLastStatus(s bt.Status) {
	n.mu.Lock()
	n.lastStatus = s
	n.mu.Unlock()
}
