package bt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arborbt/arbor/blackboard"
	"go.uber.org/zap"
)

var (
	// ErrNilChild is returned when a nil node is added as a child.
	ErrNilChild = errors.New("bt: nil child")
	// ErrLeafChild is returned when a child is added to a leaf node.
	ErrLeafChild = errors.New("bt: leaf nodes cannot have children")
	// ErrNilNode is returned by Validate for a nil node in the tree.
	ErrNilNode = errors.New("bt: nil node")
	// ErrNotATree is returned by Validate when a node is owned by more
	// than one parent or the structure contains a cycle.
	ErrNotATree = errors.New("bt: node graph is not a tree")
)

// Node is a single control or behavior unit in a behavior tree.
//
// Tick returns exactly one Status and may have side effects on the
// Blackboard. Implementations never panic past the Tick boundary; leaf
// faults are converted to StatusFailure. Reset propagates depth-first
// and clears per-call state (elapsed wait time, repeat counters) along
// with the node's Status.
type Node interface {
	Name() string
	Status() Status
	Tick(ctx context.Context) Status
	Reset()

	AddChild(child Node) error
	Children() []Node
	MaxChildren() int

	Parent() Node
	SetParent(parent Node)

	Blackboard() *blackboard.Blackboard
	SetBlackboard(bb *blackboard.Blackboard)
	SetLogger(logger *zap.Logger)
}

const unboundedChildren = -1

// BaseNode carries the state shared by every node kind: identity,
// children ownership, the parent back-reference, the current Status and
// the tree's Blackboard. Concrete nodes embed it and implement Tick.
type BaseNode struct {
	name        string
	maxChildren int
	self        Node

	mu       sync.RWMutex
	status   Status
	parent   Node
	children []Node
	bb       *blackboard.Blackboard
	logger   *zap.Logger
	params   map[string]string
}

func newBaseNode(name string, maxChildren int) BaseNode {
	return BaseNode{
		name:        name,
		maxChildren: maxChildren,
		status:      StatusFailure,
		logger:      zap.NewNop(),
	}
}

// bind records the outer node so AddChild can hand children a parent
// back-reference. Every constructor calls it once.
func (n *BaseNode) bind(self Node) { n.self = self }

// Name returns the node's name.
func (n *BaseNode) Name() string { return n.name }

// Status returns the result of the most recent tick.
func (n *BaseNode) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

func (n *BaseNode) setStatus(s Status) {
	n.mu.Lock()
	n.status = s
	n.mu.Unlock()
}

// MaxChildren returns the child capacity of this node kind: 0 for
// leaves, 1 for decorators, unbounded (negative) for composites.
func (n *BaseNode) MaxChildren() int { return n.maxChildren }

// AddChild appends child to this node's owned children. Leaves reject
// children outright; a decorator that already has a child replaces it.
func (n *BaseNode) AddChild(child Node) error {
	if child == nil {
		return ErrNilChild
	}
	if n.maxChildren == 0 {
		return fmt.Errorf("%w: %q", ErrLeafChild, n.name)
	}
	n.mu.Lock()
	if n.maxChildren > 0 && len(n.children) >= n.maxChildren {
		// Decorator capacity: the new child replaces the old one.
		old := n.children[len(n.children)-1]
		old.SetParent(nil)
		n.children = n.children[:len(n.children)-1]
	}
	n.children = append(n.children, child)
	bb := n.bb
	logger := n.logger
	self := n.self
	n.mu.Unlock()

	child.SetParent(self)
	if bb != nil {
		child.SetBlackboard(bb)
	}
	child.SetLogger(logger)
	return nil
}

// Children returns a snapshot of the owned children in order.
func (n *BaseNode) Children() []Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Node, len(n.children))
	copy(out, n.children)
	return out
}

// Parent returns the owning node, or nil for a root.
func (n *BaseNode) Parent() Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// SetParent records the owning node back-reference.
func (n *BaseNode) SetParent(parent Node) {
	n.mu.Lock()
	n.parent = parent
	n.mu.Unlock()
}

// Blackboard returns the tree's shared Blackboard, or nil before the
// node is attached to a tree.
func (n *BaseNode) Blackboard() *blackboard.Blackboard {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bb
}

// SetBlackboard wires the Blackboard into this node and its subtree.
func (n *BaseNode) SetBlackboard(bb *blackboard.Blackboard) {
	n.mu.Lock()
	n.bb = bb
	children := make([]Node, len(n.children))
	copy(children, n.children)
	n.mu.Unlock()
	for _, c := range children {
		c.SetBlackboard(bb)
	}
}

// SetLogger wires the fault sink into this node and its subtree.
// A nil logger defaults to a no-op logger.
func (n *BaseNode) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n.mu.Lock()
	n.logger = logger
	children := make([]Node, len(n.children))
	copy(children, n.children)
	n.mu.Unlock()
	for _, c := range children {
		c.SetLogger(logger)
	}
}

// Logger returns the node's fault sink.
func (n *BaseNode) Logger() *zap.Logger {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.logger
}

// Reset propagates depth-first through the children, then resets this
// node's Status to Failure. It is the only way to clear Running state.
func (n *BaseNode) Reset() {
	for _, c := range n.Children() {
		c.Reset()
	}
	n.setStatus(StatusFailure)
}

// SetParam binds a leaf attribute name to a blackboard key, so the same
// leaf kind can be rebound per instantiation.
func (n *BaseNode) SetParam(attr, key string) {
	n.mu.Lock()
	if n.params == nil {
		n.params = make(map[string]string)
	}
	n.params[attr] = key
	n.mu.Unlock()
}

// ResolveKey returns the blackboard key bound to attr, falling back to
// attr itself when no binding exists. Resolution happens at tick time.
func (n *BaseNode) ResolveKey(attr string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if key, ok := n.params[attr]; ok {
		return key
	}
	return attr
}

// Validate walks the node graph rooted at root and reports the first
// structural violation: a nil node, a node exceeding its child
// capacity, or a node reachable through two parents (shared ownership
// or a cycle).
func Validate(root Node) error {
	if root == nil {
		return ErrNilNode
	}
	seen := make(map[Node]struct{})
	var walk func(n Node) error
	walk = func(n Node) error {
		if n == nil {
			return ErrNilNode
		}
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%w: %q reached twice", ErrNotATree, n.Name())
		}
		seen[n] = struct{}{}
		children := n.Children()
		if max := n.MaxChildren(); max >= 0 && len(children) > max {
			return fmt.Errorf("bt: node %q has %d children, capacity %d", n.Name(), len(children), max)
		}
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}
