package comm

import (
	"context"
	"time"

	"github.com/arborbt/arbor/blackboard"
	"github.com/arborbt/arbor/bt"
)

// Leaf constructors wiring trees to the middleware. Each returns a
// plain bt node, so communication steps compose with composites and
// decorators like any other leaf.

// NewPublishLeaf returns an action that reads the blackboard key bound
// to the "data" attribute and publishes it on topic as source.
func NewPublishLeaf(m *Middleware, name, topic, source string) *bt.Action {
	a := bt.NewAction(name, nil)
	a.SetAction(func(ctx context.Context, bb *blackboard.Blackboard) bt.Status {
		data, ok := bb.GetOK(a.ResolveKey("data"))
		if !ok {
			return bt.StatusFailure
		}
		m.Publish(ctx, topic, data, source)
		return bt.StatusSuccess
	})
	return a
}

// NewAwaitEventLeaf returns an action that blocks for one event on
// topic, stores its data under the blackboard key bound to the "data"
// attribute, and succeeds. It fails when timeout elapses or the tick
// context is cancelled first.
func NewAwaitEventLeaf(m *Middleware, name, topic string, timeout time.Duration) *bt.Action {
	a := bt.NewAction(name, nil)
	a.SetAction(func(ctx context.Context, bb *blackboard.Blackboard) bt.Status {
		got := make(chan Event, 1)
		unsub := m.Subscribe(topic, func(_ context.Context, ev Event) {
			select {
			case got <- ev:
			default:
			}
		})
		defer unsub()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case ev := <-got:
			bb.Set(a.ResolveKey("data"), ev.Data)
			return bt.StatusSuccess
		case <-timer.C:
			return bt.StatusFailure
		case <-ctx.Done():
			return bt.StatusFailure
		}
	})
	return a
}

// NewClaimTaskLeaf returns an action that claims the highest-priority
// pending task the capability set is eligible for and stores the
// claimed task id under the blackboard key bound to the "task"
// attribute. It fails when no eligible task can be claimed this tick.
func NewClaimTaskLeaf(m *Middleware, name, claimant string, capabilities []string) *bt.Action {
	a := bt.NewAction(name, nil)
	a.SetAction(func(_ context.Context, bb *blackboard.Blackboard) bt.Status {
		for _, t := range m.PendingTasks(capabilities) {
			ok, err := m.ClaimTask(t.ID, claimant, capabilities)
			if err != nil {
				continue
			}
			if ok {
				bb.Set(a.ResolveKey("task"), t.ID)
				return bt.StatusSuccess
			}
		}
		return bt.StatusFailure
	})
	return a
}

// NewStateCondition returns a condition that is true while the watched
// state key holds a value for which pred returns true.
func NewStateCondition(m *Middleware, name, key string, pred func(any) bool) *bt.Condition {
	return bt.NewCondition(name, func(context.Context, *blackboard.Blackboard) bool {
		v, ok := m.State(key)
		return ok && pred(v)
	})
}

// NewOutputLeaf returns an action that reads the blackboard key bound
// to the "data" attribute and forwards it to the named external output
// channel as source.
func NewOutputLeaf(m *Middleware, name, channel, source string) *bt.Action {
	a := bt.NewAction(name, nil)
	a.SetAction(func(_ context.Context, bb *blackboard.Blackboard) bt.Status {
		data, ok := bb.GetOK(a.ResolveKey("data"))
		if !ok {
			return bt.StatusFailure
		}
		m.ExternalOutput(channel, data, source)
		return bt.StatusSuccess
	})
	return a
}
