package comm_test

import (
	"context"
	"testing"
	"time"

	"github.com/arborbt/arbor/bt"
	"github.com/arborbt/arbor/comm"
	"github.com/arborbt/arbor/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPublishingTree builds a tree whose single action publishes its
// blackboard "data" value on topic every tick.
func newPublishingTree(t *testing.T, m *comm.Middleware, topic string) *tree.BehaviorTree {
	t.Helper()
	tr := tree.New("publisher", tree.Config{}, nil)
	leaf := comm.NewPublishLeaf(m, "publish", topic, "publisher")
	require.NoError(t, tr.SetRoot(leaf))
	tr.Blackboard().Set("data", "ping")
	return tr
}

func TestPublishLeaf(t *testing.T) {
	m := newMW(t)

	got := make(chan comm.Event, 1)
	m.Subscribe("reports", func(_ context.Context, ev comm.Event) {
		select {
		case got <- ev:
		default:
		}
	})

	tr := tree.New("reporter", tree.Config{}, nil)
	leaf := comm.NewPublishLeaf(m, "report", "reports", "reporter")
	require.NoError(t, tr.SetRoot(leaf))
	tr.Blackboard().Set("data", "all clear")

	assert.Equal(t, bt.StatusSuccess, tr.Tick(context.Background()))
	select {
	case ev := <-got:
		assert.Equal(t, "all clear", ev.Data)
		assert.Equal(t, "reporter", ev.Source)
	default:
		t.Fatal("event not delivered")
	}
}

func TestPublishLeaf_MissingDataFails(t *testing.T) {
	m := newMW(t)
	tr := tree.New("reporter", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(comm.NewPublishLeaf(m, "report", "reports", "reporter")))
	assert.Equal(t, bt.StatusFailure, tr.Tick(context.Background()))
}

func TestPublishLeaf_ParamIndirection(t *testing.T) {
	m := newMW(t)

	got := make(chan comm.Event, 1)
	m.Subscribe("reports", func(_ context.Context, ev comm.Event) {
		select {
		case got <- ev:
		default:
		}
	})

	leaf := comm.NewPublishLeaf(m, "report", "reports", "reporter")
	leaf.SetParam("data", "custom_key")
	tr := tree.New("reporter", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(leaf))
	tr.Blackboard().Set("custom_key", 7)

	assert.Equal(t, bt.StatusSuccess, tr.Tick(context.Background()))
	assert.Equal(t, 7, (<-got).Data)
}

func TestAwaitEventLeaf_ReceivesEvent(t *testing.T) {
	m := newMW(t)

	leaf := comm.NewAwaitEventLeaf(m, "await", "orders", time.Second)
	tr := tree.New("waiter", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(leaf))

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Publish(context.Background(), "orders", "advance", "hq")
	}()

	assert.Equal(t, bt.StatusSuccess, tr.Tick(context.Background()))
	assert.Equal(t, "advance", tr.Blackboard().Get("data", nil))
}

func TestAwaitEventLeaf_TimeoutFails(t *testing.T) {
	m := newMW(t)

	leaf := comm.NewAwaitEventLeaf(m, "await", "orders", 30*time.Millisecond)
	tr := tree.New("waiter", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(leaf))

	assert.Equal(t, bt.StatusFailure, tr.Tick(context.Background()))
}

func TestClaimTaskLeaf_ClaimsHighestPriority(t *testing.T) {
	m := newMW(t)

	m.PublishTask("low", "", []string{"worker"}, 1, nil)
	high := m.PublishTask("high", "", []string{"worker"}, 9, nil)

	leaf := comm.NewClaimTaskLeaf(m, "claim", "worker-1", []string{"worker"})
	tr := tree.New("claimer", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(leaf))

	assert.Equal(t, bt.StatusSuccess, tr.Tick(context.Background()))
	assert.Equal(t, high, tr.Blackboard().Get("task", ""))

	task, err := m.Task(high)
	require.NoError(t, err)
	assert.Equal(t, comm.TaskClaimed, task.State)
	assert.Equal(t, "worker-1", task.Owner)
}

func TestClaimTaskLeaf_NoEligibleTaskFails(t *testing.T) {
	m := newMW(t)
	m.PublishTask("restricted", "", []string{"crane"}, 5, nil)

	leaf := comm.NewClaimTaskLeaf(m, "claim", "worker-1", []string{"worker"})
	tr := tree.New("claimer", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(leaf))

	assert.Equal(t, bt.StatusFailure, tr.Tick(context.Background()))
}

func TestStateCondition(t *testing.T) {
	m := newMW(t)

	cond := comm.NewStateCondition(m, "alerted", "mode", func(v any) bool {
		return v == "alert"
	})
	tr := tree.New("guard", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(cond))

	assert.Equal(t, bt.StatusFailure, tr.Tick(context.Background()))
	m.UpdateState("mode", "alert", "monitor")
	assert.Equal(t, bt.StatusSuccess, tr.Tick(context.Background()))
	m.UpdateState("mode", "calm", "monitor")
	assert.Equal(t, bt.StatusFailure, tr.Tick(context.Background()))
}

func TestOutputLeaf(t *testing.T) {
	m := newMW(t)

	leaf := comm.NewOutputLeaf(m, "emit", "telemetry", "worker-1")
	tr := tree.New("emitter", tree.Config{}, nil)
	require.NoError(t, tr.SetRoot(leaf))
	tr.Blackboard().Set("data", map[string]any{"battery": 80})

	assert.Equal(t, bt.StatusSuccess, tr.Tick(context.Background()))

	out := m.DrainOutput("telemetry")
	require.Len(t, out, 1)
	assert.Equal(t, "worker-1", out[0].Source)
	assert.Equal(t, map[string]any{"battery": 80}, out[0].Data)
}
