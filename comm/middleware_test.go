package comm_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arborbt/arbor/comm"
	"github.com/arborbt/arbor/forest"
	"github.com/arborbt/arbor/store"
	"github.com/arborbt/arbor/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMW(t *testing.T) *comm.Middleware {
	t.Helper()
	m := comm.New("test-comm", comm.Config{}, nil)
	t.Cleanup(m.Close)
	return m
}

func TestPublish_FanOutExactlyOnce(t *testing.T) {
	m := newMW(t)

	const n = 5
	counts := make([]atomic.Int32, n)
	for i := 0; i < n; i++ {
		i := i
		m.Subscribe("alerts", func(context.Context, comm.Event) {
			counts[i].Add(1)
		})
	}

	m.Publish(context.Background(), "alerts", "intruder", "sentry")

	for i := 0; i < n; i++ {
		assert.Equal(t, int32(1), counts[i].Load(), "subscriber %d", i)
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	m := newMW(t)
	m.Publish(context.Background(), "void", "lost", "nobody")
	assert.Equal(t, int64(1), m.Stats().Published)
	assert.Equal(t, int64(0), m.Stats().Delivered)
}

func TestPublish_SubscriberPanicIsolated(t *testing.T) {
	m := newMW(t)

	var delivered atomic.Int32
	m.Subscribe("jobs", func(context.Context, comm.Event) {
		panic("bad subscriber")
	})
	m.Subscribe("jobs", func(context.Context, comm.Event) {
		delivered.Add(1)
	})

	assert.NotPanics(t, func() {
		m.Publish(context.Background(), "jobs", 1, "src")
	})
	assert.Equal(t, int32(1), delivered.Load())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m := newMW(t)

	var count atomic.Int32
	unsub := m.Subscribe("t", func(context.Context, comm.Event) {
		count.Add(1)
	})

	m.Publish(context.Background(), "t", nil, "s")
	unsub()
	m.Publish(context.Background(), "t", nil, "s")

	assert.Equal(t, int32(1), count.Load())
}

func TestPublish_EventMetadata(t *testing.T) {
	m := newMW(t)

	var got comm.Event
	var mu sync.Mutex
	m.Subscribe("meta", func(_ context.Context, ev comm.Event) {
		mu.Lock()
		got = ev
		mu.Unlock()
	})

	before := time.Now()
	m.Publish(context.Background(), "meta", 42, "node-a")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "meta", got.Topic)
	assert.Equal(t, 42, got.Data)
	assert.Equal(t, "node-a", got.Source)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Time.Before(before))
}

func TestRequest_RoundTrip(t *testing.T) {
	m := newMW(t)

	m.RegisterService("adder", func(_ context.Context, params map[string]any) (any, error) {
		return params["a"].(int) + params["b"].(int), nil
	})

	resp, err := m.Request(context.Background(), "adder", map[string]any{"a": 2, "b": 3}, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 5, resp)
}

func TestRequest_UnknownService(t *testing.T) {
	m := newMW(t)
	_, err := m.Request(context.Background(), "ghost", nil, "worker-1")
	assert.ErrorIs(t, err, comm.ErrUnknownService)
}

func TestRequest_HandlerError(t *testing.T) {
	m := newMW(t)
	boom := errors.New("boom")
	m.RegisterService("failing", func(context.Context, map[string]any) (any, error) {
		return nil, boom
	})
	_, err := m.Request(context.Background(), "failing", nil, "worker-1")
	assert.ErrorIs(t, err, boom)
}

func TestRequest_HandlerPanicBecomesError(t *testing.T) {
	m := newMW(t)
	m.RegisterService("panicky", func(context.Context, map[string]any) (any, error) {
		panic("oh no")
	})
	resp, err := m.Request(context.Background(), "panicky", nil, "worker-1")
	assert.Nil(t, resp)
	assert.Error(t, err)
}

func TestRequest_Unregistered(t *testing.T) {
	m := newMW(t)
	m.RegisterService("temp", func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	})
	m.UnregisterService("temp")
	_, err := m.Request(context.Background(), "temp", nil, "worker-1")
	assert.ErrorIs(t, err, comm.ErrUnknownService)
}

func TestShared_SetGetRemove(t *testing.T) {
	m := newMW(t)
	ctx := context.Background()

	m.SetShared(ctx, "target", "waypoint-3", "scout")
	assert.Equal(t, "waypoint-3", m.GetShared("target", nil, "worker"))

	assert.True(t, m.RemoveShared(ctx, "target", "master"))
	assert.Equal(t, "none", m.GetShared("target", "none", "worker"))
	assert.False(t, m.RemoveShared(ctx, "target", "master"))
}

func TestShared_AuditLog(t *testing.T) {
	m := newMW(t)
	ctx := context.Background()

	m.SetShared(ctx, "k", 1, "a")
	m.GetShared("k", nil, "b")
	m.RemoveShared(ctx, "k", "c")

	log := m.AuditLog()
	require.Len(t, log, 3)
	assert.Equal(t, "set", log[0].Action)
	assert.Equal(t, "a", log[0].Source)
	assert.Equal(t, "get", log[1].Action)
	assert.Equal(t, "remove", log[2].Action)
	for _, e := range log {
		assert.Equal(t, "k", e.Key)
	}
}

func TestShared_AuditLogBounded(t *testing.T) {
	m := comm.New("bounded", comm.Config{AuditLimit: 10}, nil)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		m.SetShared(ctx, fmt.Sprintf("k%d", i), i, "s")
	}

	log := m.AuditLog()
	require.Len(t, log, 10)
	assert.Equal(t, "k15", log[0].Key, "oldest entries evicted")
	assert.Equal(t, "k24", log[9].Key)
}

func TestShared_MirrorWriteThrough(t *testing.T) {
	backend, _ := testutil.SetupStore(t)

	m := comm.New("mirrored", comm.Config{}, nil, comm.WithMirror(backend))
	defer m.Close()
	ctx := context.Background()

	m.SetShared(ctx, "pos", map[string]any{"x": 1}, "scout")
	v, err := backend.Get(ctx, "arbor:bb:pos")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, v)

	m.RemoveShared(ctx, "pos", "scout")
	_, err = backend.Get(ctx, "arbor:bb:pos")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestState_WatchFiresOnChange(t *testing.T) {
	m := newMW(t)

	type change struct{ old, new any }
	var mu sync.Mutex
	var seen []change
	m.WatchState("mode", func(_ string, old, new any, _ string) {
		mu.Lock()
		seen = append(seen, change{old, new})
		mu.Unlock()
	}, "monitor")

	m.UpdateState("mode", "patrol", "master")
	m.UpdateState("mode", "patrol", "master") // no-op
	m.UpdateState("mode", "alert", "monitor")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2, "identical update must not fire")
	assert.Nil(t, seen[0].old)
	assert.Equal(t, "patrol", seen[0].new)
	assert.Equal(t, "patrol", seen[1].old)
	assert.Equal(t, "alert", seen[1].new)
}

func TestState_Unwatch(t *testing.T) {
	m := newMW(t)

	var count atomic.Int32
	unwatch := m.WatchState("k", func(string, any, any, string) {
		count.Add(1)
	}, "monitor")
	m.UpdateState("k", 1, "s")
	unwatch()
	m.UpdateState("k", 2, "s")

	assert.Equal(t, int32(1), count.Load())
}

func TestState_HistoryBounded(t *testing.T) {
	m := comm.New("hist", comm.Config{HistoryLimit: 5}, nil)
	defer m.Close()

	for i := 0; i < 12; i++ {
		m.UpdateState("counter", i, "s")
	}

	hist := m.StateHistory("counter")
	require.Len(t, hist, 5)
	assert.Equal(t, 7, hist[0].New)
	assert.Equal(t, 11, hist[4].New)

	v, ok := m.State("counter")
	require.True(t, ok)
	assert.Equal(t, 11, v)
}

func TestState_WatcherPanicIsolated(t *testing.T) {
	m := newMW(t)

	var ok atomic.Bool
	m.WatchState("k", func(string, any, any, string) { panic("bad watcher") }, "w1")
	m.WatchState("k", func(string, any, any, string) { ok.Store(true) }, "w2")

	assert.NotPanics(t, func() { m.UpdateState("k", 1, "s") })
	assert.True(t, ok.Load())
}

func TestCallBehavior_RoundTripAndLog(t *testing.T) {
	m := newMW(t)

	m.RegisterBehavior("goto", func(_ context.Context, params map[string]any) (any, error) {
		return fmt.Sprintf("moving to %v", params["dest"]), nil
	})

	resp, err := m.CallBehavior(context.Background(), "goto", map[string]any{"dest": "base"}, "master")
	require.NoError(t, err)
	assert.Equal(t, "moving to base", resp)

	log := m.BehaviorCallLog()
	require.Len(t, log, 1)
	assert.Equal(t, "goto", log[0].Behavior)
	assert.Equal(t, "master", log[0].Source)
	assert.Empty(t, log[0].Err)
}

func TestCallBehavior_Unknown(t *testing.T) {
	m := newMW(t)
	_, err := m.CallBehavior(context.Background(), "missing", nil, "s")
	assert.ErrorIs(t, err, comm.ErrUnknownBehavior)
	assert.Empty(t, m.BehaviorCallLog(), "unknown behavior is not logged as a call")
}

func TestCallBehavior_ErrorRecorded(t *testing.T) {
	m := newMW(t)
	m.RegisterBehavior("flaky", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("out of fuel")
	})
	_, err := m.CallBehavior(context.Background(), "flaky", nil, "s")
	require.Error(t, err)

	log := m.BehaviorCallLog()
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Err, "out of fuel")
}

func TestExternal_InputDrain(t *testing.T) {
	m := newMW(t)

	m.ExternalInput("sensors", 21.5, "thermometer")
	m.ExternalInput("sensors", 22.0, "thermometer")

	got := m.DrainInput("sensors")
	require.Len(t, got, 2)
	assert.Equal(t, 21.5, got[0].Data)
	assert.Equal(t, "thermometer", got[0].Source)
	assert.False(t, got[0].Time.IsZero())

	assert.Empty(t, m.DrainInput("sensors"), "drain empties the queue")
}

func TestExternal_OutputBounded(t *testing.T) {
	m := comm.New("q", comm.Config{QueueLimit: 3}, nil)
	defer m.Close()

	for i := 0; i < 6; i++ {
		m.ExternalOutput("telemetry", i, "tree")
	}
	got := m.DrainOutput("telemetry")
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Data, "oldest entries dropped when full")
	assert.Equal(t, 5, got[2].Data)
}

func TestExternal_ChannelsIndependent(t *testing.T) {
	m := newMW(t)
	m.ExternalInput("a", 1, "s")
	m.ExternalInput("b", 2, "s")
	assert.Len(t, m.DrainInput("a"), 1)
	assert.Len(t, m.DrainInput("b"), 1)
}

func TestTransport_BridgesTwoMiddlewares(t *testing.T) {
	_, ps := testutil.SetupStore(t)

	m1 := comm.New("proc-1", comm.Config{}, nil, comm.WithTransport(ps))
	defer m1.Close()
	m2 := comm.New("proc-2", comm.Config{}, nil, comm.WithTransport(ps))
	defer m2.Close()

	got := make(chan comm.Event, 1)
	m2.Subscribe("cross", func(_ context.Context, ev comm.Event) {
		select {
		case got <- ev:
		default:
		}
	})

	var local atomic.Int32
	m1.Subscribe("cross", func(context.Context, comm.Event) {
		local.Add(1)
	})

	m1.Publish(context.Background(), "cross", "hello", "node-1")

	select {
	case ev := <-got:
		assert.Equal(t, "hello", ev.Data)
		assert.Equal(t, "node-1", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("bridged event never arrived")
	}
	assert.Equal(t, int32(1), local.Load(), "own echo must not double-deliver")
}

func TestMiddleware_ForestIntegration(t *testing.T) {
	m := newMW(t)
	f := forest.New("site", forest.Config{}, nil)
	require.NoError(t, f.AddMiddleware(m))

	var published atomic.Int32
	m.Subscribe("heartbeat", func(context.Context, comm.Event) {
		published.Add(1)
	})

	tr := newPublishingTree(t, m, "heartbeat")
	node := forest.NewNode("worker-1", tr, forest.KindWorker)
	require.NoError(t, f.AddNode(node))

	f.Tick(context.Background())
	f.Tick(context.Background())

	assert.Equal(t, int32(2), published.Load())
	assert.Equal(t, int64(2), m.Stats().Cycles)
}

func TestStats_Snapshot(t *testing.T) {
	m := newMW(t)
	ctx := context.Background()

	m.Subscribe("t", func(context.Context, comm.Event) {})
	m.Publish(ctx, "t", nil, "s")
	m.RegisterService("svc", func(context.Context, map[string]any) (any, error) { return nil, nil })
	m.RegisterBehavior("bhv", func(context.Context, map[string]any) (any, error) { return nil, nil })
	m.WatchState("k", func(string, any, any, string) {}, "s")
	m.UpdateState("k", 1, "s")
	m.SetShared(ctx, "sk", 1, "s")
	id := m.PublishTask("t", "", nil, 0, nil)
	_, err := m.ClaimTask(id, "w", nil)
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, int64(1), st.Published)
	assert.Equal(t, int64(1), st.Delivered)
	assert.Equal(t, int64(1), st.StateUpdates)
	assert.Equal(t, 1, st.Subscribers)
	assert.Equal(t, 1, st.Watchers)
	assert.Equal(t, 1, st.Services)
	assert.Equal(t, 1, st.Behaviors)
	assert.Equal(t, 1, st.Tasks[comm.TaskClaimed])
	assert.Equal(t, 1, st.AuditLen)
}
