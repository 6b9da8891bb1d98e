package btreg_test

import (
	"context"
	"testing"
	"time"

	"github.com/arborbt/arbor/blackboard"
	"github.com/arborbt/arbor/bt"
	"github.com/arborbt/arbor/bt/btreg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	reg := btreg.NewRegistry()
	for _, name := range []string{
		"sequence", "selector", "parallel",
		"inverter", "repeater", "until_success", "until_failure", "wait",
	} {
		assert.True(t, reg.Registered(name), name)
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	reg := btreg.NewRegistry()
	ctor := func(def btreg.NodeDef) (bt.Node, error) {
		return bt.NewAction(def.Name, nil), nil
	}
	require.NoError(t, reg.Register("noop", ctor))
	assert.ErrorIs(t, reg.Register("noop", ctor), btreg.ErrDuplicateType)

	reg.Unregister("noop")
	assert.False(t, reg.Registered("noop"))
}

func TestRegistry_IsolatedInstances(t *testing.T) {
	a := btreg.NewRegistry()
	b := btreg.NewRegistry()
	require.NoError(t, a.Register("custom", func(def btreg.NodeDef) (bt.Node, error) {
		return bt.NewAction(def.Name, nil), nil
	}))
	assert.True(t, a.Registered("custom"))
	assert.False(t, b.Registered("custom"), "registries do not share state")
}

func TestBuild_UnknownTypeRejectedBeforeConstruction(t *testing.T) {
	reg := btreg.NewRegistry()
	def := btreg.NodeDef{
		Type: "sequence", Name: "root",
		Children: []btreg.NodeDef{{Type: "no_such_type", Name: "x"}},
	}
	_, err := btreg.Build(reg, def)
	assert.ErrorIs(t, err, btreg.ErrUnknownType)
}

func TestBuild_ConstructsTree(t *testing.T) {
	reg := btreg.NewRegistry()
	require.NoError(t, reg.Register("always_true", func(def btreg.NodeDef) (bt.Node, error) {
		return bt.NewCondition(def.Name, func(context.Context, *blackboard.Blackboard) bool {
			return true
		}), nil
	}))

	def := btreg.NodeDef{
		Type: "selector", Name: "root",
		Children: []btreg.NodeDef{
			{Type: "inverter", Name: "inv", Children: []btreg.NodeDef{
				{Type: "always_true", Name: "t1"},
			}},
			{Type: "always_true", Name: "t2"},
		},
	}
	root, err := btreg.Build(reg, def)
	require.NoError(t, err)
	require.Len(t, root.Children(), 2)
	assert.Equal(t, bt.StatusSuccess, root.Tick(context.Background()))
}

func TestBuild_AppliesParams(t *testing.T) {
	reg := btreg.NewRegistry()
	require.NoError(t, reg.Register("probe", func(def btreg.NodeDef) (bt.Node, error) {
		return bt.NewAction(def.Name, nil), nil
	}))

	def := btreg.NodeDef{
		Type: "probe", Name: "p",
		Params: map[string]string{"target": "actual_key"},
	}
	node, err := btreg.Build(reg, def)
	require.NoError(t, err)
	action, ok := node.(*bt.Action)
	require.True(t, ok)
	assert.Equal(t, "actual_key", action.ResolveKey("target"))
}

func TestBuild_ChildUnderLeafRejected(t *testing.T) {
	reg := btreg.NewRegistry()
	require.NoError(t, reg.Register("noop", func(def btreg.NodeDef) (bt.Node, error) {
		return bt.NewAction(def.Name, nil), nil
	}))
	def := btreg.NodeDef{
		Type: "noop", Name: "leaf",
		Children: []btreg.NodeDef{{Type: "noop", Name: "child"}},
	}
	_, err := btreg.Build(reg, def)
	assert.ErrorIs(t, err, bt.ErrLeafChild)
}

func TestBuild_RepeaterAndWaitConfig(t *testing.T) {
	reg := btreg.NewRegistry()
	require.NoError(t, reg.Register("always_true", func(def btreg.NodeDef) (bt.Node, error) {
		return bt.NewCondition(def.Name, func(context.Context, *blackboard.Blackboard) bool {
			return true
		}), nil
	}))

	def := btreg.NodeDef{
		Type: "repeater", Name: "rep", Repeat: 2,
		Children: []btreg.NodeDef{{Type: "always_true", Name: "t"}},
	}
	root, err := btreg.Build(reg, def)
	require.NoError(t, err)
	assert.Equal(t, bt.StatusRunning, root.Tick(context.Background()))
	assert.Equal(t, bt.StatusSuccess, root.Tick(context.Background()))

	wdef := btreg.NodeDef{Type: "wait", Name: "w", Duration: 10 * time.Millisecond}
	wnode, err := btreg.Build(reg, wdef)
	require.NoError(t, err)
	assert.Equal(t, bt.StatusRunning, wnode.Tick(context.Background()))
}

func TestBuild_UnknownPolicyRejected(t *testing.T) {
	reg := btreg.NewRegistry()
	_, err := btreg.Build(reg, btreg.NodeDef{Type: "parallel", Name: "p", Policy: "bogus"})
	assert.Error(t, err)
}
