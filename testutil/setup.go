// Package testutil provides shared helpers for package tests. Nothing
// here needs external services; everything runs in-process and is safe
// for parallel tests.
package testutil

import (
	"context"
	"testing"

	"github.com/arborbt/arbor/blackboard"
	"github.com/arborbt/arbor/bt"
	"github.com/arborbt/arbor/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Logger returns a zap logger that writes through t.Log.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// SetupStore creates an in-process Store and PubSub (no Redis required).
func SetupStore(t *testing.T) (store.Store, store.PubSub) {
	t.Helper()
	cfg := store.Config{} // empty RedisAddr → local backend
	s, err := store.New(cfg)
	require.NoError(t, err, "SetupStore: New")
	ps, err := store.NewPubSub(cfg)
	require.NoError(t, err, "SetupStore: NewPubSub")
	return s, ps
}

// StaticAction returns an action leaf that always reports status.
func StaticAction(name string, status bt.Status) *bt.Action {
	return bt.NewAction(name, func(context.Context, *blackboard.Blackboard) bt.Status {
		return status
	})
}

// CountingAction returns an action leaf reporting status and a counter
// incremented on every tick.
func CountingAction(name string, status bt.Status) (*bt.Action, *int) {
	count := new(int)
	a := bt.NewAction(name, func(context.Context, *blackboard.Blackboard) bt.Status {
		*count++
		return status
	})
	return a, count
}
