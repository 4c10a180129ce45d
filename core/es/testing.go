package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type TestingEnv struct {
	*Env
	t *testing.T
}

// StartTestEnv starts an Env on a fresh in-memory store and shuts it down
// when the test ends.
func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()
	e := NewEnv(
		WithCtx(t.Context()),
		WithStore(NewInMemoryStore()),
		WithEnvOpts(opts...),
	)
	t.Cleanup(e.Shutdown)
	return &TestingEnv{t: t, Env: e}
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (a *TestingEnvAssert) Append(ctx context.Context, expect Version, aggType string, aggID string, events ...any) {
	a.env.t.Helper()
	require.NoError(a.env.t, a.env.Append(ctx, expect, aggType, aggID, events...))
}

// StreamLen asserts the number of live events of a stream.
func (a *TestingEnvAssert) StreamLen(ctx context.Context, aggType, aggID string, n int) {
	a.env.t.Helper()
	events, err := a.env.Store().GetEvents(ctx, aggType, aggID)
	require.NoError(a.env.t, err)
	require.Len(a.env.t, events, n)
}
