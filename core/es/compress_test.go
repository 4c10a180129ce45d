package es

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func envs(types ...string) []Envelope {
	out := make([]Envelope, len(types))
	for i, typ := range types {
		out[i] = Envelope{
			ID:          fmt.Sprintf("e%d", i),
			Type:        typ,
			Collapsible: typ == "status" || typ == "color",
		}
	}
	return out
}

func ids(events []Envelope) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestCompressor_ShouldCompress(t *testing.T) {
	c := NewCompressor(3)
	require.False(t, c.ShouldCompress(envs("a", "b", "c")))
	require.True(t, c.ShouldCompress(envs("a", "b", "c", "d")))

	require.False(t, NewCompressor(0).ShouldCompress(envs("a", "b", "c", "d")))
	var nilC *Compressor
	require.False(t, nilC.ShouldCompress(envs("a", "b")))
}

func TestCompressor_Compress(t *testing.T) {
	c := NewCompressor(1)
	in := envs("status", "milestone", "status", "color", "deposit", "status", "color")

	out := c.Compress(in)
	require.Equal(t, []string{"e1", "e4", "e5", "e6"}, ids(out))

	t.Run("idempotent", func(t *testing.T) {
		require.Equal(t, ids(out), ids(c.Compress(out)))
	})

	t.Run("keeps every non collapsible event", func(t *testing.T) {
		for _, e := range in {
			if !e.Collapsible {
				require.Contains(t, ids(out), e.ID)
			}
		}
	})

	t.Run("nothing collapsible", func(t *testing.T) {
		in := envs("a", "b", "a")
		out := c.Compress(in)
		require.Equal(t, ids(in), ids(out))
		out[0].ID = "changed"
		require.Equal(t, "e0", in[0].ID, "input is not aliased")
	})

	require.Empty(t, c.Compress(nil))
}

func TestIsCollapsible(t *testing.T) {
	require.True(t, IsCollapsible(&stateOnly{}))
	require.False(t, IsCollapsible(&critical{}))
	require.False(t, IsCollapsible(&credited{}))
}

type (
	stateOnly struct{}
	critical  struct{}
)

func (stateOnly) StateChange() {}
func (critical) StateChange()  {}
func (critical) Milestone()    {}
