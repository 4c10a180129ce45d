package shard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForKey(t *testing.T) {
	const n = 8
	seen := map[int]int{}
	for i := range 1000 {
		key := fmt.Sprintf("acc-%d", i)
		slot := ForKey(key, n)
		require.GreaterOrEqual(t, slot, 0)
		require.Less(t, slot, n)
		require.Equal(t, slot, ForKey(key, n), "stable for the same key")
		seen[slot]++
	}
	require.Len(t, seen, n, "every slot is used")
}

func TestDistributed(t *testing.T) {
	s := Distributed(4)
	require.Equal(t, ForKey("a1", 4), s.GetShardForKey("a1"))
	require.Zero(t, Distributed(1).GetShardForKey("anything"))
}
