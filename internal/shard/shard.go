// Package shard maps keys onto a fixed number of slots.
package shard

import "hash/fnv"

// ForKey returns the slot of key in [0, n) by FNV-1a hash.
func ForKey(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

type Sharder interface {
	GetShardForKey(key string) int
}

// Func adapts a plain function to a Sharder.
type Func func(key string) int

func (f Func) GetShardForKey(key string) int { return f(key) }

// Distributed spreads keys evenly over n slots.
func Distributed(n int) Sharder {
	return Func(func(key string) int { return ForKey(key, n) })
}
