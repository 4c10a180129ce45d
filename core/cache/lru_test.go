package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)

	// touch a, so b is the oldest
	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	l.Put("c", 3)

	_, ok = l.Get("b")
	require.False(t, ok)

	v, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, v)

	_, ok = l.Get("a")
	require.True(t, ok)
}

func TestLRU_Overwrite(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("a", 2)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)
	l.Delete("a")
	l.Delete("missing")

	_, ok := l.Get("a")
	require.False(t, ok)

	v, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRU_TTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewLRU(LRUOpts{Size: 4, Now: clock.now})
	defer l.Close()

	l.Put("short", 1, WithTTL(time.Minute))
	l.Put("forever", 2)

	_, ok := l.Get("short")
	require.True(t, ok)

	clock.advance(time.Minute + time.Second)

	_, ok = l.Get("short")
	require.False(t, ok)
	require.Equal(t, 1, l.Len())

	_, ok = l.Get("forever")
	require.True(t, ok)
}

func TestLRU_TTLRefreshedOnPut(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewLRU(LRUOpts{Size: 2, Now: clock.now})
	defer l.Close()

	l.Put("a", 1, WithTTL(50*time.Second))
	clock.advance(30 * time.Second)
	l.Put("a", 2, WithTTL(200*time.Second))
	clock.advance(30 * time.Second)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestLRU_Close(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Close()
	l.Close()

	_, ok := l.Get("a")
	require.False(t, ok)

	require.NotPanics(t, func() {
		l.Put("b", 2)
		l.Delete("a")
	})
}

func TestLRU_DefaultSize(t *testing.T) {
	l := NewLRU(LRUOpts{})
	defer l.Close()

	for i := 0; i < 128; i++ {
		l.Put(fmt.Sprintf("k%d", i), i)
	}
	_, ok := l.Get("k0")
	require.True(t, ok)

	// k0 was just touched, k1 is now the oldest
	l.Put("overflow", 999)
	_, ok = l.Get("k1")
	require.False(t, ok)
	_, ok = l.Get("k0")
	require.True(t, ok)
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 100})
	defer l.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%10)
				l.Put(key, i)
				l.Get(key)
				if i%7 == 0 {
					l.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestTyped(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 4})
	defer l.Close()

	tc := NewTyped[[]string](l)
	tc.Put("x", []string{"a", "b"})

	v, ok := tc.Get("x")
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, v)

	// wrong type stored under the same key reads as a miss
	l.Put("y", 42)
	_, ok = tc.Get("y")
	require.False(t, ok)

	tc.Delete("x")
	_, ok = tc.Get("x")
	require.False(t, ok)
}

func TestNop(t *testing.T) {
	var c Cache = NewNop()
	c.Put("x", 1, WithTTL(time.Second))
	_, ok := c.Get("x")
	require.False(t, ok)

	tc := NewTyped[int](nil)
	tc.Put("x", 1)
	_, ok = tc.Get("x")
	require.False(t, ok)
}
