// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBucket() *arrayBucket[int] {
	return newArrayBucket[int](defaultAllocator[int]{})
}

// slotKeys returns the key of every in-use slot, using "" for tombstones.
func (b *arrayBucket[V]) slotKeys() []string {
	keys := make([]string, b.length)
	for i := range b.slots[:b.length] {
		if b.slots[i].full {
			keys[i] = b.slots[i].key
		}
	}
	return keys
}

func TestArrayBucketGrowth(t *testing.T) {
	b := newTestBucket()
	require.EqualValues(t, 1, b.capacity())
	require.EqualValues(t, 0, b.length)

	testCases := []struct {
		length   int
		capacity int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{8, 8},
		{9, 16},
	}
	i := 0
	for _, c := range testCases {
		for b.length < c.length {
			b.Set(fmt.Sprintf("k%d", i), i)
			i++
		}
		require.EqualValues(t, c.capacity, b.capacity(), "length=%d", c.length)
	}

	for j := 0; j < i; j++ {
		v, ok := b.Get(fmt.Sprintf("k%d", j))
		require.True(t, ok)
		require.EqualValues(t, j, v)
	}
}

func TestArrayBucketOverwrite(t *testing.T) {
	b := newTestBucket()
	b.Set("a", 1)
	b.Set("b", 2)
	require.EqualValues(t, 2, b.length)

	b.Set("a", 3)
	require.EqualValues(t, 2, b.length)
	require.EqualValues(t, 2, b.capacity())
	require.Equal(t, []string{"a", "b"}, b.slotKeys())

	v, ok := b.Get("a")
	require.True(t, ok)
	require.EqualValues(t, 3, v)
}

func TestArrayBucketOverwriteSkipsTombstone(t *testing.T) {
	b := newTestBucket()
	b.Set("a", 1)
	b.Set("b", 2)
	b.Remove("a")

	// Updating b must happen in place rather than in the tombstone that
	// precedes it.
	b.Set("b", 3)
	require.Equal(t, []string{"", "b"}, b.slotKeys())
	v, ok := b.Get("b")
	require.True(t, ok)
	require.EqualValues(t, 3, v)
}

func TestArrayBucketTombstoneReuse(t *testing.T) {
	b := newTestBucket()
	b.Set("a", 1)
	b.Set("b", 2)
	b.Set("c", 3)
	require.EqualValues(t, 3, b.length)
	require.EqualValues(t, 4, b.capacity())

	b.Remove("b")
	require.EqualValues(t, 3, b.length)
	require.Equal(t, []string{"a", "", "c"}, b.slotKeys())
	_, ok := b.Get("b")
	require.False(t, ok)

	b.Set("d", 4)
	require.EqualValues(t, 3, b.length)
	require.Equal(t, []string{"a", "d", "c"}, b.slotKeys())

	// The first tombstone is reused first.
	b.Remove("c")
	b.Remove("a")
	b.Set("e", 5)
	require.Equal(t, []string{"e", "d", ""}, b.slotKeys())
	b.Set("f", 6)
	require.Equal(t, []string{"e", "d", "f"}, b.slotKeys())
	require.EqualValues(t, 3, b.length)
	require.EqualValues(t, 4, b.capacity())

	// With no tombstones left, the next insert appends.
	b.Set("g", 7)
	require.Equal(t, []string{"e", "d", "f", "g"}, b.slotKeys())
	require.EqualValues(t, 4, b.capacity())
}

func TestArrayBucketRemoveNonExistent(t *testing.T) {
	b := newTestBucket()
	for i := 0; i < 5; i++ {
		b.Set(fmt.Sprintf("k%d", i), i)
	}
	b.Remove("k2")

	before := append([]Slot[int](nil), b.slots...)
	length := b.length

	b.Remove("missing")
	b.Remove("k2")
	require.Equal(t, before, b.slots)
	require.Equal(t, length, b.length)
}

func TestArrayBucketTombstoneReuseBoundsGrowth(t *testing.T) {
	const n = 100
	const removed = 40

	b := newTestBucket()
	for i := 0; i < n; i++ {
		b.Set(fmt.Sprintf("k%d", i), i)
	}
	capacity, length := b.capacity(), b.length

	for i := 0; i < removed; i++ {
		b.Remove(fmt.Sprintf("k%d", 2*i))
	}
	for i := 0; i < removed; i++ {
		b.Set(fmt.Sprintf("new%d", i), i)
	}
	require.Equal(t, capacity, b.capacity())
	require.Equal(t, length, b.length)

	for i := 0; i < n; i++ {
		v, ok := b.Get(fmt.Sprintf("k%d", i))
		if i%2 == 0 && i < 2*removed {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		require.EqualValues(t, i, v)
	}
	for i := 0; i < removed; i++ {
		v, ok := b.Get(fmt.Sprintf("new%d", i))
		require.True(t, ok)
		require.EqualValues(t, i, v)
	}
}

func TestArrayBucketAll(t *testing.T) {
	b := newTestBucket()
	for i := 0; i < 6; i++ {
		b.Set(fmt.Sprintf("k%d", i), i)
	}
	b.Remove("k1")
	b.Remove("k4")

	var keys []string
	b.All(func(k string, v int) bool {
		keys = append(keys, k)
		return true
	})
	require.Equal(t, []string{"k0", "k2", "k3", "k5"}, keys)

	keys = keys[:0]
	b.All(func(k string, v int) bool {
		keys = append(keys, k)
		return len(keys) < 2
	})
	require.Equal(t, []string{"k0", "k2"}, keys)

	// Iteration runs over a snapshot of the slots, so growing the bucket
	// mid-iteration neither loses nor duplicates entries.
	b = newTestBucket()
	for i := 0; i < 4; i++ {
		b.Set(fmt.Sprintf("k%d", i), i)
	}
	require.EqualValues(t, 4, b.capacity())
	seen := make(map[string]int)
	b.All(func(k string, v int) bool {
		b.Set(k+"-copy", v)
		seen[k]++
		return true
	})
	require.Equal(t, map[string]int{"k0": 1, "k1": 1, "k2": 1, "k3": 1}, seen)
	require.EqualValues(t, 8, b.capacity())
}

func TestArrayBucketString(t *testing.T) {
	b := newTestBucket()
	b.Set("a", 1)
	b.Set("b", 2)
	b.Set("c", 3)
	b.Remove("b")

	const expected = `capacity=4  length=3
     0: "a"=1
     1: <nil>
     2: "c"=3
     3: <nil> [unused]
`
	require.Equal(t, expected, b.String())
}

func TestArrayBucketGrowDuringAllDefersFree(t *testing.T) {
	a := &countingAllocator[int]{}
	b := newArrayBucket[int](a)
	for i := 0; i < 4; i++ {
		b.Set(fmt.Sprintf("k%d", i), i)
	}
	// 1 -> 2 -> 4
	require.EqualValues(t, 3, a.alloc)
	require.EqualValues(t, 2, a.free)

	var keys []string
	b.All(func(k string, v int) bool {
		b.Set(k+"-copy", v)
		// The slot array being iterated over was replaced by the first Set
		// but must not be released while the iteration can still read it.
		require.EqualValues(t, 4, a.alloc)
		require.EqualValues(t, 2, a.free)
		keys = append(keys, k)
		return true
	})
	require.Equal(t, []string{"k0", "k1", "k2", "k3"}, keys)
	require.EqualValues(t, 3, a.free)
	require.Nil(t, b.retired)

	// Stopping early releases retired slot arrays too.
	b.All(func(k string, v int) bool {
		for j := 0; j < 8; j++ {
			b.Set(fmt.Sprintf("%s-more%d", k, j), j)
		}
		require.EqualValues(t, 3, a.free)
		return false
	})
	require.EqualValues(t, 5, a.alloc)
	require.EqualValues(t, 4, a.free)

	b.close()
	require.EqualValues(t, 5, a.free)
}
