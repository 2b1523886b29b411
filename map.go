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

// package hashtable is a Go implementation of a separately chained hash table
// mapping string keys to values of a single type.
//
// # Layout
//
// A Map is a fixed number of buckets chosen by the caller at construction
// time. The number of buckets never changes: there is no load factor and no
// rehashing of the bucket array. A key is routed to bucket
// xxhash(key) % size, so the same key always resolves to the same bucket for
// the lifetime of the Map, and buckets never share memory or state with each
// other. A high load therefore degrades into longer linear scans within a
// bucket rather than a global resize.
//
// # Buckets
//
// Collisions are resolved by a Bucket. The default bucket is a growable
// array of slots plus a logical length marking the prefix of slots that have
// been written at least once:
//
//	 slots (capacity=8, length=5)
//	+-------+-------+-------+-------+-------+-------+-------+-------+
//	| a=1   | <nil> | c=3   | <nil> | e=5   |       |       |       |
//	+-------+-------+-------+-------+-------+-------+-------+-------+
//	                                         ^
//	                                         length
//
// Get, Set and Remove all scan slots[:length] linearly. Remove clears the
// matching slot, leaving a tombstone (<nil> above) and never decrementing
// length. Set overwrites the value of a matching key in place; otherwise it
// writes into the first tombstone it passed during the scan, and only if
// there is none does it append at length, doubling the capacity first if the
// array is full. Capacity starts at 1, is always a power of two and never
// shrinks. Reusing tombstones means a workload that removes as many keys as
// it inserts does not grow a bucket.
//
// Alternate collision strategies can be supplied with the WithBucket option.
package hashtable

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const debug = false

// Map is an unordered map from string keys to values with Set, Get, Remove,
// and All operations. Keys are distributed over a fixed number of
// independent buckets.
//
// A Map is NOT goroutine-safe.
type Map[V any] struct {
	// The allocator to use for the slots of the default buckets.
	allocator Allocator[V]
	// newBucket constructs the buckets. If nil, the default array bucket
	// is used.
	newBucket func() Bucket[V]
	// buckets is size in length and is never resized.
	buckets []Bucket[V]
}

// New constructs a new Map with the specified number of buckets. It panics if
// size is not positive.
func New[V any](size int, options ...option[V]) *Map[V] {
	if size <= 0 {
		panic(fmt.Sprintf("hashtable: size must be positive, got %d", size))
	}

	m := &Map[V]{
		allocator: defaultAllocator[V]{},
	}

	for _, op := range options {
		op.apply(m)
	}

	m.buckets = make([]Bucket[V], size)
	for i := range m.buckets {
		if m.newBucket != nil {
			m.buckets[i] = m.newBucket()
		} else {
			m.buckets[i] = newArrayBucket[V](m.allocator)
		}
	}
	return m
}

// Close closes the map, releasing the slots of the default buckets back to
// its configured allocator. It is unnecessary to close a map using the
// default allocator. It is invalid to use a Map after it has been closed,
// though Close itself is idempotent.
func (m *Map[V]) Close() {
	for _, b := range m.buckets {
		if c, ok := b.(interface{ close() }); ok {
			c.close()
		}
	}
	m.allocator = nil
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[V]) Get(key string) (value V, ok bool) {
	return m.buckets[m.bucketIndex(key)].Get(key)
}

// Set inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[V]) Set(key string, value V) {
	i := m.bucketIndex(key)
	if debug {
		fmt.Printf("set(%q): bucket=%d\n", key, i)
	}
	m.buckets[i].Set(key, value)
	m.checkInvariants(i)
}

// Remove removes the entry corresponding to the specified key from the map.
// It is a noop to remove a non-existent key.
func (m *Map[V]) Remove(key string) {
	i := m.bucketIndex(key)
	if debug {
		fmt.Printf("remove(%q): bucket=%d\n", key, i)
	}
	m.buckets[i].Remove(key)
	m.checkInvariants(i)
}

// All calls yield sequentially for each key and value present in the map,
// visiting buckets in index order. If yield returns false, iteration stops.
// The map can be mutated during iteration, though there is no guarantee that
// the mutations will be visible to the iteration.
func (m *Map[V]) All(yield func(key string, value V) bool) {
	for _, b := range m.buckets {
		stopped := false
		b.All(func(key string, value V) bool {
			if !yield(key, value) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
	}
}

// bucketIndex returns the index of the bucket responsible for key.
func (m *Map[V]) bucketIndex(key string) int {
	return int(hash(key) % uint64(len(m.buckets)))
}

// bucketCount returns the number of buckets.
func (m *Map[V]) bucketCount() int {
	return len(m.buckets)
}

// capacity returns the total slot capacity of all default buckets.
func (m *Map[V]) capacity() int {
	var capacity int
	for _, b := range m.buckets {
		if ab, ok := b.(*arrayBucket[V]); ok {
			capacity += ab.capacity()
		}
	}
	return capacity
}

func (m *Map[V]) checkInvariants(i int) {
	if invariants {
		m.buckets[i].All(func(key string, _ V) bool {
			if j := m.bucketIndex(key); j != i {
				panic(fmt.Sprintf("invariant failed: key %q found in bucket %d, but hashes to bucket %d\n%s",
					key, i, j, m.debugString()))
			}
			return true
		})
	}
}

func (m *Map[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "size=%d\n", len(m.buckets))
	for i, b := range m.buckets {
		fmt.Fprintf(&buf, "bucket %d: %v", i, b)
		if _, ok := b.(fmt.Stringer); !ok {
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// hash is the single hash function used to route keys to buckets. It is
// deterministic across processes and not seeded.
func hash(key string) uint64 {
	return xxhash.Sum64String(key)
}
