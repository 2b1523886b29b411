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
	"strings"
)

// Bucket holds every entry whose key hashes to a single index of a Map. A
// Bucket knows nothing about hashing: the Map routes each key to exactly one
// Bucket and the Bucket resolves collisions among the keys it is given.
//
// A Bucket is NOT goroutine-safe.
type Bucket[V any] interface {
	// Get returns the value stored for key, returning ok=false if the key is
	// not present.
	Get(key string) (value V, ok bool)
	// Set stores value for key, overwriting the value of an existing entry
	// with the same key.
	Set(key string, value V)
	// Remove removes the entry for key. It is a noop to remove a
	// non-existent key.
	Remove(key string)
	// All calls yield sequentially for each key and value present in the
	// bucket. If yield returns false, iteration stops.
	All(yield func(key string, value V) bool)
}

// Slot holds a key and value. A slot that is not full is either a tombstone
// left behind by a removal or has never been written.
type Slot[V any] struct {
	key   string
	value V
	full  bool
}

// arrayBucket is the default Bucket. Entries live in a contiguous slot array
// whose capacity is a power of two, starting at 1 and doubling whenever an
// insert finds neither a matching key nor a tombstone within the in-use
// prefix slots[:length]. Removal tombstones a slot in place and the first
// tombstone is reused by a later insert, so neither the slots nor length
// ever shrink.
type arrayBucket[V any] struct {
	allocator Allocator[V]
	// slots is capacity in length. Slots at index >= length are never full.
	slots []Slot[V]
	// The number of slots that have been written at least once.
	length int
	// iterators is the number of All calls in progress. While non-zero, slot
	// arrays replaced by grow are held in retired rather than being freed,
	// as an iteration may still be reading them.
	iterators int
	retired   [][]Slot[V]
}

var _ Bucket[int] = (*arrayBucket[int])(nil)

func newArrayBucket[V any](allocator Allocator[V]) *arrayBucket[V] {
	return &arrayBucket[V]{
		allocator: allocator,
		slots:     allocator.AllocSlots(1),
	}
}

// Get implements Bucket.
func (b *arrayBucket[V]) Get(key string) (value V, ok bool) {
	for i := range b.slots[:b.length] {
		s := &b.slots[i]
		if s.full && s.key == key {
			return s.value, true
		}
	}
	return value, false
}

// Set implements Bucket.
func (b *arrayBucket[V]) Set(key string, value V) {
	firstTombstone := -1
	for i := range b.slots[:b.length] {
		s := &b.slots[i]
		if !s.full {
			if firstTombstone < 0 {
				firstTombstone = i
			}
			continue
		}
		if s.key == key {
			if debug {
				fmt.Printf("set(%q): updating index=%d\n", key, i)
			}
			s.value = value
			b.checkInvariants()
			return
		}
	}

	if firstTombstone >= 0 {
		if debug {
			fmt.Printf("set(%q): reusing tombstone index=%d length=%d\n", key, firstTombstone, b.length)
		}
		b.slots[firstTombstone] = Slot[V]{key: key, value: value, full: true}
		b.checkInvariants()
		return
	}

	if b.length == len(b.slots) {
		b.grow()
	}
	if debug {
		fmt.Printf("set(%q): appending index=%d capacity=%d\n", key, b.length, len(b.slots))
	}
	b.slots[b.length] = Slot[V]{key: key, value: value, full: true}
	b.length++
	b.checkInvariants()
}

// Remove implements Bucket.
func (b *arrayBucket[V]) Remove(key string) {
	for i := range b.slots[:b.length] {
		s := &b.slots[i]
		if s.full && s.key == key {
			if debug {
				fmt.Printf("remove(%q): index=%d length=%d\n", key, i, b.length)
			}
			// Clearing the slot drops the references held by the key and
			// value and marks it as a tombstone.
			*s = Slot[V]{}
			b.checkInvariants()
			return
		}
	}
	if debug {
		fmt.Printf("remove(%q): not-found length=%d\n", key, b.length)
	}
}

// All implements Bucket.
func (b *arrayBucket[V]) All(yield func(key string, value V) bool) {
	// Snapshot the slots so that iteration remains valid if the bucket grows
	// during iteration.
	slots := b.slots[:b.length]
	b.iterators++
	defer b.endIteration()
	for i := range slots {
		if s := &slots[i]; s.full {
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// endIteration frees the slot arrays retired while iterations were running
// once the last of them finishes.
func (b *arrayBucket[V]) endIteration() {
	b.iterators--
	if b.iterators == 0 {
		b.freeRetired()
	}
}

func (b *arrayBucket[V]) freeRetired() {
	for _, slots := range b.retired {
		b.allocator.FreeSlots(slots)
	}
	b.retired = nil
}

// grow doubles the capacity of the bucket. Every in-use slot keeps its
// position, including tombstones.
func (b *arrayBucket[V]) grow() {
	oldSlots := b.slots
	newCapacity := 2 * len(oldSlots)
	if debug {
		fmt.Printf("grow: capacity=%d->%d length=%d\n", len(oldSlots), newCapacity, b.length)
	}
	b.slots = b.allocator.AllocSlots(newCapacity)
	copy(b.slots, oldSlots[:b.length])
	if b.iterators > 0 {
		b.retired = append(b.retired, oldSlots)
		return
	}
	b.allocator.FreeSlots(oldSlots)
}

// close releases the slot array back to the allocator. It is idempotent.
func (b *arrayBucket[V]) close() {
	b.freeRetired()
	if b.slots != nil {
		b.allocator.FreeSlots(b.slots)
		b.slots = nil
		b.length = 0
	}
}

func (b *arrayBucket[V]) capacity() int {
	return len(b.slots)
}

func (b *arrayBucket[V]) checkInvariants() {
	if invariants {
		capacity := len(b.slots)
		if capacity == 0 || capacity&(capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two\n%s", capacity, b))
		}
		if b.length > capacity {
			panic(fmt.Sprintf("invariant failed: length %d exceeds capacity %d\n%s", b.length, capacity, b))
		}
		for i := b.length; i < capacity; i++ {
			if b.slots[i].full {
				panic(fmt.Sprintf("invariant failed: slot(%d) beyond length is full\n%s", i, b))
			}
		}
		seen := make(map[string]int, b.length)
		for i := range b.slots[:b.length] {
			s := &b.slots[i]
			if !s.full {
				continue
			}
			if j, ok := seen[s.key]; ok {
				panic(fmt.Sprintf("invariant failed: key %q present in slot(%d) and slot(%d)\n%s", s.key, j, i, b))
			}
			seen[s.key] = i
		}
	}
}

// String returns a dump of every slot in the bucket, rendering tombstones
// and unwritten slots as <nil>.
func (b *arrayBucket[V]) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  length=%d\n", len(b.slots), b.length)
	for i := range b.slots {
		s := &b.slots[i]
		switch {
		case s.full:
			fmt.Fprintf(&buf, "  %4d: %q=%v\n", i, s.key, s.value)
		case i < b.length:
			fmt.Fprintf(&buf, "  %4d: <nil>\n", i)
		default:
			fmt.Fprintf(&buf, "  %4d: <nil> [unused]\n", i)
		}
	}
	return buf.String()
}
