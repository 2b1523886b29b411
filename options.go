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

// option provide an interface to do work on Map while it is being created.
type option[V any] interface {
	apply(m *Map[V])
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by the default buckets of a Map. The default allocator
// utilizes Go's builtin make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Map.Close must be called in order to ensure FreeSlots is called
// for every live slot array.
type Allocator[V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[V], n).
	AllocSlots(n int) []Slot[V]

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots. A slot
	// array replaced while an All iteration is reading it is not freed until
	// that iteration returns.
	FreeSlots(v []Slot[V])
}

type defaultAllocator[V any] struct{}

func (defaultAllocator[V]) AllocSlots(n int) []Slot[V] {
	return make([]Slot[V], n)
}

func (defaultAllocator[V]) FreeSlots(v []Slot[V]) {
}

type allocatorOption[V any] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(m *Map[V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for the slot
// arrays of a Map[V].
func WithAllocator[V any](allocator Allocator[V]) option[V] {
	return allocatorOption[V]{allocator}
}

type bucketOption[V any] struct {
	newBucket func() Bucket[V]
}

func (op bucketOption[V]) apply(m *Map[V]) {
	m.newBucket = op.newBucket
}

// WithBucket is an option to specify the collision strategy of a Map[V].
// newBucket is called once per bucket when the Map is constructed and must
// return a distinct, empty Bucket on every call. Buckets constructed this
// way do not use the Map's Allocator.
func WithBucket[V any](newBucket func() Bucket[V]) option[V] {
	return bucketOption[V]{newBucket}
}
