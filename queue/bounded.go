// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

// Package queue provides the fixed-capacity FIFO used for every handoff
// between a transport's receive goroutine and the cooperative tick.
//
// A Bounded queue never blocks and never grows. Push reports false when
// the queue is full and leaves the stored items untouched; Pop reports
// false when the queue is empty. Items are copied in and out by value.
//
// The queue is meant for one producer and one consumer. The internal lock
// makes that pairing race free across goroutines, but several concurrent
// producers or consumers get no ordering guarantee between each other.
package queue

import "github.com/ZaparooProject/go-nowpair/internal/syncutil"

// DefaultCapacity matches the message buffer size of the radio firmware.
const DefaultCapacity = 8

// Bounded is a fixed-capacity ring buffer of T.
type Bounded[T any] struct {
	buf   []T
	head  int
	count int
	mu    syncutil.Mutex
}

// New returns an empty queue holding at most capacity items.
// A capacity below 1 is replaced with DefaultCapacity.
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bounded[T]{buf: make([]T, capacity)}
}

// Push appends item at the tail. It returns false, without modifying the
// queue, when the queue is full.
func (q *Bounded[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	return true
}

// Pop removes and returns the head item. ok is false when the queue is empty.
func (q *Bounded[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return item, false
	}
	item = q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

// Peek returns the head item without removing it.
func (q *Bounded[T]) Peek() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return item, false
	}
	return q.buf[q.head], true
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.buf)
}

// IsFull reports whether the next Push would fail.
func (q *Bounded[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == len(q.buf)
}

// IsEmpty reports whether the next Pop would fail.
func (q *Bounded[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Clear drops every queued item.
func (q *Bounded[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head = 0
	q.count = 0
}
