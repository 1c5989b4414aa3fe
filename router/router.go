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

// Package router moves frames between the transport's receive queue, the
// handler queue read by the pairing logic, and the transmit queue drained to
// the radio. It never transforms a frame.
package router

import "github.com/ZaparooProject/go-nowpair/queue"

// Router wires three queues together. Any of them may be nil; operations on
// a missing queue fail.
type Router[T any] struct {
	transmit *queue.Bounded[T]
	receive  *queue.Bounded[T]
	handler  *queue.Bounded[T]
}

// New returns a router over the given queues.
func New[T any](transmit, receive, handler *queue.Bounded[T]) *Router[T] {
	return &Router[T]{transmit: transmit, receive: receive, handler: handler}
}

// Tick moves at most one frame from receive to handler. A frame that does
// not fit in the handler queue is dropped. It reports whether a frame was
// delivered.
func (r *Router[T]) Tick() bool {
	if r.receive == nil || r.handler == nil {
		return false
	}
	item, ok := r.receive.Pop()
	if !ok {
		return false
	}
	return r.handler.Push(item)
}

// Enqueue queues item for transmission.
func (r *Router[T]) Enqueue(item T) bool {
	if r.transmit == nil {
		return false
	}
	return r.transmit.Push(item)
}

// Dequeue pops the next received item, bypassing the handler queue.
func (r *Router[T]) Dequeue() (T, bool) {
	if r.receive == nil {
		var zero T
		return zero, false
	}
	return r.receive.Pop()
}

// RouteToHandler pushes item straight to the handler queue.
func (r *Router[T]) RouteToHandler(item T) bool {
	if r.handler == nil {
		return false
	}
	return r.handler.Push(item)
}

// TransmitQueue returns the transmit queue.
func (r *Router[T]) TransmitQueue() *queue.Bounded[T] {
	return r.transmit
}

// ReceiveQueue returns the receive queue.
func (r *Router[T]) ReceiveQueue() *queue.Bounded[T] {
	return r.receive
}

// HandlerQueue returns the handler queue.
func (r *Router[T]) HandlerQueue() *queue.Bounded[T] {
	return r.handler
}
