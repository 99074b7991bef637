// Package queue provides a lock-free FIFO used as the receive buffer of
// in-process CAN endpoints.
package queue

import "sync/atomic"

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is an unbounded multi-producer, multi-consumer FIFO
// (Michael-Scott queue). The zero value is not usable; use New.
type Queue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	length atomic.Int64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Enqueue adds v to the tail of the queue.
func (q *Queue[T]) Enqueue(v T) {
	n := &node[T]{value: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// tail is lagging, help it forward
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)

			return
		}
	}
}

// Dequeue removes the head of the queue. ok is false when the queue is empty.
func (q *Queue[T]) Dequeue() (v T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return v, false
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		// read before CAS, another consumer may advance past next
		val := next.value
		if q.head.CompareAndSwap(head, next) {
			q.length.Add(-1)
			return val, true
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return int(q.length.Load())
}

// Drain discards every queued item and returns how many were dropped.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			return n
		}
		n++
	}
}
