// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs CPU-bound work on a bounded set of goroutines
// while handing results to the caller in submission order.
//
// The archive engine encodes blocks in parallel but must write them to
// a backend in the order they were produced. Ordered keeps a queue of
// at most as many in-flight tasks as it has workers; when the queue is
// full, Submit blocks on the oldest task and passes its result to the
// consumer on the calling goroutine. The consumer therefore never runs
// concurrently with itself.
package pipeline

import (
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pipeline is closed")

type future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Ordered runs submitted tasks concurrently and consumes their results
// in submission order. It is not safe for concurrent use; one goroutine
// submits and consumes.
type Ordered[T any] struct {
	consume func(T) error
	depth   int
	group   *errgroup.Group
	pending []*future[T]
	err     error
	closed  bool
}

// New returns a pipeline with the given number of worker goroutines.
// With workers <= 0 every task runs synchronously inside Submit.
func New[T any](workers int, consume func(T) error) *Ordered[T] {
	ordered := &Ordered[T]{consume: consume}
	if workers > 0 {
		ordered.group = new(errgroup.Group)
		ordered.group.SetLimit(workers)
		ordered.depth = workers
	}
	return ordered
}

// Submit schedules task. It returns the first error produced by any
// earlier task or by the consumer; once an error is returned, every
// later Submit returns it too.
func (o *Ordered[T]) Submit(task func() (T, error)) error {
	if o.closed {
		return ErrClosed
	}
	if o.err != nil {
		return o.err
	}
	if o.group == nil {
		value, err := task()
		if err == nil {
			err = o.consume(value)
		}
		o.err = err
		return err
	}

	for len(o.pending) >= o.depth {
		if err := o.next(); err != nil {
			return err
		}
	}

	// Fewer than depth futures are pending, so Go waits at most for an
	// already finished task to release its slot.
	f := &future[T]{done: make(chan struct{})}
	o.pending = append(o.pending, f)
	o.group.Go(func() error {
		defer close(f.done)
		f.value, f.err = task()
		return nil
	})
	return nil
}

// next waits for the oldest task and consumes it.
func (o *Ordered[T]) next() error {
	f := o.pending[0]
	o.pending[0] = nil
	o.pending = o.pending[1:]
	<-f.done
	err := f.err
	if err == nil {
		err = o.consume(f.value)
	}
	if err != nil {
		o.err = err
	}
	return err
}

// Drain consumes every in-flight task in order. After an error the
// remaining tasks are awaited but not consumed.
func (o *Ordered[T]) Drain() error {
	for len(o.pending) > 0 {
		if o.err != nil {
			o.pending = nil
			o.wait()
			return o.err
		}
		o.next()
	}
	return o.err
}

// Pending reports how many tasks have been submitted but not consumed.
func (o *Ordered[T]) Pending() int {
	return len(o.pending)
}

// Close waits for all running tasks without consuming their results.
// Submit fails with ErrClosed afterwards.
func (o *Ordered[T]) Close() {
	o.closed = true
	o.pending = nil
	o.wait()
}

// wait blocks until every started task has returned. Task errors
// travel through their futures, so the group itself never fails.
func (o *Ordered[T]) wait() {
	if o.group != nil {
		o.group.Wait()
	}
}
