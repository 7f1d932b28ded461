// Package task is the Go remapping of spec section 4.2's coroutine task
// core. The original is a lazy, stackless coroutine with a custom promise
// type: initial_suspend always suspends, and the task only runs once
// something awaits it.
//
// Go has no stackless coroutines, so a Task here is a state machine driven
// by a goroutine and a channel, per the "Pattern remapping" note in spec
// section 9: each suspension point becomes a channel receive instead of a
// compiler-generated resume point. A Task is still lazy — NewTask does not
// start the goroutine; the first call to Await does, exactly once.
package task

import (
	"sync"

	"github.com/nabbar/simple-mesh/cancel"
	liberr "github.com/nabbar/simple-mesh/errors"
)

// Func is the body of a task: it receives the cancellation token the
// scheduler armed for it and returns a value or an error.
type Func[T any] func(tok cancel.Token) (T, error)

// Task is a resumable computation that yields exactly one of
// (value, error) on completion and resumes at most one continuation
// (invariant 1, 2 in spec section 3).
type Task[T any] struct {
	fn   Func[T]
	once sync.Once
	done chan struct{}

	val T
	err error
}

// NewTask builds a lazy task around fn. Nothing runs until Await (or
// Start) is called.
func NewTask[T any](fn Func[T]) *Task[T] {
	return &Task[T]{fn: fn, done: make(chan struct{})}
}

// Start arms the task's goroutine if it has not already run. Calling it
// more than once is safe; only the first call has effect, matching
// "initial_suspend" immediately transitioning to running on first await.
func (t *Task[T]) Start(tok cancel.Token) {
	t.once.Do(func() {
		go func() {
			defer close(t.done)
			t.val, t.err = t.fn(tok)
		}()
	})
}

// Done reports whether the task has produced a result.
func (t *Task[T]) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the stored value/error once Done; called before
// completion it returns the zero value and a CodeInvalidAction error,
// the "broken promise" case for programmer misuse (spec section 7).
func (t *Task[T]) Result() (T, error) {
	if !t.Done() {
		var zero T
		return zero, liberr.NewCode(liberr.CodeInvalidAction, "task result read before completion")
	}
	return t.val, t.err
}

// Await starts the task (if needed) and blocks until it completes or tok
// is cancelled. A parent's cancellation token propagates into the
// awaited task before resume, per spec section 4.2.
func (t *Task[T]) Await(tok cancel.Token) (T, error) {
	t.Start(tok)

	if tok.Valid() {
		if tok.IsRequested() {
			var zero T
			return zero, liberr.NewCode(liberr.CodeCancelled, "task await: already cancelled")
		}
		done := make(chan struct{})
		reg := tok.Register(func() { close(done) })
		defer reg.Detach()

		select {
		case <-t.done:
		case <-done:
			var zero T
			return zero, liberr.NewCode(liberr.CodeCancelled, "task await: cancelled")
		}
	} else {
		<-t.done
	}

	return t.val, t.err
}
