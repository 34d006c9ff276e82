// Async provides tools for asynchronous callback processing using Goroutines
package async

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrTimeout is delivered to the callback of a RunAsyncTimeout call whose function
// did not return in time.
var ErrTimeout = errors.New("async: operation timed out")

// A Runner spawns go routines to run functions and associates callbacks with them.
// It builds on Mailbox, so callbacks run on the go routine calling ProcessMessages.
//
//	runner := NewRunner(clockwork.NewRealClock())
//	runner.RunAsyncTimeout(time.Second, func(ctx context.Context) error {
//	  return executor.Terminate(ctx, id, code)
//	}, func(err error) {
//	  if err == ErrTimeout { ... }
//	})
//	...
//	<-runner.Notify()
//	runner.ProcessMessages()
type Runner struct {
	bx    *Mailbox
	clock clockwork.Clock
}

func NewRunner(clock clockwork.Clock) Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Runner{
		bx:    NewMailbox(),
		clock: clock,
	}
}

// Number of functions whose callbacks have not been processed yet.
func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync creates a go routine to run the specified function f.
// The callback, cb, is invoked once f is completed by calling ProcessMessages.
func (r *Runner) RunAsync(f func() error, cb AsyncErrorResponseHandler) {
	asyncErr := r.bx.NewAsyncError(cb)
	go func(rsp *AsyncError) {
		rsp.SetValue(f())
	}(asyncErr)
}

// RunAsyncTimeout is like RunAsync but f gets a context that is cancelled once timeout elapses.
// If f has not returned by then, cb is invoked with ErrTimeout and the late result is dropped.
func (r *Runner) RunAsyncTimeout(timeout time.Duration, f func(context.Context) error, cb AsyncErrorResponseHandler) {
	asyncErr := r.bx.NewAsyncError(cb)
	timer := r.clock.NewTimer(timeout)
	go func(rsp *AsyncError) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		resultCh := make(chan error, 1)
		go func() {
			resultCh <- f(ctx)
		}()
		select {
		case err := <-resultCh:
			timer.Stop()
			rsp.SetValue(err)
		case <-timer.Chan():
			rsp.SetValue(ErrTimeout)
		}
	}(asyncErr)
}

// Notify fires after at least one function completed since the last receive.
func (r *Runner) Notify() <-chan struct{} {
	return r.bx.Notify()
}

// Invokes all callbacks of completed functions, synchronously on the calling go routine.
// Returns the number of callbacks run.
func (r *Runner) ProcessMessages() int {
	return r.bx.ProcessMessages()
}
