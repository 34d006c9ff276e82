package async

// AsyncError is an async value that will eventually return an error.
// It is similar to a Promise/Future which returns an error.
// The value is supplied by calling SetValue, after which AsyncError is completed
// and the value can be read with TryGetValue.
type AsyncError struct {
	errCh     chan error
	notifyCh  chan struct{}
	val       error
	completed bool
}

func newAsyncError(notifyCh chan struct{}) *AsyncError {
	return &AsyncError{
		errCh:    make(chan error, 1),
		notifyCh: notifyCh,
	}
}

// Sets the value for the AsyncError and marks it completed.
// Must be called exactly once per AsyncError, a second call panics.
// The owning mailbox is poked so a loop waiting on Mailbox.Notify wakes up.
func (e *AsyncError) SetValue(err error) {
	e.errCh <- err
	close(e.errCh)
	if e.notifyCh != nil {
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}
}

// Returns true and the value if completed, false and nil if still pending.
func (e *AsyncError) TryGetValue() (bool, error) {
	if e.completed {
		return true, e.val
	}
	select {
	case err := <-e.errCh:
		e.val = err
		e.completed = true
		return true, err
	default:
		return false, nil
	}
}
