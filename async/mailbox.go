package async

// A Mailbox stores AsyncErrors and their associated callbacks
// and invokes them once the AsyncError is completed.
//
// An event loop often spawns go routines to do some concurrent work and wants to act
// on the outcome without blocking. The loop registers a callback with NewAsyncError,
// hands the AsyncError to the go routine, and later calls ProcessMessages which runs
// the callbacks of everything that has completed so far.
//
//	mailbox := NewMailbox()
//	go func(rsp *AsyncError) {
//	  rsp.SetValue(terminate(queryID))
//	}(mailbox.NewAsyncError(func(err error) { log.Info("terminated ", queryID, err) }))
//	...
//	select {
//	case <-mailbox.Notify():
//	  mailbox.ProcessMessages()
//	}
//
// A Mailbox is not a concurrent structure and should only ever be accessed from a
// single go routine, so callbacks always run in the same context one at a time.
type Mailbox struct {
	msgs     []message
	notifyCh chan struct{}
}

// The function type of the callback invoked when an AsyncError is Completed
type AsyncErrorResponseHandler func(error)

type message struct {
	err      *AsyncError
	callback AsyncErrorResponseHandler
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		msgs:     make([]message, 0),
		notifyCh: make(chan struct{}, 1),
	}
}

// Number of messages whose callbacks have not run yet.
func (bx *Mailbox) Count() int {
	return len(bx.msgs)
}

// Notify receives a value after at least one AsyncError completed since the last receive.
func (bx *Mailbox) Notify() <-chan struct{} {
	return bx.notifyCh
}

// Creates a new AsyncError and associates the supplied callback with it.
// Once SetValue is called the callback runs on the next ProcessMessages.
func (bx *Mailbox) NewAsyncError(cb AsyncErrorResponseHandler) *AsyncError {
	msg := message{err: newAsyncError(bx.notifyCh), callback: cb}
	bx.msgs = append(bx.msgs, msg)
	return msg.err
}

// Invokes the callback of every completed message and drops it from the mailbox.
// Callbacks run in registration order.
func (bx *Mailbox) ProcessMessages() int {
	var pending []message
	processed := 0
	for _, msg := range bx.msgs {
		if ok, err := msg.err.TryGetValue(); ok {
			msg.callback(err)
			processed++
		} else {
			pending = append(pending, msg)
		}
	}
	bx.msgs = pending
	return processed
}
