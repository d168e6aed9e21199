package fetch

import (
	"context"
	"fmt"
	"io"
	"sync"

	"blob-vault/internal/blob"
	"blob-vault/internal/rowstream"
)

// Row is the single element published for a file lookup: the large object
// handle plus whatever other columns the query selected.
type Row[E any] struct {
	Object blob.Object
	Extra  E
}

// FileResult is the successful outcome of a single-row fetch. Data is a
// lazy, single-pass stream over the object content; the cursor backing it
// is released only once the stream has been read to EOF. A consumer that
// never drains it holds the cursor open: draining is the caller's
// obligation.
type FileResult[E any] struct {
	Length int64
	Data   io.Reader
	Extra  E
}

// ProtocolViolationError reports a signal that arrived in a state that does
// not permit it. It means the upstream publisher (or the drain hook) broke
// its contract, so it is raised synchronously as a panic, never through the
// result promise.
type ProtocolViolationError struct {
	Event string
	State string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("rowstream protocol violation: %s received in state %s", e.Event, e.State)
}

type state int

const (
	stateNotSubscribed state = iota
	stateSubscribedAndRequested
	stateReadingFromBlob
	stateReadFinished
	stateCompleted
)

func (s state) String() string {
	switch s {
	case stateNotSubscribed:
		return "NotSubscribed"
	case stateSubscribedAndRequested:
		return "SubscribedAndRequested"
	case stateReadingFromBlob:
		return "ReadingFromBlob"
	case stateReadFinished:
		return "ReadFinished"
	case stateCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RowSubscriber adapts a single-row publisher into a promise of at most one
// FileResult. All entry points, including the internal drain notification,
// run under one mutex, so events are processed strictly one at a time even
// if the upstream fails to serialize its callbacks. The subscription handle
// is only kept while the state permits using it.
//
// Calls on the subscription (Request, Cancel) are made after the lock is
// dropped: they may re-enter this subscriber synchronously.
type RowSubscriber[E any] struct {
	ctx     context.Context
	promise *Promise[*FileResult[E]]

	mu     sync.Mutex
	state  state
	failed bool
	sub    rowstream.Subscription
}

func NewRowSubscriber[E any](ctx context.Context) *RowSubscriber[E] {
	return &RowSubscriber[E]{ctx: ctx, promise: NewPromise[*FileResult[E]]()}
}

// Promise returns the result bridge. It settles exactly once: nil for an
// empty result, a FileResult for the row, or the failure.
func (s *RowSubscriber[E]) Promise() *Promise[*FileResult[E]] {
	return s.promise
}

func (s *RowSubscriber[E]) OnSubscribe(sub rowstream.Subscription) {
	s.mu.Lock()
	if s.failed || s.state != stateNotSubscribed {
		s.violation("OnSubscribe")
	}
	s.state = stateSubscribedAndRequested
	s.sub = sub
	s.mu.Unlock()

	// Exactly one row: this adapter serves point lookups only.
	sub.Request(1)
}

func (s *RowSubscriber[E]) OnNext(row Row[E]) {
	s.mu.Lock()
	if s.failed || s.state != stateSubscribedAndRequested {
		s.violation("OnNext")
	}
	sub := s.sub
	s.mu.Unlock()

	// Length and Open are database round-trips; they block outside the lock.
	length, err := row.Object.Length(s.ctx)
	var reader io.ReadCloser
	if err == nil {
		reader, err = row.Object.Open(s.ctx)
	}

	s.mu.Lock()
	// A terminal signal slipping in while the blob calls were in flight
	// would be a second event between request and delivery.
	if s.failed || s.state != stateSubscribedAndRequested {
		s.violation("OnNext")
	}
	if err != nil {
		// No reader was handed out, so the cursor must be released here.
		s.promise.Reject(err)
		s.state = stateReadFinished
		s.sub = nil
		s.mu.Unlock()
		sub.Cancel()
		return
	}

	result := &FileResult[E]{
		Length: length,
		Data:   &drainNotifier{inner: reader, onDrained: s.onReadFinished},
		Extra:  row.Extra,
	}
	// Resolve before leaving the critical section: a waiting consumer may
	// start draining immediately, and its finish notification must find the
	// ReadingFromBlob state already in place (it will queue on the mutex).
	s.promise.Resolve(result)
	s.state = stateReadingFromBlob
	s.mu.Unlock()
}

func (s *RowSubscriber[E]) OnComplete() {
	s.mu.Lock()
	if s.failed || (s.state != stateNotSubscribed && s.state != stateSubscribedAndRequested) {
		s.violation("OnComplete")
	}
	// Empty result: a first-class outcome, not an error. The cursor was
	// never handed to a reader, and the publisher releases it on completion.
	s.promise.Resolve(nil)
	s.state = stateCompleted
	s.sub = nil
	s.mu.Unlock()
}

func (s *RowSubscriber[E]) OnError(err error) {
	s.mu.Lock()
	if s.failed || (s.state != stateNotSubscribed && s.state != stateSubscribedAndRequested) {
		s.violation("OnError")
	}
	s.promise.Reject(err)
	// No state transition, but nothing further is legal: the failed guard
	// turns any later signal into a protocol violation.
	s.failed = true
	s.sub = nil
	s.mu.Unlock()
}

// onReadFinished is fired by the drain notifier once the consumer has read
// the stream to EOF. It is an entry point like the protocol callbacks and
// observes the same mutual exclusion.
func (s *RowSubscriber[E]) onReadFinished() {
	s.mu.Lock()
	if s.failed || s.state != stateReadingFromBlob {
		s.violation("onReadFinished")
	}
	sub := s.sub
	s.state = stateReadFinished
	s.sub = nil
	s.mu.Unlock()

	sub.Cancel()
}

// violation releases the lock and panics; callers must hold s.mu.
func (s *RowSubscriber[E]) violation(event string) {
	st := s.state.String()
	if s.failed {
		st += " (after failure)"
	}
	s.mu.Unlock()
	panic(&ProtocolViolationError{Event: event, State: st})
}

// drainNotifier wraps the blob reader and reports exhaustion exactly once.
// Close is deliberately not part of the surface: abandoning the stream
// early merely delays release, it does not produce a distinct outcome.
type drainNotifier struct {
	inner     io.ReadCloser
	once      sync.Once
	onDrained func()
}

func (d *drainNotifier) Read(p []byte) (int, error) {
	n, err := d.inner.Read(p)
	if err == io.EOF {
		d.once.Do(func() {
			_ = d.inner.Close()
			d.onDrained()
		})
	}
	return n, err
}

// One subscribes a fresh RowSubscriber to pub and returns the promise of
// the outcome: nil for no row, a FileResult for the one row, or the
// failure. The promise settles exactly once regardless of which path fires.
func One[E any](ctx context.Context, pub rowstream.Publisher[Row[E]]) *Promise[*FileResult[E]] {
	s := NewRowSubscriber[E](ctx)
	pub.Subscribe(ctx, s)
	return s.promise
}
