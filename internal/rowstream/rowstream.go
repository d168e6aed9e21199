package rowstream

import "context"

// Publisher produces elements for a single Subscriber on demand.
// Elements are only emitted after the subscriber requests them, and a
// conforming publisher never invokes subscriber callbacks concurrently.
type Publisher[T any] interface {
	// Subscribe attaches the subscriber and delivers OnSubscribe before any
	// other signal. Each publisher instance supports exactly one subscriber.
	Subscribe(ctx context.Context, s Subscriber[T])
}

// Subscription is the subscriber's handle for controlling demand.
// Neither method may be called before OnSubscribe has been received.
type Subscription interface {
	// Request asks the publisher to emit up to n further elements.
	Request(n uint64)

	// Cancel stops production and releases the resources backing the
	// stream (cursor, transaction). Safe to call more than once.
	Cancel()
}

// Subscriber receives signals from a Publisher. After a terminal signal
// (OnComplete or OnError) no further signals are delivered.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(elem T)
	OnComplete()
	OnError(err error)
}
