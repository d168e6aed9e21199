package blob

import (
	"context"
	"database/sql"
	"errors"
	"io"
)

// DefaultChunkSize is the read window used by chunked backends. 64KB keeps
// per-read allocations small while amortizing round trips.
const DefaultChunkSize = 64 * 1024

var ErrNotFound = errors.New("blob not found")

// Object is a handle to one stored large object. Length and Open are each
// called at most once, in that order. The reader returned by Open is
// lazy, single-pass and not restartable; when the handle was bound to a
// cursor transaction it stays readable only while that transaction is open.
type Object interface {
	Length(ctx context.Context) (int64, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Store persists large objects for one backend.
type Store interface {
	// Name returns the backend name (e.g. "postgres", "gridfs").
	Name() string

	// Create streams content into a new object and returns its key.
	Create(ctx context.Context, r io.Reader) (key string, size int64, err error)

	// ObjectInTx binds a stored key to the caller's cursor transaction.
	// The returned handle reads through that transaction and is invalidated
	// when it closes. Backends without transactional coupling ignore tx.
	ObjectInTx(tx *sql.Tx, key string) (Object, error)

	// Delete removes the object.
	Delete(ctx context.Context, key string) error
}
