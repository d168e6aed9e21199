package rowstream

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// RowScanner builds an element from the current row. The transaction is the
// one backing the cursor; elements that carry streaming handles (large
// objects) must read through it later and therefore stay valid only until
// the subscription is cancelled. The scanner must not run queries on the
// transaction itself, only rows.Scan.
type RowScanner[T any] func(tx *sql.Tx, rows *sql.Rows) (T, error)

// QueryPublisher runs a lookup query inside a read-only transaction and
// publishes its result. The transaction is the cursor resource: it is held
// open until the subscriber cancels, or released eagerly when the result
// set turns out to be empty or the query fails.
//
// The publisher is specialized for primary-key style lookups and delivers
// at most one row per subscription.
type QueryPublisher[T any] struct {
	db    *sql.DB
	query string
	args  []any
	scan  RowScanner[T]
}

func NewQueryPublisher[T any](db *sql.DB, query string, scan RowScanner[T], args ...any) *QueryPublisher[T] {
	return &QueryPublisher[T]{db: db, query: query, args: args, scan: scan}
}

func (p *QueryPublisher[T]) Subscribe(ctx context.Context, s Subscriber[T]) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		s.OnError(fmt.Errorf("failed to begin transaction: %w", err))
		return
	}

	rows, err := tx.QueryContext(ctx, p.query, p.args...)
	if err != nil {
		_ = tx.Rollback()
		s.OnError(fmt.Errorf("query execution failed: %w", err))
		return
	}

	s.OnSubscribe(&querySubscription[T]{tx: tx, rows: rows, scan: p.scan, sink: s})
}

// querySubscription guards the cursor state with a mutex, but every sink
// callback is invoked with the lock released: a subscriber may legally call
// Request or Cancel synchronously from inside OnNext, OnComplete or OnError,
// and that re-entry must not find the mutex held.
type querySubscription[T any] struct {
	mu        sync.Mutex
	tx        *sql.Tx
	rows      *sql.Rows
	scan      RowScanner[T]
	sink      Subscriber[T]
	delivered bool
	done      bool
}

func (s *querySubscription[T]) Request(n uint64) {
	s.mu.Lock()

	if s.done || n == 0 {
		s.mu.Unlock()
		return
	}

	if s.delivered {
		// Single-row cursor: nothing further will ever be produced.
		s.release()
		s.mu.Unlock()
		s.sink.OnComplete()
		return
	}

	if !s.rows.Next() {
		err := s.rows.Err()
		s.release()
		s.mu.Unlock()
		if err != nil {
			s.sink.OnError(fmt.Errorf("row iteration failed: %w", err))
		} else {
			s.sink.OnComplete()
		}
		return
	}

	elem, err := s.scan(s.tx, s.rows)
	if err != nil {
		s.release()
		s.mu.Unlock()
		s.sink.OnError(fmt.Errorf("row scan failed: %w", err))
		return
	}

	// Free the connection for follow-up reads through the transaction
	// (loread and friends cannot run while the result set is open).
	_ = s.rows.Close()
	s.rows = nil
	s.delivered = true
	s.mu.Unlock()

	s.sink.OnNext(elem)
}

func (s *querySubscription[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.release()
}

// release closes the result set and rolls back the cursor transaction.
// Callers must hold s.mu.
func (s *querySubscription[T]) release() {
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows = nil
	}
	_ = s.tx.Rollback()
	s.done = true
}
