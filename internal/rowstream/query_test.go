package rowstream_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blob-vault/internal/blob"
	"blob-vault/internal/fetch"
	"blob-vault/internal/rowstream"
)

// --- fixture driver ---
//
// A minimal database/sql driver serving canned single-column result sets,
// keyed by DSN. It counts rollbacks and result-set closes so tests can
// observe when the cursor transaction is actually released.

var fixtures sync.Map // dsn -> *fixtureSource
var fixtureSeq atomic.Int64

type fixtureSource struct {
	mu         sync.Mutex
	rows       []string
	queryErr   error
	iterErr    error // surfaced after the rows are exhausted
	rollbacks  int
	rowsClosed int
}

func (s *fixtureSource) rollbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

type fixtureDriver struct{}

func (fixtureDriver) Open(name string) (driver.Conn, error) {
	src, ok := fixtures.Load(name)
	if !ok {
		return nil, fmt.Errorf("unknown fixture %q", name)
	}
	return &fixtureConn{src: src.(*fixtureSource)}, nil
}

func init() { sql.Register("rowfixture", fixtureDriver{}) }

func newFixtureDB(t *testing.T, src *fixtureSource) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("fixture-%d", fixtureSeq.Add(1))
	fixtures.Store(name, src)
	db, err := sql.Open("rowfixture", name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixtureConn struct {
	src *fixtureSource
}

func (c *fixtureConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fixtureConn) Close() error { return nil }

func (c *fixtureConn) Begin() (driver.Tx, error) {
	return &fixtureTx{src: c.src}, nil
}

func (c *fixtureConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return &fixtureTx{src: c.src}, nil
}

func (c *fixtureConn) QueryContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Rows, error) {
	if c.src.queryErr != nil {
		return nil, c.src.queryErr
	}
	return &fixtureRows{src: c.src}, nil
}

type fixtureTx struct {
	src *fixtureSource
}

func (t *fixtureTx) Commit() error { return nil }

func (t *fixtureTx) Rollback() error {
	t.src.mu.Lock()
	t.src.rollbacks++
	t.src.mu.Unlock()
	return nil
}

type fixtureRows struct {
	src *fixtureSource
	idx int
}

func (r *fixtureRows) Columns() []string { return []string{"val"} }

func (r *fixtureRows) Close() error {
	r.src.mu.Lock()
	r.src.rowsClosed++
	r.src.mu.Unlock()
	return nil
}

func (r *fixtureRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.src.rows) {
		if r.src.iterErr != nil {
			return r.src.iterErr
		}
		return io.EOF
	}
	dest[0] = r.src.rows[r.idx]
	r.idx++
	return nil
}

// --- test subscriber ---

type recordingSubscriber struct {
	sub        rowstream.Subscription
	elems      []string
	completes  int
	errs       []error
	onNextHook func(rowstream.Subscription)
}

func (r *recordingSubscriber) OnSubscribe(sub rowstream.Subscription) { r.sub = sub }

func (r *recordingSubscriber) OnNext(v string) {
	r.elems = append(r.elems, v)
	if r.onNextHook != nil {
		r.onNextHook(r.sub)
	}
}

func (r *recordingSubscriber) OnComplete()       { r.completes++ }
func (r *recordingSubscriber) OnError(err error) { r.errs = append(r.errs, err) }

func scanString(_ *sql.Tx, rows *sql.Rows) (string, error) {
	var v string
	err := rows.Scan(&v)
	return v, err
}

// --- tests ---

func TestQueryPublisher_EmptyResult(t *testing.T) {
	t.Parallel()
	src := &fixtureSource{}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t", scanString)

	rec := &recordingSubscriber{}
	pub.Subscribe(context.Background(), rec)
	require.NotNil(t, rec.sub)

	rec.sub.Request(1)
	assert.Empty(t, rec.elems)
	assert.Equal(t, 1, rec.completes)
	assert.Equal(t, 1, src.rollbackCount())

	// The cursor is gone; further demand produces nothing.
	rec.sub.Request(1)
	assert.Equal(t, 1, rec.completes)
	assert.Equal(t, 1, src.rollbackCount())
}

func TestQueryPublisher_SingleRowThenComplete(t *testing.T) {
	t.Parallel()
	src := &fixtureSource{rows: []string{"alpha"}}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t", scanString)

	rec := &recordingSubscriber{}
	pub.Subscribe(context.Background(), rec)

	rec.sub.Request(1)
	assert.Equal(t, []string{"alpha"}, rec.elems)
	// The transaction is the cursor: it stays open after delivery so the
	// element can keep reading through it.
	assert.Equal(t, 0, src.rollbackCount())

	rec.sub.Request(1)
	assert.Equal(t, 1, rec.completes)
	assert.Equal(t, 1, src.rollbackCount())
}

func TestQueryPublisher_QueryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("relation missing")
	src := &fixtureSource{queryErr: boom}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t", scanString)

	rec := &recordingSubscriber{}
	pub.Subscribe(context.Background(), rec)

	assert.Nil(t, rec.sub)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], boom)
	assert.Equal(t, 1, src.rollbackCount())
}

func TestQueryPublisher_IterationError(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")
	src := &fixtureSource{iterErr: boom}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t", scanString)

	rec := &recordingSubscriber{}
	pub.Subscribe(context.Background(), rec)

	rec.sub.Request(1)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], boom)
	assert.Equal(t, 0, rec.completes)
	assert.Equal(t, 1, src.rollbackCount())
}

func TestQueryPublisher_ScanError(t *testing.T) {
	t.Parallel()
	boom := errors.New("corrupt row")
	src := &fixtureSource{rows: []string{"alpha"}}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t",
		func(_ *sql.Tx, _ *sql.Rows) (string, error) { return "", boom })

	rec := &recordingSubscriber{}
	pub.Subscribe(context.Background(), rec)

	rec.sub.Request(1)
	assert.Empty(t, rec.elems)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], boom)
	assert.Equal(t, 1, src.rollbackCount())
}

func TestQueryPublisher_CancelIdempotent(t *testing.T) {
	t.Parallel()
	src := &fixtureSource{rows: []string{"alpha"}}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t", scanString)

	rec := &recordingSubscriber{}
	pub.Subscribe(context.Background(), rec)

	rec.sub.Cancel()
	rec.sub.Cancel()
	assert.Equal(t, 1, src.rollbackCount())

	// Demand after cancellation is a no-op, not a signal.
	rec.sub.Request(1)
	assert.Empty(t, rec.elems)
	assert.Equal(t, 0, rec.completes)
	assert.Empty(t, rec.errs)
}

func TestQueryPublisher_CancelInsideOnNext(t *testing.T) {
	t.Parallel()
	src := &fixtureSource{rows: []string{"alpha"}}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT val FROM t", scanString)

	rec := &recordingSubscriber{
		onNextHook: func(sub rowstream.Subscription) { sub.Cancel() },
	}
	pub.Subscribe(context.Background(), rec)

	// Cancel from inside OnNext must not block on the subscription's own
	// mutex; Request holds no lock while delivering.
	done := make(chan struct{})
	go func() {
		rec.sub.Request(1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return; Cancel inside OnNext deadlocked")
	}

	assert.Equal(t, []string{"alpha"}, rec.elems)
	assert.Equal(t, 1, src.rollbackCount())
}

// failingObject stands in for a blob whose handle cannot be opened, e.g. a
// dangling large-object key.
type failingObject struct {
	err error
}

func (o *failingObject) Length(context.Context) (int64, error)       { return 0, o.err }
func (o *failingObject) Open(context.Context) (io.ReadCloser, error) { return nil, o.err }

func TestQueryPublisher_BlobOpenFailureReleasesCursor(t *testing.T) {
	t.Parallel()
	boom := errors.New("lo_open failed")
	src := &fixtureSource{rows: []string{"orphan-key"}}

	scan := func(_ *sql.Tx, rows *sql.Rows) (fetch.Row[string], error) {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fetch.Row[string]{}, err
		}
		var obj blob.Object = &failingObject{err: boom}
		return fetch.Row[string]{Object: obj, Extra: key}, nil
	}
	pub := rowstream.NewQueryPublisher(newFixtureDB(t, src), "SELECT blob_key FROM files WHERE id = ?", scan)

	ctx := context.Background()
	sub := fetch.NewRowSubscriber[string](ctx)

	// The whole exchange runs synchronously inside Subscribe: request, row
	// delivery, the failed open, and the immediate cancel. It must return.
	done := make(chan struct{})
	go func() {
		pub.Subscribe(ctx, sub)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return on the open-failure path")
	}

	_, err := sub.Promise().Await(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.rollbackCount())
}
