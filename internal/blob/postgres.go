package blob

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"

	_ "github.com/lib/pq"
)

// Large object open modes and seek whence values, per libpq.
const (
	invRead  = 0x40000
	invWrite = 0x20000

	seekSet = 0
	seekEnd = 2
)

// PostgresStore keeps file content in Postgres large objects. Handles bound
// to a cursor transaction read via loread on a server-side descriptor, so
// the transaction must outlive the reader.
type PostgresStore struct {
	db        *sql.DB
	chunkSize int
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, chunkSize: DefaultChunkSize}
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

func (s *PostgresStore) Create(ctx context.Context, r io.Reader) (string, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oid int64
	if err := tx.QueryRowContext(ctx, "SELECT lo_create(0)").Scan(&oid); err != nil {
		return "", 0, fmt.Errorf("lo_create failed: %w", err)
	}

	var fd int
	if err := tx.QueryRowContext(ctx, "SELECT lo_open($1, $2)", oid, invWrite).Scan(&fd); err != nil {
		return "", 0, fmt.Errorf("lo_open failed: %w", err)
	}

	var total int64
	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			var wrote int
			if err := tx.QueryRowContext(ctx, "SELECT lowrite($1, $2)", fd, buf[:n]).Scan(&wrote); err != nil {
				return "", 0, fmt.Errorf("lowrite failed: %w", err)
			}
			total += int64(wrote)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", 0, fmt.Errorf("content read failed: %w", readErr)
		}
	}

	if _, err := tx.ExecContext(ctx, "SELECT lo_close($1)", fd); err != nil {
		return "", 0, fmt.Errorf("lo_close failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("commit failed: %w", err)
	}

	return strconv.FormatInt(oid, 10), total, nil
}

func (s *PostgresStore) ObjectInTx(tx *sql.Tx, key string) (Object, error) {
	oid, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid large object key %q: %w", key, err)
	}
	return &loObject{tx: tx, oid: oid, chunkSize: s.chunkSize}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	oid, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid large object key %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, "SELECT lo_unlink($1)", oid); err != nil {
		return fmt.Errorf("lo_unlink failed: %w", err)
	}
	return nil
}

// loObject is a large object bound to the caller's transaction. The server
// descriptor obtained by lo_open is scoped to that transaction; once it is
// rolled back the handle and any reader over it are dead.
type loObject struct {
	tx        *sql.Tx
	oid       int64
	chunkSize int
	fd        int
	opened    bool
}

func (o *loObject) ensureOpen(ctx context.Context) error {
	if o.opened {
		return nil
	}
	if err := o.tx.QueryRowContext(ctx, "SELECT lo_open($1, $2)", o.oid, invRead).Scan(&o.fd); err != nil {
		return fmt.Errorf("lo_open failed: %w", err)
	}
	o.opened = true
	return nil
}

func (o *loObject) Length(ctx context.Context) (int64, error) {
	if err := o.ensureOpen(ctx); err != nil {
		return 0, err
	}

	var size int64
	if err := o.tx.QueryRowContext(ctx, "SELECT lo_lseek64($1, 0, $2)", o.fd, seekEnd).Scan(&size); err != nil {
		return 0, fmt.Errorf("lo_lseek64 failed: %w", err)
	}

	// Rewind so the reader starts at the beginning.
	var pos int64
	if err := o.tx.QueryRowContext(ctx, "SELECT lo_lseek64($1, 0, $2)", o.fd, seekSet).Scan(&pos); err != nil {
		return 0, fmt.Errorf("lo_lseek64 rewind failed: %w", err)
	}

	return size, nil
}

func (o *loObject) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := o.ensureOpen(ctx); err != nil {
		return nil, err
	}
	return &loReader{ctx: ctx, tx: o.tx, fd: o.fd, chunkSize: o.chunkSize, buf: new(bytes.Buffer)}, nil
}

// loReader pulls chunks from the server on demand through an internal
// buffer, in the manner of a buffered file reader.
type loReader struct {
	ctx       context.Context
	tx        *sql.Tx
	fd        int
	chunkSize int
	buf       *bytes.Buffer
	eof       bool
}

func (r *loReader) Read(p []byte) (int, error) {
	if r.buf.Len() == 0 {
		if r.eof {
			return 0, io.EOF
		}
		var chunk []byte
		if err := r.tx.QueryRowContext(r.ctx, "SELECT loread($1, $2)", r.fd, r.chunkSize).Scan(&chunk); err != nil {
			return 0, fmt.Errorf("loread failed: %w", err)
		}
		if len(chunk) == 0 {
			r.eof = true
			return 0, io.EOF
		}
		r.buf.Write(chunk)
	}
	return r.buf.Read(p)
}

func (r *loReader) Close() error {
	_, err := r.tx.ExecContext(r.ctx, "SELECT lo_close($1)", r.fd)
	return err
}
