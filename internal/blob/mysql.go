package blob

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore keeps file content in a LONGBLOB column and reads it back in
// SUBSTRING windows, so neither upload nor download ever materializes the
// whole value in this process. Reads inside a cursor transaction see a
// consistent snapshot of the row.
type MySQLStore struct {
	db        *sql.DB
	chunkSize int
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, chunkSize: DefaultChunkSize}
}

func (s *MySQLStore) Name() string {
	return "mysql"
}

// InitSchema creates the backing table.
func (s *MySQLStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS file_blobs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		content LONGBLOB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create file_blobs table: %w", err)
	}
	return nil
}

func (s *MySQLStore) Create(ctx context.Context, r io.Reader) (string, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "INSERT INTO file_blobs (content) VALUES ('')")
	if err != nil {
		return "", 0, fmt.Errorf("blob insert failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", 0, fmt.Errorf("blob insert id: %w", err)
	}

	var total int64
	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			_, err := tx.ExecContext(ctx,
				"UPDATE file_blobs SET content = CONCAT(content, ?) WHERE id = ?", buf[:n], id)
			if err != nil {
				return "", 0, fmt.Errorf("blob append failed: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", 0, fmt.Errorf("content read failed: %w", readErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("commit failed: %w", err)
	}
	return strconv.FormatInt(id, 10), total, nil
}

func (s *MySQLStore) ObjectInTx(tx *sql.Tx, key string) (Object, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid blob key %q: %w", key, err)
	}
	return &mysqlObject{tx: tx, id: id, chunkSize: s.chunkSize}, nil
}

func (s *MySQLStore) Delete(ctx context.Context, key string) error {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid blob key %q: %w", key, err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM file_blobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("blob delete failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type mysqlObject struct {
	tx        *sql.Tx
	id        int64
	chunkSize int
}

func (o *mysqlObject) Length(ctx context.Context) (int64, error) {
	var size int64
	err := o.tx.QueryRowContext(ctx,
		"SELECT OCTET_LENGTH(content) FROM file_blobs WHERE id = ?", o.id).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("blob length failed: %w", err)
	}
	return size, nil
}

func (o *mysqlObject) Open(ctx context.Context) (io.ReadCloser, error) {
	return &mysqlReader{ctx: ctx, obj: o, pos: 1}, nil
}

// mysqlReader windows through the LONGBLOB with SUBSTRING. pos is 1-based
// per SQL string semantics.
type mysqlReader struct {
	ctx  context.Context
	obj  *mysqlObject
	pos  int64
	rest []byte
	eof  bool
}

func (r *mysqlReader) Read(p []byte) (int, error) {
	if len(r.rest) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		var chunk []byte
		err := r.obj.tx.QueryRowContext(r.ctx,
			"SELECT SUBSTRING(content, ?, ?) FROM file_blobs WHERE id = ?",
			r.pos, r.obj.chunkSize, r.obj.id).Scan(&chunk)
		if err != nil {
			return 0, fmt.Errorf("blob chunk read failed: %w", err)
		}
		if len(chunk) == 0 {
			r.eof = true
			return 0, io.EOF
		}
		r.pos += int64(len(chunk))
		r.rest = chunk
	}

	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func (r *mysqlReader) Close() error {
	return nil
}
