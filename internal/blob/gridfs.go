package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
)

// GridFSStore keeps file content in a Mongo GridFS bucket. GridFS streams
// are self-contained, so handles ignore the cursor transaction.
type GridFSStore struct {
	bucket *gridfs.Bucket
}

func NewGridFSStore(db *mongo.Database) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db)
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

func (s *GridFSStore) Name() string {
	return "gridfs"
}

func (s *GridFSStore) Create(ctx context.Context, r io.Reader) (string, int64, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.bucket.SetWriteDeadline(deadline)
	}

	counted := &countingReader{r: r}
	id, err := s.bucket.UploadFromStream("", counted)
	if err != nil {
		return "", 0, fmt.Errorf("gridfs upload failed: %w", err)
	}
	return id.Hex(), counted.n, nil
}

func (s *GridFSStore) ObjectInTx(_ *sql.Tx, key string) (Object, error) {
	id, err := primitive.ObjectIDFromHex(key)
	if err != nil {
		return nil, fmt.Errorf("invalid gridfs key %q: %w", key, err)
	}
	return &gridObject{bucket: s.bucket, id: id}, nil
}

func (s *GridFSStore) Delete(ctx context.Context, key string) error {
	id, err := primitive.ObjectIDFromHex(key)
	if err != nil {
		return fmt.Errorf("invalid gridfs key %q: %w", key, err)
	}
	if err := s.bucket.Delete(id); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("gridfs delete failed: %w", err)
	}
	return nil
}

// gridObject opens its download stream lazily on first use; Length and
// Open then share the same stream.
type gridObject struct {
	bucket *gridfs.Bucket
	id     primitive.ObjectID
	stream *gridfs.DownloadStream
}

func (o *gridObject) ensureStream(ctx context.Context) error {
	if o.stream != nil {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = o.bucket.SetReadDeadline(deadline)
	}
	stream, err := o.bucket.OpenDownloadStream(o.id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("gridfs open failed: %w", err)
	}
	o.stream = stream
	return nil
}

func (o *gridObject) Length(ctx context.Context) (int64, error) {
	if err := o.ensureStream(ctx); err != nil {
		return 0, err
	}
	return o.stream.GetFile().Length, nil
}

func (o *gridObject) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := o.ensureStream(ctx); err != nil {
		return nil, err
	}
	return o.stream, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
