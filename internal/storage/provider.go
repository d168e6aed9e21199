package storage

import (
	"context"
	"io"
)

// Provider is the sink for generated report artifacts.
type Provider interface {
	// StreamToFile returns a WriteCloser; data written to it is streamed to
	// the destination under key. The channel delivers a single error (or
	// nil) once the write has fully landed.
	StreamToFile(ctx context.Context, key string) (io.WriteCloser, <-chan error)

	// OpenFile opens a stored artifact for reading.
	OpenFile(ctx context.Context, key string) (io.ReadCloser, error)

	// GetDownloadURL renders a retrievable URL for the stored artifact.
	GetDownloadURL(key string) string
}
