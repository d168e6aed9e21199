package report

import (
	"io"
	"time"
)

// Row is one file inventory entry as it appears in a report.
type Row struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	Backend     string
	CreatedAt   time.Time
}

// columns is the header shared by all tabular formats.
var columns = []string{"id", "name", "content_type", "size", "backend", "created_at"}

const timeLayout = "2006-01-02 15:04:05"

// Encoder writes an inventory report in one output format.
type Encoder interface {
	// Begin writes headers/front matter. Called exactly once, before any row.
	Begin() error

	// Write appends a single inventory row.
	Write(row Row) error

	// Flush pushes buffered data to the underlying writer. For formats that
	// can only be serialized whole (xlsx, pdf) this is where the document
	// body is emitted.
	Flush() error

	// Close flushes and releases encoder resources.
	io.Closer
}

// sanitizeCell guards spreadsheet consumers against formula injection:
// names starting with =, +, - or @ get a leading quote.
func sanitizeCell(s string) string {
	if len(s) > 0 {
		switch s[0] {
		case '=', '+', '-', '@':
			return "'" + s
		}
	}
	return s
}
