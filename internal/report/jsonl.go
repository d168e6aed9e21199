package report

import (
	"encoding/json"
	"io"
)

// JSONEncoder streams the inventory as JSON Lines, one object per row.
type JSONEncoder struct {
	enc *json.Encoder
}

func NewJSONEncoder(w io.Writer) *JSONEncoder {
	return &JSONEncoder{enc: json.NewEncoder(w)}
}

// Begin is a no-op: JSON Lines carries keys on every object.
func (e *JSONEncoder) Begin() error {
	return nil
}

func (e *JSONEncoder) Write(row Row) error {
	return e.enc.Encode(map[string]any{
		"id":           row.ID,
		"name":         row.Name,
		"content_type": row.ContentType,
		"size":         row.Size,
		"backend":      row.Backend,
		"created_at":   row.CreatedAt.Format(timeLayout),
	})
}

func (e *JSONEncoder) Flush() error {
	return nil
}

func (e *JSONEncoder) Close() error {
	return nil
}
