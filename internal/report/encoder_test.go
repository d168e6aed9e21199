package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []Row {
	created := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	return []Row{
		{ID: "a1", Name: "invoice.pdf", ContentType: "application/pdf", Size: 2048, Backend: "postgres", CreatedAt: created},
		{ID: "b2", Name: "=cmd|payload", ContentType: "text/plain", Size: 7, Backend: "gridfs", CreatedAt: created.Add(time.Hour)},
	}
}

func TestCSVEncoder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewCSVEncoder(&buf)

	require.NoError(t, enc.Begin())
	for _, row := range sampleRows() {
		require.NoError(t, enc.Write(row))
	}
	require.NoError(t, enc.Close())

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, columns, records[0])
	assert.Equal(t, []string{"a1", "invoice.pdf", "application/pdf", "2048", "postgres", "2026-08-01 09:30:00"}, records[1])
	assert.Equal(t, "'=cmd|payload", records[2][1], "formula-looking names must be neutralized")
}

func TestJSONEncoder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewJSONEncoder(&buf)

	require.NoError(t, enc.Begin())
	for _, row := range sampleRows() {
		require.NoError(t, enc.Write(row))
	}
	require.NoError(t, enc.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "invoice.pdf", first["name"])
	assert.EqualValues(t, 2048, first["size"])
	assert.Equal(t, "postgres", first["backend"])
}

func TestExcelEncoder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewExcelEncoder(&buf)

	require.NoError(t, enc.Begin())
	for _, row := range sampleRows() {
		require.NoError(t, enc.Write(row))
	}
	require.NoError(t, enc.Flush())
	require.NoError(t, enc.Close())

	// xlsx is a zip container.
	assert.Equal(t, "PK", buf.String()[:2])
	assert.Greater(t, buf.Len(), 100)
}

func TestPDFEncoder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewPDFEncoder(&buf)

	require.NoError(t, enc.Begin())
	for _, row := range sampleRows() {
		require.NoError(t, enc.Write(row))
	}
	require.NoError(t, enc.Flush())
	require.NoError(t, enc.Close())

	assert.True(t, strings.HasPrefix(buf.String(), "%PDF"))
}

func TestSanitizeCell(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "plain.txt", sanitizeCell("plain.txt"))
	assert.Equal(t, "'=SUM(A1)", sanitizeCell("=SUM(A1)"))
	assert.Equal(t, "'+1", sanitizeCell("+1"))
	assert.Equal(t, "'-1", sanitizeCell("-1"))
	assert.Equal(t, "'@cmd", sanitizeCell("@cmd"))
	assert.Equal(t, "", sanitizeCell(""))
}
