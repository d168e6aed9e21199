package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	content := bytes.Repeat([]byte("payload"), 1000)
	key, size, err := s.Create(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	assert.NotEmpty(t, key)

	obj, err := s.ObjectInTx(nil, key)
	require.NoError(t, err)

	length, err := obj.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), length)

	r, err := obj.Open(ctx)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, content, got)
}

func TestMemoryStore_MissingKey(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	obj, err := s.ObjectInTx(nil, "no-such-key")
	require.NoError(t, err)

	_, err = obj.Length(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = obj.Open(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "no-such-key"), ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	key, _, err := s.Create(ctx, bytes.NewReader([]byte("gone soon")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))

	obj, err := s.ObjectInTx(nil, key)
	require.NoError(t, err)
	_, err = obj.Length(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
