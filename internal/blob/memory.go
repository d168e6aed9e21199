package blob

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore holds objects in process memory. Intended for tests and
// local development, not production.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) Create(_ context.Context, r io.Reader) (string, int64, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("content read failed: %w", err)
	}

	key := uuid.New().String()
	s.mu.Lock()
	s.objects[key] = content
	s.mu.Unlock()

	return key, int64(len(content)), nil
}

func (s *MemoryStore) ObjectInTx(_ *sql.Tx, key string) (Object, error) {
	return &memObject{store: s, key: key}, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

type memObject struct {
	store *MemoryStore
	key   string
}

func (o *memObject) content() ([]byte, error) {
	o.store.mu.RLock()
	defer o.store.mu.RUnlock()
	content, ok := o.store.objects[o.key]
	if !ok {
		return nil, ErrNotFound
	}
	return content, nil
}

func (o *memObject) Length(_ context.Context) (int64, error) {
	content, err := o.content()
	if err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

func (o *memObject) Open(_ context.Context) (io.ReadCloser, error) {
	content, err := o.content()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}
