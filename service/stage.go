package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// FileStage holds selected documents until they are uploaded.
// Objects only live as long as the session that staged them.
type FileStage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStage keeps staged files in process memory
type MemoryStage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryStage() *MemoryStage {
	return &MemoryStage{files: make(map[string][]byte)}
}

func (s *MemoryStage) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("failed to stage file: expected %d bytes, got %d", size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = data
	return nil
}

func (s *MemoryStage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("staged file %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

// Count returns the number of staged files
func (s *MemoryStage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
