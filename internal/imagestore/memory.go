package imagestore

import (
	"context"
	"sync"

	"tessera/api/internal/docstore"
)

// MemoryStore holds previews in memory, for tests and object-store-less runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) SavePreviewImage(_ context.Context, value string, kind docstore.Kind, ownerID string) (string, error) {
	p, err := decodeDataURL(value)
	if err != nil {
		return "", err
	}
	name := objectName(kind, ownerID, p.ext)
	s.mu.Lock()
	s.objects[name] = p.data
	s.mu.Unlock()
	return name, nil
}

// Object returns a stored payload, for test assertions.
func (s *MemoryStore) Object(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	return data, ok
}
