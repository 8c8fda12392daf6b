package search

import (
	"log"

	"tessera/api/internal/docstore"
)

// Service is the facade the rest of the app talks to. meili may be nil when
// no instance is configured; every operation then degrades to a no-op and
// Healthy reports false so callers fall back to their own matching.
type Service struct {
	meili *Meili
}

func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Healthy reports whether an index backend is available right now.
func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// SearchIDs queries the index for the given kind.
func (s *Service) SearchIDs(kind docstore.Kind, query string, limit int64) ([]string, error) {
	if !s.Healthy() {
		return nil, nil
	}
	return s.meili.SearchIDs(kind, query, limit)
}

// Index pushes one record, fire-and-forget. Mutations must never fail on an
// index hiccup.
func (s *Service) Index(kind docstore.Kind, rec Record) {
	if !s.Healthy() || !Indexable(kind) {
		return
	}
	go func() {
		if err := s.meili.Index(kind, rec); err != nil {
			log.Printf("search: index %s %s: %v", kind, rec.ID, err)
		}
	}()
}

// Delete removes one record, fire-and-forget.
func (s *Service) Delete(kind docstore.Kind, id string) {
	if !s.Healthy() || !Indexable(kind) {
		return
	}
	go func() {
		if err := s.meili.Delete(kind, id); err != nil {
			log.Printf("search: delete %s %s: %v", kind, id, err)
		}
	}()
}

// Reindex bulk-loads records for a kind, used at startup.
func (s *Service) Reindex(kind docstore.Kind, recs []Record) {
	if !s.Healthy() || !Indexable(kind) {
		return
	}
	if err := s.meili.IndexBatch(kind, recs); err != nil {
		log.Printf("search: reindex %s: %v", kind, err)
	}
}
