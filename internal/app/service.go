// Package app composes the core components into the operation surface an
// outer transport would call: kind-dispatched saves, cache-first reads, the
// explore scan and owner-gated deletion.
package app

import (
	"context"
	"errors"
	"log"

	"golang.org/x/crypto/bcrypt"

	"tessera/api/internal/cache"
	"tessera/api/internal/docstore"
	"tessera/api/internal/explore"
	"tessera/api/internal/graph"
	"tessera/api/internal/model"
	"tessera/api/internal/ownership"
	"tessera/api/internal/search"
)

// Service wires normalizer, resolver, cache, ownership engine, explore
// scanner and search index over one shared store.
type Service struct {
	store      docstore.Store
	normalizer *graph.Normalizer
	resolver   *graph.Resolver
	cache      *cache.Cache
	owners     *ownership.Engine
	scanner    *explore.Scanner
	index      *search.Service
}

// NewService builds the component graph. index may wrap a nil backend.
func NewService(store docstore.Store, c *cache.Cache, images graph.ImageStore, index *search.Service) *Service {
	owners := ownership.NewEngine(store, images)
	resolver := graph.NewResolver(store)
	return &Service{
		store:      store,
		normalizer: graph.NewNormalizer(store, images),
		resolver:   resolver,
		cache:      c,
		owners:     owners,
		scanner:    explore.NewScanner(store, resolver, owners, index),
		index:      index,
	}
}

// Bootstrap warms the search index from the stored records. Failures are
// reported but never fatal; the explore scan works without an index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if !s.index.Healthy() {
		return nil
	}
	for _, kind := range []docstore.Kind{docstore.Entity, docstore.Compilation} {
		cur, err := s.store.Collection(kind).Find(ctx, nil)
		if err != nil {
			return err
		}
		var recs []search.Record
		for cur.Next(ctx) {
			id := docstore.ID(cur.Document())
			resolved, err := s.resolver.Resolve(ctx, id, kind, graph.FullDepth)
			if err != nil {
				continue
			}
			recs = append(recs, search.Record{
				ID:   id,
				Name: model.String(resolved, "name"),
				Text: model.Flatten(resolved),
			})
		}
		err = cur.Err()
		cur.Close()
		if err != nil {
			return err
		}
		s.index.Reindex(kind, recs)
	}
	return nil
}

// Save normalizes and persists one submitted document tree. requester may be
// nil only for kinds that carry no ownership or identity stamping.
func (s *Service) Save(ctx context.Context, kind docstore.Kind, doc docstore.Document, requester docstore.Document) (docstore.Document, error) {
	if !kind.Valid() {
		return nil, validationError("unknown collection " + string(kind))
	}

	var (
		saved docstore.Document
		err   error
	)
	switch kind {
	case docstore.DigitalEntity:
		saved, err = s.normalizer.SaveDigitalEntity(ctx, doc)
	case docstore.PhysicalEntity:
		saved, err = s.normalizer.SavePhysicalEntity(ctx, doc)
	case docstore.Entity:
		saved, err = s.normalizer.SaveEntity(ctx, doc)
	case docstore.Compilation:
		if requester == nil {
			return nil, permissionError()
		}
		saved, err = s.normalizer.SaveCompilation(ctx, doc, requester)
	case docstore.Group:
		if requester == nil {
			return nil, permissionError()
		}
		saved, err = s.normalizer.SaveGroup(ctx, doc, requester)
	case docstore.Annotation:
		if requester == nil {
			return nil, permissionError()
		}
		saved, err = s.saveAnnotation(ctx, doc, requester)
	default:
		return nil, validationError("collection " + string(kind) + " is not writable directly")
	}
	if err != nil {
		// State is unchanged on a failed write, so the cache stays valid.
		return nil, mapError(err)
	}

	s.flush(ctx)
	s.recordOwnership(ctx, kind, docstore.ID(saved), requester)
	s.reindex(ctx, kind, docstore.ID(saved))
	return saved, nil
}

// saveAnnotation determines whether the submitted id already names a stored
// annotation before handing off to the gated state machine.
func (s *Service) saveAnnotation(ctx context.Context, doc docstore.Document, requester docstore.Document) (docstore.Document, error) {
	alreadyExists := false
	if id := docstore.ID(doc); id != "" {
		_, err := s.store.Collection(docstore.Annotation).FindOne(ctx, id)
		switch {
		case err == nil:
			alreadyExists = true
		case !errors.Is(err, docstore.ErrNotFound):
			return nil, err
		}
	}
	return s.owners.SaveAnnotation(ctx, doc, requester, alreadyExists)
}

// Get resolves one document, cache first.
func (s *Service) Get(ctx context.Context, kind docstore.Kind, id string) (docstore.Document, error) {
	if !kind.Valid() {
		return nil, validationError("unknown collection " + string(kind))
	}
	if doc, ok := s.cache.Get(ctx, id); ok {
		return doc, nil
	}
	doc, err := s.resolver.Resolve(ctx, id, kind, graph.FullDepth)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.cache.Set(ctx, id, doc); err != nil {
		log.Printf("app: cache %s %s: %v", kind, id, err)
	}
	return doc, nil
}

// Explore runs the discovery scan, caching the whole result set under a hash
// of the request body and the requester's identity.
func (s *Service) Explore(ctx context.Context, req explore.Request, requester docstore.Document) ([]docstore.Document, error) {
	key := s.cache.Hash(struct {
		Request   explore.Request `json:"request"`
		Requester string          `json:"requester"`
	}{req, docstore.ID(requester)})

	if key != "" {
		if docs, ok := s.cache.GetList(ctx, key); ok {
			return docs, nil
		}
	}
	docs, err := s.scanner.Scan(ctx, req, requester)
	if err != nil {
		return nil, mapError(err)
	}
	if key != "" {
		if err := s.cache.SetList(ctx, key, docs); err != nil {
			log.Printf("app: cache explore set: %v", err)
		}
	}
	return docs, nil
}

// Delete removes an entity or compilation the requester owns, releases every
// owner array entry pointing at it and drops it from the index.
func (s *Service) Delete(ctx context.Context, kind docstore.Kind, id string, requester docstore.Document) error {
	if kind != docstore.Entity && kind != docstore.Compilation {
		return validationError("collection " + string(kind) + " is not deletable")
	}
	owns, err := s.owners.IsOwner(ctx, docstore.ID(requester), kind, id)
	if err != nil {
		return mapError(err)
	}
	if !owns {
		return permissionError()
	}

	res, err := s.store.Collection(kind).DeleteOne(ctx, id)
	if err != nil {
		return mapError(err)
	}
	if res.Matched == 0 {
		return notFoundError("document not found")
	}
	if err := s.owners.ReleaseAll(ctx, kind, id); err != nil {
		return mapError(err)
	}

	s.flush(ctx)
	s.index.Delete(kind, id)
	return nil
}

// CheckCompilationPassword verifies a submitted cleartext against the stored
// hash. A compilation without a password accepts anything.
func (s *Service) CheckCompilationPassword(ctx context.Context, id, password string) (bool, error) {
	stored, err := s.store.Collection(docstore.Compilation).FindOne(ctx, id)
	if err != nil {
		return false, mapError(err)
	}
	hash := model.String(stored, "password")
	if hash == "" {
		return true, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// flush drops the whole resolve cache after a successful mutation. Coarse,
// but a shared person edit can change the resolved view of any entity.
func (s *Service) flush(ctx context.Context) {
	if err := s.cache.Flush(ctx); err != nil {
		log.Printf("app: cache flush: %v", err)
	}
}

// recordOwnership stamps the requester as an owner of the saved document.
// Annotations record their owner inside the gated save itself.
func (s *Service) recordOwnership(ctx context.Context, kind docstore.Kind, id string, requester docstore.Document) {
	if requester == nil || kind == docstore.Annotation {
		return
	}
	if err := s.owners.MakeOwnerOf(ctx, docstore.ID(requester), kind, id); err != nil {
		log.Printf("app: record ownership %s %s: %v", kind, id, err)
	}
}

// reindex pushes the resolved record to the search index, best effort.
func (s *Service) reindex(ctx context.Context, kind docstore.Kind, id string) {
	if !search.Indexable(kind) || !s.index.Healthy() {
		return
	}
	resolved, err := s.resolver.Resolve(ctx, id, kind, graph.FullDepth)
	if err != nil {
		log.Printf("app: resolve for index %s %s: %v", kind, id, err)
		return
	}
	s.index.Index(kind, search.Record{
		ID:   id,
		Name: model.String(resolved, "name"),
		Text: model.Flatten(resolved),
	})
}
