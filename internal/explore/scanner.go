// Package explore implements the discovery scan: a cursor-driven walk over
// entities or compilations, each candidate fully resolved and run through a
// predicate chain before it makes the page.
package explore

import (
	"context"
	"sort"
	"strings"

	"tessera/api/internal/docstore"
	"tessera/api/internal/graph"
	"tessera/api/internal/model"
	"tessera/api/internal/ownership"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Searcher is an optional full-text accelerator for the free-text filter.
// When unavailable the scanner falls back to substring matching over the
// flattened resolved document.
type Searcher interface {
	Healthy() bool
	SearchIDs(kind docstore.Kind, query string, limit int64) ([]string, error)
}

// Request is the structured explore query body. Its hash keys the cached
// result set.
type Request struct {
	SearchEntity bool    `json:"searchEntity"`
	Filters      Filters `json:"filters"`
	SearchText   string  `json:"searchText"`
	Offset       int     `json:"offset"`
	Limit        int     `json:"limit"`
}

// Filters are the requested predicate flags. They are computed on resolved
// state, not stored flags, because visibility depends on what the requester
// would actually see.
type Filters struct {
	Annotatable bool `json:"annotatable"`
	Annotated   bool `json:"annotated"`
	Restricted  bool `json:"restricted"`
	Associated  bool `json:"associated"`
}

type Scanner struct {
	store    docstore.Store
	resolver *graph.Resolver
	owners   *ownership.Engine
	search   Searcher
}

// NewScanner wires the scan over the shared store. search may be nil.
func NewScanner(store docstore.Store, resolver *graph.Resolver, owners *ownership.Engine, search Searcher) *Scanner {
	return &Scanner{store: store, resolver: resolver, owners: owners, search: search}
}

// Scan walks the requested collection until limit results are collected or
// the cursor is exhausted. requester may be nil for anonymous browsing.
func (s *Scanner) Scan(ctx context.Context, req Request, requester docstore.Document) ([]docstore.Document, error) {
	kind := docstore.Compilation
	if req.SearchEntity {
		kind = docstore.Entity
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	textIDs := s.acceleratedIDs(kind, req.SearchText)

	cur, err := s.store.Collection(kind).Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	results := make([]docstore.Document, 0, limit)
	skipped := 0
	for cur.Next(ctx) {
		if len(results) >= limit {
			break
		}
		raw := cur.Document()
		id := docstore.ID(raw)
		if textIDs != nil && !textIDs[id] {
			continue
		}

		resolved, err := s.resolver.Resolve(ctx, id, kind, graph.FullDepth)
		if err != nil {
			continue
		}
		if !s.admit(ctx, kind, resolved, req, requester) {
			continue
		}
		if skipped < req.Offset {
			skipped++
			continue
		}

		if kind == docstore.Entity {
			projectEntity(resolved)
		} else {
			projectCompilation(resolved)
		}
		results = append(results, resolved)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return strings.ToLower(model.String(results[i], "name")) < strings.ToLower(model.String(results[j], "name"))
	})
	return results, nil
}

// admit runs visibility rules and the requested predicate chain against one
// resolved candidate.
func (s *Scanner) admit(ctx context.Context, kind docstore.Kind, resolved docstore.Document, req Request, requester docstore.Document) bool {
	id := docstore.ID(resolved)
	requesterID := docstore.ID(requester)

	isOwner := false
	if requesterID != "" {
		isOwner, _ = s.owners.IsOwner(ctx, requesterID, kind, id)
	}

	var annotatable, restricted bool
	if kind == docstore.Entity {
		whitelist := model.Map(resolved, "whitelist")
		restricted = model.Bool(whitelist, "enabled")
		whitelisted := idListed(model.Slice(whitelist, "ids"), requesterID)
		// A whitelisted-off entity another user restricted is not visible.
		if restricted && !isOwner && !whitelisted {
			return false
		}
		annotatable = isOwner
	} else {
		restricted = model.Bool(resolved, "password")
		whitelist := model.Map(resolved, "whitelist")
		whitelisted := idListed(model.Slice(whitelist, "ids"), requesterID)
		annotatable = isOwner || whitelisted
	}

	if req.Filters.Annotatable && !annotatable {
		return false
	}
	if req.Filters.Annotated && !hasAnnotations(resolved) {
		return false
	}
	if req.Filters.Restricted && !restricted {
		return false
	}

	var flat string
	if req.Filters.Associated || (req.SearchText != "" && s.searchFallback()) {
		flat = model.Flatten(resolved)
	}
	if req.Filters.Associated && !isAssociated(flat, requester) {
		return false
	}
	if req.SearchText != "" && s.searchFallback() {
		if !strings.Contains(flat, strings.ToLower(req.SearchText)) {
			return false
		}
	}
	return true
}

// acceleratedIDs consults the search index for the free-text filter; a nil
// return means "no pre-filter, use the substring fallback".
func (s *Scanner) acceleratedIDs(kind docstore.Kind, text string) map[string]bool {
	if text == "" || s.search == nil || !s.search.Healthy() {
		return nil
	}
	ids, err := s.search.SearchIDs(kind, text, maxLimit*10)
	if err != nil {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (s *Scanner) searchFallback() bool {
	return s.search == nil || !s.search.Healthy()
}

func hasAnnotations(resolved docstore.Document) bool {
	for _, entry := range model.Slice(resolved, "annotationList") {
		if ann, ok := entry.(map[string]any); ok && docstore.ID(ann) != "" {
			return true
		}
	}
	return false
}

func isAssociated(flat string, requester docstore.Document) bool {
	if requester == nil {
		return false
	}
	for _, key := range []string{"fullname", "username", "mail"} {
		if needle := strings.ToLower(model.String(requester, key)); needle != "" && strings.Contains(flat, needle) {
			return true
		}
	}
	return false
}

func idListed(ids []any, id string) bool {
	if id == "" {
		return false
	}
	for _, entry := range ids {
		if model.RefID(entry) == id {
			return true
		}
	}
	return false
}

// projectEntity trims a resolved entity to its public discovery shape: the
// related digital entity keeps only description and licence.
func projectEntity(resolved docstore.Document) {
	if rd := model.Map(resolved, "relatedDigitalEntity"); rd != nil {
		resolved["relatedDigitalEntity"] = map[string]any{
			"description": rd["description"],
			"licence":     rd["licence"],
		}
	}
}

// projectCompilation trims nested entities and annotations down to minimal
// public references.
func projectCompilation(resolved docstore.Document) {
	entities := model.Slice(resolved, "entities")
	projected := make([]any, 0, len(entities))
	for _, entry := range entities {
		entity, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		projected = append(projected, map[string]any{
			"_id":  entity["_id"],
			"name": entity["name"],
		})
	}
	resolved["entities"] = projected

	annotations := model.Slice(resolved, "annotationList")
	annRefs := make([]any, 0, len(annotations))
	for _, entry := range annotations {
		if ann, ok := entry.(map[string]any); ok {
			annRefs = append(annRefs, map[string]any{"_id": ann["_id"]})
		}
	}
	resolved["annotationList"] = annRefs
}
