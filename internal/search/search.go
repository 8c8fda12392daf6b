// Package search maintains full-text indexes over resolved entities and
// compilations. Indexing is best-effort: the explore scan degrades to its own
// substring matching whenever the index is unavailable.
package search

import (
	"tessera/api/internal/docstore"
)

// Record is the flattened projection pushed into an index: the record's id,
// its display name and the lowercase text blob of its resolved tree.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Indexer pushes resolved records into a search backend.
type Indexer interface {
	Index(kind docstore.Kind, rec Record)
	Delete(kind docstore.Kind, id string)
}

// indexable lists the kinds that carry an index. Every other kind is only
// reachable through these two and does not need one of its own.
var indexable = map[docstore.Kind]bool{
	docstore.Entity:      true,
	docstore.Compilation: true,
}

// Indexable reports whether records of this kind are pushed to the index.
func Indexable(kind docstore.Kind) bool {
	return indexable[kind]
}
