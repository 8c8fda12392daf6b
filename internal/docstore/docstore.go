// Package docstore provides key/value document access per named collection.
// Two implementations exist: a Postgres-backed store (one JSONB row per
// document) and an in-memory store used by tests and local development.
package docstore

import "context"

// Kind is the closed set of collection names. String-typed routing keys are
// not accepted anywhere in the core; callers pick a Kind constant.
type Kind string

const (
	Person         Kind = "person"
	Institution    Kind = "institution"
	Tag            Kind = "tag"
	Address        Kind = "address"
	Contact        Kind = "contact"
	DigitalEntity  Kind = "digitalentity"
	PhysicalEntity Kind = "physicalentity"
	Entity         Kind = "entity"
	Compilation    Kind = "compilation"
	Annotation     Kind = "annotation"
	Group          Kind = "group"
	User           Kind = "user"
)

// Kinds lists every collection kind, in a stable order.
func Kinds() []Kind {
	return []Kind{
		Person, Institution, Tag, Address, Contact,
		DigitalEntity, PhysicalEntity, Entity, Compilation,
		Annotation, Group, User,
	}
}

// Valid reports whether k names a known collection.
func (k Kind) Valid() bool {
	switch k {
	case Person, Institution, Tag, Address, Contact,
		DigitalEntity, PhysicalEntity, Entity, Compilation,
		Annotation, Group, User:
		return true
	}
	return false
}

// Document is a schemaless stored record. The identity field is "_id".
type Document = map[string]any

// ID returns the document's identity field, or "" when absent.
func ID(doc Document) string {
	if doc == nil {
		return ""
	}
	id, _ := doc["_id"].(string)
	return id
}

// Result reports the outcome of a write.
type Result struct {
	Acknowledged bool
	Matched      int64
	UpsertedID   string
}

// Cursor is a lazy, finite sequence of documents. It is restartable only by
// re-issuing the query.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() Document
	Err() error
	Close() error
}

// Collection is the per-kind access capability the core is built against.
// Filter documents use containment semantics: a filter value that is an
// object must be contained in the stored value, a filter array must be a
// subset of the stored array, scalars must be equal.
type Collection interface {
	FindOne(ctx context.Context, id string) (Document, error)
	UpdateOne(ctx context.Context, id string, set Document, upsert bool) (Result, error)
	InsertMany(ctx context.Context, docs []Document) (Result, error)
	Find(ctx context.Context, filter Document) (Cursor, error)
	DeleteOne(ctx context.Context, id string) (Result, error)
}

// Store hands out collection accessors by kind.
type Store interface {
	Collection(kind Kind) Collection
}
