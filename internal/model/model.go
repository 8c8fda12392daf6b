// Package model holds the shared document vocabulary: the type discriminant
// written by the normalizer, shape helpers, and the classifier that turns a
// generic stored record into one of the known entity variants.
package model

import (
	"sort"
	"strings"

	"tessera/api/internal/docstore"
	"tessera/api/internal/util"
)

// KindField is the discriminant the normalizer stamps into every document it
// writes. Named with an underscore so it can never collide with a submitted
// metadata field ("type" is a legitimate digital-object property).
const KindField = "_kind"

// String returns doc[key] when it is a string, else "".
func String(doc docstore.Document, key string) string {
	if doc == nil {
		return ""
	}
	s, _ := doc[key].(string)
	return s
}

// Bool returns doc[key] when it is a bool, else false.
func Bool(doc docstore.Document, key string) bool {
	if doc == nil {
		return false
	}
	b, _ := doc[key].(bool)
	return b
}

// Map returns doc[key] as an object, or nil.
func Map(doc docstore.Document, key string) map[string]any {
	if doc == nil {
		return nil
	}
	m, _ := doc[key].(map[string]any)
	return m
}

// Slice returns doc[key] as a list, or nil.
func Slice(doc docstore.Document, key string) []any {
	if doc == nil {
		return nil
	}
	s, _ := doc[key].([]any)
	return s
}

// Nested walks a key path through nested objects, returning nil as soon as a
// step is absent or not an object.
func Nested(doc docstore.Document, keys ...string) map[string]any {
	cur := doc
	for _, key := range keys {
		cur = Map(cur, key)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// RefID extracts an identifier from a reference value, accepting either a
// bare id string or an embedded document carrying "_id".
func RefID(v any) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]any:
		return String(ref, "_id")
	}
	return ""
}

// IsBareRef reports whether v is an unhydrated reference: a plain id string
// or an object whose only meaningful field is its id.
func IsBareRef(v any) bool {
	switch ref := v.(type) {
	case string:
		return true
	case map[string]any:
		for k := range ref {
			if k != "_id" && k != KindField {
				return false
			}
		}
		return true
	}
	return false
}

// StripUser reduces a full user record to the public identity triple stored
// on owned documents.
func StripUser(user docstore.Document) docstore.Document {
	return docstore.Document{
		"_id":      String(user, "_id"),
		"username": String(user, "username"),
		"fullname": String(user, "fullname"),
	}
}

// IDList coerces a reference list into deduplicated id strings, preserving
// first-seen order and dropping invalid entries.
func IDList(refs []any) []string {
	seen := make(map[string]bool, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id := RefID(ref)
		if !util.IsValidID(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Flatten projects every string value in the document tree into one
// lowercase blob, used for substring matching during explore. Keys are
// visited in sorted order so the projection is deterministic; identity and
// secret-bearing fields are excluded.
func Flatten(doc docstore.Document) string {
	var b strings.Builder
	flattenValue(&b, doc)
	return strings.ToLower(b.String())
}

var flattenSkip = map[string]bool{
	"_id":      true,
	KindField:  true,
	"password": true,
}

func flattenValue(b *strings.Builder, v any) {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			if !flattenSkip[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(b, tv[k])
		}
	case []any:
		for _, e := range tv {
			flattenValue(b, e)
		}
	case string:
		if tv != "" {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(tv)
		}
	}
}
