package docstore

import "errors"

// ErrNotFound marks an absent document. Resolution treats it as a prune
// signal; only the primary target of a mutation escalates it.
var ErrNotFound = errors.New("docstore: document not found")

// Clone deep-copies a document so callers can mutate results without
// aliasing stored state. Values are restricted to the JSON shapes the store
// round-trips (maps, slices, scalars).
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out, _ := cloneValue(doc).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
