package model

import "tessera/api/internal/docstore"

// KindOf classifies a generic document into one of the known entity
// variants. Documents written by this core carry the explicit discriminant;
// the structural probes below exist only for records imported before the
// discriminant was introduced. Unknown shapes return ok=false and are passed
// through untouched by the resolver.
func KindOf(doc docstore.Document) (docstore.Kind, bool) {
	if doc == nil {
		return "", false
	}
	if k := docstore.Kind(String(doc, KindField)); k.Valid() {
		return k, true
	}
	return probe(doc)
}

func probe(doc docstore.Document) (docstore.Kind, bool) {
	has := func(key string) bool {
		_, ok := doc[key]
		return ok
	}

	switch {
	case has("target") && has("body"):
		return docstore.Annotation, true
	case has("entities") && has("annotationList"):
		return docstore.Compilation, true
	case has("relatedDigitalEntity") && has("annotationList"):
		return docstore.Entity, true
	case has("phyObjs"):
		return docstore.DigitalEntity, true
	case has("place") && has("persons"):
		return docstore.PhysicalEntity, true
	case has("prename"):
		return docstore.Person, true
	case has("university") || has("addresses"):
		return docstore.Institution, true
	case has("members") && has("owners"):
		return docstore.Group, true
	case has("street") || has("postcode"):
		return docstore.Address, true
	case has("mail") && has("phonenumber"):
		return docstore.Contact, true
	case has("value") && len(doc) <= 3:
		return docstore.Tag, true
	}
	return "", false
}
