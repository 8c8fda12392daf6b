package graph

import (
	"context"

	"tessera/api/internal/docstore"
	"tessera/api/internal/model"
	"tessera/api/internal/util"
)

// FullDepth asks for the default recursion bound.
const FullDepth = -1

const defaultMaxDepth = 8

// Resolver hydrates stored id references back into document trees, filtered
// to the requesting context. References that fail to resolve are pruned from
// their containing list or map, never escalated; only a missing primary
// target surfaces as docstore.ErrNotFound.
type Resolver struct {
	store    docstore.Store
	maxDepth int
}

func NewResolver(store docstore.Store) *Resolver {
	return &Resolver{store: store, maxDepth: defaultMaxDepth}
}

// Resolve fetches id from its collection and hydrates it. depth 0 returns
// the raw stored record (shallow stop, used when only an id confirmation is
// needed); FullDepth applies the default bound. A visited set guards against
// reference cycles even though the legitimate data model is acyclic.
func (r *Resolver) Resolve(ctx context.Context, id string, kind docstore.Kind, depth int) (docstore.Document, error) {
	if depth < 0 {
		depth = r.maxDepth
	}
	return r.resolve(ctx, id, kind, depth, make(map[string]bool))
}

func (r *Resolver) resolve(ctx context.Context, id string, kind docstore.Kind, depth int, seen map[string]bool) (docstore.Document, error) {
	doc, err := r.store.Collection(kind).FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	key := string(kind) + ":" + id
	if depth == 0 || seen[key] {
		return doc, nil
	}
	seen[key] = true

	variant, ok := model.KindOf(doc)
	if !ok {
		// Unknown shapes pass through unresolved.
		return doc, nil
	}

	switch variant {
	case docstore.DigitalEntity:
		return r.resolveDigitalEntity(ctx, doc, depth-1, seen)
	case docstore.PhysicalEntity:
		return r.resolvePhysicalEntity(ctx, doc, depth-1, seen)
	case docstore.Entity:
		return r.resolveEntity(ctx, doc, depth-1, seen)
	case docstore.Compilation:
		return r.resolveCompilation(ctx, doc, depth-1, seen)
	case docstore.Person:
		return r.hydratePerson(ctx, doc, "", depth-1, seen), nil
	case docstore.Institution:
		return r.hydrateInstitution(ctx, doc, "", depth-1, seen), nil
	default:
		return doc, nil
	}
}

func (r *Resolver) resolveDigitalEntity(ctx context.Context, doc docstore.Document, depth int, seen map[string]bool) (docstore.Document, error) {
	contextID := docstore.ID(doc)

	tags := make([]any, 0)
	for _, ref := range model.Slice(doc, "tags") {
		if tag, ok := r.fetchRef(ctx, docstore.Tag, ref); ok {
			tags = append(tags, tag)
		}
	}
	doc["tags"] = tags

	doc["persons"] = r.hydrateAgents(ctx, model.Slice(doc, "persons"), docstore.Person, contextID, depth, seen)
	doc["institutions"] = r.hydrateAgents(ctx, model.Slice(doc, "institutions"), docstore.Institution, contextID, depth, seen)

	phyObjs := make([]any, 0)
	for _, ref := range model.Slice(doc, "phyObjs") {
		phy, ok := r.fetchRef(ctx, docstore.PhysicalEntity, ref)
		if !ok {
			continue
		}
		resolved, err := r.resolvePhysicalEntity(ctx, phy, depth-1, seen)
		if err != nil {
			continue
		}
		phyObjs = append(phyObjs, resolved)
	}
	doc["phyObjs"] = phyObjs

	return doc, nil
}

// resolvePhysicalEntity hydrates a physical object's own persons and
// institutions. The physical entity is its own role context, distinct from
// the digital entity that may embed it.
func (r *Resolver) resolvePhysicalEntity(ctx context.Context, doc docstore.Document, depth int, seen map[string]bool) (docstore.Document, error) {
	contextID := docstore.ID(doc)
	doc["persons"] = r.hydrateAgents(ctx, model.Slice(doc, "persons"), docstore.Person, contextID, depth, seen)
	doc["institutions"] = r.hydrateAgents(ctx, model.Slice(doc, "institutions"), docstore.Institution, contextID, depth, seen)
	return doc, nil
}

func (r *Resolver) resolveEntity(ctx context.Context, doc docstore.Document, depth int, seen map[string]bool) (docstore.Document, error) {
	if ref := doc["relatedDigitalEntity"]; model.IsBareRef(ref) {
		if id := model.RefID(ref); util.IsValidID(id) {
			if full, err := r.resolve(ctx, id, docstore.DigitalEntity, depth, seen); err == nil {
				doc["relatedDigitalEntity"] = full
			}
		}
	}
	doc["annotationList"] = r.hydrateAnnotations(ctx, model.Slice(doc, "annotationList"))
	return doc, nil
}

func (r *Resolver) resolveCompilation(ctx context.Context, doc docstore.Document, depth int, seen map[string]bool) (docstore.Document, error) {
	entities := make([]any, 0)
	for _, ref := range model.Slice(doc, "entities") {
		id := model.RefID(ref)
		if !util.IsValidID(id) {
			continue
		}
		resolved, err := r.resolve(ctx, id, docstore.Entity, depth, seen)
		if err != nil {
			// Tombstoned reference, drop it.
			continue
		}
		entities = append(entities, resolved)
	}
	doc["entities"] = entities
	doc["annotationList"] = r.hydrateAnnotations(ctx, model.Slice(doc, "annotationList"))

	// The stored hash never leaves the resolver; only its presence does.
	hasPassword := model.String(doc, "password") != ""
	doc["password"] = hasPassword

	return doc, nil
}

// hydrateAgents resolves person/institution references embedded under an
// owning context, filtering each to that context's view.
func (r *Resolver) hydrateAgents(ctx context.Context, refs []any, kind docstore.Kind, contextID string, depth int, seen map[string]bool) []any {
	out := make([]any, 0, len(refs))
	for _, ref := range refs {
		doc, ok := r.fetchRef(ctx, kind, ref)
		if !ok {
			continue
		}
		if kind == docstore.Person {
			out = append(out, r.hydratePerson(ctx, doc, contextID, depth, seen))
		} else {
			out = append(out, r.hydrateInstitution(ctx, doc, contextID, depth, seen))
		}
	}
	return out
}

// hydratePerson embeds the person's institutions and contact reference and
// then collapses the per-context maps. A shared person's relationships with
// unrelated entities must never leak through another entity's view, so with
// a non-empty contextID only that context's entries survive.
func (r *Resolver) hydratePerson(ctx context.Context, doc docstore.Document, contextID string, depth int, seen map[string]bool) docstore.Document {
	if depth > 0 {
		if institutions := model.Map(doc, "institutions"); institutions != nil {
			for ctxKey, entry := range institutions {
				if contextID != "" && ctxKey != contextID {
					continue
				}
				refs, _ := entry.([]any)
				resolved := make([]any, 0, len(refs))
				for _, ref := range refs {
					inst, ok := r.fetchRef(ctx, docstore.Institution, ref)
					if !ok {
						continue
					}
					resolved = append(resolved, r.hydrateInstitution(ctx, inst, ctxKey, depth-1, seen))
				}
				institutions[ctxKey] = resolved
			}
		}
		if contacts := model.Map(doc, "contact_references"); contacts != nil {
			for ctxKey, ref := range contacts {
				if contextID != "" && ctxKey != contextID {
					continue
				}
				contact, ok := r.fetchRef(ctx, docstore.Contact, ref)
				if !ok {
					delete(contacts, ctxKey)
					continue
				}
				contacts[ctxKey] = contact
			}
		}
	}
	filterContext(doc, contextID, personContextKeys)
	return doc
}

func (r *Resolver) hydrateInstitution(ctx context.Context, doc docstore.Document, contextID string, depth int, seen map[string]bool) docstore.Document {
	if depth > 0 {
		if addresses := model.Map(doc, "addresses"); addresses != nil {
			for ctxKey, ref := range addresses {
				if contextID != "" && ctxKey != contextID {
					continue
				}
				address, ok := r.fetchRef(ctx, docstore.Address, ref)
				if !ok {
					delete(addresses, ctxKey)
					continue
				}
				addresses[ctxKey] = address
			}
		}
	}
	filterContext(doc, contextID, institutionContextKeys)
	return doc
}

// hydrateAnnotations swaps annotation ids for their stored records, dropping
// ids that no longer resolve.
func (r *Resolver) hydrateAnnotations(ctx context.Context, refs []any) []any {
	out := make([]any, 0, len(refs))
	for _, ref := range refs {
		if annotation, ok := r.fetchRef(ctx, docstore.Annotation, ref); ok {
			out = append(out, annotation)
		}
	}
	return out
}

// fetchRef fetches the document behind a reference value; ok is false for
// invalid ids and dangling references.
func (r *Resolver) fetchRef(ctx context.Context, kind docstore.Kind, ref any) (docstore.Document, bool) {
	id := model.RefID(ref)
	if !util.IsValidID(id) {
		return nil, false
	}
	doc, err := r.store.Collection(kind).FindOne(ctx, id)
	if err != nil {
		// Degrade to absent; resolution failures never escape the resolver.
		return nil, false
	}
	return doc, true
}

// filterContext collapses per-context maps down to the owning context's
// entry. An empty contextID means a top-level resolve, which keeps all.
func filterContext(doc docstore.Document, contextID string, keys []string) {
	if contextID == "" {
		return
	}
	for _, key := range keys {
		m := model.Map(doc, key)
		if m == nil {
			continue
		}
		filtered := map[string]any{}
		if entry, ok := m[contextID]; ok {
			filtered[contextID] = entry
		}
		doc[key] = filtered
	}
}
