// Package graph turns denormalized, UI-submitted document trees into
// deduplicated, id-referenced stored records (normalization) and stored
// records back into hydrated, context-filtered trees (resolution).
package graph

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"tessera/api/internal/docstore"
	"tessera/api/internal/imagestore"
	"tessera/api/internal/model"
	"tessera/api/internal/util"
)

// ErrNotAcknowledged marks a write the store did not confirm. State is
// assumed unchanged, so callers must not flush caches for it.
var ErrNotAcknowledged = errors.New("graph: write not acknowledged")

// ImageStore is the external preview-image collaborator.
type ImageStore interface {
	SavePreviewImage(ctx context.Context, value string, kind docstore.Kind, ownerID string) (string, error)
}

// Normalizer owns the save strategies: identity resolution for nested shared
// records, per-context role merging, and the leaf-before-parent write order
// (a parent document embeds leaf ids, so every leaf upsert completes first).
type Normalizer struct {
	store  docstore.Store
	images ImageStore
}

func NewNormalizer(store docstore.Store, images ImageStore) *Normalizer {
	return &Normalizer{store: store, images: images}
}

// Per-context relationship maps. On save, only the current context's key is
// replaced; entries recorded by other owning contexts stay untouched.
var (
	personContextKeys      = []string{"roles", "institutions", "contact_references"}
	institutionContextKeys = []string{"roles", "addresses", "notes"}
)

// SaveDigitalEntity normalizes a submitted digital-object tree. The entity's
// own id is the role context for its nested persons and institutions; nested
// physical entities are normalized as their own contexts.
func (n *Normalizer) SaveDigitalEntity(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	return n.saveObjectEntity(ctx, doc, docstore.DigitalEntity)
}

// SavePhysicalEntity normalizes a physical-object description, scoping its
// persons and institutions to the physical entity's own id.
func (n *Normalizer) SavePhysicalEntity(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	return n.saveObjectEntity(ctx, doc, docstore.PhysicalEntity)
}

func (n *Normalizer) saveObjectEntity(ctx context.Context, doc docstore.Document, kind docstore.Kind) (docstore.Document, error) {
	id := n.ensureID(doc)
	out := docstore.Clone(doc)
	out["_id"] = id
	out[model.KindField] = string(kind)

	persons, err := n.saveAgentList(ctx, model.Slice(doc, "persons"), id, n.savePerson)
	if err != nil {
		return nil, err
	}
	out["persons"] = persons

	institutions, err := n.saveAgentList(ctx, model.Slice(doc, "institutions"), id, n.saveInstitution)
	if err != nil {
		return nil, err
	}
	out["institutions"] = institutions

	if kind == docstore.DigitalEntity {
		tags := make([]any, 0)
		for _, ref := range model.Slice(doc, "tags") {
			switch tag := ref.(type) {
			case string:
				if util.IsValidID(tag) {
					tags = append(tags, tag)
				}
			case map[string]any:
				tagID, err := n.saveLeaf(ctx, docstore.Tag, tag)
				if err != nil {
					return nil, err
				}
				tags = append(tags, tagID)
			}
		}
		out["tags"] = tags

		phyObjs := make([]any, 0)
		for _, ref := range model.Slice(doc, "phyObjs") {
			switch phy := ref.(type) {
			case string:
				if util.IsValidID(phy) {
					phyObjs = append(phyObjs, phy)
				}
			case map[string]any:
				saved, err := n.SavePhysicalEntity(ctx, phy)
				if err != nil {
					return nil, err
				}
				phyObjs = append(phyObjs, docstore.ID(saved))
			}
		}
		out["phyObjs"] = phyObjs
	}

	if err := n.upsert(ctx, kind, id, out); err != nil {
		return nil, err
	}
	return out, nil
}

// saveAgentList normalizes a mixed list of person/institution documents and
// references into id strings under the given context.
func (n *Normalizer) saveAgentList(ctx context.Context, refs []any, contextID string, save func(context.Context, docstore.Document, string) (string, error)) ([]any, error) {
	ids := make([]any, 0, len(refs))
	for _, ref := range refs {
		switch agent := ref.(type) {
		case string:
			if util.IsValidID(agent) {
				ids = append(ids, agent)
			}
		case map[string]any:
			id, err := save(ctx, agent, contextID)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// savePerson merges a submitted person over its stored record. Plain fields
// are shallow-merged with new values winning; the per-context maps get
// exactly the submitted entry for contextID and nothing else changed.
func (n *Normalizer) savePerson(ctx context.Context, doc docstore.Document, contextID string) (string, error) {
	id := n.ensureID(doc)
	stored, err := n.fetchExisting(ctx, docstore.Person, id)
	if err != nil {
		return "", err
	}

	merged := mergeFields(stored, doc, personContextKeys)
	merged[model.KindField] = string(docstore.Person)

	roles := contextMap(stored, "roles")
	roles[contextID] = submittedRoleList(doc, contextID)
	merged["roles"] = roles

	institutions := contextMap(stored, "institutions")
	submitted := submittedContextSlice(doc, "institutions", contextID)
	instIDs := make([]any, 0, len(submitted))
	for _, ref := range submitted {
		switch inst := ref.(type) {
		case string:
			if util.IsValidID(inst) {
				instIDs = append(instIDs, inst)
			}
		case map[string]any:
			instID, err := n.saveInstitution(ctx, inst, contextID)
			if err != nil {
				return "", err
			}
			instIDs = append(instIDs, instID)
		}
	}
	institutions[contextID] = instIDs
	merged["institutions"] = institutions

	contacts := contextMap(stored, "contact_references")
	switch contact := submittedContextValue(doc, "contact_references", contextID).(type) {
	case string:
		if util.IsValidID(contact) {
			contacts[contextID] = contact
		}
	case map[string]any:
		contactID, err := n.saveLeaf(ctx, docstore.Contact, contact)
		if err != nil {
			return "", err
		}
		contacts[contextID] = contactID
	}
	merged["contact_references"] = contacts

	if err := n.upsert(ctx, docstore.Person, id, merged); err != nil {
		return "", err
	}
	return id, nil
}

// saveInstitution mirrors savePerson for institutions: addresses and notes
// are context-keyed, addresses may arrive embedded and are normalized to
// address ids.
func (n *Normalizer) saveInstitution(ctx context.Context, doc docstore.Document, contextID string) (string, error) {
	id := n.ensureID(doc)
	stored, err := n.fetchExisting(ctx, docstore.Institution, id)
	if err != nil {
		return "", err
	}

	merged := mergeFields(stored, doc, institutionContextKeys)
	merged[model.KindField] = string(docstore.Institution)

	roles := contextMap(stored, "roles")
	roles[contextID] = submittedRoleList(doc, contextID)
	merged["roles"] = roles

	addresses := contextMap(stored, "addresses")
	switch addr := submittedContextValue(doc, "addresses", contextID).(type) {
	case string:
		if util.IsValidID(addr) {
			addresses[contextID] = addr
		}
	case map[string]any:
		addrID, err := n.saveLeaf(ctx, docstore.Address, addr)
		if err != nil {
			return "", err
		}
		addresses[contextID] = addrID
	}
	merged["addresses"] = addresses

	notes := contextMap(stored, "notes")
	if note, ok := submittedContextValue(doc, "notes", contextID).(string); ok {
		notes[contextID] = note
	}
	merged["notes"] = notes

	if err := n.upsert(ctx, docstore.Institution, id, merged); err != nil {
		return "", err
	}
	return id, nil
}

// saveLeaf handles the simple shared records (tag, address, contact):
// merge-on-id when a valid id is present, fresh id otherwise.
func (n *Normalizer) saveLeaf(ctx context.Context, kind docstore.Kind, doc docstore.Document) (string, error) {
	id := n.ensureID(doc)
	stored, err := n.fetchExisting(ctx, kind, id)
	if err != nil {
		return "", err
	}
	merged := mergeFields(stored, doc, nil)
	merged[model.KindField] = string(kind)
	if err := n.upsert(ctx, kind, id, merged); err != nil {
		return "", err
	}
	return id, nil
}

// SaveEntity normalizes a viewable object: annotation list deduplicated,
// whitelist shape guaranteed, an embedded preview payload persisted through
// the image store, and the related digital entity reduced to a bare ref.
func (n *Normalizer) SaveEntity(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	id := n.ensureID(doc)
	out := docstore.Clone(doc)
	out["_id"] = id
	out[model.KindField] = string(docstore.Entity)

	out["annotationList"] = toAnyList(model.IDList(model.Slice(doc, "annotationList")))

	whitelist := model.Map(out, "whitelist")
	if whitelist == nil {
		whitelist = map[string]any{}
	}
	if _, ok := whitelist["enabled"]; !ok {
		whitelist["enabled"] = false
	}
	if _, ok := whitelist["ids"].([]any); !ok {
		whitelist["ids"] = []any{}
	}
	out["whitelist"] = whitelist

	if settings := model.Map(out, "settings"); settings != nil {
		if preview := model.String(settings, "preview"); imagestore.IsPayload(preview) {
			path, err := n.images.SavePreviewImage(ctx, preview, docstore.Entity, id)
			if err != nil {
				return nil, fmt.Errorf("persist entity preview: %w", err)
			}
			settings["preview"] = path
		}
	}

	if rdID := model.RefID(out["relatedDigitalEntity"]); util.IsValidID(rdID) {
		out["relatedDigitalEntity"] = map[string]any{"_id": rdID}
	}

	if err := n.upsert(ctx, docstore.Entity, id, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCompilation reduces entity objects to bare refs, stamps the owner and
// hashes a newly set password. An unchanged (echoed) hash and an empty
// submission both keep the stored hash.
func (n *Normalizer) SaveCompilation(ctx context.Context, doc docstore.Document, user docstore.Document) (docstore.Document, error) {
	id := n.ensureID(doc)
	stored, err := n.fetchExisting(ctx, docstore.Compilation, id)
	if err != nil {
		return nil, err
	}

	out := docstore.Clone(doc)
	out["_id"] = id
	out[model.KindField] = string(docstore.Compilation)
	out["annotationList"] = toAnyList(model.IDList(model.Slice(doc, "annotationList")))
	out["relatedOwner"] = model.StripUser(user)

	entities := make([]any, 0)
	for _, ref := range model.Slice(doc, "entities") {
		if entityID := model.RefID(ref); util.IsValidID(entityID) {
			entities = append(entities, map[string]any{"_id": entityID})
		}
	}
	out["entities"] = entities

	storedPw := model.String(stored, "password")
	switch pw := model.String(doc, "password"); {
	case pw == "" || pw == storedPw:
		if storedPw == "" {
			delete(out, "password")
		} else {
			out["password"] = storedPw
		}
	default:
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash compilation password: %w", err)
		}
		out["password"] = string(hash)
	}

	if err := n.upsert(ctx, docstore.Compilation, id, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveGroup strips the full user record down to its public identity and, on
// first save, sets it as creator, sole member and sole owner.
func (n *Normalizer) SaveGroup(ctx context.Context, doc docstore.Document, user docstore.Document) (docstore.Document, error) {
	id := n.ensureID(doc)
	stored, err := n.fetchExisting(ctx, docstore.Group, id)
	if err != nil {
		return nil, err
	}

	out := docstore.Clone(doc)
	out["_id"] = id
	out[model.KindField] = string(docstore.Group)
	if stored == nil {
		stripped := model.StripUser(user)
		out["creator"] = stripped
		out["members"] = []any{docstore.Clone(stripped)}
		out["owners"] = []any{docstore.Clone(stripped)}
	}

	if err := n.upsert(ctx, docstore.Group, id, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Normalizer) ensureID(doc docstore.Document) string {
	if id := docstore.ID(doc); util.IsValidID(id) {
		return id
	}
	return util.NewID()
}

// fetchExisting returns the stored record for id, or nil when this save
// creates it. Any other storage failure is fatal for the save.
func (n *Normalizer) fetchExisting(ctx context.Context, kind docstore.Kind, id string) (docstore.Document, error) {
	stored, err := n.store.Collection(kind).FindOne(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (n *Normalizer) upsert(ctx context.Context, kind docstore.Kind, id string, fields docstore.Document) error {
	res, err := n.store.Collection(kind).UpdateOne(ctx, id, fields, true)
	if err != nil {
		return err
	}
	if !res.Acknowledged {
		return fmt.Errorf("save %s %s: %w", kind, id, ErrNotAcknowledged)
	}
	return nil
}

// mergeFields shallow-merges submitted over stored, new values winning
// field-by-field. Context-keyed maps are excluded; they merge per key.
func mergeFields(stored, submitted docstore.Document, contextKeys []string) docstore.Document {
	skip := map[string]bool{"_id": true, model.KindField: true}
	for _, k := range contextKeys {
		skip[k] = true
	}
	merged := docstore.Clone(stored)
	if merged == nil {
		merged = docstore.Document{}
	}
	for k, v := range submitted {
		if skip[k] {
			continue
		}
		merged[k] = v
	}
	return merged
}

// contextMap returns a copy of a stored context-keyed map, or a fresh one.
func contextMap(stored docstore.Document, key string) map[string]any {
	m := model.Map(stored, key)
	if m == nil {
		return map[string]any{}
	}
	return docstore.Clone(m)
}

func submittedContextValue(doc docstore.Document, key, contextID string) any {
	m := model.Map(doc, key)
	if m == nil {
		return nil
	}
	return m[contextID]
}

func submittedContextSlice(doc docstore.Document, key, contextID string) []any {
	s, _ := submittedContextValue(doc, key, contextID).([]any)
	return s
}

// submittedRoleList returns exactly what the current save declares for this
// context; an absent entry means the context now has no roles here.
func submittedRoleList(doc docstore.Document, contextID string) []any {
	if s, ok := submittedContextValue(doc, "roles", contextID).([]any); ok {
		return s
	}
	return []any{}
}

func toAnyList(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
