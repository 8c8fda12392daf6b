// Package ownership enforces who may touch what: owner arrays on user
// records, the gated annotation save, and the last-owner guard.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"tessera/api/internal/docstore"
	"tessera/api/internal/graph"
	"tessera/api/internal/imagestore"
	"tessera/api/internal/model"
	"tessera/api/internal/util"
)

var (
	// ErrMalformed rejects an annotation missing its required nested shape.
	ErrMalformed = errors.New("ownership: malformed annotation")
	// ErrPermission is deliberately unspecific; callers must not learn why.
	ErrPermission = errors.New("ownership: permission denied")
	// ErrLastOwner guards the invariant that an entity keeps at least one owner.
	ErrLastOwner = errors.New("ownership: cannot remove last owner")
	// ErrStorage marks an unacknowledged write during the annotation save.
	ErrStorage = errors.New("ownership: write not acknowledged")
)

// Engine owns permission checks and the deduplicated annotation lists on
// entities and compilations.
type Engine struct {
	store  docstore.Store
	images graph.ImageStore
}

func NewEngine(store docstore.Store, images graph.ImageStore) *Engine {
	return &Engine{store: store, images: images}
}

// ownedIDs reads the user's owned-id array for one collection kind.
func ownedIDs(user docstore.Document, kind docstore.Kind) []any {
	return model.Slice(model.Map(user, "data"), string(kind))
}

// IsOwner reports whether the user's owned-entity set contains id.
func (e *Engine) IsOwner(ctx context.Context, userID string, kind docstore.Kind, id string) (bool, error) {
	user, err := e.store.Collection(docstore.User).FindOne(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, owned := range ownedIDs(user, kind) {
		if owned == id {
			return true, nil
		}
	}
	return false, nil
}

// OwnersOf lists every user record whose owned set contains id.
func (e *Engine) OwnersOf(ctx context.Context, kind docstore.Kind, id string) ([]docstore.Document, error) {
	cur, err := e.store.Collection(docstore.User).Find(ctx, docstore.Document{
		"data": map[string]any{string(kind): []any{id}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var owners []docstore.Document
	for cur.Next(ctx) {
		owners = append(owners, cur.Document())
	}
	return owners, cur.Err()
}

// MakeOwnerOf records id in the user's owned set. Adding is idempotent.
func (e *Engine) MakeOwnerOf(ctx context.Context, userID string, kind docstore.Kind, id string) error {
	user, err := e.store.Collection(docstore.User).FindOne(ctx, userID)
	if err != nil {
		return fmt.Errorf("owner record %s: %w", userID, err)
	}
	owned := ownedIDs(user, kind)
	for _, existing := range owned {
		if existing == id {
			return nil
		}
	}
	data := model.Map(user, "data")
	if data == nil {
		data = map[string]any{}
	}
	data[string(kind)] = append(owned, id)

	res, err := e.store.Collection(docstore.User).UpdateOne(ctx, userID, docstore.Document{"data": data}, false)
	if err != nil {
		return err
	}
	if !res.Acknowledged || res.Matched == 0 {
		return fmt.Errorf("record ownership of %s %s: %w", kind, id, ErrStorage)
	}
	return nil
}

// UndoOwnerOf removes id from the user's owned set. Removal is rejected when
// the user is the object's last remaining owner.
func (e *Engine) UndoOwnerOf(ctx context.Context, userID string, kind docstore.Kind, id string) error {
	owners, err := e.OwnersOf(ctx, kind, id)
	if err != nil {
		return err
	}
	holds := false
	for _, owner := range owners {
		if docstore.ID(owner) == userID {
			holds = true
			break
		}
	}
	if !holds {
		return nil
	}
	if len(owners) == 1 {
		return ErrLastOwner
	}
	return e.removeOwned(ctx, userID, kind, id)
}

// ReleaseAll drops id from every owner's set, used when the object itself is
// deleted and the last-owner guard no longer applies.
func (e *Engine) ReleaseAll(ctx context.Context, kind docstore.Kind, id string) error {
	owners, err := e.OwnersOf(ctx, kind, id)
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if err := e.removeOwned(ctx, docstore.ID(owner), kind, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) removeOwned(ctx context.Context, userID string, kind docstore.Kind, id string) error {
	user, err := e.store.Collection(docstore.User).FindOne(ctx, userID)
	if err != nil {
		return err
	}
	owned := ownedIDs(user, kind)
	filtered := make([]any, 0, len(owned))
	for _, existing := range owned {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	data := model.Map(user, "data")
	if data == nil {
		data = map[string]any{}
	}
	data[string(kind)] = filtered

	res, err := e.store.Collection(docstore.User).UpdateOne(ctx, userID, docstore.Document{"data": data}, false)
	if err != nil {
		return err
	}
	if !res.Acknowledged || res.Matched == 0 {
		return fmt.Errorf("release ownership of %s %s: %w", kind, id, ErrStorage)
	}
	return nil
}

// SaveAnnotation is the gated state transition for annotation writes, not a
// plain merge. alreadyExists tells whether the caller found a stored record
// under the submitted id.
func (e *Engine) SaveAnnotation(ctx context.Context, annotation docstore.Document, requester docstore.Document, alreadyExists bool) (docstore.Document, error) {
	source := model.Nested(annotation, "target", "source")
	perspective := model.Nested(annotation, "body", "content", "relatedPerspective")
	if source == nil || perspective == nil {
		return nil, ErrMalformed
	}

	id := docstore.ID(annotation)
	if !util.IsValidID(id) {
		id = util.NewID()
	}
	out := docstore.Clone(annotation)
	out["_id"] = id
	out[model.KindField] = string(docstore.Annotation)

	if preview := model.String(model.Nested(out, "body", "content", "relatedPerspective"), "preview"); imagestore.IsPayload(preview) {
		path, err := e.images.SavePreviewImage(ctx, preview, docstore.Annotation, id)
		if err != nil {
			return nil, fmt.Errorf("persist annotation preview: %w", err)
		}
		model.Nested(out, "body", "content", "relatedPerspective")["preview"] = path
	}

	// A valid related entity is mandatory; a valid related compilation makes
	// the annotation compilation-scoped (a personal ranking rather than the
	// entity's canonical annotation).
	relatedEntity := model.RefID(source["relatedEntity"])
	if !util.IsValidID(relatedEntity) {
		return nil, ErrMalformed
	}
	relatedCompilation := model.RefID(source["relatedCompilation"])
	compilationScoped := util.IsValidID(relatedCompilation)

	requesterID := docstore.ID(requester)
	if err := e.gateAnnotation(ctx, out, id, requesterID, relatedEntity, relatedCompilation, compilationScoped, alreadyExists); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if !alreadyExists || model.String(out, "generated") == "" {
		out["generated"] = now
	}
	out["lastModificationDate"] = now
	out["lastModifiedBy"] = model.StripUser(requester)

	owningKind, owningID := docstore.Entity, relatedEntity
	if compilationScoped {
		owningKind, owningID = docstore.Compilation, relatedCompilation
	}
	owning, err := e.store.Collection(owningKind).FindOne(ctx, owningID)
	if err != nil {
		// The primary target of the mutation must exist.
		return nil, err
	}

	res, err := e.store.Collection(docstore.Annotation).UpdateOne(ctx, id, out, true)
	if err != nil {
		return nil, err
	}
	if !res.Acknowledged {
		return nil, fmt.Errorf("save annotation %s: %w", id, ErrStorage)
	}

	list := appendUnique(model.Slice(owning, "annotationList"), id)
	res, err = e.store.Collection(owningKind).UpdateOne(ctx, owningID, docstore.Document{"annotationList": list}, false)
	if err != nil {
		return nil, err
	}
	if !res.Acknowledged || res.Matched == 0 {
		return nil, fmt.Errorf("update %s annotation list: %w", owningKind, ErrStorage)
	}

	if !alreadyExists && util.IsValidID(requesterID) {
		if err := e.MakeOwnerOf(ctx, requesterID, docstore.Annotation, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// gateAnnotation applies the permission rules. Entity-scoped annotations
// require owning the entity. Compilation-scoped ones always allow the
// annotation's owner; the compilation's owner may only reorder, never change
// a body they do not own.
func (e *Engine) gateAnnotation(ctx context.Context, out docstore.Document, id, requesterID, relatedEntity, relatedCompilation string, compilationScoped, alreadyExists bool) error {
	if !compilationScoped {
		ownsEntity, err := e.IsOwner(ctx, requesterID, docstore.Entity, relatedEntity)
		if err != nil {
			return err
		}
		if !ownsEntity {
			return ErrPermission
		}
		return nil
	}

	if alreadyExists {
		ownsAnnotation, err := e.IsOwner(ctx, requesterID, docstore.Annotation, id)
		if err != nil {
			return err
		}
		if ownsAnnotation {
			return nil
		}
	}

	ownsCompilation, err := e.IsOwner(ctx, requesterID, docstore.Compilation, relatedCompilation)
	if err != nil {
		return err
	}
	if !ownsCompilation {
		return ErrPermission
	}
	if alreadyExists {
		stored, err := e.store.Collection(docstore.Annotation).FindOne(ctx, id)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(stored["body"], out["body"]) {
			return ErrPermission
		}
	}
	return nil
}

// appendUnique keeps annotation lists ordered and duplicate-free.
func appendUnique(list []any, id string) []any {
	for _, existing := range list {
		if model.RefID(existing) == id {
			return list
		}
	}
	return append(list, id)
}
