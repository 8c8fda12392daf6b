package graph

import (
	"context"
	"testing"

	"tessera/api/internal/docstore"
	"tessera/api/internal/model"
	"tessera/api/internal/util"
)

func TestResolveDepthZeroReturnsRaw(t *testing.T) {
	normalizer, resolver, _, _ := newTestGraph()
	ctx := context.Background()

	deID := util.NewID()
	_, err := normalizer.SaveDigitalEntity(ctx, docstore.Document{
		"_id": deID,
		"persons": []any{map[string]any{
			"prename": "Jane", "name": "Doe",
			"roles": map[string]any{deID: []any{"AUTHOR"}},
		}},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := resolver.Resolve(ctx, deID, docstore.DigitalEntity, 0)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	refs := model.Slice(raw, "persons")
	if len(refs) != 1 {
		t.Fatalf("raw record should keep its refs: %v", refs)
	}
	if _, isID := refs[0].(string); !isID {
		t.Errorf("depth 0 must not hydrate, got %T", refs[0])
	}
}

func TestResolveMissingPrimaryTarget(t *testing.T) {
	_, resolver, _, _ := newTestGraph()
	if _, err := resolver.Resolve(context.Background(), util.NewID(), docstore.Entity, FullDepth); err != docstore.ErrNotFound {
		t.Errorf("expected ErrNotFound for absent primary target, got %v", err)
	}
}

func TestResolveEntityHydratesRelatedDigitalEntity(t *testing.T) {
	normalizer, resolver, _, _ := newTestGraph()
	ctx := context.Background()

	de, err := normalizer.SaveDigitalEntity(ctx, docstore.Document{
		"_id": util.NewID(), "title": "Scan", "description": "A scanned object",
	})
	if err != nil {
		t.Fatalf("save digital entity failed: %v", err)
	}
	entity, err := normalizer.SaveEntity(ctx, docstore.Document{
		"name":                 "Viewer scene",
		"relatedDigitalEntity": map[string]any{"_id": docstore.ID(de)},
	})
	if err != nil {
		t.Fatalf("save entity failed: %v", err)
	}

	resolved, err := resolver.Resolve(ctx, docstore.ID(entity), docstore.Entity, FullDepth)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	rd := model.Map(resolved, "relatedDigitalEntity")
	if model.String(rd, "title") != "Scan" {
		t.Errorf("bare ref should hydrate to the full record: %v", rd)
	}
}

func TestResolvePrunesDanglingReferences(t *testing.T) {
	normalizer, resolver, store, _ := newTestGraph()
	ctx := context.Background()

	liveAnn := util.NewID()
	deadAnn := util.NewID()
	if _, err := store.Collection(docstore.Annotation).UpdateOne(ctx, liveAnn, docstore.Document{
		model.KindField: string(docstore.Annotation),
		"target":        map[string]any{}, "body": map[string]any{},
	}, true); err != nil {
		t.Fatalf("seed annotation failed: %v", err)
	}

	entity, err := normalizer.SaveEntity(ctx, docstore.Document{
		"name":           "Scene",
		"annotationList": []any{liveAnn, deadAnn},
	})
	if err != nil {
		t.Fatalf("save entity failed: %v", err)
	}

	resolved, err := resolver.Resolve(ctx, docstore.ID(entity), docstore.Entity, FullDepth)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	list := model.Slice(resolved, "annotationList")
	if len(list) != 1 {
		t.Fatalf("dangling annotation should be pruned, got %v", list)
	}
	if ann, _ := list[0].(map[string]any); docstore.ID(ann) != liveAnn {
		t.Errorf("surviving annotation wrong: %v", list[0])
	}
}

func TestResolveCompilationPrunesDeadEntities(t *testing.T) {
	normalizer, resolver, _, _ := newTestGraph()
	ctx := context.Background()

	user := docstore.Document{"_id": util.NewID(), "username": "ada", "fullname": "Ada"}
	live, err := normalizer.SaveEntity(ctx, docstore.Document{"name": "Alive"})
	if err != nil {
		t.Fatalf("save entity failed: %v", err)
	}

	comp, err := normalizer.SaveCompilation(ctx, docstore.Document{
		"name":     "Mixed",
		"entities": []any{map[string]any{"_id": docstore.ID(live)}, map[string]any{"_id": util.NewID()}},
	}, user)
	if err != nil {
		t.Fatalf("save compilation failed: %v", err)
	}

	resolved, err := resolver.Resolve(ctx, docstore.ID(comp), docstore.Compilation, FullDepth)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	entities := model.Slice(resolved, "entities")
	if len(entities) != 1 {
		t.Fatalf("tombstoned entity should be dropped, got %d", len(entities))
	}
	if e, _ := entities[0].(map[string]any); model.String(e, "name") != "Alive" {
		t.Errorf("surviving entity not hydrated: %v", entities[0])
	}
}

func TestResolveUnknownShapePassesThrough(t *testing.T) {
	_, resolver, store, _ := newTestGraph()
	ctx := context.Background()

	id := util.NewID()
	if _, err := store.Collection(docstore.Entity).UpdateOne(ctx, id, docstore.Document{
		"mystery": "shape",
	}, true); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	doc, err := resolver.Resolve(ctx, id, docstore.Entity, FullDepth)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if doc["mystery"] != "shape" {
		t.Errorf("unknown shape should pass through: %v", doc)
	}
}

func TestResolveCycleGuard(t *testing.T) {
	_, resolver, store, _ := newTestGraph()
	ctx := context.Background()

	// Two compilations referencing each other's entities cannot occur in the
	// legitimate model; an entity whose digital entity refers back does the
	// trick for exercising the visited set.
	deID := util.NewID()
	entityID := util.NewID()
	_, _ = store.Collection(docstore.Entity).UpdateOne(ctx, entityID, docstore.Document{
		model.KindField:        string(docstore.Entity),
		"name":                 "loop",
		"annotationList":       []any{},
		"relatedDigitalEntity": map[string]any{"_id": deID},
	}, true)
	_, _ = store.Collection(docstore.DigitalEntity).UpdateOne(ctx, deID, docstore.Document{
		model.KindField: string(docstore.DigitalEntity),
		"persons":       []any{},
		"institutions":  []any{},
		"tags":          []any{},
		"phyObjs":       []any{entityID}, // malformed loop-ish data
	}, true)

	if _, err := resolver.Resolve(ctx, entityID, docstore.Entity, FullDepth); err != nil {
		t.Fatalf("resolve should terminate on cyclic data: %v", err)
	}
}
