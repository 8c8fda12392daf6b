package explore

import (
	"context"
	"testing"

	"tessera/api/internal/docstore"
	"tessera/api/internal/graph"
	"tessera/api/internal/imagestore"
	"tessera/api/internal/model"
	"tessera/api/internal/ownership"
	"tessera/api/internal/util"
)

type scanFixture struct {
	scanner    *Scanner
	store      *docstore.MemoryStore
	normalizer *graph.Normalizer
	engine     *ownership.Engine
}

func newScanFixture() *scanFixture {
	store := docstore.NewMemoryStore()
	images := imagestore.NewMemory()
	engine := ownership.NewEngine(store, images)
	resolver := graph.NewResolver(store)
	return &scanFixture{
		scanner:    NewScanner(store, resolver, engine, nil),
		store:      store,
		normalizer: graph.NewNormalizer(store, images),
		engine:     engine,
	}
}

func (f *scanFixture) seedUser(t *testing.T, username string) docstore.Document {
	t.Helper()
	id := util.NewID()
	user := docstore.Document{
		"_id": id, "username": username, "fullname": username,
		"mail": username + "@example.org", "data": map[string]any{},
	}
	if _, err := f.store.Collection(docstore.User).UpdateOne(context.Background(), id, user, true); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (f *scanFixture) seedEntity(t *testing.T, name string, extra docstore.Document) string {
	t.Helper()
	doc := docstore.Document{"name": name}
	for k, v := range extra {
		doc[k] = v
	}
	saved, err := f.normalizer.SaveEntity(context.Background(), doc)
	if err != nil {
		t.Fatalf("seed entity %s: %v", name, err)
	}
	return docstore.ID(saved)
}

func TestScanEntitiesSortedByName(t *testing.T) {
	f := newScanFixture()
	f.seedEntity(t, "zebra", nil)
	f.seedEntity(t, "Apple", nil)
	f.seedEntity(t, "mango", nil)

	results, err := f.scanner.Scan(context.Background(), Request{SearchEntity: true}, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	names := []string{
		model.String(results[0], "name"),
		model.String(results[1], "name"),
		model.String(results[2], "name"),
	}
	if names[0] != "Apple" || names[1] != "mango" || names[2] != "zebra" {
		t.Errorf("case-insensitive name order broken: %v", names)
	}
}

func TestScanHidesRestrictedEntityFromStrangers(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	owner := f.seedUser(t, "owner")
	friend := f.seedUser(t, "friend")
	stranger := f.seedUser(t, "stranger")

	id := f.seedEntity(t, "Locked", docstore.Document{
		"whitelist": map[string]any{"enabled": true, "ids": []any{docstore.ID(friend)}},
	})
	if err := f.engine.MakeOwnerOf(ctx, docstore.ID(owner), docstore.Entity, id); err != nil {
		t.Fatalf("make owner: %v", err)
	}

	for _, tc := range []struct {
		requester docstore.Document
		visible   bool
	}{
		{nil, false},
		{stranger, false},
		{friend, true},
		{owner, true},
	} {
		results, err := f.scanner.Scan(ctx, Request{SearchEntity: true}, tc.requester)
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		if got := len(results) == 1; got != tc.visible {
			t.Errorf("requester %v: visible=%v, want %v", docstore.ID(tc.requester), got, tc.visible)
		}
	}
}

func TestScanAnnotatableFilter(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	owner := f.seedUser(t, "owner")
	other := f.seedUser(t, "other")
	mine := f.seedEntity(t, "Mine", nil)
	f.seedEntity(t, "Theirs", nil)
	if err := f.engine.MakeOwnerOf(ctx, docstore.ID(owner), docstore.Entity, mine); err != nil {
		t.Fatalf("make owner: %v", err)
	}

	req := Request{SearchEntity: true, Filters: Filters{Annotatable: true}}
	results, err := f.scanner.Scan(ctx, req, owner)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 || docstore.ID(results[0]) != mine {
		t.Errorf("owner should see exactly the owned entity: %v", results)
	}

	results, err = f.scanner.Scan(ctx, req, other)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("non-owner should see no annotatable entities, got %d", len(results))
	}
}

func TestScanCompilationWhitelistGrantsAnnotatable(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	creator := f.seedUser(t, "creator")
	guest := f.seedUser(t, "guest")

	comp, err := f.normalizer.SaveCompilation(ctx, docstore.Document{
		"name":      "Shared shelf",
		"whitelist": map[string]any{"enabled": true, "ids": []any{docstore.ID(guest)}},
	}, creator)
	if err != nil {
		t.Fatalf("save compilation: %v", err)
	}
	if err := f.engine.MakeOwnerOf(ctx, docstore.ID(creator), docstore.Compilation, docstore.ID(comp)); err != nil {
		t.Fatalf("make owner: %v", err)
	}

	req := Request{Filters: Filters{Annotatable: true}}
	for _, requester := range []docstore.Document{creator, guest} {
		results, err := f.scanner.Scan(ctx, req, requester)
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("%s should find the compilation annotatable", model.String(requester, "username"))
		}
	}
	results, err := f.scanner.Scan(ctx, req, f.seedUser(t, "outsider"))
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 0 {
		t.Error("outsider should not find the compilation annotatable")
	}
}

func TestScanAnnotatedFilter(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	annID := util.NewID()
	if _, err := f.store.Collection(docstore.Annotation).UpdateOne(ctx, annID, docstore.Document{
		model.KindField: string(docstore.Annotation),
		"target":        map[string]any{}, "body": map[string]any{},
	}, true); err != nil {
		t.Fatalf("seed annotation: %v", err)
	}
	annotated := f.seedEntity(t, "Annotated", docstore.Document{"annotationList": []any{annID}})
	f.seedEntity(t, "Bare", nil)
	// A dangling reference does not count as annotated.
	f.seedEntity(t, "Dangling", docstore.Document{"annotationList": []any{util.NewID()}})

	results, err := f.scanner.Scan(ctx, Request{SearchEntity: true, Filters: Filters{Annotated: true}}, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 || docstore.ID(results[0]) != annotated {
		t.Errorf("expected only the annotated entity: %v", results)
	}
}

func TestScanRestrictedFilterCompilations(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()
	user := f.seedUser(t, "curator")

	if _, err := f.normalizer.SaveCompilation(ctx, docstore.Document{"name": "Open"}, user); err != nil {
		t.Fatalf("save compilation: %v", err)
	}
	locked, err := f.normalizer.SaveCompilation(ctx, docstore.Document{"name": "Locked", "password": "secret"}, user)
	if err != nil {
		t.Fatalf("save compilation: %v", err)
	}

	results, err := f.scanner.Scan(ctx, Request{Filters: Filters{Restricted: true}}, user)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 || docstore.ID(results[0]) != docstore.ID(locked) {
		t.Errorf("expected only the password-protected compilation: %v", results)
	}
}

func TestScanAssociatedFilter(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()
	user := f.seedUser(t, "grace")

	deID := util.NewID()
	de, err := f.normalizer.SaveDigitalEntity(ctx, docstore.Document{
		"_id":   deID,
		"title": "Survey",
		"persons": []any{map[string]any{
			"prename": "Grace", "name": "Hopper", "mail": "grace@example.org",
			"roles": map[string]any{deID: []any{"AUTHOR"}},
		}},
	})
	if err != nil {
		t.Fatalf("save digital entity: %v", err)
	}
	associated := f.seedEntity(t, "Hers", docstore.Document{
		"relatedDigitalEntity": map[string]any{"_id": docstore.ID(de)},
	})
	f.seedEntity(t, "Unrelated", nil)

	results, err := f.scanner.Scan(ctx, Request{SearchEntity: true, Filters: Filters{Associated: true}}, user)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 || docstore.ID(results[0]) != associated {
		t.Errorf("expected only the associated entity: %v", results)
	}
}

func TestScanFreeTextFallback(t *testing.T) {
	f := newScanFixture()
	f.seedEntity(t, "Bronze statue", docstore.Document{"description": "A casting from Delphi"})
	f.seedEntity(t, "Clay tablet", nil)

	results, err := f.scanner.Scan(context.Background(), Request{SearchEntity: true, SearchText: "delphi"}, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 || model.String(results[0], "name") != "Bronze statue" {
		t.Errorf("substring search over flattened text failed: %v", results)
	}
}

func TestScanOffsetAndLimit(t *testing.T) {
	f := newScanFixture()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.seedEntity(t, name, nil)
	}

	page, err := f.scanner.Scan(context.Background(), Request{SearchEntity: true, Offset: 2, Limit: 2}, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(page))
	}
}

func TestScanProjections(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()
	user := f.seedUser(t, "curator")

	de, err := f.normalizer.SaveDigitalEntity(ctx, docstore.Document{
		"_id": util.NewID(), "title": "Scan", "description": "A scanned relief", "licence": "CC BY 4.0",
	})
	if err != nil {
		t.Fatalf("save digital entity: %v", err)
	}
	entityID := f.seedEntity(t, "Relief", docstore.Document{
		"relatedDigitalEntity": map[string]any{"_id": docstore.ID(de)},
	})

	results, err := f.scanner.Scan(ctx, Request{SearchEntity: true}, nil)
	if err != nil {
		t.Fatalf("entity scan failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(results))
	}
	rd := model.Map(results[0], "relatedDigitalEntity")
	if rd["description"] != "A scanned relief" || rd["licence"] != "CC BY 4.0" {
		t.Errorf("projection should keep description and licence: %v", rd)
	}
	if _, leaked := rd["title"]; leaked {
		t.Error("projection should drop other digital-entity fields")
	}

	comp, err := f.normalizer.SaveCompilation(ctx, docstore.Document{
		"name":     "Shelf",
		"entities": []any{map[string]any{"_id": entityID}},
	}, user)
	if err != nil {
		t.Fatalf("save compilation: %v", err)
	}
	results, err = f.scanner.Scan(ctx, Request{}, nil)
	if err != nil {
		t.Fatalf("compilation scan failed: %v", err)
	}
	if len(results) != 1 || docstore.ID(results[0]) != docstore.ID(comp) {
		t.Fatalf("expected the compilation, got %v", results)
	}
	entities := model.Slice(results[0], "entities")
	if len(entities) != 1 {
		t.Fatalf("expected 1 projected entity, got %d", len(entities))
	}
	proj, _ := entities[0].(map[string]any)
	if proj["name"] != "Relief" || docstore.ID(proj) != entityID {
		t.Errorf("projected entity wrong: %v", proj)
	}
	if _, leaked := proj["relatedDigitalEntity"]; leaked {
		t.Error("projected entity should be reduced to id and name")
	}
}
