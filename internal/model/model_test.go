package model

import (
	"strings"
	"testing"

	"tessera/api/internal/docstore"
)

func TestKindOfDiscriminant(t *testing.T) {
	doc := docstore.Document{KindField: "person", "type": "3d-model"}
	kind, ok := KindOf(doc)
	if !ok || kind != docstore.Person {
		t.Fatalf("discriminant not honored: %v %v", kind, ok)
	}
}

func TestKindOfStructuralProbes(t *testing.T) {
	cases := []struct {
		doc  docstore.Document
		want docstore.Kind
	}{
		{docstore.Document{"target": map[string]any{}, "body": map[string]any{}}, docstore.Annotation},
		{docstore.Document{"entities": []any{}, "annotationList": []any{}}, docstore.Compilation},
		{docstore.Document{"relatedDigitalEntity": "x", "annotationList": []any{}}, docstore.Entity},
		{docstore.Document{"phyObjs": []any{}, "persons": []any{}}, docstore.DigitalEntity},
		{docstore.Document{"place": map[string]any{}, "persons": []any{}}, docstore.PhysicalEntity},
		{docstore.Document{"prename": "Jane", "name": "Doe"}, docstore.Person},
		{docstore.Document{"university": "U", "addresses": map[string]any{}}, docstore.Institution},
		{docstore.Document{"members": []any{}, "owners": []any{}}, docstore.Group},
		{docstore.Document{"street": "Main", "city": "Ctown"}, docstore.Address},
		{docstore.Document{"mail": "a@b.c", "phonenumber": "1"}, docstore.Contact},
		{docstore.Document{"_id": "t", "value": "medieval"}, docstore.Tag},
	}
	for _, tc := range cases {
		kind, ok := KindOf(tc.doc)
		if !ok || kind != tc.want {
			t.Errorf("KindOf(%v) = %v,%v, want %v", tc.doc, kind, ok, tc.want)
		}
	}
}

func TestKindOfUnknownShape(t *testing.T) {
	if _, ok := KindOf(docstore.Document{"foo": "bar"}); ok {
		t.Error("unknown shape should not classify")
	}
	if _, ok := KindOf(nil); ok {
		t.Error("nil document should not classify")
	}
}

func TestRefID(t *testing.T) {
	if RefID("abc") != "abc" {
		t.Error("string ref")
	}
	if RefID(map[string]any{"_id": "abc", "name": "x"}) != "abc" {
		t.Error("embedded ref")
	}
	if RefID(42) != "" {
		t.Error("non-ref value")
	}
}

func TestIsBareRef(t *testing.T) {
	if !IsBareRef("abc") {
		t.Error("string is a bare ref")
	}
	if !IsBareRef(map[string]any{"_id": "abc"}) {
		t.Error("id-only object is a bare ref")
	}
	if IsBareRef(map[string]any{"_id": "abc", "title": "hydrated"}) {
		t.Error("hydrated object is not a bare ref")
	}
}

func TestIDListDedup(t *testing.T) {
	a := "5f4d3c2b1a09877665544332"
	b := "6a5b4c3d2e1f000011223344"
	got := IDList([]any{a, map[string]any{"_id": b}, a, "undefined", ""})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("IDList = %v", got)
	}
}

func TestFlatten(t *testing.T) {
	doc := docstore.Document{
		"_id":      "SECRETID",
		"password": "hunter2",
		"title":    "Bronze Statue",
		"nested":   map[string]any{"note": "Roman Era"},
		"list":     []any{"Aquila"},
	}
	flat := Flatten(doc)
	for _, want := range []string{"bronze statue", "roman era", "aquila"} {
		if !strings.Contains(flat, want) {
			t.Errorf("flatten missing %q: %s", want, flat)
		}
	}
	if strings.Contains(flat, "secretid") || strings.Contains(flat, "hunter2") {
		t.Errorf("flatten leaked excluded fields: %s", flat)
	}
}

func TestStripUser(t *testing.T) {
	user := docstore.Document{
		"_id": "u1", "username": "ada", "fullname": "Ada L.",
		"mail": "ada@example.org", "sessionID": "s",
	}
	stripped := StripUser(user)
	if len(stripped) != 3 || stripped["username"] != "ada" || stripped["fullname"] != "Ada L." || stripped["_id"] != "u1" {
		t.Errorf("StripUser = %v", stripped)
	}
}
