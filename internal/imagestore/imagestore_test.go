package imagestore

import (
	"context"
	"encoding/base64"
	"testing"

	"tessera/api/internal/docstore"
)

func TestIsPayload(t *testing.T) {
	if !IsPayload("data:image/png;base64,AAAA") {
		t.Error("data url should be a payload")
	}
	if IsPayload("previews/entity/abc.png") {
		t.Error("stored path is not a payload")
	}
	if IsPayload("https://example.org/p.png") {
		t.Error("external url is not a payload")
	}
}

func TestSavePreviewImageBase64(t *testing.T) {
	store := NewMemory()
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	value := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	path, err := store.SavePreviewImage(context.Background(), value, docstore.Entity, "abc")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if path != "previews/entity/abc.png" {
		t.Errorf("unexpected path %q", path)
	}
	data, ok := store.Object(path)
	if !ok || len(data) != len(raw) {
		t.Errorf("stored object mismatch: ok=%v len=%d", ok, len(data))
	}
}

func TestSavePreviewImageJpeg(t *testing.T) {
	store := NewMemory()
	value := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8})
	path, err := store.SavePreviewImage(context.Background(), value, docstore.Annotation, "ann1")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if path != "previews/annotation/ann1.jpeg" {
		t.Errorf("unexpected path %q", path)
	}
}

func TestSavePreviewImageRejectsMalformed(t *testing.T) {
	store := NewMemory()
	if _, err := store.SavePreviewImage(context.Background(), "data:image/png;base64", docstore.Entity, "x"); err == nil {
		t.Error("expected error for payload without data separator")
	}
	if _, err := store.SavePreviewImage(context.Background(), "not-a-data-url", docstore.Entity, "x"); err == nil {
		t.Error("expected error for non data url")
	}
}
