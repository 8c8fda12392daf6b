// Package imagestore persists embedded preview-image payloads and hands back
// the stored path the document keeps in their place.
package imagestore

import (
	"encoding/base64"
	"fmt"
	"strings"

	"tessera/api/internal/docstore"
)

// IsPayload reports whether value is an embedded image payload (a data URL)
// rather than an already-stored path or external URL.
func IsPayload(value string) bool {
	return strings.HasPrefix(value, "data:")
}

// payload is a decoded data URL.
type payload struct {
	data        []byte
	contentType string
	ext         string
}

func decodeDataURL(value string) (payload, error) {
	rest, ok := strings.CutPrefix(value, "data:")
	if !ok {
		return payload{}, fmt.Errorf("not a data url")
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return payload{}, fmt.Errorf("malformed data url")
	}
	contentType := "image/png"
	if mt, _, found := strings.Cut(meta, ";"); found && mt != "" {
		contentType = mt
	} else if meta != "" && !strings.Contains(meta, ";") {
		contentType = meta
	}

	var (
		data []byte
		err  error
	)
	if strings.Contains(meta, "base64") {
		data, err = base64.StdEncoding.DecodeString(encoded)
	} else {
		data = []byte(encoded)
	}
	if err != nil {
		return payload{}, fmt.Errorf("decode data url: %w", err)
	}

	ext := "png"
	if _, sub, found := strings.Cut(contentType, "/"); found && sub != "" {
		ext = sub
	}
	return payload{data: data, contentType: contentType, ext: ext}, nil
}

func objectName(kind docstore.Kind, ownerID, ext string) string {
	return fmt.Sprintf("previews/%s/%s.%s", kind, ownerID, ext)
}
