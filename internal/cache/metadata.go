package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

// Reserved metadata keys carrying a base64-encoded JSON object, in merge
// order: keys decoded from a later entry win.
var base64JSONKeys = []string{"json-base-64", "json-base64"}

// NormalizeMetadata expands base64 JSON fields into plain keys. Decoded keys
// override plain keys of the same name. A field that fails to decode is
// dropped and logged.
func NormalizeMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		if !slices.Contains(base64JSONKeys, key) {
			out[key] = value
		}
	}

	for _, key := range base64JSONKeys {
		value, ok := metadata[key]
		if !ok {
			continue
		}
		decoded, err := decodeBase64JSON(value)
		if err != nil {
			slog.Warn("metadata_decode_failed",
				slog.String("code", cerrors.ErrCodeMetadataDecode),
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		maps.Copy(out, decoded)
	}
	return out
}

func decodeBase64JSON(value string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}
