package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const overrideEnv = "LASTAGENT_SET"

// ApplyOverrides applies key.path=value assignments to raw config JSON.
// Values that parse as JSON scalars keep their type; everything else is a
// string, so council.quorum=3 yields a number and storage.driver=mysql a
// string.
func ApplyOverrides(raw []byte, sets []string) ([]byte, error) {
	out := raw
	for _, set := range sets {
		set = strings.TrimSpace(set)
		if set == "" {
			continue
		}
		key, value, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q: want key.path=value", set)
		}
		var err error
		out, err = sjson.SetBytes(out, key, overrideValue(value))
		if err != nil {
			return nil, fmt.Errorf("apply override %q: %w", set, err)
		}
	}
	return out, nil
}

// CollectOverrides merges -set flag values with the LASTAGENT_SET environment
// variable (comma-separated); flags win by applying last.
func CollectOverrides(flagSets []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(overrideEnv), ",") {
		if strings.TrimSpace(part) != "" {
			out = append(out, strings.TrimSpace(part))
		}
	}
	out = append(out, flagSets...)
	return out
}

func overrideValue(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	parsed := gjson.Parse(trimmed)
	switch parsed.Type {
	case gjson.Number, gjson.True, gjson.False, gjson.Null:
		if parsed.Raw == trimmed {
			return parsed.Value()
		}
	case gjson.JSON:
		if gjson.Valid(trimmed) {
			return parsed.Value()
		}
	}
	return trimmed
}
