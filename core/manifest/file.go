package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/apiforge/core/schema"
	"gopkg.in/yaml.v3"
)

// Format is the serialization of a schema file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf returns the format implied by a file extension. Unknown
// extensions are read as YAML, which also accepts JSON.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadFile reads, decodes and loads a schema file.
func LoadFile(path string) (schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.Document{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	return LoadBytes(data, FormatOf(path))
}

// LoadBytes decodes data in the given format and loads it.
func LoadBytes(data []byte, format Format) (schema.Document, error) {
	raw, err := Decode(data, format)
	if err != nil {
		return schema.Document{}, err
	}
	return Load(raw)
}

// Decode turns serialized bytes into the generic form Load consumes.
func Decode(data []byte, format Format) (map[string]any, error) {
	var raw map[string]any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	return raw, nil
}
