package codec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/faciam-dev/cssync/internal/registry"
)

const currentVersion = "1"

type mappingFile struct {
	Version  string                  `yaml:"version"`
	Source   registry.Kind           `yaml:"source"`
	Mappings []registry.FieldMapping `yaml:"mappings"`
}

// EncodeYAML renders the mapping set of kind.
func EncodeYAML(kind registry.Kind, ms []registry.FieldMapping) ([]byte, error) {
	out := make([]registry.FieldMapping, len(ms))
	for i, m := range ms {
		m.SourceKind = ""
		out[i] = m
	}
	return yaml.Marshal(mappingFile{Version: currentVersion, Source: kind, Mappings: out})
}

// DecodeYAML parses a mapping file. Mappings inherit the file's source kind and
// default to enabled when the flag is omitted.
func DecodeYAML(b []byte) (registry.Kind, []registry.FieldMapping, error) {
	var raw struct {
		Version string                  `yaml:"version"`
		Source  string                  `yaml:"source"`
		Items   []registry.FieldMapping `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return "", nil, err
	}
	if raw.Version != "" && raw.Version != currentVersion {
		return "", nil, fmt.Errorf("unsupported mapping file version %q", raw.Version)
	}
	kind, err := registry.ParseKind(raw.Source)
	if err != nil {
		return "", nil, err
	}

	var flags struct {
		Mappings []struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(b, &flags); err != nil {
		return "", nil, err
	}
	for i := range raw.Items {
		if raw.Items[i].SourceKind == "" {
			raw.Items[i].SourceKind = kind
		}
		if i < len(flags.Mappings) && flags.Mappings[i].Enabled == nil {
			raw.Items[i].Enabled = true
		}
	}
	if err := registry.Validate(raw.Items); err != nil {
		return "", nil, err
	}
	return kind, raw.Items, nil
}
