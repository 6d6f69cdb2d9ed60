// Package catalog loads model and entity definitions from a YAML file.
//
// Values are layered with koanf: built-in defaults, then the file, then
// MULTIIMPORT_ environment variables. Environment keys use "__" for nesting,
// so MULTIIMPORT_SETTINGS__CAN_UPDATE=false overrides settings.can_update.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MULTIIMPORT_"

// DefaultFileNames are searched, in order, when no path is given.
var DefaultFileNames = []string{"catalog.yaml", "catalog.yml"}

// File is the decoded catalog file.
type File struct {
	Settings Settings     `koanf:"settings"`
	Models   []ModelSpec  `koanf:"models"`
	Entities []EntitySpec `koanf:"entities"`
}

// Settings apply to every entity unless the entity overrides them.
type Settings struct {
	CanUpdate      bool     `koanf:"can_update"`
	RelatedLookups []string `koanf:"related_lookups"`
}

type ModelSpec struct {
	Name       string         `koanf:"name"`
	Fields     []FieldSpec    `koanf:"fields"`
	Properties []PropertySpec `koanf:"properties"`
}

type FieldSpec struct {
	Name       string   `koanf:"name"`
	Kind       string   `koanf:"kind"` // scalar (default), to_one, to_many
	Type       string   `koanf:"type"` // text (default), enum, date, numeric, bool, integer
	Related    string   `koanf:"related"`
	Required   bool     `koanf:"required"`
	Unique     bool     `koanf:"unique"`
	Enum       []string `koanf:"enum"`
	Normalizer string   `koanf:"normalizer"`
}

// PropertySpec defines a computed attribute joining other attributes.
type PropertySpec struct {
	Name      string   `koanf:"name"`
	Concat    []string `koanf:"concat"`
	Separator string   `koanf:"separator"`
}

type EntitySpec struct {
	Key          string            `koanf:"key"`
	Model        string            `koanf:"model"`
	IDColumn     string            `koanf:"id_column"`
	CanUpdate    *bool             `koanf:"can_update"`
	LockedWhen   map[string]string `koanf:"locked_when"` // Attribute values that block updates
	LookupFields [][]string        `koanf:"lookup_fields"`
	Mappings     []MappingSpec     `koanf:"mappings"`
}

type MappingSpec struct {
	Column       string   `koanf:"column"`
	Field        string   `koanf:"field"`
	ReadOnly     bool     `koanf:"read_only"`
	LookupFields []string `koanf:"lookup_fields"`
	Pass         int      `koanf:"pass"`
}

func defaults() map[string]any {
	return map[string]any{
		"settings.can_update":      true,
		"settings.related_lookups": []string{"universal_id", "pk", "title", "name", "text"},
	}
}

// FindFile returns the first default catalog file in dir, or "".
func FindFile(dir string) string {
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads the catalog file at path. An empty path searches the working
// directory for a default file name.
func Load(path string) (*File, error) {
	if path == "" {
		path = FindFile(".")
		if path == "" {
			return nil, fmt.Errorf("no catalog file found (looked for %s)", strings.Join(DefaultFileNames, ", "))
		}
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading catalog file %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("unable to decode catalog %s: %w", path, err)
	}
	return &f, nil
}

// envKey maps MULTIIMPORT_SETTINGS__CAN_UPDATE to settings.can_update.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
