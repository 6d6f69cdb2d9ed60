package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/multiimport/internal/config"
)

// EnvPrefix is the prefix of environment overrides for CLI settings.
const EnvPrefix = "MULTIIMPORT_"

// DefaultConfigFiles are searched in the working directory when --config is
// not given.
var DefaultConfigFiles = []string{"multiimport.yaml", "multiimport.yml"}

// Output modes.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Settings are the resolved CLI settings.
type Settings struct {
	Catalog     string `koanf:"catalog"`
	Driver      string `koanf:"driver"`
	DatabaseURL string `koanf:"database_url"`
	SQLitePath  string `koanf:"sqlite_path"`
	Output      string `koanf:"output"`
	Format      string `koanf:"format"`
	LogLevel    string `koanf:"log_level"`
	Verbose     bool   `koanf:"verbose"`

	// ConfigFile is the file the settings were read from, if any
	ConfigFile string `koanf:"-"`
}

// Database returns the store settings.
func (s *Settings) Database() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver: s.Driver,
		URL:    s.DatabaseURL,
		Path:   s.SQLitePath,
	}
}

func defaultSettings() map[string]any {
	return map[string]any{
		"catalog":     "catalog.yaml",
		"driver":      config.DriverSQLite,
		"sqlite_path": "multiimport.db",
		"output":      OutputTable,
		"format":      "csv",
		"log_level":   "warn",
		"verbose":     false,
	}
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range DefaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// LoadSettings layers defaults, the config file, MULTIIMPORT_ environment
// variables and explicitly set flags, in increasing priority.
func LoadSettings(cfgFile string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// MULTIIMPORT_DATABASE_URL -> database_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "config" {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	s.ConfigFile = used

	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	s.Driver = strings.ToLower(s.Driver)
	switch s.Driver {
	case config.DriverPostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("--database-url is required for the postgres driver")
		}
	case config.DriverSQLite, config.DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q (use postgres, sqlite or memory)", s.Driver)
	}

	switch s.Output {
	case OutputTable, OutputJSON:
	default:
		return fmt.Errorf("unknown output %q (use table or json)", s.Output)
	}
	return nil
}
