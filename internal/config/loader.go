package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// PathEnv names the variable holding the config file path.
const PathEnv = "FEDRECORDS_CONFIG"

// DefaultPath is read when PathEnv is unset and the file exists.
const DefaultPath = "./fedrecords.yaml"

// Load builds the configuration from the file named by PathEnv (or
// DefaultPath), environment variables and env-default tags, in increasing
// order of precedence for the latter two over the file. A path set through
// PathEnv must exist; the default one may be absent.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv(PathEnv)
	explicit = explicit && path != ""
	if !explicit {
		path = DefaultPath
	}
	return load(path, explicit)
}

func load(path string, required bool) (*Config, error) {
	var cfg Config

	_, err := os.Stat(path)
	switch {
	case err == nil:
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	case required || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config: %w", err)
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}
