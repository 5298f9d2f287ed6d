package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} references in the raw file.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Load builds the effective configuration: defaults, then the YAML file at
// path if it exists, then environment overrides. A missing file is not an
// error so the server starts usefully before `hostbridge init` has run; an
// unreadable or invalid file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			data = substituteEnv(data)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// substituteEnv expands ${VAR} and ${VAR:-default} in the raw YAML before
// parsing. An unset variable with a default expands to the default; one
// without stays literal so the parse error points at the unresolved
// reference instead of silently emptying a field.
func substituteEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		groups := envPattern.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(v)
		}
		if groups[2] != nil {
			return groups[3]
		}
		return m
	})
}
