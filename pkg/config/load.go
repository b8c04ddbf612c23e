package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/mcphub/hub/pkg/errs"
)

// Load reads, env-expands, parses, and validates the config file at path.
// YAML (.yaml/.yml) is parsed directly; .json/.jsonc is first standardized
// by hujson (which strips // and /* */ comments and trailing commas) and
// then decoded as JSON, so either format may use comments.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "reading config file "+path)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errs.Wrap(errs.KindConfig, err, "parsing yaml config")
		}
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(expanded)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, err, "parsing jsonc config")
		}
		if err := yaml.Unmarshal(standardized, &cfg); err != nil {
			return nil, errs.Wrap(errs.KindConfig, err, "parsing json config")
		}
	default:
		return nil, errs.New(errs.KindConfig, "unsupported config file extension: "+ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envRefPattern matches ${VAR}, ${VAR:-default}, ${VAR:?required},
// and ${env:VAR} (spec §6 "Environment-variable references").
var envRefPattern = regexp.MustCompile(`\$\{(env:)?([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*|:\?[^}]*)?\}`)

// expandEnv resolves every env-var reference in data, per spec §6.
// ${VAR} and ${env:VAR} resolve to the environment value or empty string.
// ${VAR:-default} falls back to default when VAR is unset or empty.
// ${VAR:?message} fails Load with message when VAR is unset or empty.
func expandEnv(data []byte) ([]byte, error) {
	var firstErr error
	out := envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if firstErr != nil {
			return match
		}
		groups := envRefPattern.FindSubmatch(match)
		name := string(groups[2])
		modifier := string(groups[3])

		value, set := os.LookupEnv(name)
		switch {
		case strings.HasPrefix(modifier, ":-"):
			if !set || value == "" {
				return []byte(modifier[2:])
			}
		case strings.HasPrefix(modifier, ":?"):
			if !set || value == "" {
				msg := modifier[2:]
				if msg == "" {
					msg = name + " is required"
				}
				firstErr = errs.New(errs.KindConfig, msg)
				return match
			}
		}
		return []byte(value)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
