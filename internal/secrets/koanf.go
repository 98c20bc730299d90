package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of secret environment variables,
// e.g. ESCALATOR_SECRET_SLACK_APP_BOT_TOKEN.
const EnvPrefix = "ESCALATOR_SECRET_"

// KoanfSource serves secrets from a loaded koanf instance.
type KoanfSource struct {
	k *koanf.Koanf
}

// NewFileSource loads a flat YAML or JSON file of name: value pairs.
func NewFileSource(path string) (*KoanfSource, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load secrets file %s: %w", path, err)
	}
	return &KoanfSource{k: k}, nil
}

// NewEnvSource reads secrets from environment variables with EnvPrefix.
func NewEnvSource() (*KoanfSource, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load secrets from environment: %w", err)
	}
	return &KoanfSource{k: k}, nil
}

// Get returns the value of name.
func (s *KoanfSource) Get(_ context.Context, name string) (string, error) {
	if !s.k.Exists(name) {
		return "", ErrNotFound
	}
	return s.k.String(name), nil
}
