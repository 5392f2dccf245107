// Package projects resolves per-project BouncerConfig from YAML files and
// the database.
package projects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Source looks up a project's config. Unknown projects return an error
// matching domain.ErrConfigMissing.
type Source interface {
	GetBouncerConfig(ctx context.Context, projectID string) (*domain.BouncerConfig, error)
}

// Validate checks required fields and the contract address format.
func Validate(cfg *domain.BouncerConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid bouncer config %q: %s", cfg.ProjectID, strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// LoadFile reads one YAML config. A missing project_id defaults to the file
// name without extension.
func LoadFile(path string) (*domain.BouncerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(raw, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// Parse decodes YAML into a validated config. Unknown keys are rejected.
func Parse(raw []byte, defaultID string) (*domain.BouncerConfig, error) {
	var cfg domain.BouncerConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode bouncer config: %w", err)
	}
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	if cfg.ProjectID == "" {
		cfg.ProjectID = defaultID
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders a config as YAML.
func Marshal(cfg *domain.BouncerConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Chain queries sources in order and returns the first hit.
type Chain []Source

// GetBouncerConfig implements Source.
func (c Chain) GetBouncerConfig(ctx context.Context, projectID string) (*domain.BouncerConfig, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		cfg, err := src.GetBouncerConfig(ctx, projectID)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, domain.ErrConfigMissing) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrConfigMissing)
}

func isConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
