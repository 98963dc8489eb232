// Package merge consolidates partial records about the same entity from several sources into
// one record, field by field, using a fixed per-category strategy table.
package merge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pharmaintel/hub/internal/models"
)

//go:embed merge_config.yaml
var defaultConfigYAML []byte

// Configuration errors.
var (
	ErrUnknownCategory = errors.New("no merge configuration for category")
	ErrInvalidConfig   = errors.New("invalid merge configuration")
)

// FieldConfig is the merge rule for one field. Priority overrides the default source
// priority for source_priority fields.
type FieldConfig struct {
	Strategy      models.MergeStrategy `yaml:"strategy"`
	Priority      []models.SourceType  `yaml:"priority"`
	AllowNegative bool                 `yaml:"allow_negative"`
}

// CategoryConfig lists the configured fields of one category.
type CategoryConfig struct {
	Fields map[string]FieldConfig `yaml:"fields"`
}

// Config is the full strategy table.
type Config struct {
	SourcePriority []models.SourceType        `yaml:"source_priority"`
	Categories     map[string]CategoryConfig `yaml:"categories"`
}

// DefaultConfig returns the embedded strategy table.
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultConfigYAML)
}

// LoadConfig reads a strategy table from path, or the embedded one when path is empty.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read merge config: %w", err)
	}

	return ParseConfig(raw)
}

// ParseConfig decodes and validates a YAML strategy table.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if len(cfg.SourcePriority) == 0 {
		cfg.SourcePriority = []models.SourceType{
			models.SourcePaidAPI, models.SourceGovernment, models.SourcePeerReviewed,
			models.SourceIndustry, models.SourceCompany, models.SourceNews, models.SourceUnknown,
		}
	}

	for category, cc := range cfg.Categories {
		for field, fc := range cc.Fields {
			if _, ok := strategies[fc.Strategy]; !ok {
				return nil, fmt.Errorf("%w: %s.%s has unknown strategy %q", ErrInvalidConfig, category, field, fc.Strategy)
			}
		}
	}

	return &cfg, nil
}

func (c *Config) category(name string) (CategoryConfig, error) {
	cc, ok := c.Categories[name]
	if !ok {
		return CategoryConfig{}, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}

	return cc, nil
}

// field returns the rule for a field, defaulting to highest_confidence.
func (cc CategoryConfig) field(name string) FieldConfig {
	if fc, ok := cc.Fields[name]; ok {
		return fc
	}

	return FieldConfig{Strategy: models.MergeHighestConfidence}
}
