package kb

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

type seedCatalog struct {
	Patterns []VulnerabilityPattern `yaml:"patterns"`
	Rules    []ComplianceRule       `yaml:"rules"`
}

// SeedCatalog returns the built-in pattern and rule catalog. The catalog is
// parsed fresh on each call so callers can mutate their copy.
func SeedCatalog() ([]VulnerabilityPattern, []ComplianceRule, error) {
	var cat seedCatalog
	if err := yaml.Unmarshal(seedYAML, &cat); err != nil {
		return nil, nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	for _, p := range cat.Patterns {
		if err := p.Validate(); err != nil {
			return nil, nil, fmt.Errorf("seed catalog: %w", err)
		}
	}
	return cat.Patterns, cat.Rules, nil
}

// Seed loads the built-in catalog into a store. Patterns already present are
// left untouched, so re-seeding an evolved knowledge base never resets
// learned confidence weights.
func Seed(s Store) error {
	patterns, rules, err := SeedCatalog()
	if err != nil {
		return err
	}
	for _, p := range patterns {
		if err := s.PutPattern(p); err != nil && !errors.Is(err, ErrPatternExists) {
			return err
		}
	}
	for _, r := range rules {
		existing, err := s.QueryRules(r.AssetType)
		if err != nil {
			return err
		}
		known := false
		for _, e := range existing {
			if e.RuleID == r.RuleID {
				known = true
				break
			}
		}
		if known {
			continue
		}
		if err := s.PutRule(r); err != nil {
			return err
		}
	}
	return nil
}
