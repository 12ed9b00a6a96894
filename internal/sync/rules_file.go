package sync

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads a rule seed from a YAML (or JSON) file:
//
//	rules:
//	  - entity_type: Receipt
//	    resolution: LocalWins
//	  - entity_type: Customer
//	    property: PointsBalance
//	    resolution: Manual
//	    require_manual_review: true
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a rule seed document
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	seen := make(map[ruleKey]bool, len(f.Rules))
	for i, r := range f.Rules {
		if r.EntityType == "" {
			return nil, ErrInvalidArgument.WithMessagef("rule %d: entity_type is required", i)
		}
		if !r.DefaultResolution.Valid() {
			return nil, ErrInvalidResolution.WithMessagef("rule %d (%s): unknown resolution %q", i, r.EntityType, r.DefaultResolution)
		}
		if seen[r.key()] {
			return nil, ErrInvalidArgument.WithMessagef("rule %d: duplicate rule for %s/%s", i, r.EntityType, r.PropertyName)
		}
		seen[r.key()] = true
	}
	if len(f.Rules) == 0 {
		return nil, ErrInvalidArgument.WithMessage("rules file contains no rules")
	}
	return f.Rules, nil
}
