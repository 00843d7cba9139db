// Package audit routes classified failure events to the handlers that deal
// with them.
package audit

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"ecommerce/internal/events"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule matches audit events by source, detail type and attribute values.
// An empty list matches anything; every listed attribute must hold one of
// its accepted values.
type Rule struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Source      []string            `yaml:"source"`
	DetailType  []string            `yaml:"detailType"`
	Detail      map[string][]string `yaml:"detail"`
	Target      string              `yaml:"target"`
}

func (r Rule) Matches(e events.AuditEvent) bool {
	if len(r.Source) > 0 && !slices.Contains(r.Source, e.Source) {
		return false
	}
	if len(r.DetailType) > 0 && !slices.Contains(r.DetailType, e.DetailType) {
		return false
	}
	for attr, accepted := range r.Detail {
		v, ok := e.Attributes[attr]
		if !ok || !slices.Contains(accepted, v) {
			return false
		}
	}
	return true
}

type RuleSet struct {
	Rules   []Rule `yaml:"rules"`
	Archive struct {
		Source []string `yaml:"source"`
	} `yaml:"archive"`
}

// LoadRules reads a rule file. An empty path yields the built-in rules.
func LoadRules(path string) (RuleSet, error) {
	data := defaultRules
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return RuleSet{}, fmt.Errorf("read audit rules: %w", err)
		}
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse audit rules: %w", err)
	}
	for i, r := range rs.Rules {
		if r.Target == "" {
			return RuleSet{}, fmt.Errorf("audit rule %d (%s) has no target", i, r.Name)
		}
	}
	return rs, nil
}
