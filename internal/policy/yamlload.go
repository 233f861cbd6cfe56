package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"invarity/internal/types"
)

// yamlBundle mirrors types.PolicyBundle for YAML authoring, where rule
// conditions are written as plain scalars/lists rather than the wire
// JSON shape.
type yamlBundle struct {
	BundleID               string                  `yaml:"bundle_id"`
	Name                   string                  `yaml:"name"`
	Version                string                  `yaml:"version"`
	Enabled                bool                    `yaml:"enabled"`
	ApplicableDomains      []string                `yaml:"applicable_domains"`
	ApplicableEnvironments []string                `yaml:"applicable_environments"`
	Jurisdictions          []string                `yaml:"jurisdictions"`
	DataClassification     []types.DataSensitivity `yaml:"data_classification"`
	ActionRestrictions     yamlActionRestrictions  `yaml:"action_restrictions"`
	Rules                  []yamlRule              `yaml:"rules"`
	DefaultEffect          types.PolicyEffect      `yaml:"default_effect"`
}

type yamlActionRestrictions struct {
	NeverAllowed          []types.ActionType `yaml:"never_allowed"`
	AlwaysRequireApproval []types.ActionType `yaml:"always_require_approval"`
}

type yamlRule struct {
	RuleID     string             `yaml:"rule_id"`
	Name       string             `yaml:"name"`
	Priority   int                `yaml:"priority"`
	Conditions []yamlCondition    `yaml:"conditions"`
	Effect     types.PolicyEffect `yaml:"effect"`
	Enabled    bool               `yaml:"enabled"`
}

type yamlCondition struct {
	Field    string                  `yaml:"field"`
	Operator types.ConditionOperator `yaml:"operator"`
	Value    any                     `yaml:"value"`
}

// LoadBundleFromFile parses one YAML policy-as-code source file into a
// types.PolicyBundle.
func LoadBundleFromFile(path string) (types.PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.PolicyBundle{}, fmt.Errorf("read %s: %w", path, err)
	}

	var yb yamlBundle
	if err := yaml.Unmarshal(data, &yb); err != nil {
		return types.PolicyBundle{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if yb.BundleID == "" {
		return types.PolicyBundle{}, fmt.Errorf("%s: bundle_id is required", path)
	}

	rules := make([]types.PolicyRule, 0, len(yb.Rules))
	for _, r := range yb.Rules {
		conditions := make([]types.PolicyCondition, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conditions = append(conditions, types.PolicyCondition{
				Field:    c.Field,
				Operator: c.Operator,
				Value:    c.Value,
			})
		}
		rules = append(rules, types.PolicyRule{
			RuleID:     r.RuleID,
			Name:       r.Name,
			Priority:   r.Priority,
			Conditions: conditions,
			Effect:     r.Effect,
			Enabled:    r.Enabled,
		})
	}

	return types.PolicyBundle{
		BundleID:               yb.BundleID,
		Name:                   yb.Name,
		Version:                yb.Version,
		Enabled:                yb.Enabled,
		ApplicableDomains:      yb.ApplicableDomains,
		ApplicableEnvironments: yb.ApplicableEnvironments,
		Jurisdictions:          yb.Jurisdictions,
		DataClassification:     yb.DataClassification,
		ActionRestrictions: types.ActionRestrictions{
			NeverAllowed:          yb.ActionRestrictions.NeverAllowed,
			AlwaysRequireApproval: yb.ActionRestrictions.AlwaysRequireApproval,
		},
		Rules:         rules,
		DefaultEffect: yb.DefaultEffect,
	}, nil
}

// LoadBundlesFromDir loads every *.yaml/*.yml file in dir as a policy
// bundle and puts each into store. Used at startup to seed a deployment
// from policy-as-code source files alongside whatever the storage
// backend already holds.
func LoadBundlesFromDir(ctx context.Context, dir string, store Store) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read policy bundles dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		bundle, err := LoadBundleFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, err
		}
		if err := store.PutBundle(ctx, bundle); err != nil {
			return loaded, fmt.Errorf("store bundle %s: %w", bundle.BundleID, err)
		}
		loaded++
	}

	return loaded, nil
}
