package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const SpecSchemaV1 = "animus.deploy.gate_policy.v1"

const (
	EffectAllow           = "allow"
	EffectDeny            = "deny"
	EffectRequireApproval = "require_approval"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

type Spec struct {
	Schema        string `json:"schema" yaml:"schema"`
	DefaultEffect string `json:"default_effect,omitempty" yaml:"default_effect,omitempty"`
	Rules         []Rule `json:"rules" yaml:"rules"`
}

type Rule struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      string         `json:"effect" yaml:"effect"`
	When        ConditionGroup `json:"when" yaml:"when"`
}

type ConditionGroup struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

type Condition struct {
	Field  string   `json:"field" yaml:"field"`
	Op     string   `json:"op" yaml:"op"`
	Value  string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Default returns the built-in gate policy.
func Default() Spec {
	spec, err := ParseSpec(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded gate policy invalid: %v", err))
	}
	return spec
}

// Load reads a policy file, falling back to Default when path is empty.
func Load(path string) (Spec, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read gate policy: %w", err)
	}
	return ParseSpec(data)
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks the rule set against the fields and operators a gate
// Context can answer.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("schema must be %q", SpecSchemaV1)
	}
	if len(s.Rules) == 0 {
		return errors.New("rules must be non-empty")
	}
	if s.DefaultEffect != "" && normalizeEffect(s.DefaultEffect) == "" {
		return fmt.Errorf("default_effect unsupported: %q", s.DefaultEffect)
	}

	seen := make(map[string]struct{}, len(s.Rules))
	for i, rule := range s.Rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return fmt.Errorf("rules[%d]: id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("rules[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		if normalizeEffect(rule.Effect) == "" {
			return fmt.Errorf("rule %s: effect unsupported: %q", id, rule.Effect)
		}
		if len(rule.When.All) == 0 && len(rule.When.Any) == 0 {
			return fmt.Errorf("rule %s: when needs all or any", id)
		}
		for _, cond := range append(append([]Condition{}, rule.When.All...), rule.When.Any...) {
			if err := cond.validate(); err != nil {
				return fmt.Errorf("rule %s: %w", id, err)
			}
		}
	}
	return nil
}

func (c Condition) validate() error {
	field := strings.ToLower(strings.TrimSpace(c.Field))
	switch {
	case field == "":
		return errors.New("condition field is required")
	case strings.HasPrefix(field, "labels."):
	default:
		if _, ok := gateFields[field]; !ok {
			return fmt.Errorf("unknown field %q", c.Field)
		}
	}

	switch op := strings.ToLower(strings.TrimSpace(c.Op)); op {
	case "exists":
	case "in", "not_in":
		if len(c.Values) == 0 {
			return fmt.Errorf("%s on %s needs values", op, c.Field)
		}
	case "eq", "neq":
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("%s on %s needs a value", op, c.Field)
		}
		if field == "force" || field == "emergency" {
			if _, err := strconv.ParseBool(c.Value); err != nil {
				return fmt.Errorf("%s must compare against true or false", c.Field)
			}
		}
	case "matches":
		if _, err := regexp.Compile(strings.TrimSpace(c.Value)); err != nil {
			return fmt.Errorf("matches on %s: %w", c.Field, err)
		}
	default:
		return fmt.Errorf("op %q unsupported", c.Op)
	}
	return nil
}

// gateFields are the Context fields a condition may name besides labels.*.
var gateFields = map[string]struct{}{
	"environment": {},
	"env":         {},
	"gate":        {},
	"check":       {},
	"status":      {},
	"force":       {},
	"emergency":   {},
	"issues":      {},
}
