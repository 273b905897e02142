package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Context describes a failed gate check being considered for override.
type Context struct {
	Environment string            `json:"environment"`
	Gate        string            `json:"gate"`
	Status      string            `json:"status"`
	Force       bool              `json:"force"`
	Emergency   bool              `json:"emergency"`
	Issues      []string          `json:"issues,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

type Decision struct {
	Effect      string `json:"effect"`
	RuleID      string `json:"rule_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// Evaluate returns the effect of the first matching rule, or the default effect.
func Evaluate(spec Spec, ctx Context) (Decision, error) {
	if err := spec.Validate(); err != nil {
		return Decision{}, err
	}
	for _, rule := range spec.Rules {
		if ruleMatches(rule, ctx) {
			return Decision{
				Effect:      normalizeEffect(rule.Effect),
				RuleID:      strings.TrimSpace(rule.ID),
				Description: strings.TrimSpace(rule.Description),
				Reason:      "rule_match",
			}, nil
		}
	}

	defaultEffect := normalizeEffect(spec.DefaultEffect)
	if defaultEffect == "" {
		defaultEffect = EffectDeny
	}
	return Decision{
		Effect: defaultEffect,
		Reason: "default",
	}, nil
}

func ruleMatches(rule Rule, ctx Context) bool {
	for _, cond := range rule.When.All {
		if !conditionMatches(cond, ctx) {
			return false
		}
	}
	if len(rule.When.Any) > 0 {
		for _, cond := range rule.When.Any {
			if conditionMatches(cond, ctx) {
				return true
			}
		}
		return false
	}
	return true
}

func conditionMatches(cond Condition, ctx Context) bool {
	value, ok := ctx.Field(cond.Field)
	op := strings.ToLower(strings.TrimSpace(cond.Op))
	if op == "exists" {
		return ok
	}
	if !ok {
		return false
	}
	switch op {
	case "eq":
		return compareEqual(value, cond.Value)
	case "neq":
		return !compareEqual(value, cond.Value)
	case "in":
		return compareIn(value, cond.Values)
	case "not_in":
		return !compareIn(value, cond.Values)
	case "matches":
		return compareRegex(value, cond.Value)
	default:
		return false
	}
}

func (c Context) Field(name string) (any, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "environment", "env":
		return c.Environment, strings.TrimSpace(c.Environment) != ""
	case "gate", "check":
		return c.Gate, strings.TrimSpace(c.Gate) != ""
	case "status":
		return c.Status, strings.TrimSpace(c.Status) != ""
	case "force":
		return strconv.FormatBool(c.Force), true
	case "emergency":
		return strconv.FormatBool(c.Emergency), true
	case "issues":
		return c.Issues, len(c.Issues) > 0
	}
	if strings.HasPrefix(key, "labels.") {
		if len(c.Labels) == 0 {
			return nil, false
		}
		v, ok := c.Labels[strings.TrimPrefix(key, "labels.")]
		return v, ok
	}
	return nil, false
}

func compareEqual(value any, target string) bool {
	target = normalizeString(target)
	switch typed := value.(type) {
	case string:
		return normalizeString(typed) == target
	case []string:
		for _, item := range typed {
			if normalizeString(item) == target {
				return true
			}
		}
		return false
	default:
		return normalizeString(fmt.Sprint(value)) == target
	}
}

func compareIn(value any, targets []string) bool {
	normalized := make([]string, 0, len(targets))
	for _, target := range targets {
		if t := normalizeString(target); t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return false
	}
	switch typed := value.(type) {
	case []string:
		for _, item := range typed {
			if sliceContains(normalized, normalizeString(item)) {
				return true
			}
		}
		return false
	default:
		return sliceContains(normalized, normalizeString(fmt.Sprint(value)))
	}
}

func compareRegex(value any, pattern string) bool {
	re, err := regexp.Compile(strings.TrimSpace(pattern))
	if err != nil {
		return false
	}
	switch typed := value.(type) {
	case []string:
		for _, item := range typed {
			if re.MatchString(item) {
				return true
			}
		}
		return false
	default:
		return re.MatchString(fmt.Sprint(value))
	}
}

func sliceContains(values []string, target string) bool {
	for _, item := range values {
		if item == target {
			return true
		}
	}
	return false
}

func normalizeEffect(effect string) string {
	effect = strings.ToLower(strings.TrimSpace(effect))
	switch effect {
	case EffectAllow, EffectDeny, EffectRequireApproval:
		return effect
	default:
		return ""
	}
}

func normalizeString(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
