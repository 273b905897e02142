package policy

import "testing"

func TestDefaultPolicyValid(t *testing.T) {
	spec := Default()
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestDefaultPolicyProductionStrict(t *testing.T) {
	spec := Default()
	cases := []struct {
		name string
		ctx  Context
		want string
	}{
		{"readiness forced", Context{Environment: "production", Gate: "production_readiness", Status: "fail", Force: true}, EffectDeny},
		{"compliance forced", Context{Environment: "production", Gate: "security_compliance", Status: "fail", Force: true}, EffectDeny},
		{"readiness emergency", Context{Environment: "production", Gate: "production_readiness", Status: "fail", Emergency: true}, EffectAllow},
		{"scan forced", Context{Environment: "production", Gate: "security_scan", Status: "fail", Force: true}, EffectRequireApproval},
		{"scan emergency", Context{Environment: "production", Gate: "security_scan", Status: "fail", Emergency: true}, EffectRequireApproval},
		{"scan not forced", Context{Environment: "production", Gate: "security_scan", Status: "fail"}, EffectDeny},
		{"manifest forced prod", Context{Environment: "production", Gate: "manifest", Status: "fail", Force: true}, EffectDeny},
		{"full tests forced prod", Context{Environment: "production", Gate: "full_tests", Status: "fail", Force: true}, EffectDeny},
		{"smoke tests emergency", Context{Environment: "production", Gate: "smoke_tests", Status: "fail", Emergency: true}, EffectDeny},
		{"smoke tests forced emergency", Context{Environment: "production", Gate: "smoke_tests", Status: "fail", Force: true, Emergency: true}, EffectDeny},
		{"qa emergency alone", Context{Environment: "qa", Gate: "unit_tests", Status: "fail", Emergency: true}, EffectDeny},
		{"manifest not forced", Context{Environment: "qa", Gate: "manifest", Status: "fail"}, EffectDeny},
		{"qa tests forced", Context{Environment: "qa", Gate: "unit_tests", Status: "fail", Force: true}, EffectAllow},
	}
	for _, tc := range cases {
		decision, err := Evaluate(spec, tc.ctx)
		if err != nil {
			t.Fatalf("%s: Evaluate() err=%v", tc.name, err)
		}
		if decision.Effect != tc.want {
			t.Fatalf("%s: Effect=%s (rule %s), want %s", tc.name, decision.Effect, decision.RuleID, tc.want)
		}
	}
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	inputs := map[string]string{
		"schema":        "schema: other\nrules:\n  - id: a\n    effect: allow\n    when:\n      all:\n        - {field: gate, op: eq, value: x}\n",
		"no rules":      "schema: animus.deploy.gate_policy.v1\nrules: []\n",
		"bad op":        "schema: animus.deploy.gate_policy.v1\nrules:\n  - id: a\n    effect: allow\n    when:\n      all:\n        - {field: gate, op: gt, value: x}\n",
		"duplicate":     "schema: animus.deploy.gate_policy.v1\nrules:\n  - id: a\n    effect: allow\n    when:\n      any:\n        - {field: force, op: exists}\n  - id: a\n    effect: deny\n    when:\n      any:\n        - {field: force, op: exists}\n",
		"unknown field": "schema: animus.deploy.gate_policy.v1\nrules:\n  - id: a\n    effect: allow\n    when:\n      all:\n        - {field: actor, op: eq, value: x}\n",
		"bool value":    "schema: animus.deploy.gate_policy.v1\nrules:\n  - id: a\n    effect: allow\n    when:\n      all:\n        - {field: force, op: eq, value: yes}\n",
		"bad regexp":    "schema: animus.deploy.gate_policy.v1\nrules:\n  - id: a\n    effect: allow\n    when:\n      all:\n        - {field: gate, op: matches, value: \"(\"}\n",
		"no values":     "schema: animus.deploy.gate_policy.v1\nrules:\n  - id: a\n    effect: allow\n    when:\n      all:\n        - {field: gate, op: in}\n",
	}
	for name, input := range inputs {
		if _, err := ParseSpec([]byte(input)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEvaluateLabelsAndDefault(t *testing.T) {
	spec := Spec{
		Schema:        SpecSchemaV1,
		DefaultEffect: EffectAllow,
		Rules: []Rule{
			{
				ID:     "deny-frozen",
				Effect: EffectDeny,
				When: ConditionGroup{
					All: []Condition{{Field: "labels.freeze", Op: "eq", Value: "true"}},
				},
			},
		},
	}
	decision, err := Evaluate(spec, Context{Gate: "manifest", Labels: map[string]string{"freeze": "true"}})
	if err != nil || decision.Effect != EffectDeny || decision.RuleID != "deny-frozen" {
		t.Fatalf("decision=%+v err=%v", decision, err)
	}
	decision, err = Evaluate(spec, Context{Gate: "manifest"})
	if err != nil || !decision.Allowed() || decision.Reason != "default" {
		t.Fatalf("decision=%+v err=%v", decision, err)
	}
}
