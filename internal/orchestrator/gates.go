package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/platform/policy"
)

// Gate check names, as seen by the override policy.
const (
	checkManifest     = "manifest"
	checkDependencies = "dependencies"
	checkSecurityScan = "security_scan"
	checkReadiness    = "production_readiness"
	checkCompliance   = "security_compliance"
)

func testCheck(scope boundary.TestScope) string {
	return string(scope) + "_tests"
}

type gateFunc func(ctx context.Context) (boundary.GateResult, error)

// gateStep wraps a validation check. Warnings proceed; failures are decided
// by the override policy.
func (r *run) gateStep(name string, phase Phase, check gateFunc) step {
	return step{
		name:  name,
		phase: phase,
		kind:  domain.KindValidationFailed,
		run: func(ctx context.Context) error {
			res, err := check(ctx)
			if err != nil {
				return fmt.Errorf("%s check: %w", name, err)
			}
			return r.decide(ctx, name, res)
		},
	}
}

func (r *run) decide(ctx context.Context, name string, res boundary.GateResult) error {
	switch res.Status {
	case boundary.GatePass:
		r.log("%s passed", name)
		return nil
	case boundary.GateWarn:
		r.log("%s passed with warnings: %s", name, strings.Join(res.Issues, "; "))
		r.logger.Warn("gate warning", "step", name, "issues", res.Issues)
		return nil
	}

	failure := fmt.Sprintf("%s failed", name)
	if len(res.Issues) > 0 {
		failure += ": " + strings.Join(res.Issues, "; ")
	}
	decision, err := policy.Evaluate(r.o.policy, policy.Context{
		Environment: string(r.record.Environment),
		Gate:        name,
		Status:      string(res.Status),
		Force:       r.force,
		Emergency:   r.emergency,
		Issues:      res.Issues,
		Labels: map[string]string{
			"app":    r.o.cfg.App,
			"branch": r.branch,
		},
	})
	if err != nil {
		return domain.NewError(domain.KindValidationFailed, name, fmt.Errorf("evaluate gate policy: %w", err))
	}

	switch decision.Effect {
	case policy.EffectAllow:
		r.log("%s overridden by policy rule %s", failure, decision.RuleID)
		r.logger.Warn("gate failure overridden", "step", name, "rule", decision.RuleID, "issues", res.Issues)
		return nil
	case policy.EffectRequireApproval:
		ok, err := r.o.approver.Approve(ctx, ApprovalRequest{
			DeploymentID: r.record.ID,
			Environment:  r.record.Environment,
			Version:      r.record.Version,
			Workspace:    r.record.Workspace,
			Reason:       "override " + failure,
		})
		if err != nil {
			return domain.NewError(domain.KindValidationFailed, name, fmt.Errorf("override approval: %w", err))
		}
		if !ok {
			return domain.Errorf(domain.KindValidationFailed, name, failure+" (override not approved)")
		}
		r.log("%s overridden after approval (rule %s)", failure, decision.RuleID)
		return nil
	default:
		return domain.Errorf(domain.KindValidationFailed, name, failure)
	}
}
