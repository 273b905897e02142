package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/release"
	"github.com/animus-labs/animus-deploy/internal/rollback"
)

// DeployToProduction releases a stable version into the verification
// workspace. A failed run is rolled back to the previously registered
// version; the original error is returned either way.
func (o *Orchestrator) DeployToProduction(ctx context.Context, opts ProductionOptions) (domain.DeploymentRecord, error) {
	target := lease.Key{Account: o.cfg.ProductionAccount, Workspace: o.cfg.VerificationWorkspace}
	r, err := o.begin(ctx, domain.EnvironmentProduction, target, o.cfg.ProductionStepTimeout)
	if err != nil {
		return domain.DeploymentRecord{}, err
	}
	r.force = opts.Force
	r.emergency = opts.Emergency
	if opts.Emergency {
		r.log("Emergency deployment")
	}
	if opts.Force {
		r.log("Force enabled")
	}

	list := []step{
		r.gateStep(checkReadiness, PhaseValidating, o.gate.ValidateProductionReadiness),
		r.gateStep(checkCompliance, PhaseValidating, o.gate.CheckSecurityCompliance),
		{name: "prerequisites", phase: PhaseValidating, kind: domain.KindValidationFailed, run: r.checkPlatform},
		{name: stepAcquireLease, phase: PhaseValidating, kind: domain.KindLeaseUnavailable, run: r.acquireLease},
		{name: "authenticate", phase: PhaseAuthenticating, kind: domain.KindAuthenticationFailed, run: r.authenticate},
		{name: "use_workspace", phase: PhaseAuthenticating, kind: domain.KindAuthenticationFailed, run: r.useWorkspace},
		r.gateStep(checkManifest, PhaseValidating, o.gate.ValidateManifest),
		r.gateStep(checkDependencies, PhaseValidating, o.gate.CheckDependencies),
		r.gateStep(checkSecurityScan, PhaseValidating, o.gate.SecurityScan),
	}
	switch {
	case opts.SkipTests && opts.Emergency:
		r.log("Full test suite skipped for emergency deployment")
	default:
		if opts.SkipTests {
			r.log("Skip tests ignored: only honoured for emergency deployments")
		}
		list = append(list, r.gateStep(testCheck(boundary.TestScopeFull), PhaseValidating, func(ctx context.Context) (boundary.GateResult, error) {
			return o.gate.RunTests(ctx, boundary.TestScopeFull)
		}))
	}
	list = append(list,
		step{name: "derive_version", phase: PhaseReleasing, kind: domain.KindValidationFailed, run: func(ctx context.Context) error {
			requested := opts.Version
			if requested == "" {
				requested = r.baseVersion(ctx)
			}
			r.record.Version = release.StableVersion(requested)
			r.logger = r.logger.With("version", r.record.Version)
			r.log("Stable version %s (requested %s)", r.record.Version, requested)
			return nil
		}},
		step{name: "approval", phase: PhaseReleasing, kind: domain.KindCancelled, run: func(ctx context.Context) error {
			return r.approve(ctx, opts.AutoApprove)
		}},
		step{name: "release", phase: PhaseReleasing, kind: domain.KindReleaseFailed, run: r.publish(release.StableTag)},
		step{name: "install", phase: PhaseInstalling, kind: domain.KindInstallFailed, run: r.install},
		r.gateStep(testCheck(boundary.TestScopeSmoke), PhaseVerifying, func(ctx context.Context) (boundary.GateResult, error) {
			return o.gate.RunTests(ctx, boundary.TestScopeSmoke)
		}),
		step{name: "verify", phase: PhaseVerifying, kind: domain.KindVerificationFailed, run: r.verifyInstalled(true)},
	)

	err = r.steps(ctx, list)
	if err != nil && r.held != nil && shouldRollback(err) {
		r.autoRollback(ctx, err, opts.Emergency)
	}
	return r.finish(ctx, err)
}

func (r *run) approve(ctx context.Context, auto bool) error {
	if auto {
		r.log("Release of %s auto-approved", r.record.Version)
		return nil
	}
	ok, err := r.o.approver.Approve(ctx, ApprovalRequest{
		DeploymentID: r.record.ID,
		Environment:  r.record.Environment,
		Version:      r.record.Version,
		Workspace:    r.record.Workspace,
		Reason:       fmt.Sprintf("release %s to %s", r.record.Version, r.record.Environment),
	})
	if err != nil {
		return domain.NewError(domain.KindValidationFailed, "approval", fmt.Errorf("approval: %w", err))
	}
	if !ok {
		return domain.Errorf(domain.KindCancelled, "approval", "deployment not approved")
	}
	r.log("Release of %s approved", r.record.Version)
	return nil
}

// shouldRollback excludes cancelled runs. Runs that never held the lease
// have not touched the workspace and are not rolled back either.
func shouldRollback(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindCancelled, domain.KindLeaseUnavailable:
		return false
	default:
		return true
	}
}

// autoRollback reverts the verification workspace after cause. Its own
// failures are logged on the record and never replace cause.
func (r *run) autoRollback(ctx context.Context, cause error, emergency bool) {
	r.phase = PhaseRollingBack
	r.log("[%s] auto_rollback", PhaseRollingBack)
	if r.o.rollback == nil {
		r.log("Auto-rollback skipped: no rollback subsystem configured")
		return
	}

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cfg.RollbackTimeout)
	defer cancel()

	if !r.authenticated {
		if err := r.authenticate(rbCtx); err != nil {
			r.rollbackFailed(err)
			return
		}
		if err := r.useWorkspace(rbCtx); err != nil {
			r.rollbackFailed(err)
			return
		}
	}
	history, err := r.o.platform.GetAppVersions(rbCtx, r.o.cfg.App)
	if err != nil {
		r.rollbackFailed(fmt.Errorf("list versions: %w", err))
		return
	}
	prev := previousVersion(history, r.released)
	if prev == "" || (r.released && prev == r.record.Version) {
		r.log("Auto-rollback skipped: no previous version")
		return
	}
	r.record.RollbackVersion = prev
	r.log("Rolling back to %s", prev)
	r.save(ctx)

	out, err := r.o.rollback.Rollback(rbCtx, rollback.Request{
		TargetVersion: prev,
		Environment:   r.record.Environment,
		Reason:        fmt.Sprintf("deployment %s failed: %v", r.record.ID, cause),
		DeploymentID:  r.record.ID,
		Emergency:     emergency,
		Workspace:     r.target.Workspace,
		Account:       r.target.Account,
		LeaseHeld:     true,
		Trigger:       rollback.TriggerAuto,
	})
	if err != nil {
		r.rollbackFailed(err)
		return
	}
	r.log("Auto-rollback completed")
	r.logger.Info("auto-rollback completed", "rollback_version", out.CurrentVersion, "duration", out.Duration.Round(time.Millisecond))
}

func (r *run) rollbackFailed(err error) {
	r.log("Auto-rollback failed: %v", err)
	r.logger.Error("auto-rollback failed", "error", err)
}

// previousVersion picks the version to return to. Once the new version is
// registered that is the second-most-recent entry; before that it is the
// most recent one.
func previousVersion(history []boundary.AppVersion, released bool) string {
	if released {
		prev, _ := boundary.PreviousVersion(history)
		return prev
	}
	if len(history) == 0 {
		return ""
	}
	for _, v := range history {
		if v.ReleasedAt.IsZero() {
			return history[len(history)-1].Version
		}
	}
	sorted := make([]boundary.AppVersion, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReleasedAt.After(sorted[j].ReleasedAt)
	})
	return sorted[0].Version
}
