package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/release"
)

// DeployToQA builds a QA prerelease from the working tree, releases it with
// the beta tag and installs it into the QA workspace. Failures are never
// rolled back.
func (o *Orchestrator) DeployToQA(ctx context.Context, opts QAOptions) (domain.DeploymentRecord, error) {
	workspace := strings.TrimSpace(opts.Workspace)
	if workspace == "" {
		workspace = o.cfg.QAWorkspace
	}
	target := lease.Key{Account: o.cfg.QAAccount, Workspace: workspace}
	r, err := o.begin(ctx, domain.EnvironmentQA, target, o.cfg.QAStepTimeout)
	if err != nil {
		return domain.DeploymentRecord{}, err
	}
	r.force = opts.Force
	r.branch = strings.TrimSpace(opts.Branch)
	if opts.Force {
		r.log("Force enabled")
	}

	list := []step{
		{name: "prerequisites", phase: PhaseValidating, kind: domain.KindValidationFailed, run: r.qaPrerequisites},
		{name: "switch_branch", phase: PhaseValidating, kind: domain.KindValidationFailed, run: r.switchBranch},
		{name: stepAcquireLease, phase: PhaseValidating, kind: domain.KindLeaseUnavailable, run: r.acquireLease},
		{name: "authenticate", phase: PhaseAuthenticating, kind: domain.KindAuthenticationFailed, run: r.authenticate},
		{name: "use_workspace", phase: PhaseAuthenticating, kind: domain.KindAuthenticationFailed, run: r.useWorkspace},
		r.gateStep(checkManifest, PhaseValidating, o.gate.ValidateManifest),
		r.gateStep(checkDependencies, PhaseValidating, o.gate.CheckDependencies),
	}
	if opts.SkipTests {
		r.log("Unit tests skipped")
	} else {
		list = append(list, r.gateStep(testCheck(boundary.TestScopeUnit), PhaseValidating, func(ctx context.Context) (boundary.GateResult, error) {
			return o.gate.RunTests(ctx, boundary.TestScopeUnit)
		}))
	}
	list = append(list,
		step{name: "derive_version", phase: PhaseReleasing, kind: domain.KindValidationFailed, run: func(ctx context.Context) error {
			base := r.baseVersion(ctx)
			r.record.Version = o.generator.NextQA(base)
			r.logger = r.logger.With("version", r.record.Version)
			r.log("QA version %s (base %s)", r.record.Version, base)
			return nil
		}},
		step{name: "release", phase: PhaseReleasing, kind: domain.KindReleaseFailed, run: r.publish(release.QATag)},
		step{name: "install", phase: PhaseInstalling, kind: domain.KindInstallFailed, run: r.install},
		step{name: "verify", phase: PhaseVerifying, kind: domain.KindVerificationFailed, run: r.verifyInstalled(false)},
	)

	err = r.steps(ctx, list)
	return r.finish(ctx, err)
}

func (r *run) qaPrerequisites(ctx context.Context) error {
	clean, err := r.o.vcs.IsClean(ctx)
	if err != nil {
		return fmt.Errorf("check working tree: %w", err)
	}
	if !clean {
		if !r.force {
			return fmt.Errorf("working tree has uncommitted changes")
		}
		r.log("Working tree has uncommitted changes, continuing because force is set")
	}
	if err := r.checkPlatform(ctx); err != nil {
		return err
	}
	r.log("Prerequisites satisfied")
	return nil
}

func (r *run) switchBranch(ctx context.Context) error {
	current, err := r.o.vcs.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("current branch: %w", err)
	}
	if r.branch == "" || r.branch == current {
		r.branch = current
		r.log("Deploying from branch %s", current)
		return nil
	}
	if err := r.o.vcs.SwitchBranch(ctx, r.branch); err != nil {
		return fmt.Errorf("switch to %s: %w", r.branch, err)
	}
	r.log("Switched from %s to branch %s", current, r.branch)
	return nil
}
