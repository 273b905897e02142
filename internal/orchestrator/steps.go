package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/lease"
)

// Phase is the coarse state of a run. It is logged with every step; the
// persisted status only moves at Begin and at the terminal transition.
type Phase string

const (
	PhaseInit           Phase = "init"
	PhaseValidating     Phase = "validating"
	PhaseAuthenticating Phase = "authenticating"
	PhaseReleasing      Phase = "releasing"
	PhaseInstalling     Phase = "installing"
	PhaseVerifying      Phase = "verifying"
	PhaseRollingBack    Phase = "rolling_back"
)

const stepAcquireLease = "acquire_lease"

type step struct {
	name  string
	phase Phase
	// kind tags errors the step returns untagged.
	kind domain.Kind
	run  func(ctx context.Context) error
}

// run is the mutable state of one deployment. Only the goroutine executing
// the deployment touches it.
type run struct {
	o       *Orchestrator
	record  domain.DeploymentRecord
	logger  *slog.Logger
	timeout time.Duration
	target  lease.Key
	held    lease.Lease
	phase   Phase

	force     bool
	emergency bool
	branch    string
	// authenticated is set once the platform session targets the workspace.
	authenticated bool
	// released is set once the new version was registered on the platform.
	released bool
}

func (o *Orchestrator) begin(ctx context.Context, env domain.Environment, target lease.Key, timeout time.Duration) (*run, error) {
	rec, err := o.ledger.Begin(ctx, env, target.Account, target.Workspace)
	if err != nil {
		return nil, fmt.Errorf("create deployment record: %w", err)
	}
	return &run{
		o:       o,
		record:  rec,
		logger:  o.logger.With("deployment_id", rec.ID, "environment", env),
		timeout: timeout,
		target:  target,
		phase:   PhaseInit,
	}, nil
}

func (r *run) log(format string, args ...any) {
	r.record.AppendLog(r.o.now(), format, args...)
}

func (r *run) save(ctx context.Context) {
	if err := r.o.ledger.Save(context.WithoutCancel(ctx), r.record); err != nil {
		r.logger.Warn("deployment record not saved", "error", err)
	}
}

// steps executes list in order. Cancellation is checked before every step and
// each step runs under the run's step timeout; the lease step is bounded by
// LeaseWait instead.
func (r *run) steps(ctx context.Context, list []step) error {
	for _, s := range list {
		if err := ctx.Err(); err != nil {
			return &domain.Error{Kind: domain.KindOf(err), Step: s.name, Err: err}
		}
		r.phase = s.phase
		r.log("[%s] %s", s.phase, s.name)
		r.logger.Debug("step started", "step", s.name, "phase", s.phase)

		limit := r.timeout
		if s.name == stepAcquireLease {
			limit = r.o.cfg.LeaseWait
		}
		stepCtx, cancel := ctx, context.CancelFunc(func() {})
		if limit > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, limit)
		}
		start := time.Now()
		err := s.run(stepCtx)
		stepErr := stepCtx.Err()
		cancel()
		r.o.metrics.ObserveStep(string(r.record.Environment), s.name, err, time.Since(start))

		if err != nil {
			return r.classify(ctx, s, stepErr, limit, err)
		}
		r.save(ctx)
	}
	return nil
}

func (r *run) classify(ctx context.Context, s step, stepErr error, limit time.Duration, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domain.Error{Kind: domain.KindOf(ctxErr), Step: s.name, Err: err}
	}
	if s.name != stepAcquireLease && errors.Is(stepErr, context.DeadlineExceeded) {
		return &domain.Error{Kind: domain.KindTimeout, Step: s.name,
			Err: fmt.Errorf("step %s timed out after %s: %w", s.name, limit, err)}
	}
	return domain.NewError(s.kind, s.name, err)
}

func (r *run) acquireLease(ctx context.Context) error {
	start := time.Now()
	held, err := r.o.leaser.Acquire(ctx, r.target)
	r.o.metrics.ObserveLeaseWait(time.Since(start))
	if err != nil {
		return domain.NewError(domain.KindLeaseUnavailable, stepAcquireLease, err)
	}
	r.held = held
	r.log("Lease acquired for %s", r.target)
	return nil
}

func (r *run) releaseLease(ctx context.Context) {
	if r.held == nil {
		return
	}
	if err := r.held.Release(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("lease release failed", "error", err)
	}
	r.held = nil
}

func terminalStatus(err error) domain.DeployStatus {
	switch {
	case err == nil:
		return domain.DeployStatusSuccess
	case domain.KindOf(err) == domain.KindCancelled:
		return domain.DeployStatusCancelled
	default:
		return domain.DeployStatusFailed
	}
}

// finish performs the terminal transition: it saves the record, emits
// metrics, sends exactly one notification and releases the lease.
func (r *run) finish(ctx context.Context, err error) (domain.DeploymentRecord, error) {
	status := terminalStatus(err)
	switch status {
	case domain.DeployStatusSuccess:
		r.log("Deployment of %s to %s completed", r.record.Version, r.record.Environment)
		r.logger.Info("deployment completed", "version", r.record.Version)
	case domain.DeployStatusCancelled:
		r.record.Error = err.Error()
		r.record.ErrorKind = domain.KindOf(err)
		r.log("Deployment cancelled at %s: %v", domain.StepOf(err), err)
		r.logger.Warn("deployment cancelled", "step", domain.StepOf(err), "error", err)
	default:
		r.record.Error = err.Error()
		r.record.ErrorKind = domain.KindOf(err)
		r.log("Deployment failed at %s: %v", domain.StepOf(err), err)
		r.logger.Error("deployment failed", "step", domain.StepOf(err), "version", r.record.Version, "error", err)
	}
	if terr := r.record.Transition(status, r.o.now()); terr != nil {
		r.logger.Error("terminal transition rejected", "error", terr)
	}
	r.save(ctx)
	r.o.metrics.ObserveDeployment(string(r.record.Environment), string(r.record.Status), r.record.Duration())

	if r.o.sink != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cfg.NotifyTimeout)
		if nerr := r.o.sink.SendDeploymentNotification(notifyCtx, r.record.Clone()); nerr != nil {
			r.o.metrics.NotificationFailed("deployment")
			r.logger.Warn("deployment notification failed", "error", nerr)
		}
		cancel()
	}
	r.releaseLease(ctx)
	return r.record.Clone(), err
}
