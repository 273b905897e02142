// Package orchestrator sequences QA and production deployments against the
// platform, records them in the ledger and reverts failed production
// releases.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/ledger"
	"github.com/animus-labs/animus-deploy/internal/platform/auth"
	"github.com/animus-labs/animus-deploy/internal/platform/metrics"
	"github.com/animus-labs/animus-deploy/internal/platform/policy"
	"github.com/animus-labs/animus-deploy/internal/release"
	"github.com/animus-labs/animus-deploy/internal/rollback"
)

type Config struct {
	App string

	QAAccount   string
	QAWorkspace string

	ProductionAccount     string
	ProductionWorkspace   string
	VerificationWorkspace string

	QAStepTimeout         time.Duration
	ProductionStepTimeout time.Duration
	LeaseWait             time.Duration
	RollbackTimeout       time.Duration
	NotifyTimeout         time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.App) == "" {
		return errors.New("app name is required")
	}
	if strings.TrimSpace(c.QAAccount) == "" || strings.TrimSpace(c.QAWorkspace) == "" {
		return errors.New("qa account and workspace are required")
	}
	if strings.TrimSpace(c.ProductionAccount) == "" || strings.TrimSpace(c.VerificationWorkspace) == "" {
		return errors.New("production account and verification workspace are required")
	}
	if strings.EqualFold(strings.TrimSpace(c.VerificationWorkspace), strings.TrimSpace(c.ProductionWorkspace)) {
		return errors.New("verification workspace must differ from the live production workspace")
	}
	if c.QAStepTimeout <= 0 || c.ProductionStepTimeout <= 0 {
		return errors.New("step timeouts must be positive")
	}
	if c.LeaseWait < 0 {
		return errors.New("lease wait must be >= 0")
	}
	return nil
}

// QAOptions controls DeployToQA. Workspace falls back to Config.QAWorkspace.
type QAOptions struct {
	Branch    string
	Workspace string
	SkipTests bool
	Force     bool
}

// ProductionOptions controls DeployToProduction. An empty Version resolves
// to the base version. SkipTests only applies together with Emergency.
type ProductionOptions struct {
	Version     string
	Force       bool
	SkipTests   bool
	AutoApprove bool
	Emergency   bool
}

// BaseVersionSource reports the version declared by the project being deployed.
type BaseVersionSource interface {
	BaseVersion(ctx context.Context) (string, error)
}

// Rollbacker reverts a workspace to an earlier version.
type Rollbacker interface {
	Rollback(ctx context.Context, req rollback.Request) (domain.RollbackRecord, error)
}

type Deps struct {
	Ledger    *ledger.Ledger
	Platform  boundary.PlatformClient
	VCS       boundary.VersionControl
	Gate      boundary.ValidationGate
	Sink      boundary.NotificationSink
	Tokens    auth.TokenSource
	Leaser    lease.Leaser
	Rollback  Rollbacker
	Versions  BaseVersionSource
	Approver  Approver
	Policy    *policy.Spec
	Generator *release.Generator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type Orchestrator struct {
	cfg       Config
	ledger    *ledger.Ledger
	platform  boundary.PlatformClient
	vcs       boundary.VersionControl
	gate      boundary.ValidationGate
	sink      boundary.NotificationSink
	tokens    auth.TokenSource
	leaser    lease.Leaser
	rollback  Rollbacker
	versions  BaseVersionSource
	approver  Approver
	policy    policy.Spec
	generator *release.Generator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Platform == nil:
		return nil, errors.New("platform client is required")
	case deps.VCS == nil:
		return nil, errors.New("version control is required")
	case deps.Gate == nil:
		return nil, errors.New("validation gate is required")
	case deps.Tokens == nil:
		return nil, errors.New("token source is required")
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = 2 * cfg.ProductionStepTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}

	o := &Orchestrator{
		cfg:       cfg,
		ledger:    deps.Ledger,
		platform:  deps.Platform,
		vcs:       deps.VCS,
		gate:      deps.Gate,
		sink:      deps.Sink,
		tokens:    deps.Tokens,
		leaser:    deps.Leaser,
		rollback:  deps.Rollback,
		versions:  deps.Versions,
		approver:  deps.Approver,
		generator: deps.Generator,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if deps.Policy != nil {
		if err := deps.Policy.Validate(); err != nil {
			return nil, err
		}
		o.policy = *deps.Policy
	} else {
		o.policy = policy.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.ledger == nil {
		o.ledger = ledger.New(ledger.NewMemoryStore(), ledger.WithClock(o.now))
	}
	if o.leaser == nil {
		o.leaser = lease.NewMemoryLeaser()
	}
	if o.approver == nil {
		o.approver = DenyApprover{}
	}
	if o.generator == nil {
		o.generator = release.NewGenerator(o.now)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// GetDeployStatus returns a copy of the record for id.
func (o *Orchestrator) GetDeployStatus(ctx context.Context, id string) (domain.DeploymentRecord, error) {
	return o.ledger.GetDeployStatus(ctx, id)
}

// GetDeploymentHistory lists records of env, newest first. limit <= 0 uses
// the ledger default.
func (o *Orchestrator) GetDeploymentHistory(ctx context.Context, env domain.Environment, limit int) ([]domain.DeploymentRecord, error) {
	return o.ledger.GetDeploymentHistory(ctx, env, limit)
}

// Rollback runs a manual rollback through the configured subsystem.
func (o *Orchestrator) Rollback(ctx context.Context, req rollback.Request) (domain.RollbackRecord, error) {
	if o.rollback == nil {
		return domain.RollbackRecord{}, errors.New("rollback subsystem not configured")
	}
	if req.Trigger == "" {
		req.Trigger = rollback.TriggerManual
	}
	return o.rollback.Rollback(ctx, req)
}
