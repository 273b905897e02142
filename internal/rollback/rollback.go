// Package rollback reverts an environment's workspace to a previously
// registered app version.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/ledger"
	"github.com/animus-labs/animus-deploy/internal/platform/auth"
	"github.com/animus-labs/animus-deploy/internal/platform/metrics"
)

const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// Request describes one rollback. TargetVersion may be empty when
// DeploymentID is set; the target is then resolved from that deployment.
type Request struct {
	TargetVersion string
	Environment   domain.Environment
	Reason        string
	DeploymentID  string
	Force         bool
	Emergency     bool

	// Workspace overrides the environment's default workspace.
	Workspace string
	// Account overrides the environment's default account.
	Account string
	// LeaseHeld is set by callers that already hold the target's lease.
	LeaseHeld bool
	Trigger   string
}

type Config struct {
	App string
	// Targets maps each environment to the account and workspace a rollback
	// acts on.
	Targets        map[domain.Environment]lease.Key
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	LeaseWait      time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.App) == "" {
		return errors.New("app name is required")
	}
	if len(c.Targets) == 0 {
		return errors.New("at least one rollback target is required")
	}
	if c.HealthTimeout < 0 || c.HealthInterval < 0 {
		return errors.New("health timings must be >= 0")
	}
	return nil
}

type Deps struct {
	Platform boundary.PlatformClient
	Tokens   auth.TokenSource
	Ledger   *ledger.Ledger
	Leaser   lease.Leaser
	Markers  MarkerStore
	Sink     boundary.NotificationSink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

type Service struct {
	cfg      Config
	platform boundary.PlatformClient
	tokens   auth.TokenSource
	ledger   *ledger.Ledger
	leaser   lease.Leaser
	markers  MarkerStore
	sink     boundary.NotificationSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Platform == nil {
		return nil, errors.New("platform client is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 2 * time.Second
	}
	s := &Service{
		cfg:      cfg,
		platform: deps.Platform,
		tokens:   deps.Tokens,
		ledger:   deps.Ledger,
		leaser:   deps.Leaser,
		markers:  deps.Markers,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
		newID:    deps.NewID,
		sleep:    sleepCtx,
	}
	if s.leaser == nil {
		s.leaser = lease.NewMemoryLeaser()
	}
	if s.markers == nil {
		s.markers = NopMarkerStore{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// run carries the state of one rollback while it executes.
type run struct {
	req     Request
	target  lease.Key
	started time.Time
	record  domain.RollbackRecord
}

func (r *run) log(at time.Time, format string, args ...any) {
	r.record.Logs = append(r.record.Logs, domain.LogEntry{Time: at.UTC(), Message: fmt.Sprintf(format, args...)})
}

// Rollback executes req. The returned record is final; it is not stored in
// the deployment ledger. Every call, including one whose target cannot be
// resolved, produces a record and one notification.
func (s *Service) Rollback(ctx context.Context, req Request) (domain.RollbackRecord, error) {
	req.TargetVersion = strings.TrimSpace(req.TargetVersion)
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	r := &run{
		req:     req,
		started: s.now(),
		record: domain.RollbackRecord{
			ID:           s.newID(),
			Environment:  req.Environment,
			Reason:       req.Reason,
			DeploymentID: req.DeploymentID,
		},
	}
	logger := s.logger.With("rollback_id", r.record.ID)

	source, err := s.resolve(ctx, r)
	r.record.CurrentVersion = r.req.TargetVersion
	r.record.Environment = r.req.Environment
	if err != nil {
		return s.finish(ctx, logger.With("environment", r.req.Environment), r, err)
	}
	r.record.AffectedWorkspaces = []string{r.target.Workspace}
	logger = logger.With("environment", r.req.Environment, "workspace", r.target.Workspace)
	r.log(r.started, "Rollback started for %s (%s)", r.req.Environment, r.req.Trigger)

	if !r.req.LeaseHeld {
		held, err := s.acquire(ctx, r.target)
		if err != nil {
			return s.finish(ctx, logger, r, err)
		}
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("lease release failed", "error", err)
			}
		}()
	}

	err = s.execute(ctx, logger, r, source)
	return s.finish(ctx, logger, r, err)
}

// resolve fills in the target version, environment and (account, workspace)
// of r. A rollback named by deployment id inherits that deployment's target
// unless the request overrides it.
func (s *Service) resolve(ctx context.Context, r *run) (*domain.DeploymentRecord, error) {
	req := &r.req
	if req.TargetVersion == "" && req.DeploymentID == "" {
		return nil, domain.NewError(domain.KindValidationFailed, "resolve_target",
			fmt.Errorf("%w: a target version or deployment id is required", domain.ErrInvalidArgument))
	}

	var source *domain.DeploymentRecord
	if req.DeploymentID != "" && (req.TargetVersion == "" || req.Environment == "" || req.Workspace == "") {
		if s.ledger == nil {
			return nil, domain.NewError(domain.KindValidationFailed, "resolve_target", errors.New("deployment lookup requires a ledger"))
		}
		rec, err := s.ledger.GetDeployStatus(ctx, req.DeploymentID)
		if err != nil {
			return nil, domain.NewError(domain.KindValidationFailed, "resolve_target", err)
		}
		source = &rec
		if req.Environment == "" {
			req.Environment = rec.Environment
		}
		if req.TargetVersion == "" {
			req.TargetVersion = rec.RollbackVersion
		}
	}

	env, err := domain.ParseEnvironment(string(req.Environment))
	if err != nil {
		return nil, domain.NewError(domain.KindValidationFailed, "resolve_target", err)
	}
	req.Environment = env
	target, ok := s.cfg.Targets[env]
	if !ok {
		return nil, domain.NewError(domain.KindValidationFailed, "resolve_target",
			fmt.Errorf("%w: no rollback target configured for %s", domain.ErrInvalidArgument, env))
	}
	if source != nil && source.Environment == env {
		if source.Account != "" {
			target.Account = source.Account
		}
		if source.Workspace != "" {
			target.Workspace = source.Workspace
		}
	}
	if req.Workspace != "" {
		target.Workspace = req.Workspace
	}
	if req.Account != "" {
		target.Account = req.Account
	}
	r.target = target
	return source, nil
}

func (s *Service) acquire(ctx context.Context, key lease.Key) (lease.Lease, error) {
	waitCtx := ctx
	if s.cfg.LeaseWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.LeaseWait)
		defer cancel()
	}
	start := time.Now()
	held, err := s.leaser.Acquire(waitCtx, key)
	s.metrics.ObserveLeaseWait(time.Since(start))
	return held, err
}

func (s *Service) execute(ctx context.Context, logger *slog.Logger, r *run, source *domain.DeploymentRecord) error {
	token, err := s.tokens.Token(ctx, r.target.Account)
	if err != nil {
		return domain.NewError(domain.KindAuthenticationFailed, "authenticate", err)
	}
	if err := s.platform.Authenticate(ctx, r.target.Account, token); err != nil {
		return domain.NewError(domain.KindAuthenticationFailed, "authenticate", err)
	}
	if err := s.platform.UseWorkspace(ctx, r.target.Workspace); err != nil {
		return domain.NewError(domain.KindRollbackFailed, "use_workspace", err)
	}
	r.log(s.now(), "Authenticated as %s in workspace %s", r.target.Account, r.target.Workspace)

	if current, err := s.installedVersion(ctx); err != nil {
		logger.Warn("could not read installed version", "error", err)
		r.log(s.now(), "Could not read installed version: %v", err)
	} else {
		r.record.PreviousVersion = current
		r.log(s.now(), "Currently installed version: %s", displayVersion(current))
	}

	versions, err := s.platform.GetAppVersions(ctx, s.cfg.App)
	if err != nil {
		return domain.NewError(domain.KindRollbackFailed, "list_versions", err)
	}
	if r.req.TargetVersion == "" && source != nil {
		r.req.TargetVersion = versionBefore(versions, source.Version)
		r.record.CurrentVersion = r.req.TargetVersion
	}
	if r.req.TargetVersion == "" {
		return domain.Errorf(domain.KindVersionNotFound, "validate_version", "no previous version to roll back to")
	}
	if !boundary.HasVersion(versions, r.req.TargetVersion) {
		return domain.NewError(domain.KindVersionNotFound, "validate_version",
			fmt.Errorf("version %s not found for %s", r.req.TargetVersion, s.cfg.App))
	}
	r.log(s.now(), "Target version %s is registered", r.req.TargetVersion)

	marker := Marker{
		RollbackID:      r.record.ID,
		Environment:     r.req.Environment,
		Workspace:       r.target.Workspace,
		App:             s.cfg.App,
		PreviousVersion: r.record.PreviousVersion,
		TargetVersion:   r.req.TargetVersion,
		Reason:          r.req.Reason,
		DeploymentID:    r.req.DeploymentID,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.markers.RecordMarker(ctx, marker); err != nil {
		logger.Warn("backup marker not recorded", "error", err)
		r.log(s.now(), "Backup marker not recorded: %v", err)
	} else {
		r.log(s.now(), "Backup marker recorded")
	}

	if r.record.PreviousVersion == r.req.TargetVersion && !r.req.Force {
		r.log(s.now(), "Version %s already installed, skipping install", r.req.TargetVersion)
	} else {
		if err := s.platform.InstallApp(ctx, boundary.AppReference(s.cfg.App, r.req.TargetVersion)); err != nil {
			return domain.NewError(domain.KindRollbackFailed, "install", err)
		}
		r.log(s.now(), "Installed %s", boundary.AppReference(s.cfg.App, r.req.TargetVersion))
	}

	if err := s.verify(ctx, r); err != nil {
		return err
	}
	r.log(s.now(), "Verified %s is installed and healthy", r.req.TargetVersion)
	return nil
}

// verify polls the installed app list until the target is installed and
// healthy. Emergency rollbacks check the version once and skip the wait.
func (s *Service) verify(ctx context.Context, r *run) error {
	deadline := s.now().Add(s.cfg.HealthTimeout)
	for {
		apps, err := s.platform.ListInstalledApps(ctx)
		if err != nil {
			return domain.NewError(domain.KindRollbackFailed, "verify", err)
		}
		app, ok := boundary.FindInstalled(apps, s.cfg.App)
		switch {
		case !ok:
			err = fmt.Errorf("%s is not installed after rollback", s.cfg.App)
		case app.Version != r.req.TargetVersion:
			err = fmt.Errorf("installed version %s does not match rollback target %s", app.Version, r.req.TargetVersion)
		case r.req.Emergency || app.Healthy():
			return nil
		default:
			err = fmt.Errorf("%s@%s reported status %s", s.cfg.App, app.Version, app.Status)
		}
		if r.req.Emergency || !s.now().Before(deadline) {
			return domain.NewError(domain.KindRollbackFailed, "verify", err)
		}
		if serr := s.sleep(ctx, s.cfg.HealthInterval); serr != nil {
			return domain.NewError(domain.KindOf(serr), "verify", serr)
		}
	}
}

func (s *Service) installedVersion(ctx context.Context) (string, error) {
	apps, err := s.platform.ListInstalledApps(ctx)
	if err != nil {
		return "", err
	}
	app, ok := boundary.FindInstalled(apps, s.cfg.App)
	if !ok {
		return "", nil
	}
	return app.Version, nil
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, r *run, err error) (domain.RollbackRecord, error) {
	end := s.now()
	r.record.RollbackTime = end.UTC()
	r.record.Duration = end.Sub(r.started)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && domain.KindOf(err) != domain.KindVersionNotFound {
			err = &domain.Error{Kind: domain.KindOf(ctxErr), Step: domain.StepOf(err), Err: err}
		}
		r.record.Success = false
		r.record.Error = err.Error()
		r.record.ErrorKind = domain.KindOf(err)
		r.log(end, "Rollback failed: %v", err)
		logger.Error("rollback failed", "version", r.record.CurrentVersion, "step", domain.StepOf(err), "error", err)
	} else {
		r.record.Success = true
		r.log(end, "Rollback to %s completed", r.record.CurrentVersion)
		logger.Info("rollback completed", "version", r.record.CurrentVersion, "previous_version", r.record.PreviousVersion)
	}
	s.metrics.ObserveRollback(string(r.record.Environment), r.record.Success, r.req.Trigger)

	if s.sink != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if nerr := s.sink.SendRollbackNotification(notifyCtx, r.record); nerr != nil {
			s.metrics.NotificationFailed("rollback")
			logger.Warn("rollback notification failed", "error", nerr)
		}
		cancel()
	}
	return r.record, err
}

// versionBefore returns the registered version released just before current.
func versionBefore(history []boundary.AppVersion, current string) string {
	for i, v := range history {
		if v.Version == current && i > 0 {
			return history[i-1].Version
		}
	}
	prev, _ := boundary.PreviousVersion(history)
	return prev
}

func displayVersion(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
