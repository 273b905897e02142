package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/config"
	"github.com/animus-labs/animus-deploy/internal/gate"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/ledger"
	"github.com/animus-labs/animus-deploy/internal/notify"
	"github.com/animus-labs/animus-deploy/internal/orchestrator"
	"github.com/animus-labs/animus-deploy/internal/platform/auditlog"
	"github.com/animus-labs/animus-deploy/internal/platform/auth"
	"github.com/animus-labs/animus-deploy/internal/platform/metrics"
	platformstore "github.com/animus-labs/animus-deploy/internal/platform/objectstore"
	"github.com/animus-labs/animus-deploy/internal/platform/policy"
	"github.com/animus-labs/animus-deploy/internal/platform/postgres"
	"github.com/animus-labs/animus-deploy/internal/platformcli"
	repopg "github.com/animus-labs/animus-deploy/internal/repo/postgres"
	"github.com/animus-labs/animus-deploy/internal/rollback"
	"github.com/animus-labs/animus-deploy/internal/runtimeexec"
	"github.com/animus-labs/animus-deploy/internal/storage/objectstore"
	"github.com/animus-labs/animus-deploy/internal/vcs"
)

// errConfig marks failures caused by invalid settings.
var errConfig = errors.New("invalid configuration")

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	db      *sql.DB

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level, structured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if structured {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openLedger connects the configured ledger backend. The postgres backend runs
// the embedded migrations first.
func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	var store ledger.Store = ledger.NewMemoryStore()
	if cfg.LedgerBackend == config.BackendPostgres {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if err := repopg.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
		store = repopg.NewDeploymentStore(db)
	} else {
		logger.Debug("using in-memory ledger; records do not outlive this process")
	}
	a.ledger = ledger.New(store, ledger.WithHistoryLimit(cfg.HistoryLimit))
	return a, nil
}

// build wires the orchestrator and everything it drives.
func build(ctx context.Context, env *cliEnv, cfg config.Config, logger *slog.Logger, approver orchestrator.Approver) (*app, error) {
	a, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	runner := runtimeexec.NewExecRunner()
	platform, err := platformcli.New(cfg.Platform, runner)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", errConfig, err))
	}
	git := vcs.NewGit(cfg.GitBin, cfg.Platform.Dir, runner)
	checks, err := gate.New(cfg.Gate, runner, logger)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", errConfig, err))
	}

	tokens, err := tokenSource(ctx, cfg.Auth)
	if err != nil {
		return fail(err)
	}
	leaser, err := newLeaser(ctx, a, cfg, logger)
	if err != nil {
		return fail(err)
	}
	markers, err := newMarkerStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	sink, err := newSink(a, env, cfg, logger)
	if err != nil {
		return fail(err)
	}

	spec, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", errConfig, err))
	}

	rb, err := rollback.New(cfg.Rollback(), rollback.Deps{
		Platform: platform,
		Tokens:   tokens,
		Ledger:   a.ledger,
		Leaser:   leaser,
		Markers:  markers,
		Sink:     sink,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", errConfig, err))
	}

	a.orch, err = orchestrator.New(cfg.Orchestrator(), orchestrator.Deps{
		Ledger:   a.ledger,
		Platform: platform,
		VCS:      git,
		Gate:     checks,
		Sink:     sink,
		Tokens:   tokens,
		Leaser:   leaser,
		Rollback: rb,
		Versions: checks,
		Approver: approver,
		Policy:   &spec,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", errConfig, err))
	}
	return a, nil
}

func tokenSource(ctx context.Context, cfg auth.Config) (auth.TokenSource, error) {
	if cfg.Mode != auth.ModeOIDC {
		return auth.StaticTokens(cfg.StaticTokens), nil
	}
	discoverCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	tokens, err := auth.NewOIDCTokens(discoverCtx, cfg, &http.Client{Timeout: cfg.RequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("token source: %w", err)
	}
	return tokens, nil
}

func newLeaser(ctx context.Context, a *app, cfg config.Config, logger *slog.Logger) (lease.Leaser, error) {
	if cfg.LeaseBackend != config.BackendRedis {
		return lease.NewMemoryLeaser(), nil
	}
	client := lease.NewRedisClient(cfg.Redis)
	a.closers = append(a.closers, client.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	return lease.NewRedisLeaser(client, cfg.Redis, logger)
}

func newMarkerStore(ctx context.Context, cfg config.Config) (rollback.MarkerStore, error) {
	if !cfg.ObjectStore.Enabled() {
		return rollback.NopMarkerStore{}, nil
	}
	store, err := objectstore.NewMinioStore(cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := platformstore.EnsureBucket(startupCtx, store.Client(), cfg.ObjectStore); err != nil {
		return nil, fmt.Errorf("object store unavailable: %w", err)
	}
	return rollback.NewObjectMarkerStore(store, cfg.ObjectStore.BucketMarkers)
}

// newSink fans notifications out to the log, the audit trail and the
// webhook when one is configured.
func newSink(a *app, env *cliEnv, cfg config.Config, logger *slog.Logger) (boundary.NotificationSink, error) {
	var recorder auditlog.Recorder = auditlog.NopRecorder{}
	switch {
	case a.db != nil:
		recorder = auditlog.NewDBRecorder(a.db)
	case cfg.AuditNDJSON:
		recorder = auditlog.NewNDJSONRecorder(env.stderr)
	}
	sinks := notify.Fanout{
		notify.NewLogSink(logger),
		notify.NewAuditSink(recorder, "deployctl"),
	}
	if cfg.Webhook.Enabled() {
		hook, err := notify.NewWebhookSink(cfg.Webhook, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errConfig, err)
		}
		sinks = append(sinks, hook)
	}
	return sinks, nil
}
