// Package config assembles deployctl settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/gate"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/notify"
	"github.com/animus-labs/animus-deploy/internal/orchestrator"
	"github.com/animus-labs/animus-deploy/internal/platform/auth"
	"github.com/animus-labs/animus-deploy/internal/platform/env"
	"github.com/animus-labs/animus-deploy/internal/platform/metrics"
	"github.com/animus-labs/animus-deploy/internal/platform/objectstore"
	"github.com/animus-labs/animus-deploy/internal/platform/postgres"
	"github.com/animus-labs/animus-deploy/internal/platformcli"
	"github.com/animus-labs/animus-deploy/internal/rollback"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	QAAccount             string
	QAWorkspace           string
	ProductionAccount     string
	ProductionWorkspace   string
	VerificationWorkspace string

	GitBin string

	QAStepTimeout         time.Duration
	ProductionStepTimeout time.Duration
	LeaseWait             time.Duration
	RollbackTimeout       time.Duration
	NotifyTimeout         time.Duration
	HealthTimeout         time.Duration
	HealthInterval        time.Duration
	HistoryLimit          int

	LedgerBackend string
	LeaseBackend  string
	PolicyFile    string
	AuditNDJSON   bool

	LogLevel        slog.Level
	HTTPAddr        string
	ShutdownTimeout time.Duration

	Platform    platformcli.Config
	Gate        gate.Config
	Auth        auth.Config
	Webhook     notify.WebhookConfig
	ObjectStore objectstore.Config
	MetricsPush metrics.PushConfig
	// Postgres is only loaded for the postgres ledger backend.
	Postgres postgres.Config
	// Redis is only loaded for the redis lease backend.
	Redis lease.RedisConfig
}

func Load() (Config, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := env.Duration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := Config{
		QAAccount:             env.String("DEPLOY_QA_ACCOUNT", ""),
		QAWorkspace:           env.String("DEPLOY_QA_WORKSPACE", "qa"),
		ProductionAccount:     env.String("DEPLOY_PROD_ACCOUNT", ""),
		ProductionWorkspace:   env.String("DEPLOY_PROD_WORKSPACE", "production"),
		VerificationWorkspace: env.String("DEPLOY_VERIFY_WORKSPACE", "production-verify"),
		GitBin:                env.String("DEPLOY_GIT_BIN", "git"),

		QAStepTimeout:         duration("DEPLOY_QA_STEP_TIMEOUT", 5*time.Minute),
		ProductionStepTimeout: duration("DEPLOY_PROD_STEP_TIMEOUT", 10*time.Minute),
		LeaseWait:             duration("DEPLOY_LEASE_WAIT", 2*time.Minute),
		RollbackTimeout:       duration("DEPLOY_ROLLBACK_TIMEOUT", 0),
		NotifyTimeout:         duration("DEPLOY_NOTIFY_TIMEOUT", 30*time.Second),
		HealthTimeout:         duration("DEPLOY_HEALTH_TIMEOUT", 2*time.Minute),
		HealthInterval:        duration("DEPLOY_HEALTH_INTERVAL", 5*time.Second),
		ShutdownTimeout:       duration("DEPLOY_SHUTDOWN_TIMEOUT", 10*time.Second),

		PolicyFile: env.String("DEPLOY_POLICY_FILE", ""),
		HTTPAddr:   env.String("DEPLOY_HTTP_ADDR", ":8090"),
		Platform:   platformcli.ConfigFromEnv(),
	}

	var err error
	if cfg.HistoryLimit, err = env.Int("DEPLOY_HISTORY_LIMIT", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.AuditNDJSON, err = env.Bool("DEPLOY_AUDIT_NDJSON", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.LedgerBackend, err = env.OneOf("DEPLOY_LEDGER_BACKEND", BackendMemory, BackendMemory, BackendPostgres); err != nil {
		errs = append(errs, err)
	}
	if cfg.LeaseBackend, err = env.OneOf("DEPLOY_LEASE_BACKEND", BackendMemory, BackendMemory, BackendRedis); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogLevel, err = parseLevel(env.String("DEPLOY_LOG_LEVEL", "info")); err != nil {
		errs = append(errs, err)
	}
	if cfg.Gate, err = gate.ConfigFromEnv(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Auth, err = auth.ConfigFromEnv(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Webhook, err = notify.WebhookConfigFromEnv(); err != nil {
		errs = append(errs, err)
	}
	if cfg.ObjectStore, err = objectstore.ConfigFromEnv(); err != nil {
		errs = append(errs, err)
	}
	if cfg.MetricsPush, err = metrics.PushConfigFromEnv(); err != nil {
		errs = append(errs, err)
	}
	if cfg.LedgerBackend == BackendPostgres {
		if cfg.Postgres, err = postgres.ConfigFromEnv(); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.LeaseBackend == BackendRedis {
		if cfg.Redis, err = lease.RedisConfigFromEnv(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Platform.Validate(); err != nil {
		return err
	}
	if c.QAAccount == "" {
		return errors.New("DEPLOY_QA_ACCOUNT is required")
	}
	if c.ProductionAccount == "" {
		return errors.New("DEPLOY_PROD_ACCOUNT is required")
	}
	if strings.EqualFold(c.VerificationWorkspace, c.ProductionWorkspace) {
		return errors.New("DEPLOY_VERIFY_WORKSPACE must differ from DEPLOY_PROD_WORKSPACE")
	}
	if c.QAStepTimeout <= 0 || c.ProductionStepTimeout <= 0 {
		return errors.New("step timeouts must be positive")
	}
	if c.LeaseWait < 0 || c.RollbackTimeout < 0 || c.NotifyTimeout < 0 {
		return errors.New("DEPLOY_LEASE_WAIT, DEPLOY_ROLLBACK_TIMEOUT and DEPLOY_NOTIFY_TIMEOUT must be >= 0")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("DEPLOY_HISTORY_LIMIT must be positive")
	}
	if strings.TrimSpace(c.GitBin) == "" {
		return errors.New("DEPLOY_GIT_BIN is required")
	}
	return nil
}

func (c Config) App() string {
	return c.Platform.App
}

func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		App:                   c.Platform.App,
		QAAccount:             c.QAAccount,
		QAWorkspace:           c.QAWorkspace,
		ProductionAccount:     c.ProductionAccount,
		ProductionWorkspace:   c.ProductionWorkspace,
		VerificationWorkspace: c.VerificationWorkspace,
		QAStepTimeout:         c.QAStepTimeout,
		ProductionStepTimeout: c.ProductionStepTimeout,
		LeaseWait:             c.LeaseWait,
		RollbackTimeout:       c.RollbackTimeout,
		NotifyTimeout:         c.NotifyTimeout,
	}
}

// Rollback targets the live workspace for production; auto-rollback
// overrides it with the verification workspace per request.
func (c Config) Rollback() rollback.Config {
	return rollback.Config{
		App: c.Platform.App,
		Targets: map[domain.Environment]lease.Key{
			domain.EnvironmentQA:         {Account: c.QAAccount, Workspace: c.QAWorkspace},
			domain.EnvironmentProduction: {Account: c.ProductionAccount, Workspace: c.ProductionWorkspace},
		},
		HealthTimeout:  c.HealthTimeout,
		HealthInterval: c.HealthInterval,
		LeaseWait:      c.LeaseWait,
	}
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("DEPLOY_LOG_LEVEL: %w", err)
	}
	return level, nil
}
