package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/animus-labs/animus-deploy/internal/platform/auth"
	"github.com/animus-labs/animus-deploy/internal/platform/httpserver"
	platformstore "github.com/animus-labs/animus-deploy/internal/platform/objectstore"
	"github.com/animus-labs/animus-deploy/internal/statusapi"
)

const serviceName = "deployctl"

// runServe exposes the ledger read side and metrics over HTTP.
func runServe(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("serve", env)
	addr := fs.String("addr", "", "listen address (default from DEPLOY_HTTP_ADDR)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := newLogger(env.stderr, cfg.LogLevel, true).With("service", serviceName)

	a, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	checks := []httpserver.ReadinessCheck{}
	if a.db != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: a.db.PingContext})
	}
	if cfg.ObjectStore.Enabled() {
		client, err := platformstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		checks = append(checks, httpserver.ReadinessCheck{Name: "minio", Check: func(ctx context.Context) error {
			return platformstore.CheckBucket(ctx, client, cfg.ObjectStore)
		}})
	}

	api := http.NewServeMux()
	statusapi.New(logger, a.ledger).Register(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.Handle("/", auth.RequireToken(cfg.Auth.APIToken, api))

	if cfg.Auth.APIToken == "" {
		logger.Warn("status api is unauthenticated; set DEPLOY_API_TOKEN to protect it")
	}
	logger.Info("service starting", "addr", cfg.HTTPAddr, "pid", os.Getpid())

	handler := httpserver.Wrap(logger, serviceName, mux, httpserver.WithObserver(a.metrics.ObserveHTTP))
	return httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.HTTPAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, handler)
}
