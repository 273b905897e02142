package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/animus-labs/animus-deploy/internal/platform/env"
)

// PushConfig points one-shot commands at a Prometheus Pushgateway. An empty
// URL disables pushing.
type PushConfig struct {
	URL     string
	Job     string
	Timeout time.Duration
}

func PushConfigFromEnv() (PushConfig, error) {
	timeout, err := env.Duration("DEPLOY_METRICS_PUSH_TIMEOUT", 5*time.Second)
	if err != nil {
		return PushConfig{}, err
	}
	cfg := PushConfig{
		URL:     env.String("DEPLOY_METRICS_PUSHGATEWAY", ""),
		Job:     env.String("DEPLOY_METRICS_JOB", "deployctl"),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return PushConfig{}, err
	}
	return cfg, nil
}

func (c PushConfig) Enabled() bool {
	return c.URL != ""
}

func (c PushConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DEPLOY_METRICS_PUSHGATEWAY must be an http(s) url: %q", c.URL)
	}
	if strings.TrimSpace(c.Job) == "" {
		return errors.New("DEPLOY_METRICS_JOB is required")
	}
	if c.Timeout <= 0 {
		return errors.New("DEPLOY_METRICS_PUSH_TIMEOUT must be positive")
	}
	return nil
}

// Push replaces the command's metric group on the gateway with the
// deployment, step, rollback, lease and notification series. Runtime and
// HTTP series stay local.
func (m *Metrics) Push(ctx context.Context, cfg PushConfig, command string, client *http.Client) error {
	if m == nil || !cfg.Enabled() {
		return nil
	}
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	pusher := push.New(cfg.URL, cfg.Job).
		Client(client).
		Grouping("command", command).
		Collector(m.deployments).
		Collector(m.deployDuration).
		Collector(m.rollbacks).
		Collector(m.stepDuration).
		Collector(m.leaseWait).
		Collector(m.notifyFailures)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
