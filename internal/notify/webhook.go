package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/platform/env"
)

type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

func WebhookConfigFromEnv() (WebhookConfig, error) {
	timeout, err := env.Duration("DEPLOY_WEBHOOK_TIMEOUT", 10*time.Second)
	if err != nil {
		return WebhookConfig{}, err
	}
	cfg := WebhookConfig{
		URL:     env.String("DEPLOY_WEBHOOK_URL", ""),
		Token:   env.String("DEPLOY_WEBHOOK_TOKEN", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return WebhookConfig{}, err
	}
	return cfg, nil
}

// Enabled reports whether a webhook URL is configured.
func (c WebhookConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c WebhookConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return fmt.Errorf("DEPLOY_WEBHOOK_URL invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("DEPLOY_WEBHOOK_URL must be http or https")
	}
	if c.Timeout <= 0 {
		return errors.New("DEPLOY_WEBHOOK_TIMEOUT must be positive")
	}
	return nil
}

// WebhookSink posts notifications as JSON.
type WebhookSink struct {
	url   string
	token string
	http  *http.Client
}

var _ boundary.NotificationSink = (*WebhookSink)(nil)

func NewWebhookSink(cfg WebhookConfig, client *http.Client) (*WebhookSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("webhook url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookSink{
		url:   strings.TrimSpace(cfg.URL),
		token: strings.TrimSpace(cfg.Token),
		http:  client,
	}, nil
}

type webhookPayload struct {
	Type       string                   `json:"type"`
	Deployment *domain.DeploymentRecord `json:"deployment,omitempty"`
	Rollback   *domain.RollbackRecord   `json:"rollback,omitempty"`
}

func (s *WebhookSink) SendDeploymentNotification(ctx context.Context, record domain.DeploymentRecord) error {
	return s.post(ctx, webhookPayload{Type: "deployment." + string(record.Status), Deployment: &record})
}

func (s *WebhookSink) SendRollbackNotification(ctx context.Context, record domain.RollbackRecord) error {
	kind := "rollback.success"
	if !record.Success {
		kind = "rollback.failed"
	}
	return s.post(ctx, webhookPayload{Type: kind, Rollback: &record})
}

func (s *WebhookSink) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", payload.Type, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: status=%d body=%s", payload.Type, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
