// Package platformcli drives the platform control plane through its CLI.
package platformcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/platform/env"
	"github.com/animus-labs/animus-deploy/internal/runtimeexec"
)

const tokenEnvKey = "PLATFORM_TOKEN"

type Config struct {
	Bin string
	App string
	Dir string
}

func ConfigFromEnv() Config {
	return Config{
		Bin: env.String("DEPLOY_PLATFORM_BIN", "platform"),
		App: env.String("DEPLOY_APP_NAME", ""),
		Dir: env.String("DEPLOY_PROJECT_DIR", "."),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Bin) == "" {
		return errors.New("DEPLOY_PLATFORM_BIN is required")
	}
	if strings.TrimSpace(c.App) == "" {
		return errors.New("DEPLOY_APP_NAME is required")
	}
	return nil
}

type Client struct {
	cfg    Config
	runner runtimeexec.Runner

	mu    sync.Mutex
	token string
}

var _ boundary.PlatformClient = (*Client)(nil)

func New(cfg Config, runner runtimeexec.Runner) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	return &Client{cfg: cfg, runner: runner}, nil
}

func (c *Client) Available(ctx context.Context) error {
	if err := c.runner.LookPath(c.cfg.Bin); err != nil {
		return fmt.Errorf("platform CLI not available: %w", err)
	}
	if _, err := c.run(ctx, "version"); err != nil {
		return fmt.Errorf("platform CLI not available: %w", err)
	}
	return nil
}

func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	res, err := c.run(ctx, "whoami")
	if err != nil {
		return "", err
	}
	account := runtimeexec.FirstLine(res.Stdout)
	if account == "" {
		return "", errors.New("platform whoami returned no account")
	}
	return account, nil
}

// Authenticate logs into account. The token is passed through the
// environment so it never shows up in a process listing.
func (c *Client) Authenticate(ctx context.Context, account, token string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return errors.New("account is required")
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	if _, err := c.run(ctx, "login", "--account", account); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

func (c *Client) UseWorkspace(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("workspace is required")
	}
	_, err := c.run(ctx, "workspace", "use", name)
	return err
}

func (c *Client) Release(ctx context.Context, version, tag string) error {
	if strings.TrimSpace(version) == "" {
		return errors.New("version is required")
	}
	args := []string{"release", "--app", c.cfg.App, "--version", version}
	if tag = strings.TrimSpace(tag); tag != "" {
		args = append(args, "--tag", tag)
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) InstallApp(ctx context.Context, reference string) error {
	if strings.TrimSpace(reference) == "" {
		return errors.New("app reference is required")
	}
	_, err := c.run(ctx, "install", reference)
	return err
}

type installedAppJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

func (c *Client) ListInstalledApps(ctx context.Context) ([]boundary.InstalledApp, error) {
	res, err := c.run(ctx, "apps", "list", "--output", "json")
	if err != nil {
		return nil, err
	}
	var raw []installedAppJSON
	if err := decodeJSON(res.Stdout, &raw); err != nil {
		return nil, fmt.Errorf("parse installed apps: %w", err)
	}
	out := make([]boundary.InstalledApp, 0, len(raw))
	for _, item := range raw {
		out = append(out, boundary.InstalledApp{
			Name:    strings.TrimSpace(item.Name),
			Version: strings.TrimSpace(item.Version),
			Status:  strings.TrimSpace(item.Status),
		})
	}
	return out, nil
}

type appVersionJSON struct {
	Version    string    `json:"version"`
	Tag        string    `json:"tag"`
	ReleasedAt time.Time `json:"released_at"`
}

// GetAppVersions returns the registered versions of name, oldest first as
// listed by the platform.
func (c *Client) GetAppVersions(ctx context.Context, name string) ([]boundary.AppVersion, error) {
	if strings.TrimSpace(name) == "" {
		name = c.cfg.App
	}
	res, err := c.run(ctx, "apps", "versions", name, "--output", "json")
	if err != nil {
		return nil, err
	}
	var raw []appVersionJSON
	if err := decodeJSON(res.Stdout, &raw); err != nil {
		return nil, fmt.Errorf("parse app versions: %w", err)
	}
	out := make([]boundary.AppVersion, 0, len(raw))
	for _, item := range raw {
		v := strings.TrimSpace(item.Version)
		if v == "" {
			continue
		}
		out = append(out, boundary.AppVersion{Version: v, Tag: strings.TrimSpace(item.Tag), ReleasedAt: item.ReleasedAt})
	}
	return out, nil
}

func (c *Client) run(ctx context.Context, args ...string) (runtimeexec.Result, error) {
	cmd := runtimeexec.Command{Bin: c.cfg.Bin, Args: args, Dir: c.cfg.Dir}
	c.mu.Lock()
	if c.token != "" {
		cmd.Env = []string{tokenEnvKey + "=" + c.token}
	}
	c.mu.Unlock()
	res, err := c.runner.Run(ctx, cmd)
	if err != nil {
		var exitErr *runtimeexec.ExitError
		if errors.As(err, &exitErr) && exitErr.Output != "" {
			return res, errors.New(runtimeexec.FirstLine(exitErr.Output))
		}
		return res, err
	}
	return res, nil
}

func decodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "[]"
	}
	return json.Unmarshal([]byte(text), out)
}
