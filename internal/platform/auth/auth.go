// Package auth resolves the platform tokens used to authenticate deployments
// and guards the status API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/animus-deploy/internal/platform/env"
)

type Mode string

const (
	ModeOIDC   Mode = "oidc"
	ModeStatic Mode = "static"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNoToken         = errors.New("no platform token configured")
)

type Config struct {
	Mode Mode

	// StaticTokens maps account to token. The empty key is the fallback.
	StaticTokens map[string]string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCScopes       []string
	OIDCAudienceKey  string
	RequestTimeout   time.Duration

	APIToken string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(env.String("DEPLOY_TOKEN_MODE", string(ModeStatic)))
	var mode Mode
	switch modeRaw {
	case string(ModeStatic):
		mode = ModeStatic
	case string(ModeOIDC):
		mode = ModeOIDC
	default:
		return Config{}, fmt.Errorf("DEPLOY_TOKEN_MODE must be one of: static, oidc (got %q)", modeRaw)
	}
	timeout, err := env.Duration("DEPLOY_TOKEN_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	tokens := map[string]string{}
	if v := env.String("DEPLOY_PLATFORM_TOKEN", ""); v != "" {
		tokens[""] = v
	}
	if account := env.String("DEPLOY_QA_ACCOUNT", ""); account != "" {
		if v := env.String("DEPLOY_QA_TOKEN", ""); v != "" {
			tokens[account] = v
		}
	}
	if account := env.String("DEPLOY_PROD_ACCOUNT", ""); account != "" {
		if v := env.String("DEPLOY_PROD_TOKEN", ""); v != "" {
			tokens[account] = v
		}
	}

	cfg := Config{
		Mode:             mode,
		StaticTokens:     tokens,
		OIDCIssuerURL:    env.String("DEPLOY_OIDC_ISSUER_URL", ""),
		OIDCClientID:     env.String("DEPLOY_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: env.String("DEPLOY_OIDC_CLIENT_SECRET", ""),
		OIDCScopes:       parseScopes(env.String("DEPLOY_OIDC_SCOPES", "")),
		OIDCAudienceKey:  env.String("DEPLOY_OIDC_AUDIENCE_PARAM", "audience"),
		RequestTimeout:   timeout,
		APIToken:         env.String("DEPLOY_API_TOKEN", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeStatic:
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("DEPLOY_OIDC_ISSUER_URL is required when DEPLOY_TOKEN_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("DEPLOY_OIDC_CLIENT_ID is required when DEPLOY_TOKEN_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientSecret) == "" {
			return errors.New("DEPLOY_OIDC_CLIENT_SECRET is required when DEPLOY_TOKEN_MODE=oidc")
		}
		if c.RequestTimeout <= 0 {
			return errors.New("DEPLOY_TOKEN_TIMEOUT must be positive")
		}
	default:
		return fmt.Errorf("unsupported token mode: %q", c.Mode)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseScopes(value string) []string {
	return strings.Fields(value)
}
