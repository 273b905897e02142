package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource returns the platform token for an account.
type TokenSource interface {
	Token(ctx context.Context, account string) (string, error)
}

type StaticTokens map[string]string

func (s StaticTokens) Token(_ context.Context, account string) (string, error) {
	if tok, ok := s[account]; ok && tok != "" {
		return tok, nil
	}
	if tok := s[""]; tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("%w for account %q", ErrNoToken, account)
}

// OIDCTokens discovers the issuer's token endpoint and runs the client
// credentials grant, one cached oauth2.TokenSource per account.
type OIDCTokens struct {
	cfg      Config
	tokenURL string
	client   *http.Client

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewOIDCTokens(ctx context.Context, cfg Config, client *http.Client) (*OIDCTokens, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("token mode must be oidc (got %q)", cfg.Mode)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if strings.TrimSpace(tokenURL) == "" {
		return nil, fmt.Errorf("oidc provider %s has no token endpoint", cfg.OIDCIssuerURL)
	}
	return &OIDCTokens{
		cfg:      cfg,
		tokenURL: tokenURL,
		client:   client,
		sources:  map[string]oauth2.TokenSource{},
	}, nil
}

func (o *OIDCTokens) Token(ctx context.Context, account string) (string, error) {
	src := o.source(account)
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("platform token for %q: %w", account, err)
	}
	return tok.AccessToken, nil
}

func (o *OIDCTokens) source(account string) oauth2.TokenSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	if src, ok := o.sources[account]; ok {
		return src
	}
	cc := clientcredentials.Config{
		ClientID:     o.cfg.OIDCClientID,
		ClientSecret: o.cfg.OIDCClientSecret,
		TokenURL:     o.tokenURL,
		Scopes:       o.cfg.OIDCScopes,
	}
	if account != "" && o.cfg.OIDCAudienceKey != "" {
		cc.EndpointParams = url.Values{o.cfg.OIDCAudienceKey: {account}}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.client)
	src := oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))
	o.sources[account] = src
	return src
}

// RequireToken rejects requests whose bearer token does not match token.
// An empty token disables the check.
func RequireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := BearerToken(r)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
