package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const markerExpiryRuleID = "expire-rollback-markers"

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureBucket creates the markers bucket when it does not exist yet and
// applies the marker retention rule.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketMarkers)
	if err != nil {
		return fmt.Errorf("markers bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketMarkers, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("ensure markers bucket: %w", err)
		}
	}
	if cfg.MarkerRetentionDays == 0 {
		return nil
	}
	if err := client.SetBucketLifecycle(ctx, cfg.BucketMarkers, markerLifecycle(cfg.MarkerRetentionDays)); err != nil {
		return fmt.Errorf("markers lifecycle: %w", err)
	}
	return nil
}

func markerLifecycle(days int) *lifecycle.Configuration {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         markerExpiryRuleID,
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: MarkerPrefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return cfg
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketMarkers)
	if err != nil {
		return fmt.Errorf("markers bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("markers bucket missing: %s", cfg.BucketMarkers)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
