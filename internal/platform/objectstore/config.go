package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/animus-labs/animus-deploy/internal/platform/env"
)

// MarkerPrefix is the object prefix rollback markers are written under.
const MarkerPrefix = "rollback-markers/"

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketMarkers string

	// MarkerRetentionDays expires markers after that many days; 0 keeps them.
	MarkerRetentionDays int
}

// ConfigFromEnv returns a zero Config when DEPLOY_MINIO_ENDPOINT is unset;
// backup markers are then kept nowhere.
func ConfigFromEnv() (Config, error) {
	endpoint := env.String("DEPLOY_MINIO_ENDPOINT", "")
	if endpoint == "" {
		return Config{}, nil
	}
	useSSL, err := env.Bool("DEPLOY_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	retention, err := env.Int("DEPLOY_MINIO_MARKER_RETENTION_DAYS", 90)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:            endpoint,
		AccessKey:           env.String("DEPLOY_MINIO_ACCESS_KEY", ""),
		SecretKey:           env.String("DEPLOY_MINIO_SECRET_KEY", ""),
		Region:              env.String("DEPLOY_MINIO_REGION", "us-east-1"),
		UseSSL:              useSSL,
		BucketMarkers:       env.String("DEPLOY_MINIO_BUCKET_MARKERS", "deploy-markers"),
		MarkerRetentionDays: retention,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketMarkers) == "" {
		return errors.New("markers bucket is required")
	}
	if err := s3utils.CheckValidBucketNameStrict(c.BucketMarkers); err != nil {
		return fmt.Errorf("markers bucket: %w", err)
	}
	if c.MarkerRetentionDays < 0 {
		return errors.New("marker retention days must be >= 0")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
