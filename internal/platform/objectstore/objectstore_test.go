package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketMarkers: "deploy-markers",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if !valid.Enabled() {
		t.Fatalf("Enabled() = false")
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.BucketMarkers = ""
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing bucket")
	}
}

func TestConfigFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("DEPLOY_MINIO_ENDPOINT", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled() {
		t.Fatalf("expected disabled config")
	}
}

func TestNewMinIOClient(t *testing.T) {
	client, err := NewMinIOClient(Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketMarkers: "deploy-markers",
	})
	if err != nil || client == nil {
		t.Fatalf("NewMinIOClient() err=%v", err)
	}
}

func TestConfigValidateBucketName(t *testing.T) {
	cfg := Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Region: "us-east-1", BucketMarkers: "Deploy_Markers"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid bucket name error")
	}
	cfg.BucketMarkers = "deploy-markers"
	cfg.MarkerRetentionDays = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative retention error")
	}
}

func TestMarkerLifecycle(t *testing.T) {
	cfg := markerLifecycle(30)
	if len(cfg.Rules) != 1 {
		t.Fatalf("rules=%d, want 1", len(cfg.Rules))
	}
	rule := cfg.Rules[0]
	if rule.ID != markerExpiryRuleID || rule.Status != "Enabled" {
		t.Fatalf("rule=%+v", rule)
	}
	if rule.RuleFilter.Prefix != MarkerPrefix {
		t.Fatalf("prefix=%q, want %q", rule.RuleFilter.Prefix, MarkerPrefix)
	}
	if int(rule.Expiration.Days) != 30 {
		t.Fatalf("days=%d, want 30", rule.Expiration.Days)
	}
}
