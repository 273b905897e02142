package boundary

import (
	"testing"
	"time"
)

func TestPreviousVersionByReleaseTime(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	history := []AppVersion{
		{Version: "1.2.0", ReleasedAt: base.Add(2 * time.Hour)},
		{Version: "1.0.0", ReleasedAt: base},
		{Version: "1.1.0", ReleasedAt: base.Add(time.Hour)},
	}
	got, ok := PreviousVersion(history)
	if !ok || got != "1.1.0" {
		t.Fatalf("PreviousVersion()=%q ok=%v, want 1.1.0", got, ok)
	}
}

func TestPreviousVersionListedOrder(t *testing.T) {
	history := []AppVersion{{Version: "0.9.0"}, {Version: "1.0.0"}, {Version: "1.1.0"}}
	got, ok := PreviousVersion(history)
	if !ok || got != "1.0.0" {
		t.Fatalf("PreviousVersion()=%q ok=%v, want 1.0.0", got, ok)
	}
	if _, ok := PreviousVersion(history[:1]); ok {
		t.Fatalf("single entry history has no previous version")
	}
}

func TestInstalledAppHealthy(t *testing.T) {
	if !(InstalledApp{Status: "Healthy"}).Healthy() {
		t.Fatalf("expected healthy")
	}
	if (InstalledApp{Status: "degraded"}).Healthy() {
		t.Fatalf("expected unhealthy")
	}
}
