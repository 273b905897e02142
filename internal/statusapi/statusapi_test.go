package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/ledger"
)

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Ledger) {
	t.Helper()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	mux := http.NewServeMux()
	New(slog.New(slog.NewTextHandler(io.Discard, nil)), l).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, l
}

func TestGetDeployment(t *testing.T) {
	srv, l := newTestServer(t)
	rec, err := l.Begin(context.Background(), domain.EnvironmentQA, "acme-qa", "qa")
	if err != nil {
		t.Fatalf("Begin() err=%v", err)
	}

	resp, err := http.Get(srv.URL + "/deployments/" + rec.ID)
	if err != nil {
		t.Fatalf("GET err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	var got domain.DeploymentRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if got.ID != rec.ID || got.Status != domain.DeployStatusInProgress {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/deployments/missing")
	if err != nil {
		t.Fatalf("GET err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}

func TestListDeployments(t *testing.T) {
	srv, l := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Begin(ctx, domain.EnvironmentQA, "acme-qa", "qa"); err != nil {
			t.Fatalf("Begin() err=%v", err)
		}
	}
	if _, err := l.Begin(ctx, domain.EnvironmentProduction, "acme-prod", "verify"); err != nil {
		t.Fatalf("Begin() err=%v", err)
	}

	resp, err := http.Get(srv.URL + "/deployments?environment=qa&limit=2")
	if err != nil {
		t.Fatalf("GET err=%v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Deployments []domain.DeploymentRecord `json:"deployments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if len(body.Deployments) != 2 {
		t.Fatalf("len=%d, want 2", len(body.Deployments))
	}
	for _, rec := range body.Deployments {
		if rec.Environment != domain.EnvironmentQA {
			t.Fatalf("unexpected environment %s", rec.Environment)
		}
	}
}

func TestListDeploymentsRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, query := range []string{"environment=staging", "limit=-1", "limit=abc"} {
		resp, err := http.Get(srv.URL + "/deployments?" + query)
		if err != nil {
			t.Fatalf("GET err=%v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status=%d, want 400", query, resp.StatusCode)
		}
	}
}

func TestParseLimitClamps(t *testing.T) {
	got, err := parseLimit("5000")
	if err != nil || got != maxLimit {
		t.Fatalf("parseLimit(5000)=%d err=%v", got, err)
	}
	got, err = parseLimit("")
	if err != nil || got != 0 {
		t.Fatalf("parseLimit(\"\")=%d err=%v", got, err)
	}
}
