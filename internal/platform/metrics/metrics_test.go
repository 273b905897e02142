package metrics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDeployment("qa", "success", time.Second)
	m.ObserveRollback("production", false, "auto")
	m.ObserveStep("qa", "install", nil, time.Second)
	m.ObserveLeaseWait(time.Millisecond)
	m.NotificationFailed("deployment")
	m.ObserveHTTP("GET", "/healthz", 200)
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveDeployment("production", "failed", 2*time.Second)
	m.ObserveDeployment("production", "failed", time.Second)
	m.ObserveRollback("production", true, "auto")
	m.ObserveStep("production", "install", errors.New("boom"), time.Second)

	if got := testutil.ToFloat64(m.deployments.WithLabelValues("production", "failed")); got != 2 {
		t.Fatalf("deployments_total=%v", got)
	}
	if got := testutil.ToFloat64(m.rollbacks.WithLabelValues("production", "success", "auto")); got != 1 {
		t.Fatalf("rollbacks_total=%v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveDeployment("qa", "success", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `animus_deploy_deployments_total{environment="qa",status="success"} 1`) {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestPushSendsDeploymentSeries(t *testing.T) {
	var (
		method, path string
		body         []byte
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	m := New()
	m.ObserveDeployment("production", "failed", 3*time.Second)
	m.ObserveRollback("production", true, "auto")
	m.ObserveHTTP("GET", "/healthz", 200)

	cfg := PushConfig{URL: gateway.URL, Job: "deployctl", Timeout: time.Second}
	if err := m.Push(context.Background(), cfg, "deploy:prod", gateway.Client()); err != nil {
		t.Fatalf("Push() err=%v", err)
	}
	if method != http.MethodPut {
		t.Fatalf("method=%s, want PUT", method)
	}
	if path != "/metrics/job/deployctl/command/deploy:prod" {
		t.Fatalf("path=%s", path)
	}
	// The default push format is protobuf; metric names appear verbatim.
	for _, want := range []string{"animus_deploy_deployments_total", "animus_deploy_rollbacks_total"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Fatalf("pushed body missing %s", want)
		}
	}
	if bytes.Contains(body, []byte("animus_deploy_http_requests_total")) {
		t.Fatalf("http series must not be pushed")
	}
}

func TestPushDisabledAndErrors(t *testing.T) {
	m := New()
	if err := m.Push(context.Background(), PushConfig{}, "deploy:qa", nil); err != nil {
		t.Fatalf("disabled Push() err=%v", err)
	}

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer gateway.Close()
	cfg := PushConfig{URL: gateway.URL, Job: "deployctl", Timeout: time.Second}
	if err := m.Push(context.Background(), cfg, "rollback", gateway.Client()); err == nil {
		t.Fatalf("expected gateway error")
	}
}

func TestPushConfigValidate(t *testing.T) {
	if err := (PushConfig{}).Validate(); err != nil {
		t.Fatalf("disabled config invalid: %v", err)
	}
	bad := PushConfig{URL: "pushgateway:9091", Job: "deployctl", Timeout: time.Second}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected scheme error")
	}
	bad = PushConfig{URL: "http://pushgateway:9091", Job: "deployctl"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected timeout error")
	}
}
