package gate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/runtimeexec"
)

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func newTestGate(t *testing.T, cfg Config, runner runtimeexec.Runner) *CommandGate {
	t.Helper()
	if cfg.ManifestFile == "" {
		cfg.ManifestFile = "manifest.json"
	}
	g, err := New(cfg, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return g
}

func TestValidateManifest(t *testing.T) {
	dir := t.TempDir()
	g := newTestGate(t, Config{Dir: dir}, runtimeexec.NewScripted())

	res, err := g.ValidateManifest(context.Background())
	if err != nil || res.Status != boundary.GateFail {
		t.Fatalf("missing manifest: res=%+v err=%v", res, err)
	}

	writeManifest(t, dir, `{"name":"shop","version":"1.2.0"}`)
	res, _ = g.ValidateManifest(context.Background())
	if res.Status != boundary.GateWarn || len(res.Issues) != 1 {
		t.Fatalf("no description: res=%+v", res)
	}

	writeManifest(t, dir, `{"name":"shop","version":"1.2.0","description":"storefront"}`)
	res, _ = g.ValidateManifest(context.Background())
	if res.Status != boundary.GatePass {
		t.Fatalf("valid manifest: res=%+v", res)
	}

	writeManifest(t, dir, `{"name":"shop","version":"latest","description":"storefront"}`)
	res, _ = g.ValidateManifest(context.Background())
	if res.Status != boundary.GateFail {
		t.Fatalf("bad version: res=%+v", res)
	}
}

func TestCheckDependencies(t *testing.T) {
	dir := t.TempDir()
	g := newTestGate(t, Config{Dir: dir}, runtimeexec.NewScripted())

	writeManifest(t, dir, `{"name":"shop","version":"1.0.0","dependencies":{"payments":"^2.0.0","search":"*"}}`)
	res, _ := g.CheckDependencies(context.Background())
	if res.Status != boundary.GateWarn {
		t.Fatalf("res=%+v", res)
	}

	writeManifest(t, dir, `{"name":"shop","version":"1.0.0","dependencies":{"payments":""}}`)
	res, _ = g.CheckDependencies(context.Background())
	if res.Status != boundary.GateFail {
		t.Fatalf("res=%+v", res)
	}
}

func TestRunTestsUsesScopeCommand(t *testing.T) {
	runner := runtimeexec.NewScripted()
	runner.On("make test-full", runtimeexec.Result{ExitCode: 2, Stdout: "ok pkg/a\nFAIL pkg/b\n"}, &runtimeexec.ExitError{Command: "make test-full", ExitCode: 2})
	g := newTestGate(t, Config{Dir: t.TempDir(), UnitTestCmd: "make test", FullTestCmd: "make test-full"}, runner)

	res, err := g.RunTests(context.Background(), boundary.TestScopeUnit)
	if err != nil || res.Status != boundary.GatePass {
		t.Fatalf("unit: res=%+v err=%v", res, err)
	}
	res, err = g.RunTests(context.Background(), boundary.TestScopeFull)
	if err != nil || res.Status != boundary.GateFail {
		t.Fatalf("full: res=%+v err=%v", res, err)
	}
	if res.Issues[len(res.Issues)-1] != "FAIL pkg/b" {
		t.Fatalf("Issues=%v", res.Issues)
	}
	res, err = g.RunTests(context.Background(), boundary.TestScopeSmoke)
	if err != nil || res.Status != boundary.GateWarn {
		t.Fatalf("smoke unconfigured: res=%+v err=%v", res, err)
	}
	if _, err := g.RunTests(context.Background(), boundary.TestScope("chaos")); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
}

func TestProductionReadinessRequiresChangelog(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"name":"shop","version":"1.2.0","description":"storefront"}`)
	g := newTestGate(t, Config{Dir: dir, RequireChangelog: true, ChangelogFile: "CHANGELOG.md"}, runtimeexec.NewScripted())

	res, _ := g.ValidateProductionReadiness(context.Background())
	if res.Status != boundary.GateFail {
		t.Fatalf("res=%+v", res)
	}
	if err := os.WriteFile(filepath.Join(dir, "CHANGELOG.md"), []byte("# 1.2.0\n"), 0o600); err != nil {
		t.Fatalf("write changelog: %v", err)
	}
	res, _ = g.ValidateProductionReadiness(context.Background())
	if res.Status != boundary.GatePass {
		t.Fatalf("res=%+v", res)
	}
}

func TestBaseVersion(t *testing.T) {
	dir := t.TempDir()
	g := newTestGate(t, Config{Dir: dir}, runtimeexec.NewScripted())
	if _, err := g.BaseVersion(context.Background()); err == nil {
		t.Fatalf("expected error without manifest")
	}
	writeManifest(t, dir, `{"name":"shop","version":" 2.3.4 "}`)
	v, err := g.BaseVersion(context.Background())
	if err != nil || v != "2.3.4" {
		t.Fatalf("BaseVersion()=%q err=%v", v, err)
	}
}
