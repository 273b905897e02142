package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/boundary/boundarytest"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/lease"
	"github.com/animus-labs/animus-deploy/internal/ledger"
	"github.com/animus-labs/animus-deploy/internal/platform/auth"
	"github.com/animus-labs/animus-deploy/internal/rollback"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(10 * time.Millisecond)
	return c.t
}

type fixedVersion struct {
	version string
	err     error
}

func (f fixedVersion) BaseVersion(context.Context) (string, error) {
	return f.version, f.err
}

type recordingApprover struct {
	mu       sync.Mutex
	allow    bool
	requests []ApprovalRequest
}

func (a *recordingApprover) Approve(_ context.Context, req ApprovalRequest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return a.allow, nil
}

type harness struct {
	orch     *Orchestrator
	platform *boundarytest.Platform
	gate     *boundarytest.Gate
	vcs      *boundarytest.VCS
	sink     *boundarytest.Sink
	store    *ledger.MemoryStore
	leaser   *lease.MemoryLeaser
	approver *recordingApprover
}

func testConfig() Config {
	return Config{
		App:                   "shop",
		QAAccount:             "acme-qa",
		QAWorkspace:           "qa",
		ProductionAccount:     "acme-prod",
		ProductionWorkspace:   "live",
		VerificationWorkspace: "verify",
		QAStepTimeout:         5 * time.Second,
		ProductionStepTimeout: 5 * time.Second,
		LeaseWait:             50 * time.Millisecond,
	}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &testClock{t: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		platform: boundarytest.NewPlatform("shop", "1.0.0", "1.1.0"),
		gate:     boundarytest.NewGate(),
		vcs:      boundarytest.NewVCS(),
		sink:     &boundarytest.Sink{},
		store:    ledger.NewMemoryStore(),
		leaser:   lease.NewMemoryLeaser(),
		approver: &recordingApprover{},
	}
	l := ledger.New(h.store, ledger.WithClock(clock.Now))
	tokens := auth.StaticTokens{"": "token"}

	rb, err := rollback.New(rollback.Config{
		App: "shop",
		Targets: map[domain.Environment]lease.Key{
			domain.EnvironmentProduction: {Account: cfg.ProductionAccount, Workspace: cfg.ProductionWorkspace},
			domain.EnvironmentQA:         {Account: cfg.QAAccount, Workspace: cfg.QAWorkspace},
		},
		HealthTimeout:  time.Second,
		HealthInterval: time.Millisecond,
	}, rollback.Deps{
		Platform: h.platform,
		Tokens:   tokens,
		Ledger:   l,
		Leaser:   h.leaser,
		Sink:     h.sink,
		Logger:   logger,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("rollback.New() err=%v", err)
	}

	h.orch, err = New(cfg, Deps{
		Ledger:   l,
		Platform: h.platform,
		VCS:      h.vcs,
		Gate:     h.gate,
		Sink:     h.sink,
		Tokens:   tokens,
		Leaser:   h.leaser,
		Rollback: rb,
		Versions: fixedVersion{version: "1.2.0"},
		Approver: h.approver,
		Logger:   logger,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return h
}

func calledWithPrefix(calls []string, prefix string) bool {
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VerificationWorkspace = "live"
	if _, err := New(cfg, Deps{}); err == nil {
		t.Fatalf("expected error when verification workspace equals live workspace")
	}
	cfg = testConfig()
	cfg.QAStepTimeout = 0
	if _, err := New(cfg, Deps{}); err == nil {
		t.Fatalf("expected error for zero step timeout")
	}
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Fatalf("expected error for missing platform")
	}
}

var qaVersionPattern = regexp.MustCompile(`^1\.2\.0-qa\.\d{17}$`)

func TestDeployToQASucceeds(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{})
	if err != nil {
		t.Fatalf("DeployToQA() err=%v", err)
	}
	if rec.Status != domain.DeployStatusSuccess {
		t.Fatalf("status=%s, want success", rec.Status)
	}
	if rec.EndTime == nil || rec.EndTime.Before(rec.StartTime) {
		t.Fatalf("end time %v not after start %v", rec.EndTime, rec.StartTime)
	}
	if !qaVersionPattern.MatchString(rec.Version) {
		t.Fatalf("version=%q does not match QA pattern", rec.Version)
	}
	if rec.Account != "acme-qa" || rec.Workspace != "qa" {
		t.Fatalf("unexpected target %s/%s", rec.Account, rec.Workspace)
	}
	if got := h.platform.InstalledVersion(); got != rec.Version {
		t.Fatalf("installed=%s, want %s", got, rec.Version)
	}
	calls := h.platform.CallLog()
	if !calledWithPrefix(calls, "release "+rec.Version+" beta") {
		t.Fatalf("expected beta release, calls=%v", calls)
	}
	if !calledWithPrefix(calls, "workspace qa") {
		t.Fatalf("expected qa workspace, calls=%v", calls)
	}
	if !h.gate.Called("unit_tests") {
		t.Fatalf("expected unit tests to run")
	}
	if h.sink.DeploymentCount() != 1 {
		t.Fatalf("notifications=%d, want 1", h.sink.DeploymentCount())
	}
	for _, phase := range []Phase{PhaseValidating, PhaseAuthenticating, PhaseReleasing, PhaseInstalling, PhaseVerifying} {
		if !rec.HasLog("[" + string(phase) + "]") {
			t.Fatalf("missing %s phase log", phase)
		}
	}

	stored, err := h.orch.GetDeployStatus(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetDeployStatus() err=%v", err)
	}
	if stored.Status != domain.DeployStatusSuccess || len(stored.Logs) != len(rec.Logs) {
		t.Fatalf("stored record differs: %+v", stored)
	}
}

func TestDeployToQAVersionsAreUnique(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.orch.DeployToQA(ctx, QAOptions{})
	if err != nil {
		t.Fatalf("first DeployToQA() err=%v", err)
	}
	second, err := h.orch.DeployToQA(ctx, QAOptions{})
	if err != nil {
		t.Fatalf("second DeployToQA() err=%v", err)
	}
	if first.Version == "1.2.0" || second.Version == "1.2.0" {
		t.Fatalf("QA versions must differ from base")
	}
	if first.Version == second.Version {
		t.Fatalf("QA versions collided: %s", first.Version)
	}
}

func TestDeployToQAFallsBackToTag(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.versions = fixedVersion{err: errors.New("no manifest")}
	h.vcs.Tag = "v0.9.1"

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{SkipTests: true})
	if err != nil {
		t.Fatalf("DeployToQA() err=%v", err)
	}
	if !strings.HasPrefix(rec.Version, "0.9.1-qa.") {
		t.Fatalf("version=%s, want 0.9.1 base", rec.Version)
	}
	if h.gate.Called("unit_tests") {
		t.Fatalf("unit tests ran despite SkipTests")
	}
}

func TestDeployToQADirtyTree(t *testing.T) {
	h := newHarness(t, nil)
	h.vcs.Clean = false

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{})
	if err == nil {
		t.Fatalf("expected error for dirty tree")
	}
	if domain.KindOf(err) != domain.KindValidationFailed || domain.StepOf(err) != "prerequisites" {
		t.Fatalf("kind=%s step=%s", domain.KindOf(err), domain.StepOf(err))
	}
	if rec.Status != domain.DeployStatusFailed || rec.Error == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if calledWithPrefix(h.platform.CallLog(), "release") {
		t.Fatalf("release must not run")
	}

	rec, err = h.orch.DeployToQA(context.Background(), QAOptions{Force: true})
	if err != nil {
		t.Fatalf("forced DeployToQA() err=%v", err)
	}
	if !rec.HasLog("continuing because force is set") {
		t.Fatalf("missing force log")
	}
}

func TestDeployToQASwitchesBranch(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.orch.DeployToQA(context.Background(), QAOptions{Branch: "feature/cart"}); err != nil {
		t.Fatalf("DeployToQA() err=%v", err)
	}
	if len(h.vcs.Switched) != 1 || h.vcs.Switched[0] != "feature/cart" {
		t.Fatalf("switched=%v", h.vcs.Switched)
	}
}

func TestDeployToQAGateFailureAndForce(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.Set("unit_tests", boundary.GateFail, "TestCart failed")
	h.gate.Set("dependencies", boundary.GateWarn, "lodash outdated")

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{})
	if err == nil {
		t.Fatalf("expected gate failure")
	}
	if err.Error() != "unit_tests failed: TestCart failed" {
		t.Fatalf("err=%q", err.Error())
	}
	if !rec.HasLog("dependencies passed with warnings") {
		t.Fatalf("missing warning log")
	}

	rec, err = h.orch.DeployToQA(context.Background(), QAOptions{Force: true})
	if err != nil {
		t.Fatalf("forced DeployToQA() err=%v", err)
	}
	if !rec.HasLog("overridden by policy rule forced-override") {
		t.Fatalf("missing override log: %v", rec.Logs)
	}
}

func TestDeployToQAInstallFailureDoesNotRollback(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.InstallErr = errors.New("Installation failed")

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{})
	if err == nil || err.Error() != "Installation failed" {
		t.Fatalf("err=%v, want Installation failed", err)
	}
	if domain.KindOf(err) != domain.KindInstallFailed {
		t.Fatalf("kind=%s", domain.KindOf(err))
	}
	if rec.RollbackVersion != "" || h.sink.RollbackCount() != 0 {
		t.Fatalf("QA deployments are never rolled back")
	}
	if rec.Status != domain.DeployStatusFailed || h.sink.DeploymentCount() != 1 {
		t.Fatalf("status=%s notifications=%d", rec.Status, h.sink.DeploymentCount())
	}
}

func TestDeployToProductionSucceeds(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "2.0.0-rc.1", AutoApprove: true})
	if err != nil {
		t.Fatalf("DeployToProduction() err=%v", err)
	}
	if rec.Version != "2.0.0" || rec.Status != domain.DeployStatusSuccess {
		t.Fatalf("version=%s status=%s", rec.Version, rec.Status)
	}
	if rec.Workspace != "verify" || rec.Account != "acme-prod" {
		t.Fatalf("unexpected target %s/%s", rec.Account, rec.Workspace)
	}
	calls := h.platform.CallLog()
	if !calledWithPrefix(calls, "release 2.0.0 stable") || calledWithPrefix(calls, "workspace live") {
		t.Fatalf("calls=%v", calls)
	}
	for _, check := range []string{"production_readiness", "security_compliance", "security_scan", "full_tests", "smoke_tests"} {
		if !h.gate.Called(check) {
			t.Fatalf("%s not run", check)
		}
	}
	if len(h.approver.requests) != 0 {
		t.Fatalf("auto-approved release must not prompt")
	}
	if h.sink.DeploymentCount() != 1 || h.sink.RollbackCount() != 0 {
		t.Fatalf("notifications deploy=%d rollback=%d", h.sink.DeploymentCount(), h.sink.RollbackCount())
	}
}

func TestDeployToProductionInstallFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.InstallHook = func(_ context.Context, ref string) error {
		if ref == "shop@2.0.0" {
			return errors.New("Installation failed")
		}
		return nil
	}

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "2.0.0", AutoApprove: true})
	if err == nil || err.Error() != "Installation failed" {
		t.Fatalf("err=%v, want Installation failed", err)
	}
	if rec.RollbackVersion != "1.1.0" {
		t.Fatalf("rollback version=%q, want 1.1.0", rec.RollbackVersion)
	}
	if !rec.HasLog("Auto-rollback completed") {
		t.Fatalf("missing auto-rollback log: %v", rec.Logs)
	}
	if h.sink.RollbackCount() != 1 || h.sink.DeploymentCount() != 1 {
		t.Fatalf("notifications deploy=%d rollback=%d", h.sink.DeploymentCount(), h.sink.RollbackCount())
	}
	rb := h.sink.Rollbacks[0]
	if !rb.Success || rb.DeploymentID != rec.ID || rb.AffectedWorkspaces[0] != "verify" {
		t.Fatalf("unexpected rollback record %+v", rb)
	}
	if rec.Status != domain.DeployStatusFailed {
		t.Fatalf("status=%s", rec.Status)
	}
}

func TestDeployToProductionRollbackFailureKeepsOriginalError(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.Installed["shop"] = boundary.InstalledApp{Name: "shop", Version: "1.0.0", Status: "healthy"}
	h.platform.InstallErr = errors.New("Installation failed")

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "2.0.0", AutoApprove: true})
	if err == nil || err.Error() != "Installation failed" || domain.KindOf(err) != domain.KindInstallFailed {
		t.Fatalf("err=%v kind=%s", err, domain.KindOf(err))
	}
	if !rec.HasLog("Auto-rollback failed: Installation failed") {
		t.Fatalf("missing rollback failure log: %v", rec.Logs)
	}
	if rec.RollbackVersion != "1.1.0" {
		t.Fatalf("rollback version=%q", rec.RollbackVersion)
	}
}

func TestDeployToProductionWithoutPriorVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.Versions = nil
	h.platform.InstallErr = errors.New("Installation failed")

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "1.0.0", AutoApprove: true})
	if err == nil || err.Error() != "Installation failed" {
		t.Fatalf("err=%v", err)
	}
	if rec.RollbackVersion != "" {
		t.Fatalf("rollback version=%q, want empty", rec.RollbackVersion)
	}
	if !rec.HasLog("Auto-rollback skipped: no previous version") || h.sink.RollbackCount() != 0 {
		t.Fatalf("unexpected rollback activity: %v", rec.Logs)
	}
}

func TestProductionReadinessIsNotOverriddenByForce(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.Set("production_readiness", boundary.GateFail, "runbook missing")

	_, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Force: true, AutoApprove: true})
	if err == nil || domain.KindOf(err) != domain.KindValidationFailed {
		t.Fatalf("err=%v, want validation failure", err)
	}
	if calledWithPrefix(h.platform.CallLog(), "release") {
		t.Fatalf("release must not run")
	}

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Emergency: true, AutoApprove: true})
	if err != nil {
		t.Fatalf("emergency DeployToProduction() err=%v", err)
	}
	if !rec.HasLog("production-strict-emergency") {
		t.Fatalf("missing emergency override log")
	}
}

func TestProductionSkipTestsRequiresEmergency(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{SkipTests: true, AutoApprove: true})
	if err != nil {
		t.Fatalf("DeployToProduction() err=%v", err)
	}
	if !h.gate.Called("full_tests") || !rec.HasLog("Skip tests ignored") {
		t.Fatalf("full tests must run without emergency")
	}

	h2 := newHarness(t, nil)
	if _, err := h2.orch.DeployToProduction(context.Background(), ProductionOptions{SkipTests: true, Emergency: true, AutoApprove: true}); err != nil {
		t.Fatalf("emergency DeployToProduction() err=%v", err)
	}
	if h2.gate.Called("full_tests") {
		t.Fatalf("full tests ran for emergency skip")
	}
}

func TestProductionApprovalDeclinedCancels(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "2.0.0"})
	if domain.KindOf(err) != domain.KindCancelled {
		t.Fatalf("kind=%s, want cancelled", domain.KindOf(err))
	}
	if rec.Status != domain.DeployStatusCancelled || rec.EndTime == nil {
		t.Fatalf("status=%s", rec.Status)
	}
	if len(h.approver.requests) != 1 || h.approver.requests[0].Version != "2.0.0" {
		t.Fatalf("approval requests=%+v", h.approver.requests)
	}
	if calledWithPrefix(h.platform.CallLog(), "release") || h.sink.RollbackCount() != 0 {
		t.Fatalf("declined deployment must not release or roll back")
	}
}

func TestForcedSecurityScanNeedsApproval(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.Set("security_scan", boundary.GateFail, "CVE-2026-0001")
	h.approver.allow = true

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Force: true, AutoApprove: true})
	if err != nil {
		t.Fatalf("DeployToProduction() err=%v", err)
	}
	if len(h.approver.requests) != 1 || !strings.Contains(h.approver.requests[0].Reason, "security_scan failed") {
		t.Fatalf("approval requests=%+v", h.approver.requests)
	}
	if !rec.HasLog("overridden after approval") {
		t.Fatalf("missing approval log")
	}
}

func TestEmergencyDoesNotBypassSmokeTests(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.Set("smoke_tests", boundary.GateFail, "checkout returns 500")

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "2.0.0", Emergency: true, Force: true, AutoApprove: true})
	if domain.KindOf(err) != domain.KindValidationFailed || domain.StepOf(err) != "smoke_tests" {
		t.Fatalf("kind=%s step=%s err=%v", domain.KindOf(err), domain.StepOf(err), err)
	}
	if rec.Status != domain.DeployStatusFailed {
		t.Fatalf("status=%s", rec.Status)
	}
	if !rec.HasLog("Auto-rollback completed") || rec.RollbackVersion != "1.1.0" {
		t.Fatalf("failed smoke tests must roll back: %v", rec.Logs)
	}
}

func TestForceDoesNotBypassProductionTests(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.Set("full_tests", boundary.GateFail, "3 failures")

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Force: true, AutoApprove: true})
	if domain.KindOf(err) != domain.KindValidationFailed || domain.StepOf(err) != "full_tests" {
		t.Fatalf("kind=%s step=%s err=%v", domain.KindOf(err), domain.StepOf(err), err)
	}
	if rec.Status != domain.DeployStatusFailed || calledWithPrefix(h.platform.CallLog(), "release") {
		t.Fatalf("status=%s calls=%v", rec.Status, h.platform.CallLog())
	}
}

func TestEmergencySecurityScanNeedsApproval(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.Set("security_scan", boundary.GateFail, "CVE-2026-0002")

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Emergency: true, AutoApprove: true})
	if domain.KindOf(err) != domain.KindValidationFailed || domain.StepOf(err) != "security_scan" {
		t.Fatalf("kind=%s step=%s err=%v", domain.KindOf(err), domain.StepOf(err), err)
	}
	if rec.Status != domain.DeployStatusFailed {
		t.Fatalf("status=%s", rec.Status)
	}
	if len(h.approver.requests) != 1 || !strings.Contains(h.approver.requests[0].Reason, "security_scan failed") {
		t.Fatalf("approval requests=%+v", h.approver.requests)
	}
	if calledWithPrefix(h.platform.CallLog(), "release") {
		t.Fatalf("release must not run")
	}
}

func TestProductionStepTimeoutRollsBack(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ProductionStepTimeout = 50 * time.Millisecond })
	h.platform.InstallHook = func(ctx context.Context, ref string) error {
		if ref != "shop@2.0.0" {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	rec, err := h.orch.DeployToProduction(context.Background(), ProductionOptions{Version: "2.0.0", AutoApprove: true})
	if domain.KindOf(err) != domain.KindTimeout || domain.StepOf(err) != "install" {
		t.Fatalf("kind=%s step=%s", domain.KindOf(err), domain.StepOf(err))
	}
	if rec.Status != domain.DeployStatusFailed {
		t.Fatalf("status=%s", rec.Status)
	}
	if !rec.HasLog("Auto-rollback completed") || rec.RollbackVersion != "1.1.0" {
		t.Fatalf("timeout must drive auto-rollback: %v", rec.Logs)
	}
}

func TestCancellationBetweenSteps(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.approver = ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) {
		cancel()
		return true, nil
	})

	rec, err := h.orch.DeployToProduction(ctx, ProductionOptions{Version: "2.0.0"})
	if domain.KindOf(err) != domain.KindCancelled || domain.StepOf(err) != "release" {
		t.Fatalf("kind=%s step=%s", domain.KindOf(err), domain.StepOf(err))
	}
	if rec.Status != domain.DeployStatusCancelled {
		t.Fatalf("status=%s", rec.Status)
	}
	if h.sink.RollbackCount() != 0 || rec.HasLog("Auto-rollback") {
		t.Fatalf("cancelled deployments are not rolled back")
	}
	stored, err := h.orch.GetDeployStatus(context.Background(), rec.ID)
	if err != nil || stored.Status != domain.DeployStatusCancelled {
		t.Fatalf("stored status=%s err=%v", stored.Status, err)
	}
}

func TestLeaseSerializesSameTarget(t *testing.T) {
	h := newHarness(t, nil)
	held, err := h.leaser.Acquire(context.Background(), lease.Key{Account: "acme-qa", Workspace: "qa"})
	if err != nil {
		t.Fatalf("Acquire() err=%v", err)
	}

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{})
	if domain.KindOf(err) != domain.KindLeaseUnavailable {
		t.Fatalf("kind=%s, want lease_unavailable", domain.KindOf(err))
	}
	if rec.Status != domain.DeployStatusFailed || calledWithPrefix(h.platform.CallLog(), "authenticate") {
		t.Fatalf("deployment must stop before authenticating")
	}

	if _, err := h.orch.DeployToQA(context.Background(), QAOptions{Workspace: "qa-2"}); err != nil {
		t.Fatalf("other workspace DeployToQA() err=%v", err)
	}
	_ = held.Release(context.Background())
	if _, err := h.orch.DeployToQA(context.Background(), QAOptions{}); err != nil {
		t.Fatalf("DeployToQA() after release err=%v", err)
	}
}

func TestNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.Err = errors.New("webhook down")

	rec, err := h.orch.DeployToQA(context.Background(), QAOptions{})
	if err != nil || rec.Status != domain.DeployStatusSuccess {
		t.Fatalf("status=%s err=%v", rec.Status, err)
	}
	if h.sink.DeploymentCount() != 1 {
		t.Fatalf("notifications=%d", h.sink.DeploymentCount())
	}
}

func TestDeploymentHistory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.orch.DeployToQA(ctx, QAOptions{SkipTests: true}); err != nil {
			t.Fatalf("DeployToQA() err=%v", err)
		}
	}
	if _, err := h.orch.DeployToProduction(ctx, ProductionOptions{AutoApprove: true}); err != nil {
		t.Fatalf("DeployToProduction() err=%v", err)
	}

	history, err := h.orch.GetDeploymentHistory(ctx, domain.EnvironmentQA, 2)
	if err != nil {
		t.Fatalf("GetDeploymentHistory() err=%v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len=%d, want 2", len(history))
	}
	for _, rec := range history {
		if rec.Environment != domain.EnvironmentQA {
			t.Fatalf("unexpected environment %s", rec.Environment)
		}
	}
	if history[0].StartTime.Before(history[1].StartTime) {
		t.Fatalf("history not newest first")
	}

	if _, err := h.orch.GetDeployStatus(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestManualRollbackUnknownVersion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.orch.DeployToQA(ctx, QAOptions{}); err != nil {
		t.Fatalf("DeployToQA() err=%v", err)
	}
	before, _ := h.store.List(ctx, ledger.Filter{Limit: 100})

	_, err := h.orch.Rollback(ctx, rollback.Request{TargetVersion: "9.9.9", Environment: domain.EnvironmentProduction})
	if domain.KindOf(err) != domain.KindVersionNotFound {
		t.Fatalf("kind=%s, want version_not_found", domain.KindOf(err))
	}
	after, _ := h.store.List(ctx, ledger.Filter{Limit: 100})
	if len(before) != len(after) {
		t.Fatalf("ledger changed: %d -> %d records", len(before), len(after))
	}
	for i := range before {
		if len(before[i].Logs) != len(after[i].Logs) || before[i].Status != after[i].Status {
			t.Fatalf("record %s changed", before[i].ID)
		}
	}
}

func TestPreviousVersion(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dated := []boundary.AppVersion{
		{Version: "1.0.0", ReleasedAt: base},
		{Version: "1.2.0", ReleasedAt: base.Add(2 * time.Hour)},
		{Version: "1.1.0", ReleasedAt: base.Add(time.Hour)},
	}
	if got := previousVersion(dated, true); got != "1.1.0" {
		t.Fatalf("released: got %s", got)
	}
	if got := previousVersion(dated, false); got != "1.2.0" {
		t.Fatalf("not released: got %s", got)
	}
	if got := previousVersion(nil, false); got != "" {
		t.Fatalf("empty: got %s", got)
	}
}
