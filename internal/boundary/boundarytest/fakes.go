// Package boundarytest provides in-memory implementations of the boundary
// contracts for tests.
package boundarytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
)

// Platform is a scripted PlatformClient. Installing a reference moves the
// app to that version; InstallErr makes every install fail.
type Platform struct {
	mu sync.Mutex

	App       string
	Installed map[string]boundary.InstalledApp
	Versions  []boundary.AppVersion
	Account   string
	Workspace string

	AvailableErr    error
	AuthErr         error
	ReleaseErr      error
	InstallErr      error
	ListErr         error
	VersionsErr     error
	UnhealthyStatus string
	// InstallHook runs before each install and may block or fail it.
	InstallHook func(ctx context.Context, reference string) error

	Calls []string
}

func NewPlatform(app string, versions ...string) *Platform {
	p := &Platform{App: app, Installed: map[string]boundary.InstalledApp{}}
	for _, v := range versions {
		p.Versions = append(p.Versions, boundary.AppVersion{Version: v})
	}
	if len(versions) > 0 {
		last := versions[len(versions)-1]
		p.Installed[app] = boundary.InstalledApp{Name: app, Version: last, Status: "healthy"}
	}
	return p
}

func (p *Platform) record(call string) {
	p.Calls = append(p.Calls, call)
}

func (p *Platform) CallLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

func (p *Platform) Available(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("available")
	return p.AvailableErr
}

func (p *Platform) WhoAmI(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("whoami")
	if p.Account == "" {
		return "tester", nil
	}
	return p.Account, nil
}

func (p *Platform) Authenticate(ctx context.Context, account, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("authenticate " + account)
	if p.AuthErr != nil {
		return p.AuthErr
	}
	if token == "" {
		return errors.New("empty token")
	}
	p.Account = account
	return nil
}

func (p *Platform) UseWorkspace(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("workspace " + name)
	p.Workspace = name
	return nil
}

func (p *Platform) Release(ctx context.Context, version, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("release " + version + " " + tag)
	if p.ReleaseErr != nil {
		return p.ReleaseErr
	}
	p.Versions = append(p.Versions, boundary.AppVersion{Version: version, Tag: tag})
	return nil
}

func (p *Platform) InstallApp(ctx context.Context, reference string) error {
	p.mu.Lock()
	hook := p.InstallHook
	p.record("install " + reference)
	p.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, reference); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InstallErr != nil {
		return p.InstallErr
	}
	name, version, ok := strings.Cut(reference, "@")
	if !ok {
		return errors.New("invalid reference " + reference)
	}
	status := "healthy"
	if p.UnhealthyStatus != "" {
		status = p.UnhealthyStatus
	}
	p.Installed[name] = boundary.InstalledApp{Name: name, Version: version, Status: status}
	return nil
}

func (p *Platform) ListInstalledApps(ctx context.Context) ([]boundary.InstalledApp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("list")
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	out := make([]boundary.InstalledApp, 0, len(p.Installed))
	for _, app := range p.Installed {
		out = append(out, app)
	}
	return out, nil
}

func (p *Platform) GetAppVersions(ctx context.Context, name string) ([]boundary.AppVersion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("versions " + name)
	if p.VersionsErr != nil {
		return nil, p.VersionsErr
	}
	return append([]boundary.AppVersion(nil), p.Versions...), nil
}

func (p *Platform) InstalledVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Installed[p.App].Version
}

// Gate returns a fixed result per check. Unset checks pass.
type Gate struct {
	mu      sync.Mutex
	Results map[string]boundary.GateResult
	Errs    map[string]error
	Calls   []string
}

func NewGate() *Gate {
	return &Gate{Results: map[string]boundary.GateResult{}, Errs: map[string]error{}}
}

func (g *Gate) Set(check string, status boundary.GateStatus, issues ...string) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Results[check] = boundary.GateResult{Status: status, Issues: issues}
	return g
}

func (g *Gate) result(check string) (boundary.GateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, check)
	if err := g.Errs[check]; err != nil {
		return boundary.GateResult{}, err
	}
	if res, ok := g.Results[check]; ok {
		return res, nil
	}
	return boundary.GateResult{Status: boundary.GatePass}, nil
}

func (g *Gate) Called(check string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.Calls {
		if c == check {
			return true
		}
	}
	return false
}

func (g *Gate) ValidateManifest(ctx context.Context) (boundary.GateResult, error) {
	return g.result("manifest")
}

func (g *Gate) CheckDependencies(ctx context.Context) (boundary.GateResult, error) {
	return g.result("dependencies")
}

func (g *Gate) SecurityScan(ctx context.Context) (boundary.GateResult, error) {
	return g.result("security_scan")
}

func (g *Gate) RunTests(ctx context.Context, scope boundary.TestScope) (boundary.GateResult, error) {
	return g.result(string(scope) + "_tests")
}

func (g *Gate) ValidateProductionReadiness(ctx context.Context) (boundary.GateResult, error) {
	return g.result("production_readiness")
}

func (g *Gate) CheckSecurityCompliance(ctx context.Context) (boundary.GateResult, error) {
	return g.result("security_compliance")
}

// VCS is an in-memory VersionControl.
type VCS struct {
	mu       sync.Mutex
	Clean    bool
	Branch   string
	Tag      string
	CleanErr error
	TagErr   error
	Switched []string
}

func NewVCS() *VCS {
	return &VCS{Clean: true, Branch: "main"}
}

func (v *VCS) IsClean(ctx context.Context) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Clean, v.CleanErr
}

func (v *VCS) CurrentBranch(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Branch, nil
}

func (v *VCS) SwitchBranch(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Switched = append(v.Switched, name)
	v.Branch = name
	return nil
}

func (v *VCS) LatestTag(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.TagErr != nil {
		return "", v.TagErr
	}
	return v.Tag, nil
}

// Sink records every notification.
type Sink struct {
	mu          sync.Mutex
	Deployments []domain.DeploymentRecord
	Rollbacks   []domain.RollbackRecord
	Err         error
}

func (s *Sink) SendDeploymentNotification(ctx context.Context, record domain.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deployments = append(s.Deployments, record.Clone())
	return s.Err
}

func (s *Sink) SendRollbackNotification(ctx context.Context, record domain.RollbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rollbacks = append(s.Rollbacks, record)
	return s.Err
}

func (s *Sink) DeploymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Deployments)
}

func (s *Sink) RollbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Rollbacks)
}

var (
	_ boundary.PlatformClient   = (*Platform)(nil)
	_ boundary.ValidationGate   = (*Gate)(nil)
	_ boundary.VersionControl   = (*VCS)(nil)
	_ boundary.NotificationSink = (*Sink)(nil)
)
