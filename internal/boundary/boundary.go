// Package boundary declares the external systems the orchestrator drives.
//
// Nothing in this package talks to the outside world; adapters live in
// platformcli, vcs, gate and notify. All calls block until the external
// system answers or ctx is done.
package boundary

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/animus-deploy/internal/domain"
)

// GateStatus is the outcome of a single validation check.
type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateWarn GateStatus = "warn"
	GateFail GateStatus = "fail"
)

type GateResult struct {
	Status GateStatus
	Issues []string
}

func (r GateResult) Summary() string {
	if len(r.Issues) == 0 {
		return string(r.Status)
	}
	return string(r.Status) + ": " + strings.Join(r.Issues, "; ")
}

// TestScope selects which suite RunTests executes.
type TestScope string

const (
	TestScopeUnit  TestScope = "unit"
	TestScopeFull  TestScope = "full"
	TestScopeSmoke TestScope = "smoke"
)

type ValidationGate interface {
	ValidateManifest(ctx context.Context) (GateResult, error)
	CheckDependencies(ctx context.Context) (GateResult, error)
	SecurityScan(ctx context.Context) (GateResult, error)
	RunTests(ctx context.Context, scope TestScope) (GateResult, error)
	ValidateProductionReadiness(ctx context.Context) (GateResult, error)
	CheckSecurityCompliance(ctx context.Context) (GateResult, error)
}

// InstalledApp is one entry of the workspace's installed app list.
type InstalledApp struct {
	Name    string
	Version string
	Status  string
}

func (a InstalledApp) Healthy() bool {
	switch strings.ToLower(strings.TrimSpace(a.Status)) {
	case "", "healthy", "installed", "ok", "active":
		return true
	default:
		return false
	}
}

// AppVersion is one registered release of an app.
type AppVersion struct {
	Version    string
	Tag        string
	ReleasedAt time.Time
}

type PlatformClient interface {
	// Available reports whether the platform tooling can be driven at all.
	Available(ctx context.Context) error
	WhoAmI(ctx context.Context) (string, error)
	Authenticate(ctx context.Context, account, token string) error
	UseWorkspace(ctx context.Context, name string) error
	Release(ctx context.Context, version, tag string) error
	InstallApp(ctx context.Context, reference string) error
	ListInstalledApps(ctx context.Context) ([]InstalledApp, error)
	GetAppVersions(ctx context.Context, name string) ([]AppVersion, error)
}

type VersionControl interface {
	IsClean(ctx context.Context) (bool, error)
	CurrentBranch(ctx context.Context) (string, error)
	SwitchBranch(ctx context.Context, name string) error
	LatestTag(ctx context.Context) (string, error)
}

// NotificationSink delivers terminal records. Callers ignore delivery errors
// beyond logging them.
type NotificationSink interface {
	SendDeploymentNotification(ctx context.Context, record domain.DeploymentRecord) error
	SendRollbackNotification(ctx context.Context, record domain.RollbackRecord) error
}

// AppReference formats the install reference understood by the platform.
func AppReference(app, version string) string {
	return app + "@" + version
}

// FindInstalled returns the installed entry for app, if any.
func FindInstalled(apps []InstalledApp, app string) (InstalledApp, bool) {
	for _, a := range apps {
		if a.Name == app {
			return a, true
		}
	}
	return InstalledApp{}, false
}

// PreviousVersion returns the second-most-recent registered version.
// When any entry lacks a release time the listed order (oldest first) is used.
func PreviousVersion(history []AppVersion) (string, bool) {
	if len(history) < 2 {
		return "", false
	}
	for _, v := range history {
		if v.ReleasedAt.IsZero() {
			return history[len(history)-2].Version, true
		}
	}
	sorted := make([]AppVersion, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReleasedAt.After(sorted[j].ReleasedAt)
	})
	return sorted[1].Version, true
}

// HasVersion reports whether version is registered.
func HasVersion(history []AppVersion, version string) bool {
	for _, v := range history {
		if v.Version == version {
			return true
		}
	}
	return false
}
