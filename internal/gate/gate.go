// Package gate implements boundary.ValidationGate by inspecting manifest.json
// and running configured check commands.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/platform/env"
	"github.com/animus-labs/animus-deploy/internal/runtimeexec"
)

const maxIssueLines = 5

type Config struct {
	Dir              string
	ManifestFile     string
	UnitTestCmd      string
	FullTestCmd      string
	SmokeTestCmd     string
	SecurityScanCmd  string
	ComplianceCmd    string
	ReadinessCmd     string
	RequireChangelog bool
	ChangelogFile    string
}

func ConfigFromEnv() (Config, error) {
	requireChangelog, err := env.Bool("DEPLOY_GATE_REQUIRE_CHANGELOG", false)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Dir:              env.String("DEPLOY_PROJECT_DIR", "."),
		ManifestFile:     env.String("DEPLOY_MANIFEST_FILE", "manifest.json"),
		UnitTestCmd:      env.String("DEPLOY_GATE_UNIT_TEST_CMD", ""),
		FullTestCmd:      env.String("DEPLOY_GATE_FULL_TEST_CMD", ""),
		SmokeTestCmd:     env.String("DEPLOY_GATE_SMOKE_TEST_CMD", ""),
		SecurityScanCmd:  env.String("DEPLOY_GATE_SECURITY_SCAN_CMD", ""),
		ComplianceCmd:    env.String("DEPLOY_GATE_COMPLIANCE_CMD", ""),
		ReadinessCmd:     env.String("DEPLOY_GATE_READINESS_CMD", ""),
		RequireChangelog: requireChangelog,
		ChangelogFile:    env.String("DEPLOY_GATE_CHANGELOG_FILE", "CHANGELOG.md"),
	}, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ManifestFile) == "" {
		return errors.New("DEPLOY_MANIFEST_FILE is required")
	}
	return nil
}

func (c Config) manifestPath() string {
	if filepath.IsAbs(c.ManifestFile) {
		return c.ManifestFile
	}
	return filepath.Join(c.Dir, c.ManifestFile)
}

// CommandGate runs each check as an external command; exit status 0 passes.
// An unconfigured command yields a warning rather than a failure.
type CommandGate struct {
	cfg    Config
	runner runtimeexec.Runner
	logger *slog.Logger
	exists func(path string) bool
}

var _ boundary.ValidationGate = (*CommandGate)(nil)

func New(cfg Config, runner runtimeexec.Runner, logger *slog.Logger) (*CommandGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandGate{cfg: cfg, runner: runner, logger: logger, exists: fileExists}, nil
}

func (g *CommandGate) ValidateManifest(ctx context.Context) (boundary.GateResult, error) {
	m, err := ReadManifest(g.cfg.manifestPath())
	if err != nil {
		return boundary.GateResult{Status: boundary.GateFail, Issues: []string{err.Error()}}, nil
	}
	issues, warnings := m.Problems()
	return combine(issues, warnings), nil
}

func (g *CommandGate) CheckDependencies(ctx context.Context) (boundary.GateResult, error) {
	m, err := ReadManifest(g.cfg.manifestPath())
	if err != nil {
		return boundary.GateResult{Status: boundary.GateFail, Issues: []string{err.Error()}}, nil
	}
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues, warnings []string
	for _, name := range names {
		constraint := strings.TrimSpace(m.Dependencies[name])
		switch {
		case strings.TrimSpace(name) == "":
			issues = append(issues, "dependency with empty name")
		case constraint == "":
			issues = append(issues, fmt.Sprintf("dependency %s has no version constraint", name))
		case constraint == "*" || strings.EqualFold(constraint, "latest"):
			warnings = append(warnings, fmt.Sprintf("dependency %s is not pinned (%s)", name, constraint))
		}
	}
	return combine(issues, warnings), nil
}

func (g *CommandGate) SecurityScan(ctx context.Context) (boundary.GateResult, error) {
	return g.runCheck(ctx, "security scan", g.cfg.SecurityScanCmd)
}

func (g *CommandGate) RunTests(ctx context.Context, scope boundary.TestScope) (boundary.GateResult, error) {
	switch scope {
	case boundary.TestScopeUnit:
		return g.runCheck(ctx, "unit tests", g.cfg.UnitTestCmd)
	case boundary.TestScopeFull:
		return g.runCheck(ctx, "full test suite", g.cfg.FullTestCmd)
	case boundary.TestScopeSmoke:
		return g.runCheck(ctx, "smoke tests", g.cfg.SmokeTestCmd)
	default:
		return boundary.GateResult{}, fmt.Errorf("unknown test scope %q", scope)
	}
}

func (g *CommandGate) ValidateProductionReadiness(ctx context.Context) (boundary.GateResult, error) {
	m, err := ReadManifest(g.cfg.manifestPath())
	if err != nil {
		return boundary.GateResult{Status: boundary.GateFail, Issues: []string{err.Error()}}, nil
	}
	issues, warnings := m.Problems()
	if g.cfg.RequireChangelog {
		path := g.cfg.ChangelogFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(g.cfg.Dir, path)
		}
		if !g.exists(path) {
			issues = append(issues, fmt.Sprintf("%s is missing", g.cfg.ChangelogFile))
		}
	}
	if len(issues) > 0 || strings.TrimSpace(g.cfg.ReadinessCmd) == "" {
		return combine(issues, warnings), nil
	}
	return g.runCheck(ctx, "production readiness", g.cfg.ReadinessCmd)
}

func (g *CommandGate) CheckSecurityCompliance(ctx context.Context) (boundary.GateResult, error) {
	return g.runCheck(ctx, "security compliance", g.cfg.ComplianceCmd)
}

// BaseVersion returns the manifest version, the starting point for release
// version derivation.
func (g *CommandGate) BaseVersion(ctx context.Context) (string, error) {
	m, err := ReadManifest(g.cfg.manifestPath())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(m.Version) == "" {
		return "", errNoManifestVersion
	}
	return strings.TrimSpace(m.Version), nil
}

func (g *CommandGate) runCheck(ctx context.Context, name, line string) (boundary.GateResult, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		g.logger.Warn("check not configured", "check", name)
		return boundary.GateResult{Status: boundary.GateWarn, Issues: []string{name + ": no command configured"}}, nil
	}
	cmd := runtimeexec.Command{Bin: fields[0], Args: fields[1:], Dir: g.cfg.Dir}
	res, err := g.runner.Run(ctx, cmd)
	if err == nil {
		return boundary.GateResult{Status: boundary.GatePass}, nil
	}
	if ctx.Err() != nil {
		return boundary.GateResult{}, err
	}
	var exitErr *runtimeexec.ExitError
	if !errors.As(err, &exitErr) {
		return boundary.GateResult{}, fmt.Errorf("%s: %w", name, err)
	}
	issues := tailLines(res.Output(), maxIssueLines)
	if len(issues) == 0 {
		issues = []string{fmt.Sprintf("%s failed with exit code %d", name, exitErr.ExitCode)}
	}
	return boundary.GateResult{Status: boundary.GateFail, Issues: issues}, nil
}

func combine(issues, warnings []string) boundary.GateResult {
	switch {
	case len(issues) > 0:
		return boundary.GateResult{Status: boundary.GateFail, Issues: append(issues, warnings...)}
	case len(warnings) > 0:
		return boundary.GateResult{Status: boundary.GateWarn, Issues: warnings}
	default:
		return boundary.GateResult{Status: boundary.GatePass}
	}
}

func tailLines(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
