package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/orchestrator"
	"github.com/animus-labs/animus-deploy/internal/rollback"
	"github.com/animus-labs/animus-deploy/internal/storage/objectstore"
)

func newFlagSet(name string, env *cliEnv) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func parseQAOptions(env *cliEnv, args []string) (orchestrator.QAOptions, error) {
	var opts orchestrator.QAOptions
	fs := newFlagSet("deploy:qa", env)
	fs.StringVar(&opts.Branch, "branch", "", "branch to deploy from")
	fs.StringVar(&opts.Workspace, "workspace", "", "QA workspace (default from DEPLOY_QA_WORKSPACE)")
	fs.BoolVar(&opts.SkipTests, "skip-tests", false, "skip unit tests")
	fs.BoolVar(&opts.Force, "force", false, "deploy a dirty tree and override overridable gate failures")
	if err := parseFlags(fs, args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return opts, nil
}

func parseProductionOptions(env *cliEnv, args []string) (orchestrator.ProductionOptions, error) {
	var opts orchestrator.ProductionOptions
	fs := newFlagSet("deploy:prod", env)
	fs.StringVar(&opts.Version, "version", "", "version to release (default from manifest or latest tag)")
	fs.BoolVar(&opts.Force, "force", false, "override overridable gate failures")
	fs.BoolVar(&opts.SkipTests, "skip-tests", false, "skip the full test suite (emergency only)")
	fs.BoolVar(&opts.AutoApprove, "auto-approve", false, "do not ask before releasing")
	fs.BoolVar(&opts.Emergency, "emergency", false, "emergency deployment")
	if err := parseFlags(fs, args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return opts, nil
}

func parseRollbackRequest(env *cliEnv, args []string) (rollback.Request, error) {
	var (
		req         rollback.Request
		environment string
	)
	fs := newFlagSet("rollback", env)
	fs.StringVar(&environment, "environment", "production", "environment to roll back")
	fs.StringVar(&req.TargetVersion, "version", "", "version to reinstall")
	fs.StringVar(&req.DeploymentID, "deployment-id", "", "roll back the given deployment")
	fs.StringVar(&req.Reason, "reason", "", "reason recorded with the rollback")
	fs.BoolVar(&req.Force, "force", false, "reinstall even if the version is already installed")
	fs.BoolVar(&req.Emergency, "emergency", false, "skip the health verification wait")
	if err := parseFlags(fs, args); err != nil {
		return req, err
	}
	if req.TargetVersion == "" && req.DeploymentID == "" {
		return req, fmt.Errorf("%w: --version or --deployment-id is required", errUsage)
	}
	// An explicit deployment id without --environment takes the environment
	// from that deployment.
	envSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "environment" {
			envSet = true
		}
	})
	if req.DeploymentID != "" && !envSet {
		return req, nil
	}
	parsed, err := domain.ParseEnvironment(environment)
	if err != nil {
		return req, fmt.Errorf("%w: %v", errUsage, err)
	}
	req.Environment = parsed
	return req, nil
}

type historyArgs struct {
	environment domain.Environment
	limit       int
}

func parseHistoryArgs(env *cliEnv, args []string) (historyArgs, error) {
	var (
		out         historyArgs
		environment string
	)
	fs := newFlagSet("history", env)
	fs.StringVar(&environment, "environment", "", "filter by environment")
	fs.IntVar(&out.limit, "limit", 0, "maximum records (default from DEPLOY_HISTORY_LIMIT)")
	if err := parseFlags(fs, args); err != nil {
		return out, err
	}
	if out.limit < 0 {
		return out, fmt.Errorf("%w: --limit must be >= 0", errUsage)
	}
	if environment != "" {
		parsed, err := domain.ParseEnvironment(environment)
		if err != nil {
			return out, fmt.Errorf("%w: %v", errUsage, err)
		}
		out.environment = parsed
	}
	return out, nil
}

func runDeployQA(ctx context.Context, env *cliEnv, args []string) error {
	opts, err := parseQAOptions(env, args)
	if err != nil {
		return err
	}
	a, err := setup(ctx, env, "deploy:qa")
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.orch.DeployToQA(ctx, opts)
	if rec.ID != "" {
		printRecord(env.stdout, rec)
	}
	return err
}

func runDeployProd(ctx context.Context, env *cliEnv, args []string) error {
	opts, err := parseProductionOptions(env, args)
	if err != nil {
		return err
	}
	a, err := setup(ctx, env, "deploy:prod")
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.orch.DeployToProduction(ctx, opts)
	if rec.ID != "" {
		printRecord(env.stdout, rec)
	}
	return err
}

func runRollback(ctx context.Context, env *cliEnv, args []string) error {
	req, err := parseRollbackRequest(env, args)
	if err != nil {
		return err
	}
	a, err := setup(ctx, env, "rollback")
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.orch.Rollback(ctx, req)
	if rec.ID != "" {
		printRollback(env.stdout, rec)
	}
	return err
}

func runStatus(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("status", env)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: status takes exactly one deployment id", errUsage)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openLedger(ctx, cfg, newLogger(env.stderr, cfg.LogLevel, false))
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.ledger.GetDeployStatus(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runHistory(ctx context.Context, env *cliEnv, args []string) error {
	h, err := parseHistoryArgs(env, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openLedger(ctx, cfg, newLogger(env.stderr, cfg.LogLevel, false))
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.ledger.GetDeploymentHistory(ctx, h.environment, h.limit)
	if err != nil {
		return err
	}
	printHistory(env.stdout, records)
	return nil
}

type markerLister interface {
	Markers(ctx context.Context, env domain.Environment) ([]rollback.Marker, error)
}

func parseMarkersArgs(env *cliEnv, args []string) (domain.Environment, error) {
	var environment string
	fs := newFlagSet("markers", env)
	fs.StringVar(&environment, "environment", "production", "environment whose markers to list")
	if err := parseFlags(fs, args); err != nil {
		return "", err
	}
	parsed, err := domain.ParseEnvironment(environment)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	return parsed, nil
}

func runMarkers(ctx context.Context, env *cliEnv, args []string) error {
	environment, err := parseMarkersArgs(env, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.ObjectStore.Enabled() {
		return fmt.Errorf("%w: markers need DEPLOY_MINIO_ENDPOINT", errConfig)
	}
	store, err := objectstore.NewMinioStore(cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	markers, err := rollback.NewObjectMarkerStore(store, cfg.ObjectStore.BucketMarkers)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	return listMarkers(ctx, env.stdout, markers, environment)
}

func listMarkers(ctx context.Context, w io.Writer, markers markerLister, environment domain.Environment) error {
	list, err := markers.Markers(ctx, environment)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tROLLBACK\tWORKSPACE\tFROM\tTO\tDEPLOYMENT\tREASON")
	for _, m := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.CreatedAt.UTC().Format(time.RFC3339), m.RollbackID, m.Workspace,
			valueOr(m.PreviousVersion, "-"), m.TargetVersion,
			valueOr(m.DeploymentID, "-"), valueOr(m.Reason, "-"))
	}
	return tw.Flush()
}

// setup builds the orchestrator for command. When a Pushgateway is
// configured the command's metrics are pushed on Close.
func setup(ctx context.Context, env *cliEnv, command string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(env.stderr, cfg.LogLevel, false)
	a, err := build(ctx, env, cfg, logger, newPromptApprover(env.stdin, env.stderr))
	if err != nil {
		return nil, err
	}
	if cfg.MetricsPush.Enabled() {
		a.closers = append(a.closers, func() error {
			return a.metrics.Push(context.WithoutCancel(ctx), cfg.MetricsPush, command, nil)
		})
	}
	return a, nil
}

func printRecord(w io.Writer, rec domain.DeploymentRecord) {
	fmt.Fprintf(w, "Deployment %s\n", rec.ID)
	fmt.Fprintf(w, "  environment: %s\n", rec.Environment)
	fmt.Fprintf(w, "  status:      %s\n", rec.Status)
	fmt.Fprintf(w, "  version:     %s\n", valueOr(rec.Version, "-"))
	fmt.Fprintf(w, "  target:      %s/%s\n", rec.Account, rec.Workspace)
	if d := rec.Duration(); d > 0 {
		fmt.Fprintf(w, "  duration:    %s\n", d.Round(time.Millisecond))
	}
	if rec.RollbackVersion != "" {
		fmt.Fprintf(w, "  rollback:    %s\n", rec.RollbackVersion)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "  error:       %s (%s)\n", rec.Error, rec.ErrorKind)
	}
	fmt.Fprintln(w, "Log:")
	for _, entry := range rec.Logs {
		fmt.Fprintf(w, "  %s\n", entry)
	}
}

func printRollback(w io.Writer, rec domain.RollbackRecord) {
	outcome := "succeeded"
	if !rec.Success {
		outcome = "failed"
	}
	fmt.Fprintf(w, "Rollback %s %s\n", rec.ID, outcome)
	fmt.Fprintf(w, "  environment: %s\n", rec.Environment)
	fmt.Fprintf(w, "  version:     %s -> %s\n", valueOr(rec.PreviousVersion, "none"), rec.CurrentVersion)
	fmt.Fprintf(w, "  workspaces:  %s\n", strings.Join(rec.AffectedWorkspaces, ", "))
	fmt.Fprintf(w, "  duration:    %s\n", rec.Duration.Round(time.Millisecond))
	if rec.Error != "" {
		fmt.Fprintf(w, "  error:       %s\n", rec.Error)
	}
	for _, entry := range rec.Logs {
		fmt.Fprintf(w, "  %s\n", entry)
	}
}

func printHistory(w io.Writer, records []domain.DeploymentRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENVIRONMENT\tSTATUS\tVERSION\tSTARTED\tDURATION")
	for _, rec := range records {
		duration := "-"
		if d := rec.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Environment, rec.Status, valueOr(rec.Version, "-"),
			rec.StartTime.UTC().Format(time.RFC3339), duration)
	}
	_ = tw.Flush()
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
