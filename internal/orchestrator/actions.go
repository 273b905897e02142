package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/release"
)

func (r *run) authenticate(ctx context.Context) error {
	token, err := r.o.tokens.Token(ctx, r.target.Account)
	if err != nil {
		return fmt.Errorf("token for %s: %w", r.target.Account, err)
	}
	if err := r.o.platform.Authenticate(ctx, r.target.Account, token); err != nil {
		return err
	}
	if who, err := r.o.platform.WhoAmI(ctx); err != nil {
		r.logger.Warn("whoami failed", "error", err)
		r.log("Authenticated as %s", r.target.Account)
	} else {
		r.log("Authenticated as %s (%s)", r.target.Account, who)
	}
	return nil
}

func (r *run) useWorkspace(ctx context.Context) error {
	if err := r.o.platform.UseWorkspace(ctx, r.target.Workspace); err != nil {
		return fmt.Errorf("use workspace %s: %w", r.target.Workspace, err)
	}
	r.authenticated = true
	r.log("Using workspace %s", r.target.Workspace)
	return nil
}

func (r *run) publish(tag string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := r.o.platform.Release(ctx, r.record.Version, tag); err != nil {
			return err
		}
		r.released = true
		r.log("Released %s with tag %s", r.record.Version, tag)
		return nil
	}
}

func (r *run) install(ctx context.Context) error {
	ref := boundary.AppReference(r.o.cfg.App, r.record.Version)
	if err := r.o.platform.InstallApp(ctx, ref); err != nil {
		return err
	}
	r.log("Installed %s into %s", ref, r.target.Workspace)
	return nil
}

// verifyInstalled checks the workspace reports the released version. Health
// is only required when requireHealthy is set.
func (r *run) verifyInstalled(requireHealthy bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		apps, err := r.o.platform.ListInstalledApps(ctx)
		if err != nil {
			return fmt.Errorf("list installed apps: %w", err)
		}
		app, ok := boundary.FindInstalled(apps, r.o.cfg.App)
		switch {
		case !ok:
			return fmt.Errorf("%s is not installed in %s", r.o.cfg.App, r.target.Workspace)
		case app.Version != r.record.Version:
			return fmt.Errorf("installed version %s does not match released version %s", app.Version, r.record.Version)
		case requireHealthy && !app.Healthy():
			return fmt.Errorf("%s@%s reported status %s", app.Name, app.Version, app.Status)
		}
		r.log("Verified %s@%s is installed", app.Name, app.Version)
		return nil
	}
}

// baseVersion resolves the version the project declares: the manifest first,
// then the latest git tag, then release.FallbackVersion.
func (r *run) baseVersion(ctx context.Context) string {
	if r.o.versions != nil {
		v, err := r.o.versions.BaseVersion(ctx)
		if err != nil {
			r.logger.Debug("manifest version unavailable", "error", err)
		} else if _, perr := release.Parse(v); perr == nil {
			return strings.TrimPrefix(strings.TrimSpace(v), "v")
		}
	}
	tag, err := r.o.vcs.LatestTag(ctx)
	if err == nil {
		if _, perr := release.Parse(tag); perr == nil {
			return strings.TrimPrefix(strings.TrimSpace(tag), "v")
		}
	} else {
		r.logger.Debug("latest tag unavailable", "error", err)
	}
	r.log("No base version found, using %s", release.FallbackVersion)
	return release.FallbackVersion
}

func (r *run) checkPlatform(ctx context.Context) error {
	if err := r.o.platform.Available(ctx); err != nil {
		return domain.NewError(domain.KindValidationFailed, "prerequisites", fmt.Errorf("platform tooling unavailable: %w", err))
	}
	if _, err := r.o.tokens.Token(ctx, r.target.Account); err != nil {
		return domain.NewError(domain.KindAuthenticationFailed, "prerequisites", fmt.Errorf("account %s unreachable: %w", r.target.Account, err))
	}
	return nil
}
