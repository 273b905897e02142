// Package notify provides NotificationSink implementations.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
)

// LogSink writes one structured log line per notification.
type LogSink struct {
	logger *slog.Logger
}

var _ boundary.NotificationSink = (*LogSink)(nil)

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SendDeploymentNotification(ctx context.Context, record domain.DeploymentRecord) error {
	level := slog.LevelInfo
	if record.Status != domain.DeployStatusSuccess {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "deployment finished",
		"deployment_id", record.ID,
		"environment", record.Environment,
		"status", record.Status,
		"version", record.Version,
		"workspace", record.Workspace,
		"duration", record.Duration(),
		"rollback_version", record.RollbackVersion,
		"error", record.Error,
	)
	return nil
}

func (s *LogSink) SendRollbackNotification(ctx context.Context, record domain.RollbackRecord) error {
	level := slog.LevelInfo
	if !record.Success {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "rollback finished",
		"rollback_id", record.ID,
		"environment", record.Environment,
		"success", record.Success,
		"previous_version", record.PreviousVersion,
		"version", record.CurrentVersion,
		"workspaces", record.AffectedWorkspaces,
		"duration", record.Duration,
		"error", record.Error,
	)
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []boundary.NotificationSink

var _ boundary.NotificationSink = Fanout(nil)

func (f Fanout) SendDeploymentNotification(ctx context.Context, record domain.DeploymentRecord) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.SendDeploymentNotification(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) SendRollbackNotification(ctx context.Context, record domain.RollbackRecord) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.SendRollbackNotification(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
