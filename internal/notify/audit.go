package notify

import (
	"context"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/platform/auditlog"
)

// AuditSink turns terminal notifications into audit events.
type AuditSink struct {
	recorder auditlog.Recorder
	actor    string
}

var _ boundary.NotificationSink = (*AuditSink)(nil)

func NewAuditSink(recorder auditlog.Recorder, actor string) *AuditSink {
	if recorder == nil {
		recorder = auditlog.NopRecorder{}
	}
	if actor == "" {
		actor = "deployctl"
	}
	return &AuditSink{recorder: recorder, actor: actor}
}

func (s *AuditSink) SendDeploymentNotification(ctx context.Context, record domain.DeploymentRecord) error {
	occurred := record.StartTime
	if record.EndTime != nil {
		occurred = *record.EndTime
	}
	return s.recorder.Record(ctx, auditlog.Event{
		OccurredAt:   occurred,
		Actor:        s.actor,
		Action:       "deployment." + string(record.Status),
		ResourceType: "deployment",
		ResourceID:   record.ID,
		Environment:  string(record.Environment),
		Payload: map[string]any{
			"version":          record.Version,
			"workspace":        record.Workspace,
			"account":          record.Account,
			"error":            record.Error,
			"error_kind":       record.ErrorKind,
			"rollback_version": record.RollbackVersion,
			"duration_ms":      record.Duration().Milliseconds(),
		},
	})
}

func (s *AuditSink) SendRollbackNotification(ctx context.Context, record domain.RollbackRecord) error {
	action := "rollback.success"
	if !record.Success {
		action = "rollback.failed"
	}
	return s.recorder.Record(ctx, auditlog.Event{
		OccurredAt:   record.RollbackTime,
		Actor:        s.actor,
		Action:       action,
		ResourceType: "rollback",
		ResourceID:   record.ID,
		Environment:  string(record.Environment),
		Payload: map[string]any{
			"previous_version":    record.PreviousVersion,
			"current_version":     record.CurrentVersion,
			"affected_workspaces": record.AffectedWorkspaces,
			"reason":              record.Reason,
			"deployment_id":       record.DeploymentID,
			"error":               record.Error,
			"duration_ms":         record.Duration.Milliseconds(),
		},
	})
}
