package domain

import "time"

// RollbackRecord captures one rollback invocation. It is built once and not mutated.
type RollbackRecord struct {
	ID                 string        `json:"id"`
	Success            bool          `json:"success"`
	PreviousVersion    string        `json:"previous_version,omitempty"`
	CurrentVersion     string        `json:"current_version"`
	RollbackTime       time.Time     `json:"rollback_time"`
	Duration           time.Duration `json:"duration"`
	AffectedWorkspaces []string      `json:"affected_workspaces"`
	Environment        Environment   `json:"environment"`
	Reason             string        `json:"reason,omitempty"`
	DeploymentID       string        `json:"deployment_id,omitempty"`
	Logs               []LogEntry    `json:"logs"`
	Error              string        `json:"error,omitempty"`
	ErrorKind          Kind          `json:"error_kind,omitempty"`
}
