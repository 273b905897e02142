package domain

import (
	"fmt"
	"time"
)

// LogEntry is a single timestamped line of a deployment log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.UTC().Format(time.RFC3339), e.Message)
}

// DeploymentRecord is the auditable record of one orchestrator run.
type DeploymentRecord struct {
	ID              string       `json:"id"`
	Environment     Environment  `json:"environment"`
	Status          DeployStatus `json:"status"`
	Version         string       `json:"version,omitempty"`
	Workspace       string       `json:"workspace"`
	Account         string       `json:"account"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"`
	Logs            []LogEntry   `json:"logs"`
	Error           string       `json:"error,omitempty"`
	ErrorKind       Kind         `json:"error_kind,omitempty"`
	RollbackVersion string       `json:"rollback_version,omitempty"`
}

// AppendLog adds a line to the record. Existing entries are never touched.
func (r *DeploymentRecord) AppendLog(at time.Time, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.Logs = append(r.Logs, LogEntry{Time: at.UTC(), Message: msg})
}

// Transition moves the record to next, stamping EndTime when next is terminal.
func (r *DeploymentRecord) Transition(next DeployStatus, at time.Time) error {
	if !CanTransitionDeployStatus(r.Status, next) {
		return fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	if next.Terminal() {
		end := at.UTC()
		if end.Before(r.StartTime) {
			end = r.StartTime
		}
		r.EndTime = &end
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias ledger state.
func (r DeploymentRecord) Clone() DeploymentRecord {
	out := r
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	out.Logs = make([]LogEntry, len(r.Logs))
	copy(out.Logs, r.Logs)
	return out
}

// HasLog reports whether any log line contains substr.
func (r DeploymentRecord) HasLog(substr string) bool {
	for _, entry := range r.Logs {
		if containsFold(entry.Message, substr) {
			return true
		}
	}
	return false
}

// Duration is zero until the record is terminal.
func (r DeploymentRecord) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
