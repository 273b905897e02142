package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/animus-labs/animus-deploy/internal/domain"
)

// Filter narrows a history listing. Limit <= 0 means no limit at the store level.
type Filter struct {
	Environment domain.Environment
	Limit       int
}

// Store persists deployment records. Implementations must return copies and
// must reject updates that move status backward or rewrite existing log lines.
type Store interface {
	Create(ctx context.Context, record domain.DeploymentRecord) error
	Get(ctx context.Context, id string) (domain.DeploymentRecord, error)
	Update(ctx context.Context, record domain.DeploymentRecord) error
	List(ctx context.Context, filter Filter) ([]domain.DeploymentRecord, error)
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.DeploymentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.DeploymentRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, record domain.DeploymentRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: deployment id is required", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("%w: deployment %s", domain.ErrAlreadyExists, record.ID)
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: deployment %s", domain.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, record domain.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[record.ID]
	if !ok {
		return fmt.Errorf("%w: deployment %s", domain.ErrNotFound, record.ID)
	}
	if err := CheckUpdate(prev, record); err != nil {
		return err
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]domain.DeploymentRecord, error) {
	s.mu.RLock()
	out := make([]domain.DeploymentRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Environment != "" && rec.Environment != filter.Environment {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	SortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CheckUpdate enforces the record invariants shared by every store.
func CheckUpdate(prev, next domain.DeploymentRecord) error {
	if prev.Status != next.Status && !domain.CanTransitionDeployStatus(prev.Status, next.Status) {
		return fmt.Errorf("%w: status %s -> %s", domain.ErrInvalidTransition, prev.Status, next.Status)
	}
	if prev.Status.Terminal() && prev.Status == next.Status && len(next.Logs) != len(prev.Logs) {
		return fmt.Errorf("%w: record %s is terminal", domain.ErrInvalidTransition, prev.ID)
	}
	if len(next.Logs) < len(prev.Logs) {
		return fmt.Errorf("%w: logs of %s cannot shrink", domain.ErrInvalidArgument, prev.ID)
	}
	for i := range prev.Logs {
		if prev.Logs[i] != next.Logs[i] {
			return fmt.Errorf("%w: log line %d of %s was rewritten", domain.ErrInvalidArgument, i, prev.ID)
		}
	}
	if (next.EndTime != nil) != next.Status.Terminal() {
		return fmt.Errorf("%w: end time must be set exactly when status is terminal", domain.ErrInvalidArgument)
	}
	return nil
}

// SortNewestFirst orders records by start time descending, ties broken by id.
func SortNewestFirst(records []domain.DeploymentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].ID > records[j].ID
		}
		return records[i].StartTime.After(records[j].StartTime)
	})
}
