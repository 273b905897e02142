// Package ledger is the registry of deployment records and its read API.
//
// The Ledger owns id generation and record creation; the orchestrator run
// that created a record is the only writer afterwards. Reads always return
// copies.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-deploy/internal/domain"
)

const DefaultHistoryLimit = 10

type Ledger struct {
	store        Store
	now          func() time.Time
	newID        func() string
	historyLimit int
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

func WithHistoryLimit(limit int) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.historyLimit = limit
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Ledger{
		store:        store,
		now:          time.Now,
		newID:        uuid.NewString,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin creates a record and moves it to in_progress.
func (l *Ledger) Begin(ctx context.Context, env domain.Environment, account, workspace string) (domain.DeploymentRecord, error) {
	if env == "" {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: environment is required", domain.ErrInvalidArgument)
	}
	now := l.now().UTC()
	rec := domain.DeploymentRecord{
		ID:          l.newID(),
		Environment: env,
		Status:      domain.DeployStatusPending,
		Workspace:   strings.TrimSpace(workspace),
		Account:     strings.TrimSpace(account),
		StartTime:   now,
		Logs:        []domain.LogEntry{},
	}
	if err := rec.Transition(domain.DeployStatusInProgress, now); err != nil {
		return domain.DeploymentRecord{}, err
	}
	rec.AppendLog(now, "Deployment %s started for %s (account=%s workspace=%s)", rec.ID, env, rec.Account, rec.Workspace)
	if err := l.store.Create(ctx, rec); err != nil {
		return domain.DeploymentRecord{}, err
	}
	return rec, nil
}

// Save persists the current state of a record owned by the caller.
func (l *Ledger) Save(ctx context.Context, record domain.DeploymentRecord) error {
	return l.store.Update(ctx, record)
}

// GetDeployStatus returns the record for id or an error wrapping domain.ErrNotFound.
func (l *Ledger) GetDeployStatus(ctx context.Context, id string) (domain.DeploymentRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: deployment id is required", domain.ErrInvalidArgument)
	}
	return l.store.Get(ctx, id)
}

// GetDeploymentHistory lists records of env, newest first, at most limit entries.
func (l *Ledger) GetDeploymentHistory(ctx context.Context, env domain.Environment, limit int) ([]domain.DeploymentRecord, error) {
	if limit <= 0 {
		limit = l.historyLimit
	}
	records, err := l.store.List(ctx, Filter{Environment: env, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeploymentRecord, 0, len(records))
	for _, rec := range records {
		if env != "" && rec.Environment != env {
			continue
		}
		out = append(out, rec)
	}
	SortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}
