// Package lease serializes deployments that target the same (account, workspace).
//
// A lease is acquired before authenticating against the platform and
// released at the terminal transition. Acquire blocks until the lease is
// free or ctx is done.
package lease

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/animus-labs/animus-deploy/internal/domain"
)

// Key identifies a shared platform target.
type Key struct {
	Account   string
	Workspace string
}

func (k Key) String() string {
	return strings.ToLower(strings.TrimSpace(k.Account)) + "/" + strings.ToLower(strings.TrimSpace(k.Workspace))
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Account) == "" {
		return fmt.Errorf("%w: lease account is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(k.Workspace) == "" {
		return fmt.Errorf("%w: lease workspace is required", domain.ErrInvalidArgument)
	}
	return nil
}

type Lease interface {
	Key() Key
	Release(ctx context.Context) error
}

type Leaser interface {
	Acquire(ctx context.Context, key Key) (Lease, error)
}

func unavailable(key Key, err error) error {
	return domain.NewError(domain.KindLeaseUnavailable, "acquire_lease", fmt.Errorf("lease %s unavailable: %w", key, err))
}

// MemoryLeaser serializes holders inside one process.
type MemoryLeaser struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{slots: make(map[string]chan struct{})}
}

func (m *MemoryLeaser) slot(key Key) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[key.String()]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key.String()] = ch
	}
	return ch
}

func (m *MemoryLeaser) Acquire(ctx context.Context, key Key) (Lease, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ch := m.slot(key)
	select {
	case ch <- struct{}{}:
		return &memoryLease{key: key, ch: ch}, nil
	case <-ctx.Done():
		return nil, unavailable(key, ctx.Err())
	}
}

type memoryLease struct {
	key  Key
	ch   chan struct{}
	once sync.Once
}

func (l *memoryLease) Key() Key { return l.key }

func (l *memoryLease) Release(ctx context.Context) error {
	l.once.Do(func() { <-l.ch })
	return nil
}
