// Package lease issues expiring edit leases so only one operator at a time
// can write to a reviewable entity.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

// Lease is a granted edit lease.
type Lease struct {
	Resource  string    `json:"resource"`
	Holder    string    `json:"holder"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager grants, checks and releases leases.
//
// Acquire fails with apperr.ErrLocked while another holder's lease is live;
// the same holder re-acquiring renews the lease and keeps its token. Check
// passes when the resource is free or the token matches the live lease.
type Manager interface {
	Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (*Lease, error)
	Check(ctx context.Context, resource, token string) error
	Release(ctx context.Context, resource, token string) error
	Holder(ctx context.Context, resource string) (*Lease, error)
}

// MemoryManager keeps leases in process memory.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

// NewMemory creates an empty in-memory manager.
func NewMemory() *MemoryManager {
	return &MemoryManager{leases: make(map[string]Lease), now: time.Now}
}

// live returns the unexpired lease for resource. Caller holds mu.
func (m *MemoryManager) live(resource string) (Lease, bool) {
	l, ok := m.leases[resource]
	if !ok {
		return Lease{}, false
	}
	if !m.now().Before(l.ExpiresAt) {
		delete(m.leases, resource)
		return Lease{}, false
	}
	return l, true
}

func (m *MemoryManager) Acquire(_ context.Context, resource, holder string, ttl time.Duration) (*Lease, error) {
	if holder == "" {
		return nil, apperr.Invalid("holder", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(resource)
	switch {
	case !ok:
		l = Lease{Resource: resource, Holder: holder, Token: uuid.New().String()}
	case l.Holder != holder:
		return nil, eris.Wrapf(apperr.ErrLocked, "%s held by %s", resource, l.Holder)
	}
	l.ExpiresAt = m.now().Add(ttl)
	m.leases[resource] = l
	out := l
	return &out, nil
}

func (m *MemoryManager) Check(_ context.Context, resource, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live(resource)
	if !ok || l.Token == token {
		return nil
	}
	return eris.Wrapf(apperr.ErrLocked, "%s held by %s", resource, l.Holder)
}

func (m *MemoryManager) Release(_ context.Context, resource, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live(resource)
	if !ok {
		return nil
	}
	if l.Token != token {
		return eris.Wrapf(apperr.ErrLocked, "%s held by %s", resource, l.Holder)
	}
	delete(m.leases, resource)
	return nil
}

func (m *MemoryManager) Holder(_ context.Context, resource string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live(resource)
	if !ok {
		return nil, nil
	}
	return &l, nil
}
