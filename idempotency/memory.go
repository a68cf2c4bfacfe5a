package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryClaim struct {
	inProgress bool
	expiresAt  time.Time
	completed  bool
	result     []byte
}

// Memory is an in-memory idempotency store. Safe for concurrent use.
// Intended for unit testing and single-process deployments.
type Memory struct {
	mu     sync.Mutex
	claims map[string]*memoryClaim
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns a new empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		claims: make(map[string]*memoryClaim),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Begin attempts to claim the key.
func (m *Memory) Begin(_ context.Context, key string, ttl time.Duration) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[key]
	if ok {
		if c.completed {
			return Claim{State: StateCompleted, Result: c.result}, nil
		}
		if c.inProgress && m.now().Before(c.expiresAt) {
			return Claim{State: StateInProgress}, nil
		}
	}

	m.claims[key] = &memoryClaim{
		inProgress: true,
		expiresAt:  m.now().Add(ttl),
	}
	return Claim{State: StateNew}, nil
}

// Complete records the terminal result for the key.
func (m *Memory) Complete(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.claims[key] = &memoryClaim{
		completed: true,
		result:    result,
	}
	return nil
}

// Fail releases an in-progress claim.
func (m *Memory) Fail(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.claims[key]; ok && !c.completed {
		delete(m.claims, key)
	}
	return nil
}
