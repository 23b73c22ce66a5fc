package credential

import (
	"context"
	"sync"
)

// MemoryBackend keeps the credential for the lifetime of the process.
type MemoryBackend struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(ctx context.Context) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *MemoryBackend) Save(ctx context.Context, c *Credential) error {
	cp := *c
	m.mu.Lock()
	m.cred = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()
	return nil
}
