package telephony

import (
	"context"
	"sync"
)

// MemoryControlPlane is a scriptable in-memory control plane for tests.
// Failures can be injected per call id.
type MemoryControlPlane struct {
	mu sync.Mutex

	terminated      []string
	forceTerminated []string

	// Reject marks call ids the control plane refuses (returns false, nil).
	Reject map[string]bool
	// Fail maps call ids to errors returned from terminate commands.
	Fail map[string]error
}

func NewMemoryControlPlane() *MemoryControlPlane {
	return &MemoryControlPlane{
		Reject: make(map[string]bool),
		Fail:   make(map[string]error),
	}
}

func (m *MemoryControlPlane) Name() string { return "memory" }

func (m *MemoryControlPlane) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryControlPlane) TerminateCall(ctx context.Context, callID string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Fail[callID]; ok {
		return false, err
	}
	if m.Reject[callID] {
		return false, nil
	}
	m.terminated = append(m.terminated, callID)
	return true, nil
}

func (m *MemoryControlPlane) ForceTerminateCall(ctx context.Context, callID string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Fail[callID]; ok {
		return false, err
	}
	m.forceTerminated = append(m.forceTerminated, callID)
	return true, nil
}

func (m *MemoryControlPlane) Terminated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.terminated))
	copy(out, m.terminated)
	return out
}

func (m *MemoryControlPlane) ForceTerminated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.forceTerminated))
	copy(out, m.forceTerminated)
	return out
}
