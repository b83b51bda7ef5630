package graph

import (
	"context"
	"sync"

	"github.com/zulandar/openhouse/internal/dialog"
)

// Checkpointer persists thread state between turns.
type Checkpointer interface {
	// Load returns the saved state and whether one existed.
	Load(ctx context.Context, threadID string) (dialog.State, bool, error)
	Save(ctx context.Context, threadID string, st dialog.State) error
	Delete(ctx context.Context, threadID string) error
}

// MemoryCheckpointer keeps state in process memory.
type MemoryCheckpointer struct {
	mu     sync.RWMutex
	states map[string]dialog.State
}

// NewMemoryCheckpointer returns an empty MemoryCheckpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{states: make(map[string]dialog.State)}
}

func (m *MemoryCheckpointer) Load(_ context.Context, threadID string) (dialog.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[threadID]
	if !ok {
		return dialog.State{}, false, nil
	}
	return st.Clone(), true, nil
}

func (m *MemoryCheckpointer) Save(_ context.Context, threadID string, st dialog.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[threadID] = st.Clone()
	return nil
}

func (m *MemoryCheckpointer) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, threadID)
	return nil
}

// Len returns the number of stored threads.
func (m *MemoryCheckpointer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
