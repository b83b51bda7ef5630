package tools

import (
	"context"
	"sync"

	"github.com/zulandar/openhouse/internal/dialog"
)

// Outcome is the recorded result of an executed call.
type Outcome struct {
	Content string
	Failed  bool
}

// Ledger guarantees a call id is dispatched at most once.
type Ledger interface {
	// Claim records call as dispatched. It returns claimed=true when the
	// caller now owns the call. Otherwise prior holds the recorded outcome,
	// or is nil when the earlier dispatch never completed.
	Claim(ctx context.Context, threadID string, call dialog.ToolCall) (prior *Outcome, claimed bool, err error)
	Complete(ctx context.Context, callID string, out Outcome) error
	// Lookup reports whether callID was dispatched and, if it completed,
	// its outcome.
	Lookup(ctx context.Context, callID string) (out *Outcome, seen bool, err error)
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu    sync.Mutex
	calls map[string]*Outcome
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{calls: make(map[string]*Outcome)}
}

func (l *MemoryLedger) Claim(_ context.Context, _ string, call dialog.ToolCall) (*Outcome, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prior, seen := l.calls[call.ID]; seen {
		if prior == nil {
			return nil, false, nil
		}
		out := *prior
		return &out, false, nil
	}
	l.calls[call.ID] = nil
	return nil, true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, callID string, out Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[callID] = &out
	return nil
}

func (l *MemoryLedger) Lookup(_ context.Context, callID string) (*Outcome, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prior, seen := l.calls[callID]
	if prior == nil {
		return nil, seen, nil
	}
	out := *prior
	return &out, true, nil
}
