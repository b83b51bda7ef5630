// Package checkpoint persists thread state and the tool execution ledger in
// the database so conversations and pending approvals survive restarts.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/models"
	"github.com/zulandar/openhouse/internal/tools"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tool execution statuses.
const (
	StatusDispatched = "dispatched"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// Store is a gorm-backed graph.Checkpointer and tools.Ledger. Transcripts
// are stored one row per message and only ever appended to.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Store on db. The tables must already be migrated.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Load returns the thread's saved state.
func (s *Store) Load(ctx context.Context, threadID string) (dialog.State, bool, error) {
	db := s.db.WithContext(ctx)

	var cp models.Checkpoint
	result := db.Where("thread_id = ?", threadID).First(&cp)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return dialog.State{}, false, nil
	}
	if result.Error != nil {
		return dialog.State{}, false, fmt.Errorf("checkpoint: load %s: %w", threadID, result.Error)
	}

	var turns []models.ConversationTurn
	if err := db.Where("thread_id = ? AND sequence < ?", threadID, cp.MessageCount).
		Order("sequence ASC").Find(&turns).Error; err != nil {
		return dialog.State{}, false, fmt.Errorf("checkpoint: load %s turns: %w", threadID, err)
	}
	if len(turns) != cp.MessageCount {
		return dialog.State{}, false, fmt.Errorf("checkpoint: load %s: expected %d turns, found %d", threadID, cp.MessageCount, len(turns))
	}

	st := dialog.State{
		Next:        cp.NextNode,
		SuspendedAt: cp.SuspendedAt,
		Messages:    make([]dialog.Message, 0, len(turns)),
	}
	if cp.Criteria != "" {
		if err := json.Unmarshal([]byte(cp.Criteria), &st.Criteria); err != nil {
			return dialog.State{}, false, fmt.Errorf("checkpoint: load %s criteria: %w", threadID, err)
		}
	}
	for _, t := range turns {
		msg, err := fromTurn(t)
		if err != nil {
			return dialog.State{}, false, fmt.Errorf("checkpoint: load %s turn %d: %w", threadID, t.Sequence, err)
		}
		st.Messages = append(st.Messages, msg)
	}
	return st, true, nil
}

// Save writes st, appending messages beyond those already stored. A state
// with fewer messages than the stored transcript is rejected.
func (s *Store) Save(ctx context.Context, threadID string, st dialog.State) error {
	crit, err := json.Marshal(st.Criteria)
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: encode criteria: %w", threadID, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cp models.Checkpoint
		result := tx.Where("thread_id = ?", threadID).First(&cp)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("read checkpoint: %w", result.Error)
		}
		stored := cp.MessageCount
		if len(st.Messages) < stored {
			return fmt.Errorf("transcript shrank from %d to %d messages", stored, len(st.Messages))
		}

		if len(st.Messages) > stored {
			// Rows past the count belong to an interrupted earlier save.
			if err := tx.Where("thread_id = ? AND sequence >= ?", threadID, stored).
				Delete(&models.ConversationTurn{}).Error; err != nil {
				return fmt.Errorf("clear stale turns: %w", err)
			}
			turns := make([]models.ConversationTurn, 0, len(st.Messages)-stored)
			for i, m := range st.Messages[stored:] {
				t, err := toTurn(threadID, stored+i, m)
				if err != nil {
					return err
				}
				turns = append(turns, t)
			}
			if err := tx.CreateInBatches(&turns, 100).Error; err != nil {
				return fmt.Errorf("append turns: %w", err)
			}
		}

		row := models.Checkpoint{
			ThreadID:     threadID,
			Criteria:     string(crit),
			NextNode:     st.Next,
			SuspendedAt:  st.SuspendedAt,
			MessageCount: len(st.Messages),
			UpdatedAt:    s.now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"criteria", "next_node", "suspended_at", "message_count", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", threadID, err)
	}
	return nil
}

// Delete removes the thread's checkpoint and transcript. Recorded tool
// executions are kept.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&models.ConversationTurn{}).Error; err != nil {
			return err
		}
		return tx.Where("thread_id = ?", threadID).Delete(&models.Checkpoint{}).Error
	})
	if err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", threadID, err)
	}
	return nil
}

// Claim records call as dispatched unless its id was seen before.
func (s *Store) Claim(ctx context.Context, threadID string, call dialog.ToolCall) (*tools.Outcome, bool, error) {
	row := models.ToolExecution{
		CallID:    call.ID,
		ThreadID:  threadID,
		ToolName:  call.Name,
		Arguments: string(call.Arguments),
		Status:    StatusDispatched,
		CreatedAt: s.now(),
	}
	db := s.db.WithContext(ctx)
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return nil, false, fmt.Errorf("checkpoint: claim %s: %w", call.ID, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil, true, nil
	}

	var prior models.ToolExecution
	if err := db.Where("call_id = ?", call.ID).First(&prior).Error; err != nil {
		return nil, false, fmt.Errorf("checkpoint: claim %s: read prior: %w", call.ID, err)
	}
	if prior.Status == StatusDispatched {
		return nil, false, nil
	}
	return &tools.Outcome{Content: prior.Result, Failed: prior.Status == StatusFailed}, false, nil
}

// Complete records the outcome of a claimed call.
func (s *Store) Complete(ctx context.Context, callID string, out tools.Outcome) error {
	status := StatusSucceeded
	if out.Failed {
		status = StatusFailed
	}
	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.ToolExecution{}).
		Where("call_id = ? AND status = ?", callID, StatusDispatched).
		Updates(map[string]interface{}{
			"status":       status,
			"result":       out.Content,
			"completed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("checkpoint: complete %s: %w", callID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("checkpoint: complete %s: call not found or already completed", callID)
	}
	return nil
}

// Lookup reports whether callID was claimed and returns its outcome once
// completed.
func (s *Store) Lookup(ctx context.Context, callID string) (*tools.Outcome, bool, error) {
	var rows []models.ToolExecution
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Limit(1).Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("checkpoint: lookup %s: %w", callID, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	if rows[0].Status == StatusDispatched {
		return nil, true, nil
	}
	return &tools.Outcome{Content: rows[0].Result, Failed: rows[0].Status == StatusFailed}, true, nil
}

// Executions returns the recorded tool executions for a thread, oldest first.
func (s *Store) Executions(ctx context.Context, threadID string) ([]models.ToolExecution, error) {
	var rows []models.ToolExecution
	if err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("checkpoint: executions %s: %w", threadID, err)
	}
	return rows, nil
}

func toTurn(threadID string, seq int, m dialog.Message) (models.ConversationTurn, error) {
	t := models.ConversationTurn{
		ThreadID:   threadID,
		Sequence:   seq,
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return t, fmt.Errorf("encode tool calls at %d: %w", seq, err)
		}
		t.ToolCalls = string(b)
	}
	return t, nil
}

func fromTurn(t models.ConversationTurn) (dialog.Message, error) {
	m := dialog.Message{
		Role:       dialog.Role(t.Role),
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
	}
	if t.ToolCalls != "" {
		if err := json.Unmarshal([]byte(t.ToolCalls), &m.ToolCalls); err != nil {
			return m, err
		}
	}
	return m, nil
}
