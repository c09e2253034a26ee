package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// CreateModerationAction appends an audit record. Before/after states are stored as JSON.
func (q *queries) CreateModerationAction(ctx context.Context, action *domain.ModerationAction) error {
	before, err := json.Marshal(action.Before)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	after, err := json.Marshal(action.After)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO moderation_actions (
			id, association_id, decision, moderator_id, before_state, after_state, score_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID,
		action.AssociationID,
		string(action.Decision),
		action.ModeratorID,
		string(before),
		string(after),
		action.ScoreAt,
		formatTime(action.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrAssociationNotFound
		}
		return err
	}
	return nil
}

// ListModerationActions returns the audit trail of one association, oldest first.
func (s *Store) ListModerationActions(ctx context.Context, associationID int64) ([]*domain.ModerationAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, association_id, decision, moderator_id, before_state, after_state, score_at, created_at
		FROM moderation_actions
		WHERE association_id = ?
		ORDER BY created_at ASC, rowid ASC`, associationID)
	if err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", err)
	}
	defer rows.Close()

	actions := []*domain.ModerationAction{}
	for rows.Next() {
		var (
			a         domain.ModerationAction
			decision  string
			before    string
			after     string
			createdAt string
		)
		err := rows.Scan(
			&a.ID,
			&a.AssociationID,
			&decision,
			&a.ModeratorID,
			&before,
			&after,
			&a.ScoreAt,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		a.Decision = domain.Decision(decision)

		if err := json.Unmarshal([]byte(before), &a.Before); err != nil {
			return nil, fmt.Errorf("unmarshal before state: %w", err)
		}
		if err := json.Unmarshal([]byte(after), &a.After); err != nil {
			return nil, fmt.Errorf("unmarshal after state: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}
