package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// GetVote retrieves a user's vote on an association.
// Returns store.ErrVoteNotFound if the user has not voted.
func (q *queries) GetVote(ctx context.Context, userID string, key domain.AssociationKey) (*domain.Vote, error) {
	var (
		v          domain.Vote
		entityType string
		createdAt  string
		updatedAt  string
	)

	err := q.q.QueryRowContext(ctx, `
		SELECT user_id, entity_type, entity_id, tag_id, value, moderator, created_at, updated_at
		FROM tag_votes
		WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND tag_id = ?`,
		userID, string(key.Entity.Type), key.Entity.ID, key.TagID,
	).Scan(
		&v.UserID,
		&entityType,
		&v.Entity.ID,
		&v.TagID,
		&v.Value,
		&v.Moderator,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrVoteNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Entity.Type = domain.EntityType(entityType)

	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertVote inserts the vote or replaces the value of the existing one.
// created_at is preserved on replace.
func (q *queries) UpsertVote(ctx context.Context, v *domain.Vote) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO tag_votes (user_id, entity_type, entity_id, tag_id, value, moderator, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, entity_type, entity_id, tag_id) DO UPDATE SET
			value = excluded.value,
			moderator = excluded.moderator,
			updated_at = excluded.updated_at`,
		v.UserID,
		string(v.Entity.Type),
		v.Entity.ID,
		v.TagID,
		v.Value,
		boolToInt(v.Moderator),
		formatTime(v.CreatedAt),
		formatTime(v.UpdatedAt),
	)
	if err != nil && isForeignKeyViolation(err) {
		return store.ErrAssociationNotFound
	}
	return err
}

// DeleteVote removes a user's vote. Returns store.ErrVoteNotFound if there was none.
func (q *queries) DeleteVote(ctx context.Context, userID string, key domain.AssociationKey) error {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM tag_votes
		WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND tag_id = ?`,
		userID, string(key.Entity.Type), key.Entity.ID, key.TagID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrVoteNotFound
	}
	return nil
}
