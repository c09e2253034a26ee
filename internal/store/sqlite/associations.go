package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// associationColumns must match the scan order in scanAssociation.
const associationColumns = `
	a.id, a.entity_type, a.entity_id, a.tag_id, t.name,
	a.score, a.moderator_score, a.needs_review, a.disabled, a.overridden,
	a.created_at, a.updated_at, a.disabled_at`

const associationFrom = ` FROM tag_associations a JOIN tags t ON t.id = a.tag_id`

func scanAssociation(row scanner) (*domain.TagAssociation, error) {
	var (
		a          domain.TagAssociation
		entityType string
		createdAt  string
		updatedAt  string
		disabledAt sql.NullString
	)

	err := row.Scan(
		&a.ID,
		&entityType,
		&a.Entity.ID,
		&a.TagID,
		&a.TagName,
		&a.Score,
		&a.ModeratorScore,
		&a.NeedsReview,
		&a.Disabled,
		&a.OverriddenByModerator,
		&createdAt,
		&updatedAt,
		&disabledAt,
	)
	if err != nil {
		return nil, err
	}
	a.Entity.Type = domain.EntityType(entityType)

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.DisabledAt, err = parseNullableTime(disabledAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAssociation retrieves an association by its composite key.
// Returns store.ErrAssociationNotFound if none exists.
func (q *queries) GetAssociation(ctx context.Context, key domain.AssociationKey) (*domain.TagAssociation, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+associationColumns+associationFrom+`
		WHERE a.entity_type = ? AND a.entity_id = ? AND a.tag_id = ?`,
		string(key.Entity.Type), key.Entity.ID, key.TagID)

	a, err := scanAssociation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrAssociationNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAssociationByID retrieves an association by its surrogate id.
func (q *queries) GetAssociationByID(ctx context.Context, id int64) (*domain.TagAssociation, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+associationColumns+associationFrom+`
		WHERE a.id = ?`, id)

	a, err := scanAssociation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrAssociationNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAssociation inserts a new association and fills in its ID.
// Returns store.ErrAlreadyExists if the key is taken.
func (q *queries) CreateAssociation(ctx context.Context, a *domain.TagAssociation) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO tag_associations (
			entity_type, entity_id, tag_id, score, moderator_score,
			needs_review, disabled, overridden, created_at, updated_at, disabled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.Entity.Type),
		a.Entity.ID,
		a.TagID,
		a.Score,
		a.ModeratorScore,
		boolToInt(a.NeedsReview),
		boolToInt(a.Disabled),
		boolToInt(a.OverriddenByModerator),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
		nullTimeString(a.DisabledAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists.WithMessage("tag already attached to entity")
		}
		if isForeignKeyViolation(err) {
			return store.ErrTagNotFound
		}
		return err
	}

	a.ID, err = res.LastInsertId()
	return err
}

// SaveAssociationState persists the moderation flags. Score columns are never
// written here; they only move through AdjustScore.
func (q *queries) SaveAssociationState(ctx context.Context, a *domain.TagAssociation) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE tag_associations
		SET needs_review = ?, disabled = ?, overridden = ?, updated_at = ?, disabled_at = ?
		WHERE id = ?`,
		boolToInt(a.NeedsReview),
		boolToInt(a.Disabled),
		boolToInt(a.OverriddenByModerator),
		formatTime(a.UpdatedAt),
		nullTimeString(a.DisabledAt),
		a.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrAssociationNotFound
	}
	return nil
}

// AdjustScore adds the deltas in a single UPDATE and returns the new totals.
func (q *queries) AdjustScore(ctx context.Context, associationID int64, delta, moderatorDelta int, now time.Time) (int, int, error) {
	var score, moderatorScore int
	err := q.q.QueryRowContext(ctx, `
		UPDATE tag_associations
		SET score = score + ?, moderator_score = moderator_score + ?, updated_at = ?
		WHERE id = ?
		RETURNING score, moderator_score`,
		delta, moderatorDelta, formatTime(now), associationID,
	).Scan(&score, &moderatorScore)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, store.ErrAssociationNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("adjust score: %w", err)
	}
	return score, moderatorScore, nil
}

// ListVotableTags returns the associations on an entity with the user's vote joined in.
// Ordered by score descending, then tag name ascending.
func (s *Store) ListVotableTags(ctx context.Context, entity domain.EntityRef, userID string, includeDisabled bool) ([]domain.VotableTag, error) {
	query := `
		SELECT a.id, a.tag_id, t.name, a.score, v.value, a.needs_review, a.disabled
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		LEFT JOIN tag_votes v
			ON v.entity_type = a.entity_type
			AND v.entity_id = a.entity_id
			AND v.tag_id = a.tag_id
			AND v.user_id = ?
		WHERE a.entity_type = ? AND a.entity_id = ?`
	if !includeDisabled {
		query += ` AND a.disabled = 0`
	}
	query += ` ORDER BY a.score DESC, t.name ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, string(entity.Type), entity.ID)
	if err != nil {
		return nil, fmt.Errorf("list votable tags: %w", err)
	}
	defer rows.Close()

	tags := []domain.VotableTag{}
	for rows.Next() {
		var (
			vt       domain.VotableTag
			userVote sql.NullInt64
		)
		err := rows.Scan(
			&vt.AssociationID,
			&vt.TagID,
			&vt.TagName,
			&vt.Score,
			&userVote,
			&vt.NeedsReview,
			&vt.Disabled,
		)
		if err != nil {
			return nil, err
		}
		if userVote.Valid {
			v := int(userVote.Int64)
			vt.UserVote = &v
		}
		tags = append(tags, vt)
	}
	return tags, rows.Err()
}

// ListReviewQueue returns associations flagged for review, most recently updated first.
// The cursor encodes "updated_at|id" of the last row.
func (s *Store) ListReviewQueue(ctx context.Context, params store.PaginationParams) (store.PaginatedResult[*domain.TagAssociation], error) {
	params.Validate()

	after, err := store.DecodeCursor(params.Cursor)
	if err != nil {
		return store.PaginatedResult[*domain.TagAssociation]{}, store.ErrInvalidInput.WithCause(err)
	}

	query := `SELECT ` + associationColumns + associationFrom + ` WHERE a.needs_review = 1`
	args := []any{}
	if after != "" {
		updatedAt, id, err := splitReviewCursor(after)
		if err != nil {
			return store.PaginatedResult[*domain.TagAssociation]{}, store.ErrInvalidInput.WithCause(err)
		}
		query += ` AND (a.updated_at < ? OR (a.updated_at = ? AND a.id < ?))`
		args = append(args, updatedAt, updatedAt, id)
	}
	query += ` ORDER BY a.updated_at DESC, a.id DESC LIMIT ?`
	args = append(args, params.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.PaginatedResult[*domain.TagAssociation]{}, fmt.Errorf("list review queue: %w", err)
	}
	defer rows.Close()

	var items []*domain.TagAssociation
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return store.PaginatedResult[*domain.TagAssociation]{}, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return store.PaginatedResult[*domain.TagAssociation]{}, err
	}

	return store.Page(items, params.Limit, func(a *domain.TagAssociation) string {
		return fmt.Sprintf("%s|%d", formatTime(a.UpdatedAt), a.ID)
	}), nil
}

func splitReviewCursor(key string) (string, int64, error) {
	i := strings.LastIndex(key, "|")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed cursor %q", key)
	}
	id, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid cursor id: %w", err)
	}
	return key[:i], id, nil
}
