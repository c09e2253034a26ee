package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// tagColumns is the ordered list of columns selected in tag queries.
// Must match the scan order in scanTag.
const tagColumns = `t.id, t.name, t.created_at`

// countColumns aggregates active associations per entity type.
// Must follow tagColumns in scanTagWithCounts.
const countColumns = `
	COALESCE(SUM(CASE WHEN a.entity_type = 'model' AND a.disabled = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN a.entity_type = 'image' AND a.disabled = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN a.entity_type = 'post' AND a.disabled = 0 THEN 1 ELSE 0 END), 0)`

type scanner interface{ Scan(dest ...any) error }

func scanTag(row scanner) (*domain.Tag, error) {
	var (
		t         domain.Tag
		createdAt string
	)
	if err := row.Scan(&t.ID, &t.Name, &createdAt); err != nil {
		return nil, err
	}

	var err error
	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTagWithCounts(row scanner) (domain.TagWithCounts, error) {
	var (
		t         domain.TagWithCounts
		createdAt string
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&createdAt,
		&t.Counts.Models,
		&t.Counts.Images,
		&t.Counts.Posts,
	)
	if err != nil {
		return t, err
	}

	t.CreatedAt, err = parseTime(createdAt)
	return t, err
}

// GetTag retrieves a tag by its ID.
// Returns store.ErrTagNotFound if the tag does not exist.
func (q *queries) GetTag(ctx context.Context, tagID int64) (*domain.Tag, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags t WHERE t.id = ?`, tagID)

	t, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindOrCreateTag returns the tag with the given normalized name, inserting it if needed.
// The boolean result reports whether a new row was created.
func (q *queries) FindOrCreateTag(ctx context.Context, name string) (*domain.Tag, bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO tags (name, created_at) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING`,
		name, formatTime(time.Now()),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert tag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	row := q.q.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags t WHERE t.name = ?`, name)
	t, err := scanTag(row)
	if err != nil {
		return nil, false, fmt.Errorf("read tag: %w", err)
	}
	return t, affected == 1, nil
}

// GetTagByName retrieves a tag by its normalized name.
func (s *Store) GetTagByName(ctx context.Context, name string) (*domain.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags t WHERE t.name = ?`, name)

	t, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTagCounts returns the active association counts for one tag.
func (s *Store) GetTagCounts(ctx context.Context, tagID int64) (domain.TagCounts, error) {
	var counts domain.TagCounts

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, COUNT(*)
		FROM tag_associations
		WHERE tag_id = ? AND disabled = 0
		GROUP BY entity_type`, tagID)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entityType string
			n          int
		)
		if err := rows.Scan(&entityType, &n); err != nil {
			return counts, err
		}
		counts.Add(domain.EntityType(entityType), n)
	}
	return counts, rows.Err()
}

// escapeLike escapes LIKE wildcards so a prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListTags returns tags ordered by name with keyset pagination.
// The cursor is the name of the last tag on the previous page.
func (s *Store) ListTags(ctx context.Context, tq store.TagQuery) (store.PaginatedResult[domain.TagWithCounts], error) {
	tq.Validate()

	after, err := store.DecodeCursor(tq.Cursor)
	if err != nil {
		return store.PaginatedResult[domain.TagWithCounts]{}, store.ErrInvalidInput.WithCause(err)
	}

	var (
		where []string
		args  []any
	)
	if after != "" {
		where = append(where, "t.name > ?")
		args = append(args, after)
	}
	if tq.Prefix != "" {
		where = append(where, `t.name LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(tq.Prefix)+"%")
	}
	if tq.EntityType != nil {
		where = append(where, `EXISTS (
			SELECT 1 FROM tag_associations x
			WHERE x.tag_id = t.id AND x.entity_type = ? AND x.disabled = 0)`)
		args = append(args, string(*tq.EntityType))
	}

	query := `SELECT ` + tagColumns + `,` + countColumns + `
		FROM tags t
		LEFT JOIN tag_associations a ON a.tag_id = t.id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` GROUP BY t.id ORDER BY t.name ASC LIMIT ?`
	args = append(args, tq.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.PaginatedResult[domain.TagWithCounts]{}, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.TagWithCounts
	for rows.Next() {
		t, err := scanTagWithCounts(rows)
		if err != nil {
			return store.PaginatedResult[domain.TagWithCounts]{}, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return store.PaginatedResult[domain.TagWithCounts]{}, err
	}

	return store.Page(tags, tq.Limit, func(t domain.TagWithCounts) string { return t.Name }), nil
}

// AllTags returns every tag ordered by name. Used to rebuild the search index.
func (s *Store) AllTags(ctx context.Context) ([]*domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags t ORDER BY t.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// TrendingTags returns the tags with the most active associations.
// Ties are broken by name so the order is stable.
func (s *Store) TrendingTags(ctx context.Context, limit int) ([]domain.TagWithCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tagColumns+`,`+countColumns+`
		FROM tags t
		JOIN tag_associations a ON a.tag_id = t.id AND a.disabled = 0
		GROUP BY t.id
		ORDER BY COUNT(a.id) DESC, t.name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("trending tags: %w", err)
	}
	defer rows.Close()

	tags := []domain.TagWithCounts{}
	for rows.Next() {
		t, err := scanTagWithCounts(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// DeleteTag removes a tag. Associations, votes, and moderation actions cascade.
func (s *Store) DeleteTag(ctx context.Context, tagID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, tagID)
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrTagNotFound
	}
	return nil
}
