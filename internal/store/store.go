// Package store defines the persistence boundary for tags, associations, votes, and moderation.
package store

import (
	"context"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// Tx is the set of operations that run inside one unit of work.
// Every vote mutation, its score delta, and the resulting state recompute
// go through a single Tx so partial effects are never observable.
type Tx interface {
	GetTag(ctx context.Context, tagID int64) (*domain.Tag, error)
	FindOrCreateTag(ctx context.Context, name string) (*domain.Tag, bool, error)

	GetAssociation(ctx context.Context, key domain.AssociationKey) (*domain.TagAssociation, error)
	GetAssociationByID(ctx context.Context, id int64) (*domain.TagAssociation, error)
	CreateAssociation(ctx context.Context, a *domain.TagAssociation) error
	SaveAssociationState(ctx context.Context, a *domain.TagAssociation) error

	// AdjustScore applies deltas atomically at the storage layer, stamps updated_at
	// with now, and returns the new totals.
	AdjustScore(ctx context.Context, associationID int64, delta, moderatorDelta int, now time.Time) (score, moderatorScore int, err error)

	GetVote(ctx context.Context, userID string, key domain.AssociationKey) (*domain.Vote, error)
	UpsertVote(ctx context.Context, v *domain.Vote) error
	DeleteVote(ctx context.Context, userID string, key domain.AssociationKey) error

	CreateModerationAction(ctx context.Context, action *domain.ModerationAction) error
}

// TagQuery filters ListTags.
type TagQuery struct {
	Prefix     string             // Name prefix (normalized)
	EntityType *domain.EntityType // Only tags with at least one active association of this type
	PaginationParams
}

// Store is the full persistence interface used by services.
type Store interface {
	Tx

	// WithTx runs fn in a write transaction. The transaction commits if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetTagByName(ctx context.Context, name string) (*domain.Tag, error)
	GetTagCounts(ctx context.Context, tagID int64) (domain.TagCounts, error)
	ListTags(ctx context.Context, q TagQuery) (PaginatedResult[domain.TagWithCounts], error)
	AllTags(ctx context.Context) ([]*domain.Tag, error)
	TrendingTags(ctx context.Context, limit int) ([]domain.TagWithCounts, error)
	DeleteTag(ctx context.Context, tagID int64) error

	ListVotableTags(ctx context.Context, entity domain.EntityRef, userID string, includeDisabled bool) ([]domain.VotableTag, error)
	ListReviewQueue(ctx context.Context, params PaginationParams) (PaginatedResult[*domain.TagAssociation], error)
	ListModerationActions(ctx context.Context, associationID int64) ([]*domain.ModerationAction, error)

	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	ListUsers(ctx context.Context) ([]*domain.User, error)

	Ping(ctx context.Context) error
	Close() error
}
