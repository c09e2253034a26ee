package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/search"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// Limits for tag reads and attachments.
const (
	DefaultTrendingLimit = 20
	MaxTrendingLimit     = 100
	MaxAttachEntities    = 50
	MaxAttachTags        = 50
)

// TagIndex keeps tag names searchable.
type TagIndex interface {
	IndexTag(t *domain.Tag) error
	DeleteTag(tagID int64) error
	Search(ctx context.Context, text string, limit int) ([]search.Hit, error)
	Rebuild(ctx context.Context, src search.TagSource) error
}

// TagService orchestrates global tag operations.
// Tags are community-wide; attaching one to content starts a votable association.
type TagService struct {
	store   store.Store
	index   TagIndex
	events  sse.Emitter
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time

	trending *cache.Cache
	group    singleflight.Group
}

// NewTagService creates a new tag service. Trending results are cached for trendingTTL.
func NewTagService(s store.Store, index TagIndex, events sse.Emitter, m *metrics.Metrics, log *logger.Logger, trendingTTL time.Duration) *TagService {
	return &TagService{
		store:    s,
		index:    index,
		events:   events,
		metrics:  m,
		logger:   log,
		now:      time.Now,
		trending: cache.New(trendingTTL, 2*trendingTTL),
	}
}

// ListTags returns tags ordered by name, optionally filtered by name prefix and entity type.
func (s *TagService) ListTags(ctx context.Context, q store.TagQuery) (store.PaginatedResult[domain.TagWithCounts], error) {
	q.Prefix = domain.NormalizeTagName(q.Prefix)
	if q.EntityType != nil && !q.EntityType.Valid() {
		return store.PaginatedResult[domain.TagWithCounts]{}, domainerrors.Validationf("unknown entity type %q", *q.EntityType)
	}
	q.Validate()

	page, err := s.store.ListTags(ctx, q)
	if err != nil {
		return page, mapStoreError(err, s.metrics)
	}
	return page, nil
}

// GetTagByName returns a tag, looked up by its normalized name, with association counts.
func (s *TagService) GetTagByName(ctx context.Context, name string) (*domain.TagWithCounts, error) {
	normalized := domain.NormalizeTagName(name)
	if normalized == "" {
		return nil, domainerrors.Validation("tag name is empty after normalization")
	}

	t, err := s.store.GetTagByName(ctx, normalized)
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}
	counts, err := s.store.GetTagCounts(ctx, t.ID)
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}
	return &domain.TagWithCounts{Tag: *t, Counts: counts}, nil
}

// TrendingTags returns the tags with the most active associations.
// Results are cached; concurrent misses for the same limit share one query.
func (s *TagService) TrendingTags(ctx context.Context, limit int) ([]domain.TagWithCounts, error) {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	limit = min(limit, MaxTrendingLimit)
	key := strconv.Itoa(limit)

	if cached, ok := s.trending.Get(key); ok {
		return cached.([]domain.TagWithCounts), nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		tags, err := s.store.TrendingTags(ctx, limit)
		if err != nil {
			return nil, err
		}
		s.trending.SetDefault(key, tags)
		return tags, nil
	})
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}
	return v.([]domain.TagWithCounts), nil
}

// InvalidateTrending drops every cached trending result.
func (s *TagService) InvalidateTrending() {
	s.trending.Flush()
}

// SearchTags returns autocomplete suggestions for a partial tag name.
func (s *TagService) SearchTags(ctx context.Context, text string, limit int) ([]search.Hit, error) {
	if domain.NormalizeTagName(text) == "" {
		return nil, domainerrors.Validation("search query is required")
	}
	hits, err := s.index.Search(ctx, text, limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "tag search failed")
	}
	return hits, nil
}

// AttachRequest names tags to attach to a set of entities of one type.
// Tags may be given by name (created when missing) or by id.
// The validate max limits mirror MaxAttachEntities and MaxAttachTags.
type AttachRequest struct {
	EntityType domain.EntityType `json:"entity_type"`
	EntityIDs  []int64           `json:"entity_ids" validate:"required,max=50,dive,gt=0"`
	TagNames   []string          `json:"tag_names" validate:"max=50,dive,tagname"`
	TagIDs     []int64           `json:"tag_ids" validate:"max=50,dive,gt=0"`
}

// AttachResult reports what AttachTags changed.
type AttachResult struct {
	// Attached holds newly created associations.
	Attached []*domain.TagAssociation `json:"attached"`
	// Existing holds associations that were already present and left untouched.
	Existing []*domain.TagAssociation `json:"existing"`
	// CreatedTags holds tags created by this request.
	CreatedTags []*domain.Tag `json:"created_tags"`
}

// AttachTags attaches every requested tag to every requested entity in one
// transaction. Attaching an existing association is not an error. Associations
// attached by a moderator start approved; anyone else's start in review.
func (s *TagService) AttachTags(ctx context.Context, caller *domain.Caller, req AttachRequest) (*AttachResult, error) {
	if err := requireCaller(caller, "attach tags"); err != nil {
		return nil, err
	}
	names, err := validateAttach(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := &AttachResult{
		Attached:    []*domain.TagAssociation{},
		Existing:    []*domain.TagAssociation{},
		CreatedTags: []*domain.Tag{},
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		tags := make([]*domain.Tag, 0, len(names)+len(req.TagIDs))
		seen := make(map[int64]bool)

		for _, name := range names {
			t, created, err := tx.FindOrCreateTag(ctx, name)
			if err != nil {
				return err
			}
			if created {
				res.CreatedTags = append(res.CreatedTags, t)
			}
			if !seen[t.ID] {
				seen[t.ID] = true
				tags = append(tags, t)
			}
		}
		for _, tagID := range req.TagIDs {
			if seen[tagID] {
				continue
			}
			t, err := tx.GetTag(ctx, tagID)
			if errors.Is(err, store.ErrNotFound) {
				return domainerrors.NotFoundf("tag %d not found", tagID)
			}
			if err != nil {
				return err
			}
			seen[tagID] = true
			tags = append(tags, t)
		}

		for _, entityID := range req.EntityIDs {
			entity := domain.EntityRef{Type: req.EntityType, ID: entityID}
			for _, t := range tags {
				key := domain.AssociationKey{Entity: entity, TagID: t.ID}
				existing, err := tx.GetAssociation(ctx, key)
				if err == nil {
					res.Existing = append(res.Existing, existing)
					continue
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}

				a := newAssociation(key, t, caller, now)
				if err := tx.CreateAssociation(ctx, a); err != nil {
					return err
				}
				res.Attached = append(res.Attached, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}

	for _, t := range res.CreatedTags {
		if err := s.index.IndexTag(t); err != nil {
			s.logger.Warn("failed to index tag", "tag_id", t.ID, "tag_name", t.Name, "error", err)
		}
		s.events.Emit(sse.NewTagCreatedEvent(t))
	}
	for _, a := range res.Attached {
		s.events.Emit(sse.NewAttachedEvent(a))
	}
	if len(res.Attached) > 0 {
		s.InvalidateTrending()
	}

	s.logger.WithCaller(caller).Info("tags attached",
		"entity_type", req.EntityType,
		"entities", len(req.EntityIDs),
		"attached", len(res.Attached),
		"existing", len(res.Existing),
		"created_tags", len(res.CreatedTags),
	)
	return res, nil
}

// validateAttach checks the request shape and returns the normalized, de-duplicated names.
func validateAttach(req AttachRequest) ([]string, error) {
	if !req.EntityType.Valid() {
		return nil, domainerrors.Validationf("unknown entity type %q", req.EntityType)
	}
	if err := validate.Validate(req); err != nil {
		return nil, err
	}
	if len(req.TagNames)+len(req.TagIDs) == 0 {
		return nil, domainerrors.Validation("at least one tag name or tag id is required")
	}
	if len(req.TagNames)+len(req.TagIDs) > MaxAttachTags {
		return nil, domainerrors.Validationf("at most %d tags per request", MaxAttachTags)
	}

	names := make([]string, 0, len(req.TagNames))
	seen := make(map[string]bool, len(req.TagNames))
	for _, raw := range req.TagNames {
		name := domain.NormalizeTagName(raw)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// DeleteTag removes a tag and, by cascade, all its associations and votes.
func (s *TagService) DeleteTag(ctx context.Context, caller *domain.Caller, tagID int64) error {
	if err := requireModerator(caller, "delete tags"); err != nil {
		return err
	}
	if tagID <= 0 {
		return domainerrors.Validation("tag id must be positive")
	}

	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		return mapStoreError(err, s.metrics)
	}

	if err := s.index.DeleteTag(tagID); err != nil {
		s.logger.Warn("failed to remove tag from index", "tag_id", tagID, "error", err)
	}
	s.InvalidateTrending()
	s.events.Emit(sse.NewTagDeletedEvent(tagID))

	s.logger.WithCaller(caller).Info("tag deleted", "tag_id", tagID)
	return nil
}

// RebuildIndex reloads the search index from the store.
func (s *TagService) RebuildIndex(ctx context.Context) error {
	return s.index.Rebuild(ctx, s.store)
}
