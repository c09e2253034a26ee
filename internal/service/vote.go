package service

import (
	"context"
	"errors"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/policy"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// VoteService accumulates up/down votes per association and applies the
// threshold rules after every score change.
type VoteService struct {
	store   store.Store
	policy  PolicyProvider
	events  sse.Emitter
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time

	trending TrendingInvalidator
}

// NewVoteService creates a new vote service. m may be nil.
func NewVoteService(s store.Store, p PolicyProvider, events sse.Emitter, m *metrics.Metrics, log *logger.Logger) *VoteService {
	return &VoteService{
		store:   s,
		policy:  p,
		events:  events,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

// SetTrendingInvalidator sets the hook called when a vote changes which
// associations are active. Set after construction since TagService owns the cache.
func (s *VoteService) SetTrendingInvalidator(t TrendingInvalidator) {
	s.trending = t
}

// VoteResult describes the association after a vote operation.
type VoteResult struct {
	Association *domain.TagAssociation `json:"association"`
	Outcome     domain.VoteOutcome     `json:"outcome"`
	Transition  domain.Transition      `json:"transition"`
	// UserVote is the caller's vote after the operation; nil when they have none.
	UserVote *int `json:"user_vote"`
	// Attached is true when this vote created the association.
	Attached bool `json:"attached"`
}

// CastVote records the caller's vote on a tag attached to an entity.
//
// A repeat of the caller's current value changes nothing. Otherwise the score
// moves by the difference between the new and previous contribution, and the
// thresholds are re-applied, all in one transaction.
func (s *VoteService) CastVote(ctx context.Context, caller *domain.Caller, entity domain.EntityRef, tagID int64, value int) (*VoteResult, error) {
	if err := requireCaller(caller, "vote"); err != nil {
		return nil, err
	}
	key := domain.AssociationKey{Entity: entity, TagID: tagID}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validate.Var("value", value, "vote"); err != nil {
		return nil, err
	}

	pol := s.policy.Current()
	now := s.now()

	var res *VoteResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.castInTx(ctx, tx, caller, key, value, pol, now)
		return err
	})
	if err != nil {
		return nil, s.fail(err, caller, key, "cast vote failed")
	}

	s.publish(caller, key, res)
	return res, nil
}

// CastVotes applies the same vote to several tags on one entity. Either every
// vote commits or none does. Results follow the order of tagIDs after
// duplicates are dropped.
func (s *VoteService) CastVotes(ctx context.Context, caller *domain.Caller, entity domain.EntityRef, tagIDs []int64, value int) ([]*VoteResult, error) {
	if err := requireCaller(caller, "vote"); err != nil {
		return nil, err
	}
	keys, err := batchKeys(entity, tagIDs)
	if err != nil {
		return nil, err
	}
	if err := validate.Var("value", value, "vote"); err != nil {
		return nil, err
	}

	pol := s.policy.Current()
	now := s.now()

	results := make([]*VoteResult, 0, len(keys))
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		results = results[:0]
		for _, key := range keys {
			res, err := s.castInTx(ctx, tx, caller, key, value, pol, now)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, caller, keys[0], "cast votes failed")
	}

	for i, res := range results {
		s.publish(caller, keys[i], res)
	}
	return results, nil
}

func (s *VoteService) castInTx(ctx context.Context, tx store.Tx, caller *domain.Caller, key domain.AssociationKey, value int, pol policy.Policy, now time.Time) (*VoteResult, error) {
	a, attached, err := s.loadOrAttach(ctx, tx, caller, key, pol.ImplicitAssociations, now)
	if err != nil {
		return nil, err
	}

	prev, err := currentVote(ctx, tx, caller.UserID, key)
	if err != nil {
		return nil, err
	}

	outcome := domain.VoteCreated
	previous, previousModerator := 0, 0
	if prev != nil {
		outcome = domain.VoteChanged
		previous = prev.Value
		if prev.Moderator {
			previousModerator = prev.Value
		}
	}

	delta := domain.ScoreDelta(previous, value)
	if delta == 0 {
		return &VoteResult{Association: a, Outcome: domain.VoteUnchanged, Transition: domain.TransitionNone, UserVote: &value, Attached: attached}, nil
	}

	vote := &domain.Vote{
		UserID:    caller.UserID,
		Entity:    key.Entity,
		TagID:     key.TagID,
		Value:     value,
		Moderator: caller.IsModerator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.UpsertVote(ctx, vote); err != nil {
		return nil, err
	}

	moderatorValue := 0
	if caller.IsModerator {
		moderatorValue = value
	}

	transition, err := applyDelta(ctx, tx, a, delta, moderatorValue-previousModerator, pol.Thresholds, now)
	if err != nil {
		return nil, err
	}

	return &VoteResult{Association: a, Outcome: outcome, Transition: transition, UserVote: &value, Attached: attached}, nil
}

// RemoveVote withdraws the caller's vote. Removing a vote that does not exist
// is a no-op; the association itself must exist.
func (s *VoteService) RemoveVote(ctx context.Context, caller *domain.Caller, entity domain.EntityRef, tagID int64) (*VoteResult, error) {
	if err := requireCaller(caller, "vote"); err != nil {
		return nil, err
	}
	key := domain.AssociationKey{Entity: entity, TagID: tagID}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	pol := s.policy.Current()
	now := s.now()

	var res *VoteResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = removeInTx(ctx, tx, caller, key, pol, now)
		return err
	})
	if err != nil {
		return nil, s.fail(err, caller, key, "remove vote failed")
	}

	s.publish(caller, key, res)
	return res, nil
}

// RemoveVotes withdraws the caller's votes on several tags of one entity in a
// single transaction. A missing association fails the whole batch.
func (s *VoteService) RemoveVotes(ctx context.Context, caller *domain.Caller, entity domain.EntityRef, tagIDs []int64) ([]*VoteResult, error) {
	if err := requireCaller(caller, "vote"); err != nil {
		return nil, err
	}
	keys, err := batchKeys(entity, tagIDs)
	if err != nil {
		return nil, err
	}

	pol := s.policy.Current()
	now := s.now()

	results := make([]*VoteResult, 0, len(keys))
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		results = results[:0]
		for _, key := range keys {
			res, err := removeInTx(ctx, tx, caller, key, pol, now)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, caller, keys[0], "remove votes failed")
	}

	for i, res := range results {
		s.publish(caller, keys[i], res)
	}
	return results, nil
}

func removeInTx(ctx context.Context, tx store.Tx, caller *domain.Caller, key domain.AssociationKey, pol policy.Policy, now time.Time) (*VoteResult, error) {
	a, err := tx.GetAssociation(ctx, key)
	if err != nil {
		return nil, err
	}

	prev, err := currentVote(ctx, tx, caller.UserID, key)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return &VoteResult{Association: a, Outcome: domain.VoteAbsent, Transition: domain.TransitionNone}, nil
	}

	if err := tx.DeleteVote(ctx, caller.UserID, key); err != nil {
		return nil, err
	}

	moderatorDelta := 0
	if prev.Moderator {
		moderatorDelta = -prev.Value
	}

	transition, err := applyDelta(ctx, tx, a, domain.ScoreDelta(prev.Value, 0), moderatorDelta, pol.Thresholds, now)
	if err != nil {
		return nil, err
	}

	return &VoteResult{Association: a, Outcome: domain.VoteRemoved, Transition: transition}, nil
}

// batchVoteRequest bounds a multi-tag vote the same way attach requests are bounded.
type batchVoteRequest struct {
	TagIDs []int64 `json:"tag_ids" validate:"required,min=1,max=50,dive,gt=0"`
}

// batchKeys validates a batch and returns one key per distinct tag.
func batchKeys(entity domain.EntityRef, tagIDs []int64) ([]domain.AssociationKey, error) {
	if err := validate.Validate(batchVoteRequest{TagIDs: tagIDs}); err != nil {
		return nil, err
	}
	keys := make([]domain.AssociationKey, 0, len(tagIDs))
	seen := make(map[int64]struct{}, len(tagIDs))
	for _, id := range tagIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		key := domain.AssociationKey{Entity: entity, TagID: id}
		if err := validateKey(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// RecomputeAssociationState re-applies the current thresholds to one association.
// Moderators use it after changing the policy.
func (s *VoteService) RecomputeAssociationState(ctx context.Context, caller *domain.Caller, entity domain.EntityRef, tagID int64) (*domain.TagAssociation, domain.Transition, error) {
	if err := requireModerator(caller, "recompute association state"); err != nil {
		return nil, domain.TransitionNone, err
	}
	key := domain.AssociationKey{Entity: entity, TagID: tagID}
	if err := validateKey(key); err != nil {
		return nil, domain.TransitionNone, err
	}

	pol := s.policy.Current()
	now := s.now()

	var (
		a          *domain.TagAssociation
		transition domain.Transition
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetAssociation(ctx, key)
		if err != nil {
			return err
		}
		transition, err = recompute(ctx, tx, a, pol.Thresholds, now)
		return err
	})
	if err != nil {
		return nil, domain.TransitionNone, s.fail(err, caller, key, "recompute failed")
	}

	s.metrics.RecordTransition(transition)
	if evt, ok := sse.NewTransitionEvent(a, transition); ok {
		s.events.Emit(evt)
	}
	return a, transition, nil
}

// ListVotableTags returns the tags on an entity with the caller's vote, ordered
// by score descending then name. Disabled associations are only included for
// moderators who ask for them.
func (s *VoteService) ListVotableTags(ctx context.Context, caller *domain.Caller, entity domain.EntityRef, includeDisabled bool) ([]domain.VotableTag, error) {
	if !entity.Valid() {
		return nil, domainerrors.Validationf("invalid entity %s", entity)
	}
	if includeDisabled {
		if err := requireModerator(caller, "list disabled tags"); err != nil {
			return nil, err
		}
	}

	userID := ""
	if caller != nil {
		userID = caller.UserID
	}

	tags, err := s.store.ListVotableTags(ctx, entity, userID, includeDisabled)
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}
	return tags, nil
}

// loadOrAttach returns the association for key, creating it when the caller
// may do so implicitly: moderators always, other users only when allowed.
func (s *VoteService) loadOrAttach(ctx context.Context, tx store.Tx, caller *domain.Caller, key domain.AssociationKey, implicit bool, now time.Time) (*domain.TagAssociation, bool, error) {
	a, err := tx.GetAssociation(ctx, key)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	if !caller.IsModerator && !implicit {
		return nil, false, domainerrors.NotFoundf("tag %d is not attached to %s", key.TagID, key.Entity)
	}

	tag, err := tx.GetTag(ctx, key.TagID)
	if err != nil {
		return nil, false, err
	}

	a = newAssociation(key, tag, caller, now)
	if err := tx.CreateAssociation(ctx, a); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// newAssociation builds an unsaved association with score 0. Moderator
// attachments start approved; anyone else's start in review.
func newAssociation(key domain.AssociationKey, tag *domain.Tag, caller *domain.Caller, now time.Time) *domain.TagAssociation {
	return &domain.TagAssociation{
		Entity:      key.Entity,
		TagID:       tag.ID,
		TagName:     tag.Name,
		NeedsReview: !caller.IsModerator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// currentVote returns the caller's vote, or nil when there is none.
func currentVote(ctx context.Context, tx store.Tx, userID string, key domain.AssociationKey) (*domain.Vote, error) {
	v, err := tx.GetVote(ctx, userID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// applyDelta moves the score at the storage layer, then re-applies thresholds to the new totals.
func applyDelta(ctx context.Context, tx store.Tx, a *domain.TagAssociation, delta, moderatorDelta int, t domain.Thresholds, now time.Time) (domain.Transition, error) {
	score, moderatorScore, err := tx.AdjustScore(ctx, a.ID, delta, moderatorDelta, now)
	if err != nil {
		return domain.TransitionNone, err
	}
	a.Score, a.ModeratorScore = score, moderatorScore
	a.UpdatedAt = now
	return recompute(ctx, tx, a, t, now)
}

// recompute applies the thresholds and persists the flags if they changed.
func recompute(ctx context.Context, tx store.Tx, a *domain.TagAssociation, t domain.Thresholds, now time.Time) (domain.Transition, error) {
	transition := a.Recompute(t, now)
	if transition == domain.TransitionNone {
		return transition, nil
	}
	if err := tx.SaveAssociationState(ctx, a); err != nil {
		return domain.TransitionNone, err
	}
	return transition, nil
}

func (s *VoteService) fail(err error, caller *domain.Caller, key domain.AssociationKey, msg string) error {
	mapped := mapStoreError(err, s.metrics)
	if domainerrors.Is(mapped, domainerrors.ErrInternal) || domainerrors.Is(mapped, domainerrors.ErrConflict) {
		s.logger.WithAssociation(key).WithCaller(caller).WithError(err).Warn(msg)
	}
	return mapped
}

// publish emits events and metrics for a committed vote operation.
func (s *VoteService) publish(caller *domain.Caller, key domain.AssociationKey, res *VoteResult) {
	a := res.Association

	s.metrics.RecordVote(key.Entity.Type, res.Outcome)
	s.metrics.RecordTransition(res.Transition)

	if res.Attached {
		s.events.Emit(sse.NewAttachedEvent(a))
	}
	if s.trending != nil && (res.Attached || res.Transition == domain.TransitionAutoDisabled) {
		s.trending.InvalidateTrending()
	}
	if res.Outcome == domain.VoteCreated || res.Outcome == domain.VoteChanged || res.Outcome == domain.VoteRemoved {
		s.events.Emit(sse.NewScoreChangedEvent(a))
	}
	if evt, ok := sse.NewTransitionEvent(a, res.Transition); ok {
		s.events.Emit(evt)
	}

	log := s.logger.WithAssociation(key).WithCaller(caller)
	if res.Transition != domain.TransitionNone {
		log.Info("association state changed",
			"transition", res.Transition,
			"score", a.Score,
		)
	}
	log.Debug("vote applied",
		"outcome", res.Outcome,
		"score", a.Score,
		"moderator_score", a.ModeratorScore,
	)
}
