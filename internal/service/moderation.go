package service

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/id"
	"github.com/tagvoteapp/tagvote-server/internal/idempotency"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// MaxModerationBatch bounds the number of associations in one ModerateBatch call.
const MaxModerationBatch = 100

// Idempotency runs a request at most once per key.
type Idempotency interface {
	Do(ctx context.Context, key, fingerprint string, out any, fn func(ctx context.Context) (any, error)) (bool, error)
}

// ModerationService applies moderator decisions and keeps the audit trail.
type ModerationService struct {
	store       store.Store
	policy      PolicyProvider
	idempotency Idempotency
	events      sse.Emitter
	metrics     *metrics.Metrics
	logger      *logger.Logger
	now         func() time.Time

	trending TrendingInvalidator
}

// NewModerationService creates a new moderation service. idem and m may be nil.
func NewModerationService(s store.Store, p PolicyProvider, idem Idempotency, events sse.Emitter, m *metrics.Metrics, log *logger.Logger) *ModerationService {
	return &ModerationService{
		store:       s,
		policy:      p,
		idempotency: idem,
		events:      events,
		metrics:     m,
		logger:      log,
		now:         time.Now,
	}
}

// SetTrendingInvalidator sets the hook called when a decision enables or
// disables an association.
func (s *ModerationService) SetTrendingInvalidator(t TrendingInvalidator) {
	s.trending = t
}

// ModerationOutcome pairs an association with the audit record of the decision applied to it.
type ModerationOutcome struct {
	Association *domain.TagAssociation  `json:"association"`
	Action      *domain.ModerationAction `json:"action"`
	// Transition is set when a release immediately re-applied the thresholds.
	Transition domain.Transition `json:"transition"`
}

// ModerationResult is the response to a batch decision.
type ModerationResult struct {
	Decision domain.Decision     `json:"decision"`
	Outcomes []ModerationOutcome `json:"outcomes"`
	// Replayed is true when the result came from an earlier request with the same idempotency key.
	Replayed bool `json:"replayed"`
}

// Moderate applies one decision to the association identified by key.
func (s *ModerationService) Moderate(ctx context.Context, caller *domain.Caller, key domain.AssociationKey, decision domain.Decision) (*ModerationOutcome, error) {
	if err := requireModerator(caller, "moderate tags"); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if _, err := domain.ParseDecision(string(decision)); err != nil {
		return nil, domainerrors.Validation(err.Error())
	}

	var out ModerationOutcome
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAssociation(ctx, key)
		if err != nil {
			return err
		}
		out, err = s.apply(ctx, tx, caller, a, decision)
		return err
	})
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}

	s.publish(caller, decision, []ModerationOutcome{out})
	return &out, nil
}

// ModerateBatch applies one decision to many associations in a single
// transaction: either all of them change or none do. A non-empty
// idempotencyKey makes replays within the key's lifetime return the first result.
func (s *ModerationService) ModerateBatch(ctx context.Context, caller *domain.Caller, associationIDs []int64, decision domain.Decision, idempotencyKey string) (*ModerationResult, error) {
	if err := requireModerator(caller, "moderate tags"); err != nil {
		return nil, err
	}
	if err := validate.Var("decision", string(decision), "decision"); err != nil {
		return nil, err
	}

	ids := slices.Clone(associationIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	switch {
	case len(ids) == 0:
		return nil, domainerrors.Validation("at least one association id is required")
	case len(ids) > MaxModerationBatch:
		return nil, domainerrors.Validationf("at most %d associations per request", MaxModerationBatch)
	case ids[0] <= 0:
		return nil, domainerrors.Validation("association ids must be positive")
	}

	run := func(ctx context.Context) (any, error) {
		return s.moderateBatch(ctx, caller, ids, decision)
	}

	if idempotencyKey == "" || s.idempotency == nil {
		res, err := run(ctx)
		if err != nil {
			return nil, err
		}
		return res.(*ModerationResult), nil
	}

	var res ModerationResult
	replayed, err := s.idempotency.Do(ctx, caller.UserID+":"+idempotencyKey, fingerprint(decision, ids), &res, run)
	if errors.Is(err, idempotency.ErrKeyReused) {
		return nil, domainerrors.Conflict("idempotency key was already used for a different request")
	}
	if err != nil {
		return nil, err
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *ModerationService) moderateBatch(ctx context.Context, caller *domain.Caller, ids []int64, decision domain.Decision) (*ModerationResult, error) {
	outcomes := make([]ModerationOutcome, 0, len(ids))
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		for _, assocID := range ids {
			a, err := tx.GetAssociationByID(ctx, assocID)
			if errors.Is(err, store.ErrNotFound) {
				return domainerrors.NotFoundf("tag association %d not found", assocID)
			}
			if err != nil {
				return err
			}
			out, err := s.apply(ctx, tx, caller, a, decision)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, out)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}

	s.publish(caller, decision, outcomes)
	return &ModerationResult{Decision: decision, Outcomes: outcomes}, nil
}

// apply changes the flags, persists them, and writes the audit record.
func (s *ModerationService) apply(ctx context.Context, tx store.Tx, caller *domain.Caller, a *domain.TagAssociation, decision domain.Decision) (ModerationOutcome, error) {
	now := s.now()
	before, transition := a.ApplyDecision(decision, s.policy.Current().Thresholds, now)

	if err := tx.SaveAssociationState(ctx, a); err != nil {
		return ModerationOutcome{}, err
	}

	actionID, err := id.Generate(id.PrefixModeration)
	if err != nil {
		return ModerationOutcome{}, err
	}
	action := &domain.ModerationAction{
		ID:            actionID,
		AssociationID: a.ID,
		Decision:      decision,
		ModeratorID:   caller.UserID,
		Before:        before,
		After:         a.State(),
		ScoreAt:       a.Score,
		CreatedAt:     now,
	}
	if err := tx.CreateModerationAction(ctx, action); err != nil {
		return ModerationOutcome{}, err
	}

	return ModerationOutcome{Association: a, Action: action, Transition: transition}, nil
}

func (s *ModerationService) publish(caller *domain.Caller, decision domain.Decision, outcomes []ModerationOutcome) {
	s.metrics.RecordModeration(decision, len(outcomes))
	toggled := false
	for _, out := range outcomes {
		toggled = toggled || out.Action.Before.Disabled != out.Action.After.Disabled
		s.metrics.RecordTransition(out.Transition)
		s.events.Emit(sse.NewModeratedEvent(out.Association, decision, caller.UserID))
		if evt, ok := sse.NewTransitionEvent(out.Association, out.Transition); ok {
			s.events.Emit(evt)
		}
	}

	if toggled && s.trending != nil {
		s.trending.InvalidateTrending()
	}

	s.logger.WithCaller(caller).Info("moderation applied",
		"decision", decision,
		"associations", len(outcomes),
	)
}

// ReviewQueue lists associations waiting for review, newest first.
func (s *ModerationService) ReviewQueue(ctx context.Context, caller *domain.Caller, params store.PaginationParams) (store.PaginatedResult[*domain.TagAssociation], error) {
	if err := requireModerator(caller, "view the review queue"); err != nil {
		return store.PaginatedResult[*domain.TagAssociation]{}, err
	}
	params.Validate()

	page, err := s.store.ListReviewQueue(ctx, params)
	if err != nil {
		return page, mapStoreError(err, s.metrics)
	}
	return page, nil
}

// Actions returns the audit trail of one association, oldest first.
func (s *ModerationService) Actions(ctx context.Context, caller *domain.Caller, associationID int64) ([]*domain.ModerationAction, error) {
	if err := requireModerator(caller, "view moderation history"); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAssociationByID(ctx, associationID); err != nil {
		return nil, mapStoreError(err, s.metrics)
	}

	actions, err := s.store.ListModerationActions(ctx, associationID)
	if err != nil {
		return nil, mapStoreError(err, s.metrics)
	}
	return actions, nil
}

// fingerprint identifies the request body bound to an idempotency key.
func fingerprint(decision domain.Decision, ids []int64) string {
	var b strings.Builder
	b.WriteString(string(decision))
	for _, assocID := range ids {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(assocID, 10))
	}
	return b.String()
}
