// Package service implements the tag voting, moderation, and tag catalogue operations.
//
// Services own authorization and input checks, run every mutation through a
// single store transaction, and translate store failures into coded domain
// errors. Events and metrics are published only after a transaction commits.
package service

import (
	"errors"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/policy"
	"github.com/tagvoteapp/tagvote-server/internal/store"
	"github.com/tagvoteapp/tagvote-server/internal/validation"
)

var validate = validation.New()

// PolicyProvider returns the policy currently in force.
type PolicyProvider interface {
	Current() policy.Policy
}

// TrendingInvalidator drops cached trending results after the set of active
// associations changes.
type TrendingInvalidator interface {
	InvalidateTrending()
}

// StaticPolicy is a PolicyProvider that never changes.
type StaticPolicy policy.Policy

// Current returns p.
func (p StaticPolicy) Current() policy.Policy { return policy.Policy(p) }

// requireCaller rejects anonymous callers.
func requireCaller(caller *domain.Caller, action string) error {
	if caller == nil || caller.UserID == "" {
		return domainerrors.Unauthorized("authentication required to " + action)
	}
	return nil
}

// requireModerator rejects anonymous and non-moderator callers.
func requireModerator(caller *domain.Caller, action string) error {
	if err := requireCaller(caller, action); err != nil {
		return err
	}
	if !caller.IsModerator {
		return domainerrors.Forbidden("moderator access required to " + action)
	}
	return nil
}

func validateKey(key domain.AssociationKey) error {
	if !key.Entity.Type.Valid() {
		return domainerrors.Validationf("unknown entity type %q", key.Entity.Type)
	}
	if key.Entity.ID <= 0 {
		return domainerrors.Validation("entity id must be positive")
	}
	if key.TagID <= 0 {
		return domainerrors.Validation("tag id must be positive")
	}
	return nil
}

// mapStoreError converts store failures to domain errors. Domain errors pass through.
// Busy-database failures are counted and reported as a retryable conflict.
func mapStoreError(err error, m *metrics.Metrics) error {
	if err == nil {
		return nil
	}

	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return err
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		switch {
		case errors.Is(err, store.ErrBusy):
			m.RecordConflict()
			return domainerrors.Wrap(err, domainerrors.CodeConflict, "database busy, retry the request")
		case errors.Is(err, store.ErrNotFound):
			return domainerrors.Wrap(err, domainerrors.CodeNotFound, storeErr.Message)
		case errors.Is(err, store.ErrAlreadyExists):
			return domainerrors.Wrap(err, domainerrors.CodeConflict, storeErr.Message)
		case errors.Is(err, store.ErrInvalidInput):
			return domainerrors.Wrap(err, domainerrors.CodeValidation, storeErr.Message)
		}
	}

	return domainerrors.Wrap(err, domainerrors.CodeInternal, "internal error")
}
