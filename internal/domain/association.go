package domain

import (
	"fmt"
	"time"
)

// AssociationKey is the composite identity of a TagAssociation.
type AssociationKey struct {
	Entity EntityRef `json:"entity"`
	TagID  int64     `json:"tag_id"`
}

// String renders the key as "type:id#tag", e.g. "image:42#7".
func (k AssociationKey) String() string {
	return fmt.Sprintf("%s#%d", k.Entity, k.TagID)
}

// TagAssociation is the relationship between one tag and one entity.
//
// Score is owned by the store: application code only ever applies deltas to it.
// A Disabled association is hidden from normal reads but kept for audit.
type TagAssociation struct {
	ID                    int64      `json:"id"`
	Entity                EntityRef  `json:"entity"`
	TagID                 int64      `json:"tag_id"`
	TagName               string     `json:"tag_name"`
	Score                 int        `json:"score"`
	ModeratorScore        int        `json:"moderator_score"`
	NeedsReview           bool       `json:"needs_review"`
	Disabled              bool       `json:"disabled"`
	OverriddenByModerator bool       `json:"overridden_by_moderator"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	DisabledAt            *time.Time `json:"disabled_at,omitempty"`
}

// Key returns the composite key of the association.
func (a *TagAssociation) Key() AssociationKey {
	return AssociationKey{Entity: a.Entity, TagID: a.TagID}
}

// State captures the moderation-relevant flags of an association.
type State struct {
	NeedsReview           bool `json:"needs_review"`
	Disabled              bool `json:"disabled"`
	OverriddenByModerator bool `json:"overridden_by_moderator"`
}

// State returns the current flags.
func (a *TagAssociation) State() State {
	return State{
		NeedsReview:           a.NeedsReview,
		Disabled:              a.Disabled,
		OverriddenByModerator: a.OverriddenByModerator,
	}
}

func (a *TagAssociation) setState(s State, now time.Time) {
	if s.Disabled && !a.Disabled {
		a.DisabledAt = &now
	}
	if !s.Disabled {
		a.DisabledAt = nil
	}
	a.NeedsReview = s.NeedsReview
	a.Disabled = s.Disabled
	a.OverriddenByModerator = s.OverriddenByModerator
	a.UpdatedAt = now
}

// Thresholds are the configured score boundaries that drive automatic state changes.
type Thresholds struct {
	// AutoDisable must be negative. Reaching it (score <= AutoDisable) disables the association.
	AutoDisable int `json:"auto_disable" yaml:"auto_disable"`
	// AutoApprove must be positive. Reaching it clears review on an enabled association.
	AutoApprove int `json:"auto_approve" yaml:"auto_approve"`
}

// DefaultThresholds returns the thresholds used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoDisable: -5, AutoApprove: 5}
}

// Validate checks the sign constraints.
func (t Thresholds) Validate() error {
	if t.AutoDisable >= 0 {
		return fmt.Errorf("auto-disable threshold must be negative, got %d", t.AutoDisable)
	}
	if t.AutoApprove <= 0 {
		return fmt.Errorf("auto-approve threshold must be positive, got %d", t.AutoApprove)
	}
	return nil
}

// Transition names the automatic state change produced by Recompute.
type Transition string

const (
	// TransitionNone means the state did not change.
	TransitionNone Transition = "none"
	// TransitionAutoDisabled means the score reached the disable threshold.
	TransitionAutoDisabled Transition = "auto_disabled"
	// TransitionAutoApproved means the score reached the approve threshold and review was cleared.
	TransitionAutoApproved Transition = "auto_approved"
)

// CommunityScore is the score without moderator votes.
func (a *TagAssociation) CommunityScore() int {
	return a.Score - a.ModeratorScore
}

// Recompute compares the score against the thresholds and updates the flags.
//
// A moderator override freezes the association. Auto-disable is sticky: a
// disabled association is never re-enabled by score alone, only by Moderate.
// Auto-disable looks at CommunityScore, so a moderator's ordinary vote never
// disables content.
func (a *TagAssociation) Recompute(t Thresholds, now time.Time) Transition {
	if a.OverriddenByModerator {
		return TransitionNone
	}

	switch {
	case !a.Disabled && a.CommunityScore() <= t.AutoDisable:
		a.setState(State{NeedsReview: true, Disabled: true}, now)
		return TransitionAutoDisabled
	case !a.Disabled && a.NeedsReview && a.Score >= t.AutoApprove:
		a.setState(State{}, now)
		return TransitionAutoApproved
	default:
		return TransitionNone
	}
}

// ApplyDecision applies a moderator decision and returns the state before it.
// Release clears the override and immediately re-runs the thresholds.
func (a *TagAssociation) ApplyDecision(d Decision, t Thresholds, now time.Time) (State, Transition) {
	previous := a.State()

	switch d {
	case DecisionApprove:
		a.setState(State{OverriddenByModerator: true}, now)
	case DecisionReject:
		a.setState(State{Disabled: true, OverriddenByModerator: true}, now)
	case DecisionRelease:
		a.setState(State{NeedsReview: a.NeedsReview, Disabled: a.Disabled}, now)
		return previous, a.Recompute(t, now)
	}

	return previous, TransitionNone
}
