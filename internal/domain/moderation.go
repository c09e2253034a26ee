package domain

import (
	"fmt"
	"time"
)

// Decision is a moderator's verdict on an association.
type Decision string

const (
	// DecisionApprove enables the association and clears review.
	DecisionApprove Decision = "approve"
	// DecisionReject disables the association and clears review.
	DecisionReject Decision = "reject"
	// DecisionRelease removes the moderator override so thresholds apply again.
	DecisionRelease Decision = "release"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApprove, DecisionReject, DecisionRelease:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// ModerationAction is the audit record of one moderator decision.
type ModerationAction struct {
	ID            string    `json:"id"`
	AssociationID int64     `json:"association_id"`
	Decision      Decision  `json:"decision"`
	ModeratorID   string    `json:"moderator_id"`
	Before        State     `json:"before"`
	After         State     `json:"after"`
	ScoreAt       int       `json:"score_at"`
	CreatedAt     time.Time `json:"created_at"`
}
