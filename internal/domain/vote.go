package domain

import "time"

// Vote values. Nothing else is accepted.
const (
	VoteUp   = 1
	VoteDown = -1
)

// ValidVoteValue reports whether v is exactly +1 or -1.
func ValidVoteValue(v int) bool {
	return v == VoteUp || v == VoteDown
}

// Vote is one user's directional opinion on a TagAssociation.
// At most one exists per (UserID, Entity, TagID); a new vote replaces the old value.
type Vote struct {
	UserID    string    `json:"user_id"`
	Entity    EntityRef `json:"entity"`
	TagID     int64     `json:"tag_id"`
	Value     int       `json:"value"`
	Moderator bool      `json:"moderator"` // cast by an account with moderator status
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the association the vote applies to.
func (v *Vote) Key() AssociationKey {
	return AssociationKey{Entity: v.Entity, TagID: v.TagID}
}

// ScoreDelta returns the amount to add to an association's score when a
// user's contribution changes from previous to next. Zero means "no vote".
//
//	none → +1   = +1
//	+1   → +1   =  0 (no-op)
//	+1   → -1   = -2
//	-1   → none = +1
func ScoreDelta(previous, next int) int {
	return next - previous
}

// VoteOutcome reports what a cast or remove did.
type VoteOutcome string

const (
	// VoteCreated means a new vote row was inserted.
	VoteCreated VoteOutcome = "created"
	// VoteChanged means an existing vote flipped direction.
	VoteChanged VoteOutcome = "changed"
	// VoteUnchanged means the same value was already recorded.
	VoteUnchanged VoteOutcome = "unchanged"
	// VoteRemoved means an existing vote was deleted.
	VoteRemoved VoteOutcome = "removed"
	// VoteAbsent means there was nothing to remove.
	VoteAbsent VoteOutcome = "absent"
)

// VotableTag is the read model returned to presentation layers for one
// association on an entity.
type VotableTag struct {
	AssociationID int64  `json:"id"`
	TagID         int64  `json:"tag_id"`
	TagName       string `json:"tag_name"`
	Score         int    `json:"score"`
	UserVote      *int   `json:"user_vote,omitempty"`
	NeedsReview   bool   `json:"needs_review"`
	Disabled      bool   `json:"disabled"`
}
