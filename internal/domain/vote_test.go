package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreDelta(t *testing.T) {
	tests := []struct {
		name           string
		previous, next int
		want           int
	}{
		{"new upvote", 0, VoteUp, 1},
		{"new downvote", 0, VoteDown, -1},
		{"same value is a no-op", VoteUp, VoteUp, 0},
		{"flip up to down", VoteUp, VoteDown, -2},
		{"flip down to up", VoteDown, VoteUp, 2},
		{"remove upvote", VoteUp, 0, -1},
		{"remove downvote", VoteDown, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreDelta(tt.previous, tt.next))
		})
	}
}

// Whatever sequence a single user votes, their contribution equals the last value.
func TestScoreDelta_LastVoteWins(t *testing.T) {
	sequences := [][]int{
		{VoteUp, VoteUp, VoteUp},
		{VoteUp, VoteDown, VoteUp, VoteDown},
		{VoteDown, 0, VoteUp},
		{VoteUp, 0},
	}

	for _, seq := range sequences {
		score, current := 0, 0
		for _, next := range seq {
			score += ScoreDelta(current, next)
			current = next
		}
		assert.Equal(t, seq[len(seq)-1], score, "sequence %v", seq)
	}
}

func TestValidVoteValue(t *testing.T) {
	assert.True(t, ValidVoteValue(1))
	assert.True(t, ValidVoteValue(-1))
	assert.False(t, ValidVoteValue(0))
	assert.False(t, ValidVoteValue(2))
	assert.False(t, ValidVoteValue(-2))
}
