package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

func TestModerate_RejectWritesAudit(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a := env.attach(t, user("a"), image(1), "anime")
	env.cast(t, user("b"), a, domain.VoteUp)

	out, err := env.mods.Moderate(ctx, moderator, a.Key(), domain.DecisionReject)
	require.NoError(t, err)
	assert.True(t, out.Association.Disabled)
	assert.False(t, out.Association.NeedsReview)
	assert.True(t, out.Association.OverriddenByModerator)

	actions, err := env.mods.Actions(ctx, moderator, a.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, out.Action.ID, actions[0].ID)
	assert.Equal(t, domain.DecisionReject, actions[0].Decision)
	assert.Equal(t, moderator.UserID, actions[0].ModeratorID)
	assert.Equal(t, domain.State{NeedsReview: true}, actions[0].Before)
	assert.Equal(t, domain.State{Disabled: true, OverriddenByModerator: true}, actions[0].After)
	assert.Equal(t, 1, actions[0].ScoreAt)

	assert.Contains(t, env.events.types(), sse.EventModerated)
}

func TestModerate_ReleaseReappliesThresholds(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a := env.attach(t, moderator, image(1), "anime")

	_, err := env.mods.Moderate(ctx, moderator, a.Key(), domain.DecisionApprove)
	require.NoError(t, err)
	for _, u := range []string{"a", "b", "c", "d"} {
		env.cast(t, user(u), a, domain.VoteDown)
	}
	require.False(t, env.association(t, a).Disabled)

	out, err := env.mods.Moderate(ctx, moderator, a.Key(), domain.DecisionRelease)
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionAutoDisabled, out.Transition)
	assert.True(t, out.Association.Disabled)
	assert.False(t, out.Association.OverriddenByModerator)

	got := env.association(t, a)
	assert.True(t, got.Disabled)
	assert.True(t, got.NeedsReview)
}

func TestModerate_Authorization(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a := env.attach(t, moderator, image(1), "anime")

	_, err := env.mods.Moderate(ctx, nil, a.Key(), domain.DecisionApprove)
	assert.ErrorIs(t, err, domainerrors.ErrUnauthorized)

	_, err = env.mods.Moderate(ctx, user("a"), a.Key(), domain.DecisionApprove)
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	_, err = env.mods.ModerateBatch(ctx, user("a"), []int64{a.ID}, domain.DecisionReject, "")
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	_, err = env.mods.ReviewQueue(ctx, user("a"), store.PaginationParams{})
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	_, err = env.mods.Actions(ctx, user("a"), a.ID)
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	assert.False(t, env.association(t, a).OverriddenByModerator)
}

func TestModerate_Validation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a := env.attach(t, moderator, image(1), "anime")

	_, err := env.mods.Moderate(ctx, moderator, a.Key(), domain.Decision("ban"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = env.mods.ModerateBatch(ctx, moderator, nil, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = env.mods.ModerateBatch(ctx, moderator, []int64{-1, a.ID}, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = env.mods.Moderate(ctx, moderator, domain.AssociationKey{Entity: image(9), TagID: a.TagID}, domain.DecisionApprove)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestModerateBatch_AllOrNothing(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a := env.attach(t, moderator, image(1), "anime")
	b := env.attach(t, moderator, image(2), "anime")

	_, err := env.mods.ModerateBatch(ctx, moderator, []int64{a.ID, b.ID, 9999}, domain.DecisionReject, "")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	assert.False(t, env.association(t, a).Disabled)
	assert.False(t, env.association(t, b).Disabled)

	res, err := env.mods.ModerateBatch(ctx, moderator, []int64{b.ID, a.ID, a.ID}, domain.DecisionReject, "")
	require.NoError(t, err)
	assert.Len(t, res.Outcomes, 2, "duplicates collapse")
	assert.False(t, res.Replayed)
	assert.True(t, env.association(t, a).Disabled)
	assert.True(t, env.association(t, b).Disabled)
}

func TestModerateBatch_IdempotentReplay(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a := env.attach(t, moderator, image(1), "anime")

	first, err := env.mods.ModerateBatch(ctx, moderator, []int64{a.ID}, domain.DecisionReject, "key-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.mods.ModerateBatch(ctx, moderator, []int64{a.ID}, domain.DecisionReject, "key-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, first.Outcomes[0].Action.ID, second.Outcomes[0].Action.ID)

	actions, err := env.mods.Actions(ctx, moderator, a.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1, "replay must not write a second audit row")

	_, err = env.mods.ModerateBatch(ctx, moderator, []int64{a.ID}, domain.DecisionApprove, "key-1")
	assert.ErrorIs(t, err, domainerrors.ErrConflict)

	// Keys are scoped per moderator.
	other := &domain.Caller{UserID: "mod-2", IsModerator: true}
	third, err := env.mods.ModerateBatch(ctx, other, []int64{a.ID}, domain.DecisionApprove, "key-1")
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.False(t, env.association(t, a).Disabled)
}

func TestReviewQueue(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.attach(t, moderator, image(1), "approved")
	first := env.attach(t, user("a"), image(1), "first")
	second := env.attach(t, user("a"), image(2), "second")

	page, err := env.mods.ReviewQueue(ctx, moderator, store.PaginationParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, second.ID, page.Items[0].ID)
	assert.True(t, page.HasMore)

	page, err = env.mods.ReviewQueue(ctx, moderator, store.PaginationParams{Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)
	assert.False(t, page.HasMore)

	_, err = env.mods.Moderate(ctx, moderator, second.Key(), domain.DecisionApprove)
	require.NoError(t, err)

	page, err = env.mods.ReviewQueue(ctx, moderator, store.PaginationParams{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)
}

func TestActions_UnknownAssociation(t *testing.T) {
	env := setupTestEnv(t)
	_, err := env.mods.Actions(context.Background(), moderator, 12345)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
