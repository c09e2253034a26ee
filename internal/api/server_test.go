package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagvoteapp/tagvote-server/internal/auth"
	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/idempotency"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/policy"
	"github.com/tagvoteapp/tagvote-server/internal/ratelimit"
	"github.com/tagvoteapp/tagvote-server/internal/search"
	"github.com/tagvoteapp/tagvote-server/internal/service"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store/sqlite"
)

// testServer wraps the API server with a humatest client.
type testServer struct {
	*Server
	api    humatest.TestAPI
	tokens *auth.TokenService
}

// testEnvelope decodes both success and error envelopes.
type testEnvelope[T any] struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	tmpDir := t.TempDir()

	st, err := sqlite.Open(filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx, _, err := search.Open(search.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	idem, err := idempotency.Open(idempotency.Options{TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	key, err := auth.LoadOrGenerateKey(filepath.Join(tmpDir, "auth.key"))
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)

	m, err := metrics.NewWithRegistry(prometheus.NewRegistry(), false)
	require.NoError(t, err)

	slogger := slog.New(slog.DiscardHandler)
	log := logger.Discard()
	sseManager := sse.NewManager(slogger)
	pol := service.StaticPolicy(policy.Policy{
		Thresholds: domain.Thresholds{AutoDisable: -3, AutoApprove: 3},
	})

	tags := service.NewTagService(st, idx, sseManager, m, log, time.Minute)
	votes := service.NewVoteService(st, pol, sseManager, m, log)
	votes.SetTrendingInvalidator(tags)
	mods := service.NewModerationService(st, pol, idem, sseManager, m, log)
	mods.SetTrendingInvalidator(tags)

	services := &Services{
		Votes:      votes,
		Moderation: mods,
		Tags:       tags,
		Users:      service.NewUserService(st),
		Tokens:     tokens,
	}

	if opts.Index == nil {
		opts.Index = idx
	}
	s := NewServer(st, services, sseManager, m, opts, slogger)

	return &testServer{
		Server: s,
		api:    humatest.Wrap(t, s.API()),
		tokens: tokens,
	}
}

// login creates a user and returns an Authorization header for them.
func (ts *testServer) login(t *testing.T, name string, moderator bool) string {
	t.Helper()
	u, err := ts.services.Users.CreateUser(context.Background(), name, moderator)
	require.NoError(t, err)
	token, err := ts.tokens.GenerateAccessToken(u)
	require.NoError(t, err)
	return "Authorization: Bearer " + token
}

// attach tags one image through the API and returns the association.
func (ts *testServer) attach(t *testing.T, authHeader string, entityID int64, name string) *domain.TagAssociation {
	t.Helper()
	resp := ts.api.Post("/api/v1/tags/attach", authHeader, map[string]any{
		"entity_type": "image",
		"entity_ids":  []int64{entityID},
		"tag_names":   []string{name},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	env := decode[service.AttachResult](t, resp)
	if len(env.Data.Attached) == 1 {
		return env.Data.Attached[0]
	}
	require.Len(t, env.Data.Existing, 1)
	return env.Data.Existing[0]
}

func votePath(a *domain.TagAssociation) string {
	return fmt.Sprintf("/api/v1/entities/%s/%d/tags/%d/vote", a.Entity.Type, a.Entity.ID, a.TagID)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) testEnvelope[T] {
	t.Helper()
	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	assert.Equal(t, EnvelopeVersion, env.Version)
	return env
}

func requireError(t *testing.T, resp *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.Code, resp.Body.String())
	env := decode[json.RawMessage](t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, code, env.Code)
}

// === Tests ===

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	env := decode[HealthResponse](t, resp)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "healthy", env.Data.Components["database"].Status)
	assert.Equal(t, "healthy", env.Data.Components["search"].Status)
	assert.Equal(t, "healthy", env.Data.Components["sse"].Status)
}

func TestCastVote_LastVoteWins(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, mod, 42, "Anime")

	resp := ts.api.Put(votePath(a), alice, map[string]any{"value": 1})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	env := decode[service.VoteResult](t, resp)
	assert.True(t, env.Success)
	assert.Equal(t, domain.VoteCreated, env.Data.Outcome)
	assert.Equal(t, 1, env.Data.Association.Score)
	require.NotNil(t, env.Data.UserVote)
	assert.Equal(t, 1, *env.Data.UserVote)

	resp = ts.api.Put(votePath(a), alice, map[string]any{"value": 1})
	env = decode[service.VoteResult](t, resp)
	assert.Equal(t, domain.VoteUnchanged, env.Data.Outcome)
	assert.Equal(t, 1, env.Data.Association.Score)

	resp = ts.api.Put(votePath(a), alice, map[string]any{"value": -1})
	env = decode[service.VoteResult](t, resp)
	assert.Equal(t, domain.VoteChanged, env.Data.Outcome)
	assert.Equal(t, -1, env.Data.Association.Score)

	resp = ts.api.Delete(votePath(a), alice)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	env = decode[service.VoteResult](t, resp)
	assert.Equal(t, domain.VoteRemoved, env.Data.Outcome)
	assert.Equal(t, 0, env.Data.Association.Score)
	assert.Nil(t, env.Data.UserVote)
}

func TestCastVote_Errors(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, mod, 42, "anime")

	t.Run("anonymous", func(t *testing.T) {
		resp := ts.api.Put(votePath(a), map[string]any{"value": 1})
		requireError(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	t.Run("invalid token is anonymous", func(t *testing.T) {
		resp := ts.api.Put(votePath(a), "Authorization: Bearer v4.local.garbage", map[string]any{"value": 1})
		requireError(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	t.Run("value out of range", func(t *testing.T) {
		resp := ts.api.Put(votePath(a), alice, map[string]any{"value": 2})
		requireError(t, resp, http.StatusBadRequest, "VALIDATION")
	})

	t.Run("unknown entity type", func(t *testing.T) {
		resp := ts.api.Put("/api/v1/entities/video/42/tags/1/vote", alice, map[string]any{"value": 1})
		requireError(t, resp, http.StatusBadRequest, "VALIDATION")
	})

	t.Run("tag not attached", func(t *testing.T) {
		resp := ts.api.Put("/api/v1/entities/image/999/tags/"+itoa(a.TagID)+"/vote", alice, map[string]any{"value": 1})
		requireError(t, resp, http.StatusNotFound, "NOT_FOUND")
	})
}

func TestCastVotes_Batch(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	anime := ts.attach(t, mod, 42, "anime")
	night := ts.attach(t, mod, 42, "night")

	resp := ts.api.Put("/api/v1/entities/image/42/votes", alice, map[string]any{
		"tag_ids": []int64{anime.TagID, night.TagID},
		"value":   1,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	env := decode[VotesResponse](t, resp)
	require.Len(t, env.Data.Results, 2)
	for _, res := range env.Data.Results {
		assert.Equal(t, domain.VoteCreated, res.Outcome)
		assert.Equal(t, 1, res.Association.Score)
	}

	resp = ts.api.Delete("/api/v1/entities/image/42/votes", alice, map[string]any{
		"tag_ids": []int64{night.TagID},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	env = decode[VotesResponse](t, resp)
	require.Len(t, env.Data.Results, 1)
	assert.Equal(t, domain.VoteRemoved, env.Data.Results[0].Outcome)
	assert.Equal(t, 0, env.Data.Results[0].Association.Score)

	t.Run("unattached tag fails the batch", func(t *testing.T) {
		resp := ts.api.Put("/api/v1/entities/image/42/votes", alice, map[string]any{
			"tag_ids": []int64{night.TagID, 999999},
			"value":   1,
		})
		requireError(t, resp, http.StatusNotFound, "NOT_FOUND")

		resp = ts.api.Get("/api/v1/entities/image/42/tags", alice)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		for _, tag := range decode[EntityTagsResponse](t, resp).Data.Tags {
			if tag.TagID == night.TagID {
				assert.Equal(t, 0, tag.Score)
			}
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		resp := ts.api.Put("/api/v1/entities/image/42/votes", alice, map[string]any{
			"tag_ids": []int64{},
			"value":   1,
		})
		requireError(t, resp, http.StatusBadRequest, "VALIDATION")
	})
}

func TestCastVote_AutoDisableHidesAssociation(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	a := ts.attach(t, mod, 7, "blurry")

	var last service.VoteResult
	for _, name := range []string{"u1", "u2", "u3"} {
		resp := ts.api.Put(votePath(a), ts.login(t, name, false), map[string]any{"value": -1})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		last = decode[service.VoteResult](t, resp).Data
	}
	assert.Equal(t, domain.TransitionAutoDisabled, last.Transition)
	assert.True(t, last.Association.Disabled)

	viewer := ts.login(t, "viewer", false)
	resp := ts.api.Get("/api/v1/entities/image/7/tags", viewer)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[EntityTagsResponse](t, resp).Data.Tags)

	resp = ts.api.Get("/api/v1/entities/image/7/tags?include_disabled=true", viewer)
	requireError(t, resp, http.StatusForbidden, "FORBIDDEN")

	resp = ts.api.Get("/api/v1/entities/image/7/tags?include_disabled=true", mod)
	require.Equal(t, http.StatusOK, resp.Code)
	tags := decode[EntityTagsResponse](t, resp).Data.Tags
	require.Len(t, tags, 1)
	assert.True(t, tags[0].Disabled)
	assert.Equal(t, -3, tags[0].Score)
}

func TestListEntityTags_Anonymous(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, mod, 3, "portrait")
	ts.attach(t, mod, 3, "landscape")

	resp := ts.api.Put(votePath(a), alice, map[string]any{"value": 1})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/entities/image/3/tags")
	require.Equal(t, http.StatusOK, resp.Code)
	tags := decode[EntityTagsResponse](t, resp).Data.Tags
	require.Len(t, tags, 2)
	assert.Equal(t, "portrait", tags[0].TagName)
	assert.Nil(t, tags[0].UserVote)

	resp = ts.api.Get("/api/v1/entities/image/3/tags", alice)
	tags = decode[EntityTagsResponse](t, resp).Data.Tags
	require.NotNil(t, tags[0].UserVote)
	assert.Equal(t, 1, *tags[0].UserVote)
}

func TestVoteRateLimit(t *testing.T) {
	limiter := ratelimit.New(0.01, 1)
	t.Cleanup(limiter.Stop)

	ts := setupTestServer(t, Options{VoteLimiter: limiter})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, mod, 1, "cat")

	resp := ts.api.Put(votePath(a), alice, map[string]any{"value": 1})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Put(votePath(a), alice, map[string]any{"value": -1})
	requireError(t, resp, http.StatusTooManyRequests, "RATE_LIMITED")
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))

	// Buckets are per user.
	resp = ts.api.Put(votePath(a), mod, map[string]any{"value": 1})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestModerateBatch_Idempotent(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, alice, 5, "nsfw")
	require.True(t, a.NeedsReview)

	body := map[string]any{"association_ids": []int64{a.ID}, "decision": "reject"}

	resp := ts.api.Post("/api/v1/moderation", mod, "Idempotency-Key: k1", body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	first := decode[service.ModerationResult](t, resp).Data
	assert.False(t, first.Replayed)
	require.Len(t, first.Outcomes, 1)
	assert.True(t, first.Outcomes[0].Association.Disabled)

	resp = ts.api.Post("/api/v1/moderation", mod, "Idempotency-Key: k1", body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	second := decode[service.ModerationResult](t, resp).Data
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Outcomes[0].Action.ID, second.Outcomes[0].Action.ID)

	resp = ts.api.Get("/api/v1/moderation/associations/"+itoa(a.ID)+"/actions", mod)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[ModerationActionsResponse](t, resp).Data.Actions, 1)

	resp = ts.api.Post("/api/v1/moderation", mod, "Idempotency-Key: k1",
		map[string]any{"association_ids": []int64{a.ID}, "decision": "approve"})
	requireError(t, resp, http.StatusConflict, "CONFLICT")
}

func TestModeration_RequiresModerator(t *testing.T) {
	ts := setupTestServer(t, Options{})
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, alice, 5, "dog")

	resp := ts.api.Post("/api/v1/moderation", alice, map[string]any{"association_ids": []int64{a.ID}, "decision": "approve"})
	requireError(t, resp, http.StatusForbidden, "FORBIDDEN")

	resp = ts.api.Get("/api/v1/moderation/queue", alice)
	requireError(t, resp, http.StatusForbidden, "FORBIDDEN")

	resp = ts.api.Put("/api/v1/entities/image/5/tags/"+itoa(a.TagID)+"/moderation", alice,
		map[string]any{"decision": "approve"})
	requireError(t, resp, http.StatusForbidden, "FORBIDDEN")

	resp = ts.api.Delete("/api/v1/tags/"+itoa(a.TagID), alice)
	requireError(t, resp, http.StatusForbidden, "FORBIDDEN")
}

func TestModerateAssociation_ApproveFreezesScore(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	alice := ts.login(t, "alice", false)
	a := ts.attach(t, alice, 9, "sunset")

	resp := ts.api.Get("/api/v1/moderation/queue", mod)
	require.Equal(t, http.StatusOK, resp.Code)
	queue := decode[ReviewQueueResponse](t, resp).Data
	require.Len(t, queue.Associations, 1)
	assert.Equal(t, a.ID, queue.Associations[0].ID)

	resp = ts.api.Put("/api/v1/entities/image/9/tags/"+itoa(a.TagID)+"/moderation", mod,
		map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	out := decode[service.ModerationOutcome](t, resp).Data
	assert.True(t, out.Association.OverriddenByModerator)
	assert.False(t, out.Association.NeedsReview)

	for _, name := range []string{"u1", "u2", "u3", "u4"} {
		resp = ts.api.Put(votePath(a), ts.login(t, name, false), map[string]any{"value": -1})
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, domain.TransitionNone, decode[service.VoteResult](t, resp).Data.Transition)
	}

	resp = ts.api.Post("/api/v1/moderation/recompute", mod, map[string]any{
		"entity_type": "image", "entity_id": 9, "tag_id": a.TagID,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	rec := decode[RecomputeResponse](t, resp).Data
	assert.Equal(t, domain.TransitionNone, rec.Transition)
	assert.False(t, rec.Association.Disabled)
	assert.Equal(t, -4, rec.Association.Score)

	resp = ts.api.Get("/api/v1/moderation/queue", mod)
	assert.Empty(t, decode[ReviewQueueResponse](t, resp).Data.Associations)
}

func TestModeration_InvalidDecision(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)

	resp := ts.api.Post("/api/v1/moderation", mod, map[string]any{"association_ids": []int64{1}, "decision": "maybe"})
	requireError(t, resp, http.StatusBadRequest, "VALIDATION")
}

func TestTags_AttachListAndLookup(t *testing.T) {
	ts := setupTestServer(t, Options{})
	alice := ts.login(t, "alice", false)

	resp := ts.api.Post("/api/v1/tags/attach", alice, map[string]any{
		"entity_type": "post",
		"entity_ids":  []int64{1, 2},
		"tag_names":   []string{"  Street Photo ", "street photo", "night"},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	res := decode[service.AttachResult](t, resp).Data
	assert.Len(t, res.Attached, 4)
	assert.Len(t, res.CreatedTags, 2)

	resp = ts.api.Get("/api/v1/tags?entity_type=post")
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[TagPageResponse](t, resp).Data
	require.Len(t, page.Tags, 2)
	assert.Equal(t, "night", page.Tags[0].Name)
	assert.Equal(t, 2, page.Tags[0].Counts.Posts)

	resp = ts.api.Get("/api/v1/tags/by-name/NIGHT")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "night", decode[domain.TagWithCounts](t, resp).Data.Name)

	resp = ts.api.Get("/api/v1/tags/trending?limit=1")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[TagListResponse](t, resp).Data.Tags, 1)

	resp = ts.api.Get("/api/v1/tags/search?q=stre")
	require.Equal(t, http.StatusOK, resp.Code)
	hits := decode[SearchTagsResponse](t, resp).Data.Hits
	require.NotEmpty(t, hits)
	assert.Equal(t, "street photo", hits[0].Name)

	resp = ts.api.Get("/api/v1/tags?entity_type=video")
	requireError(t, resp, http.StatusBadRequest, "VALIDATION")

	resp = ts.api.Get("/api/v1/tags/by-name/missing")
	requireError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestAttachTags_RequestValidation(t *testing.T) {
	ts := setupTestServer(t, Options{})
	alice := ts.login(t, "alice", false)

	resp := ts.api.Post("/api/v1/tags/attach", alice, map[string]any{"entity_type": "image"})
	requireError(t, resp, http.StatusUnprocessableEntity, "VALIDATION")

	resp = ts.api.Post("/api/v1/tags/attach", map[string]any{
		"entity_type": "image", "entity_ids": []int64{1}, "tag_names": []string{"x"},
	})
	requireError(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestDeleteTag_Cascades(t *testing.T) {
	ts := setupTestServer(t, Options{})
	mod := ts.login(t, "mod", true)
	a := ts.attach(t, mod, 11, "duplicate")

	resp := ts.api.Delete("/api/v1/tags/"+itoa(a.TagID), mod)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "Tag deleted", decode[MessageResponse](t, resp).Data.Message)

	resp = ts.api.Get("/api/v1/entities/image/11/tags?include_disabled=true", mod)
	assert.Empty(t, decode[EntityTagsResponse](t, resp).Data.Tags)

	resp = ts.api.Delete("/api/v1/tags/"+itoa(a.TagID), mod)
	requireError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestDeletedUserTokenIsRejected(t *testing.T) {
	ts := setupTestServer(t, Options{})
	token, err := ts.tokens.GenerateAccessToken(&domain.User{ID: "usr_ghost"})
	require.NoError(t, err)

	resp := ts.api.Post("/api/v1/tags/attach", "Authorization: Bearer "+token, map[string]any{
		"entity_type": "image", "entity_ids": []int64{1}, "tag_names": []string{"x"},
	})
	requireError(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, Options{MetricsPath: "/metrics"})
	mod := ts.login(t, "mod", true)
	a := ts.attach(t, mod, 1, "metric")

	resp := ts.api.Put(votePath(a), mod, map[string]any{"value": 1})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `tagvote_votes_total{entity_type="image",op="cast"} 1`)
}

func TestEventStream_RejectsBadFilter(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Get("/api/v1/events?entity_type=video&entity_id=1")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
