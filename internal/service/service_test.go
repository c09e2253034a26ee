package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/idempotency"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/policy"
	"github.com/tagvoteapp/tagvote-server/internal/search"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store/sqlite"
)

// testThresholds disable an association after three downvotes.
var testThresholds = domain.Thresholds{AutoDisable: -3, AutoApprove: 3}

type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(e sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) types() []sse.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sse.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type switchablePolicy struct {
	p atomic.Pointer[policy.Policy]
}

func (s *switchablePolicy) Current() policy.Policy { return *s.p.Load() }

func (s *switchablePolicy) set(p policy.Policy) { s.p.Store(&p) }

type testEnv struct {
	store    *sqlite.Store
	votes    *VoteService
	mods     *ModerationService
	tags     *TagService
	users    *UserService
	events   *recordingEmitter
	policy   *switchablePolicy
	registry *prometheus.Registry
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx, _, err := search.Open(search.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	idem, err := idempotency.Open(idempotency.Options{TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithRegistry(registry, false)
	require.NoError(t, err)

	pol := &switchablePolicy{}
	pol.set(policy.Policy{Thresholds: testThresholds})

	events := &recordingEmitter{}
	log := logger.Discard()

	tags := NewTagService(st, idx, events, m, log, time.Minute)
	votes := NewVoteService(st, pol, events, m, log)
	votes.SetTrendingInvalidator(tags)
	mods := NewModerationService(st, pol, idem, events, m, log)
	mods.SetTrendingInvalidator(tags)

	return &testEnv{
		store:    st,
		votes:    votes,
		mods:     mods,
		tags:     tags,
		users:    NewUserService(st),
		events:   events,
		policy:   pol,
		registry: registry,
	}
}

func user(n string) *domain.Caller {
	return &domain.Caller{UserID: "user-" + n}
}

var moderator = &domain.Caller{UserID: "mod-1", IsModerator: true}

func image(entityID int64) domain.EntityRef {
	return domain.EntityRef{Type: domain.EntityImage, ID: entityID}
}

// attach creates an association the way a client would. Moderator attachments start approved.
func (e *testEnv) attach(t *testing.T, caller *domain.Caller, entity domain.EntityRef, name string) *domain.TagAssociation {
	t.Helper()
	res, err := e.tags.AttachTags(context.Background(), caller, AttachRequest{
		EntityType: entity.Type,
		EntityIDs:  []int64{entity.ID},
		TagNames:   []string{name},
	})
	require.NoError(t, err)
	if len(res.Attached) == 1 {
		return res.Attached[0]
	}
	require.Len(t, res.Existing, 1)
	return res.Existing[0]
}

func (e *testEnv) association(t *testing.T, a *domain.TagAssociation) *domain.TagAssociation {
	t.Helper()
	got, err := e.store.GetAssociationByID(context.Background(), a.ID)
	require.NoError(t, err)
	return got
}

func (e *testEnv) cast(t *testing.T, caller *domain.Caller, a *domain.TagAssociation, value int) *VoteResult {
	t.Helper()
	res, err := e.votes.CastVote(context.Background(), caller, a.Entity, a.TagID, value)
	require.NoError(t, err)
	return res
}
