package sse

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case e := <-c.EventChan:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case e := <-c.EventChan:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func testAssociation(entity domain.EntityRef) *domain.TagAssociation {
	return &domain.TagAssociation{ID: 1, Entity: entity, TagID: 7, Score: 3}
}

func TestManager_BroadcastToAll(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Connect(nil, domain.EntityRef{})
	require.NoError(t, err)
	b, err := m.Connect(&domain.Caller{UserID: "user-1"}, domain.EntityRef{})
	require.NoError(t, err)
	assert.Equal(t, 2, m.ClientCount())

	m.Emit(NewTagCreatedEvent(&domain.Tag{ID: 1, Name: "anime"}))

	assert.Equal(t, EventTagCreated, receive(t, a).Type)
	assert.Equal(t, EventTagCreated, receive(t, b).Type)
}

func TestManager_EntityFilter(t *testing.T) {
	m := newTestManager(t)

	image42 := domain.EntityRef{Type: domain.EntityImage, ID: 42}
	post42 := domain.EntityRef{Type: domain.EntityPost, ID: 42}

	scoped, err := m.Connect(nil, image42)
	require.NoError(t, err)

	m.Emit(NewScoreChangedEvent(testAssociation(post42)))
	assertNothing(t, scoped)

	m.Emit(NewScoreChangedEvent(testAssociation(image42)))
	e := receive(t, scoped)
	require.Equal(t, EventScoreChanged, e.Type)
	data, ok := e.Data.(ScoreChangedEventData)
	require.True(t, ok)
	assert.Equal(t, 3, data.Score)

	// Global events still reach scoped clients.
	m.Emit(NewTagDeletedEvent(7))
	assert.Equal(t, EventTagDeleted, receive(t, scoped).Type)
}

func TestManager_ModeratorOnlyEvents(t *testing.T) {
	m := newTestManager(t)

	user, err := m.Connect(&domain.Caller{UserID: "user-1"}, domain.EntityRef{})
	require.NoError(t, err)
	mod, err := m.Connect(&domain.Caller{UserID: "mod-1", IsModerator: true}, domain.EntityRef{})
	require.NoError(t, err)

	entity := domain.EntityRef{Type: domain.EntityModel, ID: 1}
	m.Emit(NewModeratedEvent(testAssociation(entity), domain.DecisionReject, "mod-1"))

	assert.Equal(t, EventModerated, receive(t, mod).Type)
	assertNothing(t, user)
}

func TestNewTransitionEvent(t *testing.T) {
	a := testAssociation(domain.EntityRef{Type: domain.EntityImage, ID: 1})

	_, ok := NewTransitionEvent(a, domain.TransitionNone)
	assert.False(t, ok)

	e, ok := NewTransitionEvent(a, domain.TransitionAutoDisabled)
	require.True(t, ok)
	assert.Equal(t, EventAutoDisabled, e.Type)

	e, ok = NewTransitionEvent(a, domain.TransitionAutoApproved)
	require.True(t, ok)
	assert.Equal(t, EventAutoApproved, e.Type)
}

func TestManager_DisconnectClosesChannels(t *testing.T) {
	m := newTestManager(t)

	c, err := m.Connect(nil, domain.EntityRef{})
	require.NoError(t, err)

	m.Disconnect(c.ID)
	m.Disconnect(c.ID)

	_, ok := <-c.Done
	assert.False(t, ok)
	assert.Equal(t, 0, m.ClientCount())
}

func TestManager_ShutdownDrainsAndDropsLateEvents(t *testing.T) {
	m := NewManager(slog.New(slog.DiscardHandler))
	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	c, err := m.Connect(nil, domain.EntityRef{})
	require.NoError(t, err)
	m.Emit(NewTagDeletedEvent(1))

	require.NoError(t, m.Shutdown(context.Background()))
	<-done

	// Queued event was delivered before the client was closed.
	e, ok := <-c.EventChan
	require.True(t, ok)
	assert.Equal(t, EventTagDeleted, e.Type)

	m.Emit(NewTagDeletedEvent(2))
	assert.NoError(t, m.Shutdown(context.Background()))
}
