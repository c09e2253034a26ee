// Package sse implements Server-Sent Events for live tag and association updates.
package sse

import (
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventScoreChanged is emitted after a vote changes an association's score.
	EventScoreChanged EventType = "association.score_changed"
	// EventAutoDisabled is emitted when a score reaches the disable threshold.
	EventAutoDisabled EventType = "association.auto_disabled"
	// EventAutoApproved is emitted when a score clears review.
	EventAutoApproved EventType = "association.auto_approved"
	// EventModerated is emitted after a moderator decision. Moderators only.
	EventModerated EventType = "association.moderated"
	// EventAttached is emitted when a tag is attached to an entity.
	EventAttached EventType = "association.created"

	// EventTagCreated is emitted when a new tag name is first used.
	EventTagCreated EventType = "tag.created"
	// EventTagDeleted is emitted when a moderator deletes a tag.
	EventTagDeleted EventType = "tag.deleted"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`

	// Entity scopes the event to one piece of content; clients subscribed to
	// a single entity only receive events whose Entity matches. Zero means global.
	Entity domain.EntityRef `json:"-"`
}

// ScoreChangedEventData is the payload for EventScoreChanged.
type ScoreChangedEventData struct {
	AssociationID  int64            `json:"association_id"`
	Entity         domain.EntityRef `json:"entity"`
	TagID          int64            `json:"tag_id"`
	Score          int              `json:"score"`
	ModeratorScore int              `json:"moderator_score"`
}

// AssociationEventData carries the full association after a state change.
type AssociationEventData struct {
	Association *domain.TagAssociation `json:"association"`
}

// ModeratedEventData is the payload for EventModerated.
type ModeratedEventData struct {
	Association *domain.TagAssociation `json:"association"`
	Decision    domain.Decision        `json:"decision"`
	ModeratorID string                 `json:"moderator_id"`
}

// TagEventData is the payload for EventTagCreated.
type TagEventData struct {
	Tag *domain.Tag `json:"tag"`
}

// TagDeletedEventData is the payload for EventTagDeleted.
type TagDeletedEventData struct {
	TagID     int64     `json:"tag_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewScoreChangedEvent creates a score change event scoped to the association's entity.
func NewScoreChangedEvent(a *domain.TagAssociation) Event {
	return Event{
		Type:      EventScoreChanged,
		Timestamp: time.Now(),
		Entity:    a.Entity,
		Data: ScoreChangedEventData{
			AssociationID:  a.ID,
			Entity:         a.Entity,
			TagID:          a.TagID,
			Score:          a.Score,
			ModeratorScore: a.ModeratorScore,
		},
	}
}

// NewTransitionEvent creates the event for an automatic state change.
// It returns false for TransitionNone.
func NewTransitionEvent(a *domain.TagAssociation, t domain.Transition) (Event, bool) {
	var typ EventType
	switch t {
	case domain.TransitionAutoDisabled:
		typ = EventAutoDisabled
	case domain.TransitionAutoApproved:
		typ = EventAutoApproved
	default:
		return Event{}, false
	}
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Entity:    a.Entity,
		Data:      AssociationEventData{Association: a},
	}, true
}

// NewAttachedEvent creates an association creation event.
func NewAttachedEvent(a *domain.TagAssociation) Event {
	return Event{
		Type:      EventAttached,
		Timestamp: time.Now(),
		Entity:    a.Entity,
		Data:      AssociationEventData{Association: a},
	}
}

// NewModeratedEvent creates a moderation event.
func NewModeratedEvent(a *domain.TagAssociation, d domain.Decision, moderatorID string) Event {
	return Event{
		Type:      EventModerated,
		Timestamp: time.Now(),
		Entity:    a.Entity,
		Data:      ModeratedEventData{Association: a, Decision: d, ModeratorID: moderatorID},
	}
}

// NewTagCreatedEvent creates a tag creation event.
func NewTagCreatedEvent(t *domain.Tag) Event {
	return Event{
		Type:      EventTagCreated,
		Timestamp: time.Now(),
		Data:      TagEventData{Tag: t},
	}
}

// NewTagDeletedEvent creates a tag deletion event.
func NewTagDeletedEvent(tagID int64) Event {
	now := time.Now()
	return Event{
		Type:      EventTagDeleted,
		Timestamp: now,
		Data:      TagDeletedEventData{TagID: tagID, DeletedAt: now},
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now,
		Data:      HeartbeatEventData{ServerTime: now},
	}
}
