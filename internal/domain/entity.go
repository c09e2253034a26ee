package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityType discriminates the content kinds a tag can be attached to.
type EntityType string

const (
	// EntityModel is an uploaded model resource.
	EntityModel EntityType = "model"
	// EntityImage is a single image.
	EntityImage EntityType = "image"
	// EntityPost is a post grouping one or more images.
	EntityPost EntityType = "post"
)

// EntityTypes lists every valid entity type in display order.
var EntityTypes = []EntityType{EntityModel, EntityImage, EntityPost}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityModel, EntityImage, EntityPost:
		return true
	default:
		return false
	}
}

// ParseEntityType converts a user-supplied string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// EntityRef identifies one piece of taggable content.
// Lookups always key on the (Type, ID) pair, never on ID alone.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   int64      `json:"entity_id"`
}

// String renders the ref as "type:id", e.g. "image:42".
func (r EntityRef) String() string {
	return string(r.Type) + ":" + strconv.FormatInt(r.ID, 10)
}

// Valid reports whether the ref names a known type and a positive id.
func (r EntityRef) Valid() bool {
	return r.Type.Valid() && r.ID > 0
}
