// Package domain contains the core types of the tag voting system and the
// pure state transitions applied to them.
package domain

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxTagNameLength bounds normalized tag names.
const MaxTagNameLength = 64

// Tag is a global community tag. Names are unique after normalization.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TagCounts holds the number of active (not disabled) associations per entity type.
type TagCounts struct {
	Models int `json:"model_count"`
	Images int `json:"image_count"`
	Posts  int `json:"post_count"`
}

// Total returns the sum across entity types.
func (c TagCounts) Total() int {
	return c.Models + c.Images + c.Posts
}

// Add increments the counter for entity type t.
func (c *TagCounts) Add(t EntityType, n int) {
	switch t {
	case EntityModel:
		c.Models += n
	case EntityImage:
		c.Images += n
	case EntityPost:
		c.Posts += n
	}
}

// TagWithCounts pairs a tag with its association counts.
type TagWithCounts struct {
	Tag
	Counts TagCounts `json:"counts"`
}

// NormalizeTagName converts user input into the canonical tag name.
//
// Rules:
//  1. NFKC-fold compatibility characters ("ｆｕｌｌ" → "full")
//  2. Lowercase
//  3. Drop control characters
//  4. Collapse runs of whitespace to a single space and trim
//
// Examples:
//
//	"  Anime  "      → "anime"
//	"Photo   Real"   → "photo real"
//	"ＳＤＸＬ"        → "sdxl"
func NormalizeTagName(input string) string {
	s := norm.NFKC.String(input)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r):
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
