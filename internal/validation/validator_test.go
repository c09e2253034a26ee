package validation_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/validation"
)

type voteRequest struct {
	EntityType string `json:"entity_type" validate:"required,entitytype"`
	EntityID   int64  `json:"entity_id" validate:"gt=0"`
	Value      int    `json:"value" validate:"vote"`
}

type attachRequest struct {
	Tags []string `json:"tags" validate:"required,min=1,max=3,dive,tagname"`
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	var derr *domainerrors.Error
	require.True(t, errors.As(err, &derr), "expected domain error, got %T", err)
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)
	fields, ok := derr.Details.(map[string]string)
	require.True(t, ok)
	return fields
}

func TestValidator_VoteRequest(t *testing.T) {
	v := validation.New()

	assert.NoError(t, v.Validate(voteRequest{EntityType: "image", EntityID: 4, Value: 1}))
	assert.NoError(t, v.Validate(voteRequest{EntityType: "post", EntityID: 4, Value: -1}))

	tests := []struct {
		name  string
		req   voteRequest
		field string
		msg   string
	}{
		{"zero vote", voteRequest{EntityType: "image", EntityID: 1, Value: 0}, "value", "must be 1 or -1"},
		{"double vote", voteRequest{EntityType: "image", EntityID: 1, Value: 2}, "value", "must be 1 or -1"},
		{"bad type", voteRequest{EntityType: "video", EntityID: 1, Value: 1}, "entity_type", "must be one of: model image post"},
		{"missing id", voteRequest{EntityType: "model", Value: 1}, "entity_id", "must be greater than 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.msg, details(t, err)[tt.field])
		})
	}
}

func TestValidator_TagNames(t *testing.T) {
	v := validation.New()

	assert.NoError(t, v.Validate(attachRequest{Tags: []string{"Anime", "  photo   real "}}))

	err := v.Validate(attachRequest{Tags: []string{"ok", "   "}})
	require.Error(t, err)
	assert.Contains(t, details(t, err), "tags[1]")

	err = v.Validate(attachRequest{Tags: []string{"a", "b", "c", "d"}})
	require.Error(t, err)
	assert.Equal(t, "must not contain more than 3 items", details(t, err)["tags"])
}

func TestValidator_Var(t *testing.T) {
	v := validation.New()

	assert.NoError(t, v.Var("decision", "release", "decision"))

	err := v.Var("decision", "ban", "decision")
	require.Error(t, err)
	assert.Equal(t, "must be one of: approve reject release", details(t, err)["decision"])
}
