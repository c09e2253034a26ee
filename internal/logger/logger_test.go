package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		env    string
		isJSON bool
	}{
		{"production", true},
		{"development", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			New(Config{Writer: &buf, Environment: tt.env}).Info("hello")

			var decoded map[string]any
			err := json.Unmarshal(buf.Bytes(), &decoded)
			if tt.isJSON {
				require.NoError(t, err)
				assert.Equal(t, "hello", decoded["msg"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "hello")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestPrettyHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: formatPretty, Level: slog.LevelWarn})

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WRN")
	assert.Contains(t, buf.String(), "shown")
}

func TestPrettyHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	log := slog.New(h).With("service", "vote").WithGroup("req")

	log.Info("cast", "id", 7, slog.Group("assoc", "tag_id", 3))

	out := buf.String()
	assert.Contains(t, out, "service=vote")
	assert.Contains(t, out, "req.id=7")
	assert.Contains(t, out, "req.assoc.tag_id=3")
}

func TestPrettyHandler_QuotesStringsWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("tag", "name", "photo real")
	assert.Contains(t, buf.String(), `name="photo real"`)
}

func TestNewPrettyHandler_NilOptions(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: formatJSON})

	key := domain.AssociationKey{Entity: domain.EntityRef{Type: domain.EntityImage, ID: 42}, TagID: 7}
	log.WithAssociation(key).
		WithCaller(&domain.Caller{UserID: "user-1", IsModerator: true}).
		WithError(errors.New("locked")).
		Info("vote failed")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "image", decoded["entity_type"])
	assert.EqualValues(t, 42, decoded["entity_id"])
	assert.EqualValues(t, 7, decoded["tag_id"])
	assert.Equal(t, "user-1", decoded["user_id"])
	assert.Equal(t, true, decoded["moderator"])
	assert.Equal(t, "locked", decoded["error"])
}

func TestLogger_WithCallerAnonymous(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, Format: formatJSON}).WithCaller(nil).Info("x")
	assert.Contains(t, buf.String(), `"anonymous":true`)
}

func TestContext(t *testing.T) {
	fallback := Discard()
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	scoped := Discard()
	ctx := NewContext(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, fallback))
}
