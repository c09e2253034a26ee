package store_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tagvoteapp/tagvote-server/internal/store"
)

func TestError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := store.ErrBusy.WithCause(cause)

	assert.Contains(t, err.Error(), "database busy")
	assert.Contains(t, err.Error(), "underlying error")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPCode())
}

func TestError_NotFoundVariantsMatchSentinel(t *testing.T) {
	for _, err := range []error{
		store.ErrTagNotFound,
		store.ErrAssociationNotFound,
		store.ErrVoteNotFound,
		store.ErrUserNotFound,
	} {
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NotErrorIs(t, err, store.ErrAlreadyExists)
	}
}
