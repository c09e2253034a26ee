package store

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginationParams_Validate(t *testing.T) {
	tests := []struct {
		name          string
		input         PaginationParams
		expectedLimit int
	}{
		{"valid parameters", PaginationParams{Limit: 20}, 20},
		{"zero limit defaults", PaginationParams{Limit: 0}, 50},
		{"negative limit defaults", PaginationParams{Limit: -3}, 50},
		{"over max is capped", PaginationParams{Limit: 5000}, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Validate()
			assert.Equal(t, tt.expectedLimit, tt.input.Limit)
		})
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	cursor := EncodeCursor("photo real")
	key, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, "photo real", key)

	key, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	keyOf := func(i int) string { return strconv.Itoa(i) }

	full := Page([]int{1, 2, 3, 4}, 3, keyOf)
	assert.Equal(t, []int{1, 2, 3}, full.Items)
	assert.True(t, full.HasMore)
	key, err := DecodeCursor(full.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "3", key)

	last := Page([]int{5}, 3, keyOf)
	assert.Equal(t, []int{5}, last.Items)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)

	empty := Page[int](nil, 3, keyOf)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}
