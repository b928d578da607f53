package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/store"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2026-03-01T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2026-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2 days ago", now)
	require.NoError(t, err)
	assert.True(t, got.Before(now))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, int64(30), parseValue("30"))
	assert.Equal(t, 0.85, parseValue("0.85"))
	assert.Equal(t, []int64{1, 2, 3}, parseValue("1, 2,3"))
	assert.Equal(t, "08:30", parseValue("08:30"))
	assert.Equal(t, "a,b", parseValue("a,b"))
}

func TestFindSuggestion(t *testing.T) {
	list := []billing.Suggestion{
		{ID: "3f2a9c10-0000-0000-0000-000000000001"},
		{ID: "3f2a9c10-0000-0000-0000-000000000002"},
		{ID: "77aa0000-0000-0000-0000-000000000003"},
	}

	s, err := findSuggestion(list, "77aa0000")
	require.NoError(t, err)
	assert.Equal(t, list[2].ID, s.ID)

	s, err = findSuggestion(list, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, list[1].ID, s.ID)

	_, err = findSuggestion(list, "3f2a9c10")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = findSuggestion(list, "ffff")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "3f2a9c10", shortID("3f2a9c10-0000"))
}
