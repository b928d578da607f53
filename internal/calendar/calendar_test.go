package calendar

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/billing"
)

func TestExportThenFetch(t *testing.T) {
	created := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	entries := []billing.Entry{
		{ID: "e1", Matter: "Acme Corp", Description: "Reviewed merger agreement", Hours: 1.5, Rate: 300, Status: billing.StatusSynced, CreatedAt: created},
		{ID: "e2", Matter: "Globex", Description: "Call", Hours: 0.25, CreatedAt: created.Add(24 * time.Hour)},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, entries, created))
	assert.Contains(t, buf.String(), "UID:e1@billr")
	assert.Contains(t, buf.String(), "450.00")

	path := filepath.Join(t.TempDir(), "entries.ics")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))

	events, err := Fetch(context.Background(), path, created.Add(-3*time.Hour), created.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "[Acme Corp] Reviewed merger agreement", events[0].Summary)
	assert.True(t, events[0].StartTime.Equal(created.Add(-90*time.Minute)))
	assert.True(t, events[0].EndTime.Equal(created))
}

func TestFetch_MissingFile(t *testing.T) {
	_, err := Fetch(context.Background(), filepath.Join(t.TempDir(), "none.ics"), time.Now(), time.Now())
	assert.Error(t, err)
}

func TestContextNotes(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	notes := ContextNotes([]Event{{Summary: "Call with Acme GC", StartTime: start, EndTime: start.Add(time.Hour)}})
	assert.Equal(t, []string{"2026-03-02 10:00-11:00 Call with Acme GC"}, notes)
}
