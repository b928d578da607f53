package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/billing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddEntry_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e, err := db.AddEntry(ctx, "owner", billing.NewEntry{
		EmailIDs:    []string{"m1", "m2"},
		Description: "Reviewed merger agreement",
		Hours:       1.0,
		Matter:      "Acme Corp",
		Status:      billing.StatusPending,
	}, 300, "clockify", true)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)

	got, err := db.GetEntry(ctx, "owner", e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, got.EmailIDs)
	assert.Equal(t, billing.StatusPending, got.Status)
	assert.True(t, got.AutoGenerated)
	assert.Equal(t, 300.0, got.Amount())
	assert.Equal(t, e.CreatedAt, got.CreatedAt)

	_, err = db.GetEntry(ctx, "someone-else", e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddEntry_DefaultsToDraft(t *testing.T) {
	db := openTestDB(t)
	e, err := db.AddEntry(context.Background(), "owner", billing.NewEntry{Description: "Call", Matter: "Acme Corp"}, 0, "", false)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusDraft, e.Status)
}

func TestAddEntry_RejectsAlreadyBilledEmail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.AddEntry(ctx, "owner", billing.NewEntry{EmailIDs: []string{"m1"}, Description: "a", Matter: "x"}, 0, "", false)
	require.NoError(t, err)

	_, err = db.AddEntry(ctx, "owner", billing.NewEntry{EmailIDs: []string{"m2", "m1"}, Description: "b", Matter: "x"}, 0, "", false)
	assert.ErrorIs(t, err, ErrAlreadyBilled)

	// The failed insert left nothing behind.
	ids, err := db.BilledEmailIDs(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)

	// Another owner may bill the same email.
	_, err = db.AddEntry(ctx, "other", billing.NewEntry{EmailIDs: []string{"m1"}, Description: "c", Matter: "x"}, 0, "", false)
	assert.NoError(t, err)
}

func TestUpdateEntry_SyncDetail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e, err := db.AddEntry(ctx, "owner", billing.NewEntry{Description: "Call", Matter: "Acme Corp", Hours: 0.5}, 200, "", false)
	require.NoError(t, err)

	synced := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e.Status = billing.StatusSynced
	e.Sync = billing.SyncDetail{SyncedAt: synced, ExternalID: "ext-1", URL: "https://example.com/ext-1"}
	got, err := db.UpdateEntry(ctx, "owner", e)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSynced, got.Status)
	assert.True(t, synced.Equal(got.Sync.SyncedAt))
	assert.Equal(t, "ext-1", got.Sync.ExternalID)
	assert.Empty(t, got.Sync.Error)

	e.ID = "missing"
	_, err = db.UpdateEntry(ctx, "owner", e)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEntriesByStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, s := range []billing.EntryStatus{billing.StatusError, billing.StatusSynced, billing.StatusError} {
		_, err := db.AddEntry(ctx, "owner", billing.NewEntry{Description: "x", Matter: "m", Status: s}, 0, "", false)
		require.NoError(t, err)
	}
	failed, err := db.ListEntriesByStatus(ctx, "owner", billing.StatusError)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	all, err := db.ListEntries(ctx, "owner", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMatters_UpsertKeepsOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	matters := []billing.Matter{
		{Name: "Globex", Rate: 250},
		{Name: "Acme Corp", Rate: 300, Rules: []billing.BillingRule{{
			ID:         "ignore-rival",
			Conditions: []billing.Condition{{Kind: billing.SenderDomainIs, Value: "rivalfirm.com"}},
			Action:     billing.RuleAction{Kind: billing.IgnoreSenderDomain},
		}}},
	}
	require.NoError(t, db.UpsertMatters(ctx, matters))

	got, err := db.ListMatters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Globex", got[0].Name)
	assert.Equal(t, matters[1], got[1])

	require.NoError(t, db.UpsertMatters(ctx, []billing.Matter{{Name: "acme corp", Rate: 350}}))
	got, err = db.ListMatters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2, "names are case-insensitive")

	require.NoError(t, db.DeleteMatter(ctx, "Globex"))
	assert.ErrorIs(t, db.DeleteMatter(ctx, "Globex"), ErrNotFound)
}

func TestEmails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	n, err := db.SaveEmails(ctx, []billing.Email{
		{ID: "m2", Sender: "b@x.com", Subject: "later", ReceivedAt: base.Add(time.Hour)},
		{ID: "m1", Sender: "a@x.com", Subject: "earlier", ReceivedAt: base},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.SaveEmails(ctx, []billing.Email{{ID: "m1", Subject: "changed", ReceivedAt: base}})
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := db.ListEmails(ctx, base)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m1", list[0].ID)
	assert.Equal(t, "earlier", list[0].Subject)

	list, err = db.ListEmails(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = db.GetEmail(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarks_Snapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	marks := db.Marks("owner")

	require.NoError(t, marks.MarkProcessed(ctx, []string{"p1", "p2"}))
	require.NoError(t, marks.MarkProcessed(ctx, []string{"p1"}))
	require.NoError(t, marks.MarkDismissed(ctx, []string{"d1"}))
	_, err := db.AddEntry(ctx, "owner", billing.NewEntry{EmailIDs: []string{"b1"}, Description: "x", Matter: "m"}, 0, "", false)
	require.NoError(t, err)

	snap, err := marks.Snapshot(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, snap.Processed)
	assert.Equal(t, []string{"d1"}, snap.Dismissed)
	assert.Equal(t, []string{"b1"}, snap.Billed)

	other, err := db.Marks("other").Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, other.Processed)
}

func TestSuggestions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.SaveEmails(ctx, []billing.Email{{ID: "m1", Subject: "Merger", ReceivedAt: time.Now()}})
	require.NoError(t, err)

	s := billing.Suggestion{
		ID:       "s1",
		EmailIDs: []string{"m1", "uncached"},
		Preview:  billing.Preview{Description: "Reviewed merger", Matter: "Acme Corp", Hours: billing.Float(0.5)},
	}
	require.NoError(t, db.SaveSuggestions(ctx, "owner", []billing.Suggestion{s}))

	got, err := db.ListSuggestions(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.EmailIDs, got[0].EmailIDs)
	assert.Equal(t, 0.5, got[0].Preview.HoursOrZero())
	require.Len(t, got[0].Emails, 1)
	assert.Equal(t, "Merger", got[0].Emails[0].Subject)

	require.NoError(t, db.DeleteSuggestion(ctx, "owner", "s1"))
	assert.ErrorIs(t, db.DeleteSuggestion(ctx, "owner", "s1"), ErrNotFound)
}

func TestListSuggestions_HidesBilledEmails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSuggestions(ctx, "owner", []billing.Suggestion{
		{ID: "s1", EmailIDs: []string{"m1", "m2"}, Preview: billing.Preview{Description: "a"}},
		{ID: "s2", EmailIDs: []string{"m3"}, Preview: billing.Preview{Description: "b"}},
	}))
	require.NoError(t, db.SaveSuggestions(ctx, "other", []billing.Suggestion{
		{ID: "s3", EmailIDs: []string{"m2"}, Preview: billing.Preview{Description: "c"}},
	}))

	_, err := db.AddEntry(ctx, "owner", billing.NewEntry{EmailIDs: []string{"m2"}, Description: "d", Matter: "x"}, 0, "", false)
	require.NoError(t, err)

	got, err := db.ListSuggestions(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].ID)

	// Another owner's entry does not hide this owner's suggestion.
	got, err = db.ListSuggestions(ctx, "other")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s3", got[0].ID)
}

func TestCorrections(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, c := range []string{"first", "second", "third"} {
		require.NoError(t, db.AddCorrection(ctx, "owner", billing.Correction{Original: c, Corrected: c + "!"}))
	}
	got, err := db.RecentCorrections(ctx, "owner", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].Original)
	assert.Equal(t, "second!", got[1].Corrected)
}

func TestState(t *testing.T) {
	db := openTestDB(t)
	v, err := db.GetState("autopilot")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetState("autopilot", "on"))
	require.NoError(t, db.SetState("autopilot", "off"))
	v, err = db.GetState("autopilot")
	require.NoError(t, err)
	assert.Equal(t, "off", v)
}
