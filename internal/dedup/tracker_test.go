package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/billing"
)

type memPersister struct {
	mu        sync.Mutex
	processed []string
	dismissed []string
	err       error
}

func (m *memPersister) MarkProcessed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, ids...)
	return m.err
}

func (m *memPersister) MarkDismissed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissed = append(m.dismissed, ids...)
	return m.err
}

func emails(ids ...string) []billing.Email {
	out := make([]billing.Email, len(ids))
	for i, id := range ids {
		out[i] = billing.Email{ID: id}
	}
	return out
}

func TestTracker_SnapshotSeedsEligibility(t *testing.T) {
	tr := New(Snapshot{Processed: []string{"p"}, Dismissed: []string{"d"}, Billed: []string{"b"}}, nil, nil)

	assert.False(t, tr.IsEligible("p"))
	assert.False(t, tr.IsEligible("d"))
	assert.False(t, tr.IsEligible("b"))
	assert.True(t, tr.IsEligible("fresh"))

	got := tr.Eligible(emails("p", "fresh", "d", "other"))
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].ID)
	assert.Equal(t, "other", got[1].ID)
}

func TestTracker_AddEntryBlocksEmails(t *testing.T) {
	tr := New(Snapshot{}, nil, nil)
	tr.AddEntry(billing.Entry{ID: "e1", EmailIDs: []string{"a", "b"}})
	assert.False(t, tr.IsEligible("a"))
	assert.False(t, tr.IsEligible("b"))
	assert.True(t, tr.IsBilled("a"))

	require.NoError(t, tr.MarkProcessed(context.Background(), []string{"c"}))
	assert.False(t, tr.IsBilled("c"), "processed is not billed")
}

func TestTracker_ClaimIsExclusive(t *testing.T) {
	tr := New(Snapshot{}, nil, nil)

	first := tr.Claim(emails("a", "b"))
	second := tr.Claim(emails("a", "b", "c"))

	assert.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, "c", second[0].ID)

	tr.Release([]string{"a"})
	again := tr.Claim(emails("a", "b"))
	require.Len(t, again, 1)
	assert.Equal(t, "a", again[0].ID)
}

func TestTracker_ReserveExcludesScanClaims(t *testing.T) {
	tr := New(Snapshot{Processed: []string{"p"}, Billed: []string{"b"}}, nil, nil)

	assert.True(t, tr.Reserve("a"))
	assert.False(t, tr.Reserve("a"), "already reserved")
	assert.Empty(t, tr.Claim(emails("a")), "scan must skip a reserved email")

	assert.True(t, tr.Reserve("p"), "processed emails can still be triaged")
	assert.False(t, tr.Reserve("b"))
	assert.False(t, tr.Reserve(""))

	require.Len(t, tr.Claim(emails("c")), 1)
	assert.False(t, tr.Reserve("c"), "scan holds it")

	tr.Release([]string{"a", "p", "c"})
	assert.Equal(t, 0, tr.Stats().Claimed)
	assert.Len(t, tr.Claim(emails("a")), 1)
}

func TestTracker_ConcurrentClaimsNeverOverlap(t *testing.T) {
	tr := New(Snapshot{}, nil, nil)
	pool := emails("1", "2", "3", "4", "5", "6", "7", "8")

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range tr.Claim(pool) {
				mu.Lock()
				seen[e.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, len(pool))
	for id, n := range seen {
		assert.Equal(t, 1, n, "email %s claimed more than once", id)
	}
}

func TestTracker_MarkPersistsAndReleases(t *testing.T) {
	p := &memPersister{}
	tr := New(Snapshot{}, p, nil)
	ctx := context.Background()

	tr.Claim(emails("a", "b"))
	require.NoError(t, tr.MarkProcessed(ctx, []string{"a"}))
	require.NoError(t, tr.MarkDismissed(ctx, []string{"b"}))

	assert.Equal(t, []string{"a"}, p.processed)
	assert.Equal(t, []string{"b"}, p.dismissed)
	assert.Equal(t, Stats{Processed: 1, Dismissed: 1}, tr.Stats())
	assert.Empty(t, tr.Claim(emails("a", "b")))
}

func TestTracker_PersistErrorKeepsMemoryState(t *testing.T) {
	p := &memPersister{err: errors.New("disk full")}
	tr := New(Snapshot{}, p, nil)

	err := tr.MarkDismissed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, tr.IsEligible("x"))
}
