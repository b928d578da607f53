package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/ai"
	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/decision"
	"github.com/christopherklint97/billr/internal/dedup"
)

type fakeClassifier struct {
	mu      sync.Mutex
	results map[string]*ai.Classification
	err     error
	calls   int
	// blockOn makes the call for that email wait for ctx cancellation.
	blockOn string
	started chan struct{}
}

func (f *fakeClassifier) ClassifyEmail(ctx context.Context, req ai.ClassifyRequest) (*ai.Classification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if req.Email.ID == f.blockOn {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.results[req.Email.ID]
	if !ok {
		return nil, fmt.Errorf("no canned result for %s", req.Email.ID)
	}
	return c, nil
}

type fakeStore struct {
	mu      sync.Mutex
	entries []billing.Entry
}

func (s *fakeStore) AddEntry(_ context.Context, ownerID string, data billing.NewEntry, rate float64, target string, auto bool) (billing.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := billing.Entry{
		ID:            fmt.Sprintf("entry-%d", len(s.entries)+1),
		OwnerID:       ownerID,
		EmailIDs:      data.EmailIDs,
		Description:   data.Description,
		Hours:         data.Hours,
		Matter:        data.Matter,
		Rate:          rate,
		Status:        data.Status,
		AutoGenerated: auto,
	}
	s.entries = append(s.entries, e)
	return e, nil
}

type fakeSyncer struct {
	mu     sync.Mutex
	synced []string
	fail   error
}

func (f *fakeSyncer) SyncOne(_ context.Context, id string) (billing.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, id)
	if f.fail != nil {
		return billing.Entry{ID: id, Status: billing.StatusError, Sync: billing.SyncDetail{Error: f.fail.Error()}}, f.fail
	}
	return billing.Entry{ID: id, Status: billing.StatusSynced, Sync: billing.SyncDetail{ExternalID: "ext-" + id}}, nil
}

type fakeCorrections struct {
	saved []billing.Correction
}

func (f *fakeCorrections) AddCorrection(_ context.Context, _ string, c billing.Correction) error {
	f.saved = append(f.saved, c)
	return nil
}

var acme = billing.Matter{
	Name: "Acme Corp",
	Rate: 300,
	Rules: []billing.BillingRule{
		{
			ID:         "ignore-rival",
			Conditions: []billing.Condition{{Kind: billing.SenderDomainIs, Value: "rivalfirm.com"}},
			Action:     billing.RuleAction{Kind: billing.IgnoreSenderDomain},
		},
		{
			ID:         "fixed-call",
			Conditions: []billing.Condition{{Kind: billing.SubjectContains, Value: "call"}},
			Action:     billing.RuleAction{Kind: billing.SetFixedHours, Amount: 0.5},
		},
	},
}

var inbox = []billing.Email{
	{ID: "m1", Sender: "gc@acme.com", Subject: "Call recap"},
	{ID: "m2", Sender: "bob@rivalfirm.com", Subject: "Settlement"},
	{ID: "m3", Sender: "news@lawweekly.com", Subject: "Weekly digest"},
	{ID: "m4", Sender: "gc@acme.com", Subject: "Board minutes"},
}

func billable(conf float64) *ai.Classification {
	return &ai.Classification{Status: ai.Billable, Preview: &billing.Preview{
		Description:     "Call with GC",
		Matter:          "acme corp",
		Hours:           billing.Float(0.2),
		ConfidenceScore: billing.Float(conf),
	}}
}

type harness struct {
	classifier  *fakeClassifier
	store       *fakeStore
	syncer      *fakeSyncer
	corrections *fakeCorrections
	tracker     *dedup.Tracker
	s           *Session
}

func newHarness(policy decision.Policy, results map[string]*ai.Classification) *harness {
	h := &harness{
		classifier:  &fakeClassifier{results: results},
		store:       &fakeStore{},
		syncer:      &fakeSyncer{},
		corrections: &fakeCorrections{},
		tracker:     dedup.New(dedup.Snapshot{}, nil, nil),
	}
	h.s = NewSession("owner", h.classifier, h.store, h.tracker, h.syncer,
		Settings{Matters: []billing.Matter{acme}, Policy: policy},
		WithTarget("clockify"), WithCorrections(h.corrections))
	return h
}

var (
	autopilotOn  = decision.Policy{AutopilotEnabled: true, ConfidenceThreshold: 0.9}
	autopilotOff = decision.Policy{AutopilotEnabled: false, ConfidenceThreshold: 0.9}
)

func TestSelect_StandardDraftCarriesRuleChanges(t *testing.T) {
	h := newHarness(autopilotOff, map[string]*ai.Classification{"m1": billable(0.99)})

	st, err := h.s.Select(context.Background(), inbox[0], inbox)
	require.NoError(t, err)
	b, ok := st.(Billable)
	require.True(t, ok, "got %s", st.Name())
	assert.Equal(t, 0.5, b.Preview.HoursOrZero())
	assert.Contains(t, b.Justification, "fixed-call")
	assert.False(t, b.Overridden)
	assert.Empty(t, h.store.entries)
	assert.True(t, h.tracker.IsEligible("m1"))
}

func TestSelect_AutoSyncAdvancesToNextEligible(t *testing.T) {
	h := newHarness(autopilotOn, map[string]*ai.Classification{"m1": billable(0.95)})
	require.NoError(t, h.tracker.MarkDismissed(context.Background(), []string{"m2"}))

	st, err := h.s.Select(context.Background(), inbox[0], inbox)
	require.NoError(t, err)
	ap, ok := st.(AutoProcessed)
	require.True(t, ok, "got %s", st.Name())
	assert.True(t, Terminal(st))
	assert.Equal(t, billing.StatusSynced, ap.Entry.Status)
	assert.Equal(t, []string{"entry-1"}, h.syncer.synced)
	require.NotNil(t, ap.Next)
	assert.Equal(t, "m3", ap.Next.ID)

	require.Len(t, h.store.entries, 1)
	e := h.store.entries[0]
	assert.Equal(t, "Acme Corp", e.Matter, "matter name normalized")
	assert.Equal(t, 300.0, e.Rate)
	assert.True(t, e.AutoGenerated)
	assert.True(t, h.tracker.IsBilled("m1"))
}

func TestSelect_AutoSyncFailureStillAutoProcessed(t *testing.T) {
	h := newHarness(autopilotOn, map[string]*ai.Classification{"m1": billable(0.95)})
	h.syncer.fail = errors.New("clockify unavailable")

	st, err := h.s.Select(context.Background(), inbox[0], inbox)
	require.NoError(t, err)
	ap, ok := st.(AutoProcessed)
	require.True(t, ok)
	assert.Equal(t, billing.StatusError, ap.Entry.Status)
	assert.Equal(t, "clockify unavailable", ap.Entry.Sync.Error)
}

func TestSelect_IgnoreRuleBecomesNotBillable(t *testing.T) {
	c := billable(0.99)
	h := newHarness(autopilotOn, map[string]*ai.Classification{"m2": c})

	st, err := h.s.Select(context.Background(), inbox[1], inbox)
	require.NoError(t, err)
	nb, ok := st.(NotBillable)
	require.True(t, ok, "got %s", st.Name())
	assert.Contains(t, nb.Reason, "ignore-rival")
	assert.False(t, h.tracker.IsEligible("m2"))
	assert.Equal(t, 1, h.tracker.Stats().Dismissed)
	assert.Empty(t, h.store.entries)
}

func TestSelect_NegativeVerdicts(t *testing.T) {
	h := newHarness(autopilotOn, map[string]*ai.Classification{
		"m3": {Status: ai.NotBillable, Reason: "newsletter"},
		"m4": {Status: ai.DuplicateSuspected, Reason: "same as yesterday's minutes"},
	})

	st, err := h.s.Select(context.Background(), inbox[2], inbox)
	require.NoError(t, err)
	assert.Equal(t, NotBillable{Email: inbox[2], Reason: "newsletter"}, st)
	assert.True(t, CanOverride(st))

	st, err = h.s.Select(context.Background(), inbox[3], inbox)
	require.NoError(t, err)
	assert.Equal(t, DuplicateSuspected{Email: inbox[3], Reason: "same as yesterday's minutes"}, st)

	calls := h.classifier.calls
	b, err := h.s.Override(st)
	require.NoError(t, err)
	assert.True(t, b.Overridden)
	assert.Equal(t, "Board minutes", b.Preview.Description)
	assert.Equal(t, 0.1, b.Preview.HoursOrZero())
	assert.Equal(t, calls, h.classifier.calls, "override does not reclassify")

	_, err = h.s.Override(b)
	assert.Error(t, err)
}

func TestSelect_ClassifierErrorFallsBack(t *testing.T) {
	h := newHarness(autopilotOn, nil)
	h.classifier.err = errors.New("timeout")

	st, err := h.s.Select(context.Background(), inbox[0], inbox)
	require.NoError(t, err)
	assert.Equal(t, NotBillable{Email: inbox[0], Reason: ReasonAnalysisFailed}, st)
}

func TestSelect_AlreadyBilledSkipsAnalysis(t *testing.T) {
	h := newHarness(autopilotOn, nil)
	h.tracker.AddEntry(billing.Entry{ID: "e", EmailIDs: []string{"m1"}})

	st, err := h.s.Select(context.Background(), inbox[0], inbox)
	require.NoError(t, err)
	_, ok := st.(DuplicateSuspected)
	assert.True(t, ok)
	assert.Zero(t, h.classifier.calls)

	_, err = h.s.Override(st)
	assert.Error(t, err)
}

func TestSelect_EmailHeldByScanSkipsAnalysis(t *testing.T) {
	h := newHarness(autopilotOn, map[string]*ai.Classification{"m1": billable(0.99)})
	require.Len(t, h.tracker.Claim(inbox[:1]), 1)

	st, err := h.s.Select(context.Background(), inbox[0], inbox)
	require.NoError(t, err)
	assert.Equal(t, DuplicateSuspected{Email: inbox[0], Reason: ReasonBeingScanned}, st)
	assert.Zero(t, h.classifier.calls)
	assert.Empty(t, h.store.entries)
	assert.Equal(t, 1, h.tracker.Stats().Claimed, "scan keeps its claim")
}

func TestSelect_HoldsEmailAgainstScansUntilDone(t *testing.T) {
	h := newHarness(autopilotOff, map[string]*ai.Classification{"m1": billable(0.5)})
	h.classifier.blockOn = "m1"
	h.classifier.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.s.Select(context.Background(), inbox[0], inbox)
		done <- err
	}()
	<-h.classifier.started

	assert.Empty(t, h.tracker.Claim(inbox[:1]), "scan must not claim an email under triage")

	h.s.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("selection never returned")
	}
	assert.Equal(t, 0, h.tracker.Stats().Claimed)
	assert.Len(t, h.tracker.Claim(inbox[:1]), 1)
}

func TestSelect_ReselectingSameEmailSupersedes(t *testing.T) {
	h := newHarness(autopilotOff, nil)
	h.classifier.blockOn = "m1"
	h.classifier.started = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.s.Select(context.Background(), inbox[0], inbox)
		first <- err
	}()
	<-h.classifier.started

	// The second call blocks in the classifier as well.
	h.classifier.mu.Lock()
	h.classifier.started = make(chan struct{})
	started := h.classifier.started
	h.classifier.mu.Unlock()
	second := make(chan State, 1)
	go func() {
		st, _ := h.s.Select(context.Background(), inbox[0], inbox)
		second <- st
	}()

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("first selection never returned")
	}
	<-started
	h.s.Cancel()
	select {
	case st := <-second:
		assert.Nil(t, st, "second selection reached the classifier instead of being reported as held")
	case <-time.After(2 * time.Second):
		t.Fatal("second selection never returned")
	}
	assert.Equal(t, 0, h.tracker.Stats().Claimed)
}

func TestSelect_LastSelectionWins(t *testing.T) {
	h := newHarness(autopilotOn, map[string]*ai.Classification{"m4": billable(0.5)})
	h.classifier.blockOn = "m1"
	h.classifier.started = make(chan struct{})

	type result struct {
		st  State
		err error
	}
	first := make(chan result, 1)
	go func() {
		st, err := h.s.Select(context.Background(), inbox[0], inbox)
		first <- result{st, err}
	}()
	<-h.classifier.started

	st, err := h.s.Select(context.Background(), inbox[3], inbox)
	require.NoError(t, err)
	assert.Equal(t, "BILLABLE", st.Name())

	select {
	case r := <-first:
		assert.ErrorIs(t, r.err, ErrSuperseded)
		assert.Nil(t, r.st)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded selection never returned")
	}
	assert.Empty(t, h.store.entries)
	assert.True(t, h.tracker.IsEligible("m1"))
}

func TestCompose_CancelsInFlightTriage(t *testing.T) {
	h := newHarness(autopilotOn, nil)
	h.classifier.blockOn = "m1"
	h.classifier.started = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.s.Select(context.Background(), inbox[0], inbox)
		errCh <- err
	}()
	<-h.classifier.started
	h.s.Compose()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("compose did not cancel triage")
	}
}

func TestApprove_RecordsCorrectionAndSyncs(t *testing.T) {
	h := newHarness(autopilotOff, nil)
	orig := billing.Preview{Description: "Call with GC", Matter: "Acme Corp", Hours: billing.Float(0.2)}
	final := billing.Preview{Description: "Call with GC re: indemnity", Matter: "Acme Corp", Hours: billing.Float(0.3)}

	e, err := h.s.Approve(context.Background(), Approval{
		Emails:   inbox[:1],
		Original: &orig,
		Final:    final,
		Sync:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSynced, e.Status)
	require.Len(t, h.store.entries, 1)
	assert.Equal(t, billing.StatusDraft, h.store.entries[0].Status)
	assert.False(t, h.store.entries[0].AutoGenerated)
	require.Len(t, h.corrections.saved, 1)
	assert.Contains(t, h.corrections.saved[0].Corrected, "indemnity")
	assert.True(t, h.tracker.IsBilled("m1"))

	assert.Nil(t, h.s.NextEligible(inbox[:1], ""))
}

func TestApprove_UnchangedPreviewRecordsNothing(t *testing.T) {
	h := newHarness(autopilotOff, nil)
	p := billing.Preview{Description: "Call", Matter: "Acme Corp", Hours: billing.Float(0.2)}

	e, err := h.s.Approve(context.Background(), Approval{Emails: inbox[:1], Original: &p, Final: p})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusDraft, e.Status)
	assert.Empty(t, h.syncer.synced)
	assert.Empty(t, h.corrections.saved)

	_, err = h.s.Approve(context.Background(), Approval{})
	assert.Error(t, err)
}

func TestDismiss(t *testing.T) {
	h := newHarness(autopilotOff, nil)
	require.NoError(t, h.s.Dismiss(context.Background(), inbox[2:3]))
	next := h.s.NextEligible(inbox, "m1")
	require.NotNil(t, next)
	assert.Equal(t, "m2", next.ID)
	assert.False(t, h.tracker.IsEligible("m3"))
}
