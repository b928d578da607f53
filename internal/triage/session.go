package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/christopherklint97/billr/internal/ai"
	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/decision"
	"github.com/christopherklint97/billr/internal/dedup"
	"github.com/christopherklint97/billr/internal/rules"
)

// ErrSuperseded is returned by Select when another selection, a compose
// or Cancel happened while the classifier was running. The late result
// has been discarded.
var ErrSuperseded = errors.New("triage superseded by a newer selection")

// ReasonAnalysisFailed is reported when the classifier call errors.
const ReasonAnalysisFailed = "analysis failed"

// ReasonBeingScanned is reported when a running scan holds the email.
const ReasonBeingScanned = "email is part of a running scan"

// defaultOverrideHours is one six-minute billing unit.
const defaultOverrideHours = 0.1

type Classifier interface {
	ClassifyEmail(ctx context.Context, req ai.ClassifyRequest) (*ai.Classification, error)
}

type EntryCreator interface {
	AddEntry(ctx context.Context, ownerID string, data billing.NewEntry, rate float64, target string, autoGenerated bool) (billing.Entry, error)
}

type EntrySyncer interface {
	SyncOne(ctx context.Context, id string) (billing.Entry, error)
}

// CorrectionRecorder stores user edits of AI previews.
type CorrectionRecorder interface {
	AddCorrection(ctx context.Context, ownerID string, c billing.Correction) error
}

// Settings are the per-session inputs that can change between selections.
type Settings struct {
	Matters []billing.Matter
	Context billing.Context
	Policy  decision.Policy
}

type Session struct {
	ownerID     string
	target      string
	classifier  Classifier
	store       EntryCreator
	tracker     *dedup.Tracker
	syncer      EntrySyncer
	corrections CorrectionRecorder
	logger      *slog.Logger

	mu       sync.Mutex
	settings Settings
	gen      uint64
	cancel   context.CancelFunc
	// held counts in-flight selections per email reserved in the tracker.
	held map[string]int
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTarget(name string) Option {
	return func(s *Session) { s.target = name }
}

func WithCorrections(r CorrectionRecorder) Option {
	return func(s *Session) { s.corrections = r }
}

func NewSession(ownerID string, classifier Classifier, store EntryCreator, tracker *dedup.Tracker, syncer EntrySyncer, settings Settings, opts ...Option) *Session {
	s := &Session{
		ownerID:    ownerID,
		classifier: classifier,
		store:      store,
		tracker:    tracker,
		syncer:     syncer,
		settings:   settings,
		held:       make(map[string]int),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSettings replaces matters, AI context and policy for later selections.
func (s *Session) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// begin supersedes any running selection and returns the new generation.
func (s *Session) begin(parent context.Context) (context.Context, uint64, Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, s.gen, s.settings
}

// hold reserves the email in the tracker so a scan cannot claim it while it
// is being triaged. Reselecting an email this session already holds succeeds.
func (s *Session) hold(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[id] == 0 && !s.tracker.Reserve(id) {
		return false
	}
	s.held[id]++
	return true
}

func (s *Session) unhold(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[id]--
	if s.held[id] <= 0 {
		delete(s.held, id)
		s.tracker.Release([]string{id})
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// Cancel discards any in-flight classification.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Compose enters reply/compose mode, which cancels the running triage.
func (s *Session) Compose() { s.Cancel() }

// Select triages one email. It blocks until the classifier answers; the
// caller shows Analyzing meanwhile. A newer Select, Compose or Cancel
// makes this call return ErrSuperseded without any side effects.
func (s *Session) Select(ctx context.Context, email billing.Email, inbox []billing.Email) (State, error) {
	ctx, gen, settings := s.begin(ctx)

	if s.tracker.IsBilled(email.ID) {
		return DuplicateSuspected{Email: email, Reason: "already billed in an existing entry"}, nil
	}
	if !s.hold(email.ID) {
		if s.tracker.IsBilled(email.ID) {
			return DuplicateSuspected{Email: email, Reason: "already billed in an existing entry"}, nil
		}
		return DuplicateSuspected{Email: email, Reason: ReasonBeingScanned}, nil
	}
	defer s.unhold(email.ID)

	c, err := s.classifier.ClassifyEmail(ctx, ai.ClassifyRequest{Email: email, Context: settings.Context})
	if !s.current(gen) {
		s.logger.Debug("discarding late classification", "email_id", email.ID)
		return nil, ErrSuperseded
	}
	if err != nil {
		s.logger.Warn("classifying email", "email_id", email.ID, "error", err)
		return NotBillable{Email: email, Reason: ReasonAnalysisFailed}, nil
	}

	switch c.Status {
	case ai.NotBillable:
		return NotBillable{Email: email, Reason: c.Reason}, nil
	case ai.DuplicateSuspected:
		return DuplicateSuspected{Email: email, Reason: c.Reason}, nil
	case ai.Billable:
		if c.Preview == nil {
			return NotBillable{Email: email, Reason: ReasonAnalysisFailed}, nil
		}
	default:
		return NotBillable{Email: email, Reason: ReasonAnalysisFailed}, nil
	}

	// From here on the verdict is committed; later selections no longer
	// cancel the mutations it triggers.
	ctx = context.WithoutCancel(ctx)
	emails := []billing.Email{email}
	outcome := rules.Run(settings.Matters, emails, *c.Preview)
	d := decision.Resolve(outcome.Intent, outcome.Preview, settings.Policy)
	s.logger.Info("email triaged", "email_id", email.ID, "decision", d, "rule_matched", outcome.Matched())

	switch d {
	case billing.DecisionIgnore:
		if err := s.tracker.MarkDismissed(ctx, []string{email.ID}); err != nil {
			s.logger.Warn("dismissing ignored email", "email_id", email.ID, "error", err)
		}
		return NotBillable{Email: email, Reason: outcome.Justification}, nil
	case billing.DecisionAutoSync:
		entry, err := s.create(ctx, settings.Matters, emails, outcome.Preview, true)
		if err != nil {
			s.logger.Error("auto-creating entry, falling back to draft", "email_id", email.ID, "error", err)
			return Billable{Email: email, Preview: outcome.Preview, Justification: outcome.Justification}, nil
		}
		if synced, err := s.syncer.SyncOne(ctx, entry.ID); err != nil {
			s.logger.Warn("syncing auto-processed entry", "entry_id", entry.ID, "error", err)
			if synced.ID != "" {
				entry = synced
			}
		} else {
			entry = synced
		}
		return AutoProcessed{Email: email, Entry: entry, Next: s.NextEligible(inbox, email.ID)}, nil
	}
	return Billable{Email: email, Preview: outcome.Preview, Justification: outcome.Justification}, nil
}

// Override turns a negative verdict into an editable form with default
// values. The classifier is not consulted again.
func (s *Session) Override(st State) (Billable, error) {
	var email billing.Email
	switch v := st.(type) {
	case NotBillable:
		email = v.Email
	case DuplicateSuspected:
		email = v.Email
	default:
		return Billable{}, fmt.Errorf("cannot override state %s", st.Name())
	}
	if s.tracker.IsBilled(email.ID) {
		return Billable{}, fmt.Errorf("email %s is already billed", email.ID)
	}
	return Billable{
		Email: email,
		Preview: billing.Preview{
			Description: strings.TrimSpace(email.Subject),
			Hours:       billing.Float(defaultOverrideHours),
		},
		Overridden: true,
	}, nil
}

// Approval is a user-confirmed draft.
type Approval struct {
	Emails []billing.Email
	// Original is the AI preview the draft started from, if any. When the
	// user changed it, the edit is stored as a correction.
	Original *billing.Preview
	Final    billing.Preview
	Sync     bool
}

// Approve creates the entry for a draft and, when asked, syncs it. The
// returned entry reflects the sync outcome; a sync failure is reported
// on the entry, not as an error.
func (s *Session) Approve(ctx context.Context, a Approval) (billing.Entry, error) {
	if len(a.Emails) == 0 && strings.TrimSpace(a.Final.Description) == "" {
		return billing.Entry{}, errors.New("approval needs emails or a description")
	}
	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()

	entry, err := s.create(ctx, settings.Matters, a.Emails, a.Final, false)
	if err != nil {
		return billing.Entry{}, err
	}
	s.recordCorrection(ctx, a)

	if !a.Sync {
		return entry, nil
	}
	synced, err := s.syncer.SyncOne(ctx, entry.ID)
	if err != nil {
		s.logger.Warn("syncing approved entry", "entry_id", entry.ID, "error", err)
		if synced.ID == "" {
			return entry, nil
		}
	}
	return synced, nil
}

// Dismiss rejects the emails for good.
func (s *Session) Dismiss(ctx context.Context, emails []billing.Email) error {
	ids := make([]string, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
	}
	return s.tracker.MarkDismissed(ctx, ids)
}

// NextEligible returns the first eligible email in inbox order other than
// skipID, or nil.
func (s *Session) NextEligible(inbox []billing.Email, skipID string) *billing.Email {
	for _, e := range s.tracker.Eligible(inbox) {
		if e.ID != skipID {
			next := e
			return &next
		}
	}
	return nil
}

func (s *Session) create(ctx context.Context, matters []billing.Matter, emails []billing.Email, p billing.Preview, auto bool) (billing.Entry, error) {
	ids := make([]string, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
	}
	var rate float64
	if m, ok := billing.FindMatter(matters, p.Matter); ok {
		rate = m.Rate
		p.Matter = m.Name
	}
	status := billing.StatusDraft
	if auto {
		status = billing.StatusPending
	}
	entry, err := s.store.AddEntry(ctx, s.ownerID, billing.EntryFromPreview(ids, p, status), rate, s.target, auto)
	if err != nil {
		return billing.Entry{}, fmt.Errorf("creating entry: %w", err)
	}
	s.tracker.AddEntry(entry)
	if err := s.tracker.MarkProcessed(ctx, ids); err != nil {
		s.logger.Warn("persisting processed emails", "email_ids", ids, "error", err)
	}
	return entry, nil
}

func (s *Session) recordCorrection(ctx context.Context, a Approval) {
	if s.corrections == nil || a.Original == nil {
		return
	}
	orig, final := describe(*a.Original), describe(a.Final)
	if orig == final {
		return
	}
	if err := s.corrections.AddCorrection(ctx, s.ownerID, billing.Correction{Original: orig, Corrected: final}); err != nil {
		s.logger.Warn("recording correction", "error", err)
	}
}

func describe(p billing.Preview) string {
	return fmt.Sprintf("%s | %s | %.2fh", p.Matter, p.Description, p.HoursOrZero())
}
