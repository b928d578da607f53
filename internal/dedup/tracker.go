// Package dedup tracks which emails may still produce a billing
// suggestion. One Tracker is shared by every scan trigger; its Claim
// method is the only place eligibility is decided.
package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/christopherklint97/billr/internal/billing"
)

// Persister stores processed and dismissed ids so they survive restarts.
type Persister interface {
	MarkProcessed(ctx context.Context, ids []string) error
	MarkDismissed(ctx context.Context, ids []string) error
}

// Snapshot seeds a Tracker from storage.
type Snapshot struct {
	Processed []string
	Dismissed []string
	// Billed holds every email id referenced by a stored entry.
	Billed []string
}

type set map[string]struct{}

func newSet(ids []string) set {
	s := make(set, len(ids))
	s.add(ids)
	return s
}

func (s set) add(ids []string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

func (s set) has(id string) bool {
	_, ok := s[id]
	return ok
}

type Tracker struct {
	mu        sync.Mutex
	processed set
	dismissed set
	billed    set
	claimed   set

	persist Persister
	logger  *slog.Logger
}

// New builds a tracker. persist may be nil for an in-memory session.
func New(snap Snapshot, persist Persister, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		processed: newSet(snap.Processed),
		dismissed: newSet(snap.Dismissed),
		billed:    newSet(snap.Billed),
		claimed:   make(set),
		persist:   persist,
		logger:    logger,
	}
}

// IsEligible reports whether the email is in none of the processed,
// dismissed or billed sets. Claimed ids are still eligible; they are
// just reserved by a running scan.
func (t *Tracker) IsEligible(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eligibleLocked(id)
}

func (t *Tracker) eligibleLocked(id string) bool {
	return !t.processed.has(id) && !t.dismissed.has(id) && !t.billed.has(id)
}

// IsBilled reports whether a stored entry already references the email.
func (t *Tracker) IsBilled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.billed.has(id)
}

// Eligible filters emails down to the eligible ones, keeping order.
func (t *Tracker) Eligible(emails []billing.Email) []billing.Email {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []billing.Email
	for _, e := range emails {
		if t.eligibleLocked(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// Claim atomically reserves the eligible emails that no other caller
// holds. The caller must finish with MarkProcessed, MarkDismissed or Release.
func (t *Tracker) Claim(emails []billing.Email) []billing.Email {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []billing.Email
	for _, e := range emails {
		if !t.eligibleLocked(e.ID) || t.claimed.has(e.ID) {
			continue
		}
		t.claimed[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Release drops claims without recording an outcome.
func (t *Tracker) Release(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.claimed, id)
	}
}

// Reserve claims a single email for manual triage. Unlike Claim it accepts
// processed emails, but it fails when the email is billed or another caller
// holds it. Finish with Release.
func (t *Tracker) Reserve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" || t.billed.has(id) || t.claimed.has(id) {
		return false
	}
	t.claimed[id] = struct{}{}
	return true
}

// MarkProcessed records the ids as handled and releases their claims.
func (t *Tracker) MarkProcessed(ctx context.Context, ids []string) error {
	t.mu.Lock()
	t.processed.add(ids)
	for _, id := range ids {
		delete(t.claimed, id)
	}
	t.mu.Unlock()

	if t.persist == nil || len(ids) == 0 {
		return nil
	}
	if err := t.persist.MarkProcessed(ctx, ids); err != nil {
		t.logger.Error("persisting processed ids", "error", err, "email_ids", ids)
		return fmt.Errorf("persisting processed ids: %w", err)
	}
	return nil
}

// MarkDismissed records the ids as rejected. Dismissal is permanent.
func (t *Tracker) MarkDismissed(ctx context.Context, ids []string) error {
	t.mu.Lock()
	t.dismissed.add(ids)
	for _, id := range ids {
		delete(t.claimed, id)
	}
	t.mu.Unlock()

	if t.persist == nil || len(ids) == 0 {
		return nil
	}
	if err := t.persist.MarkDismissed(ctx, ids); err != nil {
		t.logger.Error("persisting dismissed ids", "error", err, "email_ids", ids)
		return fmt.Errorf("persisting dismissed ids: %w", err)
	}
	return nil
}

// AddEntry folds a newly stored entry's email ids into the billed set.
// Call it as soon as the entry exists.
func (t *Tracker) AddEntry(entry billing.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.billed.add(entry.EmailIDs)
}

// Stats is a point-in-time count of each set.
type Stats struct {
	Processed int
	Dismissed int
	Billed    int
	Claimed   int
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Processed: len(t.processed),
		Dismissed: len(t.dismissed),
		Billed:    len(t.billed),
		Claimed:   len(t.claimed),
	}
}
