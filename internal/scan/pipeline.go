// Package scan runs the grouping pipeline: eligible emails go to the AI
// grouper, each group is routed through the rule engine and decision
// resolver, and the outcome is applied to the store, tracker and syncer.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/christopherklint97/billr/internal/ai"
	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/decision"
	"github.com/christopherklint97/billr/internal/dedup"
	"github.com/christopherklint97/billr/internal/rules"
	"github.com/christopherklint97/billr/internal/syncer"
)

// Grouper is the AI grouping collaborator.
type Grouper interface {
	GroupEmails(ctx context.Context, req ai.GroupRequest) ([]ai.Group, error)
}

// EntryCreator stores new entries.
type EntryCreator interface {
	AddEntry(ctx context.Context, ownerID string, data billing.NewEntry, rate float64, target string, autoGenerated bool) (billing.Entry, error)
}

// Syncer submits entries to the practice management system.
type Syncer interface {
	SyncMany(ctx context.Context, ids []string) syncer.Report
}

// SuggestionQueue keeps STANDARD outcomes for later review.
type SuggestionQueue interface {
	SaveSuggestions(ctx context.Context, ownerID string, suggestions []billing.Suggestion) error
}

// Error is returned when the scan attempt failed as a whole. Nothing was
// created, dismissed or marked processed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("scan %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type Request struct {
	Candidates []billing.Email
	Matters    []billing.Matter
	Context    billing.Context
	Policy     decision.Policy
}

type Result struct {
	Created      []billing.Entry
	Suggestions  []billing.Suggestion
	IgnoredCount int
	Sync         syncer.Report
}

// Empty reports whether the scan had nothing to act on.
func (r Result) Empty() bool {
	return len(r.Created) == 0 && len(r.Suggestions) == 0 && r.IgnoredCount == 0
}

func (r Result) String() string {
	s := fmt.Sprintf("%d auto-synced, %d suggested, %d ignored", len(r.Created), len(r.Suggestions), r.IgnoredCount)
	if len(r.Created) > 0 {
		s += " (sync: " + r.Sync.String() + ")"
	}
	return s
}

type Pipeline struct {
	ownerID string
	target  string
	grouper Grouper
	store   EntryCreator
	tracker *dedup.Tracker
	syncer  Syncer
	queue   SuggestionQueue
	logger  *slog.Logger
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTarget names the external system recorded on created entries.
func WithTarget(name string) Option {
	return func(p *Pipeline) { p.target = name }
}

// WithSuggestionQueue persists suggestions after every scan.
func WithSuggestionQueue(q SuggestionQueue) Option {
	return func(p *Pipeline) { p.queue = q }
}

func New(ownerID string, grouper Grouper, store EntryCreator, tracker *dedup.Tracker, sync Syncer, opts ...Option) *Pipeline {
	p := &Pipeline{
		ownerID: ownerID,
		grouper: grouper,
		store:   store,
		tracker: tracker,
		syncer:  sync,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one scan. Emails claimed by a concurrent scan, or already
// processed, dismissed or billed, are skipped. An empty Result with a nil
// error means there was nothing new.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	claimed := p.tracker.Claim(req.Candidates)
	if len(claimed) == 0 {
		p.logger.Debug("scan found nothing eligible", "candidates", len(req.Candidates))
		return Result{}, nil
	}
	claimedIDs := emailIDs(claimed)

	start := time.Now()
	groups, err := p.grouper.GroupEmails(ctx, ai.GroupRequest{Emails: claimed, Context: req.Context})
	if err != nil {
		p.tracker.Release(claimedIDs)
		p.logger.Error("grouping emails", "error", err, "emails", len(claimed), "elapsed", time.Since(start))
		return Result{}, &Error{Op: "grouping", Err: err}
	}
	p.logger.Debug("emails grouped", "emails", len(claimed), "groups", len(groups), "elapsed", time.Since(start))

	byID := make(map[string]billing.Email, len(claimed))
	for _, e := range claimed {
		byID[e.ID] = e
	}

	// An id belongs to the first group that names it. Ids billed while the
	// grouper ran (by triage) are dropped.
	used := make(map[string]bool, len(claimed))
	var res Result
	for _, g := range groups {
		var groupEmails []billing.Email
		for _, id := range g.EmailIDs {
			e, ok := byID[id]
			if !ok || used[id] {
				continue
			}
			used[id] = true
			if p.tracker.IsBilled(id) {
				p.logger.Info("skipping email billed during scan", "email_id", id)
				continue
			}
			groupEmails = append(groupEmails, e)
		}
		if len(groupEmails) == 0 {
			continue
		}
		ids := emailIDs(groupEmails)

		outcome := rules.Run(req.Matters, groupEmails, g.Preview)
		d := decision.Resolve(outcome.Intent, outcome.Preview, req.Policy)
		p.logger.Info("group resolved",
			"email_ids", ids,
			"matter", outcome.Preview.Matter,
			"decision", d,
			"rule_matched", outcome.Matched(),
		)

		switch d {
		case billing.DecisionAutoSync:
			entry, err := p.createEntry(ctx, req.Matters, ids, outcome.Preview)
			if errors.Is(err, billing.ErrAlreadyBilled) {
				p.logger.Info("group already billed, marking processed", "email_ids", ids, "error", err)
				continue
			}
			if err != nil {
				p.logger.Error("creating auto-synced entry, keeping as suggestion", "email_ids", ids, "error", err)
				res.Suggestions = append(res.Suggestions, newSuggestion(ids, groupEmails, outcome.Preview))
				continue
			}
			res.Created = append(res.Created, entry)
		case billing.DecisionIgnore:
			if err := p.tracker.MarkDismissed(ctx, ids); err != nil {
				p.logger.Warn("dismissing ignored group", "email_ids", ids, "error", err)
			}
			res.IgnoredCount++
		default:
			res.Suggestions = append(res.Suggestions, newSuggestion(ids, groupEmails, outcome.Preview))
		}
	}

	// Ungrouped emails were judged non-billable and count as processed too.
	if err := p.tracker.MarkProcessed(ctx, claimedIDs); err != nil {
		p.logger.Warn("persisting processed emails", "error", err)
	}

	res.Suggestions = p.dropBilled(res.Suggestions)
	if p.queue != nil && len(res.Suggestions) > 0 {
		if err := p.queue.SaveSuggestions(ctx, p.ownerID, res.Suggestions); err != nil {
			p.logger.Warn("saving suggestions", "error", err)
		}
	}

	if len(res.Created) > 0 && p.syncer != nil {
		ids := make([]string, len(res.Created))
		for i, e := range res.Created {
			ids[i] = e.ID
		}
		res.Sync = p.syncer.SyncMany(ctx, ids)
	}

	p.logger.Info("scan finished", "summary", res.String(), "elapsed", time.Since(start))
	return res, nil
}

// dropBilled removes suggestions whose emails were billed after routing.
func (p *Pipeline) dropBilled(suggestions []billing.Suggestion) []billing.Suggestion {
	out := suggestions[:0]
	for _, s := range suggestions {
		billed := false
		for _, id := range s.EmailIDs {
			if p.tracker.IsBilled(id) {
				billed = true
				break
			}
		}
		if billed {
			p.logger.Info("dropping suggestion for billed email", "email_ids", s.EmailIDs)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (p *Pipeline) createEntry(ctx context.Context, matters []billing.Matter, ids []string, preview billing.Preview) (billing.Entry, error) {
	var rate float64
	if m, ok := billing.FindMatter(matters, preview.Matter); ok {
		rate = m.Rate
	}
	entry, err := p.store.AddEntry(ctx, p.ownerID, billing.EntryFromPreview(ids, preview, billing.StatusPending), rate, p.target, true)
	if err != nil {
		return billing.Entry{}, err
	}
	p.tracker.AddEntry(entry)
	return entry, nil
}

func newSuggestion(ids []string, emails []billing.Email, preview billing.Preview) billing.Suggestion {
	return billing.Suggestion{
		ID:       uuid.NewString(),
		EmailIDs: ids,
		Emails:   emails,
		Preview:  preview,
	}
}

func emailIDs(emails []billing.Email) []string {
	ids := make([]string, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
	}
	return ids
}
