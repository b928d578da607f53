// Package syncer pushes approved entries to the practice management
// system. Each entry has at most one sync in flight; results are
// reported per entry and never roll each other back.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/christopherklint97/billr/internal/billing"
)

// ErrInFlight is reported for an entry that is already being synced.
var ErrInFlight = errors.New("sync already in flight")

// EntryStore is the slice of the data store the orchestrator needs.
type EntryStore interface {
	GetEntry(ctx context.Context, ownerID, id string) (billing.Entry, error)
	UpdateEntry(ctx context.Context, ownerID string, e billing.Entry) (billing.Entry, error)
	ListEntriesByStatus(ctx context.Context, ownerID string, status billing.EntryStatus) ([]billing.Entry, error)
}

// Receipt is what the external system returns for an accepted entry.
type Receipt struct {
	ExternalID string
	URL        string
}

// Transport is the external sync call. A returned error's message is
// shown to the user as the failure reason.
type Transport interface {
	Name() string
	Push(ctx context.Context, entry billing.Entry) (Receipt, error)
}

// Report partitions the outcome of SyncMany.
type Report struct {
	Succeeded []billing.Entry
	Failed    []billing.Entry
	// Skipped lists ids rejected because a sync was already running.
	Skipped []string
}

func (r Report) String() string {
	s := fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
	if len(r.Skipped) > 0 {
		s += fmt.Sprintf(", %d already syncing", len(r.Skipped))
	}
	return s
}

type Orchestrator struct {
	ownerID     string
	store       EntryStore
	transport   Transport
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Orchestrator)

// WithConcurrency bounds simultaneous transport calls. n <= 0 means unbounded.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(ownerID string, store EntryStore, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ownerID:     ownerID,
		store:       store,
		transport:   transport,
		concurrency: 4,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) reserve(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}

// SyncMany marks every entry generating, pushes them concurrently and
// records synced or error on each one. Completion order is arbitrary.
func (o *Orchestrator) SyncMany(ctx context.Context, ids []string) Report {
	var report Report
	var targets []billing.Entry

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if !o.reserve(id) {
			o.logger.Debug("sync skipped, already in flight", "entry_id", id)
			report.Skipped = append(report.Skipped, id)
			continue
		}

		entry, err := o.markGenerating(ctx, id)
		if err != nil {
			o.release(id)
			o.logger.Error("preparing entry for sync", "entry_id", id, "error", err)
			report.Failed = append(report.Failed, billing.Entry{
				ID:     id,
				Status: billing.StatusError,
				Sync:   billing.SyncDetail{Error: err.Error()},
			})
			continue
		}
		targets = append(targets, entry)
	}

	results := make([]billing.Entry, len(targets))
	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i, entry := range targets {
		g.Go(func() error {
			defer o.release(entry.ID)
			results[i] = o.push(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range results {
		if e.Status == billing.StatusSynced {
			report.Succeeded = append(report.Succeeded, e)
		} else {
			report.Failed = append(report.Failed, e)
		}
	}

	o.logger.Info("sync batch finished",
		"requested", len(ids),
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
	)
	return report
}

// SyncOne syncs a single entry and returns its final state.
func (o *Orchestrator) SyncOne(ctx context.Context, id string) (billing.Entry, error) {
	report := o.SyncMany(ctx, []string{id})
	switch {
	case len(report.Skipped) > 0:
		return billing.Entry{}, fmt.Errorf("syncing entry %s: %w", id, ErrInFlight)
	case len(report.Succeeded) > 0:
		return report.Succeeded[0], nil
	case len(report.Failed) > 0:
		e := report.Failed[0]
		return e, fmt.Errorf("syncing entry %s: %s", id, e.Sync.Error)
	}
	return billing.Entry{}, fmt.Errorf("syncing entry %s: no result", id)
}

// RetryFailed resubmits every entry whose last sync ended in error.
func (o *Orchestrator) RetryFailed(ctx context.Context) (Report, error) {
	failed, err := o.store.ListEntriesByStatus(ctx, o.ownerID, billing.StatusError)
	if err != nil {
		return Report{}, fmt.Errorf("listing failed entries: %w", err)
	}
	if len(failed) == 0 {
		return Report{}, nil
	}
	ids := make([]string, len(failed))
	for i, e := range failed {
		ids[i] = e.ID
	}
	o.logger.Info("retrying failed entries", "count", len(ids))
	return o.SyncMany(ctx, ids), nil
}

func (o *Orchestrator) markGenerating(ctx context.Context, id string) (billing.Entry, error) {
	entry, err := o.store.GetEntry(ctx, o.ownerID, id)
	if err != nil {
		return billing.Entry{}, fmt.Errorf("loading entry: %w", err)
	}
	if entry.Status == billing.StatusSynced {
		return billing.Entry{}, fmt.Errorf("entry %s is already synced", id)
	}
	entry.Status = billing.StatusGenerating
	entry.Sync.Error = ""
	updated, err := o.store.UpdateEntry(ctx, o.ownerID, entry)
	if err != nil {
		return billing.Entry{}, fmt.Errorf("marking entry generating: %w", err)
	}
	return updated, nil
}

func (o *Orchestrator) push(ctx context.Context, entry billing.Entry) billing.Entry {
	start := time.Now()
	receipt, err := o.transport.Push(ctx, entry)
	if err != nil {
		entry.Status = billing.StatusError
		entry.Sync = billing.SyncDetail{Error: err.Error()}
		o.logger.Warn("entry sync failed",
			"entry_id", entry.ID,
			"target", o.transport.Name(),
			"error", err,
			"elapsed", time.Since(start),
		)
	} else {
		entry.Status = billing.StatusSynced
		entry.Sync = billing.SyncDetail{
			SyncedAt:   o.now(),
			ExternalID: receipt.ExternalID,
			URL:        receipt.URL,
		}
		o.logger.Debug("entry synced",
			"entry_id", entry.ID,
			"target", o.transport.Name(),
			"external_id", receipt.ExternalID,
			"elapsed", time.Since(start),
		)
	}

	// The outcome is recorded even if ctx was cancelled mid-batch.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	saved, err := o.store.UpdateEntry(saveCtx, o.ownerID, entry)
	if err != nil {
		o.logger.Error("recording sync result", "entry_id", entry.ID, "error", err)
		return entry
	}
	return saved
}
