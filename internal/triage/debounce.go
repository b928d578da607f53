package triage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/christopherklint97/billr/internal/ai"
	"github.com/christopherklint97/billr/internal/billing"
)

// DefaultDebounce is the input quiet period before a live preview is drafted.
const DefaultDebounce = 750 * time.Millisecond

type Drafter interface {
	DraftPreview(ctx context.Context, req ai.DraftRequest) (*billing.Preview, error)
}

// Draft is one live preview result for the text it was computed from.
type Draft struct {
	Text    string
	Preview *billing.Preview
	Err     error
}

// Debouncer drafts a billing preview from compose text once typing has
// paused. Only the result for the latest text is delivered.
type Debouncer struct {
	drafter Drafter
	delay   time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	bctx    billing.Context
	timer   *time.Timer
	cancel  context.CancelFunc
	gen     uint64
	stopped bool
	results chan Draft
}

func NewDebouncer(drafter Drafter, delay time.Duration, bctx billing.Context, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Debouncer{
		drafter: drafter,
		delay:   delay,
		logger:  logger,
		bctx:    bctx,
		results: make(chan Draft, 1),
	}
}

// SetContext replaces the AI context used by later drafts.
func (d *Debouncer) SetContext(bctx billing.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bctx = bctx
}

// Results delivers drafts. A slow reader only ever sees the newest one.
func (d *Debouncer) Results() <-chan Draft { return d.results }

// Update restarts the quiet period with new text. Blank text cancels any
// pending draft without starting a new one.
func (d *Debouncer) Update(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.resetLocked()
	if strings.TrimSpace(text) == "" {
		return
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen, text) })
}

// Stop cancels pending and running drafts. Update is a no-op afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.stopped = true
}

func (d *Debouncer) resetLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Debouncer) fire(gen uint64, text string) {
	d.mu.Lock()
	if d.gen != gen || d.stopped {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	bctx := d.bctx
	d.mu.Unlock()
	defer cancel()

	start := time.Now()
	p, err := d.drafter.DraftPreview(ctx, ai.DraftRequest{Text: text, Context: bctx})

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || d.stopped {
		d.logger.Debug("dropping stale live preview", "elapsed", time.Since(start))
		return
	}
	d.cancel = nil
	if err != nil {
		d.logger.Warn("drafting live preview", "error", err)
	}
	// Replace an unread older draft.
	select {
	case <-d.results:
	default:
	}
	d.results <- Draft{Text: text, Preview: p, Err: err}
}
