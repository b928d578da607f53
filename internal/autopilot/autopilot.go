// Package autopilot runs unattended scans on a fixed interval. The task
// is owned by whoever calls Start; Stop disables it until the next Start.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/christopherklint97/billr/internal/scan"
	"github.com/christopherklint97/billr/internal/syncer"
)

// DefaultInterval is the time between scans.
const DefaultInterval = 30 * time.Second

var ErrRunning = errors.New("autopilot already running")

type Scanner interface {
	Run(ctx context.Context, req scan.Request) (scan.Result, error)
}

// RequestBuilder gathers candidates, matters and AI context for one scan.
type RequestBuilder func(ctx context.Context) (scan.Request, error)

type Retrier interface {
	RetryFailed(ctx context.Context) (syncer.Report, error)
}

type Autopilot struct {
	scanner  Scanner
	build    RequestBuilder
	interval time.Duration
	hours    WorkHours
	retrier  Retrier
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	afterRun func(scan.Result, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Autopilot)

func WithInterval(d time.Duration) Option {
	return func(a *Autopilot) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithWorkHours skips ticks outside the given hours.
func WithWorkHours(h WorkHours) Option {
	return func(a *Autopilot) { a.hours = h }
}

// WithRetrier resubmits failed syncs once when the task starts.
func WithRetrier(r Retrier) Option {
	return func(a *Autopilot) { a.retrier = r }
}

func WithNotifier(n Notifier) Option {
	return func(a *Autopilot) { a.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Autopilot) {
		if l != nil {
			a.logger = l
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(a *Autopilot) { a.now = now }
}

func New(scanner Scanner, build RequestBuilder, opts ...Option) *Autopilot {
	a := &Autopilot{
		scanner:  scanner,
		build:    build,
		interval: DefaultInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the scan loop in the background.
func (a *Autopilot) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		a.loop(ctx)
	}(a.done)
	return nil
}

// Stop cancels the loop and waits for a scan in progress to return. No
// scan starts after Stop returns.
func (a *Autopilot) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Autopilot) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done != nil
}

// Run blocks until ctx is done: it retries failed syncs, then scans on
// every tick.
func (a *Autopilot) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Stop()
	return nil
}

func (a *Autopilot) loop(ctx context.Context) {
	a.retryFailed(ctx)

	a.logger.Info("autopilot started", "interval", a.interval, "work_hours", a.hours.String())
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("autopilot stopped")
			return
		case <-ticker.C:
		}
		// A tick and a cancel can be ready together.
		if ctx.Err() != nil {
			return
		}
		if !a.hours.Contains(a.now()) {
			continue
		}
		a.tick(ctx)
	}
}

func (a *Autopilot) tick(ctx context.Context) {
	req, err := a.build(ctx)
	if err != nil {
		a.logger.Error("preparing autopilot scan", "error", err)
		a.report(scan.Result{}, err)
		return
	}
	res, err := a.scanner.Run(ctx, req)
	if err != nil {
		a.logger.Error("autopilot scan failed", "error", err)
	} else if !res.Empty() {
		a.logger.Info("autopilot scan", "summary", res.String())
		a.notify(res)
	}
	a.report(res, err)
}

func (a *Autopilot) report(res scan.Result, err error) {
	if a.afterRun != nil {
		a.afterRun(res, err)
	}
}

func (a *Autopilot) notify(res scan.Result) {
	if a.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%d entries auto-synced, %d suggestions waiting", len(res.Created), len(res.Suggestions))
	if len(res.Sync.Failed) > 0 {
		msg += fmt.Sprintf(", %d sync failures", len(res.Sync.Failed))
	}
	if err := a.notifier.Notify("billr", msg); err != nil {
		a.logger.Debug("sending notification", "error", err)
	}
}

func (a *Autopilot) retryFailed(ctx context.Context) {
	if a.retrier == nil {
		return
	}
	report, err := a.retrier.RetryFailed(ctx)
	if err != nil {
		a.logger.Error("retrying failed entries", "error", err)
		return
	}
	if n := len(report.Succeeded) + len(report.Failed); n > 0 {
		a.logger.Info("retried failed entries", "summary", report.String())
	}
}
