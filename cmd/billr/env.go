package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/christopherklint97/billr/internal/ai"
	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/calendar"
	"github.com/christopherklint97/billr/internal/clockify"
	"github.com/christopherklint97/billr/internal/config"
	"github.com/christopherklint97/billr/internal/dedup"
	"github.com/christopherklint97/billr/internal/msgraph"
	"github.com/christopherklint97/billr/internal/scan"
	"github.com/christopherklint97/billr/internal/store"
	"github.com/christopherklint97/billr/internal/syncer"
	"github.com/christopherklint97/billr/internal/triage"
)

const (
	recentCorrections = 10
	recentExternal    = 20
	externalWindow    = 7 * 24 * time.Hour
)

var errNoClockify = errors.New("clockify API key not configured: run 'billr config set clockify.api_key <key>'")

// env is everything a command needs, opened once per invocation.
type env struct {
	cfg       *config.Config
	configDir string
	logger    *slog.Logger
	db        *store.DB
	owner     string
	tracker   *dedup.Tracker
	provider  ai.Provider
	transport *clockify.Transport
	syncer    *syncer.Orchestrator
	closeLog  func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(filepath.Join(dir, "billr.db"))
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	e := &env{
		cfg:       cfg,
		configDir: dir,
		logger:    logger,
		db:        db,
		owner:     cfg.Owner.ID,
		closeLog:  closeLog,
	}

	marks := db.Marks(e.owner)
	snap, err := marks.Snapshot(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("loading email marks: %w", err)
	}
	e.tracker = dedup.New(snap, marks, logger.With("component", "dedup"))

	e.provider, err = newProvider(cfg, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	var transport syncer.Transport = unconfigured{}
	if cfg.Clockify.APIKey != "" {
		client := clockify.NewClient(cfg.Clockify.APIKey, cfg.Clockify.BaseURL, time.Hour, logger.With("component", "clockify"))
		e.transport = clockify.NewTransport(client, cfg.Clockify.WorkspaceID)
		transport = e.transport
	}
	e.syncer = syncer.New(e.owner, db, transport,
		syncer.WithConcurrency(cfg.Sync.Concurrency),
		syncer.WithLogger(logger.With("component", "sync")),
	)
	return e, nil
}

func (e *env) Close() {
	e.db.Close()
	e.closeLog()
}

func newProvider(cfg *config.Config, logger *slog.Logger) (ai.Provider, error) {
	logger = logger.With("component", "ai", "provider", cfg.AI.Provider)
	var p ai.Provider
	switch cfg.AI.Provider {
	case "", "claude-cli":
		p = ai.NewClaudeCLI(cfg.AI.Model, logger)
	case "openai":
		if cfg.AI.APIKey == "" {
			return nil, errors.New("openai provider needs ai.api_key or OPENAI_API_KEY")
		}
		p = ai.NewOpenAI(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AI.Provider)
	}
	if cfg.AI.TimeoutSeconds > 0 {
		p = timeoutProvider{Provider: p, timeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second}
	}
	return p, nil
}

// timeoutProvider bounds every AI call.
type timeoutProvider struct {
	ai.Provider
	timeout time.Duration
}

func (t timeoutProvider) GroupEmails(ctx context.Context, req ai.GroupRequest) ([]ai.Group, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.GroupEmails(ctx, req)
}

func (t timeoutProvider) ClassifyEmail(ctx context.Context, req ai.ClassifyRequest) (*ai.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.ClassifyEmail(ctx, req)
}

func (t timeoutProvider) DraftPreview(ctx context.Context, req ai.DraftRequest) (*billing.Preview, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.DraftPreview(ctx, req)
}

// unconfigured fails every push, so entries still land in the error state.
type unconfigured struct{}

func (unconfigured) Name() string { return "clockify" }

func (unconfigured) Push(context.Context, billing.Entry) (syncer.Receipt, error) {
	return syncer.Receipt{}, errNoClockify
}

func (e *env) target() string {
	if e.transport == nil {
		return ""
	}
	return e.transport.Name()
}

func (e *env) pipeline() *scan.Pipeline {
	return scan.New(e.owner, e.provider, e.db, e.tracker, e.syncer,
		scan.WithLogger(e.logger.With("component", "scan")),
		scan.WithTarget(e.target()),
		scan.WithSuggestionQueue(e.db),
	)
}

func (e *env) session(settings triage.Settings) *triage.Session {
	return triage.NewSession(e.owner, e.provider, e.db, e.tracker, e.syncer, settings,
		triage.WithLogger(e.logger.With("component", "triage")),
		triage.WithTarget(e.target()),
		triage.WithCorrections(e.db),
	)
}

// mailClient returns nil when no Graph app is configured.
func (e *env) mailClient() *msgraph.Client {
	if e.cfg.MSGraph.ClientID == "" {
		return nil
	}
	return msgraph.NewClient(e.auth(), e.logger.With("component", "msgraph"))
}

func (e *env) auth() *msgraph.Auth {
	return msgraph.NewAuth(e.cfg.MSGraph.ClientID, e.cfg.MSGraph.TenantID,
		msgraph.DefaultTokenStore(e.configDir), e.logger.With("component", "msgraph"))
}

// fetchMail pulls new messages into the local cache.
func (e *env) fetchMail(ctx context.Context, since time.Time) (int, error) {
	client := e.mailClient()
	if client == nil {
		return 0, errors.New("mail not configured: set msgraph.client_id")
	}
	emails, err := client.FetchMessages(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("fetching mail: %w", err)
	}
	return e.db.SaveEmails(ctx, emails)
}

// settings gathers matters and AI context concurrently. Only the matter
// list is required; the other sources are best effort.
func (e *env) settings(ctx context.Context) (triage.Settings, error) {
	now := time.Now()
	var (
		matters     []billing.Matter
		corrections []billing.Correction
		external    []billing.ExternalEntry
		notes       []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matters, err = e.db.ListMatters(gctx)
		if err != nil {
			return fmt.Errorf("listing matters: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		corrections, err = e.db.RecentCorrections(gctx, e.owner, recentCorrections)
		if err != nil {
			e.logger.Warn("loading corrections", "error", err)
		}
		return nil
	})
	if e.transport != nil {
		g.Go(func() error {
			var err error
			external, err = e.transport.RecentEntries(gctx, now.Add(-externalWindow), recentExternal)
			if err != nil {
				e.logger.Warn("loading recent clockify entries", "error", err)
			}
			return nil
		})
	}
	if e.cfg.Calendar.Enabled && e.cfg.Calendar.Source != "" {
		g.Go(func() error {
			lookback := time.Duration(e.cfg.Autopilot.LookbackHours) * time.Hour
			events, err := calendar.Fetch(gctx, e.cfg.Calendar.Source, now.Add(-lookback), now)
			if err != nil {
				e.logger.Warn("loading calendar", "error", err)
				return nil
			}
			notes = calendar.ContextNotes(events)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return triage.Settings{}, err
	}

	return triage.Settings{
		Matters: matters,
		Context: billing.Context{
			Matters:     billing.MatterNames(matters),
			Corrections: corrections,
			External:    external,
			Notes:       notes,
		},
		Policy: e.cfg.Policy(),
	}, nil
}

// scanRequest builds a scan over the cached emails received since since.
func (e *env) scanRequest(ctx context.Context, since time.Time) (scan.Request, error) {
	settings, err := e.settings(ctx)
	if err != nil {
		return scan.Request{}, err
	}
	emails, err := e.db.ListEmails(ctx, since)
	if err != nil {
		return scan.Request{}, fmt.Errorf("listing emails: %w", err)
	}
	return scan.Request{
		Candidates: emails,
		Matters:    settings.Matters,
		Context:    settings.Context,
		Policy:     settings.Policy,
	}, nil
}

func (e *env) lookbackStart(now time.Time) time.Time {
	return now.Add(-time.Duration(e.cfg.Autopilot.LookbackHours) * time.Hour)
}
