package clockify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/syncer"
)

// Transport pushes billable entries as Clockify time entries. The matter
// name selects the project.
type Transport struct {
	client      *Client
	workspaceID string
	now         func() time.Time

	mu     sync.Mutex
	userID string
}

func NewTransport(client *Client, workspaceID string) *Transport {
	return &Transport{client: client, workspaceID: workspaceID, now: time.Now}
}

func (t *Transport) Name() string { return "clockify" }

// Push creates one time entry ending at the entry's creation time.
func (t *Transport) Push(ctx context.Context, e billing.Entry) (syncer.Receipt, error) {
	if e.Hours <= 0 {
		return syncer.Receipt{}, fmt.Errorf("entry has no hours")
	}
	ws, err := t.workspace(ctx)
	if err != nil {
		return syncer.Receipt{}, err
	}
	projects, err := t.client.GetProjects(ctx, ws)
	if err != nil {
		return syncer.Receipt{}, err
	}
	project, ok := findProject(projects, e.Matter)
	if !ok {
		return syncer.Receipt{}, fmt.Errorf("no Clockify project named %q", e.Matter)
	}

	end := e.CreatedAt
	if end.IsZero() {
		end = t.now()
	}
	start := end.Add(-time.Duration(e.Hours * float64(time.Hour)))

	created, err := t.client.CreateTimeEntry(ctx, ws, TimeEntryRequest{
		Start:       start.UTC().Format(timeFormat),
		End:         end.UTC().Format(timeFormat),
		ProjectID:   project.ID,
		Description: e.Description,
		Billable:    true,
	})
	if err != nil {
		return syncer.Receipt{}, err
	}
	return syncer.Receipt{
		ExternalID: created.ID,
		URL:        fmt.Sprintf("https://app.clockify.me/projects/%s/edit", project.ID),
	}, nil
}

// RecentEntries returns the user's time entries since the given time as
// AI context, with project ids resolved to matter names.
func (t *Transport) RecentEntries(ctx context.Context, since time.Time, limit int) ([]billing.ExternalEntry, error) {
	uid, err := t.user(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := t.workspace(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := t.client.ListTimeEntries(ctx, ws, uid, since, limit)
	if err != nil {
		return nil, err
	}
	projects, err := t.client.GetProjects(ctx, ws)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}

	out := make([]billing.ExternalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, billing.ExternalEntry{
			Matter:      names[e.ProjectID],
			Description: e.Description,
			Hours:       e.Hours(),
		})
	}
	return out, nil
}

func (t *Transport) user(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadUserLocked(ctx); err != nil {
		return "", err
	}
	return t.userID, nil
}

// workspace is the configured workspace, or the user's default one.
func (t *Transport) workspace(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.workspaceID != "" {
		return t.workspaceID, nil
	}
	if err := t.loadUserLocked(ctx); err != nil {
		return "", err
	}
	return t.workspaceID, nil
}

func (t *Transport) loadUserLocked(ctx context.Context) error {
	if t.userID != "" {
		return nil
	}
	u, err := t.client.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("getting user info: %w", err)
	}
	t.userID = u.ID
	if t.workspaceID == "" {
		t.workspaceID = u.DefaultWorkspace
	}
	return nil
}
