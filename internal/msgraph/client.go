package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/christopherklint97/billr/internal/billing"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// TokenSource supplies a bearer token for each request.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// Client is a Microsoft Graph API client for reading the mailbox.
type Client struct {
	tokens     TokenSource
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	backoff    func(attempt int) time.Duration
}

// NewClient creates a new Graph API client.
func NewClient(tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		tokens:  tokens,
		baseURL: graphBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		backoff: backoff,
	}
}

type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	ID               string       `json:"id"`
	Subject          string       `json:"subject"`
	From             graphAddress `json:"from"`
	ReceivedDateTime time.Time    `json:"receivedDateTime"`
	BodyPreview      string       `json:"bodyPreview"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	IsDraft bool `json:"isDraft"`
}

type graphAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (a graphAddress) String() string {
	addr := a.EmailAddress.Address
	if name := strings.TrimSpace(a.EmailAddress.Name); name != "" && name != addr {
		return fmt.Sprintf("%s <%s>", name, addr)
	}
	return addr
}

// FetchMessages retrieves inbox messages received at or after since,
// oldest first, with plain-text bodies.
func (c *Client) FetchMessages(ctx context.Context, since time.Time) ([]billing.Email, error) {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"$filter":  {"receivedDateTime ge " + since.UTC().Format(time.RFC3339)},
		"$select":  {"id,subject,from,receivedDateTime,bodyPreview,body,isDraft"},
		"$top":     {"50"},
		"$orderby": {"receivedDateTime asc"},
	}

	requestURL := c.baseURL + "/me/mailFolders/inbox/messages?" + params.Encode()
	var all []billing.Email

	for requestURL != "" {
		emails, nextLink, err := c.fetchPage(ctx, token, requestURL)
		if err != nil {
			return nil, err
		}
		all = append(all, emails...)
		requestURL = nextLink
	}

	c.logger.Debug("graph messages fetched", "count", len(all), "since", since)
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, token, requestURL string) ([]billing.Email, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	var resp *http.Response
	maxRetries := 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = c.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return nil, "", fmt.Errorf("graph API request failed: %w", err)
			}
			time.Sleep(c.backoff(attempt))
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return nil, "", fmt.Errorf("graph API returned status %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.logger.Debug("graph API retrying", "status", resp.StatusCode, "attempt", attempt+1)
			time.Sleep(c.backoff(attempt))
			continue
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading graph response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("graph API error (status %d): %s", resp.StatusCode, truncateStr(string(body), 200))
	}

	var page messagesResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("parsing graph response: %w", err)
	}

	var emails []billing.Email
	for _, m := range page.Value {
		if m.IsDraft || m.ID == "" {
			continue
		}
		text := strings.TrimSpace(m.Body.Content)
		if text == "" {
			text = m.BodyPreview
		}
		emails = append(emails, billing.Email{
			ID:         m.ID,
			Sender:     m.From.String(),
			Subject:    m.Subject,
			Body:       text,
			ReceivedAt: m.ReceivedDateTime,
		})
	}

	return emails, page.NextLink, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
