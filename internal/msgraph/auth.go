package msgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotAuthenticated = errors.New("not authenticated with Microsoft Graph: run 'billr mail auth' first")

const (
	defaultScope     = "Mail.Read offline_access"
	defaultLoginBase = "https://login.microsoftonline.com"
)

// Auth handles OAuth2 device code flow for Microsoft Graph API.
type Auth struct {
	clientID   string
	tenantID   string
	loginBase  string
	tokens     *TokenStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAuth creates an Auth for the given Azure AD app. Tokens are cached
// in store.
func NewAuth(clientID, tenantID string, store *TokenStore, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tenantID == "" {
		tenantID = "common"
	}
	return &Auth{
		clientID:  clientID,
		tenantID:  tenantID,
		loginBase: defaultLoginBase,
		tokens:    store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// DeviceCodeResponse holds the response from the device code endpoint.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

// tokenResponse is the internal response from the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (a *Auth) baseURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0", a.loginBase, a.tenantID)
}

// StartDeviceCodeFlow initiates the device code flow and returns the response
// containing the user code and verification URI.
func (a *Auth) StartDeviceCodeFlow(ctx context.Context) (*DeviceCodeResponse, error) {
	endpoint := a.baseURL() + "/devicecode"

	form := url.Values{
		"client_id": {a.clientID},
		"scope":     {defaultScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading device code response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device code request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var dcResp DeviceCodeResponse
	if err := json.Unmarshal(body, &dcResp); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}

	return &dcResp, nil
}

// PollForToken polls the token endpoint until the user completes authorization.
func (a *Auth) PollForToken(ctx context.Context, deviceCode string, interval int) (*TokenData, error) {
	endpoint := a.baseURL() + "/token"

	if interval < 1 {
		interval = 5
	}

	form := url.Values{
		"client_id":   {a.clientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(interval) * time.Second):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("creating token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("polling for token: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading token response: %w", err)
		}

		var tokenResp tokenResponse
		if err := json.Unmarshal(body, &tokenResp); err != nil {
			return nil, fmt.Errorf("parsing token response: %w", err)
		}

		switch tokenResp.Error {
		case "":
			// Success
			return &TokenData{
				AccessToken:  tokenResp.AccessToken,
				RefreshToken: tokenResp.RefreshToken,
				ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
				Scope:        tokenResp.Scope,
			}, nil
		case "authorization_pending":
			a.logger.Debug("waiting for user authorization")
			continue
		case "slow_down":
			interval += 5
			a.logger.Debug("slowing down polling", "interval", interval)
			continue
		case "expired_token":
			return nil, fmt.Errorf("device code expired, please try again")
		default:
			return nil, fmt.Errorf("token error: %s: %s", tokenResp.Error, tokenResp.ErrorDesc)
		}
	}
}

// RefreshAccessToken uses a refresh token to obtain a new access token.
func (a *Auth) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenData, error) {
	endpoint := a.baseURL() + "/token"

	form := url.Values{
		"client_id":     {a.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {defaultScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("parsing refresh response: %w", err)
	}

	if tokenResp.Error != "" {
		return nil, fmt.Errorf("refresh failed: %s: %s", tokenResp.Error, tokenResp.ErrorDesc)
	}

	refreshed := &TokenData{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Scope:        tokenResp.Scope,
	}
	// Some tenants do not rotate refresh tokens.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = refreshToken
	}
	return refreshed, nil
}

// Login runs the whole device code flow and caches the tokens. prompt
// receives the instructions to show the user.
func (a *Auth) Login(ctx context.Context, prompt func(*DeviceCodeResponse)) error {
	dc, err := a.StartDeviceCodeFlow(ctx)
	if err != nil {
		return err
	}
	prompt(dc)

	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(max(dc.ExpiresIn, 60))*time.Second)
	defer cancel()
	tokens, err := a.PollForToken(pollCtx, dc.DeviceCode, dc.Interval)
	if err != nil {
		return err
	}
	return a.tokens.Save(tokens)
}

// EnsureValidToken loads cached tokens, auto-refreshes if expired, and returns a valid access token.
// Returns ErrNotAuthenticated if no tokens are cached.
func (a *Auth) EnsureValidToken(ctx context.Context) (string, error) {
	tokens, err := a.tokens.Load()
	if err != nil {
		return "", fmt.Errorf("loading cached tokens: %w", err)
	}
	if tokens == nil {
		return "", ErrNotAuthenticated
	}

	if !tokens.IsExpired() {
		return tokens.AccessToken, nil
	}

	a.logger.Debug("access token expired, refreshing")
	newTokens, err := a.RefreshAccessToken(ctx, tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("token refresh failed (run 'billr mail auth' to re-authenticate): %w", err)
	}

	if err := a.tokens.Save(newTokens); err != nil {
		a.logger.Warn("failed to cache refreshed tokens", "error", err)
	}

	return newTokens.AccessToken, nil
}
