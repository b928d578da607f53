package msgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TokenData holds OAuth2 token data for Microsoft Graph API.
type TokenData struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
}

// IsExpired returns true if the token is expired or will expire within 5 minutes.
func (t *TokenData) IsExpired() bool {
	return time.Now().Add(5 * time.Minute).After(t.ExpiresAt)
}

// TokenStore keeps tokens in a JSON file readable only by the user.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// DefaultTokenStore uses <configDir>/msgraph_tokens.json.
func DefaultTokenStore(configDir string) *TokenStore {
	return NewTokenStore(filepath.Join(configDir, "msgraph_tokens.json"))
}

// Load returns nil, nil if no tokens have been saved.
func (s *TokenStore) Load() (*TokenData, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tokens TokenData
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}

	return &tokens, nil
}

// Save writes tokens with 0600 permissions via tmp file and rename.
func (s *TokenStore) Save(tokens *TokenData) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tokens: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing temp token file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming token file: %w", err)
	}

	return nil
}
