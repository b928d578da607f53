package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) EnsureValidToken(context.Context) (string, error) { return string(s), nil }

func TestFetchMessages_PagesAndMaps(t *testing.T) {
	var srvURL string
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("Prefer"), "text")
		switch calls.Add(1) {
		case 1:
			assert.Contains(t, r.URL.Query().Get("$filter"), "receivedDateTime ge 2026-03-01T00:00:00Z")
			fmt.Fprintf(w, `{"value":[
				{"id":"m1","subject":"Merger","from":{"emailAddress":{"name":"Gina Counsel","address":"gc@acme.com"}},
				 "receivedDateTime":"2026-03-01T09:00:00Z","bodyPreview":"preview","body":{"contentType":"text","content":"Full body"}},
				{"id":"draft","isDraft":true}
			],"@odata.nextLink":"%s/page2"}`, srvURL)
		default:
			assert.Equal(t, "/page2", r.URL.Path)
			w.Write([]byte(`{"value":[
				{"id":"m2","subject":"Bulletin","from":{"emailAddress":{"address":"news@lawweekly.com"}},
				 "receivedDateTime":"2026-03-01T10:00:00Z","bodyPreview":"only preview","body":{"content":""}}
			]}`))
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(staticToken("tok"), nil)
	c.baseURL = srv.URL

	emails, err := c.FetchMessages(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, emails, 2)

	assert.Equal(t, "m1", emails[0].ID)
	assert.Equal(t, "Gina Counsel <gc@acme.com>", emails[0].Sender)
	assert.Equal(t, "Full body", emails[0].Body)
	assert.Equal(t, "news@lawweekly.com", emails[1].Sender)
	assert.Equal(t, "only preview", emails[1].Body)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchMessages_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	c := NewClient(staticToken("tok"), nil)
	c.baseURL = srv.URL
	c.backoff = func(int) time.Duration { return time.Millisecond }

	emails, err := c.FetchMessages(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, emails)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenStore_RoundTrip(t *testing.T) {
	store := DefaultTokenStore(t.TempDir())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	want := &TokenData{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
	require.NoError(t, store.Save(want))

	got, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.False(t, got.IsExpired())
}

func TestEnsureValidToken(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenant/oauth2/v2.0/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Contains(t, r.PostForm.Get("scope"), "Mail.Read")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer login.Close()

	auth := NewAuth("client", "tenant", store, nil)
	auth.loginBase = login.URL

	_, err := auth.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, store.Save(&TokenData{AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)}))
	tok, err := auth.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "r1", saved.RefreshToken, "refresh token kept when not rotated")
}
