package googlecal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/auth"
)

type memStore struct {
	creds   auth.Credentials
	pending string
}

func (m *memStore) Credentials() (auth.Credentials, error) { return m.creds, nil }

func (m *memStore) SetClientCredentials(id, secret string) error {
	m.creds.ClientID, m.creds.ClientSecret = id, secret
	return nil
}

func (m *memStore) SetAccessToken(token string, expiry time.Time) error {
	m.creds.AccessToken, m.creds.Expiry = token, expiry
	return nil
}

func (m *memStore) SetRefreshToken(token string) error {
	m.creds.RefreshToken = token
	return nil
}

func (m *memStore) ClearTokens() error {
	m.creds.AccessToken, m.creds.RefreshToken, m.creds.Expiry = "", "", time.Time{}
	return nil
}

func (m *memStore) ClearAll() error {
	m.creds, m.pending = auth.Credentials{}, ""
	return nil
}

func (m *memStore) PendingState() (string, error)  { return m.pending, nil }
func (m *memStore) SetPendingState(s string) error { m.pending = s; return nil }
func (m *memStore) ClearPendingState() error       { m.pending = ""; return nil }

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}

func TestAuthorizationURLRequiresClientID(t *testing.T) {
	t.Parallel()
	c := NewClient(ClientOptions{Store: &memStore{}})
	if _, err := c.AuthorizationURL(); !errors.Is(err, ErrMissingClientID) {
		t.Fatalf("got %v want ErrMissingClientID", err)
	}
}

func TestAuthorizationURLIssuesPendingState(t *testing.T) {
	t.Parallel()
	store := &memStore{creds: auth.Credentials{ClientID: "cid", ClientSecret: "secret"}}
	c := NewClient(ClientOptions{
		Store:       store,
		RedirectURL: "http://127.0.0.1:8417/oauth2/callback",
		NewState:    func() string { return "state-123" },
	})
	raw, err := c.AuthorizationURL()
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":     "cid",
		"redirect_uri":  "http://127.0.0.1:8417/oauth2/callback",
		"response_type": "code",
		"scope":         ScopeCalendarReadonly,
		"access_type":   "offline",
		"prompt":        "consent",
		"state":         "state-123",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Fatalf("param %s: got %q want %q", key, got, value)
		}
	}
	if store.pending != "state-123" {
		t.Fatalf("pending state not stored: %q", store.pending)
	}
}

func TestExchangeStoresTokensAndExpiry(t *testing.T) {
	t.Parallel()
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	store := &memStore{
		creds:   auth.Credentials{ClientID: "cid", ClientSecret: "secret"},
		pending: "state-123",
	}
	c := NewClient(ClientOptions{
		Store:       store,
		RedirectURL: "http://127.0.0.1:8417/oauth2/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		Now:         fixedNow,
	})
	if err := c.Exchange(context.Background(), "code-1", "state-123"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	wantForm := map[string]string{
		"client_id":     "cid",
		"client_secret": "secret",
		"code":          "code-1",
		"grant_type":    "authorization_code",
		"redirect_uri":  "http://127.0.0.1:8417/oauth2/callback",
	}
	for key, value := range wantForm {
		if got := gotForm.Get(key); got != value {
			t.Fatalf("form %s: got %q want %q", key, got, value)
		}
	}
	if store.creds.AccessToken != "at-new" || store.creds.RefreshToken != "rt-new" {
		t.Fatalf("tokens not stored: %+v", store.creds)
	}
	if want := fixedNow().Add(3600 * time.Second); !store.creds.Expiry.Equal(want) {
		t.Fatalf("expiry got %v want %v", store.creds.Expiry, want)
	}
	if store.pending != "" {
		t.Fatalf("pending state not cleared: %q", store.pending)
	}
}

func TestExchangeRejectsMismatchedState(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"access_token":"at-new","expires_in":3600}`)
	}))
	defer srv.Close()

	store := &memStore{
		creds:   auth.Credentials{ClientID: "cid"},
		pending: "state-issued",
	}
	c := NewClient(ClientOptions{
		Store:    store,
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
	})
	if err := c.Exchange(context.Background(), "code-1", "state-forged"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("got %v want ErrInvalidState", err)
	}
	if hits != 0 {
		t.Fatalf("token endpoint reached %d times on state mismatch", hits)
	}
	if store.pending != "" {
		t.Fatal("pending state must be consumed by a failed attempt")
	}
	if store.creds.AccessToken != "" {
		t.Fatalf("tokens stored on mismatch: %+v", store.creds)
	}
}

func TestExchangeRejectsReusedState(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600}`)
	}))
	defer srv.Close()

	store := &memStore{
		creds:   auth.Credentials{ClientID: "cid"},
		pending: "state-123",
	}
	c := NewClient(ClientOptions{
		Store:    store,
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		Now:      fixedNow,
	})
	if err := c.Exchange(context.Background(), "code-1", "state-123"); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if err := c.Exchange(context.Background(), "code-1", "state-123"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("got %v want ErrInvalidState on reuse", err)
	}
	if hits != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", hits)
	}
}

func TestExchangeFailsOnErrorResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Bad Request"}`)
	}))
	defer srv.Close()

	store := &memStore{
		creds:   auth.Credentials{ClientID: "cid"},
		pending: "state-123",
	}
	c := NewClient(ClientOptions{
		Store:    store,
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
	})
	if err := c.Exchange(context.Background(), "code-1", "state-123"); !errors.Is(err, ErrTokenExchangeFailed) {
		t.Fatalf("got %v want ErrTokenExchangeFailed", err)
	}
	if store.creds.AccessToken != "" {
		t.Fatalf("tokens stored on failure: %+v", store.creds)
	}
	if store.pending != "" {
		t.Fatal("pending state must be consumed by a failed attempt")
	}
}

func TestRefreshRequiresRefreshToken(t *testing.T) {
	t.Parallel()
	c := NewClient(ClientOptions{Store: &memStore{creds: auth.Credentials{ClientID: "cid"}}})
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("got %v want ErrNotAuthenticated", err)
	}
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	t.Parallel()
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","expires_in":1800,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	store := &memStore{creds: auth.Credentials{ClientID: "cid", ClientSecret: "secret", RefreshToken: "rt-old"}}
	c := NewClient(ClientOptions{
		Store:    store,
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		Now:      fixedNow,
	})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if gotForm.Get("grant_type") != "refresh_token" || gotForm.Get("refresh_token") != "rt-old" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
	if store.creds.AccessToken != "at-new" {
		t.Fatalf("access token got %q want %q", store.creds.AccessToken, "at-new")
	}
	if store.creds.RefreshToken != "rt-old" {
		t.Fatalf("refresh token got %q want %q", store.creds.RefreshToken, "rt-old")
	}
	if want := fixedNow().Add(1800 * time.Second); !store.creds.Expiry.Equal(want) {
		t.Fatalf("expiry got %v want %v", store.creds.Expiry, want)
	}
}

func TestRefreshStoresRotatedRefreshToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600}`)
	}))
	defer srv.Close()

	store := &memStore{creds: auth.Credentials{ClientID: "cid", RefreshToken: "rt-old"}}
	c := NewClient(ClientOptions{
		Store:    store,
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		Now:      fixedNow,
	})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.creds.RefreshToken != "rt-new" {
		t.Fatalf("refresh token got %q want %q", store.creds.RefreshToken, "rt-new")
	}
}

func TestRefreshFailureClearsTokens(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	store := &memStore{creds: auth.Credentials{
		ClientID:     "cid",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		Expiry:       fixedNow().Add(-time.Minute),
	}}
	c := NewClient(ClientOptions{
		Store:    store,
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		Now:      fixedNow,
	})
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if store.creds.AccessToken != "" || store.creds.RefreshToken != "" {
		t.Fatalf("tokens survived failed refresh: %+v", store.creds)
	}
	if store.creds.ClientID != "cid" {
		t.Fatal("client id must survive a failed refresh")
	}
	if c.IsAuthenticated() {
		t.Fatal("expected unauthenticated after failed refresh")
	}
}
