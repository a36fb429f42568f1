package auth

import (
	"fmt"
	"time"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/store"
)

const (
	keyClientID     = "google_client_id"
	keyClientSecret = "google_client_secret"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyTokenExpiry  = "token_expiry"
	keyPendingState = "oauth_pending_state"
)

type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// AccessTokenValid reports whether the access token can still be presented.
func (c Credentials) AccessTokenValid(now time.Time) bool {
	return c.AccessToken != "" && c.Expiry.After(now)
}

// Authenticated reports whether an authenticated call is possible, either
// directly or after a refresh.
func (c Credentials) Authenticated(now time.Time) bool {
	return c.AccessTokenValid(now) || c.RefreshToken != ""
}

// Store is the credential persistence port consumed by the OAuth client.
type Store interface {
	Credentials() (Credentials, error)
	SetClientCredentials(id, secret string) error
	SetAccessToken(token string, expiry time.Time) error
	SetRefreshToken(token string) error
	ClearTokens() error
	ClearAll() error
	PendingState() (string, error)
	SetPendingState(state string) error
	ClearPendingState() error
}

// TokenStore keeps credentials in the settings store. It holds no state of
// its own and performs no validation; every mutation is written through
// immediately.
type TokenStore struct {
	settings store.Store
}

func NewTokenStore(settings store.Store) *TokenStore {
	return &TokenStore{settings: settings}
}

func (s *TokenStore) Credentials() (Credentials, error) {
	var creds Credentials
	var err error
	if creds.ClientID, err = s.settings.Get(keyClientID); err != nil {
		return Credentials{}, err
	}
	if creds.ClientSecret, err = s.settings.Get(keyClientSecret); err != nil {
		return Credentials{}, err
	}
	if creds.AccessToken, err = s.settings.Get(keyAccessToken); err != nil {
		return Credentials{}, err
	}
	if creds.RefreshToken, err = s.settings.Get(keyRefreshToken); err != nil {
		return Credentials{}, err
	}
	raw, err := s.settings.Get(keyTokenExpiry)
	if err != nil {
		return Credentials{}, err
	}
	if raw != "" {
		creds.Expiry, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Credentials{}, fmt.Errorf("parse token expiry: %w", err)
		}
	}
	return creds, nil
}

func (s *TokenStore) SetClientCredentials(id, secret string) error {
	if err := s.settings.Set(keyClientID, id); err != nil {
		return err
	}
	return s.settings.Set(keyClientSecret, secret)
}

func (s *TokenStore) SetAccessToken(token string, expiry time.Time) error {
	if err := s.settings.Set(keyAccessToken, token); err != nil {
		return err
	}
	return s.settings.Set(keyTokenExpiry, expiry.Format(time.RFC3339Nano))
}

func (s *TokenStore) SetRefreshToken(token string) error {
	return s.settings.Set(keyRefreshToken, token)
}

// ClearTokens drops the token material but keeps the client credentials, so
// a fresh interactive authorization can still be started.
func (s *TokenStore) ClearTokens() error {
	for _, key := range []string{keyAccessToken, keyRefreshToken, keyTokenExpiry} {
		if err := s.settings.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *TokenStore) ClearAll() error {
	for _, key := range []string{keyClientID, keyClientSecret, keyAccessToken, keyRefreshToken, keyTokenExpiry, keyPendingState} {
		if err := s.settings.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *TokenStore) PendingState() (string, error) {
	return s.settings.Get(keyPendingState)
}

func (s *TokenStore) SetPendingState(state string) error {
	return s.settings.Set(keyPendingState, state)
}

func (s *TokenStore) ClearPendingState() error {
	return s.settings.Remove(keyPendingState)
}
