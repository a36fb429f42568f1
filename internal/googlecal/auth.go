package googlecal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type tokenErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// AuthorizationURL issues a fresh CSRF state, persists it as the pending
// authorization, and returns the Google consent URL. access_type=offline and
// prompt=consent force a refresh token to be issued on every authorization.
func (c *Client) AuthorizationURL() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, err := c.store.Credentials()
	if err != nil {
		return "", err
	}
	if creds.ClientID == "" {
		return "", ErrMissingClientID
	}
	state := c.newState()
	if err := c.store.SetPendingState(state); err != nil {
		return "", err
	}
	cfg := c.oauthConfig(creds)
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// Exchange trades an authorization code for tokens. The pending state is
// consumed by the attempt whatever its outcome, so a nonce can never be
// presented twice.
func (c *Client) Exchange(ctx context.Context, code, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, err := c.store.PendingState()
	if err != nil {
		return err
	}
	if err := c.store.ClearPendingState(); err != nil {
		return err
	}
	if pending == "" || state != pending {
		return ErrInvalidState
	}
	creds, err := c.store.Credentials()
	if err != nil {
		return err
	}
	if creds.ClientID == "" {
		return ErrMissingClientID
	}
	form := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURL},
	}
	tok, err := c.postTokenForm(ctx, form)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	return c.storeToken(tok)
}

// Refresh trades the stored refresh token for a new access token. Any
// failure ends the session: the stored tokens are cleared and a fresh
// interactive authorization is required.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	creds, err := c.store.Credentials()
	if err != nil {
		return err
	}
	if creds.RefreshToken == "" {
		return ErrNotAuthenticated
	}
	form := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"refresh_token": {creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	tok, err := c.postTokenForm(ctx, form)
	if err != nil {
		if clearErr := c.store.ClearTokens(); clearErr != nil {
			return fmt.Errorf("clear tokens after failed refresh: %w", clearErr)
		}
		return fmt.Errorf("refresh token: %w", err)
	}
	return c.storeToken(tok)
}

func (c *Client) storeToken(tok tokenResponse) error {
	expiry := c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := c.store.SetAccessToken(tok.AccessToken, expiry); err != nil {
		return err
	}
	// Google does not reissue the refresh token on every response; keep the
	// stored one unless a new one arrives.
	if tok.RefreshToken != "" {
		if err := c.store.SetRefreshToken(tok.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) postTokenForm(ctx context.Context, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("post token endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr tokenErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return tokenResponse{}, fmt.Errorf("status %d: %s: %s", resp.StatusCode, apiErr.Code, apiErr.Description)
		}
		return tokenResponse{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("no access token in response")
	}
	return tok, nil
}
