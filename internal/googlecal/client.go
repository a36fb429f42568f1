package googlecal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/auth"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/domain"
)

const ScopeCalendarReadonly = "https://www.googleapis.com/auth/calendar.readonly"

// EventsAPI lists the primary calendar's events for a day window using the
// given access token. ErrUnauthorized signals a rejected token.
type EventsAPI interface {
	ListDay(ctx context.Context, accessToken string, from, to time.Time) ([]domain.Event, error)
}

// Client owns the OAuth lifecycle against Google and the authenticated event
// fetches. Credential mutation is serialized with a single mutex so a login,
// a refresh, and a fetch cannot interleave their store writes.
type Client struct {
	store       auth.Store
	events      EventsAPI
	http        *http.Client
	endpoint    oauth2.Endpoint
	redirectURL string
	now         func() time.Time
	newState    func() string

	mu sync.Mutex
}

type ClientOptions struct {
	Store       auth.Store
	RedirectURL string

	// Events overrides the production calendar lister.
	Events EventsAPI
	// HTTPClient is used for token endpoint calls.
	HTTPClient *http.Client
	// Endpoint overrides the Google OAuth endpoints.
	Endpoint oauth2.Endpoint
	// CalendarURL overrides the calendar API base URL.
	CalendarURL string
	// Timeout bounds each calendar request when Events is not overridden.
	Timeout time.Duration

	Now      func() time.Time
	NewState func() string
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newState := opts.NewState
	if newState == nil {
		newState = uuid.NewString
	}
	events := opts.Events
	if events == nil {
		events = &calendarAPI{baseURL: opts.CalendarURL, timeout: opts.Timeout}
	}
	return &Client{
		store:       opts.Store,
		events:      events,
		http:        httpClient,
		endpoint:    endpoint,
		redirectURL: opts.RedirectURL,
		now:         now,
		newState:    newState,
	}
}

// IsAuthenticated reports whether an authenticated call is currently
// possible, directly or after a refresh.
func (c *Client) IsAuthenticated() bool {
	creds, err := c.store.Credentials()
	if err != nil {
		return false
	}
	return creds.Authenticated(c.now())
}

func (c *Client) oauthConfig(creds auth.Credentials) oauth2.Config {
	return oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  c.redirectURL,
		Scopes:       []string{ScopeCalendarReadonly},
	}
}
