package googlecal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/domain"
)

const (
	primaryCalendarID = "primary"

	// Query timestamps carry fractional seconds even at exact midnight.
	queryTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// FetchTodayEvents returns the primary calendar's events between the current
// local midnight and the next one. An expired access token is refreshed
// before the call; a 401 response gets exactly one refresh-and-retry, and a
// second 401 fails with ErrNotAuthenticated.
func (c *Client) FetchTodayEvents(ctx context.Context) ([]domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, err := c.ensureAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	from, to := dayWindow(c.now())
	events, err := c.events.ListDay(ctx, token, from, to)
	if err == nil {
		return events, nil
	}
	if !errors.Is(err, ErrUnauthorized) {
		return nil, err
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	creds, err := c.store.Credentials()
	if err != nil {
		return nil, err
	}
	events, err = c.events.ListDay(ctx, creds.AccessToken, from, to)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return events, nil
}

func (c *Client) ensureAccessToken(ctx context.Context) (string, error) {
	creds, err := c.store.Credentials()
	if err != nil {
		return "", err
	}
	if creds.AccessTokenValid(c.now()) {
		return creds.AccessToken, nil
	}
	if creds.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}
	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	creds, err = c.store.Credentials()
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

func dayWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// calendarAPI is the production EventsAPI over the Google Calendar v3
// service, built per call around a static token source.
type calendarAPI struct {
	baseURL string
	timeout time.Duration
}

func (g *calendarAPI) ListDay(ctx context.Context, accessToken string, from, to time.Time) ([]domain.Event, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if g.baseURL != "" {
		opts = append(opts, option.WithEndpoint(g.baseURL))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	resp, err := srv.Events.List(primaryCalendarID).
		TimeMin(from.Format(queryTimeFormat)).
		TimeMax(to.Format(queryTimeFormat)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyEventsError(err)
	}
	events := make([]domain.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev, ok := convertEvent(item)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func classifyEventsError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("%w: status %d", ErrNetwork, apiErr.Code)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func convertEvent(item *calendar.Event) (domain.Event, bool) {
	if item == nil || item.Start == nil {
		return domain.Event{}, false
	}
	var start time.Time
	var allDay bool
	switch {
	case item.Start.DateTime != "":
		t, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return domain.Event{}, false
		}
		start = t.In(time.Local)
	case item.Start.Date != "":
		t, err := time.ParseInLocation("2006-01-02", item.Start.Date, time.Local)
		if err != nil {
			return domain.Event{}, false
		}
		start = t
		allDay = true
	default:
		return domain.Event{}, false
	}
	var end *time.Time
	if item.End != nil {
		switch {
		case item.End.DateTime != "":
			if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
				local := t.In(time.Local)
				end = &local
			}
		case item.End.Date != "":
			if t, err := time.ParseInLocation("2006-01-02", item.End.Date, time.Local); err == nil {
				end = &t
			}
		}
	}
	var attendees []domain.Attendee
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		attendees = append(attendees, domain.Attendee{
			Self:           a.Self,
			ResponseStatus: normalizeResponseStatus(a.ResponseStatus),
		})
	}
	return domain.Event{
		ID:        item.Id,
		Title:     item.Summary,
		Start:     start,
		End:       end,
		AllDay:    allDay,
		Attendees: attendees,
	}, true
}

func normalizeResponseStatus(status string) string {
	switch status {
	case domain.ResponseAccepted, domain.ResponseTentative, domain.ResponseNeedsAction, domain.ResponseDeclined:
		return status
	default:
		return domain.ResponseUnknown
	}
}
