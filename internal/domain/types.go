package domain

import "time"

const (
	ResponseAccepted    = "accepted"
	ResponseTentative   = "tentative"
	ResponseNeedsAction = "needsAction"
	ResponseDeclined    = "declined"
	ResponseUnknown     = "unknown"
)

type Attendee struct {
	Self           bool   `json:"self"`
	ResponseStatus string `json:"response_status"`
}

type Event struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	AllDay    bool       `json:"all_day"`
	Attendees []Attendee `json:"attendees,omitempty"`
}

type Alarm struct {
	ID              string         `json:"id"`
	Hour            int            `json:"hour"`
	Minute          int            `json:"minute"`
	Enabled         bool           `json:"enabled"`
	CalendarDerived bool           `json:"calendar_derived"`
	SourceTitle     string         `json:"source_title,omitempty"`
	Weekdays        []time.Weekday `json:"weekdays,omitempty"`
}
