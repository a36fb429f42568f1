package scheduler

import (
	"strings"
	"time"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/domain"
)

// deriveAlarms converts the day's events into one-shot alarms firing two
// minutes before each start. Events are skipped when they fail the guest
// filter, have no resolvable start, or would produce an alarm that is not
// strictly in the future.
func deriveAlarms(events []domain.Event, now time.Time, guestsOnly bool, newID func() string) []domain.Alarm {
	var out []domain.Alarm
	for _, ev := range events {
		if guestsOnly && !eventHasGuest(ev) {
			continue
		}
		if ev.Start.IsZero() {
			continue
		}
		if !ev.Start.After(now) {
			continue
		}
		alarmAt := ev.Start.Add(-2 * time.Minute)
		if !alarmAt.After(now) {
			continue
		}
		local := alarmAt.In(time.Local)
		out = append(out, domain.Alarm{
			ID:              newID(),
			Hour:            local.Hour(),
			Minute:          local.Minute(),
			Enabled:         true,
			CalendarDerived: true,
			SourceTitle:     strings.TrimSpace(ev.Title),
		})
	}
	return out
}

// eventHasGuest reports whether at least one attendee other than the user
// has not declined.
func eventHasGuest(ev domain.Event) bool {
	for _, a := range ev.Attendees {
		if a.Self {
			continue
		}
		if a.ResponseStatus == domain.ResponseDeclined {
			continue
		}
		return true
	}
	return false
}
