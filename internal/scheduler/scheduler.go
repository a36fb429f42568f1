package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/alarm"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/domain"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/store"
)

const (
	keyEnabled    = "sync_enabled"
	keyGuestsOnly = "only_events_with_guests"
	keyLastSync   = "last_sync"
)

// EventSource provides today's calendar events and the session state the
// scheduler gates on.
type EventSource interface {
	FetchTodayEvents(ctx context.Context) ([]domain.Event, error)
	IsAuthenticated() bool
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Enabled              bool       `json:"enabled"`
	Authenticated        bool       `json:"authenticated"`
	OnlyEventsWithGuests bool       `json:"only_events_with_guests"`
	LastSync             *time.Time `json:"last_sync,omitempty"`
	NextCheck            *time.Time `json:"next_check,omitempty"`
}

// Scheduler keeps the alarm store in step with the calendar. It syncs once
// whenever sync is enabled and again shortly after every local midnight.
type Scheduler struct {
	events   EventSource
	alarms   alarm.Store
	settings store.Store
	log      *slog.Logger
	now      func() time.Time
	newTimer func(time.Duration) timer
	newID    func() string

	mu         sync.Mutex
	enabled    bool
	guestsOnly bool
	lastSync   time.Time
	nextCheck  time.Time

	// syncMu serializes syncs; a sync requested while one is in flight is
	// dropped rather than queued.
	syncMu sync.Mutex

	rearm chan struct{}
}

// Options configures a Scheduler. Events, Alarms and Settings are required.
type Options struct {
	Events   EventSource
	Alarms   alarm.Store
	Settings store.Store
	Logger   *slog.Logger
	Now      func() time.Time

	// GuestFilterDefault applies until a guest filter value has been
	// persisted.
	GuestFilterDefault bool
}

type timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realTimer struct{ *time.Timer }

func (t realTimer) C() <-chan time.Time { return t.Timer.C }

func newRealTimer(d time.Duration) timer { return realTimer{time.NewTimer(d)} }

// New builds a Scheduler, restores its persisted state and deletes
// calendar-derived alarms whose time of day has already passed.
func New(opts Options) (*Scheduler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		events:   opts.Events,
		alarms:   opts.Alarms,
		settings: opts.Settings,
		log:      logger,
		now:      now,
		newTimer: newRealTimer,
		newID:    uuid.NewString,
		rearm:    make(chan struct{}, 1),
	}
	if err := s.loadState(opts.GuestFilterDefault); err != nil {
		return nil, err
	}
	s.cleanupStale()
	return s, nil
}

func (s *Scheduler) loadState(guestDefault bool) error {
	enabled, err := s.getBool(keyEnabled, false)
	if err != nil {
		return err
	}
	guestsOnly, err := s.getBool(keyGuestsOnly, guestDefault)
	if err != nil {
		return err
	}
	raw, err := s.settings.Get(keyLastSync)
	if err != nil {
		return fmt.Errorf("get %s: %w", keyLastSync, err)
	}
	var lastSync time.Time
	if raw != "" {
		lastSync, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.log.Warn("ignoring invalid setting", "key", keyLastSync, "value", raw)
			lastSync = time.Time{}
		}
	}
	s.mu.Lock()
	s.enabled = enabled
	s.guestsOnly = guestsOnly
	s.lastSync = lastSync
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) getBool(key string, fallback bool) (bool, error) {
	raw, err := s.settings.Get(key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.log.Warn("ignoring invalid setting", "key", key, "value", raw)
		return fallback, nil
	}
	return v, nil
}

// cleanupStale removes derived alarms left over from a previous day. Derived
// alarms carry only a time of day, so anything earlier than the current wall
// clock cannot belong to the remainder of today.
func (s *Scheduler) cleanupStale() {
	existing, err := s.alarms.List()
	if err != nil {
		s.log.Warn("startup alarm cleanup failed", "error", err)
		return
	}
	now := s.now()
	nowMinutes := now.Hour()*60 + now.Minute()
	for _, a := range existing {
		if !a.CalendarDerived {
			continue
		}
		if a.Hour*60+a.Minute >= nowMinutes {
			continue
		}
		if err := s.alarms.Delete(a.ID); err != nil {
			s.log.Warn("deleting stale alarm failed", "id", a.ID, "error", err)
			continue
		}
		s.log.Info("deleted stale calendar alarm", "id", a.ID, "hour", a.Hour, "minute", a.Minute)
	}
}

// Status reports the current scheduler state.
func (s *Scheduler) Status() Status {
	authed := s.events.IsAuthenticated()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:              s.enabled,
		Authenticated:        authed,
		OnlyEventsWithGuests: s.guestsOnly,
	}
	if !s.lastSync.IsZero() {
		t := s.lastSync
		st.LastSync = &t
	}
	if !s.nextCheck.IsZero() {
		t := s.nextCheck
		st.NextCheck = &t
	}
	return st
}

// Enable turns the daily sync on and runs one sync right away. Without an
// authenticated session it does nothing.
func (s *Scheduler) Enable(ctx context.Context) error {
	if !s.events.IsAuthenticated() {
		s.log.Info("sync enable ignored: not authenticated")
		return nil
	}
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	if err := s.settings.Set(keyEnabled, "true"); err != nil {
		return fmt.Errorf("persist %s: %w", keyEnabled, err)
	}
	s.requestRearm()
	if _, err := s.SyncNow(ctx); err != nil {
		s.log.Warn("sync after enable failed", "error", err)
	}
	return nil
}

// Disable turns the daily sync off and deletes every calendar-derived alarm,
// whatever day it was created for.
func (s *Scheduler) Disable() error {
	s.mu.Lock()
	s.enabled = false
	s.nextCheck = time.Time{}
	s.mu.Unlock()
	if err := s.settings.Set(keyEnabled, "false"); err != nil {
		return fmt.Errorf("persist %s: %w", keyEnabled, err)
	}
	s.requestRearm()
	deleted, err := s.alarms.DeleteAllWhere(func(a domain.Alarm) bool { return a.CalendarDerived })
	if err != nil {
		return fmt.Errorf("delete derived alarms: %w", err)
	}
	if deleted > 0 {
		s.log.Info("removed calendar alarms", "count", deleted)
	}
	return nil
}

// SetGuestFilter controls whether only events with at least one accepted
// guest produce alarms. The change takes effect on the next sync.
func (s *Scheduler) SetGuestFilter(enabled bool) error {
	s.mu.Lock()
	s.guestsOnly = enabled
	s.mu.Unlock()
	if err := s.settings.Set(keyGuestsOnly, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("persist %s: %w", keyGuestsOnly, err)
	}
	return nil
}

// SyncNow runs a sync immediately. It reports false when another sync is in
// flight or the scheduler is disabled or unauthenticated.
func (s *Scheduler) SyncNow(ctx context.Context) (bool, error) {
	if !s.syncMu.TryLock() {
		return false, nil
	}
	defer s.syncMu.Unlock()
	return s.syncTodayAlarms(ctx)
}

// syncTodayAlarms replaces all derived alarms with ones for today's
// remaining events. Callers must hold syncMu.
func (s *Scheduler) syncTodayAlarms(ctx context.Context) (bool, error) {
	s.mu.Lock()
	enabled, guestsOnly := s.enabled, s.guestsOnly
	s.mu.Unlock()
	if !enabled || !s.events.IsAuthenticated() {
		return false, nil
	}

	purged, err := s.alarms.DeleteAllWhere(func(a domain.Alarm) bool { return a.CalendarDerived })
	if err != nil {
		return false, fmt.Errorf("purge derived alarms: %w", err)
	}
	if purged > 0 {
		s.log.Debug("purged derived alarms", "count", purged)
	}

	events, err := s.events.FetchTodayEvents(ctx)
	if err != nil {
		// The purge already ran: a failed fetch leaves zero derived alarms
		// until the next successful sync.
		return true, fmt.Errorf("fetch events: %w", err)
	}

	derived := deriveAlarms(events, s.now(), guestsOnly, s.newID)
	inserted := 0
	for _, a := range derived {
		if err := s.alarms.Add(a); err != nil {
			s.log.Warn("adding derived alarm failed", "title", a.SourceTitle, "error", err)
			continue
		}
		inserted++
	}

	syncedAt := s.now()
	s.mu.Lock()
	s.lastSync = syncedAt
	s.mu.Unlock()
	if err := s.settings.Set(keyLastSync, syncedAt.Format(time.RFC3339Nano)); err != nil {
		return true, fmt.Errorf("persist %s: %w", keyLastSync, err)
	}
	s.log.Info("calendar sync complete", "events", len(events), "alarms", inserted)
	return true, nil
}

// Run owns the midnight timer until the context ends. When the scheduler
// starts out enabled it syncs once immediately, so a restart mid-day still
// produces alarms for the rest of the day.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if enabled {
		if _, err := s.SyncNow(ctx); err != nil {
			s.log.Warn("startup sync failed", "error", err)
		}
	}

	for {
		s.mu.Lock()
		enabled := s.enabled
		s.mu.Unlock()

		var t timer
		var fire <-chan time.Time
		if enabled {
			now := s.now()
			next := nextMidnight(now)
			s.mu.Lock()
			s.nextCheck = next
			s.mu.Unlock()
			t = s.newTimer(next.Sub(now))
			fire = t.C()
			s.log.Debug("midnight check armed", "at", next)
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return nil
		case <-s.rearm:
			if t != nil {
				t.Stop()
			}
		case <-fire:
			if _, err := s.SyncNow(ctx); err != nil {
				s.log.Warn("scheduled sync failed", "error", err)
			}
		}
	}
}

// requestRearm wakes the Run loop so it recomputes its timer.
func (s *Scheduler) requestRearm() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// nextMidnight returns the first moment of the next local day plus a one
// second guard.
func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 1, 0, now.Location())
}
