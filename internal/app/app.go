package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/alarm"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/api"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/auth"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/config"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/googlecal"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/redirect"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/scheduler"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/security"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/store"
	"github.com/sevenofnine/calendar-alarm-bridge/internal/tray"
)

// loginTimeout bounds how long a started authorization waits for the browser
// redirect before the listener is torn down again.
const loginTimeout = 5 * time.Minute

// Application wires the stores, the Google client, the redirect listener and
// the scheduler together and runs them behind the control API.
type Application struct {
	cfg config.Config
	log *slog.Logger

	db        *bolt.DB
	tokens    *auth.TokenStore
	client    *googlecal.Client
	alarms    *alarm.BoltStore
	scheduler *scheduler.Scheduler
	listener  *redirect.Listener

	loginMu     sync.Mutex
	loginCancel context.CancelFunc
}

func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	settings, err := store.NewSettings(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	tokens := auth.NewTokenStore(settings)
	if cfg.GoogleClientID != "" {
		if err := tokens.SetClientCredentials(cfg.GoogleClientID, cfg.GoogleClientSecret); err != nil {
			db.Close()
			return nil, err
		}
	}

	client := googlecal.NewClient(googlecal.ClientOptions{
		Store:       tokens,
		RedirectURL: fmt.Sprintf("http://127.0.0.1:%d%s", cfg.RedirectPort, redirect.CallbackPath),
		HTTPClient:  &http.Client{Timeout: cfg.RequestTimeout},
		Timeout:     cfg.RequestTimeout,
	})

	alarms, err := alarm.NewBoltStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Options{
		Events:             client,
		Alarms:             alarms,
		Settings:           settings,
		Logger:             logger,
		GuestFilterDefault: cfg.OnlyEventsWithGuests,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Application{
		cfg:       cfg,
		log:       logger,
		db:        db,
		tokens:    tokens,
		client:    client,
		alarms:    alarms,
		scheduler: sched,
		listener:  redirect.NewListener(cfg.RedirectPort, logger),
	}, nil
}

func (a *Application) Close() error {
	return a.db.Close()
}

// BeginLogin issues a fresh authorization URL, starts the redirect listener
// and finishes the exchange in the background once the browser comes back.
// A login already in flight is abandoned in favor of the new attempt.
func (a *Application) BeginLogin(ctx context.Context) (string, error) {
	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if a.loginCancel != nil {
		a.loginCancel()
		a.loginCancel = nil
	}

	authURL, err := a.client.AuthorizationURL()
	if err != nil {
		return "", err
	}
	if err := a.listener.Start(); err != nil {
		return "", err
	}

	loginCtx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	a.loginCancel = cancel
	go a.completeLogin(loginCtx)

	a.log.Info("authorization started", "listener", a.listener.Addr())
	return authURL, nil
}

func (a *Application) completeLogin(ctx context.Context) {
	cb, err := a.listener.Await(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded by a newer attempt that owns the listener now.
			return
		}
		a.stopListener()
		a.log.Warn("authorization callback not received", "error", err)
		return
	}
	a.stopListener()

	if cb.Err != "" {
		a.log.Warn("authorization rejected", "error", cb.Err)
		return
	}
	exchCtx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	if err := a.client.Exchange(exchCtx, cb.Code, cb.State); err != nil {
		a.log.Warn("code exchange failed", "error", err)
		return
	}
	a.log.Info("google authorization complete")
}

func (a *Application) stopListener() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.listener.Stop(ctx)
}

// Logout disables the sync, wipes the stored session and reseeds the client
// credentials from the environment so a new login can start right away.
func (a *Application) Logout(ctx context.Context) error {
	a.loginMu.Lock()
	if a.loginCancel != nil {
		a.loginCancel()
		a.loginCancel = nil
	}
	a.loginMu.Unlock()

	if err := a.scheduler.Disable(); err != nil {
		return err
	}
	if err := a.tokens.ClearAll(); err != nil {
		return err
	}
	if a.cfg.GoogleClientID != "" {
		if err := a.tokens.SetClientCredentials(a.cfg.GoogleClientID, a.cfg.GoogleClientSecret); err != nil {
			return err
		}
	}
	a.log.Info("logged out")
	return nil
}

func (a *Application) Run(ctx context.Context) error {
	server := api.New(api.Options{
		Scheduler: a.scheduler,
		Auth:      a,
		Alarms:    a.alarms,
		Guard:     security.NewGuard(a.cfg.APIToken),
		Logger:    a.log,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)
	wg := sync.WaitGroup{}

	if a.cfg.BindAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := server.ServeTCP(ctx, a.cfg.BindAddress)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}
	if a.cfg.UnixSocketPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := server.ServeUnix(ctx, a.cfg.UnixSocketPath)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("unix server: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if a.cfg.EnableTray {
		tr := tray.New(tray.Options{
			Title:    "Calendar Alarm Bridge",
			Controls: a.scheduler,
			Quit:     cancel,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Run(ctx); err != nil {
				errCh <- fmt.Errorf("tray: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	case <-ctx.Done():
		wg.Wait()
		return nil
	}
}
