package redirect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// CallbackPath is the fixed path the provider redirects back to. It must
// match the redirect URI registered with the OAuth client.
const CallbackPath = "/oauth2/callback"

const closePage = `<!DOCTYPE html>
<html>
<head><title>Calendar Alarm Bridge</title></head>
<body><p>Authorization received. You can close this window and return to the app.</p></body>
</html>
`

type Callback struct {
	Code  string
	State string
	Err   string
}

// Listener is a minimal loopback HTTP responder that captures the OAuth
// redirect. Its lifecycle is driven by the login flow: issuing a new
// authorization URL starts it, a completed exchange stops it.
type Listener struct {
	port int
	log  *slog.Logger

	mu      sync.Mutex
	httpSrv *http.Server
	addr    string
	ch      chan Callback
}

func NewListener(port int, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{port: port, log: logger}
}

// Start binds the loopback port and serves in the background. Starting an
// already-running listener is a no-op.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.httpSrv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", l.port))
	if err != nil {
		return fmt.Errorf("bind redirect listener: %w", err)
	}
	l.ch = make(chan Callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, l.handleCallback)
	l.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	l.addr = ln.Addr().String()
	srv := l.httpSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("redirect listener failed", "error", err)
		}
	}()
	return nil
}

// Await blocks until a callback arrives or the context ends.
func (l *Listener) Await(ctx context.Context) (Callback, error) {
	l.mu.Lock()
	ch := l.ch
	l.mu.Unlock()
	if ch == nil {
		return Callback{}, errors.New("redirect listener is not running")
	}
	select {
	case cb := <-ch:
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}

func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv := l.httpSrv
	l.httpSrv = nil
	l.addr = ""
	l.ch = nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address while the listener runs, or an empty string.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	cb := Callback{Code: q.Get("code"), State: q.Get("state"), Err: q.Get("error")}
	l.mu.Lock()
	ch := l.ch
	l.mu.Unlock()
	if ch != nil {
		select {
		case ch <- cb:
		default:
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, closePage)
}
