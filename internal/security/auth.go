package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Guard authorizes control API requests against a shared token. A Guard
// with an empty token lets every request through.
type Guard struct {
	token string
}

func NewGuard(token string) Guard {
	return Guard{token: strings.TrimSpace(token)}
}

// Required reports whether requests must present the token.
func (g Guard) Required() bool { return g.token != "" }

// Allow checks the request token. Clients send it either as a bearer
// Authorization header or in X-Api-Key.
func (g Guard) Allow(r *http.Request) bool {
	if !g.Required() {
		return true
	}
	candidate := g.requestToken(r)
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.token)) == 1
}

func (g Guard) requestToken(r *http.Request) string {
	head := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(head, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(head, prefix))
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}
