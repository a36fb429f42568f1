package googlecal

import "errors"

var (
	ErrMissingClientID     = errors.New("google client id is not configured")
	ErrInvalidState        = errors.New("oauth state mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrNotAuthenticated    = errors.New("not authenticated")
)

var (
	ErrNetwork      = errors.New("calendar request failed")
	ErrDecode       = errors.New("decode calendar response")
	ErrUnauthorized = errors.New("calendar request unauthorized")
)
