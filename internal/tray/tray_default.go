//go:build !systray

package tray

// New returns a no-op tray on builds without the systray tag.
func New(opts Options) App { return NewNoop() }
