package tray

import "context"

// Controls is the subset of the scheduler exposed through the tray menu.
type Controls interface {
	Enable(ctx context.Context) error
	Disable() error
	SyncNow(ctx context.Context) (bool, error)
}

type App interface {
	Run(ctx context.Context) error
}

type Options struct {
	Title    string
	Controls Controls
	Quit     func()
}

type Noop struct{}

func NewNoop() App { return Noop{} }

func (Noop) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
