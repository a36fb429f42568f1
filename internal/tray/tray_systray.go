//go:build systray

package tray

import (
	"context"

	"github.com/getlantern/systray"
)

type Systray struct {
	opts Options
}

func New(opts Options) App {
	if opts.Title == "" {
		opts.Title = "Calendar Alarm Bridge"
	}
	return &Systray{opts: opts}
}

func (s *Systray) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() {
		systray.SetTitle(s.opts.Title)
		mSync := systray.AddMenuItem("Sync now", "Refresh today's alarms from the calendar")
		mEnable := systray.AddMenuItem("Enable sync", "Turn the daily calendar sync on")
		mDisable := systray.AddMenuItem("Disable sync", "Turn the daily calendar sync off")
		systray.AddSeparator()
		mQuit := systray.AddMenuItem("Quit", "Quit Calendar Alarm Bridge")
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-mSync.ClickedCh:
					if s.opts.Controls != nil {
						_, _ = s.opts.Controls.SyncNow(ctx)
					}
				case <-mEnable.ClickedCh:
					if s.opts.Controls != nil {
						_ = s.opts.Controls.Enable(ctx)
					}
				case <-mDisable.ClickedCh:
					if s.opts.Controls != nil {
						_ = s.opts.Controls.Disable()
					}
				case <-mQuit.ClickedCh:
					if s.opts.Quit != nil {
						s.opts.Quit()
					}
					systray.Quit()
					return
				}
			}
		}()
	}, func() {
		close(done)
	})
	<-done
	return nil
}
