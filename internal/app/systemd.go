package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mindfulbot/internal/runtime/supervisor"
	logx "mindfulbot/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

type notifyFunc func(state string)

// sdNotify reports state to systemd. Outside a Type=notify unit it is a no-op.
func sdNotify(state string) {
	_, _ = daemon.SdNotify(false, state)
}

// startSystemd signals readiness and, when the unit sets WatchdogSec, pings
// the watchdog at half the interval for as long as the app runs.
func (a *App) startSystemd(sup *supervisor.Supervisor) {
	if a.notify == nil {
		return
	}
	a.notify(sdReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.notify(sdWatchdog)
			}
		}
	})
}
