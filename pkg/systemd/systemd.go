// Package systemd wraps the sd_notify protocol. Every call is a no-op when the
// process was not started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports READY=1. It returns false when no notify socket is set.
func Ready() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping reports STOPPING=1.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status sets the free-form STATUS= line shown by systemctl status.
func Status(msg string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+msg)
}

// Ping sends one WATCHDOG=1 keepalive.
func Ping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}

// WatchdogInterval returns how often Ping should be sent: half the unit's
// WatchdogSec, or 0 when the watchdog is disabled.
func WatchdogInterval() (time.Duration, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, err
	}
	return d / 2, nil
}
