//go:build linux

// Package sysd wraps the systemd readiness protocol. Outside linux (and
// outside systemd units) every call is a silent no-op.
package sysd

import "github.com/coreos/go-systemd/v22/daemon"

// NotifyReady tells systemd the service finished starting up.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd the service began shutting down.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
