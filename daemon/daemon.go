// Package daemon polls the control plane for desired state and reconciles
// the host's WireGuard interfaces against it. One config entry corresponds
// to one managed interface; identity is derived from the interface's
// private key, never from the entry's position in the file.
package daemon

import (
	"context"
	"log/slog"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
)

// DefaultInterval is the pause between reconcile cycles.
const DefaultInterval = 30 * time.Second

// Options configures the run loop.
type Options struct {
	// ConfigPath is the TOML entries file, reread every cycle. Defaults to
	// DefaultConfigPath.
	ConfigPath string
	// Interval between cycles. Defaults to DefaultInterval.
	Interval time.Duration
	// Platform drives the kernel. Required.
	Platform Platform
	// Fetcher retrieves desired state. Defaults to NewClient().
	Fetcher Fetcher
}

// Run reconciles until ctx is cancelled, then tears down every managed
// interface before returning. A failed cycle is logged and retried on the
// next tick; only an unreadable config at startup is fatal.
func Run(ctx context.Context, opts Options) error {
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewClient()
	}

	file, err := Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if len(file.Servers) == 0 {
		slog.Warn("No servers configured; use `wirewarden connect` to add one.")
	} else {
		slog.Info("Loaded server configuration.", "servers", len(file.Servers))
	}

	r := NewReconciler(opts.Platform, opts.Fetcher)
	ready := false

	for {
		kept, err := r.Reconcile(ctx, file.Servers)
		if err != nil {
			slog.Error("reconcile cycle failed", "err", err)
		} else if len(kept) != len(file.Servers) {
			file.Servers = kept
			if err := Save(opts.ConfigPath, file); err != nil {
				slog.Error("save config after dropping entries", "err", err)
			} else {
				slog.Info("Config rewritten without gone servers.", "servers", len(kept))
			}
		}

		// Notify systemd once the first cycle has run; from here on the
		// host's tunnels track desired state.
		if !ready {
			ready = true
			if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
				slog.Error("Failed to notify systemd that the daemon is ready.", "err", err)
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("Shutting down, removing managed interfaces.")
			_, _ = systemd.SdNotify(false, systemd.SdNotifyStopping)
			r.TeardownAll()
			return nil
		case <-time.After(opts.Interval):
		}

		// Reload so entries appended by `connect` join the next cycle.
		fresh, err := Load(opts.ConfigPath)
		if err != nil {
			slog.Error("reload config failed, keeping previous", "err", err)
			continue
		}
		if len(fresh.Servers) != len(file.Servers) {
			slog.Info("Config reloaded.", "servers", len(fresh.Servers))
		}
		file = fresh
	}
}
