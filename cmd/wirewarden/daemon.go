package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wirewarden/daemon"
	"wirewarden/internal/logging"
	"wirewarden/platform"
)

func daemonCmd(debug *bool) *cobra.Command {
	var (
		configPath string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the reconcile daemon (systemd entrypoint)",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if *debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level, logging.FormatText); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return daemon.Run(ctx, daemon.Options{
				ConfigPath: configPath,
				Interval:   interval,
				Platform:   platform.NewWireGuard(),
				Fetcher:    daemon.NewClient(),
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", daemon.DefaultConfigPath, "Path to the configuration file")
	cmd.Flags().DurationVarP(&interval, "interval", "i", daemon.DefaultInterval, "Polling interval")
	return cmd
}
