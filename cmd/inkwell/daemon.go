package main

import (
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkwell-app/inkwell/internal/daemon"
	"github.com/inkwell-app/inkwell/internal/dashboard"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the long-lived sync daemon",
	Long: `Run the sync daemon:

  1. Monitors backend reachability and drains the queue when it returns
  2. Nudges the engine periodically so stalled items get retried
  3. Auto-imports snapshot files dropped into the watch directory
  4. Optionally serves the status dashboard over WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		if a.cfg.Daemon.LogFile != "" {
			var w io.Writer = &lumberjack.Logger{
				Filename:   a.cfg.Daemon.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
			logger.SetOutput(w)
		}

		d, err := daemon.New(a.layer, a.engine, a.monitor, &daemon.Config{
			WatchDir:      a.cfg.Daemon.WatchDir,
			DrainInterval: a.cfg.Daemon.DrainInterval,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if withDashboard {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   a.cfg.Dashboard.Port,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer func() { _ = server.Stop() }()

			handler := dashboard.NewHandler(server, a.layer, logger)
			handler.Attach(a.engine, a.monitor)
			defer handler.Detach()
			go handler.Poll(ctx, 5*time.Second)
		}

		return d.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the status dashboard over WebSocket")
	rootCmd.AddCommand(daemonCmd)
}
