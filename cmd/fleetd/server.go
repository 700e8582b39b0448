package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/pkg/api"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the coordination server",
	Long: `Run the coordination server agents poll for commands and report to.

Statuses and reports are kept in a bbolt database under --data-dir.`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.String("listen", "0.0.0.0:8080", "Address for the HTTP API")
	f.String("socket", "", "Unix socket for a read-only API (optional)")
	f.String("data-dir", "/var/lib/fleetd/server", "Data directory for server state")
	f.Duration("max-poll", api.MaxPollTimeout, "Longest a poll may be held open")
	f.Int("report-retention", api.DefaultReportRetention, "Reports kept per host")

	for key, flag := range map[string]string{
		"listen":           "listen",
		"api-socket":       "socket",
		"data-dir":         "data-dir",
		"max-poll":         "max-poll",
		"report-retention": "report-retention",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	store, err := storage.NewBoltStore(viper.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.SetCritical("storage")
	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	srv := api.NewServer(store, api.Options{
		MaxPollTimeout:  viper.GetDuration("max-poll"),
		ReportRetention: viper.GetInt("report-retention"),
	})

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(viper.GetString("listen")); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	if socket := viper.GetString("api-socket"); socket != "" {
		go func() {
			if err := srv.StartReadOnly(socket); err != nil {
				errCh <- fmt.Errorf("read-only API error: %w", err)
			}
		}()
	}

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("Graceful stop failed")
	}
	return runErr
}
