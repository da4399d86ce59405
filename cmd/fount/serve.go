package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"

	"fount/config"
	"fount/internal/control"
	"fount/internal/logging"
)

func serveCmd(debug *bool) *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway against the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Configure(cfg.LogLevel, *debug); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "fount.yaml", "Path to the gateway config file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("gateway starting", "store", cfg.Store.Address, "project", cfg.Project)
	gw := control.NewProduction(cfg)
	defer gw.Close(nil)

	if metricsAddr != "" {
		srv := startMetrics(metricsAddr)
		defer srv.Shutdown(context.Background())
	}

	// The connection and feeds converge on their own schedule; the log line
	// is the operator's cue that the store is reachable and bootstrapped.
	go func() {
		if err := gw.WaitSynced(ctx); err == nil {
			slog.Info("metadata synced, serving")
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "addr", addr, "err", err)
		}
	}()
	return srv
}
