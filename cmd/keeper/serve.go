package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper"
	"github.com/wilologistics/keeper/fx/keeperfx"
	"github.com/wilologistics/keeper/internal/config"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/stats/prometheus"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled backups, cache sweeping and health checks, and serve metrics",
	Long: `Run the keeper as a long-lived process: the daily backup scheduler,
the cache sweeper, the health monitor, and an HTTP listener with:

  /metrics   Prometheus metrics
  /healthz   health report (503 when a critical check fails)
  /cache     cache statistics as JSON
  /backups   archive list as JSON`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "addr", "", "listen address (default metrics.addr from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	collector := prometheus.New(nil, prometheus.WithConstLabels(map[string]string{"service": "keeper"}))

	app := fx.New(
		fx.Supply(
			keeperfx.Config{ConfigPath: configPath, RootDir: rootDir},
			logger,
		),
		keeperfx.Module,
		fx.Decorate(func(stats.Collector) stats.Collector { return collector }),
		fx.Invoke(func(lc fx.Lifecycle, k *keeper.Keeper, c *config.Config) {
			registerServer(lc, k, c, collector, logger)
		}),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
	app.Run()
	return app.Err()
}

func registerServer(lc fx.Lifecycle, k *keeper.Keeper, c *config.Config, collector *prometheus.Collector, logger *zap.Logger) {
	addr := metricsAddr
	if addr == "" {
		addr = c.String("metrics.addr", ":9090")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rep := k.Health().Status(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !rep.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(rep)
	})
	mux.HandleFunc("/cache", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, k.Cache().GlobalStats(), nil)
	})
	mux.HandleFunc("/backups", func(w http.ResponseWriter, r *http.Request) {
		infos, err := k.Backups().List(r.Context())
		serveJSON(w, infos, err)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func serveJSON(w http.ResponseWriter, v any, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
