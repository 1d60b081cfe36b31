//go:build linux

// Command irrigo-bridge reads sensor frames from a serial device and stores
// each reading. It runs until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/luhtfiimanal/irrigo-bridge/bridge"
	"github.com/luhtfiimanal/irrigo-bridge/internal/config"
	"github.com/luhtfiimanal/irrigo-bridge/serial"
	"github.com/luhtfiimanal/irrigo-bridge/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := bridge.NewMetrics(reg)

	serialCfg := cfg.SerialConfig()
	storeCfg := cfg.StoreConfig()
	sup := bridge.New(bridge.Options{
		OpenLink: func(ctx context.Context) (bridge.Link, error) {
			r, err := serial.Open(serialCfg)
			if err != nil {
				return nil, err
			}
			log.Info().Str("device", r.Device()).Int("baud", serialCfg.BaudRate).Msg("connected to device")
			return r, nil
		},
		OpenStore: func(ctx context.Context) (store.Store, error) {
			return store.Open(ctx, storeCfg)
		},
		PollTimeout:  cfg.Serial.PollTimeout,
		PollInterval: cfg.Supervisor.PollInterval,
		RetryDelay:   cfg.Supervisor.RetryDelay,
		WriteTimeout: cfg.Supervisor.WriteTimeout,
		Logger:       log.Logger,
		Metrics:      metrics,
	})

	if cfg.Metrics.Addr != "" {
		srv := newHTTPServer(cfg.Metrics.Addr, metrics, sup)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info().
		Str("device", serialCfg.Device).
		Str("store", storeCfg.Driver).
		Str("database", storeCfg.Database).
		Msg("bridge starting")

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("bridge stopped")
		return 1
	}
	log.Info().Msg("bridge stopped by signal")
	return 0
}

func setupLogging(cfg *config.Config) {
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level_str", cfg.Log.Level).Msg("Invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// newHTTPServer exposes /metrics and a /healthz that is green only while the
// supervisor is running.
func newHTTPServer(addr string, metrics *bridge.Metrics, sup *bridge.Supervisor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := sup.State()
		if state != bridge.Running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(state.String() + "\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
