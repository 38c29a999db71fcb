package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pushhand/pushhand/internal/agent"
	"github.com/pushhand/pushhand/internal/bridge"
	"github.com/pushhand/pushhand/internal/config"
	"github.com/pushhand/pushhand/internal/delivery"
	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/metrics"
	"github.com/pushhand/pushhand/internal/push"
	"github.com/pushhand/pushhand/internal/registry"
	"github.com/pushhand/pushhand/internal/state"
)

func main() {
	cfgFile := flag.String("config", "", "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before environment overrides")
	platform := flag.String("platform", "", "Device platform (ios, android); defaults to what the shell reports")
	bridgeAddr := flag.String("bridge-addr", "", "Listen address for the shell bridge")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("failed loading %s: %v", *envFile, err)
	}
	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	// CLI flags have highest precedence (override env/file/defaults)
	applyFlags(cfg, *platform, *bridgeAddr, *logLevel)

	cleanup, err := logging.Init(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initMetricsAndInflux(ctx, cfg)

	if err := run(ctx, cfg); err != nil {
		logging.Get().Error().Err(err).Msg("pushhand exited with error")
		cleanup()
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional file and the environment
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		c, err := config.LoadConfigFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = c
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, platform, bridgeAddr, logLevel string) {
	if platform != "" {
		cfg.Platform = platform
	}
	if bridgeAddr != "" {
		cfg.BridgeAddr = bridgeAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

// initMetricsAndInflux starts optional metrics server and Influx pusher
func initMetricsAndInflux(ctx context.Context, cfg *config.Config) {
	if cfg.MetricsEnabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.MetricsPort)
			logging.Get().Info().Str("addr", addr).Msg("starting metrics server")
			srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Get().Error().Err(err).Msg("metrics server failed")
			}
		}()
	}
	if cfg.InfluxURL != "" {
		go metrics.StartInfluxPusher(ctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PromHandler())
	mux.Handle("/status", metrics.JSONHandler())
	return mux
}

// run serves the bridge, wires the agent and blocks until ctx is done
func run(ctx context.Context, cfg *config.Config) error {
	srv := bridge.NewServer(bridge.WithAllowedOrigins(cfg.BridgeOrigins...))
	mux := http.NewServeMux()
	mux.Handle(cfg.BridgePath, srv)
	httpSrv := &http.Server{Addr: cfg.BridgeAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		logging.Get().Info().Str("addr", cfg.BridgeAddr).Str("path", cfg.BridgePath).Msg("bridge listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		_ = srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if cfg.Platform == "" {
		logging.Get().Info().Msg("no platform configured; waiting for shell hello")
		hello, err := srv.WaitHello(ctx)
		if err != nil {
			return err
		}
		cfg.Platform = hello.Platform
	}
	family, err := push.LookupFamily(cfg.Platform)
	if err != nil {
		return err
	}
	if cfg.InstallationID == "" {
		if cfg.StateDir != "" {
			state.SetDir(cfg.StateDir)
		}
		if cfg.InstallationID, err = state.InstallationID(); err != nil {
			return fmt.Errorf("resolve installation id: %w", err)
		}
	}

	opts, closers, err := connectBackends(ctx, cfg, family)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	if err != nil {
		return err
	}

	a, err := agent.New(cfg, srv, srv.AppState(), opts...)
	if err != nil {
		return err
	}
	mux.Handle("/token", a.StatusHandler())
	mux.Handle("/badge", a.BadgeHandler())

	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logging.Get().Info().Msg("shutdown signal received, waiting for active operations to complete")
	case err := <-serveErr:
		logging.Get().Error().Err(err).Msg("bridge server failed")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Stop(shutdownCtx)
	return nil
}

// connectBackends dials the optional NATS, Redis and FCM backends
func connectBackends(ctx context.Context, cfg *config.Config, family push.Family) ([]agent.Option, []func(), error) {
	var opts []agent.Option
	var closers []func()

	if cfg.NATSURL != "" {
		nc, err := delivery.Connect(cfg.NATSURL)
		if err != nil {
			return opts, closers, err
		}
		closers = append(closers, func() { _ = nc.Drain() })
		pub, err := delivery.NewPublisher(nc, cfg.NATSSubject, cfg.NATSReplySubject, family.Name(), cfg.InstallationID)
		if err != nil {
			return opts, closers, err
		}
		opts = append(opts, agent.WithCallback(pub.Callback()))
		logging.Get().Info().Str("subject", cfg.NATSSubject).Msg("delivering opened notifications over nats")
	}

	if cfg.RedisAddr != "" {
		client, err := registry.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return opts, closers, err
		}
		closers = append(closers, func() { _ = client.Close() })
		sink, err := registry.NewRedis(client, cfg.InstallationID, cfg.StaleTokenTTL)
		if err != nil {
			return opts, closers, err
		}
		opts = append(opts, agent.WithTokenSinks(sink), agent.WithRegistry(sink))
	}

	if cfg.FCMCredentialsFile != "" || cfg.FCMProjectID != "" {
		if family.Name() != push.FamilyAndroid {
			logging.Get().Info().Str("family", family.Name()).Msg("fcm topic subscription skipped for non-fcm tokens")
			return opts, closers, nil
		}
		client, err := registry.NewFCMClient(ctx, cfg.FCMCredentialsFile, cfg.FCMProjectID)
		if err != nil {
			return opts, closers, err
		}
		sink, err := registry.NewFCMTopics(client, cfg.FCMTopic)
		if err != nil {
			return opts, closers, err
		}
		opts = append(opts, agent.WithTokenSinks(sink))
	}
	return opts, closers, nil
}
