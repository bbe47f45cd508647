package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bondledger/core"
	"bondledger/core/events"
	"bondledger/core/genesis"
	"bondledger/core/state"
	"bondledger/gateway/middleware"
	"bondledger/observability"
	"bondledger/observability/logging"
	telemetry "bondledger/observability/otel"
	"bondledger/services/bondd/config"
	"bondledger/services/bondd/server"
	"bondledger/storage"
	"bondledger/storage/journal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/bondd/config.yaml", "path to bondd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("BOND_ENV"))
	}
	level, _ := cfg.Logging.SlogLevel()
	logger := logging.SetupWithOptions("bondd", env, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Level:      level,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bondd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	hub := server.NewHub(cfg.Stream.Backlog)
	emitters := events.Fanout{observability.Events(), hub}
	var eventLog server.EventLog
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer j.Close()
		j.SetLogger(logger)
		emitters = append(emitters, j)
		eventLog = j
	}

	executor := core.NewExecutor(state.NewManager(db), core.ExecutorConfig{
		Emitter: emitters,
		Pauses:  cfg.PauseSet(),
		Logger:  logger,
	})
	if err := applyGenesis(executor, cfg.Genesis, logger); err != nil {
		log.Fatalf("genesis: %v", err)
	}

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, limit := range cfg.RateLimits {
		rateLimits[name] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.Secret(),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger)
	if err != nil {
		log.Fatalf("configure auth: %v (set %s)", err, cfg.Auth.SecretEnv)
	}
	srv, err := server.New(server.Config{
		Ledger:      executor,
		Journal:     eventLog,
		Logger:      logger,
		RateLimits:  rateLimits,
		CORS:        middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		LogRequests: cfg.Logging.Requests,
		Auth:        auth,
		Stream:      hub,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext bondd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bondd listening", "addr", cfg.ListenAddress, "tls", cfg.TLS.Enabled())
		if cfg.TLS.Enabled() {
			httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		return storage.NewBoltDB(cfg.Path, nil)
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	default:
		return storage.NewLevelDB(cfg.Path)
	}
}

func applyGenesis(x *core.Executor, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	applied, evts, err := genesis.Apply(x, spec)
	if err != nil {
		return err
	}
	if applied {
		logger.Info("genesis applied", "path", path, "events", len(evts))
	} else {
		logger.Info("genesis skipped, ledger already initialised", "path", path)
	}
	return nil
}
