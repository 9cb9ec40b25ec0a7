package main

import (
	"context"
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

	"lendcore/observability/logging"
	telemetry "lendcore/observability/otel"
	"lendcore/services/lending/server"
	"lendcore/services/lendingd/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath, exportPath, exportType string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.StringVar(&exportPath, "export-events", "", "write the event history to this parquet file and exit")
	flag.StringVar(&exportType, "export-type", "", "event type filter for -export-events; a trailing dot matches a family")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("LEND_ENV"))
	}
	logger := logging.Setup("lendingd", env)

	if exportPath != "" {
		n, err := exportEvents(context.Background(), cfg.Events, exportPath, exportType, logger)
		if err != nil {
			log.Fatalf("export events: %v", err)
		}
		logger.Info("events exported", "path", exportPath, "rows", n)
		return
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()
	logger.Info("configuration loaded", "config", cfg.Sanitized())

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && !plaintextAllowed(listener.Addr(), env) {
		log.Fatalf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
	}
	tlsCfg, err := server.ServerTLS(server.TLSConfig{
		CertFile:         cfg.TLS.CertPath,
		KeyFile:          cfg.TLS.KeyPath,
		ClientCAFile:     cfg.TLS.ClientCAPath,
		AllowInsecure:    cfg.TLS.AllowInsecure,
		AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
	})
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := buildNode(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("build lending stack: %v", err)
	}
	defer n.close()

	httpServer := &http.Server{
		Handler:           n.handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	serverErr := make(chan error, 2)
	go func() {
		logger.Info("lendingd listening", "address", cfg.ListenAddress, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	var health *server.HealthServer
	if cfg.HealthAddress != "" {
		healthListener, err := net.Listen("tcp", cfg.HealthAddress)
		if err != nil {
			log.Fatalf("listen on %s: %v", cfg.HealthAddress, err)
		}
		health = server.NewHealthServer(tlsCfg, logger)
		health.SetServing(true)
		go func() {
			logger.Info("health endpoint listening", "address", cfg.HealthAddress)
			serverErr <- health.Serve(healthListener)
		}()
	}

	n.keeper.Start()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
		}
	}

	if health != nil {
		health.SetServing(false)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing http server stop", "error", err)
		_ = httpServer.Close()
	}
	if health != nil {
		health.Shutdown()
	}
}

func telemetryConfig(cfg config.Config, env string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    "lendingd",
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        cfg.Telemetry.Headers,
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	}.ApplyEnv(os.Getenv)
}

func plaintextAllowed(addr net.Addr, env string) bool {
	if strings.EqualFold(env, "dev") {
		return true
	}
	tcpAddr, _ := addr.(*net.TCPAddr)
	return tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
}
