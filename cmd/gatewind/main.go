package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/internal/dispatch"
	"github.com/nimbusroute/gatewind/internal/httpapi"
	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/infra/logging"
	"github.com/nimbusroute/gatewind/internal/oauthrefresh"
	"github.com/nimbusroute/gatewind/internal/ratelimit"
	"github.com/nimbusroute/gatewind/internal/schema"
	"github.com/nimbusroute/gatewind/internal/scheduler"
	"github.com/nimbusroute/gatewind/internal/sigcache"
	"github.com/nimbusroute/gatewind/internal/supervisor"
	"github.com/nimbusroute/gatewind/internal/tokenstore"
	"github.com/nimbusroute/gatewind/internal/upstream"
)

const (
	appName    = "gatewind"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logging.New(logging.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting gatewind", zap.String("version", appVersion))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, sup, err := build(cfg, log)
	if err != nil {
		log.Fatal("failed to build gatewind", zap.Error(err))
	}

	srv.Start()
	sup.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("gatewind stopped successfully")
}

// build wires every subsystem per spec.md §4: token store → rate limiter →
// signature cache → scheduler → upstream client → schema cleaner → dispatch
// controller → HTTP server → supervisor sweep loop.
func build(cfg *config.Config, log *zap.Logger) (*httpapi.Server, *supervisor.Supervisor, error) {
	store := tokenstore.New(cfg.TokensDir, log)
	if err := store.LoadAll(); err != nil {
		return nil, nil, fmt.Errorf("load token store: %w", err)
	}

	limiter := ratelimit.New()
	sigCache := sigcache.New()

	var refresher scheduler.TokenRefresher
	if cfg.Proxy.OAuth.ClientID != "" {
		refresher = oauthrefresh.New(cfg.Proxy.OAuth.ClientID, cfg.Proxy.OAuth.ClientSecret, cfg.Proxy.OAuth.TokenURL)
	}

	sched := scheduler.New(store, limiter, cfg.Proxy.Scheduling, cfg.ValidationBlockMinutes, refresher, nil, log)

	proxyURL := ""
	if cfg.Proxy.UpstreamProxy.Enabled {
		proxyURL = cfg.Proxy.UpstreamProxy.URL
	}
	upstreamClient, err := upstream.New(upstream.Config{
		BaseURL:           cfg.Proxy.UpstreamBaseURL,
		ProxyURL:          proxyURL,
		UserAgentOverride: cfg.Proxy.UserAgentOverride,
		RequestTimeout:    cfg.Proxy.RequestTimeout,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("build upstream client: %w", err)
	}

	cleaner := schema.New()
	poolSize := func() int { return len(store.Snapshot()) }
	ctrl := dispatch.New(sched, upstreamClient, cleaner, cfg.Proxy, poolSize, log)

	handlers := httpapi.NewHandlers(ctrl, sigCache, log, "gemini", cfg.CursorReasoningMode, defaultModels())

	httpServer := httpapi.New(httpapi.Config{
		Host:     host(cfg),
		Port:     cfg.Port,
		Mode:     "release",
		AuthMode: cfg.AuthMode,
		APIKey:   cfg.APIKey,
	}, handlers, log)

	sup := supervisor.New(sched, sigCache, limiter, log)

	return httpServer, sup, nil
}

func host(cfg *config.Config) string {
	if cfg.AllowLANAccess {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

func defaultModels() []string {
	return []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  gatewind          Start the proxy server (default)
  gatewind version  Show version
  gatewind help     Show this help

Environment:
  GATEWIND_*        Configuration overrides (see config.yaml)
  ABV_API_KEY / API_KEY         Legacy API key override
  ABV_WEB_PASSWORD / WEB_PASSWORD  Legacy admin password override
  ABV_AUTH_MODE / AUTH_MODE     Legacy auth mode override
`, appName, appVersion)
}
