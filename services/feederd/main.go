package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"delphor/crypto"
	"delphor/observability/logging"
	telemetry "delphor/observability/otel"
	"delphor/services/feederd/config"
	"delphor/services/feederd/feeder"
	"delphor/services/feederd/sources"
	"delphor/services/feederd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/feederd/config.yaml", "path to feederd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("feederd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("DELPHOR_ENV"))
	logger := logging.SetupWithOptions("feederd", env, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "feederd",
		Environment: env,
		Insecure:    true,
	}.WithEnv())
	if err != nil {
		log.Fatalf("feederd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("feederd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("feederd: open storage: %v", err)
	}
	defer store.Close()

	registry := sources.NewRegistry()
	srcs := make([]sources.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := registry.Build(src)
		if err != nil {
			log.Fatalf("feederd: build source %s: %v", src.Name, err)
		}
		srcs = append(srcs, built)
	}

	tokens, err := tokenSource(cfg.Node)
	if err != nil {
		log.Fatalf("feederd: node credentials: %v", err)
	}
	client := &http.Client{
		Timeout:   cfg.Node.Timeout.Duration,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	publisher, err := feeder.NewHTTPPublisher(client, cfg.Node.Endpoint, tokens)
	if err != nil {
		log.Fatalf("feederd: publisher: %v", err)
	}

	mgr, err := feeder.New(store, srcs, cfg.Symbols, feeder.Settings{
		Interval:          cfg.Feeder.Interval.Duration,
		MaxAge:            cfg.Feeder.MaxAge.Duration,
		MinPriceVariation: cfg.Feeder.MinPriceVariation,
		Heartbeat:         cfg.Feeder.Heartbeat.Duration,
		MinFeeds:          cfg.Feeder.MinFeeds,
		Retention:         cfg.Feeder.Retention.Duration,
	}, feeder.WithLogger(logger), feeder.WithPublisher(publisher))
	if err != nil {
		log.Fatalf("feederd: manager: %v", err)
	}

	logger.Info("feederd configured",
		"node", logging.MaskURL(cfg.Node.Endpoint),
		"database", cfg.DatabasePath,
		"sources", len(srcs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feeder exited", "error", err)
		os.Exit(1)
	}
	logger.Info("feederd stopped")
}

func tokenSource(node config.NodeConfig) (feeder.TokenSource, error) {
	if name := strings.TrimSpace(node.TokenEnv); name != "" {
		if token := strings.TrimSpace(os.Getenv(name)); token != "" {
			return feeder.StaticToken(token), nil
		}
		if node.SecretEnv == "" {
			return nil, errors.New(name + " is empty")
		}
	}
	secret := strings.TrimSpace(os.Getenv(node.SecretEnv))
	if secret == "" {
		return nil, errors.New(node.SecretEnv + " is empty")
	}
	caller, err := crypto.DecodeAddressWithPrefix(strings.TrimSpace(node.Address), crypto.AccountPrefix)
	if err != nil {
		return nil, err
	}
	return &feeder.MintedTokens{
		Secret:   secret,
		Issuer:   node.Issuer,
		Audience: node.Audience,
		Caller:   caller,
		TTL:      node.TokenTTL.Duration,
	}, nil
}
