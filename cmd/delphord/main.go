package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"delphor/cmd/internal/passphrase"
	"delphor/config"
	"delphor/core"
	"delphor/crypto"
	"delphor/gateway/middleware"
	"delphor/gateway/routes"
	"delphor/observability/logging"
	telemetry "delphor/observability/otel"
	"delphor/storage"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "delphord token: %v\n", err)
			os.Exit(2)
		}
		return
	}
	serve()
}

func serve() {
	var (
		cfgPath       string
		allowInsecure bool
	)
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to delphord configuration")
	flag.BoolVar(&allowInsecure, "allow-insecure", false, "DEV ONLY: permit a plaintext listener on non-loopback interfaces")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("delphord: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("DELPHOR_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.SetupWithOptions("delphord", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	telemetryCfg := telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}.WithEnv()
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	admin, err := cfg.ResolveAdminWith(passphrase.NewSource(cfg.AdminKeystorePassphraseEnv, "admin keystore").Get)
	if err != nil {
		log.Fatalf("delphord: resolve admin: %v", err)
	}
	oracleCfg, err := cfg.OracleSettings()
	if err != nil {
		log.Fatalf("delphord: oracle settings: %v", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Fatalf("delphord: open database %s: %v", cfg.DataDir, err)
	}
	node, err := core.NewNode(db, admin, core.Options{
		Oracle: oracleCfg,
		Paused: cfg.PausedModules(),
		Logger: logger,
	})
	if err != nil {
		db.Close()
		log.Fatalf("delphord: start node: %v", err)
	}
	defer node.Close()

	authCfg := middleware.AuthConfig{
		Enabled:  !cfg.API.AuthDisabled,
		Issuer:   cfg.API.JWTIssuer,
		Audience: cfg.API.JWTAudience,
	}
	if cfg.API.AuthDisabled {
		authCfg.DevCaller = admin
		logger.Warn("API authentication disabled; every request acts as the admin", "admin", admin.String())
	} else {
		authCfg.HMACSecret = strings.TrimSpace(os.Getenv(cfg.API.JWTSecretEnv))
		if authCfg.HMACSecret == "" {
			log.Fatalf("delphord: %s must hold the API JWT secret", cfg.API.JWTSecretEnv)
		}
	}

	limit := middleware.RateLimit{RatePerSecond: cfg.API.RateLimitPerSecond, Burst: cfg.API.RateLimitBurst}
	rateLimits := map[string]middleware.RateLimit{
		"registry": limit,
		"oracle":   limit,
		"bank":     limit,
		"vault":    limit,
		"admin":    limit,
	}

	origins := cfg.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router, err := routes.New(routes.Config{
		Node:          node,
		Pausable:      core.Pausable,
		Authenticator: middleware.NewAuthenticator(authCfg, logger),
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: telemetryCfg.ServiceName,
			LogRequests: cfg.API.LogRequests,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", middleware.HeaderRequestID},
		},
	})
	if err != nil {
		log.Fatalf("delphord: configure routes: %v", err)
	}

	handler := http.Handler(router)
	if telemetryCfg.Enabled() && telemetryCfg.Traces {
		handler = otelhttp.NewHandler(router, "delphord")
	}

	tlsConfig, err := buildTLSConfig(cfg.API.TLSCertFile, cfg.API.TLSKeyFile)
	if err != nil {
		log.Fatalf("delphord: configure TLS: %v", err)
	}
	if tlsConfig == nil && !allowInsecure && !strings.EqualFold(cfg.Environment, "local") && !isLoopbackAddress(cfg.ListenAddress) {
		log.Fatal("delphord: plaintext API is restricted to loopback listeners outside the local environment; configure api.TLSCertFile/TLSKeyFile or pass --allow-insecure")
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.API.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.API.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       2 * time.Minute,
		TLSConfig:         tlsConfig,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("delphord: listen: %v", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("delphord listening",
			"address", fmt.Sprintf("%s://%s", scheme, listener.Addr()),
			"admin", admin.String(),
			"environment", cfg.Environment,
			"oracle_mode", oracleCfg.Mode.String())
		serveErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve failed", "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("delphord stopped")
}

// runToken signs an API token with the configured secret. Operators hand the
// output to feeders and admin tooling.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cfgPath := fs.String("config", "./config.toml", "path to delphord configuration")
	subject := fs.String("subject", "", "caller address (defaults to the admin)")
	scopes := fs.String("scope", "", "comma separated scopes: admin, feeder")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret := strings.TrimSpace(os.Getenv(cfg.API.JWTSecretEnv))
	if secret == "" {
		return fmt.Errorf("%s must hold the API JWT secret", cfg.API.JWTSecretEnv)
	}
	var caller crypto.Address
	if raw := strings.TrimSpace(*subject); raw != "" {
		caller, err = crypto.DecodeAddressWithPrefix(raw, crypto.AccountPrefix)
	} else {
		caller, err = cfg.ResolveAdminWith(passphrase.NewSource(cfg.AdminKeystorePassphraseEnv, "admin keystore").Get)
	}
	if err != nil {
		return fmt.Errorf("resolve subject: %w", err)
	}
	granted, err := parseScopes(*scopes)
	if err != nil {
		return err
	}
	token, err := middleware.IssueToken(secret, cfg.API.JWTIssuer, cfg.API.JWTAudience, caller, granted, *ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func parseScopes(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		scope := strings.ToLower(strings.TrimSpace(part))
		switch scope {
		case "":
			continue
		case middleware.ScopeAdmin, middleware.ScopeFeeder:
			out = append(out, scope)
		default:
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
	}
	return out, nil
}

func buildTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	certPath, keyPath = strings.TrimSpace(certPath), strings.TrimSpace(keyPath)
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("api.TLSCertFile and api.TLSKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
