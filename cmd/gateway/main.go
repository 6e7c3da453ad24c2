// Command gateway is the process entry point: it loads configuration, wires
// every pipeline stage via explicit constructor injection (spec §9's
// replacement for a DI container), starts the HTTP listener, and drains
// in-flight requests on SIGTERM/SIGINT (spec §5).
//
// Grounded on the teacher's cmd/gateway-v2/main.go lifecycle shape
// (.env load -> logger -> tracer -> build -> start -> signal wait ->
// bounded-drain shutdown), generalized from its gateway.New(options...)
// construction to this gateway's flat, explicit wiring of each stage.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riftgate/gateway/internal/auth"
	"github.com/riftgate/gateway/internal/auth/introspect"
	"github.com/riftgate/gateway/internal/authz"
	"github.com/riftgate/gateway/internal/breaker"
	"github.com/riftgate/gateway/internal/cache"
	"github.com/riftgate/gateway/internal/config"
	"github.com/riftgate/gateway/internal/dispatcher"
	"github.com/riftgate/gateway/internal/domain"
	"github.com/riftgate/gateway/internal/gatewayerr"
	"github.com/riftgate/gateway/internal/kv"
	"github.com/riftgate/gateway/internal/pipeline"
	"github.com/riftgate/gateway/internal/ratelimit"
	"github.com/riftgate/gateway/internal/route"
	"github.com/riftgate/gateway/internal/server"
	"github.com/riftgate/gateway/internal/spool"
	"github.com/riftgate/gateway/internal/telemetry"
)

// drainPeriod bounds how long Shutdown waits for in-flight requests.
const drainPeriod = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("riftgate-gateway", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to connect to KV store: %v", err)
	}
	defer closeStore()

	srv, err := build(cfg, store, logger)
	if err != nil {
		log.Fatalf("failed to wire gateway: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()
	logger.Info("gateway started", slog.Int("port", cfg.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, draining in-flight requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("gateway shutdown complete")
}

// buildStore connects to Redis when REDIS_HOST_MASTER is configured,
// otherwise falls back to an in-process store suitable for local runs. The
// returned close func is always safe to defer.
func buildStore(cfg *config.Config, logger *slog.Logger) (kv.Store, func(), error) {
	if cfg.RedisHostMaster == "" {
		logger.Info("REDIS_HOST_MASTER unset, using in-process KV store (single-instance only)")
		return kv.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := kv.Dial(ctx, cfg.RedisHostMaster, cfg.RedisPort)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to Redis", slog.String("host", cfg.RedisHostMaster), slog.Int("port", cfg.RedisPort))
	return kv.NewRedisStore(client), func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close Redis client", slog.String("error", err.Error()))
		}
	}, nil
}

// build wires every pipeline stage from cfg and returns the listening
// Server, not yet started.
func build(cfg *config.Config, store kv.Store, logger *slog.Logger) (*server.Server, error) {
	var validator auth.TokenValidator
	if cfg.AuthServiceURL != "" {
		validator = introspect.NewClient(cfg.AuthServiceURL)
	}

	authenticator := auth.New(auth.Config{
		StaticAPIKeys:      cfg.StaticAPITokens,
		RecognizedServices: []string{domain.UpstreamServiceA, domain.UpstreamServiceB, domain.UpstreamServiceC},
		Validator:          validator,
	})

	authorizer := authz.New(defaultPolicyTable())

	limiter := ratelimit.New(store, ratelimit.Config{
		Default: ratelimit.Rule{Limit: cfg.ThrottleLimit, Window: cfg.ThrottleTTL},
		EnableTenantRateLimits: cfg.EnableTenantRateLimits,
		ResourceIntensive: map[string]ratelimit.Rule{
			"GET statistics": {Limit: cfg.ThrottleLimit / 2, Window: cfg.ThrottleTTL},
			"POST reports":   {Limit: cfg.ThrottleLimit / 2, Window: cfg.ThrottleTTL},
		},
	}, logger)

	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig())
	respCache := cache.New(store, logger)

	upstreams := map[string]dispatcher.UpstreamConfig{}
	for name, svc := range cfg.Services {
		upstreams[name] = dispatcher.UpstreamConfig{BaseURL: svc.URL, APIKey: svc.APIKey}
	}
	disp := dispatcher.New(upstreams, &http.Client{Timeout: dispatcher.DefaultTimeout}, breakers, respCache)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	uploadSpool := spool.New(cwd + "/uploads")

	pl := &pipeline.Pipeline{
		Routes:        route.DefaultTable(),
		Authenticator: authenticator,
		Authorizer:    authorizer,
		Limiter:       limiter,
		Dispatcher:    disp,
		Mapper:        gatewayerr.New(logger),
		Spool:         uploadSpool,
		Logger:        logger,
	}

	return server.New(cfg.Port, logger, pl, cfg.CORSAllowedOrigins), nil
}

// defaultPolicyTable grants the "user" role full CRUD on every exposed
// resource; "admin" always passes (authz.Authorizer rule 3) regardless of
// this table's content. Per spec §9's open question, the exact policy
// content is undocumented configuration, not fixed behavior.
func defaultPolicyTable() authz.PolicyTable {
	t := authz.PolicyTable{}
	resources := []string{"items", "categories", "statistics", "reports", "notifications", "files", "folders"}
	actions := []string{"read", "create", "update", "delete"}
	for _, r := range resources {
		for _, a := range actions {
			t.Allow(r, a, "user")
		}
	}
	t.Allow("system", "check", "user")
	return t
}
