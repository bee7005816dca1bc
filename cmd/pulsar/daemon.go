package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/api"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/operation"
	"github.com/oriys/pulsar/internal/ratelimit"
	"github.com/oriys/pulsar/internal/tenant"
	"github.com/oriys/pulsar/internal/upstream"
)

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	return cfg, nil
}

func daemonCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the edge gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}

			logging.InitStructured(cfg.Observability.LogFormat, cfg.Observability.LogLevel)
			if cfg.Observability.AuditLogPath != "" {
				if err := logging.Audit().SetOutput(cfg.Observability.AuditLogPath); err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
			}

			metrics.InitPrometheus("pulsar", nil)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.TelemetryEnabled,
				Exporter:    "otlp-http",
				Endpoint:    cfg.Observability.OTLPEndpoint,
				ServiceName: "pulsar",
				SampleRate:  1.0,
			}); err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}

			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})

			var backend cache.Cache
			var invalidator *cache.Invalidator
			switch cfg.Cache.Backend {
			case "memory":
				backend = cache.NewInMemoryCache()
			case "redis":
				backend = cache.NewRedisCacheFromClient(redisClient, "pulsar:cache:")
			default:
				l1 := cache.NewInMemoryCache()
				l2 := cache.NewRedisCacheFromClient(redisClient, "pulsar:cache:")
				backend = cache.NewTieredCache(l1, l2, cfg.Cache.TTL.Volatile)
				invalidator = cache.NewInvalidator(l1, redisClient)
				go invalidator.Start(ctx)
			}
			cacheMgr := cache.NewManager(backend, cfg.Cache.TTL)

			limiter := ratelimit.New(ratelimit.NewRedisBackend(redisClient), cfg.RateLimit)

			identity := upstream.NewIdentityClient(cfg.Auth.IdentityURL, cfg.Auth.Timeout)
			tenants := upstream.NewTenantClient(cfg.Upstreams.TenantAuthorityURL, cfg.Upstreams.Timeout)
			engine := upstream.NewEngineClient(cfg.Upstreams.EngineURL, cfg.Upstreams.Timeout)

			resolver := tenant.NewResolver(tenants, cacheMgr)
			validator := access.NewValidator(tenants, cacheMgr)
			proxy := operation.NewProxy(engine, cacheMgr, cfg.Operations)

			server := api.StartHTTPServer(cfg.Server.HTTPAddr, api.ServerConfig{
				Verifier:     identity,
				Resolver:     resolver,
				Validator:    validator,
				Tenants:      tenants,
				Proxy:        proxy,
				Cache:        cacheMgr,
				Invalidator:  invalidator,
				Limiter:      limiter,
				PublicPaths:  cfg.Auth.PublicPaths,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			})
			logging.Op().Info("pulsar daemon started",
				"addr", cfg.Server.HTTPAddr,
				"cache_backend", cfg.Cache.Backend,
				"redis", cfg.Redis.Addr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
			if invalidator != nil {
				_ = invalidator.Close()
			}
			_ = cacheMgr.Close()
			_ = redisClient.Close()
			_ = observability.Shutdown(context.Background())
			logging.Audit().Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address override")

	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Redis.Password = "" // never print credentials
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
