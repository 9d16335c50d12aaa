package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"postpurchase-api/internal/analytics"
	"postpurchase-api/internal/billing"
	"postpurchase-api/internal/cache"
	"postpurchase-api/internal/config"
	"postpurchase-api/internal/eligibility"
	"postpurchase-api/internal/events"
	"postpurchase-api/internal/features"
	"postpurchase-api/internal/handler"
	"postpurchase-api/internal/metrics"
	"postpurchase-api/internal/middleware"
	"postpurchase-api/internal/service"
	"postpurchase-api/internal/subscription"
	"postpurchase-api/internal/tracing"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	tracer, err := tracing.InitTracing(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Environment,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	db, err := a.openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	flags := features.NewDefaultManager(flagStates(cfg))
	logFlags(log, flags)

	m := metrics.New()

	bus := events.NewManager(true, log)
	var sink *events.KafkaSink
	if cfg.Kafka.Enabled {
		sink = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, flags.Check(features.EventStream))
		sink.Register(bus)
	}
	defer func() {
		bus.Shutdown()
		if sink != nil {
			if err := sink.Close(); err != nil {
				log.Warn("failed to close kafka writer", slog.String("error", err.Error()))
			}
		}
	}()

	subCache, closeCache, err := newSubscriptionCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	go a.reloadFlagsOnHangup(ctx, flags, subCache)

	if cfg.IsProduction() && cfg.Billing.Test {
		log.Warn("billing test charges are enabled in production")
	}
	billingClient := billing.NewClient(billing.Config{
		BaseURL:    cfg.Billing.BaseURL,
		APIVersion: cfg.Billing.APIVersion,
		Timeout:    cfg.Billing.Timeout,
		Test:       cfg.Billing.Test,
		ReturnURL:  cfg.Billing.ReturnURL,
		Currency:   cfg.Billing.Currency,
	}, db, &http.Client{Timeout: cfg.Billing.Timeout})

	svc := service.NewService(service.Deps{
		DB: db,
		Resolver: eligibility.NewResolver(db,
			eligibility.WithConcurrency(flags.Check(features.ConcurrentResolution), cfg.Features.ResolutionLimit)),
		Recorder: analytics.NewRecorder(db,
			analytics.WithEventBus(bus),
			analytics.WithMetrics(m),
			analytics.WithLogger(log)),
		Subscriptions: subscription.NewManager(db, billingClient,
			subscription.WithCache(subCache, cfg.Cache.SubscriptionTTL, flags.Check(features.SubscriptionCache)),
			subscription.WithEventBus(bus),
			subscription.WithMetrics(m),
			subscription.WithLogger(log)),
		Events:       bus,
		Metrics:      m,
		Tracer:       tracer,
		Logger:       log,
		QueryTimeout: cfg.Database.QueryTimeout,
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Server.MaxRequestBodySize,
		Logger:      log,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log, m))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Window)
		defer limiter.Stop()
		r.Use(middleware.RateLimitMiddleware(limiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-CSRF-Token",
			middleware.ShopDomainHeader, middleware.AccessTokenHeader,
		},
		ExposedHeaders: []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	h.Routes(r, middleware.ShopSession(db, log))
	r.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		protocol := "HTTP"
		if cfg.Server.TLSEnabled() {
			protocol = "HTTPS"
		}
		log.Info("starting server",
			slog.String("protocol", protocol),
			slog.String("addr", server.Addr),
			slog.String("database", cfg.Database.Path),
			slog.String("cache", cfg.Cache.Driver),
			slog.Bool("kafka", cfg.Kafka.Enabled),
			slog.Bool("rate_limit", cfg.RateLimit.Enabled))

		var err error
		if cfg.Server.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// reloadFlagsOnHangup re-reads the configuration on SIGHUP and applies its
// feature flag states to the running server. Other settings need a restart.
// Cached subscriptions are dropped so a re-enabled cache starts empty.
func (a *app) reloadFlagsOnHangup(ctx context.Context, flags *features.Manager, subCache cache.Cache) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.LoadConfig(a.configFile)
			if err != nil {
				a.log.Warn("feature flag reload failed", slog.String("error", err.Error()))
				continue
			}
			for name, on := range flagStates(cfg) {
				if on {
					flags.Enable(name)
				} else {
					flags.Disable(name)
				}
			}
			if err := subCache.Clear(ctx); err != nil {
				a.log.Warn("failed to clear subscription cache", slog.String("error", err.Error()))
			}
			logFlags(a.log, flags)
		}
	}
}

func flagStates(cfg *config.Config) map[string]bool {
	return map[string]bool{
		features.ConcurrentResolution: cfg.Features.ConcurrentResolution,
		features.EventStream:          cfg.Features.EventStream,
		features.SubscriptionCache:    cfg.Features.SubscriptionCache,
	}
}

func logFlags(log *slog.Logger, flags *features.Manager) {
	for _, f := range flags.GetAll() {
		log.Info("feature flag", slog.String("name", f.Name), slog.Bool("enabled", f.Enabled))
	}
}

// newSubscriptionCache builds the configured cache backend and its closer.
func newSubscriptionCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, func(), error) {
	if cfg.Driver == "redis" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rc, func() { rc.Close() }, nil
	}
	return cache.NewLRUCache(cfg.Size, cfg.SubscriptionTTL), func() {}, nil
}
