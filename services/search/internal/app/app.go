// Package app wires the search service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/k-yomo/kagu-miru/pkg/database"
	"github.com/k-yomo/kagu-miru/pkg/health"
	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	pkgkafka "github.com/k-yomo/kagu-miru/pkg/kafka"
	"github.com/k-yomo/kagu-miru/pkg/middleware"
	"github.com/k-yomo/kagu-miru/pkg/tracing"
	"github.com/k-yomo/kagu-miru/services/search/internal/analytics"
	"github.com/k-yomo/kagu-miru/services/search/internal/catalog"
	"github.com/k-yomo/kagu-miru/services/search/internal/config"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine"
	esengine "github.com/k-yomo/kagu-miru/services/search/internal/engine/elasticsearch"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine/graphql"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine/memory"
	handler "github.com/k-yomo/kagu-miru/services/search/internal/handler/http"
	"github.com/k-yomo/kagu-miru/services/search/internal/service"
	"github.com/k-yomo/kagu-miru/services/search/internal/session"
	"github.com/k-yomo/kagu-miru/services/search/internal/store"
	redisstore "github.com/k-yomo/kagu-miru/services/search/internal/store/redis"
)

const serviceName = "search-service"

// App wires together all dependencies and runs the search service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	sessions       *service.SessionManager
	emitter        *analytics.AsyncEmitter
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumers      []*pkgkafka.Consumer
	redis          *redis.Client
	suggestLimiter *middleware.RateLimiter
	httpServer     *http.Server

	// background bounds work that outlives a request, like reindex runs.
	background     context.Context
	stopBackground context.CancelFunc
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	a.background, a.stopBackground = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	a.shutdownTracer, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	healthHandler := health.NewHandler()

	backend, local, err := a.newBackend(healthHandler)
	if err != nil {
		return nil, err
	}

	sink, err := a.newAnalyticsSink(healthHandler)
	if err != nil {
		return nil, err
	}
	a.emitter = analytics.NewAsyncEmitter(sink, analytics.Config{
		BufferSize:    cfg.AnalyticsBuffer,
		Workers:       cfg.AnalyticsWorkers,
		SubmitTimeout: 5 * time.Second,
	}, logger)

	sessionStore, err := a.newSessionStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	managerCfg := service.DefaultManagerConfig()
	managerCfg.Session = session.Config{
		SearchTimeout:   cfg.SearchTimeout,
		DefaultPageSize: cfg.DefaultPageSize,
	}
	managerCfg.SuggestTimeout = cfg.SuggestTimeout
	managerCfg.IdleTTL = cfg.SessionTTL
	a.sessions = service.NewSessionManager(backend, a.emitter, sessionStore, managerCfg, logger)

	if cfg.CatalogSyncEnabled && local != nil {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		a.consumers = catalog.NewSyncer(local, logger).Consumers(cfg.KafkaBrokers, a.dlq)
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
		})
		logger.Info("catalog sync consumers initialized",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.Int("topic_count", len(a.consumers)),
		)
	}

	var admin *handler.AdminHandler
	if cfg.CatalogAPIURL != "" && local != nil {
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("catalog-api"),
			logger,
		)
		reindexer := catalog.NewReindexer(client, cfg.CatalogAPIURL, local, catalog.DefaultReindexPageSize, logger)
		admin = handler.NewAdminHandler(a.background, reindexer, logger)
	}

	a.suggestLimiter = middleware.NewRateLimiter("suggestions", cfg.SuggestRPS, cfg.SuggestBurst, 10*time.Minute, logger)

	cors := middleware.DefaultCORSConfig()
	if cfg.Environment != "development" {
		cors.AllowedOrigins = cfg.CORSOrigins
	}

	router := handler.NewRouter(handler.RouterConfig{
		Sessions:       handler.NewSessionHandler(a.sessions, cfg.SearchTimeout, logger),
		Admin:          admin,
		Health:         healthHandler,
		SuggestLimiter: a.suggestLimiter,
		CORS:           cors,
		RequestTimeout: cfg.SearchTimeout + 5*time.Second,
		Logger:         logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.SearchTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

// newBackend selects the search backend. The returned engine is non-nil
// only for backends this service indexes itself.
func (a *App) newBackend(h *health.Handler) (engine.Backend, engine.SearchEngine, error) {
	cfg := a.cfg
	switch cfg.SearchBackend {
	case config.BackendElasticsearch:
		es, err := esengine.New(cfg.ElasticsearchURL, cfg.ElasticsearchIndex, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init elasticsearch engine: %w", err)
		}
		h.RegisterCritical("elasticsearch", es.Ping)
		a.logger.Info("elasticsearch search backend initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.String("index", cfg.ElasticsearchIndex),
		)
		return es, es, nil
	case config.BackendMemory:
		eng := memory.New()
		a.logger.Info("in-memory search backend initialized")
		return eng, eng, nil
	default:
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("graphql-api"),
			a.logger,
		)
		a.logger.Info("graphql search backend initialized", slog.String("url", cfg.GraphQLAPIURL))
		return graphql.New(client, cfg.GraphQLAPIURL), nil, nil
	}
}

func (a *App) newAnalyticsSink(h *health.Handler) (analytics.Sink, error) {
	cfg := a.cfg
	switch cfg.AnalyticsSink {
	case config.SinkKafka:
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), a.logger)
		h.RegisterNonCritical("kafka-producer", a.producer.Ping)
		return analytics.NewKafkaSink(a.producer, cfg.AnalyticsTopic, serviceName), nil
	case config.SinkHTTP:
		httpCfg := httpclient.DefaultConfig()
		httpCfg.MaxRetries = 0
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpCfg),
			httpclient.DefaultCircuitBreakerConfig("analytics-api"),
			a.logger,
		)
		return analytics.NewHTTPSink(client, cfg.AnalyticsURL), nil
	case config.SinkLog:
		return analytics.NewLogSink(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown analytics sink %q", cfg.AnalyticsSink)
	}
}

func (a *App) newSessionStore(ctx context.Context, h *health.Handler) (store.SessionStore, error) {
	cfg := a.cfg
	if cfg.SessionStore != config.StoreRedis {
		return store.NewMemory(cfg.SessionTTL), nil
	}

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Host = cfg.RedisHost
	redisCfg.Port = cfg.RedisPort
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB

	client, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect session redis: %w", err)
	}
	a.redis = client
	database.RegisterPoolMetrics(client, "search")
	database.SetSlowCommandLogging(50*time.Millisecond, a.logger)

	sessionStore := redisstore.NewSessionStore(client, cfg.SessionTTL)
	h.RegisterCritical("redis", sessionStore.Ping)
	a.logger.Info("redis session store initialized", slog.String("addr", redisCfg.Addr()))
	return sessionStore, nil
}

// Run starts the HTTP server, the session sweeper and Kafka consumers,
// blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	go a.sessions.Run(a.background)
	go a.suggestLimiter.Run(a.background)

	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Sessions emit and persist until closed, so they go before the sinks.
	a.sessions.Shutdown()

	errs = append(errs, a.closeAll()...)

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeAll releases every client the app opened. It tolerates partially
// built apps.
func (a *App) closeAll() []error {
	var errs []error
	closeOne := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.logger.Error("close error", slog.String("component", name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}

	a.stopBackground()
	for _, c := range a.consumers {
		closeOne("kafka consumer", c.Close)
	}
	if a.dlq != nil {
		closeOne("kafka dlq producer", a.dlq.Close)
	}
	if a.emitter != nil {
		closeOne("analytics emitter", a.emitter.Close)
	}
	if a.producer != nil {
		closeOne("kafka producer", a.producer.Close)
	}
	if a.redis != nil {
		closeOne("redis", a.redis.Close)
	}
	return errs
}
