// Package main is the entry point for the WhatsApp assistant webhook server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/whatsapp-assistant/internal/config"
	"github.com/capitalize-ai/whatsapp-assistant/internal/delivery"
	"github.com/capitalize-ai/whatsapp-assistant/internal/handler"
	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
	"github.com/capitalize-ai/whatsapp-assistant/internal/keylock"
	"github.com/capitalize-ai/whatsapp-assistant/internal/llm"
	"github.com/capitalize-ai/whatsapp-assistant/internal/middleware"
	natsclient "github.com/capitalize-ai/whatsapp-assistant/internal/nats"
	"github.com/capitalize-ai/whatsapp-assistant/internal/session"
	"github.com/capitalize-ai/whatsapp-assistant/internal/store"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/tracing"
)

const serviceName = "whatsapp-assistant"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.FromEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting webhook server",
		zap.String("store", cfg.StoreDriver),
		zap.String("lock", cfg.LockBackend),
		zap.String("llm", cfg.LLMProvider),
	)

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	normalizer, err := identity.NewNormalizer(cfg.CountryCode, cfg.TrunkPrefix)
	if err != nil {
		return fmt.Errorf("invalid dialing plan: %w", err)
	}
	log.Info("dialing plan loaded", zap.String("country_code", normalizer.CountryCode()))

	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return err
	}

	// Redis backs the redis store and the distributed lock
	var redisClient *redis.Client
	if cfg.RedisURL != "" && (cfg.StoreDriver == config.StoreRedis || cfg.LockBackend == config.LockRedis) {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	conversations, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conversations.Close()

	var locker keylock.Locker = keylock.NewMap()
	if cfg.LockBackend == config.LockRedis {
		locker = keylock.NewRedisLocker(redisClient, keylock.WithTTL(cfg.LockTTL))
	}

	// Initialize LLM client
	llmClient, err := llm.NewClient(llm.Config{
		Provider: llm.Provider(cfg.LLMProvider),
		APIKey:   cfg.APIKey(),
		BaseURL:  cfg.LLMBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	// Outbound channel; without credentials replies are only logged
	var sender delivery.Sender
	if cfg.TwilioEnabled() {
		sender, err = delivery.NewTwilioSender(delivery.TwilioConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			WhatsAppNumber: cfg.TwilioWhatsAppNumber,
		})
		if err != nil {
			return fmt.Errorf("failed to create Twilio sender: %w", err)
		}
	} else {
		log.Warn("TWILIO_ACCOUNT_SID not set, outbound messages are logged only")
		sender = delivery.NewLogSender(log)
	}

	opts := []session.Option{
		session.WithLogger(log),
		session.WithNormalizer(normalizer),
		session.WithPrompts(prompts.SystemPrompt, prompts.WelcomeMessage),
		session.WithModel(cfg.LLMModel, cfg.LLMMaxTokens, cfg.LLMTemperature),
		session.WithTimeouts(session.Timeouts{
			Store:      cfg.StoreTimeout,
			Completion: cfg.CompletionTimeout,
			Delivery:   cfg.DeliveryTimeout,
		}),
	}

	// Connect to NATS when the event stream is enabled
	var natsClient *natsclient.Client
	if cfg.NATSEnabled() {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return err
		}
		opts = append(opts, session.WithPublisher(streamManager))
	}

	manager := session.NewManager(conversations, locker, llmClient, sender, opts...)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(conversations, natsClient)
	webhookHandler := handler.NewWebhookHandler(manager, log)
	conversationHandler := handler.NewConversationHandler(conversations, cfg.StoreTimeout, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Group(func(r chi.Router) {
			if cfg.TwilioValidateSignature {
				r.Use(middleware.TwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL))
			}
			r.Use(middleware.SenderRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow, normalizer))
			r.Post("/whatsapp-endpoint", webhookHandler.WhatsApp)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireScope(middleware.ScopeConversationsRead))
			r.Get("/conversations/{key}", conversationHandler.Get)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown lets in-flight messages finish their exchange
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSupabase:
		return store.New(ctx, store.TypeSupabase,
			store.WithSupabase(cfg.SupabaseURL, cfg.SupabaseAnonKey),
			store.WithTable(cfg.SupabaseTable),
		)

	case config.StoreRedis:
		return store.New(ctx, store.TypeRedis,
			store.WithRedisClient(redisClient),
			store.WithRedisTTL(cfg.RedisTTL),
		)

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st, err := store.New(ctx, store.TypePostgres, store.WithPostgresPool(pool))
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &pooledStore{Store: st, pool: pool}, nil

	default:
		return store.New(ctx, store.TypeMemory)
	}
}

// pooledStore closes the pgx pool it was opened with.
type pooledStore struct {
	store.Store
	pool *pgxpool.Pool
}

func (s *pooledStore) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}

func (s *pooledStore) Ping(ctx context.Context) error {
	if p, ok := s.Store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return s.pool.Ping(ctx)
}
