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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/courier/internal/api"
	"github.com/lalithlochan/courier/internal/circuitbreaker"
	"github.com/lalithlochan/courier/internal/config"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/email"
	"github.com/lalithlochan/courier/internal/events"
	"github.com/lalithlochan/courier/internal/memstore"
	"github.com/lalithlochan/courier/internal/mongostore"
	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/observ"
	"github.com/lalithlochan/courier/internal/pipeline"
	"github.com/lalithlochan/courier/internal/push"
	"github.com/lalithlochan/courier/internal/realtime"
	"github.com/lalithlochan/courier/internal/redis"
	"github.com/lalithlochan/courier/internal/sns"
	"github.com/lalithlochan/courier/internal/worker"
)

const heartbeatInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting courier gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
	)

	ctx := context.Background()
	var checks []api.Option

	// Notification store
	var (
		base notification.Store
		feed realtime.ChangeSource
	)
	switch cfg.StoreBackend {
	case "memory":
		base = memstore.New()
		logger.Warn("using in-memory notification store, data is lost on restart")
	default:
		database, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		defer func() { _ = database.Client().Disconnect(context.Background()) }()

		col := database.Collection("notifications")
		var storeOpts []mongostore.Option
		if !cfg.MongoTransactions {
			storeOpts = append(storeOpts, mongostore.WithoutTransactions())
			logger.Warn("mongodb transactions disabled, batch mutations are not isolated")
		}
		store := mongostore.New(col, logger, storeOpts...)
		if err := store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
		base = store
		if cfg.MongoChangeStreams {
			feed = mongostore.NewChangeFeed(col, logger)
		}
		checks = append(checks, api.WithHealthCheck("mongodb", func(ctx context.Context) error {
			return database.Client().Ping(ctx, nil)
		}))
	}

	// Postgres holds preferences and the email delivery log. Without it,
	// preferences live in memory and failed emails are not retried.
	var (
		prefs      api.PreferenceStore = memstore.NewPreferences()
		deliveries pipeline.DeliveryLog
		retryRepo  worker.Repository
	)
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Warn("postgres unavailable, preferences kept in memory and email retries disabled",
			zap.Error(err),
			zap.String("host", cfg.DBHost),
		)
	} else {
		defer database.Close()
		prefs = db.NewPreferencesRepository(database, logger)
		repo := db.NewDeliveryRepository(database, logger)
		deliveries, retryRepo = repo, repo
		checks = append(checks,
			api.WithDeliveries(repo),
			api.WithHealthCheck("postgres", database.Health),
		)
	}

	// Redis carries change signals between instances, event idempotency,
	// rate limiting, display dedup and mobile push endpoints.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, running single-instance",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var (
		publisher   notification.Publisher
		guard       pipeline.Guard
		rateLimiter *redis.RateLimiter
		dedup       push.Deduper = push.NewMemoryDedup(redis.DisplayDedupTTL)
		endpoints   *redis.PushEndpoints
	)
	if redisClient != nil {
		defer redisClient.Close()
		bus := redis.NewChangeBus(redisClient, logger)
		publisher = bus
		if feed == nil {
			feed = bus
		}
		guard = redis.NewEventGuard(redisClient, logger, cfg.EventTTL)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		dedup = redis.NewDisplayDedup(redisClient, redis.DisplayDedupTTL)
		endpoints = redis.NewPushEndpoints(redisClient)
		checks = append(checks, api.WithHealthCheck("redis", redisClient.Ping))
	} else if feed == nil {
		bus := realtime.NewLocalBus()
		publisher, feed = bus, bus
	}

	store := notification.NewObservedStore(base, publisher, logger)
	manager := realtime.NewManager(store, feed, cfg.LiveWindow, logger)
	defer manager.Close()

	// SNS sends supplier SMS and mobile push.
	smsClient, err := sns.New(ctx, sns.Config{
		Region:         cfg.SNSRegion,
		PlatformAppARN: cfg.SNSPlatformAppARN,
	}, nil, logger)
	if err != nil {
		logger.Warn("SNS unavailable, SMS and mobile push disabled", zap.Error(err))
	}

	// Browser displays go through the dashboard websockets, mobile push
	// through SNS endpoints.
	hub := push.NewHub(logger)
	notifiers := push.Fanout{hub}
	if smsClient != nil && endpoints != nil && smsClient.PushEnabled() {
		notifiers = append(notifiers, push.NewMobile(smsClient, endpoints, logger))
	}
	bridge := push.NewBridge(notifiers, store, logger,
		push.WithDedup(dedup),
		push.WithPreferences(prefs),
	)

	// Order emails
	dispatcher, breaker, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	checks = append(checks, api.WithHealthCheck("email", func(context.Context) error {
		if breaker.GetState() == circuitbreaker.StateOpen {
			return circuitbreaker.ErrCircuitOpen
		}
		return nil
	}))

	pipelineOpts := []pipeline.Option{pipeline.WithMailer(dispatcher, deliveries)}
	if guard != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithGuard(guard))
	}
	if smsClient != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithSMS(smsClient, prefs))
	}
	proc := pipeline.New(store, logger, pipelineOpts...)

	handlerOpts := append(checks,
		api.WithEvents(proc),
		api.WithPreferences(prefs),
		api.WithLive(manager, hub, bridge),
	)
	if smsClient != nil && endpoints != nil {
		handlerOpts = append(handlerOpts, api.WithPushTokens(smsClient, endpoints))
	}
	handler := api.NewHandler(logger, store, handlerOpts...)

	// Background work: event consumers, email retries, websocket heartbeat.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	bg, bgCtx := errgroup.WithContext(bgCtx)

	consumers, err := newConsumers(ctx, cfg, proc, logger)
	if err != nil {
		return err
	}
	for _, c := range consumers {
		defer c.Close()
		bg.Go(func() error { return c.Run(bgCtx) })
	}

	if retryRepo != nil {
		w := worker.New(retryRepo, dispatcher, worker.Config{
			PollInterval: cfg.EmailRetryInterval,
			MaxRetries:   cfg.EmailMaxRetries,
		}, logger)
		bg.Go(func() error {
			w.Start(bgCtx)
			return nil
		})
	}

	bg.Go(func() error {
		hub.Heartbeat(bgCtx, heartbeatInterval)
		return nil
	})

	scheduler := worker.NewScheduler(logger)
	if err := scheduler.Register(cfg.RetentionSchedule, worker.NewRetentionJob(base, cfg.RetentionMaxAge(), logger)); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	scheduler.Start()

	logger.Info("background workers started",
		zap.Int("consumers", len(consumers)),
		zap.Bool("email_retries", retryRepo != nil),
		zap.Bool("email_enabled", dispatcher.Configured()),
		zap.Bool("sms_enabled", smsClient != nil),
	)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, rateLimiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal, a server error or a consumer failure
	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case <-bgCtx.Done():
		runErr = fmt.Errorf("background worker stopped: %w", bg.Wait())
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		runErr = errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	scheduler.Stop(shutdownCtx)
	bgCancel()
	if err := bg.Wait(); err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = err
	}

	logger.Info("server stopped")
	return runErr
}

// newDispatcher builds the order email dispatcher for the configured
// provider. A dispatcher that fails Init stays unconfigured and the pipeline
// skips emails.
func newDispatcher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*email.Dispatcher, *circuitbreaker.CircuitBreaker, error) {
	var provider email.Provider
	switch cfg.EmailProvider {
	case "resend":
		provider = email.NewResendProvider()
	case "ses":
		ses, err := email.NewSESProvider(ctx, email.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SES email provider: %w", err)
		}
		provider = ses
	default:
		provider = email.NewLogProvider(logger)
	}

	protected := email.Protect(provider, circuitbreaker.New(circuitbreaker.DefaultConfig("email-"+provider.Name()), logger))
	dispatcher := email.NewDispatcher(protected, logger)
	_ = dispatcher.Init(email.Config{
		ServiceID:  cfg.EmailServiceID,
		TemplateID: cfg.EmailTemplateID,
		PublicKey:  cfg.EmailPublicKey,
		From:       cfg.EmailFrom,
	})
	return dispatcher, protected.Breaker(), nil
}

func newConsumers(ctx context.Context, cfg *config.Config, handler events.Handler, logger *zap.Logger) ([]events.Consumer, error) {
	var consumers []events.Consumer

	if cfg.SQSQueueURL != "" {
		c, err := events.NewSQSConsumer(ctx, events.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, handler, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS consumer: %w", err)
		}
		consumers = append(consumers, c)
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		c, err := events.NewKafkaConsumer(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, handler, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		consumers = append(consumers, c)
	}

	if len(consumers) == 0 {
		logger.Info("no event source configured, events accepted over HTTP only")
	}
	return consumers, nil
}
