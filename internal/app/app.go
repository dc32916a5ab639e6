package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/commerce"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/paywidget"
	"github.com/xenking/storefront/internal/storage/postgres"
	redisstore "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the storefront.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, pool.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second), health.WithThresholds(5, 1))

	// Cart sessions: Redis when configured, memory otherwise.
	var cartRepo cart.Repository
	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Warn("Close redis", zap.Error(err))
			}
		}()
		cartRepo = redisstore.NewCartRepository(rdb, cfg.Redis.CartTTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb), health.Optional())
	} else {
		lg.Warn("Redis not configured, carts are kept in memory")
	}

	// Journal, ledger and events.
	journal := postgres.NewJournalRepository(pool)
	reporters := events.Reporters{postgres.NewReconciliationRepository(pool)}
	var notifier checkout.Notifier = events.NewLogNotifier(lg.Named("events"))
	if brokers := events.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		pub := events.NewPublisher(
			events.NewWriter(brokers, cfg.Kafka.OutcomesTopic),
			events.NewWriter(brokers, cfg.Kafka.InconsistenciesTopic),
		)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		notifier = pub
		reporters = append(reporters, pub)
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(brokers), health.Optional())
	}

	// External gateways.
	orders, err := commerce.New(commerce.Config{
		BaseURL:        cfg.Commerce.BaseURL,
		ConsumerKey:    cfg.Commerce.ConsumerKey,
		ConsumerSecret: cfg.Commerce.ConsumerSecret,
		Timeout:        cfg.Commerce.Timeout,
	}, commerce.WithLogger(lg.Named("commerce")))
	if err != nil {
		return errors.Wrap(err, "create commerce client")
	}
	widget, err := paywidget.New(paywidget.Config{
		BaseURL:        cfg.Payment.BaseURL,
		KeyID:          cfg.Payment.KeyID,
		KeySecret:      cfg.Payment.KeySecret,
		Timeout:        cfg.Payment.Timeout,
		SessionTimeout: cfg.Payment.SessionTimeout,
	}, paywidget.WithLogger(lg.Named("paywidget")))
	if err != nil {
		return errors.Wrap(err, "create payment adapter")
	}
	defer widget.Close()

	orch, err := checkout.New(orders, widget, checkout.Config{
		Currency:        cfg.Payment.Currency,
		FinalizeTimeout: cfg.Checkout.FinalizeTimeout,
		CancelTimeout:   cfg.Checkout.CancelTimeout,
		StatusAttempts:  cfg.Checkout.StatusAttempts,
		RetryInterval:   cfg.Checkout.RetryInterval,
		Retention:       cfg.Checkout.Retention,
		PublishTimeout:  cfg.Checkout.PublishTimeout,
	},
		checkout.WithJournal(journal),
		checkout.WithReporter(reporters),
		checkout.WithNotifier(notifier),
		checkout.WithLogger(lg.Named("checkout")),
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout orchestrator")
	}

	sessions := cart.NewSessions(cartRepo, lg.Named("cart"),
		cart.WithIdleTimeout(cfg.Session.IdleTimeout),
		cart.WithKeepAlive(func(sessionID string) bool {
			_, busy := orch.Active(sessionID)
			return busy
		}),
	)
	sessions.Run(ctx)

	// HTTP.
	instrument, err := httpmiddleware.Instrument("storefront", m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "http instruments")
	}
	h := handler.New(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		MaxWait:      cfg.Checkout.MaxWait,
		CheckoutLimit: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Rate:  cfg.Checkout.RateLimit.Rate,
			Burst: cfg.Checkout.RateLimit.Burst,
		}),
	}, postgres.NewProductRepository(pool), sessions, orch, widget)

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		instrument,
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.Session(httpmiddleware.SessionConfig{
			CookieName: cfg.Session.CookieName,
			MaxAge:     cfg.Session.MaxAge,
			Secure:     cfg.Session.Secure,
		}))
		h.Routes(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Long-polled checkout status must fit.
		WriteTimeout:   cfg.Checkout.MaxWait + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        r,
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		err := server.Shutdown(shutdownCtx)
		healthSvc.Stop()
		return errors.Wrap(err, "shutdown")
	})

	return g.Wait()
}
