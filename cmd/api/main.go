package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tabitours/api/internal/handlers"
	"github.com/tabitours/api/internal/payments"
	"github.com/tabitours/api/internal/platform/auth"
	"github.com/tabitours/api/internal/platform/config"
	"github.com/tabitours/api/internal/platform/events"
	pfirestore "github.com/tabitours/api/internal/platform/firestore"
	"github.com/tabitours/api/internal/platform/idempotency"
	"github.com/tabitours/api/internal/platform/observability"
	"github.com/tabitours/api/internal/platform/secrets"
	platformstorage "github.com/tabitours/api/internal/platform/storage"
	"github.com/tabitours/api/internal/repositories"
	firestoreRepo "github.com/tabitours/api/internal/repositories/firestore"
	"github.com/tabitours/api/internal/services"
)

const (
	catalogLoadTimeout  = 30 * time.Second
	quoteRateLimit      = 120
	quoteRateWindow     = time.Minute
	shutdownGracePeriod = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	publisher, topic, closePubSub := newBookingPublisher(ctx, logger, cfg)
	defer closePubSub()

	archive, closeStorage := newWebhookArchive(ctx, logger, cfg)
	defer closeStorage()

	catalogRepo, err := firestoreRepo.NewCatalogRepository(firestoreProvider, cfg.Catalog.Currency)
	if err != nil {
		logger.Fatal("failed to initialise catalog repository", zap.Error(err))
	}
	loadCtx, cancelLoad := context.WithTimeout(ctx, catalogLoadTimeout)
	catalog, err := catalogRepo.LoadCatalog(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Fatal("failed to load pricing catalog", zap.Error(err))
	}
	registry, err := services.NewPricingRegistry(catalog)
	if err != nil {
		logger.Fatal("pricing catalog is invalid", zap.Error(err))
	}
	logger.Info("pricing catalog loaded",
		zap.String("currency", catalog.Currency),
		zap.Int("products", len(catalog.Products)),
		zap.Int("locations", len(catalog.Locations)),
		zap.Int("addOns", len(catalog.AddOns)),
	)

	bookingRepo, err := firestoreRepo.NewBookingRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise booking repository", zap.Error(err))
	}
	paymentRepo, err := firestoreRepo.NewPaymentRecordRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment record repository", zap.Error(err))
	}

	gateways, err := newGatewayManager(logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}

	ledger := idempotency.NewFirestoreStore(firestoreClient)

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Registry: registry,
		Logger:   observability.EventLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}
	cartAggregator, err := services.NewCartAggregator(services.CartAggregatorDeps{
		Registry: registry,
		Logger:   observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart aggregator", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pricing:  pricingEngine,
		Cart:     cartAggregator,
		Bookings: bookingRepo,
		Ledger:   ledger,
		Gateways: gateways,
		Events:   publisher,
		Logger:   observability.EventLogger(logger.Named("checkout")),
		Config: services.CheckoutConfig{
			CatalogCurrency:     registry.Currency(),
			DefaultCurrency:     cfg.Checkout.DefaultCurrency,
			QRCurrency:          cfg.Checkout.QRCurrency,
			ReturnURLBase:       cfg.Checkout.ReturnURLBase,
			StatementDescriptor: cfg.Checkout.StatementDescriptor,
			TransferAddOnID:     cfg.Checkout.TransferAddOnID,
			CallTimeout:         cfg.Gateway.CallTimeout,
			LedgerTTL:           cfg.Checkout.IdempotencyTTL,
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	reconciler, err := services.NewWebhookReconciler(services.WebhookReconcilerDeps{
		Bookings: bookingRepo,
		Payments: paymentRepo,
		Archive:  archive,
		Events:   publisher,
		Logger:   observability.EventLogger(logger.Named("webhooks")),
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook reconciler", zap.Error(err))
	}

	bookingService, err := services.NewBookingService(services.BookingServiceDeps{
		Bookings:      bookingRepo,
		Gateways:      gateways,
		LookupTimeout: cfg.Gateway.CallTimeout,
		Logger:        observability.EventLogger(logger.Named("bookings")),
	})
	if err != nil {
		logger.Fatal("failed to initialise booking service", zap.Error(err))
	}

	reaper, err := services.NewBookingReaper(services.BookingReaperDeps{
		Bookings:   bookingRepo,
		Events:     publisher,
		PendingTTL: cfg.Reaper.PendingTTL,
		BatchSize:  cfg.Reaper.BatchSize,
		Logger:     observability.EventLogger(logger.Named("reaper")),
	})
	if err != nil {
		logger.Fatal("failed to initialise booking reaper", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, fetcher, topic, registry, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	jobsCtx, cancelJobs := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var jobsWG sync.WaitGroup
	startTicker(jobsCtx, &jobsWG, cfg.Checkout.CleanupInterval, func(runCtx context.Context) {
		removed, err := ledger.CleanupExpired(runCtx, time.Now().UTC(), cfg.Checkout.CleanupBatchSize)
		if err != nil {
			logger.Named("idempotency").Error("checkout ledger cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Named("idempotency").Info("checkout ledger cleanup removed records", zap.Int("count", removed))
		}
	})
	if cfg.Reaper.Enabled {
		startTicker(jobsCtx, &jobsWG, cfg.Reaper.Interval, func(runCtx context.Context) {
			result, err := reaper.Sweep(runCtx)
			if err != nil {
				logger.Named("reaper").Error("booking sweep error", zap.Error(err))
				return
			}
			if result.Expired > 0 || result.Failed > 0 {
				logger.Named("reaper").Info("booking sweep completed",
					zap.Int("scanned", result.Scanned),
					zap.Int("expired", result.Expired),
					zap.Int("skipped", result.Skipped),
					zap.Int("failed", result.Failed),
				)
			}
		})
	}

	metrics := observability.NewVerificationMetrics(otel.Meter("github.com/tabitours/api"), logger.Named("metrics"))
	authLogger := observability.NewPrintfAdapter(logger.Named("auth"))

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	signatureVerifier := auth.NewWebhookSignatureVerifier(cfg.Gateway.WebhookSecret,
		auth.WithLiveMode(cfg.Gateway.LiveMode),
		auth.WithSignatureTolerance(cfg.Gateway.SignatureTolerance),
		auth.WithSignatureLogger(authLogger),
		auth.WithSignatureMetrics(metrics),
	)
	if !signatureVerifier.Enabled() {
		logger.Warn("webhook secret not configured; paymongo webhooks are accepted without signature verification")
	}
	stripeVerifier := auth.NewStripeSignatureVerifier(cfg.Gateway.StripeWebhookSecret,
		auth.WithSignatureTolerance(cfg.Gateway.SignatureTolerance),
		auth.WithSignatureLogger(authLogger),
		auth.WithSignatureMetrics(metrics),
	)
	if !stripeVerifier.Enabled() {
		logger.Warn("stripe webhook secret not configured; stripe webhooks are accepted without signature verification")
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthSystemService(systemService),
			handlers.WithHealthBuildInfo(buildInfo),
		)),
		handlers.WithQuoteRoutes(handlers.NewQuoteHandlers(pricingEngine, cartAggregator,
			handlers.WithQuoteRateLimit(quoteRateLimit, quoteRateWindow),
		).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(checkoutService,
			handlers.WithIdempotencyHeader(cfg.Checkout.IdempotencyHeader),
		).Routes),
		handlers.WithBookingRoutes(handlers.NewBookingHandlers(bookingService).Routes),
		handlers.WithCustomerMiddlewares(authenticator.RequireCustomer()),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(reconciler, nil,
			handlers.WithPayMongoVerification(signatureVerifier.RequireSignature()),
			handlers.WithStripeVerification(stripeVerifier.RequireSignature()),
		).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalJobHandlers(reaper).Routes),
	}
	if oidc := buildOIDCMiddleware(authLogger, metrics, cfg); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	} else {
		logger.Warn("oidc audience not configured; internal routes are disabled")
		opts = append(opts, handlers.WithInternalMiddlewares(denyAll))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("tabitours api listening", zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cancelJobs()
	jobsWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// startTicker runs fn every interval until ctx is cancelled. Each run gets its own timeout.
func startTicker(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func newBookingPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.BookingEventPublisher, *pubsub.Topic, func()) {
	noop := func() {}
	if strings.TrimSpace(cfg.PubSub.BookingEventsTopic) == "" {
		logger.Warn("booking events topic not configured; events are not published")
		return nil, nil, noop
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	topic := client.Topic(cfg.PubSub.BookingEventsTopic)
	topic.EnableMessageOrdering = true
	publisher, err := events.NewPubSubBookingPublisher(topic)
	if err != nil {
		logger.Fatal("failed to initialise booking publisher", zap.Error(err))
	}
	return publisher, topic, func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func newWebhookArchive(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.WebhookArchiver, func()) {
	noop := func() {}
	if strings.TrimSpace(cfg.Storage.WebhookArchiveBucket) == "" {
		logger.Warn("webhook archive bucket not configured; payloads are not archived")
		return nil, noop
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	writer, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		logger.Fatal("failed to initialise storage writer", zap.Error(err))
	}
	archive, err := platformstorage.NewWebhookArchive(writer, cfg.Storage.WebhookArchiveBucket, cfg.Storage.WebhookArchivePrefix)
	if err != nil {
		logger.Fatal("failed to initialise webhook archive", zap.Error(err))
	}
	return archive, func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
}

func newGatewayManager(logger *zap.Logger, cfg config.Config) (*payments.Manager, error) {
	providers := make(map[string]payments.Gateway, 2)

	paymongo, err := payments.NewPayMongoProvider(payments.PayMongoConfig{
		SecretKey:           cfg.Gateway.PayMongoSecretKey,
		BaseURL:             cfg.Gateway.PayMongoBaseURL,
		HTTPClient:          &http.Client{Timeout: cfg.Gateway.CallTimeout},
		Logger:              observability.EventLogger(logger.Named("paymongo")),
		StatusRetryAttempts: cfg.Gateway.StatusRetries,
		Backoff: gax.Backoff{
			Initial:    200 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
	})
	if err != nil {
		return nil, err
	}
	providers["paymongo"] = paymongo

	if strings.TrimSpace(cfg.Gateway.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.Gateway.StripeAPIKey,
			AccountID: cfg.Gateway.StripeAccountID,
			Logger:    observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripeProvider
	}

	return payments.NewManager(providers,
		payments.WithDefaultProvider(cfg.Gateway.DefaultProvider),
		payments.WithCurrencyRoutes(cfg.Gateway.CurrencyRoutes),
	)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(client *firestore.Client, fetcher *secrets.Fetcher, topic *pubsub.Topic, registry *services.PricingRegistry, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secret_manager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Registry:         registry,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildOIDCMiddleware(logger auth.Logger, metrics auth.MetricsRecorder, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" || audience == "" {
		return nil
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMetrics(metrics),
	)
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"internal_routes_disabled","message":"internal routes are not configured","status":403}` + "\n"))
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/tabitours/api/internal/platform/secrets")),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a value. Local environments may run
// without a webhook secret; signature checks are then skipped with a warning.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Gateway.PayMongoSecretKey"}
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment != "" && environment != "local" {
		required = append(required, "Gateway.WebhookSecret")
	}
	if strings.TrimSpace(env["API_GATEWAY_STRIPE_API_KEY"]) != "" {
		required = append(required, "Gateway.StripeAPIKey")
		if environment != "" && environment != "local" {
			required = append(required, "Gateway.StripeWebhookSecret")
		}
	}
	return required
}
