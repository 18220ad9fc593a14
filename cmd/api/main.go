package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/registry-certs/api/internal/di"
	"github.com/registry-certs/api/internal/handlers"
	"github.com/registry-certs/api/internal/payments"
	"github.com/registry-certs/api/internal/platform/auth"
	"github.com/registry-certs/api/internal/platform/config"
	pfirestore "github.com/registry-certs/api/internal/platform/firestore"
	"github.com/registry-certs/api/internal/platform/idempotency"
	"github.com/registry-certs/api/internal/platform/jobs"
	"github.com/registry-certs/api/internal/platform/observability"
	"github.com/registry-certs/api/internal/platform/secrets"
	platformstorage "github.com/registry-certs/api/internal/platform/storage"
	"github.com/registry-certs/api/internal/repositories"
	firestoreRepo "github.com/registry-certs/api/internal/repositories/firestore"
	"github.com/registry-certs/api/internal/services"
)

const (
	localEnvironment = "local"

	submitRateLimit  = 30
	submitRateWindow = time.Minute
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

	registry, err := firestoreRepo.NewRegistry(firestoreProvider,
		firestoreRepo.WithRegistryDependencyChecks(secretManagerCheck(fetcher)),
	)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	storageClient, err := gcs.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	objectDeleter, err := platformstorage.NewDeleter(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise object deleter", zap.Error(err))
	}

	paymentsLogger := logger.Named("payments")
	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:   cfg.Stripe.APIKey,
		Currency: cfg.Stripe.Currency,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			paymentsLogger.Debug("stripe log", zFields...)
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}

	receiptPublisher, closeReceipts, err := newReceiptPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise receipt publisher", zap.Error(err))
	}
	if receiptPublisher == nil {
		logger.Warn("receipts: topic not configured; settlement receipts will not be dispatched")
	}
	defer closeReceipts()

	container, err := di.NewContainer(ctx, cfg, registry, di.Externals{
		Gateway:  gateway,
		Receipts: receiptPublisher,
		Objects:  objectDeleter,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg)

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders,
		handlers.WithOrderSubmitLimit(submitRateLimit, submitRateWindow),
	)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Webhooks, cfg.Stripe.WebhookSecret)
	fulfillmentHandlers := handlers.NewFulfillmentHandlers(container.Services.Fulfillment)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(fulfillmentHandlers.Routes),
	}
	if hmacMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(hmacMiddleware))
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
		serverLogger.Info("registry-certs api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
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
		environment = localEnvironment
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newReceiptPublisher builds the Pub/Sub publisher for settlement receipts.
// An unset topic disables dispatch rather than failing startup; the webhook
// service tolerates a nil publisher.
func newReceiptPublisher(ctx context.Context, cfg config.Config) (services.ReceiptPublisher, func(), error) {
	topicName := strings.TrimSpace(cfg.Receipts.Topic)
	if topicName == "" {
		return nil, func() {}, nil
	}

	projectID := strings.TrimSpace(cfg.Receipts.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, func() {}, fmt.Errorf("pubsub client: %w", err)
	}

	topic := client.Topic(topicName)
	publisher, err := jobs.NewPubSubReceiptPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, func() {}, err
	}

	closeFn := func() {
		topic.Stop()
		_ = client.Close()
	}
	return publisher, closeFn, nil
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const healthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, healthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

// buildHMACMiddleware guards the internal fulfillment routes. Signing is
// skipped only in the local environment; every deployed environment must
// configure at least one secret.
func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	environment := strings.ToLower(strings.TrimSpace(cfg.Security.Environment))
	if environment == "" {
		environment = localEnvironment
	}

	names := make([]string, 0, len(cfg.Security.HMAC.Secrets))
	secretValues := make(map[string]string, len(cfg.Security.HMAC.Secrets))
	for name, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		secretValues[key] = value
		names = append(names, key)
	}

	if len(secretValues) == 0 {
		if environment == localEnvironment {
			logger.Warn("auth: hmac secrets not configured; internal routes are unsigned in local")
			return nil
		}
		logger.Fatal("auth: hmac secrets are required outside the local environment")
	}

	sort.Strings(names)
	secretName := names[0]
	if _, ok := secretValues["fulfillment"]; ok {
		secretName = "fulfillment"
	}

	provider := staticSecretProvider{secrets: secretValues}
	nonces := auth.NewInMemoryNonceStore()
	validator := auth.NewHMACValidator(provider, nonces,
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, ""),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
	)
	return validator.RequireHMAC(secretName)
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = localEnvironment
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(lowercaseKeys(projectMap)))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Stripe.APIKey",
		"Stripe.WebhookSecret",
	}

	hmacRaw := ""
	if env != nil {
		hmacRaw = strings.TrimSpace(env["API_SECURITY_HMAC_SECRETS"])
	}
	for key := range parseKeyValueList(hmacRaw) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", strings.ToLower(key)))
	}

	sort.Strings(required)
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func lowercaseKeys(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[strings.ToLower(key)] = value
	}
	return out
}
