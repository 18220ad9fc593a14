package di

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/payments"
	"github.com/registry-certs/api/internal/platform/config"
	"github.com/registry-certs/api/internal/repositories"
	"github.com/registry-certs/api/internal/services"
)

// Externals bundles collaborators that live outside the repository registry:
// the payment gateway, the receipt job publisher, the upload object store,
// and the process logger. Tests can supply stubs for any of them.
type Externals struct {
	Gateway  payments.Gateway
	Receipts services.ReceiptPublisher
	Objects  services.UploadObjectDeleter
	Logger   *zap.Logger
}

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders      services.OrderService
	Webhooks    services.WebhookService
	Fulfillment services.FulfillmentService
	System      services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries and stub
// externals.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, ext Externals) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if ext.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(ctx, cfg, reg, ext)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, cfg config.Config, reg repositories.Registry, ext Externals) (Services, error) {
	var svc Services

	logger := ext.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logEvent := eventLogger(logger)
	reportError := errorReporter(logger)

	fees := domain.FeeSchedule{
		CreditFixedFee:   cfg.Fees.CreditFixedFeeCents,
		CreditPercentage: cfg.Fees.CreditPercentage,
		DebitFlatFee:     cfg.Fees.DebitFlatFeeCents,
	}
	prices := services.PriceList{
		BirthCertificateCost:    cfg.Pricing.BirthCertificateCost,
		DeathCertificateCost:    cfg.Pricing.DeathCertificateCost,
		MarriageCertificateCost: cfg.Pricing.MarriageCertificateCost,
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Sessions:    reg.UploadSessions(),
		Gateway:     ext.Gateway,
		Fees:        fees,
		Prices:      prices,
		Clock:       time.Now,
		Logger:      logEvent,
		ErrorReport: reportError,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	webhookSvc, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:      reg.Orders(),
		Receipts:    ext.Receipts,
		Clock:       time.Now,
		Logger:      logEvent,
		ErrorReport: reportError,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook service: %w", err)
	}
	svc.Webhooks = webhookSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:       reg.Orders(),
		Sessions:     reg.UploadSessions(),
		Audit:        reg.FulfillmentAudit(),
		Gateway:      ext.Gateway,
		Objects:      ext.Objects,
		UploadBucket: cfg.Uploads.Bucket,
		Clock:        time.Now,
		Logger:       logEvent,
		ErrorReport:  reportError,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build: services.BuildInfo{
				Environment: cfg.Security.Environment,
				StartedAt:   time.Now().UTC(),
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// eventLogger adapts the zap logger to the event callback the services expect.
func eventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		logger.Info(event, zapFields(fields)...)
	}
}

// errorReporter adapts the zap logger to the error callback the services expect.
func errorReporter(logger *zap.Logger) func(context.Context, error, map[string]any) {
	return func(_ context.Context, err error, fields map[string]any) {
		logger.Error("internal error", append(zapFields(fields), zap.Error(err))...)
	}
}

func zapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, zap.Any(key, fields[key]))
	}
	return out
}
