package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/registry-certs/api/internal/platform/firestore"
	"github.com/registry-certs/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface. Close releases the shared client.
type Registry struct {
	provider *pfirestore.Provider

	orders           *OrderRepository
	uploadSessions   *UploadSessionRepository
	fulfillmentAudit *FulfillmentAuditRepository
	health           repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	orderOpts   []OrderRepositoryOption
	sessionOpts []UploadSessionRepositoryOption
	auditOpts   []FulfillmentAuditRepositoryOption
	extraChecks []repositories.DependencyCheck
}

// WithRegistryOrderOptions forwards options to the order repository.
func WithRegistryOrderOptions(opts ...OrderRepositoryOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.orderOpts = append(cfg.orderOpts, opts...)
	}
}

// WithRegistryUploadSessionOptions forwards options to the upload session repository.
func WithRegistryUploadSessionOptions(opts ...UploadSessionRepositoryOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.sessionOpts = append(cfg.sessionOpts, opts...)
	}
}

// WithRegistryAuditOptions forwards options to the fulfillment audit repository.
func WithRegistryAuditOptions(opts ...FulfillmentAuditRepositoryOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.auditOpts = append(cfg.auditOpts, opts...)
	}
}

// WithRegistryDependencyChecks adds readiness probes beyond the built-in Firestore check.
func WithRegistryDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.extraChecks = append(cfg.extraChecks, checks...)
	}
}

// NewRegistry wires the repositories onto a shared Firestore provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	orders, err := NewOrderRepository(provider, cfg.orderOpts...)
	if err != nil {
		return nil, err
	}
	sessions, err := NewUploadSessionRepository(provider, cfg.sessionOpts...)
	if err != nil {
		return nil, err
	}
	audit, err := NewFulfillmentAuditRepository(provider, cfg.auditOpts...)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	}, cfg.extraChecks...)

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:         provider,
		orders:           orders,
		uploadSessions:   sessions,
		fulfillmentAudit: audit,
		health:           health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) UploadSessions() repositories.UploadSessionRepository { return r.uploadSessions }

func (r *Registry) FulfillmentAudit() repositories.FulfillmentAuditRepository {
	return r.fulfillmentAudit
}

func (r *Registry) Health() repositories.HealthRepository { return r.health }

var _ repositories.Registry = (*Registry)(nil)
