package providers

import (
	"github.com/sirupsen/logrus"

	"shipping-rates-service/internal/models"
)

// Registry holds the configured provider adapters, each behind a circuit
// breaker. Disabled providers are simply absent.
type Registry struct {
	providers map[models.ProviderType]Provider
	logger    *logrus.Entry
}

// NewRegistry builds the registry from per-provider configs
func NewRegistry(configs map[models.ProviderType]Config, logger *logrus.Logger) *Registry {
	entry := logger.WithField("component", "providers.registry")
	r := &Registry{
		providers: make(map[models.ProviderType]Provider),
		logger:    entry,
	}

	for providerType, cfg := range configs {
		if !cfg.Enabled {
			entry.WithField("provider", providerType).Debug("provider disabled")
			continue
		}
		var p Provider
		switch providerType {
		case models.ProviderDelhivery:
			p = NewDelhiveryProvider(cfg)
		case models.ProviderShiprocket:
			p = NewShiprocketProvider(cfg)
		default:
			entry.WithField("provider", providerType).Warn("unknown provider type, skipping")
			continue
		}
		r.providers[providerType] = Wrap(p)
		entry.WithField("provider", providerType).Info("provider initialized")
	}
	return r
}

// Get returns the provider adapter for a type, if configured
func (r *Registry) Get(providerType models.ProviderType) (Provider, bool) {
	p, ok := r.providers[providerType]
	return p, ok
}

// Register adds or replaces a provider. Used by tests to inject fakes.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Types lists the configured provider types
func (r *Registry) Types() []models.ProviderType {
	out := make([]models.ProviderType, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	return out
}

// NewEmptyRegistry returns a registry with no providers. Used by tests.
func NewEmptyRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		providers: make(map[models.ProviderType]Provider),
		logger:    logger.WithField("component", "providers.registry"),
	}
}
