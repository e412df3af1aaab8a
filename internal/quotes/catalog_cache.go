package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/repository"
)

const catalogCacheTTL = 5 * time.Minute

// CatalogCache is a read-through cache over the rate-card repository. It
// keeps catalog and rate-card lookups out of the orchestrator's hot path and
// lets tests run against an in-memory fake repository.
type CatalogCache struct {
	repo repository.RateCardRepository

	mu       sync.RWMutex
	services map[string]servicesEntry
	cards    map[string]cardEntry
	now      func() time.Time
}

type servicesEntry struct {
	services  []models.ServiceCatalogEntry
	expiresAt time.Time
}

type cardEntry struct {
	card      *models.RateCard
	expiresAt time.Time
}

// NewCatalogCache creates a read-through cache over the repository
func NewCatalogCache(repo repository.RateCardRepository) *CatalogCache {
	return &CatalogCache{
		repo:     repo,
		services: make(map[string]servicesEntry),
		cards:    make(map[string]cardEntry),
		now:      time.Now,
	}
}

// ActiveServices returns the active catalog entries for a tenant
func (c *CatalogCache) ActiveServices(ctx context.Context, tenantID string) ([]models.ServiceCatalogEntry, error) {
	c.mu.RLock()
	entry, ok := c.services[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.services, nil
	}

	services, err := c.repo.ListActiveServices(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load active services: %w", err)
	}

	c.mu.Lock()
	c.services[tenantID] = servicesEntry{services: services, expiresAt: c.now().Add(catalogCacheTTL)}
	c.mu.Unlock()
	return services, nil
}

// ActiveCard returns the active rate card for (tenant, service, cardType) at
// the given instant. A missing card is cached too: the fallback price path
// should not hammer the database.
func (c *CatalogCache) ActiveCard(ctx context.Context, tenantID string, serviceID uuid.UUID, cardType models.RateCardType, at time.Time) (*models.RateCard, error) {
	key := fmt.Sprintf("%s|%s|%s", tenantID, serviceID, cardType)

	c.mu.RLock()
	entry, ok := c.cards[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.card, nil
	}

	card, err := c.repo.GetActiveCard(ctx, tenantID, serviceID, cardType, at)
	if err != nil {
		return nil, fmt.Errorf("load rate card: %w", err)
	}

	c.mu.Lock()
	c.cards[key] = cardEntry{card: card, expiresAt: c.now().Add(catalogCacheTTL)}
	c.mu.Unlock()
	return card, nil
}

// Invalidate drops all cached entries for a tenant. Called when rate cards
// or catalog entries change.
func (c *CatalogCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, tenantID)
	for key := range c.cards {
		if len(key) > len(tenantID) && key[:len(tenantID)] == tenantID && key[len(tenantID)] == '|' {
			delete(c.cards, key)
		}
	}
}
