package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shipping-rates-service/internal/models"
)

// RateCardRepository handles catalog, rate-card, and seller-policy reads
type RateCardRepository interface {
	ListActiveServices(ctx context.Context, tenantID string) ([]models.ServiceCatalogEntry, error)
	GetActiveCard(ctx context.Context, tenantID string, serviceID uuid.UUID, cardType models.RateCardType, at time.Time) (*models.RateCard, error)
	GetSellerPolicy(ctx context.Context, tenantID, sellerID string) (*models.SellerPolicy, error)
	SaveCard(ctx context.Context, card *models.RateCard) error
}

type rateCardRepository struct {
	db *gorm.DB
}

// NewRateCardRepository creates a new rate card repository
func NewRateCardRepository(db *gorm.DB) RateCardRepository {
	return &rateCardRepository{db: db}
}

// ListActiveServices returns the active service catalog for a tenant
func (r *rateCardRepository) ListActiveServices(ctx context.Context, tenantID string) ([]models.ServiceCatalogEntry, error) {
	var services []models.ServiceCatalogEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("provider, service_code").
		Find(&services).Error
	if err != nil {
		return nil, err
	}
	return services, nil
}

// GetActiveCard returns the card whose effective window contains the given
// instant, or nil when no card is active (the caller falls back to the flat
// heuristic).
func (r *rateCardRepository) GetActiveCard(ctx context.Context, tenantID string, serviceID uuid.UUID, cardType models.RateCardType, at time.Time) (*models.RateCard, error) {
	var card models.RateCard
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND service_id = ? AND card_type = ?", tenantID, serviceID, cardType).
		Where("effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)", at, at).
		Order("effective_from DESC").
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetSellerPolicy returns the seller's policy, or nil when none is stored
func (r *rateCardRepository) GetSellerPolicy(ctx context.Context, tenantID, sellerID string) (*models.SellerPolicy, error) {
	var policy models.SellerPolicy
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND seller_id = ?", tenantID, sellerID).
		First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// SaveCard persists a rate card after checking that its effective window
// does not overlap an existing card for the same (tenant, service, cardType).
func (r *rateCardRepository) SaveCard(ctx context.Context, card *models.RateCard) error {
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}

	// Windows [a, b) and [c, d) overlap iff a < d and c < b; a nil end is open
	query := r.db.WithContext(ctx).Model(&models.RateCard{}).
		Where("tenant_id = ? AND service_id = ? AND card_type = ? AND id <> ?",
			card.TenantID, card.ServiceID, card.CardType, card.ID).
		Where("effective_from < ?", endOrMax(card.EffectiveTo)).
		Where("effective_to IS NULL OR effective_to > ?", card.EffectiveFrom)

	var overlapping int64
	if err := query.Count(&overlapping).Error; err != nil {
		return err
	}
	if overlapping > 0 {
		return fmt.Errorf("effective window overlaps an existing %s card for service %s", card.CardType, card.ServiceID)
	}
	return r.db.WithContext(ctx).Save(card).Error
}

func endOrMax(t *time.Time) time.Time {
	if t == nil {
		// Open-ended windows overlap everything after their start
		return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return *t
}
