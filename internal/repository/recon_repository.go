package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shipping-rates-service/internal/models"
)

// ReconRepository handles billing records and variance cases
type ReconRepository interface {
	UpsertBillingRecord(ctx context.Context, record *models.BillingRecord) (created bool, err error)
	GetCaseByBillingRecord(ctx context.Context, tenantID string, billingRecordID uuid.UUID) (*models.VarianceCase, error)
	SaveCase(ctx context.Context, varianceCase *models.VarianceCase) error
	GetCase(ctx context.Context, id uuid.UUID, tenantID string) (*models.VarianceCase, error)
	ListCases(ctx context.Context, tenantID string, status models.VarianceStatus, limit, offset int) ([]*models.VarianceCase, int64, error)
}

type reconRepository struct {
	db *gorm.DB
}

// NewReconRepository creates a new reconciliation repository
func NewReconRepository(db *gorm.DB) ReconRepository {
	return &reconRepository{db: db}
}

// UpsertBillingRecord inserts the record or no-ops when its natural key
// already exists; re-importing the same billing batch is safe.
func (r *reconRepository) UpsertBillingRecord(ctx context.Context, record *models.BillingRecord) (bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	var existing models.BillingRecord
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ? AND awb = ? AND source = ? AND amount = ? AND billed_at = ? AND invoice_ref = ?",
			record.TenantID, record.Provider, record.AWB, record.Source, record.Amount, record.BilledAt, record.InvoiceRef).
		First(&existing).Error
	if err == nil {
		*record = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	// The unique index backs this up against concurrent importers
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the insert race; adopt the winner's row so downstream case
		// upserts key on the stored record ID.
		err := r.db.WithContext(ctx).
			Where("tenant_id = ? AND provider = ? AND awb = ? AND source = ? AND amount = ? AND billed_at = ? AND invoice_ref = ?",
				record.TenantID, record.Provider, record.AWB, record.Source, record.Amount, record.BilledAt, record.InvoiceRef).
			First(&existing).Error
		if err != nil {
			return false, err
		}
		*record = existing
		return false, nil
	}
	return true, nil
}

// GetCaseByBillingRecord returns the case for a billing record, or nil
func (r *reconRepository) GetCaseByBillingRecord(ctx context.Context, tenantID string, billingRecordID uuid.UUID) (*models.VarianceCase, error) {
	var varianceCase models.VarianceCase
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND billing_record_id = ?", tenantID, billingRecordID).
		First(&varianceCase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &varianceCase, nil
}

// SaveCase persists a variance case
func (r *reconRepository) SaveCase(ctx context.Context, varianceCase *models.VarianceCase) error {
	if varianceCase.ID == uuid.Nil {
		varianceCase.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Save(varianceCase).Error
}

// GetCase retrieves a variance case by id
func (r *reconRepository) GetCase(ctx context.Context, id uuid.UUID, tenantID string) (*models.VarianceCase, error) {
	var varianceCase models.VarianceCase
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&varianceCase).Error
	if err != nil {
		return nil, err
	}
	return &varianceCase, nil
}

// ListCases lists variance cases, optionally filtered by status
func (r *reconRepository) ListCases(ctx context.Context, tenantID string, status models.VarianceStatus, limit, offset int) ([]*models.VarianceCase, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.VarianceCase{}).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var cases []*models.VarianceCase
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&cases).Error
	if err != nil {
		return nil, 0, err
	}
	return cases, total, nil
}
