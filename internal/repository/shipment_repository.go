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

// ShipmentRepository handles database operations for shipments
type ShipmentRepository interface {
	Create(ctx context.Context, shipment *models.Shipment) error
	GetByID(ctx context.Context, id uuid.UUID, tenantID string) (*models.Shipment, error)
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Shipment, error)
	GetByAWB(ctx context.Context, awb string, tenantID string) (*models.Shipment, error)
	GetByAWBGlobal(ctx context.Context, awb string) (*models.Shipment, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Shipment, int64, error)
	Update(ctx context.Context, shipment *models.Shipment) error
	UpdateStatusVersioned(ctx context.Context, id uuid.UUID, tenantID string, fromVersion int, status models.ShipmentStatus) error
	AppendStatusEvent(ctx context.Context, event *models.ShipmentStatusEvent) error
	GetStatusEvents(ctx context.Context, shipmentID uuid.UUID, tenantID string) ([]*models.ShipmentStatusEvent, error)
}

type shipmentRepository struct {
	db *gorm.DB
}

// NewShipmentRepository creates a new shipment repository
func NewShipmentRepository(db *gorm.DB) ShipmentRepository {
	return &shipmentRepository{db: db}
}

// Create creates a new shipment
func (r *shipmentRepository) Create(ctx context.Context, shipment *models.Shipment) error {
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	if shipment.Version == 0 {
		shipment.Version = 1
	}
	return r.db.WithContext(ctx).Create(shipment).Error
}

// GetByID retrieves a shipment by ID
func (r *shipmentRepository) GetByID(ctx context.Context, id uuid.UUID, tenantID string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Preload("StatusHistory").
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetByIdempotencyKey retrieves an existing shipment for a booking retry;
// returns nil when none exists.
func (r *shipmentRepository) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetByAWB retrieves a shipment by tracking identifier
func (r *shipmentRepository) GetByAWB(ctx context.Context, awb string, tenantID string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Where("awb = ? AND tenant_id = ?", awb, tenantID).
		Preload("StatusHistory").
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetByAWBGlobal retrieves a shipment by AWB without tenant filter.
// Used by webhooks and reconciliation where tenant context comes from the
// record itself.
func (r *shipmentRepository) GetByAWBGlobal(ctx context.Context, awb string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Where("awb = ?", awb).
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// List retrieves shipments with pagination
func (r *shipmentRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Shipment, int64, error) {
	var shipments []*models.Shipment
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Shipment{}).Where("tenant_id = ?", tenantID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&shipments).Error
	if err != nil {
		return nil, 0, err
	}
	return shipments, total, nil
}

// Update saves the full shipment record
func (r *shipmentRepository) Update(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Save(shipment).Error
}

// UpdateStatusVersioned updates the status only when the stored version
// matches, incrementing the version. A non-match surfaces as
// ErrPersistenceConflict so callers can re-read and retry.
func (r *shipmentRepository) UpdateStatusVersioned(ctx context.Context, id uuid.UUID, tenantID string, fromVersion int, status models.ShipmentStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Shipment{}).
		Where("id = ? AND tenant_id = ? AND version = ?", id, tenantID, fromVersion).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    fromVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shipment %s: %w", id, models.ErrPersistenceConflict)
	}
	return nil
}

// AppendStatusEvent appends an immutable status-history entry
func (r *shipmentRepository) AppendStatusEvent(ctx context.Context, event *models.ShipmentStatusEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// GetStatusEvents retrieves the status history for a shipment
func (r *shipmentRepository) GetStatusEvents(ctx context.Context, shipmentID uuid.UUID, tenantID string) ([]*models.ShipmentStatusEvent, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", shipmentID, tenantID).First(&shipment).Error; err != nil {
		return nil, fmt.Errorf("shipment not found: %w", err)
	}

	var events []*models.ShipmentStatusEvent
	err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("timestamp DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
