package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/providers"
	"shipping-rates-service/internal/repository"
)

const statusRetryAttempts = 3

// TrackingInfo is the merged tracking view for a shipment
type TrackingInfo struct {
	ShipmentID string                    `json:"shipmentId"`
	AWB        string                    `json:"awb"`
	Status     models.ShipmentStatus     `json:"status"`
	Live       bool                      `json:"live"`
	Events     []providers.TrackingEvent `json:"events"`
}

// Tracker serves tracking reads and applies carrier webhook updates
type Tracker struct {
	shipments repository.ShipmentRepository
	registry  *providers.Registry
	logger    *logrus.Entry
}

// NewTracker creates a tracker
func NewTracker(shipments repository.ShipmentRepository, registry *providers.Registry, logger *logrus.Logger) *Tracker {
	return &Tracker{
		shipments: shipments,
		registry:  registry,
		logger:    logger.WithField("component", "booking.tracker"),
	}
}

// Track returns live carrier events when the carrier answers, falling back
// to the stored status history when it doesn't.
func (t *Tracker) Track(ctx context.Context, tenantID, awb string) (*TrackingInfo, error) {
	shipment, err := t.shipments.GetByAWB(ctx, awb, tenantID)
	if err != nil {
		return nil, err
	}

	info := &TrackingInfo{
		ShipmentID: shipment.ID.String(),
		AWB:        shipment.AWB,
		Status:     shipment.Status,
	}

	if adapter, ok := t.registry.Get(shipment.Provider); ok {
		if events, err := adapter.Track(ctx, awb); err == nil {
			info.Live = true
			info.Events = events
			return info, nil
		} else {
			t.logger.WithError(err).WithField("awb", awb).Warn("live tracking failed, serving stored history")
		}
	}

	for _, event := range shipment.StatusHistory {
		info.Events = append(info.Events, providers.TrackingEvent{
			Status:      event.Status,
			Description: event.Description,
			Timestamp:   event.Timestamp,
		})
	}
	return info, nil
}

// ApplyStatus applies a carrier webhook update. The versioned update retries
// on conflict because the user-facing path may race the webhook.
func (t *Tracker) ApplyStatus(ctx context.Context, req models.UpdateStatusRequest) error {
	for attempt := 0; attempt < statusRetryAttempts; attempt++ {
		shipment, err := t.shipments.GetByAWBGlobal(ctx, req.AWB)
		if err != nil {
			return err
		}
		if shipment.Status == req.Status {
			return nil
		}
		if !CanTransition(shipment.Status, req.Status) {
			return models.NewValidationError("status",
				fmt.Sprintf("cannot transition from %s to %s", shipment.Status, req.Status))
		}

		err = t.shipments.UpdateStatusVersioned(ctx, shipment.ID, shipment.TenantID, shipment.Version, req.Status)
		if errors.Is(err, models.ErrPersistenceConflict) {
			continue
		}
		if err != nil {
			return err
		}

		event := &models.ShipmentStatusEvent{
			ShipmentID:  shipment.ID,
			Status:      req.Status,
			Description: req.Description,
			Timestamp:   time.Now(),
		}
		if err := t.shipments.AppendStatusEvent(ctx, event); err != nil {
			t.logger.WithError(err).WithField("awb", req.AWB).Error("failed to append webhook status event")
		}
		return nil
	}
	return models.ErrPersistenceConflict
}
