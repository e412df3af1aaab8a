package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shipping-rates-service/internal/events"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/providers"
	"shipping-rates-service/internal/quotes"
	"shipping-rates-service/internal/repository"
)

// validTransitions is the shipment state machine. Compensation states are
// terminal except that a failed booking may be retried from BOOKING_FAILED.
var validTransitions = map[models.ShipmentStatus][]models.ShipmentStatus{
	models.ShipmentStatusPending:        {models.ShipmentStatusCreated, models.ShipmentStatusBookingFailed, models.ShipmentStatusBookingPartial},
	models.ShipmentStatusBookingFailed:  {models.ShipmentStatusPending},
	models.ShipmentStatusCreated:        {models.ShipmentStatusPickedUp, models.ShipmentStatusInTransit, models.ShipmentStatusCancelled},
	models.ShipmentStatusPickedUp:       {models.ShipmentStatusInTransit, models.ShipmentStatusReturned, models.ShipmentStatusCancelled},
	models.ShipmentStatusInTransit:      {models.ShipmentStatusOutForDelivery, models.ShipmentStatusDelivered, models.ShipmentStatusReturned, models.ShipmentStatusCancelled},
	models.ShipmentStatusOutForDelivery: {models.ShipmentStatusDelivered, models.ShipmentStatusInTransit, models.ShipmentStatusReturned},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to models.ShipmentStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Saga executes the booking flow: reserve funds, persist the shipment,
// dispatch to the carrier, then settle. Every failure path compensates
// instead of leaving partial state, and no record is ever deleted.
type Saga struct {
	sessions  quotes.SessionStore
	shipments repository.ShipmentRepository
	registry  *providers.Registry
	wallet    Wallet
	publisher events.Publisher
	logger    *logrus.Entry
	now       func() time.Time
}

// NewSaga creates the booking saga
func NewSaga(
	sessions quotes.SessionStore,
	shipments repository.ShipmentRepository,
	registry *providers.Registry,
	wallet Wallet,
	publisher events.Publisher,
	logger *logrus.Logger,
) *Saga {
	return &Saga{
		sessions:  sessions,
		shipments: shipments,
		registry:  registry,
		wallet:    wallet,
		publisher: publisher,
		logger:    logger.WithField("component", "booking.saga"),
		now:       time.Now,
	}
}

// IdempotencyKey derives the booking key from the session and option; a
// retry of the same selection maps to the same shipment record.
func IdempotencyKey(req models.BookShipmentRequest) string {
	sum := sha256.Sum256([]byte(req.SessionID.String() + "|" + req.OptionID.String()))
	return hex.EncodeToString(sum[:])
}

// Book executes the booking saga for a quoted option
func (s *Saga) Book(ctx context.Context, tenantID string, req models.BookShipmentRequest) (*models.BookShipmentResponse, error) {
	key := IdempotencyKey(req)

	existing, err := s.shipments.GetByIdempotencyKey(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case models.ShipmentStatusBookingFailed:
			// Failed before dispatch; the retry below revives the record
		case models.ShipmentStatusBookingPartial:
			// The earlier attempt reached the carrier and was compensated.
			// A replay must surface that outcome, not a success.
			return nil, &models.BookingCompensatedError{
				ShipmentID: existing.ID.String(),
				AWB:        existing.AWB,
				Cause:      errors.New("previous attempt was compensated, operator follow-up required"),
			}
		default:
			// Retry of a booking that already went through
			s.logger.WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"shipment_id": existing.ID,
			}).Info("idempotent booking replay")
			return shipmentResponse(existing)
		}
	}

	session, err := s.sessions.Get(ctx, tenantID, req.SessionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return nil, models.ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, models.ErrSessionExpired
	}
	if session.Booked {
		return nil, models.ErrSessionBooked
	}
	option := session.Option(req.OptionID)
	if option == nil {
		return nil, models.ErrInvalidOption
	}

	shipment, err := s.prepareShipment(ctx, tenantID, session, option, req, key, existing)
	if err != nil {
		return nil, err
	}

	if err := s.wallet.Reserve(ctx, tenantID, session.SellerID, shipment.ID, option.SellAmount); err != nil {
		s.transition(ctx, tenantID, shipment, models.ShipmentStatusBookingFailed,
			fmt.Sprintf("funds reservation failed: %v", err))
		return nil, models.NewValidationError("wallet", err.Error())
	}

	result, dispatchErr := s.dispatch(ctx, option, req, shipment)
	if dispatchErr != nil {
		return nil, s.compensatePreDispatch(ctx, tenantID, session.SellerID, shipment, dispatchErr)
	}

	shipment.AWB = result.AWB
	shipment.LabelURL = result.LabelRef
	shipment.Status = models.ShipmentStatusCreated
	shipment.Version++
	if err := s.shipments.Update(ctx, shipment); err != nil {
		// The durable record never left PENDING
		shipment.Status = models.ShipmentStatusPending
		shipment.Version--
		return nil, s.compensatePostDispatch(ctx, tenantID, session.SellerID, shipment, option.Provider, err)
	}

	s.settle(ctx, tenantID, session, shipment, req.OptionID)
	return shipmentResponse(shipment)
}

// prepareShipment creates the PENDING record (or revives a failed one) with
// the pricing snapshot frozen before any carrier call.
func (s *Saga) prepareShipment(ctx context.Context, tenantID string, session *models.QuoteSession, option *models.QuoteOption, req models.BookShipmentRequest, key string, existing *models.Shipment) (*models.Shipment, error) {
	snapshot := models.PricingSnapshot{
		OptionID:           option.ID,
		Provider:           option.Provider,
		ServiceCode:        option.ServiceCode,
		SellAmount:         option.SellAmount,
		SellBreakdown:      option.SellBreakdown,
		ExpectedCostAmount: option.CostAmount,
		CostBreakdown:      option.CostBreakdown,
		ExpectedMargin:     option.Margin,
		Confidence:         option.Confidence,
		ChargeableWeightKg: option.ChargeableWeightKg,
		Zone:               option.Zone,
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal pricing snapshot: %w", err)
	}

	if existing != nil {
		// Booking retry after a failed attempt reuses the record
		existing.Status = models.ShipmentStatusPending
		existing.PricingSnapshot = snapshotJSON
		existing.ShippingCost = option.SellAmount
		existing.Version++
		if err := s.shipments.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	shipment := &models.Shipment{
		TenantID:        tenantID,
		SellerID:        session.SellerID,
		SessionID:       session.ID,
		IdempotencyKey:  key,
		Provider:        option.Provider,
		ServiceCode:     option.ServiceCode,
		Status:          models.ShipmentStatusPending,
		OriginPincode:   session.Request.OriginPincode,
		DestPincode:     session.Request.DestPincode,
		PaymentMode:     session.Request.PaymentMode,
		OrderValue:      session.Request.OrderValue,
		WeightKg:        option.ChargeableWeightKg,
		ShippingCost:    option.SellAmount,
		Currency:        "INR",
		PricingSnapshot: snapshotJSON,
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		return nil, err
	}
	return shipment, nil
}

func (s *Saga) dispatch(ctx context.Context, option *models.QuoteOption, req models.BookShipmentRequest, shipment *models.Shipment) (*providers.CreateShipmentResult, error) {
	adapter, ok := s.registry.Get(option.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProviderUnavailable, option.Provider)
	}
	return adapter.CreateShipment(ctx, providers.CreateShipmentRequest{
		ServiceCode:        option.ServiceCode,
		OriginPincode:      shipment.OriginPincode,
		DestPincode:        shipment.DestPincode,
		WeightKg:           shipment.WeightKg,
		PaymentMode:        shipment.PaymentMode,
		OrderValue:         shipment.OrderValue,
		FulfillmentDetails: req.FulfillmentDetails,
		Reference:          shipment.ID.String(),
	})
}

// compensatePreDispatch handles failure before the carrier issued an AWB:
// mark the record failed, record why, and return the reserved funds.
func (s *Saga) compensatePreDispatch(ctx context.Context, tenantID, sellerID string, shipment *models.Shipment, cause error) error {
	s.transition(ctx, tenantID, shipment, models.ShipmentStatusBookingFailed,
		fmt.Sprintf("carrier dispatch failed: %v", cause))

	if err := s.wallet.Release(ctx, tenantID, sellerID, shipment.ID); err != nil {
		s.logger.WithError(err).WithField("shipment_id", shipment.ID).Error("wallet release failed during compensation")
	}
	return fmt.Errorf("booking failed: %w", cause)
}

// compensatePostDispatch handles failure after the carrier issued an AWB:
// best-effort cancel with the carrier, mark partial, keep the AWB on record
// for the operator, and return the reserved funds.
func (s *Saga) compensatePostDispatch(ctx context.Context, tenantID, sellerID string, shipment *models.Shipment, provider models.ProviderType, cause error) error {
	if adapter, ok := s.registry.Get(provider); ok {
		if err := adapter.CancelShipment(ctx, shipment.AWB); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"shipment_id": shipment.ID,
				"awb":         shipment.AWB,
			}).Error("carrier cancel failed during compensation, operator action required")
		}
	}

	s.transition(ctx, tenantID, shipment, models.ShipmentStatusBookingPartial,
		fmt.Sprintf("dispatched to carrier but persistence failed: %v", cause))

	if err := s.wallet.Release(ctx, tenantID, sellerID, shipment.ID); err != nil {
		s.logger.WithError(err).WithField("shipment_id", shipment.ID).Error("wallet release failed during compensation")
	}

	compErr := &models.BookingCompensatedError{
		ShipmentID: shipment.ID.String(),
		AWB:        shipment.AWB,
		Cause:      cause,
	}
	s.publisher.Publish(events.SubjectBookingCompensated, tenantID, map[string]interface{}{
		"shipmentId": shipment.ID,
		"awb":        shipment.AWB,
		"reason":     cause.Error(),
	})
	return compErr
}

// settle finalizes a successful booking. Session and wallet settlement
// failures are logged, not returned: the carrier shipment exists and the
// durable record is the source of truth.
func (s *Saga) settle(ctx context.Context, tenantID string, session *models.QuoteSession, shipment *models.Shipment, optionID uuid.UUID) {
	s.appendEvent(ctx, shipment, models.ShipmentStatusCreated, "shipment created with carrier")

	if err := s.sessions.MarkBooked(ctx, tenantID, session.ID, optionID); err != nil {
		s.logger.WithError(err).WithField("session_id", session.ID).Warn("failed to mark session booked")
	}
	if err := s.wallet.Debit(ctx, tenantID, session.SellerID, shipment.ID); err != nil {
		s.logger.WithError(err).WithField("shipment_id", shipment.ID).Error("wallet debit failed after booking")
	}

	s.publisher.Publish(events.SubjectShipmentBooked, tenantID, map[string]interface{}{
		"shipmentId": shipment.ID,
		"awb":        shipment.AWB,
		"provider":   shipment.Provider,
		"amount":     shipment.ShippingCost,
	})
}

// transition moves the shipment to a compensation state and appends history.
// Uses a full Update because the saga owns the record at this point.
func (s *Saga) transition(ctx context.Context, tenantID string, shipment *models.Shipment, to models.ShipmentStatus, description string) {
	if !CanTransition(shipment.Status, to) {
		s.logger.WithFields(logrus.Fields{
			"shipment_id": shipment.ID,
			"from":        shipment.Status,
			"to":          to,
		}).Error("illegal status transition during compensation")
	}
	shipment.Status = to
	shipment.Version++
	if err := s.shipments.Update(ctx, shipment); err != nil {
		s.logger.WithError(err).WithField("shipment_id", shipment.ID).Error("failed to persist compensation status")
	}
	s.appendEvent(ctx, shipment, to, description)
}

func (s *Saga) appendEvent(ctx context.Context, shipment *models.Shipment, status models.ShipmentStatus, description string) {
	event := &models.ShipmentStatusEvent{
		ShipmentID:  shipment.ID,
		Status:      status,
		Description: description,
		Timestamp:   s.now(),
	}
	if err := s.shipments.AppendStatusEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("shipment_id", shipment.ID).Error("failed to append status event")
	}
}

func shipmentResponse(shipment *models.Shipment) (*models.BookShipmentResponse, error) {
	var snapshot models.PricingSnapshot
	if len(shipment.PricingSnapshot) > 0 {
		if err := json.Unmarshal(shipment.PricingSnapshot, &snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal pricing snapshot: %w", err)
		}
	}
	return &models.BookShipmentResponse{
		ShipmentID:      shipment.ID,
		AWB:             shipment.AWB,
		Status:          shipment.Status,
		PricingSnapshot: snapshot,
	}, nil
}
