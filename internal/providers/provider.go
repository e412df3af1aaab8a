package providers

import (
	"context"
	"time"

	"shipping-rates-service/internal/models"
)

// ServiceabilityRequest asks whether a pincode pair is serviceable
type ServiceabilityRequest struct {
	OriginPincode string
	DestPincode   string
	WeightKg      float64
	PaymentMode   models.PaymentMode
}

// ServiceabilityResult is the provider's answer. Zone is optional: some
// providers return the routing zone with serviceability, others don't.
type ServiceabilityResult struct {
	Serviceable bool
	Zone        string
	Confidence  models.Confidence
}

// RateRequest asks for a live rate quote
type RateRequest struct {
	ServiceCode   string
	OriginPincode string
	DestPincode   string
	WeightKg      float64
	PaymentMode   models.PaymentMode
	OrderValue    float64
}

// CreateShipmentRequest creates a shipment with the carrier
type CreateShipmentRequest struct {
	ServiceCode        string
	OriginPincode      string
	DestPincode        string
	WeightKg           float64
	PaymentMode        models.PaymentMode
	OrderValue         float64
	FulfillmentDetails models.FulfillmentDetails
	Reference          string
}

// CreateShipmentResult carries the carrier-issued identifiers
type CreateShipmentResult struct {
	AWB      string
	LabelRef string
}

// TrackingEvent is one event in a carrier tracking feed
type TrackingEvent struct {
	Status      models.ShipmentStatus
	Location    string
	Description string
	Timestamp   time.Time
}

// Provider is the capability contract every courier adapter implements.
// All calls are outbound network I/O and must honor context cancellation.
type Provider interface {
	Name() models.ProviderType
	CheckServiceability(ctx context.Context, req ServiceabilityRequest) (*ServiceabilityResult, error)
	GetRate(ctx context.Context, req RateRequest) (float64, error)
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (*CreateShipmentResult, error)
	CancelShipment(ctx context.Context, awb string) error
	Track(ctx context.Context, awb string) ([]TrackingEvent, error)
}

// PincodeZoneResolver is an optional capability: providers that can map a
// pincode pair to a routing zone without a full serviceability call.
// Callers probe for it with a type assertion.
type PincodeZoneResolver interface {
	ResolveZone(ctx context.Context, originPincode, destPincode string) (string, error)
}

// Config holds per-provider connection settings
type Config struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	Enabled      bool
	IsProduction bool
}
