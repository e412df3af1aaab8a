package models

import (
	"time"

	"github.com/google/uuid"
)

// Confidence is the qualitative trust level of a priced option
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// PricingSource records where an option's price came from
type PricingSource string

const (
	SourceLive   PricingSource = "LIVE"
	SourceTable  PricingSource = "TABLE"
	SourceHybrid PricingSource = "HYBRID"
)

// Shipment direction: forward delivers to the buyer, reverse picks up from
// them (priced from the card's RTO rule).
const (
	ShipmentTypeForward = "forward"
	ShipmentTypeReverse = "reverse"
)

// Option tags
const (
	TagCheapest    = "CHEAPEST"
	TagFastest     = "FASTEST"
	TagRecommended = "RECOMMENDED"
)

// Dimensions in centimetres
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// QuoteRequest is the input to quote generation
type QuoteRequest struct {
	SellerID      string      `json:"sellerId" binding:"required"`
	OriginPincode string      `json:"originPincode" binding:"required"`
	DestPincode   string      `json:"destPincode" binding:"required"`
	WeightKg      float64     `json:"weightKg" binding:"required,gt=0"`
	Dimensions    Dimensions  `json:"dimensions"`
	PaymentMode   PaymentMode `json:"paymentMode" binding:"required"`
	OrderValue    float64     `json:"orderValue"`
	ShipmentType  string      `json:"shipmentType"` // forward, reverse
}

// PriceBreakdown itemises a computed amount. Flags record fallback branches
// taken during resolution so finance can audit the number later.
type PriceBreakdown struct {
	BaseCharge    float64  `json:"baseCharge"`
	WeightCharge  float64  `json:"weightCharge"`
	CODCharge     float64  `json:"codCharge"`
	FuelSurcharge float64  `json:"fuelSurcharge"`
	Tax           float64  `json:"tax"`
	Total         float64  `json:"total"`
	Flags         []string `json:"flags,omitempty"`
}

// Breakdown flags
const (
	FlagMinimumFareApplied = "minimum_fare_applied"
	FlagZoneFallback       = "zone_fallback"
	FlagRTOMirrorsForward  = "rto_mirrors_forward"
	FlagFlatFallback       = "flat_fallback"
)

// QuoteOption is one priced courier choice inside a session
type QuoteOption struct {
	ID                 uuid.UUID      `json:"id"`
	Provider           ProviderType   `json:"provider"`
	ServiceID          uuid.UUID      `json:"serviceId"`
	ServiceCode        string         `json:"serviceCode"`
	ServiceName        string         `json:"serviceName"`
	ChargeableWeightKg float64        `json:"chargeableWeightKg"`
	Zone               string         `json:"zone"`
	CostAmount         float64        `json:"costAmount"`
	CostBreakdown      PriceBreakdown `json:"costBreakdown"`
	SellAmount         float64        `json:"sellAmount"`
	SellBreakdown      PriceBreakdown `json:"sellBreakdown"`
	Margin             float64        `json:"margin"`
	MarginPct          float64        `json:"marginPct"`
	ETAMinDays         int            `json:"etaMinDays"`
	ETAMaxDays         int            `json:"etaMaxDays"` // 0 = unknown
	Confidence         Confidence     `json:"confidence"`
	PricingSource      PricingSource  `json:"pricingSource"`
	RankScore          float64        `json:"rankScore"`
	Tags               []string       `json:"tags,omitempty"`
}

// HasTag reports whether the option carries the given tag
func (o *QuoteOption) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// QuoteSession owns an immutable input snapshot plus the generated options.
// At most one option may be selected; the session is terminal once expired
// or booked.
type QuoteSession struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         string          `json:"tenantId"`
	SellerID         string          `json:"sellerId"`
	Request          QuoteRequest    `json:"request"`
	Options          []QuoteOption   `json:"options"`
	RecommendedID    *uuid.UUID      `json:"recommendedOptionId,omitempty"`
	SelectedOptionID *uuid.UUID      `json:"selectedOptionId,omitempty"`
	ProviderTimeouts map[string]bool `json:"providerTimeouts"`
	Confidence       Confidence      `json:"confidence"`
	Booked           bool            `json:"booked"`
	CreatedAt        time.Time       `json:"createdAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// Expired reports whether the session has passed its absolute expiry
func (s *QuoteSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Option returns the option with the given id, or nil
func (s *QuoteSession) Option(id uuid.UUID) *QuoteOption {
	for i := range s.Options {
		if s.Options[i].ID == id {
			return &s.Options[i]
		}
	}
	return nil
}

// QuoteResponse is the external quote payload
type QuoteResponse struct {
	SessionID        uuid.UUID       `json:"sessionId"`
	Options          []QuoteOption   `json:"options"`
	RecommendedID    *uuid.UUID      `json:"recommendation,omitempty"`
	Confidence       Confidence      `json:"confidence"`
	ProviderTimeouts map[string]bool `json:"providerTimeouts"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// SelectOptionRequest selects one option inside a session
type SelectOptionRequest struct {
	OptionID uuid.UUID `json:"optionId" binding:"required"`
}
