package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProviderType identifies a courier provider
type ProviderType string

const (
	ProviderDelhivery  ProviderType = "DELHIVERY"
	ProviderShiprocket ProviderType = "SHIPROCKET"
	ProviderBlueDart   ProviderType = "BLUEDART"
	ProviderDTDC       ProviderType = "DTDC"
)

// PaymentMode is the shipment payment mode
type PaymentMode string

const (
	PaymentModePrepaid PaymentMode = "PREPAID"
	PaymentModeCOD     PaymentMode = "COD"
)

// RateCardType distinguishes cost cards (what the carrier charges us)
// from sell cards (what we charge the seller)
type RateCardType string

const (
	RateCardCost RateCardType = "COST"
	RateCardSell RateCardType = "SELL"
)

// RoundingMode controls how overage weight is rounded to the rounding unit
type RoundingMode string

const (
	RoundCeil    RoundingMode = "CEIL"
	RoundFloor   RoundingMode = "FLOOR"
	RoundNearest RoundingMode = "NEAREST"
)

// CODRuleType controls how the COD charge is computed
type CODRuleType string

const (
	CODFlat    CODRuleType = "FLAT"
	CODPercent CODRuleType = "PERCENT"
	CODSlab    CODRuleType = "SLAB"
)

// ServiceCatalogEntry describes one courier service (provider + service code)
// and its hard constraints. Entries are immutable once referenced by an
// active rate card; admin CRUD lives in a separate service.
type ServiceCatalogEntry struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    string       `json:"tenantId" gorm:"type:varchar(255);not null;index"`
	Provider    ProviderType `json:"provider" gorm:"type:varchar(50);not null;index"`
	ServiceCode string       `json:"serviceCode" gorm:"type:varchar(100);not null"`
	DisplayName string       `json:"displayName" gorm:"type:varchar(255)"`
	IsActive    bool         `json:"isActive" gorm:"default:true;index"`

	// Hard eligibility constraints. Empty lists mean "no restriction".
	MinWeightKg     float64        `json:"minWeightKg" gorm:"type:decimal(10,3);default:0"`
	MaxWeightKg     float64        `json:"maxWeightKg" gorm:"type:decimal(10,3);default:0"` // 0 = unlimited
	MaxCODValue     float64        `json:"maxCodValue" gorm:"type:decimal(12,2);default:0"`
	MaxPrepaidValue float64        `json:"maxPrepaidValue" gorm:"type:decimal(12,2);default:0"`
	PaymentModes    datatypes.JSON `json:"paymentModes" gorm:"type:jsonb"`   // []PaymentMode
	SupportedZones  datatypes.JSON `json:"supportedZones" gorm:"type:jsonb"` // []string, "all" = unrestricted

	// SLA window in days for the destination zone spread
	ETAMinDays int `json:"etaMinDays" gorm:"default:0"`
	ETAMaxDays int `json:"etaMaxDays" gorm:"default:0"` // 0 = unknown

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// WeightSlab is a half-open weight band [MinKg, MaxKg) with a fixed charge
type WeightSlab struct {
	MinKg  float64 `json:"minKg"`
	MaxKg  float64 `json:"maxKg"`
	Charge float64 `json:"charge"`
}

// ZoneRule holds the slab table and overage pricing for one canonical zone key
type ZoneRule struct {
	Zone            string       `json:"zone"`
	Slabs           []WeightSlab `json:"slabs"`
	AdditionalPerKg float64      `json:"additionalPerKg"`
	RTOCharge       float64      `json:"rtoCharge"` // 0 = no explicit RTO rule
	HasRTORule      bool         `json:"hasRtoRule"`
}

// CODRule computes the cash-on-delivery charge
type CODRule struct {
	Type    CODRuleType  `json:"type"`
	Flat    float64      `json:"flat"`
	Percent float64      `json:"percent"`
	MinFee  float64      `json:"minFee"`
	Slabs   []WeightSlab `json:"slabs,omitempty"` // keyed by order value for SLAB type
}

// RateCard prices one service for one tenant. Exactly one active COST and one
// active SELL card should exist per service at any instant; absence triggers
// the flat fallback price.
type RateCard struct {
	ID        uuid.UUID    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID  string       `json:"tenantId" gorm:"type:varchar(255);not null;index"`
	ServiceID uuid.UUID    `json:"serviceId" gorm:"type:uuid;not null;index"`
	CardType  RateCardType `json:"cardType" gorm:"type:varchar(10);not null;index"`

	ZoneRules datatypes.JSON `json:"zoneRules" gorm:"type:jsonb;not null"` // []ZoneRule

	RoundingUnit float64      `json:"roundingUnit" gorm:"type:decimal(6,3);default:0.5"`
	RoundingMode RoundingMode `json:"roundingMode" gorm:"type:varchar(10);default:'CEIL'"`

	CODRule          datatypes.JSON `json:"codRule" gorm:"type:jsonb"` // CODRule
	FuelSurchargePct float64        `json:"fuelSurchargePct" gorm:"type:decimal(6,3);default:0"`
	MinimumFare      float64        `json:"minimumFare" gorm:"type:decimal(10,2);default:0"`
	TaxPct           float64        `json:"taxPct" gorm:"type:decimal(6,3);default:0"`

	// Effective window [EffectiveFrom, EffectiveTo). Windows for the same
	// (tenant, service, cardType) must not overlap.
	EffectiveFrom time.Time  `json:"effectiveFrom" gorm:"not null;index"`
	EffectiveTo   *time.Time `json:"effectiveTo"` // nil = open-ended

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// ActiveAt reports whether the card's effective window contains t
func (c *RateCard) ActiveAt(t time.Time) bool {
	if t.Before(c.EffectiveFrom) {
		return false
	}
	return c.EffectiveTo == nil || t.Before(*c.EffectiveTo)
}

// SelectionMode controls how a seller picks from a quote
type SelectionMode string

const (
	SelectionManualWithRecommendation SelectionMode = "manual_with_recommendation"
	SelectionManualOnly               SelectionMode = "manual_only"
	SelectionAuto                     SelectionMode = "auto"
)

// AutoPriority is the recommendation strategy
type AutoPriority string

const (
	PriorityPrice    AutoPriority = "price"
	PrioritySpeed    AutoPriority = "speed"
	PriorityBalanced AutoPriority = "balanced"
)

// SellerPolicy is the per-seller courier selection policy. Block lists win
// over allow lists; an empty allow list means "all allowed".
type SellerPolicy struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID string    `json:"tenantId" gorm:"type:varchar(255);not null;uniqueIndex:idx_policy_tenant_seller"`
	SellerID string    `json:"sellerId" gorm:"type:varchar(255);not null;uniqueIndex:idx_policy_tenant_seller"`

	AllowedProviders datatypes.JSON `json:"allowedProviders" gorm:"type:jsonb"` // []ProviderType
	BlockedProviders datatypes.JSON `json:"blockedProviders" gorm:"type:jsonb"` // []ProviderType
	AllowedServices  datatypes.JSON `json:"allowedServices" gorm:"type:jsonb"`  // []string service codes
	BlockedServices  datatypes.JSON `json:"blockedServices" gorm:"type:jsonb"`  // []string service codes

	SelectionMode    SelectionMode `json:"selectionMode" gorm:"type:varchar(50);default:'manual_with_recommendation'"`
	AutoPriority     AutoPriority  `json:"autoPriority" gorm:"type:varchar(20);default:'balanced'"`
	BalancedDeltaPct float64       `json:"balancedDeltaPct" gorm:"type:decimal(6,2);default:10"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// DefaultSellerPolicy is used when a seller has no stored policy
func DefaultSellerPolicy(tenantID, sellerID string) *SellerPolicy {
	return &SellerPolicy{
		TenantID:         tenantID,
		SellerID:         sellerID,
		SelectionMode:    SelectionManualWithRecommendation,
		AutoPriority:     PriorityBalanced,
		BalancedDeltaPct: 10,
	}
}
