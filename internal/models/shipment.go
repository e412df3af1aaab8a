package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ShipmentStatus represents the status of a shipment
type ShipmentStatus string

const (
	ShipmentStatusPending        ShipmentStatus = "PENDING"
	ShipmentStatusCreated        ShipmentStatus = "CREATED"
	ShipmentStatusPickedUp       ShipmentStatus = "PICKED_UP"
	ShipmentStatusInTransit      ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	ShipmentStatusDelivered      ShipmentStatus = "DELIVERED"
	ShipmentStatusCancelled      ShipmentStatus = "CANCELLED"
	ShipmentStatusReturned       ShipmentStatus = "RETURNED"

	// Compensation outcomes. Failed bookings are kept for audit, never deleted.
	ShipmentStatusBookingFailed  ShipmentStatus = "BOOKING_FAILED"
	ShipmentStatusBookingPartial ShipmentStatus = "BOOKING_PARTIAL"
)

// PricingSnapshot is written once at booking time and is the sole finance
// anchor used by reconciliation. It is immutable thereafter.
type PricingSnapshot struct {
	OptionID           uuid.UUID      `json:"optionId"`
	Provider           ProviderType   `json:"provider"`
	ServiceCode        string         `json:"serviceCode"`
	SellAmount         float64        `json:"sellAmount"`
	SellBreakdown      PriceBreakdown `json:"sellBreakdown"`
	ExpectedCostAmount float64        `json:"expectedCostAmount"`
	CostBreakdown      PriceBreakdown `json:"costBreakdown"`
	ExpectedMargin     float64        `json:"expectedMargin"`
	Confidence         Confidence     `json:"confidence"`
	ChargeableWeightKg float64        `json:"chargeableWeightKg"`
	Zone               string         `json:"zone"`
}

// Shipment represents a booked (or failed-to-book) shipment record
type Shipment struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID       string    `json:"tenantId" gorm:"type:varchar(255);not null;index"`
	SellerID       string    `json:"sellerId" gorm:"type:varchar(255);index"`
	SessionID      uuid.UUID `json:"sessionId" gorm:"type:uuid;index"`
	IdempotencyKey string    `json:"-" gorm:"type:varchar(128);uniqueIndex"`

	Provider    ProviderType `json:"provider" gorm:"type:varchar(50);not null"`
	ServiceCode string       `json:"serviceCode" gorm:"type:varchar(100)"`
	AWB         string       `json:"awb" gorm:"type:varchar(255);index"`
	LabelURL    string       `json:"labelUrl" gorm:"type:varchar(500)"`

	Status ShipmentStatus `json:"status" gorm:"type:varchar(50);not null;default:'PENDING'"`

	OriginPincode string      `json:"originPincode" gorm:"type:varchar(20)"`
	DestPincode   string      `json:"destPincode" gorm:"type:varchar(20)"`
	PaymentMode   PaymentMode `json:"paymentMode" gorm:"type:varchar(20)"`
	OrderValue    float64     `json:"orderValue" gorm:"type:decimal(12,2)"`
	WeightKg      float64     `json:"weightKg" gorm:"type:decimal(10,3)"`

	// Pricing at booking time. ShippingCost is the legacy single-amount
	// field; PricingSnapshot is preferred by reconciliation when present.
	ShippingCost    float64        `json:"shippingCost" gorm:"type:decimal(10,2)"`
	Currency        string         `json:"currency" gorm:"type:varchar(10);default:'INR'"`
	PricingSnapshot datatypes.JSON `json:"pricingSnapshot" gorm:"type:jsonb"`

	// Version implements optimistic concurrency control; the webhook path and
	// the user-driven path may touch the same record concurrently.
	Version int `json:"version" gorm:"not null;default:1"`

	StatusHistory []ShipmentStatusEvent `json:"statusHistory,omitempty" gorm:"foreignKey:ShipmentID"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// ShipmentStatusEvent is an append-only status-history entry
type ShipmentStatusEvent struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ShipmentID  uuid.UUID      `json:"shipmentId" gorm:"type:uuid;not null;index"`
	Status      ShipmentStatus `json:"status" gorm:"type:varchar(50);not null"`
	Description string         `json:"description" gorm:"type:text"`
	Timestamp   time.Time      `json:"timestamp" gorm:"not null"`
	CreatedAt   time.Time      `json:"createdAt" gorm:"autoCreateTime"`
}

// FulfillmentDetails carries the physical pickup/delivery details for booking
type FulfillmentDetails struct {
	PickupName    string `json:"pickupName"`
	PickupPhone   string `json:"pickupPhone"`
	PickupAddress string `json:"pickupAddress"`
	DropName      string `json:"dropName" binding:"required"`
	DropPhone     string `json:"dropPhone"`
	DropAddress   string `json:"dropAddress" binding:"required"`
}

// BookShipmentRequest books a previously quoted option
type BookShipmentRequest struct {
	SessionID          uuid.UUID          `json:"sessionId" binding:"required"`
	OptionID           uuid.UUID          `json:"optionId" binding:"required"`
	FulfillmentDetails FulfillmentDetails `json:"fulfillmentDetails" binding:"required"`
}

// BookShipmentResponse is the external booking payload
type BookShipmentResponse struct {
	ShipmentID      uuid.UUID       `json:"shipmentId"`
	AWB             string          `json:"trackingId"`
	Status          ShipmentStatus  `json:"status"`
	PricingSnapshot PricingSnapshot `json:"pricingSnapshot"`
}

// UpdateStatusRequest updates a shipment's status (webhook path)
type UpdateStatusRequest struct {
	AWB         string         `json:"awb" binding:"required"`
	Status      ShipmentStatus `json:"status" binding:"required"`
	Description string         `json:"description"`
}
