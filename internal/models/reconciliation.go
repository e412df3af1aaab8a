package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BillingSource identifies where a billed fact came from
type BillingSource string

const (
	BillingSourceInvoice BillingSource = "INVOICE"
	BillingSourceAPI     BillingSource = "API"
	BillingSourceManual  BillingSource = "MANUAL"
)

// BillingFact is one carrier-billed row in an import batch
type BillingFact struct {
	Provider   string             `json:"provider" binding:"required"`
	AWB        string             `json:"awb" binding:"required"`
	ShipmentID *uuid.UUID         `json:"shipmentId,omitempty"`
	Amount     float64            `json:"amount" binding:"required"`
	Components map[string]float64 `json:"components,omitempty"`
	Source     BillingSource      `json:"source"`
	BilledAt   time.Time          `json:"billedAt"`
	InvoiceRef string             `json:"invoiceRef"`
}

// BillingRecord is the persisted billed fact, idempotently upserted by its
// natural key
type BillingRecord struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   string         `json:"tenantId" gorm:"type:varchar(255);not null;uniqueIndex:idx_billing_natural"`
	Provider   ProviderType   `json:"provider" gorm:"type:varchar(50);not null;uniqueIndex:idx_billing_natural"`
	AWB        string         `json:"awb" gorm:"type:varchar(255);not null;uniqueIndex:idx_billing_natural;index"`
	Source     BillingSource  `json:"source" gorm:"type:varchar(20);not null;uniqueIndex:idx_billing_natural"`
	Amount     float64        `json:"amount" gorm:"type:decimal(12,2);not null;uniqueIndex:idx_billing_natural"`
	BilledAt   time.Time      `json:"billedAt" gorm:"uniqueIndex:idx_billing_natural"`
	InvoiceRef string         `json:"invoiceRef" gorm:"type:varchar(255);uniqueIndex:idx_billing_natural"`
	Components datatypes.JSON `json:"components" gorm:"type:jsonb"`

	ShipmentID *uuid.UUID `json:"shipmentId" gorm:"type:uuid;index"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// NaturalKey returns the idempotency key for upserts
func (r *BillingRecord) NaturalKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%.2f|%d|%s",
		r.TenantID, r.Provider, r.AWB, r.Source, r.Amount, r.BilledAt.Unix(), r.InvoiceRef)
}

// VarianceStatus is the lifecycle state of a variance case
type VarianceStatus string

const (
	VarianceOpen        VarianceStatus = "open"
	VarianceResolved    VarianceStatus = "resolved"
	VarianceUnderReview VarianceStatus = "under_review"
	VarianceWaived      VarianceStatus = "waived"
)

// Variance resolution outcomes
const (
	ResolutionAutoClosedWithinThreshold = "auto_closed_within_threshold"
	ResolutionManual                    = "manual"
)

// VarianceCase records the deviation between a billed amount and the cost
// expected at quote time. One case per (tenant, billing record).
type VarianceCase struct {
	ID              uuid.UUID    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID        string       `json:"tenantId" gorm:"type:varchar(255);not null;uniqueIndex:idx_case_tenant_billing"`
	BillingRecordID uuid.UUID    `json:"billingRecordId" gorm:"type:uuid;not null;uniqueIndex:idx_case_tenant_billing"`
	ShipmentID      *uuid.UUID   `json:"shipmentId" gorm:"type:uuid;index"`
	Provider        ProviderType `json:"provider" gorm:"type:varchar(50)"`
	AWB             string       `json:"awb" gorm:"type:varchar(255);index"`

	ExpectedCost float64 `json:"expectedCost" gorm:"type:decimal(12,2)"`
	BilledCost   float64 `json:"billedCost" gorm:"type:decimal(12,2)"`
	VarianceAmt  float64 `json:"varianceAmount" gorm:"type:decimal(12,2)"`
	VariancePct  float64 `json:"variancePct" gorm:"type:decimal(8,3)"`
	ThresholdPct float64 `json:"thresholdPct" gorm:"type:decimal(6,2)"`

	Status         VarianceStatus `json:"status" gorm:"type:varchar(20);not null;default:'open';index"`
	Resolution     string         `json:"resolution" gorm:"type:varchar(100)"`
	ResolutionNote string         `json:"resolutionNote" gorm:"type:text"`
	ResolvedBy     string         `json:"resolvedBy" gorm:"type:varchar(255)"`
	ResolvedAt     *time.Time     `json:"resolvedAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// ImportBillingRequest is a batch of billing facts to reconcile
type ImportBillingRequest struct {
	Records          []BillingFact `json:"records" binding:"required"`
	ThresholdPercent *float64      `json:"thresholdPercent,omitempty"`
}

// ImportSummary reports what an import batch did
type ImportSummary struct {
	ImportedCount        int `json:"importedCount"`
	MatchedShipmentCount int `json:"matchedShipmentCount"`
	AutoClosedCount      int `json:"autoClosedCount"`
	OpenCaseCount        int `json:"openCaseCount"`
	SkippedCount         int `json:"skippedCount"`
}

// ResolveCaseRequest manually closes or reclassifies a variance case
type ResolveCaseRequest struct {
	Status VarianceStatus `json:"status" binding:"required"`
	Note   string         `json:"note"`
}
