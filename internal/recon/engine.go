package recon

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shipping-rates-service/internal/events"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/repository"
)

// DefaultThresholdPct auto-closes variances at or below this percentage
const DefaultThresholdPct = 5.0

const importWorkers = 4

// Engine matches carrier billing facts against booked shipments and opens
// variance cases where the billed amount deviates from the expected cost.
// Imports are idempotent: re-importing the same batch converges to the same
// state.
type Engine struct {
	recon     repository.ReconRepository
	shipments repository.ShipmentRepository
	publisher events.Publisher
	threshold float64
	logger    *logrus.Entry
	now       func() time.Time
}

// NewEngine creates a reconciliation engine. thresholdPct <= 0 selects the
// default.
func NewEngine(
	recon repository.ReconRepository,
	shipments repository.ShipmentRepository,
	publisher events.Publisher,
	thresholdPct float64,
	logger *logrus.Logger,
) *Engine {
	if thresholdPct <= 0 {
		thresholdPct = DefaultThresholdPct
	}
	return &Engine{
		recon:     recon,
		shipments: shipments,
		publisher: publisher,
		threshold: thresholdPct,
		logger:    logger.WithField("component", "recon.engine"),
		now:       time.Now,
	}
}

type factResult struct {
	imported   bool
	matched    bool
	autoClosed bool
	opened     bool
	skipped    bool
}

// ImportBatch reconciles a batch of billing facts with a worker pool
func (e *Engine) ImportBatch(ctx context.Context, tenantID string, req models.ImportBillingRequest) (*models.ImportSummary, error) {
	threshold := e.threshold
	if req.ThresholdPercent != nil && *req.ThresholdPercent > 0 {
		threshold = *req.ThresholdPercent
	}

	jobs := make(chan models.BillingFact)
	results := make(chan factResult, len(req.Records))

	var wg sync.WaitGroup
	for i := 0; i < importWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fact := range jobs {
				results <- e.processFact(ctx, tenantID, fact, threshold)
			}
		}()
	}

	for _, fact := range req.Records {
		jobs <- fact
	}
	close(jobs)
	wg.Wait()
	close(results)

	summary := &models.ImportSummary{}
	for result := range results {
		if result.imported {
			summary.ImportedCount++
		}
		if result.matched {
			summary.MatchedShipmentCount++
		}
		if result.autoClosed {
			summary.AutoClosedCount++
		}
		if result.opened {
			summary.OpenCaseCount++
		}
		if result.skipped {
			summary.SkippedCount++
		}
	}

	e.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"records":   len(req.Records),
		"imported":  summary.ImportedCount,
		"open":      summary.OpenCaseCount,
	}).Info("billing import reconciled")
	return summary, nil
}

func (e *Engine) processFact(ctx context.Context, tenantID string, fact models.BillingFact, threshold float64) factResult {
	var result factResult

	provider, ok := parseProvider(fact.Provider)
	if !ok || fact.AWB == "" || fact.Amount <= 0 {
		e.logger.WithFields(logrus.Fields{
			"provider": fact.Provider,
			"awb":      fact.AWB,
		}).Warn("skipping invalid billing fact")
		result.skipped = true
		return result
	}

	record := &models.BillingRecord{
		TenantID:   tenantID,
		Provider:   provider,
		AWB:        fact.AWB,
		Source:     billingSourceOrDefault(fact.Source),
		Amount:     fact.Amount,
		BilledAt:   fact.BilledAt,
		InvoiceRef: fact.InvoiceRef,
		ShipmentID: fact.ShipmentID,
	}
	if len(fact.Components) > 0 {
		if data, err := json.Marshal(fact.Components); err == nil {
			record.Components = data
		}
	}

	created, err := e.recon.UpsertBillingRecord(ctx, record)
	if err != nil {
		e.logger.WithError(err).WithField("awb", fact.AWB).Error("failed to upsert billing record")
		result.skipped = true
		return result
	}
	result.imported = created

	shipment := e.matchShipment(ctx, tenantID, fact)
	if shipment == nil {
		// Billed but unknown to us; open a full-amount case for finance
		e.upsertCase(ctx, record, nil, 0, fact.Amount, threshold, &result)
		return result
	}
	result.matched = true

	expected := expectedCost(shipment)
	e.upsertCase(ctx, record, shipment, expected, fact.Amount, threshold, &result)
	return result
}

// upsertCase creates or refreshes the variance case for a billing record.
// Manually resolved cases are left alone so a re-import cannot reopen them.
func (e *Engine) upsertCase(ctx context.Context, record *models.BillingRecord, shipment *models.Shipment, expected, billed, threshold float64, result *factResult) {
	existing, err := e.recon.GetCaseByBillingRecord(ctx, record.TenantID, record.ID)
	if err != nil {
		e.logger.WithError(err).WithField("awb", record.AWB).Error("failed to load variance case")
		return
	}
	if existing != nil && existing.Status != models.VarianceOpen {
		if existing.Status == models.VarianceResolved && existing.Resolution == models.ResolutionAutoClosedWithinThreshold {
			result.autoClosed = true
		}
		return
	}

	variance := billed - expected
	variancePct := 100.0
	if expected > 0 {
		variancePct = variance / expected * 100
	}

	varianceCase := existing
	if varianceCase == nil {
		varianceCase = &models.VarianceCase{
			TenantID:        record.TenantID,
			BillingRecordID: record.ID,
			Provider:        record.Provider,
			AWB:             record.AWB,
		}
	}
	if shipment != nil {
		varianceCase.ShipmentID = &shipment.ID
	}
	varianceCase.ExpectedCost = expected
	varianceCase.BilledCost = billed
	varianceCase.VarianceAmt = round2(variance)
	varianceCase.VariancePct = round2(variancePct)
	varianceCase.ThresholdPct = threshold

	withinThreshold := shipment != nil && math.Abs(variancePct) <= threshold
	if withinThreshold {
		now := e.now()
		varianceCase.Status = models.VarianceResolved
		varianceCase.Resolution = models.ResolutionAutoClosedWithinThreshold
		varianceCase.ResolvedAt = &now
		result.autoClosed = true
	} else {
		varianceCase.Status = models.VarianceOpen
		result.opened = true
	}

	if err := e.recon.SaveCase(ctx, varianceCase); err != nil {
		e.logger.WithError(err).WithField("awb", record.AWB).Error("failed to save variance case")
		return
	}

	if !withinThreshold && existing == nil {
		e.publisher.Publish(events.SubjectVarianceCaseOpened, record.TenantID, map[string]interface{}{
			"caseId":      varianceCase.ID,
			"awb":         varianceCase.AWB,
			"variancePct": varianceCase.VariancePct,
		})
	}
}

// matchShipment finds the booked shipment for a billing fact, preferring the
// explicit shipment id when the fact carries one.
func (e *Engine) matchShipment(ctx context.Context, tenantID string, fact models.BillingFact) *models.Shipment {
	if fact.ShipmentID != nil {
		shipment, err := e.shipments.GetByID(ctx, *fact.ShipmentID, tenantID)
		if err == nil {
			return shipment
		}
	}
	shipment, err := e.shipments.GetByAWB(ctx, fact.AWB, tenantID)
	if err != nil {
		return nil
	}
	return shipment
}

// ResolveCase applies a manual resolution to an open or under-review case
func (e *Engine) ResolveCase(ctx context.Context, tenantID string, caseID uuid.UUID, resolvedBy string, req models.ResolveCaseRequest) (*models.VarianceCase, error) {
	varianceCase, err := e.recon.GetCase(ctx, caseID, tenantID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewValidationError("caseId", "variance case not found")
		}
		return nil, err
	}

	switch req.Status {
	case models.VarianceResolved, models.VarianceWaived, models.VarianceUnderReview:
	default:
		return nil, models.NewValidationError("status", "must be resolved, waived, or under_review")
	}

	varianceCase.Status = req.Status
	varianceCase.ResolutionNote = req.Note
	varianceCase.ResolvedBy = resolvedBy
	if req.Status != models.VarianceUnderReview {
		now := e.now()
		varianceCase.Resolution = models.ResolutionManual
		varianceCase.ResolvedAt = &now
	}
	if err := e.recon.SaveCase(ctx, varianceCase); err != nil {
		return nil, err
	}

	if req.Status != models.VarianceUnderReview {
		e.publisher.Publish(events.SubjectVarianceCaseClosed, tenantID, map[string]interface{}{
			"caseId": varianceCase.ID,
			"status": varianceCase.Status,
		})
	}
	return varianceCase, nil
}

// ListCases returns variance cases for review
func (e *Engine) ListCases(ctx context.Context, tenantID string, status models.VarianceStatus, limit, offset int) ([]*models.VarianceCase, int64, error) {
	return e.recon.ListCases(ctx, tenantID, status, limit, offset)
}

// expectedCost prefers the immutable pricing snapshot, falling back to the
// legacy single-amount field for records booked before snapshots existed.
func expectedCost(shipment *models.Shipment) float64 {
	if len(shipment.PricingSnapshot) > 0 {
		var snapshot models.PricingSnapshot
		if err := json.Unmarshal(shipment.PricingSnapshot, &snapshot); err == nil && snapshot.ExpectedCostAmount > 0 {
			return snapshot.ExpectedCostAmount
		}
	}
	return shipment.ShippingCost
}

func parseProvider(raw string) (models.ProviderType, bool) {
	switch models.ProviderType(strings.ToUpper(strings.TrimSpace(raw))) {
	case models.ProviderDelhivery:
		return models.ProviderDelhivery, true
	case models.ProviderShiprocket:
		return models.ProviderShiprocket, true
	}
	return "", false
}

func billingSourceOrDefault(source models.BillingSource) models.BillingSource {
	if source == "" {
		return models.BillingSourceInvoice
	}
	return source
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
