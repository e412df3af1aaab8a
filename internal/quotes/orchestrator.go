package quotes

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shipping-rates-service/internal/events"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/policy"
	"shipping-rates-service/internal/providers"
	"shipping-rates-service/internal/ranking"
	"shipping-rates-service/internal/rates"
	"shipping-rates-service/internal/repository"
)

// DefaultSessionTTL is the absolute lifetime of a quote session
const DefaultSessionTTL = 30 * time.Minute

const defaultProviderTimeout = 4 * time.Second

// Orchestrator coordinates policy filtering, provider fan-out, rate
// resolution, ranking, and session persistence for quote generation.
type Orchestrator struct {
	catalog   *CatalogCache
	cardRepo  repository.RateCardRepository
	registry  *providers.Registry
	sessions  SessionStore
	publisher events.Publisher
	timeouts  map[models.ProviderType]time.Duration
	ttl       time.Duration
	logger    *logrus.Entry
	now       func() time.Time
}

// NewOrchestrator creates a quote orchestrator. timeouts carries the
// per-provider budget; providers without an entry get a default budget.
func NewOrchestrator(
	catalog *CatalogCache,
	cardRepo repository.RateCardRepository,
	registry *providers.Registry,
	sessions SessionStore,
	publisher events.Publisher,
	timeouts map[models.ProviderType]time.Duration,
	sessionTTL time.Duration,
	logger *logrus.Logger,
) *Orchestrator {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Orchestrator{
		catalog:   catalog,
		cardRepo:  cardRepo,
		registry:  registry,
		sessions:  sessions,
		publisher: publisher,
		timeouts:  timeouts,
		ttl:       sessionTTL,
		logger:    logger.WithField("component", "quotes.orchestrator"),
		now:       time.Now,
	}
}

// providerOutcome is what one provider's fan-out goroutine settles with
type providerOutcome struct {
	provider    models.ProviderType
	serviceable bool
	zone        string
	timedOut    bool
	liveRates   map[string]float64 // service code -> live rate
}

// GenerateQuote produces a persisted quote session. A slow or failing
// provider only narrows the option set; quote generation never fails solely
// because one provider is down.
func (o *Orchestrator) GenerateQuote(ctx context.Context, tenantID string, req models.QuoteRequest) (*models.QuoteSession, error) {
	if err := validateQuoteRequest(req); err != nil {
		return nil, err
	}

	sellerPolicy, err := o.cardRepo.GetSellerPolicy(ctx, tenantID, req.SellerID)
	if err != nil {
		return nil, err
	}
	if sellerPolicy == nil {
		sellerPolicy = models.DefaultSellerPolicy(tenantID, req.SellerID)
	}

	catalog, err := o.catalog.ActiveServices(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	filter := policy.NewFilter(sellerPolicy)
	chargeable := rates.ChargeableWeight(req.WeightKg, req.Dimensions)

	// Pre-filter on policy only; zone eligibility is re-checked once the
	// provider outcomes tell us the zone.
	byProvider := make(map[models.ProviderType][]models.ServiceCatalogEntry)
	for _, svc := range catalog {
		if !svc.IsActive || !filter.Allowed(svc.Provider, svc.ServiceCode) {
			continue
		}
		byProvider[svc.Provider] = append(byProvider[svc.Provider], svc)
	}

	outcomes := o.fanOut(ctx, req, byProvider)

	session := &models.QuoteSession{
		ID:               uuid.New(),
		TenantID:         tenantID,
		SellerID:         req.SellerID,
		Request:          req,
		ProviderTimeouts: make(map[string]bool),
		CreatedAt:        o.now(),
		ExpiresAt:        o.now().Add(o.ttl),
	}

	anyTimeout := false
	for _, outcome := range outcomes {
		session.ProviderTimeouts[string(outcome.provider)] = outcome.timedOut
		if outcome.timedOut {
			anyTimeout = true
			continue
		}
		if !outcome.serviceable {
			continue
		}
		eligible := filter.Eligible(byProvider[outcome.provider], req, chargeable, outcome.zone)
		for _, svc := range eligible {
			option := o.priceOption(ctx, tenantID, svc, req, chargeable, outcome)
			session.Options = append(session.Options, *option)
		}
	}

	result := ranking.Rank(session.Options, sellerPolicy)
	session.Options = result.Options
	session.RecommendedID = result.RecommendedID
	session.Confidence = overallConfidence(session.Options, anyTimeout)

	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	o.publisher.Publish(events.SubjectQuoteGenerated, tenantID, map[string]interface{}{
		"session_id": session.ID,
		"seller_id":  req.SellerID,
		"options":    len(session.Options),
		"confidence": session.Confidence,
	})

	o.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"session_id": session.ID,
		"options":    len(session.Options),
		"timeouts":   anyTimeout,
	}).Info("quote session generated")
	return session, nil
}

// fanOut runs serviceability and live-rate calls concurrently, one goroutine
// per provider, each under its own timeout budget. It waits for every
// provider to settle (success, error, or timeout) before returning.
func (o *Orchestrator) fanOut(ctx context.Context, req models.QuoteRequest, byProvider map[models.ProviderType][]models.ServiceCatalogEntry) []providerOutcome {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []providerOutcome
	)

	for providerType, services := range byProvider {
		adapter, ok := o.registry.Get(providerType)
		if !ok {
			// Catalog references a provider with no configured adapter;
			// table pricing still works without serviceability.
			mu.Lock()
			outcomes = append(outcomes, providerOutcome{provider: providerType, serviceable: true})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(providerType models.ProviderType, adapter providers.Provider, services []models.ServiceCatalogEntry) {
			defer wg.Done()
			outcome := o.probeProvider(ctx, providerType, adapter, req, services)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(providerType, adapter, services)
	}

	wg.Wait()
	return outcomes
}

func (o *Orchestrator) probeProvider(ctx context.Context, providerType models.ProviderType, adapter providers.Provider, req models.QuoteRequest, services []models.ServiceCatalogEntry) providerOutcome {
	budget, ok := o.timeouts[providerType]
	if !ok {
		budget = defaultProviderTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	outcome := providerOutcome{provider: providerType}

	svcResult, err := adapter.CheckServiceability(callCtx, providers.ServiceabilityRequest{
		OriginPincode: req.OriginPincode,
		DestPincode:   req.DestPincode,
		WeightKg:      req.WeightKg,
		PaymentMode:   req.PaymentMode,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome.timedOut = true
			o.logger.WithField("provider", providerType).Warn("provider timed out, degrading")
		} else {
			o.logger.WithField("provider", providerType).WithError(err).Warn("serviceability failed, degrading provider")
		}
		return outcome
	}
	if !svcResult.Serviceable {
		return outcome
	}
	outcome.serviceable = true
	outcome.zone = svcResult.Zone

	// Providers that don't return a zone with serviceability may still
	// expose the zone-resolution capability.
	if outcome.zone == "" {
		if resolver, ok := adapter.(providers.PincodeZoneResolver); ok {
			if zone, err := resolver.ResolveZone(callCtx, req.OriginPincode, req.DestPincode); err == nil {
				outcome.zone = zone
			}
		}
	}

	// Live rates are best-effort per service inside the remaining budget
	outcome.liveRates = make(map[string]float64)
	for _, svc := range services {
		rate, err := adapter.GetRate(callCtx, providers.RateRequest{
			ServiceCode:   svc.ServiceCode,
			OriginPincode: req.OriginPincode,
			DestPincode:   req.DestPincode,
			WeightKg:      req.WeightKg,
			PaymentMode:   req.PaymentMode,
			OrderValue:    req.OrderValue,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				outcome.timedOut = true
				return outcome
			}
			continue
		}
		outcome.liveRates[svc.ServiceCode] = rate
	}
	return outcome
}

// priceOption resolves cost and sell for one surviving service. The cost
// side falls through live rate -> table -> flat heuristic in descending
// confidence; the sell side is always table-driven.
func (o *Orchestrator) priceOption(ctx context.Context, tenantID string, svc models.ServiceCatalogEntry, req models.QuoteRequest, chargeable float64, outcome providerOutcome) *models.QuoteOption {
	now := o.now()
	option := &models.QuoteOption{
		ID:                 uuid.New(),
		Provider:           svc.Provider,
		ServiceID:          svc.ID,
		ServiceCode:        svc.ServiceCode,
		ServiceName:        svc.DisplayName,
		ChargeableWeightKg: chargeable,
		Zone:               rates.NormalizeZoneKey(outcome.zone),
		ETAMinDays:         svc.ETAMinDays,
		ETAMaxDays:         svc.ETAMaxDays,
	}

	costCard, err := o.catalog.ActiveCard(ctx, tenantID, svc.ID, models.RateCardCost, now)
	if err != nil {
		o.logger.WithError(err).Warn("cost card lookup failed, using fallback")
		costCard = nil
	}
	sellCard, err := o.catalog.ActiveCard(ctx, tenantID, svc.ID, models.RateCardSell, now)
	if err != nil {
		o.logger.WithError(err).Warn("sell card lookup failed, using fallback")
		sellCard = nil
	}

	if req.ShipmentType == models.ShipmentTypeReverse {
		return priceReturnOption(option, costCard, sellCard, chargeable, outcome.zone)
	}

	costConfidence := models.ConfidenceLow
	if liveRate, ok := outcome.liveRates[svc.ServiceCode]; ok && liveRate > 0 {
		option.CostAmount = liveRate
		option.CostBreakdown = models.PriceBreakdown{BaseCharge: liveRate, Total: liveRate}
		option.PricingSource = models.SourceLive
		costConfidence = models.ConfidenceHigh
	} else {
		amount, breakdown, confidence := rates.Resolve(costCard, chargeable, outcome.zone, req.PaymentMode, req.OrderValue)
		option.CostAmount = amount
		option.CostBreakdown = breakdown
		option.PricingSource = models.SourceTable
		costConfidence = confidence
	}

	sellAmount, sellBreakdown, sellConfidence := rates.Resolve(sellCard, chargeable, outcome.zone, req.PaymentMode, req.OrderValue)
	option.SellAmount = sellAmount
	option.SellBreakdown = sellBreakdown

	if option.PricingSource == models.SourceLive && sellCard != nil {
		option.PricingSource = models.SourceHybrid
	}

	option.Confidence = minConfidence(costConfidence, sellConfidence)
	option.Margin = round2(option.SellAmount - option.CostAmount)
	if option.SellAmount > 0 {
		option.MarginPct = round2(option.Margin / option.SellAmount * 100)
	}
	return option
}

// priceReturnOption prices a reverse pickup. Carriers quote live rates for
// the forward leg only, so both sides come from the card's RTO rule.
func priceReturnOption(option *models.QuoteOption, costCard, sellCard *models.RateCard, weightKg float64, zone string) *models.QuoteOption {
	costAmount, costBreakdown, costConfidence := resolveReturnLeg(costCard, weightKg, zone)
	sellAmount, sellBreakdown, sellConfidence := resolveReturnLeg(sellCard, weightKg, zone)

	option.CostAmount = costAmount
	option.CostBreakdown = costBreakdown
	option.SellAmount = sellAmount
	option.SellBreakdown = sellBreakdown
	option.PricingSource = models.SourceTable
	option.Confidence = minConfidence(costConfidence, sellConfidence)
	option.Margin = round2(sellAmount - costAmount)
	if sellAmount > 0 {
		option.MarginPct = round2(option.Margin / sellAmount * 100)
	}
	return option
}

func resolveReturnLeg(card *models.RateCard, weightKg float64, zone string) (float64, models.PriceBreakdown, models.Confidence) {
	if card == nil {
		amount, breakdown := rates.FlatFallback(weightKg)
		return amount, breakdown, models.ConfidenceLow
	}
	amount, breakdown, err := rates.ResolveRTO(card, weightKg, zone)
	if err != nil {
		fallbackAmount, fallbackBreakdown := rates.FlatFallback(weightKg)
		return fallbackAmount, fallbackBreakdown, models.ConfidenceLow
	}
	return amount, breakdown, models.ConfidenceMedium
}

// SelectOption marks an option as selected via an atomic conditional update
func (o *Orchestrator) SelectOption(ctx context.Context, tenantID string, sessionID, optionID uuid.UUID) error {
	err := o.sessions.Select(ctx, tenantID, sessionID, optionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return models.ErrSessionExpired
	}
	return err
}

// GetSession loads a live session
func (o *Orchestrator) GetSession(ctx context.Context, tenantID string, sessionID uuid.UUID) (*models.QuoteSession, error) {
	return o.sessions.Get(ctx, tenantID, sessionID)
}

// overallConfidence is the weakest option confidence, capped at MEDIUM when
// any provider timed out.
func overallConfidence(options []models.QuoteOption, anyTimeout bool) models.Confidence {
	confidence := models.ConfidenceHigh
	if len(options) == 0 {
		confidence = models.ConfidenceLow
	}
	for _, o := range options {
		confidence = minConfidence(confidence, o.Confidence)
	}
	if anyTimeout && confidence == models.ConfidenceHigh {
		confidence = models.ConfidenceMedium
	}
	return confidence
}

func minConfidence(a, b models.Confidence) models.Confidence {
	rank := map[models.Confidence]int{
		models.ConfidenceHigh:   3,
		models.ConfidenceMedium: 2,
		models.ConfidenceLow:    1,
	}
	if rank[a] <= rank[b] {
		return a
	}
	return b
}

func validateQuoteRequest(req models.QuoteRequest) error {
	if strings.TrimSpace(req.SellerID) == "" {
		return models.NewValidationError("sellerId", "is required")
	}
	if strings.TrimSpace(req.OriginPincode) == "" {
		return models.NewValidationError("originPincode", "is required")
	}
	if strings.TrimSpace(req.DestPincode) == "" {
		return models.NewValidationError("destPincode", "is required")
	}
	if req.WeightKg <= 0 {
		return models.NewValidationError("weightKg", "must be greater than 0")
	}
	if req.PaymentMode != models.PaymentModeCOD && req.PaymentMode != models.PaymentModePrepaid {
		return models.NewValidationError("paymentMode", "must be COD or PREPAID")
	}
	if req.PaymentMode == models.PaymentModeCOD && req.OrderValue <= 0 {
		return models.NewValidationError("orderValue", "is required for COD shipments")
	}
	if req.ShipmentType != "" && req.ShipmentType != models.ShipmentTypeForward && req.ShipmentType != models.ShipmentTypeReverse {
		return models.NewValidationError("shipmentType", "must be forward or reverse")
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
