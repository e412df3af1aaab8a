package quotes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"shipping-rates-service/internal/events"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/providers"
	"shipping-rates-service/internal/repository"
)

// mockRateCardRepo is a hand-written testify mock for the rate card repository
type mockRateCardRepo struct {
	mock.Mock
}

var _ repository.RateCardRepository = (*mockRateCardRepo)(nil)

func (m *mockRateCardRepo) ListActiveServices(ctx context.Context, tenantID string) ([]models.ServiceCatalogEntry, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).([]models.ServiceCatalogEntry), args.Error(1)
}

func (m *mockRateCardRepo) GetActiveCard(ctx context.Context, tenantID string, serviceID uuid.UUID, cardType models.RateCardType, at time.Time) (*models.RateCard, error) {
	args := m.Called(ctx, tenantID, serviceID, cardType, at)
	if card, ok := args.Get(0).(*models.RateCard); ok {
		return card, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRateCardRepo) GetSellerPolicy(ctx context.Context, tenantID, sellerID string) (*models.SellerPolicy, error) {
	args := m.Called(ctx, tenantID, sellerID)
	if policy, ok := args.Get(0).(*models.SellerPolicy); ok {
		return policy, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRateCardRepo) SaveCard(ctx context.Context, card *models.RateCard) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

// fakeProvider is a controllable in-memory courier adapter
type fakeProvider struct {
	name        models.ProviderType
	serviceable bool
	zone        string
	rate        float64
	delay       time.Duration
}

var _ providers.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() models.ProviderType { return f.name }

func (f *fakeProvider) CheckServiceability(ctx context.Context, req providers.ServiceabilityRequest) (*providers.ServiceabilityResult, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return &providers.ServiceabilityResult{Serviceable: f.serviceable, Zone: f.zone}, nil
}

func (f *fakeProvider) GetRate(ctx context.Context, req providers.RateRequest) (float64, error) {
	if f.rate <= 0 {
		return 0, models.ErrProviderUnavailable
	}
	return f.rate, nil
}

func (f *fakeProvider) CreateShipment(ctx context.Context, req providers.CreateShipmentRequest) (*providers.CreateShipmentResult, error) {
	return &providers.CreateShipmentResult{AWB: "FAKE123"}, nil
}

func (f *fakeProvider) CancelShipment(ctx context.Context, awb string) error { return nil }

func (f *fakeProvider) Track(ctx context.Context, awb string) ([]providers.TrackingEvent, error) {
	return nil, nil
}

func testCatalog() []models.ServiceCatalogEntry {
	return []models.ServiceCatalogEntry{
		{
			ID:          uuid.New(),
			TenantID:    "tenant-1",
			Provider:    models.ProviderDelhivery,
			ServiceCode: "SURFACE",
			DisplayName: "Delhivery Surface",
			IsActive:    true,
			ETAMaxDays:  5,
		},
		{
			ID:          uuid.New(),
			TenantID:    "tenant-1",
			Provider:    models.ProviderShiprocket,
			ServiceCode: "EXPRESS",
			DisplayName: "Shiprocket Express",
			IsActive:    true,
			ETAMaxDays:  2,
		},
	}
}

func validRequest() models.QuoteRequest {
	return models.QuoteRequest{
		SellerID:      "seller-1",
		OriginPincode: "110001",
		DestPincode:   "560001",
		WeightKg:      1.5,
		PaymentMode:   models.PaymentModePrepaid,
	}
}

func newTestOrchestrator(t *testing.T, repo *mockRateCardRepo, registry *providers.Registry, timeouts map[models.ProviderType]time.Duration) (*Orchestrator, *MemorySessionStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := NewMemorySessionStore()
	return NewOrchestrator(NewCatalogCache(repo), repo, registry, store, events.NoopPublisher{}, timeouts, DefaultSessionTTL, logger), store
}

func TestGenerateQuoteValidation(t *testing.T) {
	repo := &mockRateCardRepo{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	orchestrator, _ := newTestOrchestrator(t, repo, providers.NewEmptyRegistry(logger), nil)

	tests := []struct {
		name   string
		mutate func(*models.QuoteRequest)
	}{
		{"missing seller", func(r *models.QuoteRequest) { r.SellerID = "" }},
		{"missing origin", func(r *models.QuoteRequest) { r.OriginPincode = "" }},
		{"missing destination", func(r *models.QuoteRequest) { r.DestPincode = "" }},
		{"zero weight", func(r *models.QuoteRequest) { r.WeightKg = 0 }},
		{"bad payment mode", func(r *models.QuoteRequest) { r.PaymentMode = "WIRE" }},
		{"cod without order value", func(r *models.QuoteRequest) {
			r.PaymentMode = models.PaymentModeCOD
			r.OrderValue = 0
		}},
		{"bad shipment type", func(r *models.QuoteRequest) { r.ShipmentType = "sideways" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", req)
			assert.True(t, models.IsValidation(err))
		})
	}
}

func TestGenerateQuoteHappyPath(t *testing.T) {
	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(nil, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog(), nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: true, zone: "a", rate: 75})
	registry.Register(&fakeProvider{name: models.ProviderShiprocket, serviceable: true, rate: 95})

	orchestrator, store := newTestOrchestrator(t, repo, registry, nil)

	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", validRequest())
	require.NoError(t, err)

	assert.Len(t, session.Options, 2)
	assert.False(t, session.ProviderTimeouts["DELHIVERY"])
	assert.False(t, session.ProviderTimeouts["SHIPROCKET"])
	assert.NotNil(t, session.RecommendedID)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))

	// Session is retrievable afterwards
	got, err := store.Get(context.Background(), "tenant-1", session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Options, 2)
}

func TestGenerateQuotePartialTimeoutDegrades(t *testing.T) {
	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(nil, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog(), nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: true, delay: time.Second})
	registry.Register(&fakeProvider{name: models.ProviderShiprocket, serviceable: true, rate: 95})

	timeouts := map[models.ProviderType]time.Duration{
		models.ProviderDelhivery:  20 * time.Millisecond,
		models.ProviderShiprocket: time.Second,
	}
	orchestrator, _ := newTestOrchestrator(t, repo, registry, timeouts)

	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", validRequest())
	require.NoError(t, err)

	// The slow provider degrades; the fast one still produces its option
	require.Len(t, session.Options, 1)
	assert.Equal(t, models.ProviderShiprocket, session.Options[0].Provider)
	assert.True(t, session.ProviderTimeouts["DELHIVERY"])
	assert.False(t, session.ProviderTimeouts["SHIPROCKET"])
	assert.NotEqual(t, models.ConfidenceHigh, session.Confidence)
}

func TestGenerateQuoteUnserviceableProviderExcluded(t *testing.T) {
	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(nil, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog(), nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: false})
	registry.Register(&fakeProvider{name: models.ProviderShiprocket, serviceable: true, rate: 95})

	orchestrator, _ := newTestOrchestrator(t, repo, registry, nil)

	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", validRequest())
	require.NoError(t, err)

	require.Len(t, session.Options, 1)
	assert.Equal(t, models.ProviderShiprocket, session.Options[0].Provider)
	assert.False(t, session.ProviderTimeouts["DELHIVERY"])
}

func TestGenerateQuoteManualOnlyNoRecommendation(t *testing.T) {
	policy := models.DefaultSellerPolicy("tenant-1", "seller-1")
	policy.SelectionMode = models.SelectionManualOnly

	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(policy, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog(), nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: true, rate: 75})
	registry.Register(&fakeProvider{name: models.ProviderShiprocket, serviceable: true, rate: 95})

	orchestrator, _ := newTestOrchestrator(t, repo, registry, nil)

	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", validRequest())
	require.NoError(t, err)

	assert.Len(t, session.Options, 2)
	assert.Nil(t, session.RecommendedID)
}

func TestGenerateQuoteLivePricing(t *testing.T) {
	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(nil, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog()[:1], nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: true, rate: 75})

	orchestrator, _ := newTestOrchestrator(t, repo, registry, nil)

	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", validRequest())
	require.NoError(t, err)

	require.Len(t, session.Options, 1)
	option := session.Options[0]
	assert.Equal(t, models.SourceLive, option.PricingSource)
	assert.InDelta(t, 75, option.CostAmount, 0.001)
	// Sell side has no card, so it degrades to the flat fallback
	assert.Greater(t, option.SellAmount, 0.0)
}

func testRTOCard(t *testing.T) *models.RateCard {
	t.Helper()
	rules, err := json.Marshal([]models.ZoneRule{{
		Zone:       "A",
		Slabs:      []models.WeightSlab{{MinKg: 0, MaxKg: 5, Charge: 60}},
		RTOCharge:  45,
		HasRTORule: true,
	}})
	require.NoError(t, err)
	return &models.RateCard{
		ID:            uuid.New(),
		TenantID:      "tenant-1",
		ZoneRules:     datatypes.JSON(rules),
		EffectiveFrom: time.Now().Add(-time.Hour),
	}
}

func TestGenerateQuoteReverseUsesReturnPricing(t *testing.T) {
	card := testRTOCard(t)
	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(nil, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog()[:1], nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(card, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: true, zone: "a", rate: 75})

	orchestrator, _ := newTestOrchestrator(t, repo, registry, nil)

	req := validRequest()
	req.ShipmentType = models.ShipmentTypeReverse
	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", req)
	require.NoError(t, err)

	// The live forward rate is ignored; both sides price the return leg
	require.Len(t, session.Options, 1)
	option := session.Options[0]
	assert.Equal(t, models.SourceTable, option.PricingSource)
	assert.InDelta(t, 45, option.CostAmount, 0.001)
	assert.InDelta(t, 45, option.SellAmount, 0.001)
	assert.Equal(t, models.ConfidenceMedium, option.Confidence)
}

func TestGenerateQuoteReverseWithoutCardDegrades(t *testing.T) {
	repo := &mockRateCardRepo{}
	repo.On("GetSellerPolicy", mock.Anything, "tenant-1", "seller-1").Return(nil, nil)
	repo.On("ListActiveServices", mock.Anything, "tenant-1").Return(testCatalog()[:1], nil)
	repo.On("GetActiveCard", mock.Anything, "tenant-1", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(&fakeProvider{name: models.ProviderDelhivery, serviceable: true, zone: "a", rate: 75})

	orchestrator, _ := newTestOrchestrator(t, repo, registry, nil)

	req := validRequest()
	req.ShipmentType = models.ShipmentTypeReverse
	session, err := orchestrator.GenerateQuote(context.Background(), "tenant-1", req)
	require.NoError(t, err)

	require.Len(t, session.Options, 1)
	option := session.Options[0]
	assert.Equal(t, models.ConfidenceLow, option.Confidence)
	assert.Contains(t, option.CostBreakdown.Flags, models.FlagFlatFallback)
}

func TestRoundTwoSymmetricAroundZero(t *testing.T) {
	assert.InDelta(t, 10.01, round2(10.006), 1e-9)
	assert.InDelta(t, -10.01, round2(-10.006), 1e-9)
	assert.InDelta(t, -10.0, round2(-10.004), 1e-9)
}

func TestSelectOptionExpiredSessionMapsToExpired(t *testing.T) {
	repo := &mockRateCardRepo{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	orchestrator, _ := newTestOrchestrator(t, repo, providers.NewEmptyRegistry(logger), nil)

	err := orchestrator.SelectOption(context.Background(), "tenant-1", uuid.New(), uuid.New())
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}
