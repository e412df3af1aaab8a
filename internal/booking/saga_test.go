package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipping-rates-service/internal/events"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/providers"
	"shipping-rates-service/internal/quotes"
	"shipping-rates-service/internal/repository"
)

// fakeShipmentRepo is a stateful in-memory shipment repository with
// injectable failure points.
type fakeShipmentRepo struct {
	mu           sync.Mutex
	byID         map[uuid.UUID]*models.Shipment
	statusEvents []*models.ShipmentStatusEvent

	// failCreatedUpdate makes the Update persisting the CREATED status fail,
	// simulating a crash after the carrier already issued an AWB.
	failCreatedUpdate bool
}

var _ repository.ShipmentRepository = (*fakeShipmentRepo)(nil)

func newFakeShipmentRepo() *fakeShipmentRepo {
	return &fakeShipmentRepo{byID: make(map[uuid.UUID]*models.Shipment)}
}

func (r *fakeShipmentRepo) Create(ctx context.Context, shipment *models.Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	if shipment.Version == 0 {
		shipment.Version = 1
	}
	cp := *shipment
	r.byID[shipment.ID] = &cp
	return nil
}

func (r *fakeShipmentRepo) GetByID(ctx context.Context, id uuid.UUID, tenantID string) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shipment, ok := r.byID[id]
	if !ok || shipment.TenantID != tenantID {
		return nil, errors.New("shipment not found")
	}
	cp := *shipment
	return &cp, nil
}

func (r *fakeShipmentRepo) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, shipment := range r.byID {
		if shipment.TenantID == tenantID && shipment.IdempotencyKey == key {
			cp := *shipment
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeShipmentRepo) GetByAWB(ctx context.Context, awb string, tenantID string) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, shipment := range r.byID {
		if shipment.TenantID == tenantID && shipment.AWB == awb {
			cp := *shipment
			return &cp, nil
		}
	}
	return nil, errors.New("shipment not found")
}

func (r *fakeShipmentRepo) GetByAWBGlobal(ctx context.Context, awb string) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, shipment := range r.byID {
		if shipment.AWB == awb {
			cp := *shipment
			return &cp, nil
		}
	}
	return nil, errors.New("shipment not found")
}

func (r *fakeShipmentRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Shipment, int64, error) {
	return nil, 0, nil
}

func (r *fakeShipmentRepo) Update(ctx context.Context, shipment *models.Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreatedUpdate && shipment.Status == models.ShipmentStatusCreated {
		return errors.New("connection reset by peer")
	}
	cp := *shipment
	r.byID[shipment.ID] = &cp
	return nil
}

func (r *fakeShipmentRepo) UpdateStatusVersioned(ctx context.Context, id uuid.UUID, tenantID string, fromVersion int, status models.ShipmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	shipment, ok := r.byID[id]
	if !ok || shipment.Version != fromVersion {
		return models.ErrPersistenceConflict
	}
	shipment.Status = status
	shipment.Version++
	return nil
}

func (r *fakeShipmentRepo) AppendStatusEvent(ctx context.Context, event *models.ShipmentStatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusEvents = append(r.statusEvents, event)
	return nil
}

func (r *fakeShipmentRepo) GetStatusEvents(ctx context.Context, shipmentID uuid.UUID, tenantID string) ([]*models.ShipmentStatusEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ShipmentStatusEvent
	for _, event := range r.statusEvents {
		if event.ShipmentID == shipmentID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *fakeShipmentRepo) eventsFor(shipmentID uuid.UUID, status models.ShipmentStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.statusEvents {
		if event.ShipmentID == shipmentID && event.Status == status {
			count++
		}
	}
	return count
}

// fakeCarrier is a controllable courier adapter
type fakeCarrier struct {
	name         models.ProviderType
	failCreate   bool
	createCalls  int
	cancelCalls  int
	cancelledAWB string
}

var _ providers.Provider = (*fakeCarrier)(nil)

func (f *fakeCarrier) Name() models.ProviderType { return f.name }

func (f *fakeCarrier) CheckServiceability(ctx context.Context, req providers.ServiceabilityRequest) (*providers.ServiceabilityResult, error) {
	return &providers.ServiceabilityResult{Serviceable: true}, nil
}

func (f *fakeCarrier) GetRate(ctx context.Context, req providers.RateRequest) (float64, error) {
	return 80, nil
}

func (f *fakeCarrier) CreateShipment(ctx context.Context, req providers.CreateShipmentRequest) (*providers.CreateShipmentResult, error) {
	f.createCalls++
	if f.failCreate {
		return nil, errors.New("carrier rejected manifest")
	}
	return &providers.CreateShipmentResult{AWB: "AWB001", LabelRef: "https://labels/AWB001"}, nil
}

func (f *fakeCarrier) CancelShipment(ctx context.Context, awb string) error {
	f.cancelCalls++
	f.cancelledAWB = awb
	return nil
}

func (f *fakeCarrier) Track(ctx context.Context, awb string) ([]providers.TrackingEvent, error) {
	return nil, nil
}

type sagaFixture struct {
	saga     *Saga
	store    *quotes.MemorySessionStore
	repo     *fakeShipmentRepo
	carrier  *fakeCarrier
	wallet   *MemoryWallet
	session  *models.QuoteSession
	optionID uuid.UUID
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := quotes.NewMemorySessionStore()
	repo := newFakeShipmentRepo()
	carrier := &fakeCarrier{name: models.ProviderDelhivery}
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(carrier)
	wallet := NewMemoryWallet()
	wallet.Credit("tenant-1", "seller-1", 1000)

	saga := NewSaga(store, repo, registry, wallet, events.NoopPublisher{}, logger)

	optionID := uuid.New()
	session := &models.QuoteSession{
		ID:       uuid.New(),
		TenantID: "tenant-1",
		SellerID: "seller-1",
		Request: models.QuoteRequest{
			SellerID:      "seller-1",
			OriginPincode: "110001",
			DestPincode:   "560001",
			WeightKg:      1.5,
			PaymentMode:   models.PaymentModePrepaid,
		},
		Options: []models.QuoteOption{
			{
				ID:                 optionID,
				Provider:           models.ProviderDelhivery,
				ServiceCode:        "SURFACE",
				SellAmount:         100,
				CostAmount:         80,
				Margin:             20,
				ChargeableWeightKg: 1.5,
				Zone:               "A",
			},
		},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, store.Save(context.Background(), session))

	return &sagaFixture{
		saga:     saga,
		store:    store,
		repo:     repo,
		carrier:  carrier,
		wallet:   wallet,
		session:  session,
		optionID: optionID,
	}
}

func (f *sagaFixture) bookRequest() models.BookShipmentRequest {
	return models.BookShipmentRequest{
		SessionID: f.session.ID,
		OptionID:  f.optionID,
		FulfillmentDetails: models.FulfillmentDetails{
			DropName:    "Asha Rao",
			DropAddress: "12 MG Road, Bengaluru",
		},
	}
}

func TestBookHappyPath(t *testing.T) {
	f := newSagaFixture(t)

	response, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.NoError(t, err)

	assert.Equal(t, "AWB001", response.AWB)
	assert.Equal(t, models.ShipmentStatusCreated, response.Status)
	assert.InDelta(t, 100, response.PricingSnapshot.SellAmount, 0.001)
	assert.InDelta(t, 80, response.PricingSnapshot.ExpectedCostAmount, 0.001)

	// Funds moved from reservation to debit
	assert.InDelta(t, 900, f.wallet.Balance("tenant-1", "seller-1"), 0.001)

	// Session is terminal
	got, err := f.store.Get(context.Background(), "tenant-1", f.session.ID)
	require.NoError(t, err)
	assert.True(t, got.Booked)

	// History records the creation
	assert.Equal(t, 1, f.repo.eventsFor(response.ShipmentID, models.ShipmentStatusCreated))
}

func TestBookExpiredSession(t *testing.T) {
	f := newSagaFixture(t)
	f.session.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, f.store.Save(context.Background(), f.session))

	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	assert.Equal(t, 0, f.carrier.createCalls)
}

func TestBookUnknownSession(t *testing.T) {
	f := newSagaFixture(t)
	req := f.bookRequest()
	req.SessionID = uuid.New()

	_, err := f.saga.Book(context.Background(), "tenant-1", req)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}

func TestBookInvalidOption(t *testing.T) {
	f := newSagaFixture(t)
	req := f.bookRequest()
	req.OptionID = uuid.New()

	_, err := f.saga.Book(context.Background(), "tenant-1", req)
	assert.ErrorIs(t, err, models.ErrInvalidOption)
	assert.Equal(t, 0, f.carrier.createCalls)
}

func TestBookAlreadyBookedSession(t *testing.T) {
	f := newSagaFixture(t)
	require.NoError(t, f.store.MarkBooked(context.Background(), "tenant-1", f.session.ID, f.optionID))

	// A different option in the same session cannot be booked
	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	assert.ErrorIs(t, err, models.ErrSessionBooked)
}

func TestBookIdempotentReplay(t *testing.T) {
	f := newSagaFixture(t)

	first, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.NoError(t, err)

	second, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.NoError(t, err)

	assert.Equal(t, first.ShipmentID, second.ShipmentID)
	assert.Equal(t, first.AWB, second.AWB)
	assert.Equal(t, 1, f.carrier.createCalls)
	// No double debit
	assert.InDelta(t, 900, f.wallet.Balance("tenant-1", "seller-1"), 0.001)
}

func TestBookPreDispatchCompensation(t *testing.T) {
	f := newSagaFixture(t)
	f.carrier.failCreate = true

	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.Error(t, err)

	// The record survives for audit with the failure status and no AWB
	stored, err := f.repo.GetByIdempotencyKey(context.Background(), "tenant-1", IdempotencyKey(f.bookRequest()))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ShipmentStatusBookingFailed, stored.Status)
	assert.Empty(t, stored.AWB)

	// Funds returned, failure recorded in history
	assert.InDelta(t, 1000, f.wallet.Balance("tenant-1", "seller-1"), 0.001)
	assert.Equal(t, 1, f.repo.eventsFor(stored.ID, models.ShipmentStatusBookingFailed))
}

func TestBookRetryAfterFailure(t *testing.T) {
	f := newSagaFixture(t)
	f.carrier.failCreate = true

	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.Error(t, err)

	failed, err := f.repo.GetByIdempotencyKey(context.Background(), "tenant-1", IdempotencyKey(f.bookRequest()))
	require.NoError(t, err)
	require.NotNil(t, failed)

	// Carrier recovers; the retry reuses the same record
	f.carrier.failCreate = false
	response, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.NoError(t, err)

	assert.Equal(t, failed.ID, response.ShipmentID)
	assert.Equal(t, "AWB001", response.AWB)
	assert.Equal(t, models.ShipmentStatusCreated, response.Status)
}

func TestBookPostDispatchCompensation(t *testing.T) {
	f := newSagaFixture(t)
	f.repo.failCreatedUpdate = true

	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.Error(t, err)

	var compensated *models.BookingCompensatedError
	require.True(t, errors.As(err, &compensated))
	assert.Equal(t, "AWB001", compensated.AWB)

	// Best-effort carrier cancel happened
	assert.Equal(t, 1, f.carrier.cancelCalls)
	assert.Equal(t, "AWB001", f.carrier.cancelledAWB)

	// The record is kept in the partial state with the AWB for the operator
	stored, err := f.repo.GetByIdempotencyKey(context.Background(), "tenant-1", IdempotencyKey(f.bookRequest()))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ShipmentStatusBookingPartial, stored.Status)
	assert.Equal(t, "AWB001", stored.AWB)

	// Funds returned
	assert.InDelta(t, 1000, f.wallet.Balance("tenant-1", "seller-1"), 0.001)
	assert.Equal(t, 1, f.repo.eventsFor(stored.ID, models.ShipmentStatusBookingPartial))
}

func TestBookReplayAfterPostDispatchCompensation(t *testing.T) {
	f := newSagaFixture(t)
	f.repo.failCreatedUpdate = true

	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.Error(t, err)

	// A retry of a compensated booking re-surfaces the compensation outcome
	// instead of replaying it as a success.
	f.repo.failCreatedUpdate = false
	_, err = f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	require.Error(t, err)

	var compensated *models.BookingCompensatedError
	require.True(t, errors.As(err, &compensated))
	assert.Equal(t, "AWB001", compensated.AWB)

	// No second carrier dispatch and no funds movement
	assert.Equal(t, 1, f.carrier.createCalls)
	assert.InDelta(t, 1000, f.wallet.Balance("tenant-1", "seller-1"), 0.001)
}

func TestBookInsufficientBalance(t *testing.T) {
	f := newSagaFixture(t)
	f.wallet = NewMemoryWallet() // empty wallet
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := providers.NewEmptyRegistry(logger)
	registry.Register(f.carrier)
	f.saga = NewSaga(f.store, f.repo, registry, f.wallet, events.NoopPublisher{}, logger)

	_, err := f.saga.Book(context.Background(), "tenant-1", f.bookRequest())
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, 0, f.carrier.createCalls)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.ShipmentStatusPending, models.ShipmentStatusCreated))
	assert.True(t, CanTransition(models.ShipmentStatusPending, models.ShipmentStatusBookingFailed))
	assert.True(t, CanTransition(models.ShipmentStatusBookingFailed, models.ShipmentStatusPending))
	assert.True(t, CanTransition(models.ShipmentStatusCreated, models.ShipmentStatusInTransit))
	assert.True(t, CanTransition(models.ShipmentStatusInTransit, models.ShipmentStatusDelivered))

	assert.False(t, CanTransition(models.ShipmentStatusDelivered, models.ShipmentStatusInTransit))
	assert.False(t, CanTransition(models.ShipmentStatusBookingPartial, models.ShipmentStatusCreated))
	assert.False(t, CanTransition(models.ShipmentStatusCancelled, models.ShipmentStatusCreated))
}
