package providers

import (
	"context"
	"sync"
	"time"

	"shipping-rates-service/internal/models"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

// Breaker wraps a Provider with a short-lived circuit breaker: after N
// consecutive failures the provider is skipped for a cooldown window.
// Quote-level timeouts stay with the orchestrator; the breaker only spares
// a provider that is already known to be down.
type Breaker struct {
	inner Provider

	mu        sync.Mutex
	failures  int
	openUntil time.Time

	threshold int
	cooldown  time.Duration
}

// NewBreaker wraps a provider with default thresholds
func NewBreaker(inner Provider) *Breaker {
	return &Breaker{
		inner:     inner,
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
	}
}

// Name returns the wrapped provider's type
func (b *Breaker) Name() models.ProviderType {
	return b.inner.Name()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
	}
}

// CheckServiceability delegates unless the circuit is open
func (b *Breaker) CheckServiceability(ctx context.Context, req ServiceabilityRequest) (*ServiceabilityResult, error) {
	if !b.allow() {
		return nil, models.ErrProviderUnavailable
	}
	res, err := b.inner.CheckServiceability(ctx, req)
	b.record(err)
	return res, err
}

// GetRate delegates unless the circuit is open
func (b *Breaker) GetRate(ctx context.Context, req RateRequest) (float64, error) {
	if !b.allow() {
		return 0, models.ErrProviderUnavailable
	}
	rate, err := b.inner.GetRate(ctx, req)
	b.record(err)
	return rate, err
}

// CreateShipment delegates unless the circuit is open
func (b *Breaker) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*CreateShipmentResult, error) {
	if !b.allow() {
		return nil, models.ErrProviderUnavailable
	}
	res, err := b.inner.CreateShipment(ctx, req)
	b.record(err)
	return res, err
}

// CancelShipment delegates; cancellations bypass the breaker because they
// compensate already-created shipments.
func (b *Breaker) CancelShipment(ctx context.Context, awb string) error {
	err := b.inner.CancelShipment(ctx, awb)
	b.record(err)
	return err
}

// Track delegates unless the circuit is open
func (b *Breaker) Track(ctx context.Context, awb string) ([]TrackingEvent, error) {
	if !b.allow() {
		return nil, models.ErrProviderUnavailable
	}
	events, err := b.inner.Track(ctx, awb)
	b.record(err)
	return events, err
}

// zoneBreaker is returned by Wrap for providers that also resolve zones, so
// the capability probe still works through the breaker.
type zoneBreaker struct {
	*Breaker
	resolver PincodeZoneResolver
}

// ResolveZone delegates the optional capability unless the circuit is open
func (z *zoneBreaker) ResolveZone(ctx context.Context, originPincode, destPincode string) (string, error) {
	if !z.allow() {
		return "", models.ErrProviderUnavailable
	}
	zone, err := z.resolver.ResolveZone(ctx, originPincode, destPincode)
	z.record(err)
	return zone, err
}

// Wrap adds a circuit breaker around a provider, preserving the
// PincodeZoneResolver capability when the provider has it.
func Wrap(inner Provider) Provider {
	b := NewBreaker(inner)
	if resolver, ok := inner.(PincodeZoneResolver); ok {
		return &zoneBreaker{Breaker: b, resolver: resolver}
	}
	return b
}
