package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"shipping-rates-service/internal/models"
)

func mustJSON(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func codRequest(orderValue float64) models.QuoteRequest {
	return models.QuoteRequest{
		PaymentMode: models.PaymentModeCOD,
		OrderValue:  orderValue,
	}
}

func TestNilPolicyAllowsEverything(t *testing.T) {
	f := NewFilter(nil)
	assert.True(t, f.Allowed(models.ProviderDelhivery, "SURFACE"))
	assert.True(t, f.Allowed(models.ProviderShiprocket, "EXPRESS"))
}

func TestBlockedProviderWinsOverAllow(t *testing.T) {
	policy := models.DefaultSellerPolicy("t1", "s1")
	policy.AllowedProviders = mustJSON(t, []models.ProviderType{models.ProviderDelhivery})
	policy.BlockedProviders = mustJSON(t, []models.ProviderType{models.ProviderDelhivery})

	f := NewFilter(policy)
	assert.False(t, f.Allowed(models.ProviderDelhivery, "SURFACE"))
}

func TestAllowListRestrictsOthers(t *testing.T) {
	policy := models.DefaultSellerPolicy("t1", "s1")
	policy.AllowedProviders = mustJSON(t, []models.ProviderType{models.ProviderDelhivery})

	f := NewFilter(policy)
	assert.True(t, f.Allowed(models.ProviderDelhivery, "SURFACE"))
	assert.False(t, f.Allowed(models.ProviderShiprocket, "EXPRESS"))
}

func TestBlockedServiceCode(t *testing.T) {
	policy := models.DefaultSellerPolicy("t1", "s1")
	policy.BlockedServices = mustJSON(t, []string{"EXPRESS"})

	f := NewFilter(policy)
	assert.True(t, f.Allowed(models.ProviderDelhivery, "SURFACE"))
	assert.False(t, f.Allowed(models.ProviderDelhivery, "EXPRESS"))
}

func TestEligibleWeightRange(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{IsActive: true, ServiceCode: "LIGHT", MaxWeightKg: 2},
		{IsActive: true, ServiceCode: "HEAVY", MinWeightKg: 5},
	}

	out := f.Eligible(catalog, codRequest(500), 1.5, "A")
	require.Len(t, out, 1)
	assert.Equal(t, "LIGHT", out[0].ServiceCode)

	out = f.Eligible(catalog, codRequest(500), 6, "A")
	require.Len(t, out, 1)
	assert.Equal(t, "HEAVY", out[0].ServiceCode)
}

func TestEligibleCODValueCeiling(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{IsActive: true, ServiceCode: "CAPPED", MaxCODValue: 2000},
	}

	assert.Len(t, f.Eligible(catalog, codRequest(1500), 1, "A"), 1)
	assert.Empty(t, f.Eligible(catalog, codRequest(2500), 1, "A"))
}

func TestEligiblePrepaidCeilingIgnoredForCOD(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{IsActive: true, ServiceCode: "SVC", MaxPrepaidValue: 1000},
	}

	// COD requests don't hit the prepaid ceiling
	assert.Len(t, f.Eligible(catalog, codRequest(5000), 1, "A"), 1)

	prepaid := models.QuoteRequest{PaymentMode: models.PaymentModePrepaid, OrderValue: 5000}
	assert.Empty(t, f.Eligible(catalog, prepaid, 1, "A"))
}

func TestEligiblePaymentModeMembership(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{
			IsActive:     true,
			ServiceCode:  "PREPAID_ONLY",
			PaymentModes: mustJSON(t, []models.PaymentMode{models.PaymentModePrepaid}),
		},
	}

	assert.Empty(t, f.Eligible(catalog, codRequest(500), 1, "A"))

	prepaid := models.QuoteRequest{PaymentMode: models.PaymentModePrepaid}
	assert.Len(t, f.Eligible(catalog, prepaid, 1, "A"), 1)
}

func TestEligibleZoneSupport(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{IsActive: true, ServiceCode: "AB_ONLY", SupportedZones: mustJSON(t, []string{"A", "B"})},
		{IsActive: true, ServiceCode: "EVERYWHERE", SupportedZones: mustJSON(t, []string{"all"})},
		{IsActive: true, ServiceCode: "NO_LIST"},
	}

	out := f.Eligible(catalog, codRequest(500), 1, "C")
	require.Len(t, out, 2)
	assert.Equal(t, "EVERYWHERE", out[0].ServiceCode)
	assert.Equal(t, "NO_LIST", out[1].ServiceCode)

	// Zone spellings normalize before matching
	out = f.Eligible(catalog, codRequest(500), 1, "zone_a")
	assert.Len(t, out, 3)
}

func TestEligibleUnknownZonePassesAll(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{IsActive: true, ServiceCode: "AB_ONLY", SupportedZones: mustJSON(t, []string{"A", "B"})},
	}

	// No zone resolved yet; the zone constraint cannot be applied
	assert.Len(t, f.Eligible(catalog, codRequest(500), 1, ""), 1)
}

func TestEligibleSkipsInactive(t *testing.T) {
	f := NewFilter(nil)
	catalog := []models.ServiceCatalogEntry{
		{IsActive: false, ServiceCode: "RETIRED"},
	}

	assert.Empty(t, f.Eligible(catalog, codRequest(500), 1, "A"))
}
