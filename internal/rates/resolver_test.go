package rates

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

func testCard(t *testing.T) *models.RateCard {
	return &models.RateCard{
		ZoneRules: mustJSON(t, []models.ZoneRule{
			{
				Zone: "A",
				Slabs: []models.WeightSlab{
					{MinKg: 0, MaxKg: 1.0, Charge: 40},
					{MinKg: 1.0, MaxKg: 2.0, Charge: 60},
				},
				AdditionalPerKg: 30,
			},
			{
				Zone: "B",
				Slabs: []models.WeightSlab{
					{MinKg: 0, MaxKg: 2.0, Charge: 55},
				},
				AdditionalPerKg: 25,
				RTOCharge:       45,
				HasRTORule:      true,
			},
		}),
		RoundingUnit: 0.5,
		RoundingMode: models.RoundCeil,
		CODRule:      mustJSON(t, models.CODRule{Type: models.CODFlat, Flat: 20}),
	}
}

func TestChargeableWeight(t *testing.T) {
	// Volumetric (30*20*10)/5000 = 1.2 beats the 0.5kg actual weight
	got := ChargeableWeight(0.5, models.Dimensions{Length: 30, Width: 20, Height: 10})
	assert.InDelta(t, 1.2, got, 0.001)

	// Heavy but small parcel keeps its actual weight
	got = ChargeableWeight(5, models.Dimensions{Length: 10, Width: 10, Height: 10})
	assert.InDelta(t, 5, got, 0.001)

	// Missing dimensions fall through to actual weight
	got = ChargeableWeight(2, models.Dimensions{})
	assert.InDelta(t, 2, got, 0.001)
}

func TestResolveSlabLookup(t *testing.T) {
	card := testCard(t)

	amount, breakdown, confidence := Resolve(card, 0.5, "a", models.PaymentModeCOD, 1500)

	assert.Equal(t, models.ConfidenceMedium, confidence)
	assert.InDelta(t, 40, breakdown.BaseCharge, 0.001)
	assert.InDelta(t, 0, breakdown.WeightCharge, 0.001)
	assert.InDelta(t, 20, breakdown.CODCharge, 0.001)
	assert.InDelta(t, 60, amount, 0.001)
	assert.NotContains(t, breakdown.Flags, models.FlagZoneFallback)
}

func TestResolveSecondSlab(t *testing.T) {
	card := testCard(t)

	amount, breakdown, _ := Resolve(card, 1.5, "A", models.PaymentModePrepaid, 0)

	assert.InDelta(t, 60, breakdown.BaseCharge, 0.001)
	assert.InDelta(t, 0, breakdown.CODCharge, 0.001)
	assert.InDelta(t, 60, amount, 0.001)
}

func TestResolveOverageBilledPerStep(t *testing.T) {
	card := testCard(t)

	// 2.3kg over a 2.0kg top slab: 0.3kg excess rounds up to one 0.5kg step
	_, breakdown, _ := Resolve(card, 2.3, "A", models.PaymentModePrepaid, 0)

	assert.InDelta(t, 60, breakdown.BaseCharge, 0.001)
	assert.InDelta(t, 30, breakdown.WeightCharge, 0.001)
}

func TestResolveOverageMultipleSteps(t *testing.T) {
	card := testCard(t)

	// 3.2kg excess of 1.2kg is three 0.5kg steps under CEIL
	_, breakdown, _ := Resolve(card, 3.2, "A", models.PaymentModePrepaid, 0)

	assert.InDelta(t, 90, breakdown.WeightCharge, 0.001)
}

func TestResolveOverageFloorMode(t *testing.T) {
	card := testCard(t)
	card.RoundingMode = models.RoundFloor

	// 0.3kg excess floors to zero steps
	_, breakdown, _ := Resolve(card, 2.3, "A", models.PaymentModePrepaid, 0)

	assert.InDelta(t, 0, breakdown.WeightCharge, 0.001)
}

func TestResolveZoneNormalization(t *testing.T) {
	card := testCard(t)

	// All spellings of zone A resolve to the same rule
	for _, zone := range []string{"a", "A", "zone_a", "route_a"} {
		amount, breakdown, _ := Resolve(card, 0.5, zone, models.PaymentModePrepaid, 0)
		assert.InDelta(t, 40, amount, 0.001, "zone %q", zone)
		assert.NotContains(t, breakdown.Flags, models.FlagZoneFallback)
	}
}

func TestResolveUnknownZoneFallsBack(t *testing.T) {
	card := testCard(t)

	_, breakdown, confidence := Resolve(card, 0.5, "Z", models.PaymentModePrepaid, 0)

	// First rule (zone A) is used and the fallback is flagged
	assert.InDelta(t, 40, breakdown.BaseCharge, 0.001)
	assert.Contains(t, breakdown.Flags, models.FlagZoneFallback)
	assert.Equal(t, models.ConfidenceMedium, confidence)
}

func TestResolveFuelSurcharge(t *testing.T) {
	card := testCard(t)
	card.FuelSurchargePct = 10

	_, breakdown, _ := Resolve(card, 0.5, "A", models.PaymentModeCOD, 1000)

	// Fuel applies to the freight subtotal only, not the COD fee
	assert.InDelta(t, 4, breakdown.FuelSurcharge, 0.001)
	assert.InDelta(t, 64, breakdown.Total, 0.001)
}

func TestResolveMinimumFare(t *testing.T) {
	card := testCard(t)
	card.MinimumFare = 80

	amount, breakdown, _ := Resolve(card, 0.5, "A", models.PaymentModePrepaid, 0)

	assert.InDelta(t, 80, amount, 0.001)
	assert.Contains(t, breakdown.Flags, models.FlagMinimumFareApplied)
}

func TestResolveTaxAfterMinimumFare(t *testing.T) {
	card := testCard(t)
	card.MinimumFare = 100
	card.TaxPct = 18

	amount, breakdown, _ := Resolve(card, 0.5, "A", models.PaymentModePrepaid, 0)

	assert.InDelta(t, 18, breakdown.Tax, 0.001)
	assert.InDelta(t, 118, amount, 0.001)
}

func TestResolveCODPercentWithMinFee(t *testing.T) {
	card := testCard(t)
	card.CODRule = mustJSON(t, models.CODRule{Type: models.CODPercent, Percent: 2, MinFee: 30})

	// 2% of 5000 = 100, above the floor
	_, breakdown, _ := Resolve(card, 0.5, "A", models.PaymentModeCOD, 5000)
	assert.InDelta(t, 100, breakdown.CODCharge, 0.001)

	// 2% of 500 = 10, lifted to the 30 floor
	_, breakdown, _ = Resolve(card, 0.5, "A", models.PaymentModeCOD, 500)
	assert.InDelta(t, 30, breakdown.CODCharge, 0.001)
}

func TestResolveCODIgnoredForPrepaid(t *testing.T) {
	card := testCard(t)

	_, breakdown, _ := Resolve(card, 0.5, "A", models.PaymentModePrepaid, 2000)

	assert.InDelta(t, 0, breakdown.CODCharge, 0.001)
}

func TestResolveNilCardUsesFlatFallback(t *testing.T) {
	amount, breakdown, confidence := Resolve(nil, 4, "A", models.PaymentModePrepaid, 0)

	assert.Equal(t, models.ConfidenceLow, confidence)
	assert.InDelta(t, 80, amount, 0.001)
	assert.Contains(t, breakdown.Flags, models.FlagFlatFallback)
}

func TestFlatFallbackFloor(t *testing.T) {
	// Light parcels hit the 50 floor
	amount, _ := FlatFallback(0.5)
	assert.InDelta(t, 50, amount, 0.001)

	amount, _ = FlatFallback(10)
	assert.InDelta(t, 200, amount, 0.001)
}

func TestResolveBrokenCardDegrades(t *testing.T) {
	card := &models.RateCard{ZoneRules: datatypes.JSON([]byte(`not json`))}

	amount, breakdown, confidence := Resolve(card, 2, "A", models.PaymentModePrepaid, 0)

	assert.Equal(t, models.ConfidenceLow, confidence)
	assert.InDelta(t, 50, amount, 0.001)
	assert.Contains(t, breakdown.Flags, models.FlagFlatFallback)
}

func TestResolveRTOExplicitCharge(t *testing.T) {
	card := testCard(t)

	amount, breakdown, err := ResolveRTO(card, 1.0, "B")

	require.NoError(t, err)
	assert.InDelta(t, 45, amount, 0.001)
	assert.NotContains(t, breakdown.Flags, models.FlagRTOMirrorsForward)
}

func TestResolveRTOMirrorsForwardFreight(t *testing.T) {
	card := testCard(t)

	// Zone A has no RTO rule; the charge mirrors base + overage only
	amount, breakdown, err := ResolveRTO(card, 2.3, "A")

	require.NoError(t, err)
	assert.InDelta(t, 90, amount, 0.001)
	assert.Contains(t, breakdown.Flags, models.FlagRTOMirrorsForward)
}
