package rates

import (
	"encoding/json"
	"fmt"
	"math"

	"shipping-rates-service/internal/models"
)

// Flat heuristic used whenever no card (or a broken card) is available.
// Pricing from this branch always carries confidence LOW.
const (
	flatFallbackFloor   = 50.0
	flatFallbackPerKg   = 20.0
	volumetricDivisor   = 5000.0
	defaultRoundingUnit = 0.5
)

// ChargeableWeight returns the greater of actual and volumetric weight.
// Volumetric weight is (L*W*H)/5000 with dimensions in centimetres.
func ChargeableWeight(actualKg float64, dims models.Dimensions) float64 {
	volumetric := (dims.Length * dims.Width * dims.Height) / volumetricDivisor
	if volumetric > actualKg {
		return volumetric
	}
	return actualKg
}

// FlatFallback prices a shipment with no usable rate card: max(50, weight*20)
func FlatFallback(weightKg float64) (float64, models.PriceBreakdown) {
	amount := weightKg * flatFallbackPerKg
	if amount < flatFallbackFloor {
		amount = flatFallbackFloor
	}
	return amount, models.PriceBreakdown{
		BaseCharge: amount,
		Total:      amount,
		Flags:      []string{models.FlagFlatFallback},
	}
}

// Resolve computes the priced breakdown for a rate card. Any card decoding
// or lookup failure degrades to the flat fallback with confidence LOW rather
// than failing the quote.
func Resolve(card *models.RateCard, weightKg float64, zone string, paymentMode models.PaymentMode, orderValue float64) (float64, models.PriceBreakdown, models.Confidence) {
	if card == nil {
		amount, breakdown := FlatFallback(weightKg)
		return amount, breakdown, models.ConfidenceLow
	}

	amount, breakdown, err := resolveCard(card, weightKg, zone, paymentMode, orderValue)
	if err != nil {
		amount, breakdown = FlatFallback(weightKg)
		return amount, breakdown, models.ConfidenceLow
	}
	return amount, breakdown, models.ConfidenceMedium
}

func resolveCard(card *models.RateCard, weightKg float64, zone string, paymentMode models.PaymentMode, orderValue float64) (float64, models.PriceBreakdown, error) {
	var breakdown models.PriceBreakdown

	rule, fellBack, err := zoneRule(card, zone)
	if err != nil {
		return 0, breakdown, err
	}
	if fellBack {
		breakdown.Flags = append(breakdown.Flags, models.FlagZoneFallback)
	}

	base, overage, err := freightCharge(card, rule, weightKg)
	if err != nil {
		return 0, breakdown, err
	}
	breakdown.BaseCharge = base
	breakdown.WeightCharge = overage
	subtotal := base + overage

	if paymentMode == models.PaymentModeCOD {
		cod, err := codCharge(card, orderValue, weightKg)
		if err != nil {
			return 0, breakdown, err
		}
		breakdown.CODCharge = cod
	}

	breakdown.FuelSurcharge = round2(subtotal * card.FuelSurchargePct / 100)

	total := subtotal + breakdown.CODCharge + breakdown.FuelSurcharge
	if card.MinimumFare > 0 && total < card.MinimumFare {
		total = card.MinimumFare
		breakdown.Flags = append(breakdown.Flags, models.FlagMinimumFareApplied)
	}

	breakdown.Tax = round2(total * card.TaxPct / 100)
	total = round2(total + breakdown.Tax)
	breakdown.Total = total
	return total, breakdown, nil
}

// ResolveRTO prices the return-to-origin leg. When the zone has no explicit
// RTO rule the charge mirrors the forward freight subtotal only (base plus
// weight charge, excluding fuel and COD) and the breakdown is flagged so
// finance can audit the fallback.
func ResolveRTO(card *models.RateCard, weightKg float64, zone string) (float64, models.PriceBreakdown, error) {
	var breakdown models.PriceBreakdown
	if card == nil {
		return 0, breakdown, fmt.Errorf("rto: nil rate card")
	}

	rule, fellBack, err := zoneRule(card, zone)
	if err != nil {
		return 0, breakdown, err
	}
	if fellBack {
		breakdown.Flags = append(breakdown.Flags, models.FlagZoneFallback)
	}

	if rule.HasRTORule {
		breakdown.BaseCharge = rule.RTOCharge
		breakdown.Total = round2(rule.RTOCharge)
		return breakdown.Total, breakdown, nil
	}

	base, overage, err := freightCharge(card, rule, weightKg)
	if err != nil {
		return 0, breakdown, err
	}
	breakdown.BaseCharge = base
	breakdown.WeightCharge = overage
	breakdown.Total = round2(base + overage)
	breakdown.Flags = append(breakdown.Flags, models.FlagRTOMirrorsForward)
	return breakdown.Total, breakdown, nil
}

// zoneRule locates the rule for the normalized zone key, falling back to the
// card's first rule when the key has no mapping.
func zoneRule(card *models.RateCard, zone string) (*models.ZoneRule, bool, error) {
	var rules []models.ZoneRule
	if err := json.Unmarshal(card.ZoneRules, &rules); err != nil {
		return nil, false, fmt.Errorf("decode zone rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, false, fmt.Errorf("rate card %s has no zone rules", card.ID)
	}

	key := NormalizeZoneKey(zone)
	for i := range rules {
		if NormalizeZoneKey(rules[i].Zone) == key {
			return &rules[i], false, nil
		}
	}
	return &rules[0], true, nil
}

// freightCharge returns the slab charge and the rounded overage charge
func freightCharge(card *models.RateCard, rule *models.ZoneRule, weightKg float64) (float64, float64, error) {
	if len(rule.Slabs) == 0 {
		return 0, 0, fmt.Errorf("zone %s has no weight slabs", rule.Zone)
	}

	topMax := rule.Slabs[0].MaxKg
	topCharge := rule.Slabs[0].Charge
	for _, slab := range rule.Slabs {
		if weightKg >= slab.MinKg && weightKg < slab.MaxKg {
			return slab.Charge, 0, nil
		}
		if slab.MaxKg > topMax {
			topMax = slab.MaxKg
			topCharge = slab.Charge
		}
	}

	if weightKg < topMax {
		// Inside the table but between slab bounds; treat as a card defect
		return 0, 0, fmt.Errorf("weight %.3fkg not covered by zone %s slabs", weightKg, rule.Zone)
	}

	unit := card.RoundingUnit
	if unit <= 0 {
		unit = defaultRoundingUnit
	}
	// Overage is billed per rounding step "or part thereof": weight 2.3kg over
	// a 2.0kg top slab with a 0.5kg unit bills one step at the per-step rate.
	steps := overageSteps(weightKg-topMax, unit, card.RoundingMode)
	overage := round2(steps * rule.AdditionalPerKg)
	return topCharge, overage, nil
}

// codCharge computes the COD component for the card's rule
func codCharge(card *models.RateCard, orderValue, weightKg float64) (float64, error) {
	if len(card.CODRule) == 0 {
		return 0, nil
	}
	var rule models.CODRule
	if err := json.Unmarshal(card.CODRule, &rule); err != nil {
		return 0, fmt.Errorf("decode cod rule: %w", err)
	}

	switch rule.Type {
	case models.CODFlat, "":
		return rule.Flat, nil
	case models.CODPercent:
		fee := round2(orderValue * rule.Percent / 100)
		if fee < rule.MinFee {
			fee = rule.MinFee
		}
		return fee, nil
	case models.CODSlab:
		for _, slab := range rule.Slabs {
			if orderValue >= slab.MinKg && orderValue < slab.MaxKg {
				return slab.Charge, nil
			}
		}
		return rule.Flat, nil
	default:
		return 0, fmt.Errorf("unknown cod rule type %q", rule.Type)
	}
}

// overageSteps converts excess weight into billable rounding steps
func overageSteps(value, unit float64, mode models.RoundingMode) float64 {
	if value <= 0 {
		return 0
	}
	steps := value / unit
	switch mode {
	case models.RoundFloor:
		return math.Floor(steps)
	case models.RoundNearest:
		return math.Round(steps)
	default: // CEIL
		return math.Ceil(steps)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
