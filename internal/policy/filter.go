package policy

import (
	"encoding/json"

	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/rates"
)

// Filter applies a seller's allow/block policy and the catalog's hard
// eligibility constraints to the candidate service set.
type Filter struct {
	policy *models.SellerPolicy

	allowedProviders map[models.ProviderType]bool
	blockedProviders map[models.ProviderType]bool
	allowedServices  map[string]bool
	blockedServices  map[string]bool
}

// NewFilter builds a filter from a seller policy. A nil policy behaves like
// the default policy (everything allowed).
func NewFilter(policy *models.SellerPolicy) *Filter {
	f := &Filter{policy: policy}
	if policy != nil {
		f.allowedProviders = providerSet(policy.AllowedProviders)
		f.blockedProviders = providerSet(policy.BlockedProviders)
		f.allowedServices = stringSet(policy.AllowedServices)
		f.blockedServices = stringSet(policy.BlockedServices)
	}
	return f
}

// Eligible returns the catalog entries that survive both the seller policy
// and the request's hard constraints.
func (f *Filter) Eligible(catalog []models.ServiceCatalogEntry, req models.QuoteRequest, chargeableWeightKg float64, zone string) []models.ServiceCatalogEntry {
	var out []models.ServiceCatalogEntry
	for _, svc := range catalog {
		if !svc.IsActive {
			continue
		}
		if !f.Allowed(svc.Provider, svc.ServiceCode) {
			continue
		}
		if !serviceFits(svc, req, chargeableWeightKg, zone) {
			continue
		}
		out = append(out, svc)
	}
	return out
}

// Allowed applies the allow/block lists. Block always wins; an empty allow
// list means "all allowed".
func (f *Filter) Allowed(provider models.ProviderType, serviceCode string) bool {
	if f.blockedProviders[provider] || f.blockedServices[serviceCode] {
		return false
	}
	if len(f.allowedProviders) > 0 && !f.allowedProviders[provider] {
		return false
	}
	if len(f.allowedServices) > 0 && !f.allowedServices[serviceCode] {
		return false
	}
	return true
}

// serviceFits checks hard eligibility: weight range, payment-mode value
// ceiling, payment-mode membership, and zone support. Empty constraint lists
// mean "no restriction"; the literal zone token "all" also disables zone
// filtering.
func serviceFits(svc models.ServiceCatalogEntry, req models.QuoteRequest, weightKg float64, zone string) bool {
	if weightKg < svc.MinWeightKg {
		return false
	}
	if svc.MaxWeightKg > 0 && weightKg > svc.MaxWeightKg {
		return false
	}

	switch req.PaymentMode {
	case models.PaymentModeCOD:
		if svc.MaxCODValue > 0 && req.OrderValue > svc.MaxCODValue {
			return false
		}
	case models.PaymentModePrepaid:
		if svc.MaxPrepaidValue > 0 && req.OrderValue > svc.MaxPrepaidValue {
			return false
		}
	}

	if modes := paymentModes(svc.PaymentModes); len(modes) > 0 {
		found := false
		for _, m := range modes {
			if m == req.PaymentMode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return zoneSupported(svc, zone)
}

func zoneSupported(svc models.ServiceCatalogEntry, zone string) bool {
	var zones []string
	if len(svc.SupportedZones) > 0 {
		_ = json.Unmarshal(svc.SupportedZones, &zones)
	}
	if len(zones) == 0 || zone == "" {
		return true
	}
	want := rates.NormalizeZoneKey(zone)
	for _, z := range zones {
		if rates.IsUnrestrictedZone(z) || rates.NormalizeZoneKey(z) == want {
			return true
		}
	}
	return false
}

func providerSet(raw []byte) map[models.ProviderType]bool {
	var list []models.ProviderType
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &list)
	}
	set := make(map[models.ProviderType]bool, len(list))
	for _, p := range list {
		set[p] = true
	}
	return set
}

func stringSet(raw []byte) map[string]bool {
	var list []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &list)
	}
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}

func paymentModes(raw []byte) []models.PaymentMode {
	var list []models.PaymentMode
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &list)
	}
	return list
}
