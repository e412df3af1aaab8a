package rates

import "strings"

// Providers spell zone keys differently: Delhivery serviceability returns a
// bare letter ("a"), older rate cards use "zone_a", and the routing feed uses
// "route_a". All of them normalize to one canonical upper-case key.
var zonePrefixes = []string{"zone_", "route_", "zn_"}

// NormalizeZoneKey maps a provider-specific zone spelling to the canonical
// key used by rate-card zone rules. An empty input stays empty; the caller
// decides the fallback branch.
func NormalizeZoneKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range zonePrefixes {
		if strings.HasPrefix(key, p) {
			key = strings.TrimPrefix(key, p)
			break
		}
	}
	return strings.ToUpper(key)
}

// ZoneUnrestricted is the literal token meaning "no zone restriction"
const ZoneUnrestricted = "ALL"

// IsUnrestrictedZone reports whether the token disables zone filtering
func IsUnrestrictedZone(raw string) bool {
	return NormalizeZoneKey(raw) == ZoneUnrestricted
}
