package ranking

import (
	"sort"

	"github.com/google/uuid"

	"shipping-rates-service/internal/models"
)

const (
	priceWeight = 0.6
	speedWeight = 0.4

	// Options with no ETA are treated as this many days out so they sort last
	missingETADays = 999
)

// Result carries the ranked option list and the recommendation, if any
type Result struct {
	Options       []models.QuoteOption
	RecommendedID *uuid.UUID
}

// Rank scores, sorts, and tags the options, then applies the policy's
// recommendation rule. Ordering is deterministic for identical inputs: the
// sort is stable and ties retain original iteration order.
func Rank(options []models.QuoteOption, policy *models.SellerPolicy) Result {
	if len(options) == 0 {
		return Result{}
	}

	cheapest := 0
	fastest := 0
	for i := range options {
		if options[i].SellAmount < options[cheapest].SellAmount {
			cheapest = i
		}
		if etaDays(&options[i]) < etaDays(&options[fastest]) {
			fastest = i
		}
	}

	cheapestAmount := options[cheapest].SellAmount
	for i := range options {
		priceRank := 0.0
		if options[i].SellAmount > 0 {
			priceRank = cheapestAmount / options[i].SellAmount
		}
		speedRank := float64(missingETADays) / float64(etaDays(&options[i]))
		options[i].RankScore = priceWeight*priceRank + speedWeight*speedRank
	}

	options[cheapest].Tags = append(options[cheapest].Tags, models.TagCheapest)
	options[fastest].Tags = append(options[fastest].Tags, models.TagFastest)

	recommended := recommend(options, cheapest, fastest, policy)

	sort.SliceStable(options, func(i, j int) bool {
		return options[i].RankScore > options[j].RankScore
	})

	var recommendedID *uuid.UUID
	if recommended != uuid.Nil {
		id := recommended
		recommendedID = &id
	}
	return Result{Options: options, RecommendedID: recommendedID}
}

// recommend applies the policy's autoPriority rule and tags the winner.
// manual_only sellers get no recommendation at all.
func recommend(options []models.QuoteOption, cheapest, fastest int, policy *models.SellerPolicy) uuid.UUID {
	if policy == nil {
		policy = models.DefaultSellerPolicy("", "")
	}
	if policy.SelectionMode == models.SelectionManualOnly {
		return uuid.Nil
	}

	winner := cheapest
	switch policy.AutoPriority {
	case models.PriorityPrice:
		winner = cheapest
	case models.PrioritySpeed:
		winner = fastest
	case models.PriorityBalanced:
		// Prefer the fastest option when it costs at most delta percent more
		// than the cheapest one.
		limit := options[cheapest].SellAmount * (1 + policy.BalancedDeltaPct/100)
		if options[fastest].SellAmount <= limit {
			winner = fastest
		}
	}

	if !options[winner].HasTag(models.TagRecommended) {
		options[winner].Tags = append(options[winner].Tags, models.TagRecommended)
	}
	return options[winner].ID
}

func etaDays(o *models.QuoteOption) int {
	if o.ETAMaxDays <= 0 {
		return missingETADays
	}
	return o.ETAMaxDays
}
