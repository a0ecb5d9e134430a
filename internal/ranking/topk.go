package ranking

import (
	"sort"
	"time"
)

// DefaultTopK is the capacity of a ranked set.
const DefaultTopK = 10

// SortByScore sorts offers ascending by score. The sort is stable so earlier
// entries keep their position on ties.
func SortByScore(offers []ScoredOffer) {
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Score < offers[j].Score
	})
}

// TopK returns the k best offers as a new slice. A merchant appearing more
// than once keeps only its best-scoring entry.
func TopK(offers []ScoredOffer, k int) []ScoredOffer {
	sorted := make([]ScoredOffer, len(offers))
	copy(sorted, offers)
	SortByScore(sorted)

	seen := make(map[string]struct{}, len(sorted))
	out := make([]ScoredOffer, 0, min(len(sorted), k))
	for _, o := range sorted {
		if len(out) == k {
			break
		}
		if _, ok := seen[o.MerchantID]; ok {
			continue
		}
		seen[o.MerchantID] = struct{}{}
		out = append(out, o)
	}
	return out
}

// Upsert replaces the merchant's entry with offer, re-sorts and truncates to k.
// The input slice is not modified.
func Upsert(current []ScoredOffer, offer ScoredOffer, k int) []ScoredOffer {
	out := make([]ScoredOffer, 0, len(current)+1)
	for _, o := range current {
		if o.MerchantID != offer.MerchantID {
			out = append(out, o)
		}
	}
	out = append(out, offer)
	SortByScore(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// RemoveMerchant returns offers without the given merchant's entry.
func RemoveMerchant(offers []ScoredOffer, merchantID string) []ScoredOffer {
	out := make([]ScoredOffer, 0, len(offers))
	for _, o := range offers {
		if o.MerchantID != merchantID {
			out = append(out, o)
		}
	}
	return out
}

// ContainsMerchant reports whether the merchant has an entry in offers.
func ContainsMerchant(offers []ScoredOffer, merchantID string) bool {
	for _, o := range offers {
		if o.MerchantID == merchantID {
			return true
		}
	}
	return false
}

// ThresholdFor derives the threshold of a sorted offer list.
func ThresholdFor(key Key, offers []ScoredOffer, now time.Time) Threshold {
	th := Threshold{Key: key, WorstScore: SentinelScore, Occupancy: len(offers), UpdatedAt: now}
	if len(offers) > 0 {
		th.WorstScore = offers[len(offers)-1].Score
	}
	return th
}

// ShouldAdmit reports whether a candidate score can enter a ranked set of capacity k.
// A nil threshold means the key has never been written.
func ShouldAdmit(th *Threshold, score int64, k int) bool {
	if th == nil {
		return true
	}
	if th.Occupancy < k {
		return true
	}
	return score < th.WorstScore
}

// Consistent reports whether a ranked set and its threshold agree.
func Consistent(set *RankedSet, th *Threshold) bool {
	switch {
	case set == nil && th == nil:
		return true
	case set == nil || th == nil:
		return false
	}
	if th.Occupancy != len(set.Offers) {
		return false
	}
	if th.Occupancy == 0 {
		return th.WorstScore == SentinelScore
	}
	return th.WorstScore == set.Offers[len(set.Offers)-1].Score
}

// Valid reports whether offers satisfy the ranked set invariants for capacity k:
// sorted ascending, at most k entries, no duplicate merchant.
func Valid(offers []ScoredOffer, k int) bool {
	if len(offers) > k {
		return false
	}
	seen := make(map[string]struct{}, len(offers))
	for i, o := range offers {
		if _, ok := seen[o.MerchantID]; ok {
			return false
		}
		seen[o.MerchantID] = struct{}{}
		if i > 0 && offers[i-1].Score > o.Score {
			return false
		}
	}
	return true
}
