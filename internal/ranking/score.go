package ranking

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultNearThresholdMeters is the distance below which delivery is free.
const DefaultNearThresholdMeters = 2500.0

// NormalizeCity folds case, trims whitespace and strips accents so "Fès " and "fes" compare equal.
func NormalizeCity(city string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	result, _, err := transform.String(t, strings.TrimSpace(city))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(city))
	}
	return result
}

// SameCity reports whether two city names refer to the same city.
// Empty names never match.
func SameCity(a, b string) bool {
	na, nb := NormalizeCity(a), NormalizeCity(b)
	return na != "" && na == nb
}

// Score computes the comparable cost of an offer. It returns the score, the
// delivery fee applied and whether the offer counts as nearby.
func Score(price int64, distanceMeters, nearThresholdMeters float64, sameCity bool, sameCityFee, otherCityFee int64) (score, fee int64, nearby bool) {
	switch {
	case distanceMeters < nearThresholdMeters:
		return price, 0, true
	case sameCity:
		return price + sameCityFee, sameCityFee, false
	default:
		return price + otherCityFee, otherCityFee, false
	}
}

// ScoreOffer scores an offer against a location in the given city.
func ScoreOffer(offer Offer, from Location, city string, nearThresholdMeters float64) ScoredOffer {
	distance := DistanceMeters(from, offer.Merchant.Location)
	score, fee, nearby := Score(offer.Price, distance, nearThresholdMeters,
		SameCity(offer.Merchant.City, city), offer.SameCityFee, offer.OtherCityFee)

	return ScoredOffer{
		MerchantID:     offer.MerchantID,
		OfferID:        offer.ID,
		ProductID:      offer.ProductID,
		Price:          offer.Price,
		DistanceMeters: int(math.Round(distance)),
		Score:          score,
		DeliveryFee:    fee,
		IsNearby:       nearby,
		Quantity:       offer.Quantity,
		BusinessName:   offer.Merchant.BusinessName,
		Phone:          offer.Merchant.Phone,
		City:           offer.Merchant.City,
		Location:       offer.Merchant.Location,
		PickupLocation: offer.PickupLocation,
		SameCityFee:    offer.SameCityFee,
		OtherCityFee:   offer.OtherCityFee,
	}
}

// ScoreAgainstPoint scores an offer against a reference point.
func ScoreAgainstPoint(offer Offer, point ReferencePoint, nearThresholdMeters float64) ScoredOffer {
	return ScoreOffer(offer, point.Location, point.City, nearThresholdMeters)
}
