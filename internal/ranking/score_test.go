package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameCity(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Casablanca", "casablanca", true},
		{"  Rabat ", "rabat", true},
		{"Fès", "Fes", true},
		{"Marrakech", "Rabat", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, SameCity(tt.a, tt.b))
		})
	}
}

func TestScore(t *testing.T) {
	t.Run("near offer pays no fee", func(t *testing.T) {
		score, fee, nearby := Score(100, 1000, DefaultNearThresholdMeters, false, 20, 50)
		assert.Equal(t, int64(100), score)
		assert.Equal(t, int64(0), fee)
		assert.True(t, nearby)
	})

	t.Run("threshold distance is far", func(t *testing.T) {
		score, _, nearby := Score(100, DefaultNearThresholdMeters, DefaultNearThresholdMeters, true, 20, 50)
		assert.Equal(t, int64(120), score)
		assert.False(t, nearby)
	})

	t.Run("far same city", func(t *testing.T) {
		score, fee, _ := Score(90, 5000, DefaultNearThresholdMeters, true, 20, 50)
		assert.Equal(t, int64(110), score)
		assert.Equal(t, int64(20), fee)
	})

	t.Run("far other city", func(t *testing.T) {
		score, fee, _ := Score(90, 50000, DefaultNearThresholdMeters, false, 20, 50)
		assert.Equal(t, int64(140), score)
		assert.Equal(t, int64(50), fee)
	})

	t.Run("monotonic in price", func(t *testing.T) {
		for _, d := range []float64{100, 3000, 80000} {
			prev := int64(-1)
			for price := int64(0); price < 500; price += 25 {
				s, _, _ := Score(price, d, DefaultNearThresholdMeters, d < 10000, 20, 50)
				assert.GreaterOrEqual(t, s, prev)
				prev = s
			}
		}
	})
}

func TestScoreOffer(t *testing.T) {
	point := ReferencePoint{ID: "rp1", City: "Casablanca", Location: Location{Latitude: 33.5731, Longitude: -7.5898}}

	offer := Offer{
		ID:           "o1",
		MerchantID:   "m1",
		ProductID:    "p1",
		Price:        90,
		Quantity:     4,
		Available:    true,
		SameCityFee:  20,
		OtherCityFee: 50,
		Merchant: Merchant{
			ID:           "m1",
			BusinessName: "Epicerie",
			City:         "casablanca",
			Location:     Location{Latitude: 33.5731 + 0.045, Longitude: -7.5898},
		},
	}

	scored := ScoreAgainstPoint(offer, point, DefaultNearThresholdMeters)

	assert.Equal(t, "m1", scored.MerchantID)
	assert.Equal(t, "o1", scored.OfferID)
	assert.InDelta(t, 5004, scored.DistanceMeters, 5)
	assert.Equal(t, int64(110), scored.Score)
	assert.Equal(t, int64(20), scored.DeliveryFee)
	assert.False(t, scored.IsNearby)
	assert.Equal(t, "Epicerie", scored.BusinessName)
}
