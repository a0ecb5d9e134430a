package ranking

import (
	"fmt"
	"math"
	"time"
)

// SentinelScore is the worst score of an empty ranked set.
const SentinelScore int64 = math.MaxInt64

// Location represents geographic coordinates in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReferencePoint is a fixed anchor offers are pre-scored against.
type ReferencePoint struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	City         string   `json:"city"`
	Location     Location `json:"location"`
	Active       bool     `json:"active"`
	DisplayOrder int      `json:"displayOrder"`
}

// Merchant holds the fields of a seller the ranking engine needs.
type Merchant struct {
	ID           string   `json:"id"`
	MarketID     string   `json:"marketId"`
	BusinessName string   `json:"businessName"`
	Logo         string   `json:"logo,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	City         string   `json:"city"`
	Location     Location `json:"location"`
	Active       bool     `json:"active"`
}

// ProductInfo carries display fields of the catalog product behind an offer.
type ProductInfo struct {
	ID     string   `json:"id"`
	NameFr string   `json:"nameFr,omitempty"`
	NameAr string   `json:"nameAr,omitempty"`
	Images []string `json:"images,omitempty"`
}

// Offer is a merchant's priced and stocked instance of a product.
// Money values are in minor currency units.
type Offer struct {
	ID             string      `json:"id"`
	MerchantID     string      `json:"merchantId"`
	ProductID      string      `json:"productId"`
	MarketID       string      `json:"marketId"`
	CategoryID     string      `json:"categoryId,omitempty"`
	Price          int64       `json:"price"`
	Quantity       int         `json:"quantity"`
	Available      bool        `json:"available"`
	SameCityFee    int64       `json:"sameCityFee"`
	OtherCityFee   int64       `json:"otherCityFee"`
	PickupLocation string      `json:"pickupLocation,omitempty"`
	Merchant       Merchant    `json:"merchant"`
	Product        ProductInfo `json:"product"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// InStock reports whether the offer can be ranked at all.
func (o Offer) InStock() bool {
	return o.Available && o.Quantity > 0
}

// ScoredOffer is an offer scored against one location.
type ScoredOffer struct {
	MerchantID     string   `json:"merchantId"`
	OfferID        string   `json:"offerId"`
	ProductID      string   `json:"productId"`
	Price          int64    `json:"price"`
	DistanceMeters int      `json:"distanceMeters"`
	Score          int64    `json:"score"`
	DeliveryFee    int64    `json:"deliveryFee"`
	IsNearby       bool     `json:"isNearby"`
	Quantity       int      `json:"quantity"`
	BusinessName   string   `json:"businessName"`
	Phone          string   `json:"phone,omitempty"`
	City           string   `json:"city"`
	Location       Location `json:"location"`
	PickupLocation string   `json:"pickupLocation,omitempty"`
	SameCityFee    int64    `json:"sameCityFee"`
	OtherCityFee   int64    `json:"otherCityFee"`
	IsPromo        bool     `json:"isPromo,omitempty"`
}

// Key identifies a ranked set and its threshold.
type Key struct {
	ReferencePointID string `json:"referencePointId"`
	ProductID        string `json:"productId"`
	MarketID         string `json:"marketId"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ReferencePointID, k.ProductID, k.MarketID)
}

// RankedSet holds the best offers for a key, sorted ascending by score.
type RankedSet struct {
	Key          Key           `json:"key"`
	Offers       []ScoredOffer `json:"offers"`
	CalculatedAt time.Time     `json:"calculatedAt"`
}

// Threshold summarises the worst score and occupancy of a ranked set.
type Threshold struct {
	Key        Key       `json:"key"`
	WorstScore int64     `json:"worstScore"`
	Occupancy  int       `json:"occupancy"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NearbyMerchant is a merchant ranked by raw distance from a reference point.
type NearbyMerchant struct {
	MerchantID     string   `json:"merchantId"`
	MarketID       string   `json:"marketId"`
	BusinessName   string   `json:"businessName"`
	Logo           string   `json:"logo,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	City           string   `json:"city"`
	Location       Location `json:"location"`
	DistanceMeters int      `json:"distanceMeters"`
}

// NearestMerchantsSet is the cached list of merchants nearest to a reference point.
type NearestMerchantsSet struct {
	ReferencePointID string           `json:"referencePointId"`
	Merchants        []NearbyMerchant `json:"merchants"`
	CalculatedAt     time.Time        `json:"calculatedAt"`
}

// CommonCategoryKey identifies a common category cache entry.
type CommonCategoryKey struct {
	ReferencePointID string `json:"referencePointId"`
	CategoryID       string `json:"categoryId"`
	MarketID         string `json:"marketId"`
}

func (k CommonCategoryKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ReferencePointID, k.CategoryID, k.MarketID)
}

// CommonOffer is an offer of a common category listed by distance.
type CommonOffer struct {
	OfferID        string   `json:"offerId"`
	ProductID      string   `json:"productId"`
	ProductNameFr  string   `json:"productNameFr,omitempty"`
	ProductNameAr  string   `json:"productNameAr,omitempty"`
	Images         []string `json:"images,omitempty"`
	Price          int64    `json:"price"`
	Quantity       int      `json:"quantity"`
	DistanceMeters int      `json:"distanceMeters"`
	MerchantID     string   `json:"merchantId"`
	BusinessName   string   `json:"businessName"`
	Logo           string   `json:"logo,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	City           string   `json:"city"`
	Location       Location `json:"location"`
	SameCityFee    int64    `json:"sameCityFee"`
	OtherCityFee   int64    `json:"otherCityFee"`
}

// CommonCategorySet is the cached distance-sorted offer list for a common category.
type CommonCategorySet struct {
	Key           CommonCategoryKey `json:"key"`
	Offers        []CommonOffer     `json:"offers"`
	MerchantCount int               `json:"merchantCount"`
	OfferCount    int               `json:"offerCount"`
	CalculatedAt  time.Time         `json:"calculatedAt"`
}

// Action is the kind of change applied to an offer.
type Action string

const (
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionUnavailable Action = "unavailable"
)

// Valid reports whether the action is known.
func (a Action) Valid() bool {
	switch a {
	case ActionUpdate, ActionDelete, ActionUnavailable:
		return true
	}
	return false
}

// OfferChange is a single offer-change notification.
type OfferChange struct {
	Offer  Offer  `json:"offer"`
	Action Action `json:"action"`
}

// Removes reports whether the change takes the offer out of ranking.
func (c OfferChange) Removes() bool {
	return c.Action == ActionDelete || c.Action == ActionUnavailable || !c.Offer.InStock()
}

// MarketID resolves the market of the change, falling back to the merchant's.
func (c OfferChange) MarketID() string {
	if c.Offer.MarketID != "" {
		return c.Offer.MarketID
	}
	return c.Offer.Merchant.MarketID
}
