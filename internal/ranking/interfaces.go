package ranking

import (
	"context"
	"time"
)

// UpdateFunc receives the currently persisted offers of a key and returns the
// offers to persist in their place.
type UpdateFunc func(current []ScoredOffer) ([]ScoredOffer, error)

// Store persists ranked sets, thresholds and the two distance caches.
//
// UpdateRankedSet is the only write path for a ranked set. Implementations must
// run fn and persist both the returned list and the threshold derived from it
// as one atomic unit, so readers never observe a ranked set without its
// matching threshold.
type Store interface {
	GetRankedSet(ctx context.Context, key Key) (*RankedSet, error)
	GetThreshold(ctx context.Context, key Key) (*Threshold, error)
	// GetEntry reads the ranked set and threshold of a key as one snapshot.
	// Either result is nil when absent; ErrNotFound is never returned.
	GetEntry(ctx context.Context, key Key) (*RankedSet, *Threshold, error)
	UpdateRankedSet(ctx context.Context, key Key, fn UpdateFunc) (*RankedSet, error)
	ListRankedSets(ctx context.Context, referencePointID, marketID string, since time.Time) ([]*RankedSet, error)

	PutNearestMerchants(ctx context.Context, set *NearestMerchantsSet) error
	GetNearestMerchants(ctx context.Context, referencePointID string) (*NearestMerchantsSet, error)

	PutCommonCategory(ctx context.Context, set *CommonCategorySet) error
	GetCommonCategory(ctx context.Context, key CommonCategoryKey) (*CommonCategorySet, error)
}

// Catalog gives read access to the records owned by the marketplace backend.
type Catalog interface {
	// ReferencePoints returns active reference points ordered by display order.
	ReferencePoints(ctx context.Context) ([]ReferencePoint, error)
	// ReferencePoint returns ErrNotFound for unknown or inactive points.
	ReferencePoint(ctx context.Context, id string) (*ReferencePoint, error)

	ProductIDs(ctx context.Context) ([]string, error)
	MarketIDs(ctx context.Context) ([]string, error)
	CommonCategoryIDs(ctx context.Context) ([]string, error)

	// Merchants returns active merchants.
	Merchants(ctx context.Context) ([]Merchant, error)
	// Merchant returns ErrNotFound for unknown merchants.
	Merchant(ctx context.Context, id string) (*Merchant, error)

	// Offer returns ErrNotFound for unknown offers.
	Offer(ctx context.Context, id string) (*Offer, error)
	// AvailableOffers returns available, in-stock offers of active merchants for a product in a market.
	AvailableOffers(ctx context.Context, productID, marketID string) ([]Offer, error)
	// MerchantOffers returns available, in-stock offers of one merchant.
	MerchantOffers(ctx context.Context, merchantID string) ([]Offer, error)
	// CategoryOffers returns available, in-stock offers in a category from the given merchants.
	CategoryOffers(ctx context.Context, categoryID string, merchantIDs []string) ([]Offer, error)
}
