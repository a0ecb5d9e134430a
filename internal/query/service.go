package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// Sources of a getOffers result.
const (
	SourceLive  = "live"
	SourceCache = "cache"
)

// NoOffersMessage is returned with an empty result when nothing sells the product.
const NoOffersMessage = "No offers available for this product"

// OffersRequest is a shopper query for the best offers of one product.
type OffersRequest struct {
	ProductID       string  `json:"productId"`
	MarketID        string  `json:"marketId"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	ClientCity      string  `json:"clientCity,omitempty"`
	PromoMerchantID string  `json:"promoMerchantId,omitempty"`
}

// OffersResult holds up to ResultLimit offers in display order.
type OffersResult struct {
	ProductID        string                `json:"productId"`
	Offers           []ranking.ScoredOffer `json:"offers"`
	Source           string                `json:"source"`
	ReferencePointID string                `json:"referencePointId,omitempty"`
	Message          string                `json:"message,omitempty"`
}

// SyncData is the ranked set feed for offline clients.
type SyncData struct {
	ReferencePointID string               `json:"referencePointId"`
	MarketID         string               `json:"marketId"`
	Products         []*ranking.RankedSet `json:"products"`
	SyncedAt         time.Time            `json:"syncedAt"`
}

// PromoProducts are the offers of a promo merchant scored against a reference point.
type PromoProducts struct {
	MerchantID       string                `json:"merchantId"`
	ReferencePointID string                `json:"referencePointId"`
	Products         []ranking.ScoredOffer `json:"products"`
}

// NearestPoint is the reference point closest to a location.
type NearestPoint struct {
	ReferencePoint ranking.ReferencePoint `json:"referencePoint"`
	DistanceMeters int                    `json:"distanceMeters"`
}

// Service is the read path over the catalog and the ranking caches.
type Service struct {
	catalog ranking.Catalog
	store   ranking.Store
	config  *ranking.Config
	metrics *ranking.MetricsRecorder
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates a query service. A nil config uses ranking.Defaults().
func NewService(catalog ranking.Catalog, store ranking.Store, config *ranking.Config) *Service {
	if config == nil {
		config = ranking.Defaults()
	}
	return &Service{
		catalog: catalog,
		store:   store,
		config:  config,
		metrics: ranking.NewMetricsRecorder(),
		logger:  log.With().Str("component", "query").Logger(),
		now:     time.Now,
	}
}

func required(field, value string) error {
	if value == "" {
		return ranking.ErrInvalidRequest{Field: field, Reason: "is required"}
	}
	return nil
}

// GetOffers returns the offers to display for a product near a shopper.
//
// In live mode every available offer is scored against the shopper's own
// location and city. In anchor mode the ranked set of the nearest reference
// point is used and live scoring is the fallback when that set is missing or
// does not contain the promo merchant.
func (s *Service) GetOffers(ctx context.Context, req OffersRequest) (*OffersResult, error) {
	if err := required("productId", req.ProductID); err != nil {
		return nil, err
	}
	if err := required("marketId", req.MarketID); err != nil {
		return nil, err
	}
	loc := ranking.Location{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := ranking.ValidateLocation(loc); err != nil {
		return nil, err
	}

	result := &OffersResult{ProductID: req.ProductID}

	if s.config.ReadMode == ranking.ReadModeAnchor {
		offers, pointID, err := s.anchorOffers(ctx, loc, req)
		if err != nil {
			return nil, err
		}
		if offers != nil {
			s.metrics.RecordReadSource(SourceCache)
			result.Source = SourceCache
			result.ReferencePointID = pointID
			result.Offers = Select(offers, req.PromoMerchantID, s.config.ResultLimit)
			return result, nil
		}
	}

	s.metrics.RecordReadSource(SourceLive)
	result.Source = SourceLive

	available, err := s.catalog.AvailableOffers(ctx, req.ProductID, req.MarketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load offers: %w", err)
	}
	if len(available) == 0 {
		result.Offers = []ranking.ScoredOffer{}
		result.Message = NoOffersMessage
		return result, nil
	}

	scored := make([]ranking.ScoredOffer, 0, len(available))
	for _, o := range available {
		if ranking.ValidateLocation(o.Merchant.Location) != nil {
			continue
		}
		scored = append(scored, ranking.ScoreOffer(o, loc, req.ClientCity, s.config.NearThresholdMeters))
	}
	result.Offers = Select(scored, req.PromoMerchantID, s.config.ResultLimit)
	return result, nil
}

// anchorOffers returns the cached offers of the nearest reference point, or
// nil when the caller should score live.
func (s *Service) anchorOffers(ctx context.Context, loc ranking.Location, req OffersRequest) ([]ranking.ScoredOffer, string, error) {
	nearest, err := s.nearest(ctx, loc)
	if errors.Is(err, ranking.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	key := ranking.Key{ReferencePointID: nearest.ReferencePoint.ID, ProductID: req.ProductID, MarketID: req.MarketID}
	set, err := s.store.GetRankedSet(ctx, key)
	if errors.Is(err, ranking.ErrNotFound) {
		s.logger.Debug().Str("key", key.String()).Msg("No ranked set, scoring live")
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load ranked set %s: %w", key, err)
	}
	if len(set.Offers) == 0 {
		return nil, "", nil
	}
	if req.PromoMerchantID != "" && !ranking.ContainsMerchant(set.Offers, req.PromoMerchantID) {
		return nil, "", nil
	}
	return set.Offers, key.ReferencePointID, nil
}

// Select orders scored offers for display and keeps at most limit of them.
//
// With a promo merchant that has an offer, its offer comes first and only
// offers scoring strictly worse follow it. Otherwise the best nearby offer
// comes first followed by the best far offers, or the best far offers alone
// when nothing is nearby.
func Select(offers []ranking.ScoredOffer, promoMerchantID string, limit int) []ranking.ScoredOffer {
	out := make([]ranking.ScoredOffer, 0, limit)
	if limit <= 0 || len(offers) == 0 {
		return out
	}

	sorted := slices.Clone(offers)
	ranking.SortByScore(sorted)

	if promoMerchantID != "" {
		idx := slices.IndexFunc(sorted, func(o ranking.ScoredOffer) bool { return o.MerchantID == promoMerchantID })
		if idx >= 0 {
			promo := sorted[idx]
			promo.IsPromo = true
			out = append(out, promo)
			for _, o := range sorted {
				if len(out) == limit {
					break
				}
				if o.MerchantID != promoMerchantID && o.Score > promo.Score {
					out = append(out, o)
				}
			}
			return out
		}
	}

	var near, far []ranking.ScoredOffer
	for _, o := range sorted {
		if o.IsNearby {
			near = append(near, o)
		} else {
			far = append(far, o)
		}
	}

	if len(near) > 0 {
		out = append(out, near[0])
		limit--
	}
	return append(out, far[:min(limit, len(far))]...)
}

// GetCommonCategoryOffers returns the cached common category offers.
func (s *Service) GetCommonCategoryOffers(ctx context.Context, referencePointID, categoryID, marketID string) (*ranking.CommonCategorySet, error) {
	for field, value := range map[string]string{
		"referencePointId": referencePointID,
		"categoryId":       categoryID,
		"marketId":         marketID,
	} {
		if err := required(field, value); err != nil {
			return nil, err
		}
	}
	key := ranking.CommonCategoryKey{ReferencePointID: referencePointID, CategoryID: categoryID, MarketID: marketID}
	set, err := s.store.GetCommonCategory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("common category %s: %w", key, err)
	}
	return set, nil
}

// GetNearestMerchants returns the cached nearest merchants of a reference point.
func (s *Service) GetNearestMerchants(ctx context.Context, referencePointID string) (*ranking.NearestMerchantsSet, error) {
	if err := required("referencePointId", referencePointID); err != nil {
		return nil, err
	}
	set, err := s.store.GetNearestMerchants(ctx, referencePointID)
	if err != nil {
		return nil, fmt.Errorf("nearest merchants of %s: %w", referencePointID, err)
	}
	return set, nil
}

// GetSyncData returns the ranked sets of a reference point and market that
// changed after lastSync. A zero lastSync returns everything. SyncedAt is taken
// before reading so a client passing it back never misses a write.
func (s *Service) GetSyncData(ctx context.Context, referencePointID, marketID string, lastSync time.Time) (*SyncData, error) {
	if err := required("referencePointId", referencePointID); err != nil {
		return nil, err
	}
	if err := required("marketId", marketID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.ReferencePoint(ctx, referencePointID); err != nil {
		return nil, err
	}

	syncedAt := s.now().UTC()
	sets, err := s.store.ListRankedSets(ctx, referencePointID, marketID, lastSync)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranked sets: %w", err)
	}
	if sets == nil {
		sets = []*ranking.RankedSet{}
	}
	return &SyncData{
		ReferencePointID: referencePointID,
		MarketID:         marketID,
		Products:         sets,
		SyncedAt:         syncedAt,
	}, nil
}

// GetPromoMerchantProducts scores every available offer of a promo merchant
// against a reference point. The merchant's market is not checked: a promo
// code names the merchant directly.
func (s *Service) GetPromoMerchantProducts(ctx context.Context, merchantID, referencePointID string) (*PromoProducts, error) {
	if err := required("merchantId", merchantID); err != nil {
		return nil, err
	}
	if err := required("referencePointId", referencePointID); err != nil {
		return nil, err
	}

	point, err := s.catalog.ReferencePoint(ctx, referencePointID)
	if err != nil {
		return nil, err
	}
	merchant, err := s.catalog.Merchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	result := &PromoProducts{MerchantID: merchantID, ReferencePointID: referencePointID, Products: []ranking.ScoredOffer{}}
	if ranking.ValidateLocation(merchant.Location) != nil {
		s.logger.Warn().Str("merchant_id", merchantID).Msg("Promo merchant has no valid location")
		return result, nil
	}

	offers, err := s.catalog.MerchantOffers(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant offers: %w", err)
	}
	for _, o := range offers {
		scored := ranking.ScoreAgainstPoint(o, *point, s.config.NearThresholdMeters)
		scored.IsPromo = true
		result.Products = append(result.Products, scored)
	}
	return result, nil
}

// NearestReferencePoint returns the active reference point closest to a location.
func (s *Service) NearestReferencePoint(ctx context.Context, latitude, longitude float64) (*NearestPoint, error) {
	loc := ranking.Location{Latitude: latitude, Longitude: longitude}
	if err := ranking.ValidateLocation(loc); err != nil {
		return nil, err
	}
	return s.nearest(ctx, loc)
}

func (s *Service) nearest(ctx context.Context, loc ranking.Location) (*NearestPoint, error) {
	points, err := s.catalog.ReferencePoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference points: %w", err)
	}

	var best *NearestPoint
	bestDistance := math.Inf(1)
	for _, p := range points {
		if ranking.ValidateLocation(p.Location) != nil {
			continue
		}
		d := ranking.DistanceMeters(loc, p.Location)
		if d < bestDistance {
			bestDistance = d
			best = &NearestPoint{ReferencePoint: p, DistanceMeters: int(math.Round(d))}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no active reference point: %w", ranking.ErrNotFound)
	}
	return best, nil
}
