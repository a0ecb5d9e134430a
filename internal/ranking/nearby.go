package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// NearestMerchants ranks active merchants by raw distance from the point and keeps the closest limit.
func NearestMerchants(point ReferencePoint, merchants []Merchant, limit int) []NearbyMerchant {
	out := make([]NearbyMerchant, 0, len(merchants))
	for _, m := range merchants {
		if !m.Active || ValidateLocation(m.Location) != nil {
			continue
		}
		out = append(out, NearbyMerchant{
			MerchantID:     m.ID,
			MarketID:       m.MarketID,
			BusinessName:   m.BusinessName,
			Logo:           m.Logo,
			Phone:          m.Phone,
			City:           m.City,
			Location:       m.Location,
			DistanceMeters: int(math.Round(DistanceMeters(point.Location, m.Location))),
		})
	}
	SortMerchantsByDistance(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RebuildNearestMerchants computes and stores the nearest merchants of a point.
func (e *Engine) RebuildNearestMerchants(ctx context.Context, point ReferencePoint, merchants []Merchant) (*NearestMerchantsSet, error) {
	set := &NearestMerchantsSet{
		ReferencePointID: point.ID,
		Merchants:        NearestMerchants(point, merchants, e.config.NearestMerchantsLimit),
		CalculatedAt:     e.now(),
	}
	if err := e.store.PutNearestMerchants(ctx, set); err != nil {
		return nil, fmt.Errorf("store nearest merchants for %s: %w", point.ID, err)
	}
	return set, nil
}

// merchantsWithin returns the merchants of a market strictly inside radius, keyed by id.
func merchantsWithin(point ReferencePoint, merchants []Merchant, marketID string, radius float64) (map[string]Merchant, map[string]float64) {
	byID := make(map[string]Merchant)
	dist := make(map[string]float64)
	for _, m := range merchants {
		if !m.Active || m.MarketID != marketID || ValidateLocation(m.Location) != nil {
			continue
		}
		d := DistanceMeters(point.Location, m.Location)
		if d < radius {
			byID[m.ID] = m
			dist[m.ID] = d
		}
	}
	return byID, dist
}

// RebuildCommonCategory collects every offer of a common category from merchants
// within the common radius of the point, sorts them by distance and stores them.
func (e *Engine) RebuildCommonCategory(ctx context.Context, point ReferencePoint, categoryID, marketID string, merchants []Merchant) (*CommonCategorySet, error) {
	key := CommonCategoryKey{ReferencePointID: point.ID, CategoryID: categoryID, MarketID: marketID}
	set := &CommonCategorySet{Key: key, Offers: []CommonOffer{}, CalculatedAt: e.now()}

	nearby, dist := merchantsWithin(point, merchants, marketID, e.config.CommonRadiusMeters)
	if len(nearby) > 0 {
		ids := make([]string, 0, len(nearby))
		for id := range nearby {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		offers, err := e.catalog.CategoryOffers(ctx, categoryID, ids)
		if err != nil {
			return nil, fmt.Errorf("load category offers for %s: %w", key, err)
		}

		sellers := make(map[string]struct{})
		for _, o := range offers {
			m, ok := nearby[o.MerchantID]
			if !ok || !o.InStock() {
				continue
			}
			sellers[m.ID] = struct{}{}
			set.Offers = append(set.Offers, CommonOffer{
				OfferID:        o.ID,
				ProductID:      o.ProductID,
				ProductNameFr:  o.Product.NameFr,
				ProductNameAr:  o.Product.NameAr,
				Images:         o.Product.Images,
				Price:          o.Price,
				Quantity:       o.Quantity,
				DistanceMeters: int(math.Round(dist[m.ID])),
				MerchantID:     m.ID,
				BusinessName:   m.BusinessName,
				Logo:           m.Logo,
				Phone:          m.Phone,
				City:           m.City,
				Location:       m.Location,
				SameCityFee:    o.SameCityFee,
				OtherCityFee:   o.OtherCityFee,
			})
		}
		sort.SliceStable(set.Offers, func(i, j int) bool {
			return set.Offers[i].DistanceMeters < set.Offers[j].DistanceMeters
		})
		set.MerchantCount = len(sellers)
		set.OfferCount = len(set.Offers)
	}

	if err := e.store.PutCommonCategory(ctx, set); err != nil {
		return nil, fmt.Errorf("store common category %s: %w", key, err)
	}
	return set, nil
}

// RefreshCommonCategoriesForMerchant rebuilds the common category caches of
// every reference point within the common radius of the merchant. It returns
// the number of entries rebuilt.
func (e *Engine) RefreshCommonCategoriesForMerchant(ctx context.Context, merchant Merchant, marketID string) (int, error) {
	if marketID == "" || ValidateLocation(merchant.Location) != nil {
		return 0, nil
	}

	points, err := e.catalog.ReferencePoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load reference points: %w", err)
	}

	var affected []ReferencePoint
	for _, p := range points {
		if DistanceMeters(p.Location, merchant.Location) < e.config.CommonRadiusMeters {
			affected = append(affected, p)
		}
	}
	if len(affected) == 0 {
		return 0, nil
	}

	categories, err := e.catalog.CommonCategoryIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load common categories: %w", err)
	}
	if len(categories) == 0 {
		return 0, nil
	}
	merchants, err := e.catalog.Merchants(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load merchants: %w", err)
	}

	refreshed := 0
	var errs []error
	for _, p := range affected {
		for _, c := range categories {
			if _, err := e.RebuildCommonCategory(ctx, p, c, marketID, merchants); err != nil {
				errs = append(errs, err)
				continue
			}
			refreshed++
		}
	}
	return refreshed, errors.Join(errs...)
}
