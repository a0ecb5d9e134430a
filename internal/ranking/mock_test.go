package ranking

import (
	"context"
	"errors"
	"sync"
	"time"
)

// mockCatalog is an in-memory Catalog for tests.
type mockCatalog struct {
	mu         sync.Mutex
	points     []ReferencePoint
	merchants  []Merchant
	offers     []Offer
	categories []string
	pointsErr  error
}

func (c *mockCatalog) ReferencePoints(ctx context.Context) ([]ReferencePoint, error) {
	if c.pointsErr != nil {
		return nil, c.pointsErr
	}
	return c.points, nil
}

func (c *mockCatalog) ReferencePoint(ctx context.Context, id string) (*ReferencePoint, error) {
	for _, p := range c.points {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (c *mockCatalog) ProductIDs(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, o := range c.offers {
		if !seen[o.ProductID] {
			seen[o.ProductID] = true
			ids = append(ids, o.ProductID)
		}
	}
	return ids, nil
}

func (c *mockCatalog) MarketIDs(ctx context.Context) ([]string, error) {
	return []string{"market"}, nil
}

func (c *mockCatalog) CommonCategoryIDs(ctx context.Context) ([]string, error) {
	return c.categories, nil
}

func (c *mockCatalog) Merchants(ctx context.Context) ([]Merchant, error) {
	return c.merchants, nil
}

func (c *mockCatalog) Merchant(ctx context.Context, id string) (*Merchant, error) {
	for _, m := range c.merchants {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (c *mockCatalog) Offer(ctx context.Context, id string) (*Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.offers {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (c *mockCatalog) AvailableOffers(ctx context.Context, productID, marketID string) ([]Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Offer
	for _, o := range c.offers {
		if o.ProductID == productID && o.MarketID == marketID && o.InStock() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *mockCatalog) MerchantOffers(ctx context.Context, merchantID string) ([]Offer, error) {
	var out []Offer
	for _, o := range c.offers {
		if o.MerchantID == merchantID && o.InStock() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *mockCatalog) CategoryOffers(ctx context.Context, categoryID string, merchantIDs []string) ([]Offer, error) {
	wanted := map[string]bool{}
	for _, id := range merchantIDs {
		wanted[id] = true
	}
	var out []Offer
	for _, o := range c.offers {
		if o.CategoryID == categoryID && wanted[o.MerchantID] && o.InStock() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *mockCatalog) setQuantity(offerID string, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.offers {
		if c.offers[i].ID == offerID {
			c.offers[i].Quantity = qty
		}
	}
}

func (c *mockCatalog) addOffer(o Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers = append(c.offers, o)
}

// mockStore is an in-memory Store for tests. failPoints makes writes for the
// listed reference points fail.
type mockStore struct {
	mu         sync.Mutex
	sets       map[Key]*RankedSet
	thresholds map[Key]*Threshold
	nearest    map[string]*NearestMerchantsSet
	common     map[CommonCategoryKey]*CommonCategorySet
	failPoints map[string]bool
	writes     int
}

func newMockStore() *mockStore {
	return &mockStore{
		sets:       make(map[Key]*RankedSet),
		thresholds: make(map[Key]*Threshold),
		nearest:    make(map[string]*NearestMerchantsSet),
		common:     make(map[CommonCategoryKey]*CommonCategorySet),
		failPoints: make(map[string]bool),
	}
}

func (s *mockStore) GetRankedSet(ctx context.Context, key Key) (*RankedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *set
	cp.Offers = append([]ScoredOffer(nil), set.Offers...)
	return &cp, nil
}

func (s *mockStore) GetThreshold(ctx context.Context, key Key) (*Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.thresholds[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *th
	return &cp, nil
}

func (s *mockStore) GetEntry(ctx context.Context, key Key) (*RankedSet, *Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		set *RankedSet
		th  *Threshold
	)
	if v, ok := s.sets[key]; ok {
		cp := *v
		cp.Offers = append([]ScoredOffer(nil), v.Offers...)
		set = &cp
	}
	if v, ok := s.thresholds[key]; ok {
		cp := *v
		th = &cp
	}
	return set, th, nil
}

func (s *mockStore) UpdateRankedSet(ctx context.Context, key Key, fn UpdateFunc) (*RankedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPoints[key.ReferencePointID] {
		return nil, errors.New("write failed")
	}
	var current []ScoredOffer
	if set, ok := s.sets[key]; ok {
		current = set.Offers
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	set := &RankedSet{Key: key, Offers: next, CalculatedAt: now}
	th := ThresholdFor(key, next, now)
	s.sets[key] = set
	s.thresholds[key] = &th
	s.writes++
	return set, nil
}

func (s *mockStore) ListRankedSets(ctx context.Context, referencePointID, marketID string, since time.Time) ([]*RankedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RankedSet
	for k, set := range s.sets {
		if k.ReferencePointID == referencePointID && k.MarketID == marketID && set.CalculatedAt.After(since) {
			out = append(out, set)
		}
	}
	return out, nil
}

func (s *mockStore) PutNearestMerchants(ctx context.Context, set *NearestMerchantsSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nearest[set.ReferencePointID] = set
	return nil
}

func (s *mockStore) GetNearestMerchants(ctx context.Context, referencePointID string) (*NearestMerchantsSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.nearest[referencePointID]
	if !ok {
		return nil, ErrNotFound
	}
	return set, nil
}

func (s *mockStore) PutCommonCategory(ctx context.Context, set *CommonCategorySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.common[set.Key] = set
	return nil
}

func (s *mockStore) GetCommonCategory(ctx context.Context, key CommonCategoryKey) (*CommonCategorySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.common[key]
	if !ok {
		return nil, ErrNotFound
	}
	return set, nil
}
