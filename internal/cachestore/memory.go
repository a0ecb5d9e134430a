package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// MemoryStore is an in-process ranking.Store. Writes to one key are serialized
// by a per-key mutex; the ranked set and threshold are swapped together.
type MemoryStore struct {
	mu         sync.RWMutex
	sets       map[ranking.Key]*ranking.RankedSet
	thresholds map[ranking.Key]*ranking.Threshold
	nearest    map[string]*ranking.NearestMerchantsSet
	common     map[ranking.CommonCategoryKey]*ranking.CommonCategorySet

	locksMu sync.Mutex
	locks   map[ranking.Key]*sync.Mutex

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets:       make(map[ranking.Key]*ranking.RankedSet),
		thresholds: make(map[ranking.Key]*ranking.Threshold),
		nearest:    make(map[string]*ranking.NearestMerchantsSet),
		common:     make(map[ranking.CommonCategoryKey]*ranking.CommonCategorySet),
		locks:      make(map[ranking.Key]*sync.Mutex),
		now:        time.Now,
	}
}

func (s *MemoryStore) keyLock(key ranking.Key) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func cloneSet(set *ranking.RankedSet) *ranking.RankedSet {
	cp := *set
	cp.Offers = append([]ranking.ScoredOffer(nil), set.Offers...)
	return &cp
}

func (s *MemoryStore) GetRankedSet(ctx context.Context, key ranking.Key) (*ranking.RankedSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, ranking.ErrNotFound
	}
	return cloneSet(set), nil
}

func (s *MemoryStore) GetThreshold(ctx context.Context, key ranking.Key) (*ranking.Threshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.thresholds[key]
	if !ok {
		return nil, ranking.ErrNotFound
	}
	cp := *th
	return &cp, nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, key ranking.Key) (*ranking.RankedSet, *ranking.Threshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		set *ranking.RankedSet
		th  *ranking.Threshold
	)
	if v, ok := s.sets[key]; ok {
		set = cloneSet(v)
	}
	if v, ok := s.thresholds[key]; ok {
		cp := *v
		th = &cp
	}
	return set, th, nil
}

func (s *MemoryStore) UpdateRankedSet(ctx context.Context, key ranking.Key, fn ranking.UpdateFunc) (*ranking.RankedSet, error) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var current []ranking.ScoredOffer
	s.mu.RLock()
	if set, ok := s.sets[key]; ok {
		current = append([]ranking.ScoredOffer(nil), set.Offers...)
	}
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	now := s.now()
	set := &ranking.RankedSet{Key: key, Offers: append([]ranking.ScoredOffer{}, next...), CalculatedAt: now}
	th := ranking.ThresholdFor(key, set.Offers, now)

	s.mu.Lock()
	s.sets[key] = set
	s.thresholds[key] = &th
	s.mu.Unlock()

	return cloneSet(set), nil
}

func (s *MemoryStore) ListRankedSets(ctx context.Context, referencePointID, marketID string, since time.Time) ([]*ranking.RankedSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ranking.RankedSet
	for k, set := range s.sets {
		if k.ReferencePointID != referencePointID || k.MarketID != marketID {
			continue
		}
		if !since.IsZero() && !set.CalculatedAt.After(since) {
			continue
		}
		out = append(out, cloneSet(set))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.ProductID < out[j].Key.ProductID
	})
	return out, nil
}

func (s *MemoryStore) PutNearestMerchants(ctx context.Context, set *ranking.NearestMerchantsSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nearest[set.ReferencePointID] = set
	return nil
}

func (s *MemoryStore) GetNearestMerchants(ctx context.Context, referencePointID string) (*ranking.NearestMerchantsSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.nearest[referencePointID]
	if !ok {
		return nil, ranking.ErrNotFound
	}
	return set, nil
}

func (s *MemoryStore) PutCommonCategory(ctx context.Context, set *ranking.CommonCategorySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.common[set.Key] = set
	return nil
}

func (s *MemoryStore) GetCommonCategory(ctx context.Context, key ranking.CommonCategoryKey) (*ranking.CommonCategorySet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.common[key]
	if !ok {
		return nil, ranking.ErrNotFound
	}
	return set, nil
}

// Seed is the JSON document accepted by LoadSeedFile.
type Seed struct {
	ReferencePoints  []ranking.ReferencePoint `json:"referencePoints"`
	Merchants        []ranking.Merchant       `json:"merchants"`
	Offers           []ranking.Offer          `json:"offers"`
	CommonCategories []string                 `json:"commonCategories"`
}

// MemoryCatalog is an in-process ranking.Catalog. Offers are joined with their
// merchant record on read.
type MemoryCatalog struct {
	mu         sync.RWMutex
	points     map[string]ranking.ReferencePoint
	merchants  map[string]ranking.Merchant
	offers     map[string]ranking.Offer
	categories []string
}

// NewMemoryCatalog creates a catalog from a seed. A nil seed yields an empty catalog.
func NewMemoryCatalog(seed *Seed) *MemoryCatalog {
	c := &MemoryCatalog{
		points:    make(map[string]ranking.ReferencePoint),
		merchants: make(map[string]ranking.Merchant),
		offers:    make(map[string]ranking.Offer),
	}
	if seed == nil {
		return c
	}
	for _, p := range seed.ReferencePoints {
		c.points[p.ID] = p
	}
	for _, m := range seed.Merchants {
		c.merchants[m.ID] = m
	}
	for _, o := range seed.Offers {
		c.offers[o.ID] = o
	}
	c.categories = append(c.categories, seed.CommonCategories...)
	return c
}

// LoadSeedFile reads a JSON seed from disk.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// PutReferencePoint adds or replaces a reference point.
func (c *MemoryCatalog) PutReferencePoint(p ranking.ReferencePoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[p.ID] = p
}

// PutMerchant adds or replaces a merchant.
func (c *MemoryCatalog) PutMerchant(m ranking.Merchant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merchants[m.ID] = m
}

// PutOffer adds or replaces an offer.
func (c *MemoryCatalog) PutOffer(o ranking.Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[o.ID] = o
}

// DeleteOffer removes an offer.
func (c *MemoryCatalog) DeleteOffer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.offers, id)
}

// SetCommonCategories replaces the common category list.
func (c *MemoryCatalog) SetCommonCategories(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = append([]string(nil), ids...)
}

// ApplyChange mirrors an offer-change notification into the catalog.
func (c *MemoryCatalog) ApplyChange(change ranking.OfferChange) {
	if change.Action == ranking.ActionDelete {
		c.DeleteOffer(change.Offer.ID)
		return
	}
	o := change.Offer
	if change.Action == ranking.ActionUnavailable {
		o.Available = false
	}
	c.PutOffer(o)
}

func (c *MemoryCatalog) ReferencePoints(ctx context.Context) ([]ranking.ReferencePoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ranking.ReferencePoint, 0, len(c.points))
	for _, p := range c.points {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *MemoryCatalog) ReferencePoint(ctx context.Context, id string) (*ranking.ReferencePoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.points[id]
	if !ok || !p.Active {
		return nil, fmt.Errorf("reference point %s: %w", id, ranking.ErrNotFound)
	}
	return &p, nil
}

func (c *MemoryCatalog) ProductIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, o := range c.offers {
		seen[o.ProductID] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func (c *MemoryCatalog) MarketIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, m := range c.merchants {
		if m.MarketID != "" {
			seen[m.MarketID] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (c *MemoryCatalog) CommonCategoryIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.categories...), nil
}

func (c *MemoryCatalog) Merchants(ctx context.Context) ([]ranking.Merchant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ranking.Merchant, 0, len(c.merchants))
	for _, m := range c.merchants {
		if m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) Merchant(ctx context.Context, id string) (*ranking.Merchant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.merchants[id]
	if !ok {
		return nil, fmt.Errorf("merchant %s: %w", id, ranking.ErrNotFound)
	}
	return &m, nil
}

func (c *MemoryCatalog) Offer(ctx context.Context, id string) (*ranking.Offer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, ranking.ErrNotFound)
	}
	o = c.join(o)
	return &o, nil
}

// join fills the merchant fields of an offer. Callers hold the read lock.
func (c *MemoryCatalog) join(o ranking.Offer) ranking.Offer {
	if m, ok := c.merchants[o.MerchantID]; ok {
		o.Merchant = m
	}
	if o.MarketID == "" {
		o.MarketID = o.Merchant.MarketID
	}
	return o
}

// selectOffers returns joined, rankable offers matching keep, ordered by id.
func (c *MemoryCatalog) selectOffers(keep func(ranking.Offer) bool) []ranking.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ranking.Offer
	for _, o := range c.offers {
		o = c.join(o)
		if !o.InStock() || !o.Merchant.Active {
			continue
		}
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *MemoryCatalog) AvailableOffers(ctx context.Context, productID, marketID string) ([]ranking.Offer, error) {
	return c.selectOffers(func(o ranking.Offer) bool {
		return o.ProductID == productID && o.MarketID == marketID
	}), nil
}

func (c *MemoryCatalog) MerchantOffers(ctx context.Context, merchantID string) ([]ranking.Offer, error) {
	return c.selectOffers(func(o ranking.Offer) bool {
		return o.MerchantID == merchantID
	}), nil
}

func (c *MemoryCatalog) CategoryOffers(ctx context.Context, categoryID string, merchantIDs []string) ([]ranking.Offer, error) {
	wanted := make(map[string]struct{}, len(merchantIDs))
	for _, id := range merchantIDs {
		wanted[id] = struct{}{}
	}
	return c.selectOffers(func(o ranking.Offer) bool {
		_, ok := wanted[o.MerchantID]
		return ok && o.CategoryID == categoryID
	}), nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
