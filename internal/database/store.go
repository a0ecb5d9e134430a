package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// Store is the Postgres ranking.Store. A ranked set and its threshold share a
// row; UpdateRankedSet locks that row for the whole read-modify-write.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore creates a store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func decodeOffers(data []byte) ([]ranking.ScoredOffer, error) {
	offers := []ranking.ScoredOffer{}
	if len(data) == 0 {
		return offers, nil
	}
	if err := json.Unmarshal(data, &offers); err != nil {
		return nil, fmt.Errorf("failed to decode offers: %w", err)
	}
	return offers, nil
}

func (s *Store) GetRankedSet(ctx context.Context, key ranking.Key) (*ranking.RankedSet, error) {
	var data []byte
	set := &ranking.RankedSet{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT offers, calculated_at
		FROM ranked_sets
		WHERE reference_point_id = $1 AND product_id = $2 AND market_id = $3
	`, key.ReferencePointID, key.ProductID, key.MarketID).Scan(&data, &set.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ranking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ranked set %s: %w", key, err)
	}
	if set.Offers, err = decodeOffers(data); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Store) GetThreshold(ctx context.Context, key ranking.Key) (*ranking.Threshold, error) {
	th := &ranking.Threshold{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT worst_score, occupancy, calculated_at
		FROM ranked_sets
		WHERE reference_point_id = $1 AND product_id = $2 AND market_id = $3
	`, key.ReferencePointID, key.ProductID, key.MarketID).Scan(&th.WorstScore, &th.Occupancy, &th.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ranking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threshold %s: %w", key, err)
	}
	return th, nil
}

// GetEntry reads offers and threshold from the same row in one statement.
func (s *Store) GetEntry(ctx context.Context, key ranking.Key) (*ranking.RankedSet, *ranking.Threshold, error) {
	var data []byte
	set := &ranking.RankedSet{Key: key}
	th := &ranking.Threshold{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT offers, calculated_at, worst_score, occupancy
		FROM ranked_sets
		WHERE reference_point_id = $1 AND product_id = $2 AND market_id = $3
	`, key.ReferencePointID, key.ProductID, key.MarketID).Scan(&data, &set.CalculatedAt, &th.WorstScore, &th.Occupancy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get entry %s: %w", key, err)
	}
	if set.Offers, err = decodeOffers(data); err != nil {
		return nil, nil, err
	}
	th.UpdatedAt = set.CalculatedAt
	return set, th, nil
}

func (s *Store) UpdateRankedSet(ctx context.Context, key ranking.Key, fn ranking.UpdateFunc) (*ranking.RankedSet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Make sure a row exists so FOR UPDATE has something to lock. The
	// placeholder is overwritten before commit and never visible to readers.
	_, err = tx.Exec(ctx, `
		INSERT INTO ranked_sets (reference_point_id, product_id, market_id, offers, worst_score, occupancy)
		VALUES ($1, $2, $3, '[]', $4, 0)
		ON CONFLICT DO NOTHING
	`, key.ReferencePointID, key.ProductID, key.MarketID, ranking.SentinelScore)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve ranked set %s: %w", key, err)
	}

	var data []byte
	err = tx.QueryRow(ctx, `
		SELECT offers FROM ranked_sets
		WHERE reference_point_id = $1 AND product_id = $2 AND market_id = $3
		FOR UPDATE
	`, key.ReferencePointID, key.ProductID, key.MarketID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ranked set %s: %w", key, err)
	}
	current, err := decodeOffers(data)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	set := &ranking.RankedSet{Key: key, Offers: append([]ranking.ScoredOffer{}, next...), CalculatedAt: now}
	th := ranking.ThresholdFor(key, set.Offers, now)

	encoded, err := json.Marshal(set.Offers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode offers: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ranked_sets
		SET offers = $4, worst_score = $5, occupancy = $6, calculated_at = $7
		WHERE reference_point_id = $1 AND product_id = $2 AND market_id = $3
	`, key.ReferencePointID, key.ProductID, key.MarketID, encoded, th.WorstScore, th.Occupancy, now)
	if err != nil {
		return nil, fmt.Errorf("failed to write ranked set %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ranked set %s: %w", key, err)
	}
	return set, nil
}

func (s *Store) ListRankedSets(ctx context.Context, referencePointID, marketID string, since time.Time) ([]*ranking.RankedSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, offers, calculated_at
		FROM ranked_sets
		WHERE reference_point_id = $1 AND market_id = $2 AND calculated_at > $3
		ORDER BY product_id
	`, referencePointID, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranked sets: %w", err)
	}
	defer rows.Close()

	var sets []*ranking.RankedSet
	for rows.Next() {
		var data []byte
		set := &ranking.RankedSet{Key: ranking.Key{ReferencePointID: referencePointID, MarketID: marketID}}
		if err := rows.Scan(&set.Key.ProductID, &data, &set.CalculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ranked set: %w", err)
		}
		if set.Offers, err = decodeOffers(data); err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

func (s *Store) PutNearestMerchants(ctx context.Context, set *ranking.NearestMerchantsSet) error {
	encoded, err := json.Marshal(set.Merchants)
	if err != nil {
		return fmt.Errorf("failed to encode merchants: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO nearest_merchants (reference_point_id, merchants, calculated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (reference_point_id) DO UPDATE SET
			merchants = EXCLUDED.merchants,
			calculated_at = EXCLUDED.calculated_at
	`, set.ReferencePointID, encoded, set.CalculatedAt)
	if err != nil {
		return fmt.Errorf("failed to store nearest merchants: %w", err)
	}
	return nil
}

func (s *Store) GetNearestMerchants(ctx context.Context, referencePointID string) (*ranking.NearestMerchantsSet, error) {
	var data []byte
	set := &ranking.NearestMerchantsSet{ReferencePointID: referencePointID}
	err := s.pool.QueryRow(ctx, `
		SELECT merchants, calculated_at FROM nearest_merchants WHERE reference_point_id = $1
	`, referencePointID).Scan(&data, &set.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ranking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nearest merchants: %w", err)
	}
	if err := json.Unmarshal(data, &set.Merchants); err != nil {
		return nil, fmt.Errorf("failed to decode merchants: %w", err)
	}
	return set, nil
}

func (s *Store) PutCommonCategory(ctx context.Context, set *ranking.CommonCategorySet) error {
	encoded, err := json.Marshal(set.Offers)
	if err != nil {
		return fmt.Errorf("failed to encode common offers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO common_category_sets (
			reference_point_id, category_id, market_id, offers,
			merchant_count, offer_count, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (reference_point_id, category_id, market_id) DO UPDATE SET
			offers = EXCLUDED.offers,
			merchant_count = EXCLUDED.merchant_count,
			offer_count = EXCLUDED.offer_count,
			calculated_at = EXCLUDED.calculated_at
	`, set.Key.ReferencePointID, set.Key.CategoryID, set.Key.MarketID, encoded,
		set.MerchantCount, set.OfferCount, set.CalculatedAt)
	if err != nil {
		return fmt.Errorf("failed to store common category: %w", err)
	}
	return nil
}

func (s *Store) GetCommonCategory(ctx context.Context, key ranking.CommonCategoryKey) (*ranking.CommonCategorySet, error) {
	var data []byte
	set := &ranking.CommonCategorySet{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT offers, merchant_count, offer_count, calculated_at
		FROM common_category_sets
		WHERE reference_point_id = $1 AND category_id = $2 AND market_id = $3
	`, key.ReferencePointID, key.CategoryID, key.MarketID).Scan(&data, &set.MerchantCount, &set.OfferCount, &set.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ranking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get common category: %w", err)
	}
	if err := json.Unmarshal(data, &set.Offers); err != nil {
		return nil, fmt.Errorf("failed to decode common offers: %w", err)
	}
	return set, nil
}
