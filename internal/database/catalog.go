package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// Catalog reads reference points, merchants, products and offers from Postgres.
// Missing merchant coordinates are returned as NaN so the engine skips them.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog creates a catalog on the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

const referencePointColumns = `id, name, city, latitude, longitude, active, display_order`

func scanReferencePoint(row pgx.Row) (ranking.ReferencePoint, error) {
	var p ranking.ReferencePoint
	err := row.Scan(&p.ID, &p.Name, &p.City, &p.Location.Latitude, &p.Location.Longitude, &p.Active, &p.DisplayOrder)
	return p, err
}

func (c *Catalog) ReferencePoints(ctx context.Context) ([]ranking.ReferencePoint, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT `+referencePointColumns+`
		FROM reference_points
		WHERE active
		ORDER BY display_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference points: %w", err)
	}
	defer rows.Close()

	var points []ranking.ReferencePoint
	for rows.Next() {
		p, err := scanReferencePoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reference point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (c *Catalog) ReferencePoint(ctx context.Context, id string) (*ranking.ReferencePoint, error) {
	p, err := scanReferencePoint(c.pool.QueryRow(ctx, `
		SELECT `+referencePointColumns+`
		FROM reference_points
		WHERE id = $1 AND active
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reference point %s: %w", id, ranking.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reference point: %w", err)
	}
	return &p, nil
}

func (c *Catalog) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (c *Catalog) ProductIDs(ctx context.Context) ([]string, error) {
	ids, err := c.queryStrings(ctx, `SELECT id FROM products WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return ids, nil
}

func (c *Catalog) MarketIDs(ctx context.Context) ([]string, error) {
	ids, err := c.queryStrings(ctx, `
		SELECT DISTINCT market_id FROM merchants
		WHERE active AND market_id IS NOT NULL AND market_id <> ''
		ORDER BY market_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	return ids, nil
}

func (c *Catalog) CommonCategoryIDs(ctx context.Context) ([]string, error) {
	ids, err := c.queryStrings(ctx, `SELECT id FROM categories WHERE is_common ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query common categories: %w", err)
	}
	return ids, nil
}

const merchantColumns = `m.id, COALESCE(m.market_id, ''), m.business_name, m.logo, m.phone, m.city,
	COALESCE(m.latitude, 'NaN'::float8), COALESCE(m.longitude, 'NaN'::float8), m.active`

func merchantDest(m *ranking.Merchant) []any {
	return []any{&m.ID, &m.MarketID, &m.BusinessName, &m.Logo, &m.Phone, &m.City,
		&m.Location.Latitude, &m.Location.Longitude, &m.Active}
}

func (c *Catalog) Merchants(ctx context.Context) ([]ranking.Merchant, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+merchantColumns+` FROM merchants m WHERE m.active ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchants: %w", err)
	}
	defer rows.Close()

	var merchants []ranking.Merchant
	for rows.Next() {
		var m ranking.Merchant
		if err := rows.Scan(merchantDest(&m)...); err != nil {
			return nil, fmt.Errorf("failed to scan merchant: %w", err)
		}
		merchants = append(merchants, m)
	}
	return merchants, rows.Err()
}

func (c *Catalog) Merchant(ctx context.Context, id string) (*ranking.Merchant, error) {
	var m ranking.Merchant
	err := c.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants m WHERE m.id = $1`, id).Scan(merchantDest(&m)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("merchant %s: %w", id, ranking.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	return &m, nil
}

const offerSelect = `
	SELECT o.id, o.merchant_id, o.product_id, COALESCE(o.market_id, m.market_id, ''),
		COALESCE(p.category_id, ''), o.price, o.quantity, o.available,
		o.same_city_fee, o.other_city_fee, o.pickup_location, o.updated_at,
		` + merchantColumns + `,
		p.id, p.name_fr, p.name_ar, p.images
	FROM offers o
	JOIN merchants m ON m.id = o.merchant_id
	JOIN products p ON p.id = o.product_id
`

// rankable restricts offers to those the engine may rank.
const rankable = `o.available AND o.quantity > 0 AND m.active AND p.active`

func (c *Catalog) queryOffers(ctx context.Context, where string, args ...any) ([]ranking.Offer, error) {
	rows, err := c.pool.Query(ctx, offerSelect+" WHERE "+where+" ORDER BY o.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	var offers []ranking.Offer
	for rows.Next() {
		var o ranking.Offer
		dest := []any{&o.ID, &o.MerchantID, &o.ProductID, &o.MarketID,
			&o.CategoryID, &o.Price, &o.Quantity, &o.Available,
			&o.SameCityFee, &o.OtherCityFee, &o.PickupLocation, &o.UpdatedAt}
		dest = append(dest, merchantDest(&o.Merchant)...)
		dest = append(dest, &o.Product.ID, &o.Product.NameFr, &o.Product.NameAr, &o.Product.Images)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (c *Catalog) Offer(ctx context.Context, id string) (*ranking.Offer, error) {
	offers, err := c.queryOffers(ctx, "o.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, fmt.Errorf("offer %s: %w", id, ranking.ErrNotFound)
	}
	return &offers[0], nil
}

func (c *Catalog) AvailableOffers(ctx context.Context, productID, marketID string) ([]ranking.Offer, error) {
	return c.queryOffers(ctx, `o.product_id = $1 AND COALESCE(o.market_id, m.market_id) = $2 AND `+rankable,
		productID, marketID)
}

func (c *Catalog) MerchantOffers(ctx context.Context, merchantID string) ([]ranking.Offer, error) {
	return c.queryOffers(ctx, `o.merchant_id = $1 AND `+rankable, merchantID)
}

func (c *Catalog) CategoryOffers(ctx context.Context, categoryID string, merchantIDs []string) ([]ranking.Offer, error) {
	if len(merchantIDs) == 0 {
		return nil, nil
	}
	return c.queryOffers(ctx, `p.category_id = $1 AND o.merchant_id = ANY($2) AND `+rankable,
		categoryID, merchantIDs)
}
