package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates the catalog tables read by the ranking engine, the cache
// tables it owns and the event queue. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS reference_points (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	city TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	display_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS merchants (
	id TEXT PRIMARY KEY,
	market_id TEXT,
	business_name TEXT NOT NULL DEFAULT '',
	logo TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	is_common BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	category_id TEXT REFERENCES categories(id),
	name_fr TEXT NOT NULL DEFAULT '',
	name_ar TEXT NOT NULL DEFAULT '',
	images TEXT[] NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS offers (
	id TEXT PRIMARY KEY,
	merchant_id TEXT NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	market_id TEXT,
	price BIGINT NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 0,
	available BOOLEAN NOT NULL DEFAULT true,
	same_city_fee BIGINT NOT NULL DEFAULT 0,
	other_city_fee BIGINT NOT NULL DEFAULT 0,
	pickup_location TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS offers_product_idx ON offers (product_id);
CREATE INDEX IF NOT EXISTS offers_merchant_idx ON offers (merchant_id);

-- The threshold lives in the same row as its ranked set so both change together.
CREATE TABLE IF NOT EXISTS ranked_sets (
	reference_point_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	market_id TEXT NOT NULL,
	offers JSONB NOT NULL DEFAULT '[]',
	worst_score BIGINT NOT NULL,
	occupancy INTEGER NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (reference_point_id, product_id, market_id)
);

CREATE INDEX IF NOT EXISTS ranked_sets_sync_idx ON ranked_sets (reference_point_id, market_id, calculated_at);

CREATE TABLE IF NOT EXISTS nearest_merchants (
	reference_point_id TEXT PRIMARY KEY,
	merchants JSONB NOT NULL DEFAULT '[]',
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS common_category_sets (
	reference_point_id TEXT NOT NULL,
	category_id TEXT NOT NULL,
	market_id TEXT NOT NULL,
	offers JSONB NOT NULL DEFAULT '[]',
	merchant_count INTEGER NOT NULL DEFAULT 0,
	offer_count INTEGER NOT NULL DEFAULT 0,
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (reference_point_id, category_id, market_id)
);

CREATE TABLE IF NOT EXISTS task_queue (
	id TEXT PRIMARY KEY,
	task_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	scheduled_for TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	failed_at TIMESTAMPTZ,
	worker_id TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	error_message TEXT,
	result JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS task_queue_claim_idx ON task_queue (status, scheduled_for, priority DESC);
`

// Migrate creates or updates the schema.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
