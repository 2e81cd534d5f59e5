package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/alerts"
	"price-ingest-alerts/internal/snapshot"
)

const (
	upsertProductSQL = `INSERT INTO products (
        name,
        region,
        current_price,
        previous_price,
        last_observed_date,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (name, region) DO UPDATE
    SET
        current_price      = EXCLUDED.current_price,
        previous_price     = EXCLUDED.previous_price,
        last_observed_date = EXCLUDED.last_observed_date,
        updated_at         = EXCLUDED.updated_at
    WHERE products.current_price      IS DISTINCT FROM EXCLUDED.current_price
       OR products.previous_price     IS DISTINCT FROM EXCLUDED.previous_price
       OR products.last_observed_date IS DISTINCT FROM EXCLUDED.last_observed_date;`

	insertHistorySQL = `INSERT INTO price_history (
        product_id,
        observed_date,
        observed_time,
        price
    )
    SELECT id, $3, $4, $5
    FROM products
    WHERE name = $1 AND region = $2
    ON CONFLICT (product_id, observed_date, price) DO NOTHING;`

	currentPriceSQL = `SELECT current_price::text
    FROM products
    WHERE name = $1 AND region = $2;`

	listProductsSQL = `SELECT
        name,
        region,
        current_price::text,
        previous_price::text,
        last_observed_date,
        updated_at
    FROM products
    ORDER BY name, region;`
)

// SyncGateway propagates the merged master store into the relational store.
// Implementations must accept the same document repeatedly without side effects.
type SyncGateway interface {
	SyncProducts(ctx context.Context, doc *snapshot.Document) error
}

// ProductSummary is a row of the products table.
type ProductSummary struct {
	Product       snapshot.Identity
	CurrentPrice  decimal.Decimal
	PreviousPrice *decimal.Decimal
	LastObserved  string
	UpdatedAt     time.Time
}

// SyncProducts upserts every product and appends any history rows not yet
// present, all in one transaction.
func (s *Store) SyncProducts(ctx context.Context, doc *snapshot.Document) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	rows := BuildProductRows(doc)
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	history := 0
	for _, row := range rows {
		var previous any
		if row.PreviousPrice != nil {
			previous = row.PreviousPrice.String()
		}
		batch.Queue(upsertProductSQL,
			row.Product.Name,
			row.Product.Region,
			row.CurrentPrice.String(),
			previous,
			row.LastObserved,
			now,
		)
	}
	for _, row := range rows {
		for _, h := range row.History {
			batch.Queue(insertHistorySQL, row.Product.Name, row.Product.Region, h.Date, h.Time, h.Price.String())
			history++
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("sync products batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}

	s.logger.Info().Int("products", len(rows)).Int("history_rows", history).Msg("products synced")
	return nil
}

// CurrentPrice reads the synced current price of one product.
func (s *Store) CurrentPrice(ctx context.Context, product snapshot.Identity) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var priceStr string
	if err := pool.QueryRow(ctx, currentPriceSQL, product.Name, product.Region).Scan(&priceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, alerts.ErrProductNotFound
		}
		return decimal.Zero, fmt.Errorf("query current price: %w", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse current price: %w", err)
	}
	return price, nil
}

// ListProducts returns every synced product.
func (s *Store) ListProducts(ctx context.Context) ([]ProductSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProductsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]ProductSummary, 0)
	for rows.Next() {
		var (
			summary     ProductSummary
			currentStr  string
			previousStr *string
		)
		if err := rows.Scan(
			&summary.Product.Name,
			&summary.Product.Region,
			&currentStr,
			&previousStr,
			&summary.LastObserved,
			&summary.UpdatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		summary.CurrentPrice, convErr = decimal.NewFromString(currentStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse current price: %w", convErr)
		}
		if previousStr != nil {
			prev, convErr := decimal.NewFromString(*previousStr)
			if convErr != nil {
				return nil, fmt.Errorf("parse previous price: %w", convErr)
			}
			summary.PreviousPrice = &prev
		}
		products = append(products, summary)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

var _ SyncGateway = (*Store)(nil)
var _ alerts.PriceReader = (*Store)(nil)
