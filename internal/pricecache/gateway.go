package pricecache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/alerts"
	"price-ingest-alerts/internal/snapshot"
	"price-ingest-alerts/internal/storage"
)

// Backend is the authoritative sync gateway being cached.
type Backend interface {
	storage.SyncGateway
	alerts.PriceReader
}

// Gateway caches current prices in front of the relational store. The cache
// is advisory: its failures are logged and the backend answers instead.
type Gateway struct {
	backend Backend
	cache   Cache
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewGateway decorates backend with cache.
func NewGateway(backend Backend, cache Cache, ttl time.Duration, logger zerolog.Logger) *Gateway {
	return &Gateway{
		backend: backend,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With().Str("component", "price_cache").Logger(),
	}
}

// Key is the cache key of a product.
func Key(product snapshot.Identity) string {
	return "price:" + product.Name + "|" + product.Region
}

// SyncProducts syncs the backend, then refreshes cached current prices.
func (g *Gateway) SyncProducts(ctx context.Context, doc *snapshot.Document) error {
	if err := g.backend.SyncProducts(ctx, doc); err != nil {
		return err
	}

	rows := storage.BuildProductRows(doc)
	prices := make(map[string]string, len(rows))
	for _, row := range rows {
		prices[Key(row.Product)] = row.CurrentPrice.String()
	}
	if err := g.cache.SetPrices(ctx, prices, g.ttl); err != nil {
		g.logger.Warn().Err(err).Int("products", len(prices)).Msg("refresh price cache failed")
	}
	return nil
}

// CurrentPrice answers from the cache when possible.
func (g *Gateway) CurrentPrice(ctx context.Context, product snapshot.Identity) (decimal.Decimal, error) {
	key := Key(product)
	cached, found, err := g.cache.GetPrice(ctx, key)
	switch {
	case err != nil:
		g.logger.Warn().Err(err).Str("key", key).Msg("price cache read failed")
	case found:
		price, convErr := decimal.NewFromString(cached)
		if convErr == nil {
			return price, nil
		}
		g.logger.Warn().Err(convErr).Str("key", key).Msg("discarding malformed cached price")
	}

	price, err := g.backend.CurrentPrice(ctx, product)
	if err != nil {
		return decimal.Zero, err
	}
	if err := g.cache.SetPrices(ctx, map[string]string{key: price.String()}, g.ttl); err != nil {
		g.logger.Debug().Err(err).Str("key", key).Msg("backfill price cache failed")
	}
	return price, nil
}

var _ Backend = (*Gateway)(nil)
