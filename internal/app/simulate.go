package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/alerts"
	"price-ingest-alerts/internal/snapshot"
)

// SimulateAlert pushes one synthetic alert through the evaluator and the
// configured notification channel.
func (a *App) SimulateAlert(ctx context.Context, alert alerts.PendingAlert, current decimal.Decimal) (alerts.CycleStats, error) {
	if !alert.Condition.Satisfied(current, alert.TargetPrice) {
		return alerts.CycleStats{}, errors.New("condition not satisfied by the given price; nothing to dispatch")
	}

	alert.ID = -1
	alert.CreatedAt = time.Now().UTC()
	store := &staticAlertStore{alert: alert}
	prices := staticPrice{product: alert.Product, price: current}

	evaluator := alerts.NewEvaluator(store, prices, a.newNotifier(), a.Logger)
	return evaluator.RunCycle(ctx)
}

type staticAlertStore struct {
	alert alerts.PendingAlert
}

func (s *staticAlertStore) ListPending(context.Context) ([]alerts.PendingAlert, error) {
	if s.alert.Notified {
		return nil, nil
	}
	return []alerts.PendingAlert{s.alert}, nil
}

func (s *staticAlertStore) MarkNotified(_ context.Context, _ int64, at time.Time) error {
	if s.alert.Notified {
		return alerts.ErrAlreadyNotified
	}
	s.alert.Notified = true
	s.alert.NotifiedAt = &at
	return nil
}

type staticPrice struct {
	product snapshot.Identity
	price   decimal.Decimal
}

func (s staticPrice) CurrentPrice(_ context.Context, product snapshot.Identity) (decimal.Decimal, error) {
	if product != s.product {
		return decimal.Zero, alerts.ErrProductNotFound
	}
	return s.price, nil
}

var _ alerts.Store = (*staticAlertStore)(nil)
var _ alerts.PriceReader = staticPrice{}
