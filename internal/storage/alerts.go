package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/alerts"
)

const (
	insertAlertSQL = `INSERT INTO price_alerts (
        product_name,
        product_region,
        target_price,
        condition,
        recipient
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, created_at;`

	listPendingAlertsSQL = `SELECT
        id,
        product_name,
        product_region,
        target_price::text,
        condition,
        recipient,
        created_at
    FROM price_alerts
    WHERE notified = false
    ORDER BY id;`

	markNotifiedSQL = `UPDATE price_alerts
    SET notified = true, notified_at = $2
    WHERE id = $1 AND notified = false;`
)

// CreateAlert registers a new pending alert and returns it with its id.
func (s *Store) CreateAlert(ctx context.Context, alert alerts.PendingAlert) (alerts.PendingAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return alerts.PendingAlert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Product.Name,
		alert.Product.Region,
		alert.TargetPrice.String(),
		string(alert.Condition),
		alert.Recipient,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return alerts.PendingAlert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	alert.Notified = false
	alert.NotifiedAt = nil
	return alert, nil
}

// ListPending lists alerts still waiting for their condition.
func (s *Store) ListPending(ctx context.Context) ([]alerts.PendingAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending alerts: %w", queryErr)
	}
	defer rows.Close()

	pending := make([]alerts.PendingAlert, 0)
	for rows.Next() {
		var (
			rec       alerts.PendingAlert
			targetStr string
			condition string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Product.Name,
			&rec.Product.Region,
			&targetStr,
			&condition,
			&rec.Recipient,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.TargetPrice, convErr = decimal.NewFromString(targetStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse target price: %w", convErr)
		}
		rec.Condition, convErr = alerts.ParseCondition(condition)
		if convErr != nil {
			return nil, convErr
		}
		pending = append(pending, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pending, nil
}

// MarkNotified moves an alert to its terminal state. It only succeeds while
// the alert is still pending.
func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markNotifiedSQL, id, at)
	if execErr != nil {
		return fmt.Errorf("mark alert notified: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return alerts.ErrAlreadyNotified
	}
	return nil
}

var _ alerts.Store = (*Store)(nil)
