package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/snapshot"
)

var (
	// ErrProductNotFound is returned by a PriceReader for an unknown product.
	ErrProductNotFound = errors.New("alerts: product not found")
	// ErrAlreadyNotified is returned by MarkNotified when the alert already left PENDING.
	ErrAlreadyNotified = errors.New("alerts: alert already notified")
)

// Condition is the comparison an alert watches for.
type Condition string

const (
	Above Condition = "ABOVE"
	Below Condition = "BELOW"
)

// ParseCondition accepts ABOVE or BELOW in any case.
func ParseCondition(raw string) (Condition, error) {
	switch c := Condition(strings.ToUpper(strings.TrimSpace(raw))); c {
	case Above, Below:
		return c, nil
	default:
		return "", fmt.Errorf("unknown alert condition %q", raw)
	}
}

// Satisfied reports whether current crosses target. Equality never triggers.
func (c Condition) Satisfied(current, target decimal.Decimal) bool {
	switch c {
	case Above:
		return current.GreaterThan(target)
	case Below:
		return current.LessThan(target)
	default:
		return false
	}
}

// PendingAlert is one user's threshold watch. Notified never goes back to false.
type PendingAlert struct {
	ID          int64
	Product     snapshot.Identity
	TargetPrice decimal.Decimal
	Condition   Condition
	Recipient   string
	Notified    bool
	CreatedAt   time.Time
	NotifiedAt  *time.Time
}

// Store is the alert persistence contract.
type Store interface {
	ListPending(ctx context.Context) ([]PendingAlert, error)
	// MarkNotified flips the alert only if it is still pending, returning
	// ErrAlreadyNotified otherwise.
	MarkNotified(ctx context.Context, id int64, at time.Time) error
}

// PriceReader is the read side of the sync gateway.
type PriceReader interface {
	CurrentPrice(ctx context.Context, product snapshot.Identity) (decimal.Decimal, error)
}
