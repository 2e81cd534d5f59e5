package alerting

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled spaces out deliveries of the wrapped notifier.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottled wraps next with a token bucket. A non-positive rate disables throttling.
func NewThrottled(next Notifier, perSecond float64, burst int) Notifier {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Notify waits for a token, then delivers.
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dispatch throttled: %w", err)
	}
	return t.next.Notify(ctx, note)
}

var _ Notifier = (*Throttled)(nil)
