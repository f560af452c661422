package booking

import "context"

// ViolationCounter reports how many prior no-shows a driver has.
type ViolationCounter interface {
	CountNoShows(ctx context.Context, driverID string) (int, error)
}

// TieredPolicy is the default refund schedule: first violation keeps most of
// the payment refundable, repeat offenders forfeit it. The exact tiers are a
// product decision; swap the policy rather than editing them.
type TieredPolicy struct {
	counter ViolationCounter
}

// NewTieredPolicy wires the default policy over a violation counter.
func NewTieredPolicy(counter ViolationCounter) *TieredPolicy {
	return &TieredPolicy{counter: counter}
}

// RefundPercent returns the refund percentage for a no-show.
func (policy *TieredPolicy) RefundPercent(ctx context.Context, driverID string, minutesLate int64) (int, error) {
	priorViolations := 0
	if policy.counter != nil {
		count, err := policy.counter.CountNoShows(ctx, driverID)
		if err != nil {
			return 0, err
		}
		priorViolations = count
	}
	switch {
	case priorViolations <= 0:
		return 80, nil
	case priorViolations == 1:
		return 50, nil
	default:
		return 0, nil
	}
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyEscrowReleased(context.Context, string) {}

func (NopNotifier) NotifyEscrowRefunded(context.Context, string, int64) {}

func (NopNotifier) NotifyNoShow(context.Context, string, int64, int64) {}
