package spibus

import (
	"context"
	"fmt"
	"time"
)

// PollUntil spins until cond reports true. With a context that can never
// end (context.Background) it spins forever, which is the legacy blocking
// contract. Otherwise it returns ErrTimeout, wrapping the context's cause,
// once the context is done. The deadline is also checked against the clock
// directly so the bound holds on cooperative schedulers where the context's
// timer goroutine cannot run while we spin.
func PollUntil(ctx context.Context, cond func() bool) error {
	done := ctx.Done()
	deadline, hasDeadline := ctx.Deadline()
	for {
		if cond() {
			return nil
		}
		if done == nil {
			continue
		}
		select {
		case <-done:
			return pollErr(ctx, cond)
		default:
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return pollErr(ctx, cond)
		}
	}
}

func pollErr(ctx context.Context, cond func() bool) error {
	// One last look; the flag may have landed while we were checking.
	if cond() {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return fmt.Errorf("%w: %w", ErrTimeout, cause)
}

// waitFlags polls SR until every bit of mask is set (set == true) or clear.
func (b *Bus) waitFlags(ctx context.Context, mask uint16, set bool) error {
	return PollUntil(ctx, func() bool {
		sr := b.p.Load(RegSR)
		if set {
			return sr&mask == mask
		}
		return sr&mask == 0
	})
}
