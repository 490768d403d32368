package session

import (
	"context"
	"fmt"

	"github.com/david-ria/pmscanv2-sub000/internal/retry"
)

// reestablishEventListeners re-arms every subscription on the existing
// handles after a transient radio fault that left the link itself alive.
// Queues and decoders survive; only the platform-side subscriptions are
// torn down and rebuilt. Critical role failures abort, non-critical ones
// degrade, mirroring initialization.
func (in *initializer) reestablishEventListeners(ctx context.Context, h *Handles) (bool, error) {
	partial := false
	for _, role := range h.roles {
		c := h.chars[role]
		q := h.queues[role]

		// A stale subscription may already be dead on the peripheral side
		if err := c.Unsubscribe(); err != nil {
			in.logger.WithError(err).WithField("role", role).Debug("Stale unsubscribe failed")
		}

		err := retry.Do(ctx, in.logger, "resubscribe "+string(role), retry.SubscribePolicy(),
			func(ctx context.Context) error { return c.Subscribe(ctx, q.Push) })
		if err == nil {
			continue
		}
		if in.prof.IsCritical(role) {
			return false, fmt.Errorf("failed to re-arm critical subscription %s: %w", role, err)
		}
		in.logger.WithError(err).WithField("role", role).
			Warn("Failed to re-arm non-critical subscription")
		partial = true
	}
	return partial, nil
}
