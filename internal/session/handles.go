package session

import (
	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// Handles are the live GATT resources of an initialized session: the
// peripheral, its primary service, and every characteristic that was bound
// to a role, with the bounded queue feeding its notifications. Owned by the
// Manager; rebuilt on every full initialization.
type Handles struct {
	Peripheral transport.Peripheral
	Service    transport.Service

	roles  []profile.Role // subscription order, for teardown and re-arm
	chars  map[profile.Role]transport.Characteristic
	queues map[profile.Role]*transport.NotificationQueue
}

func newHandles(p transport.Peripheral, svc transport.Service) *Handles {
	return &Handles{
		Peripheral: p,
		Service:    svc,
		chars:      make(map[profile.Role]transport.Characteristic),
		queues:     make(map[profile.Role]*transport.NotificationQueue),
	}
}

func (h *Handles) bind(role profile.Role, c transport.Characteristic, q *transport.NotificationQueue) {
	h.roles = append(h.roles, role)
	h.chars[role] = c
	h.queues[role] = q
}

// Characteristic returns the live characteristic for role, or nil
func (h *Handles) Characteristic(role profile.Role) transport.Characteristic {
	return h.chars[role]
}

// Close unsubscribes every bound characteristic and drains the queues.
// Unsubscribe failures are ignored: the link may already be gone.
func (h *Handles) Close() {
	for _, role := range h.roles {
		_ = h.chars[role].Unsubscribe()
	}
	for _, role := range h.roles {
		h.queues[role].Close()
	}
	h.roles = nil
}
