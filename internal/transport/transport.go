package transport

import (
	"context"
	"time"
)

// Property is a bitmask of BLE characteristic properties
type Property int

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

// Supports reports whether all bits of p2 are set in p
func (p Property) Supports(p2 Property) bool {
	return p&p2 == p2
}

// Advertisement carries the advertised attributes of a sighted device
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	TxPowerLevel() int
	Connectable() bool
	Services() []string
	ManufacturerData() []byte
	ServiceData() map[string][]byte
}

// Transport is the platform BLE capability consumed by the core.
// Implementations may sit on an in-process stack or an out-of-process
// bridge; the core routes every radio operation through this shape.
type Transport interface {
	// Scan streams advertisements to handler until ctx is done.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	// Connect dials the device with the given address and returns a live
	// GATT server handle.
	Connect(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral is a connected GATT server handle
type Peripheral interface {
	Address() string
	// GetService resolves a primary service by UUID (any accepted format,
	// normalized internally).
	GetService(ctx context.Context, uuid string) (Service, error)
	// Services enumerates every discovered primary service. Used by the
	// fallback-enumerate discovery strategy when no candidate UUID matched.
	Services(ctx context.Context) ([]Service, error)
	// Disconnect tears down the platform link. Idempotent.
	Disconnect() error
	// Disconnected is closed when the underlying link drops, whether
	// requested or not.
	Disconnected() <-chan struct{}
}

// Service represents a GATT service on a connected peripheral
type Service interface {
	UUID() string
	GetCharacteristic(ctx context.Context, uuid string) (Characteristic, error)
	Characteristics() []Characteristic
}

// Characteristic combines metadata with read/write/notify operations
type Characteristic interface {
	UUID() string
	Properties() Property

	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte, withResponse bool) error

	// Subscribe registers handler for notifications. handler is invoked from
	// the platform delivery goroutine; implementations must not retain the
	// data slice past the call.
	Subscribe(ctx context.Context, handler func(data []byte)) error
	// Unsubscribe removes the active notification listener, if any.
	Unsubscribe() error
}

// ScanFilter selects devices during discovery
type ScanFilter struct {
	NamePrefixes []string
	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
}

// Match reports whether adv passes the filter
func (f *ScanFilter) Match(adv Advertisement) bool {
	addr := adv.Addr()

	for _, blocked := range f.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(f.AllowList) > 0 {
		allowed := false
		for _, a := range f.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.NamePrefixes) > 0 || len(f.ServiceUUIDs) > 0 {
		if matchesNamePrefix(adv, f.NamePrefixes) {
			return true
		}
		return matchesService(adv, f.ServiceUUIDs)
	}

	return true
}

func matchesNamePrefix(adv Advertisement, prefixes []string) bool {
	name := adv.LocalName()
	for _, p := range prefixes {
		if p != "" && len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

func matchesService(adv Advertisement, uuids []string) bool {
	if len(uuids) == 0 {
		return false
	}
	advertised := NormalizeUUIDs(adv.Services())
	for _, want := range NormalizeUUIDs(uuids) {
		for _, got := range advertised {
			if want == got {
				return true
			}
		}
	}
	return false
}

// DefaultOperationTimeouts are the per-operation budgets used when wrapping
// transport calls. Connect is the long pole; reads and writes on an
// established link resolve quickly or not at all.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultReadWriteTimeout = 5 * time.Second
	DefaultSubscribeTimeout = 8 * time.Second
)
