package transporttest

import (
	"sync"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// PeripheralBuilder assembles a fake peripheral service by service.
//
//	p := transporttest.NewPeripheralBuilder("AA:BB:CC:DD:EE:FF").
//		Service("f3641900-00b0-4240-ba50-05ca45bf8abc").
//		NotifyChar("f3641901-00b0-4240-ba50-05ca45bf8abc").
//		ReadChar("f3641907-00b0-4240-ba50-05ca45bf8abc", []byte("2.4.1")).
//		Build()
type PeripheralBuilder struct {
	peripheral *Peripheral
	current    *Service
}

// NewPeripheralBuilder starts a builder for the given device address
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{
		peripheral: &Peripheral{
			address:  address,
			services: make(map[string]*Service),
			dropped:  make(chan struct{}),
		},
	}
}

// Service begins (or reopens) a service block; following characteristic
// calls attach to it.
func (b *PeripheralBuilder) Service(uuid string) *PeripheralBuilder {
	key := transport.NormalizeUUID(uuid)
	svc, ok := b.peripheral.services[key]
	if !ok {
		svc = &Service{uuid: key, chars: make(map[string]*Characteristic)}
		b.peripheral.services[key] = svc
		b.peripheral.order = append(b.peripheral.order, key)
	}
	b.current = svc
	return b
}

// Char adds a characteristic with explicit properties and an initial value
func (b *PeripheralBuilder) Char(uuid string, props transport.Property, value []byte) *PeripheralBuilder {
	if b.current == nil {
		panic("transporttest: Char called before Service")
	}
	key := transport.NormalizeUUID(uuid)
	c := &Characteristic{uuid: key, props: props, value: append([]byte(nil), value...)}
	b.current.chars[key] = c
	b.current.order = append(b.current.order, key)
	return b
}

// ReadChar adds a read-only characteristic primed with value
func (b *PeripheralBuilder) ReadChar(uuid string, value []byte) *PeripheralBuilder {
	return b.Char(uuid, transport.PropRead, value)
}

// NotifyChar adds a notify-capable characteristic
func (b *PeripheralBuilder) NotifyChar(uuid string) *PeripheralBuilder {
	return b.Char(uuid, transport.PropNotify, nil)
}

// ReadWriteChar adds a read/write characteristic primed with value
func (b *PeripheralBuilder) ReadWriteChar(uuid string, value []byte) *PeripheralBuilder {
	return b.Char(uuid, transport.PropRead|transport.PropWrite, value)
}

// Build returns the assembled peripheral
func (b *PeripheralBuilder) Build() *Peripheral {
	b.peripheral.connected = false
	b.peripheral.dropOnce = sync.Once{}
	return b.peripheral
}
