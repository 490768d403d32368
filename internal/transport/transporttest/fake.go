// Package transporttest provides a scripted in-memory implementation of the
// transport capability for tests. Peripherals are assembled with a builder,
// characteristics can be primed with values and failure injections, and
// notifications are pushed synchronously from the test body.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// Advertisement is a value implementation of transport.Advertisement
type Advertisement struct {
	Name        string
	Address     string
	Rssi        int
	TxPower     int
	CanConnect  bool
	ServiceList []string
	MfrData     []byte
	SvcData     map[string][]byte
}

func (a *Advertisement) LocalName() string                  { return a.Name }
func (a *Advertisement) Addr() string                       { return a.Address }
func (a *Advertisement) RSSI() int                          { return a.Rssi }
func (a *Advertisement) TxPowerLevel() int                  { return a.TxPower }
func (a *Advertisement) Connectable() bool                  { return a.CanConnect }
func (a *Advertisement) Services() []string                 { return a.ServiceList }
func (a *Advertisement) ManufacturerData() []byte           { return a.MfrData }
func (a *Advertisement) ServiceData() map[string][]byte     { return a.SvcData }

var _ transport.Advertisement = (*Advertisement)(nil)

// Characteristic is a scripted fake characteristic
type Characteristic struct {
	mu sync.Mutex

	uuid  string
	props transport.Property

	value        []byte
	readErr      error
	writeErr     error
	subscribeErr error

	writes  [][]byte
	handler func([]byte)

	readCount      int
	writeCount     int
	subscribeCount int
}

var _ transport.Characteristic = (*Characteristic)(nil)

func (c *Characteristic) UUID() string                    { return c.uuid }
func (c *Characteristic) Properties() transport.Property  { return c.props }

func (c *Characteristic) Read(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readCount++
	if c.readErr != nil {
		return nil, c.readErr
	}
	out := make([]byte, len(c.value))
	copy(out, c.value)
	return out, nil
}

func (c *Characteristic) Write(_ context.Context, data []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeCount++
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	c.value = cp
	return nil
}

func (c *Characteristic) Subscribe(_ context.Context, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeCount++
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.handler = handler
	return nil
}

func (c *Characteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	return nil
}

// Notify pushes a notification payload through the registered handler.
// Returns false when no listener is attached.
func (c *Characteristic) Notify(data []byte) bool {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// Subscribed reports whether a notification listener is currently attached
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// Writes returns the payloads written so far, oldest first
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// WriteCount returns how many Write calls were made (including failed ones)
func (c *Characteristic) WriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCount
}

// SubscribeCount returns how many Subscribe calls were made (including failed ones)
func (c *Characteristic) SubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCount
}

// SetValue primes the value returned by Read
func (c *Characteristic) SetValue(v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), v...)
}

// FailReads makes subsequent Read calls fail with err (nil clears)
func (c *Characteristic) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// FailWrites makes subsequent Write calls fail with err (nil clears)
func (c *Characteristic) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// FailSubscribes makes subsequent Subscribe calls fail with err (nil clears)
func (c *Characteristic) FailSubscribes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Service is a fake GATT service holding fake characteristics
type Service struct {
	uuid  string
	chars map[string]*Characteristic
	order []string
}

var _ transport.Service = (*Service)(nil)

func (s *Service) UUID() string { return s.uuid }

func (s *Service) GetCharacteristic(_ context.Context, uuid string) (transport.Characteristic, error) {
	c, ok := s.chars[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
	}
	return c, nil
}

func (s *Service) Characteristics() []transport.Characteristic {
	out := make([]transport.Characteristic, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, s.chars[u])
	}
	return out
}

// Char returns the fake characteristic for scripting, or nil
func (s *Service) Char(uuid string) *Characteristic {
	return s.chars[transport.NormalizeUUID(uuid)]
}

// Peripheral is a fake connected GATT server
type Peripheral struct {
	mu sync.Mutex

	address  string
	services map[string]*Service
	order    []string

	serviceErr error

	dropped   chan struct{}
	dropOnce  sync.Once
	connected bool
}

var _ transport.Peripheral = (*Peripheral)(nil)

func (p *Peripheral) Address() string { return p.address }

func (p *Peripheral) GetService(_ context.Context, uuid string) (transport.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.serviceErr != nil {
		return nil, p.serviceErr
	}
	s, ok := p.services[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return s, nil
}

func (p *Peripheral) Services(_ context.Context) ([]transport.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.serviceErr != nil {
		return nil, p.serviceErr
	}
	out := make([]transport.Service, 0, len(p.order))
	for _, u := range p.order {
		out = append(out, p.services[u])
	}
	return out, nil
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.dropOnce.Do(func() { close(p.dropped) })
	return nil
}

func (p *Peripheral) Disconnected() <-chan struct{} { return p.dropped }

// SimulateLinkDrop closes the Disconnected channel as an unexpected loss
func (p *Peripheral) SimulateLinkDrop() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.dropOnce.Do(func() { close(p.dropped) })
}

// Rearm replaces the drop channel so the peripheral can be "reconnected"
// after a simulated link loss.
func (p *Peripheral) Rearm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = make(chan struct{})
	p.dropOnce = sync.Once{}
	p.connected = true
}

// Connected reports whether Disconnect/SimulateLinkDrop has happened
func (p *Peripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// FailServiceLookups makes GetService/Services fail with err (nil clears)
func (p *Peripheral) FailServiceLookups(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serviceErr = err
}

// Service returns the fake service for scripting, or nil
func (p *Peripheral) Service(uuid string) *Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.services[transport.NormalizeUUID(uuid)]
}

// Transport is a scripted fake transport
type Transport struct {
	mu sync.Mutex

	advertisements []transport.Advertisement
	peripherals    map[string]*Peripheral
	connectErr     error
	connectErrs    int // fail this many Connect calls, then succeed
	connectCount   int
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport creates an empty fake transport
func NewTransport() *Transport {
	return &Transport{peripherals: make(map[string]*Peripheral)}
}

// AddAdvertisement scripts an advertisement delivered on every Scan
func (t *Transport) AddAdvertisement(adv *Advertisement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advertisements = append(t.advertisements, adv)
}

// AddPeripheral scripts the peripheral returned by Connect for its address
func (t *Transport) AddPeripheral(p *Peripheral) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peripherals[p.address] = p
}

// FailConnects makes the next n Connect calls fail with err
func (t *Transport) FailConnects(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErrs = n
	t.connectErr = err
}

// ConnectCount returns how many Connect calls were made
func (t *Transport) ConnectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCount
}

func (t *Transport) Scan(ctx context.Context, _ bool, handler func(transport.Advertisement)) error {
	t.mu.Lock()
	advs := make([]transport.Advertisement, len(t.advertisements))
	copy(advs, t.advertisements)
	t.mu.Unlock()

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (t *Transport) Connect(_ context.Context, address string) (transport.Peripheral, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectCount++
	if t.connectErrs > 0 {
		t.connectErrs--
		return nil, t.connectErr
	}
	p, ok := t.peripherals[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrDeviceNotFound, address)
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return p, nil
}
