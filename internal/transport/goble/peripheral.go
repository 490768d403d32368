package goble

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

type peripheral struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu       sync.RWMutex
	services map[string]*service
}

var _ transport.Peripheral = (*peripheral)(nil)

func newPeripheral(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *peripheral {
	p := &peripheral{
		address:  address,
		client:   client,
		logger:   logger,
		services: make(map[string]*service),
	}

	for _, bleSvc := range profile.Services {
		svcUUID := transport.NormalizeUUID(bleSvc.UUID.String())
		logger.WithField("service_uuid", svcUUID).Debug("Found service")
		svc, ok := p.services[svcUUID]
		if !ok {
			svc = &service{uuid: svcUUID, chars: make(map[string]*characteristic)}
			p.services[svcUUID] = svc
		}
		for _, bleChar := range bleSvc.Characteristics {
			charUUID := transport.NormalizeUUID(bleChar.UUID.String())
			logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
			}).Debug("Found characteristic")
			svc.chars[charUUID] = &characteristic{
				uuid:   charUUID,
				char:   bleChar,
				client: client,
			}
		}
	}

	return p
}

func (p *peripheral) Address() string { return p.address }

func (p *peripheral) GetService(_ context.Context, uuid string) (transport.Service, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	svc, ok := p.services[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

func (p *peripheral) Services(_ context.Context) ([]transport.Service, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]transport.Service, 0, len(p.services))
	for _, s := range p.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out, nil
}

func (p *peripheral) Disconnect() error {
	p.logger.WithField("address", p.address).Info("Disconnecting BLE device...")
	return transport.NormalizeError(p.client.CancelConnection())
}

func (p *peripheral) Disconnected() <-chan struct{} {
	return p.client.Disconnected()
}

type service struct {
	uuid  string
	chars map[string]*characteristic
}

var _ transport.Service = (*service)(nil)

func (s *service) UUID() string { return s.uuid }

func (s *service) GetCharacteristic(_ context.Context, uuid string) (transport.Characteristic, error) {
	c, ok := s.chars[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
	}
	return c, nil
}

func (s *service) Characteristics() []transport.Characteristic {
	out := make([]transport.Characteristic, 0, len(s.chars))
	for _, c := range s.chars {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

type characteristic struct {
	uuid   string
	char   *ble.Characteristic
	client ble.Client

	mu         sync.Mutex
	subscribed bool
}

var _ transport.Characteristic = (*characteristic)(nil)

func (c *characteristic) UUID() string { return c.uuid }

func (c *characteristic) Properties() transport.Property {
	var p transport.Property
	if c.char.Property&ble.CharBroadcast != 0 {
		p |= transport.PropBroadcast
	}
	if c.char.Property&ble.CharRead != 0 {
		p |= transport.PropRead
	}
	if c.char.Property&ble.CharWriteNR != 0 {
		p |= transport.PropWriteWithoutResponse
	}
	if c.char.Property&ble.CharWrite != 0 {
		p |= transport.PropWrite
	}
	if c.char.Property&ble.CharNotify != 0 {
		p |= transport.PropNotify
	}
	if c.char.Property&ble.CharIndicate != 0 {
		p |= transport.PropIndicate
	}
	return p
}

func (c *characteristic) Read(_ context.Context) ([]byte, error) {
	data, err := c.client.ReadCharacteristic(c.char)
	if err != nil {
		return nil, transport.NormalizeError(err)
	}
	return data, nil
}

func (c *characteristic) Write(_ context.Context, data []byte, withResponse bool) error {
	return transport.NormalizeError(c.client.WriteCharacteristic(c.char, data, !withResponse))
}

func (c *characteristic) Subscribe(_ context.Context, handler func([]byte)) error {
	if c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("%w: characteristic %s has no notify/indicate support", transport.ErrUnsupported, c.uuid)
	}
	indicate := c.char.Property&ble.CharNotify == 0
	if err := c.client.Subscribe(c.char, indicate, func(data []byte) {
		handler(data)
	}); err != nil {
		return transport.NormalizeError(err)
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

func (c *characteristic) Unsubscribe() error {
	c.mu.Lock()
	wasSubscribed := c.subscribed
	c.subscribed = false
	c.mu.Unlock()
	if !wasSubscribed {
		return nil
	}

	// Try both notify and indicate modes; only fail when both fail.
	err1 := c.client.Unsubscribe(c.char, false)
	err2 := c.client.Unsubscribe(c.char, true)
	if err1 != nil && err2 != nil {
		return transport.NormalizeError(err1)
	}
	return nil
}
