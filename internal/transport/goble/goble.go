// Package goble implements the transport capability on top of the go-ble
// stack. One Transport owns one platform ble.Device, created lazily by the
// platform factory (see factory_darwin.go / factory_linux.go).
package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// Transport is a go-ble backed transport.Transport
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport backed by the platform BLE stack
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// device creates the platform ble.Device on first use
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, transport.NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Scan streams advertisements until ctx is done
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(transport.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.logger.Debug("Starting BLE scan")
	err = dev.Scan(ctx, allowDup, func(a ble.Advertisement) {
		handler(&advertisement{adv: a})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan failed: %w", transport.NormalizeError(err))
	}
	return nil
}

// Connect dials the peripheral and discovers its full GATT profile
func (t *Transport) Connect(ctx context.Context, address string) (transport.Peripheral, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: device address is not set", transport.ErrDeviceNotFound)
	}
	if _, err := t.device(); err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Info("Connecting to BLE device...")

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device %q: %w", address, transport.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("failed to discover profile: %w", transport.NormalizeError(err))
	}

	p := newPeripheral(address, client, profile, t.logger)
	t.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(p.services),
	}).Info("BLE device connected")
	return p, nil
}
