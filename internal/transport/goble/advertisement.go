package goble

import (
	"github.com/go-ble/ble"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// advertisement adapts ble.Advertisement to the transport shape
type advertisement struct {
	adv ble.Advertisement
}

var _ transport.Advertisement = (*advertisement)(nil)

func (a *advertisement) LocalName() string { return a.adv.LocalName() }

func (a *advertisement) Addr() string { return a.adv.Addr().String() }

func (a *advertisement) RSSI() int { return a.adv.RSSI() }

func (a *advertisement) TxPowerLevel() int { return a.adv.TxPowerLevel() }

func (a *advertisement) Connectable() bool { return a.adv.Connectable() }

func (a *advertisement) Services() []string {
	uuids := a.adv.Services()
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, transport.NormalizeUUID(u.String()))
	}
	return out
}

func (a *advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a *advertisement) ServiceData() map[string][]byte {
	entries := a.adv.ServiceData()
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		out[transport.NormalizeUUID(e.UUID.String())] = e.Data
	}
	return out
}
