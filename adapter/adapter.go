// Package adapter exposes one ready-to-use connection layer per supported
// sensor family. An adapter wires the transport, discovery, session and
// preference pieces together behind a small surface; callers see readings
// and lifecycle state, not GATT.
package adapter

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/reading"
	"github.com/david-ria/pmscanv2-sub000/internal/recording"
	"github.com/david-ria/pmscanv2-sub000/internal/scan"
	"github.com/david-ria/pmscanv2-sub000/internal/session"
	"github.com/david-ria/pmscanv2-sub000/internal/statemachine"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// PreferenceStore is the persistence surface adapters use to remember and
// recall the device to auto-select per family.
type PreferenceStore interface {
	session.PreferredDeviceStore
	scan.PreferredLookup
}

// Adapter is the family-level connection layer
type Adapter interface {
	// Family returns the device family this adapter serves
	Family() string

	// RequestDevice scans for and selects the device to use
	RequestDevice(ctx context.Context) (transport.Advertisement, error)
	// Connect establishes the radio link; empty address reuses the selection
	Connect(ctx context.Context, address string) error
	// InitializeNotifications runs GATT setup and starts the data stream
	InitializeNotifications(ctx context.Context) error
	// Disconnect tears the session down; refused (false) while a recording
	// is active unless force is set
	Disconnect(ctx context.Context, force bool) bool

	// LiveReading returns the most recent decoded reading, or nil
	LiveReading() *reading.Reading
	// State returns the current lifecycle state
	State() statemachine.State
	// DeviceState returns the cached device attributes
	DeviceState() session.Snapshot

	// UpdateBattery applies an externally sourced battery percentage
	UpdateBattery(percent int)
	// UpdateCharging applies an externally sourced charging flag
	UpdateCharging(charging bool)

	// SupportsPressure reports whether the family measures pressure
	SupportsPressure() bool
	// SupportsTVOC reports whether the family measures a VOC index
	SupportsTVOC() bool

	// Close releases the session and detaches from the recording registry
	Close(ctx context.Context)
}

// Deps are the shared pieces an adapter is assembled from. Transport is
// required; everything else has a workable zero value.
type Deps struct {
	Logger    *logrus.Logger
	Transport transport.Transport
	Registry  *recording.Registry
	Prefs     PreferenceStore
	Picker    *scan.Picker
	ScanOpts  scan.Options
	Callbacks session.Callbacks
	Machine   statemachine.Options
}

type familyAdapter struct {
	prof    *profile.Profile
	manager *session.Manager

	mu   sync.Mutex
	last *reading.Reading
}

// NewPMScan builds the adapter for PMScan devices
func NewPMScan(deps Deps) (Adapter, error) {
	return newAdapter(profile.PMScan(), deps)
}

// NewAirBeam builds the adapter for AirBeam devices
func NewAirBeam(deps Deps) (Adapter, error) {
	return newAdapter(profile.AirBeam(), deps)
}

// NewForProfile builds an adapter for a custom or overridden profile
func NewForProfile(prof *profile.Profile, deps Deps) (Adapter, error) {
	return newAdapter(prof, deps)
}

func newAdapter(prof *profile.Profile, deps Deps) (Adapter, error) {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.ScanOpts.IsZero() {
		deps.ScanOpts = scan.DefaultOptions()
	}

	a := &familyAdapter{prof: prof}

	// Capture the live reading before handing it to the caller
	cb := deps.Callbacks
	userOnReading := cb.OnReading
	cb.OnReading = func(r *reading.Reading) {
		a.mu.Lock()
		a.last = r
		a.mu.Unlock()
		if userOnReading != nil {
			userOnReading(r)
		}
	}

	scanner := scan.NewScanner(deps.Logger, deps.Transport)
	selector := scan.NewSelector(deps.Logger, scanner, deps.Picker, deps.Prefs, deps.ScanOpts)

	mgr, err := session.NewManager(deps.Logger, session.Config{
		Transport: deps.Transport,
		Profile:   prof,
		Registry:  deps.Registry,
		Selector:  selector,
		Prefs:     deps.Prefs,
		Callbacks: cb,
		Machine:   deps.Machine,
	})
	if err != nil {
		return nil, err
	}
	a.manager = mgr
	return a, nil
}

func (a *familyAdapter) Family() string { return a.prof.Family }

func (a *familyAdapter) RequestDevice(ctx context.Context) (transport.Advertisement, error) {
	return a.manager.RequestDevice(ctx)
}

func (a *familyAdapter) Connect(ctx context.Context, address string) error {
	return a.manager.Connect(ctx, address)
}

func (a *familyAdapter) InitializeNotifications(ctx context.Context) error {
	return a.manager.InitializeDevice(ctx)
}

func (a *familyAdapter) Disconnect(ctx context.Context, force bool) bool {
	ok := a.manager.Disconnect(ctx, force)
	if ok {
		a.mu.Lock()
		a.last = nil
		a.mu.Unlock()
	}
	return ok
}

func (a *familyAdapter) LiveReading() *reading.Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *familyAdapter) State() statemachine.State {
	return a.manager.State()
}

func (a *familyAdapter) DeviceState() session.Snapshot {
	return a.manager.DeviceState()
}

func (a *familyAdapter) UpdateBattery(percent int)    { a.manager.UpdateBattery(percent) }
func (a *familyAdapter) UpdateCharging(charging bool) { a.manager.UpdateCharging(charging) }

func (a *familyAdapter) SupportsPressure() bool { return a.prof.SupportsPressure }
func (a *familyAdapter) SupportsTVOC() bool     { return a.prof.SupportsTVOC }

func (a *familyAdapter) Close(ctx context.Context) {
	a.manager.Close(ctx)
}
