package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/decode"
	"github.com/david-ria/pmscanv2-sub000/internal/groutine"
	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/recording"
	"github.com/david-ria/pmscanv2-sub000/internal/retry"
	"github.com/david-ria/pmscanv2-sub000/internal/statemachine"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// disconnectCommandAttempts bounds the courtesy device-side disconnect write
const disconnectCommandAttempts = 3

// DeviceSelector resolves which advertisement a session should connect to
type DeviceSelector interface {
	SelectDevice(ctx context.Context, prof *profile.Profile) (transport.Advertisement, error)
}

// PreferredDeviceStore remembers the last successfully connected device per
// family so later sessions can skip the picker.
type PreferredDeviceStore interface {
	Remember(ctx context.Context, family, deviceID, displayName string) error
}

// Config assembles a session Manager
type Config struct {
	Transport transport.Transport
	Profile   *profile.Profile
	Registry  *recording.Registry
	Selector  DeviceSelector
	Prefs     PreferredDeviceStore // optional
	Callbacks Callbacks
	Machine   statemachine.Options
}

// Manager owns one device session end to end. All lifecycle moves go
// through the connection state machine; the recording registry drives
// reconnection through the Reconnector methods.
type Manager struct {
	logger  *logrus.Logger
	tr      transport.Transport
	prof    *profile.Profile
	reg     *recording.Registry
	sel     DeviceSelector
	prefs   PreferredDeviceStore
	machine *statemachine.Machine
	state   *DeviceState
	init    *initializer

	mu            sync.Mutex
	address       string
	displayName   string
	peripheral    transport.Peripheral
	handles       *Handles
	shouldConnect bool
	linkGen       int

	detach func()
	closed chan struct{}
}

// NewManager builds a session for one device family. The manager attaches
// itself to the recording registry until Close.
func NewManager(logger *logrus.Logger, cfg Config) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Profile == nil {
		return nil, errors.New("session: profile is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}

	decoder, err := decode.ForProfile(cfg.Profile, logger)
	if err != nil {
		return nil, err
	}

	state := NewDeviceState()
	m := &Manager{
		logger:  logger,
		tr:      cfg.Transport,
		prof:    cfg.Profile,
		reg:     cfg.Registry,
		sel:     cfg.Selector,
		prefs:   cfg.Prefs,
		machine: statemachine.New(logger, cfg.Machine),
		state:   state,
		init: &initializer{
			logger:  logger,
			prof:    cfg.Profile,
			decoder: decoder,
			state:   state,
			cb:      cfg.Callbacks,
		},
		closed: make(chan struct{}),
	}
	if m.reg != nil {
		m.detach = m.reg.Attach(m)
	}
	return m, nil
}

// State returns the current lifecycle state
func (m *Manager) State() statemachine.State {
	return m.machine.State()
}

// StateMachine exposes the underlying machine for history inspection
func (m *Manager) StateMachine() *statemachine.Machine {
	return m.machine
}

// DeviceState returns a snapshot of the cached device attributes
func (m *Manager) DeviceState() Snapshot {
	return m.state.Snapshot()
}

// Profile returns the device family profile this session serves
func (m *Manager) Profile() *profile.Profile {
	return m.prof
}

// Address returns the address of the selected or connected device
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// IsConnected reports whether the session is usable (possibly degraded)
func (m *Manager) IsConnected() bool {
	return m.machine.IsConnected()
}

// RequestDevice scans for and selects the device this session will use.
// The selection result is remembered for Connect.
func (m *Manager) RequestDevice(ctx context.Context) (transport.Advertisement, error) {
	if !m.machine.Transition(statemachine.StateScanning, "device selection") {
		return nil, fmt.Errorf("cannot start device selection from state %s", m.machine.State())
	}
	if m.sel == nil {
		err := errors.New("session: no device selector configured")
		m.machine.TransitionToError(err, "device selection")
		return nil, err
	}

	adv, err := m.sel.SelectDevice(ctx, m.prof)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.machine.Transition(statemachine.StateIdle, "device selection cancelled")
		} else {
			m.machine.TransitionToError(err, "device selection failed")
		}
		return nil, err
	}

	m.mu.Lock()
	m.address = adv.Addr()
	m.displayName = adv.LocalName()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"device": adv.LocalName(),
		"addr":   adv.Addr(),
	}).Info("Device selected")
	return adv, nil
}

// Connect establishes the radio link to address (or to the previously
// selected device when address is empty). A concurrent attempt in flight
// short-circuits with an error rather than racing it.
func (m *Manager) Connect(ctx context.Context, address string) error {
	switch st := m.machine.State(); st {
	case statemachine.StateConnected, statemachine.StatePartialConnected:
		return fmt.Errorf("%w: session already connected", transport.ErrAlreadyConnected)
	case statemachine.StateScanning, statemachine.StateReconnecting:
		m.machine.Transition(statemachine.StateConnecting, "connect")
	case statemachine.StateIdle:
		m.machine.Transition(statemachine.StateScanning, "direct connect")
		m.machine.Transition(statemachine.StateConnecting, "connect")
	default:
		return fmt.Errorf("connection attempt already in progress (state %s)", st)
	}

	if address == "" {
		address = m.Address()
	}
	if address == "" {
		err := errors.New("session: no device selected")
		m.machine.TransitionToError(err, "connect")
		return err
	}

	p, err := retry.DoValue(ctx, m.logger, "connect "+address, retry.ConnectPolicy(),
		func(ctx context.Context) (transport.Peripheral, error) {
			return m.tr.Connect(ctx, address)
		})
	if err != nil {
		m.machine.TransitionToError(err, "connect failed")
		return err
	}

	m.mu.Lock()
	m.address = address
	m.peripheral = p
	m.shouldConnect = true
	m.linkGen++
	gen := m.linkGen
	m.mu.Unlock()

	groutine.Go(nil, "link-watch", func(context.Context) { m.watchLink(p, gen) })
	m.logger.WithField("addr", address).Info("Radio link established")
	return nil
}

// InitializeDevice runs GATT setup on the established link: service
// discovery, static reads, clock sync and notification subscriptions. The
// session ends Connected, or PartialConnected when only non-critical
// subscriptions failed.
func (m *Manager) InitializeDevice(ctx context.Context) error {
	m.mu.Lock()
	p := m.peripheral
	m.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: no radio link", transport.ErrNotConnected)
	}
	if !m.machine.Transition(statemachine.StateInitializing, "gatt initialization") {
		return fmt.Errorf("cannot initialize from state %s", m.machine.State())
	}

	h, partial, err := m.init.run(ctx, p)
	if err != nil {
		m.machine.TransitionToError(err, "initialization failed")
		return err
	}

	m.mu.Lock()
	m.handles = h
	family := m.prof.Family
	address := m.address
	name := m.displayName
	m.mu.Unlock()

	if partial {
		m.machine.Transition(statemachine.StatePartialConnected, "initialized degraded")
	} else {
		m.machine.Transition(statemachine.StateConnected, "initialized")
	}

	if m.prefs != nil {
		if err := m.prefs.Remember(ctx, family, address, name); err != nil {
			m.logger.WithError(err).Warn("Failed to persist preferred device")
		}
	}
	return nil
}

// Disconnect tears the session down. While a recording is active the
// request is refused unless force is set; the caller learns the outcome
// from the return value. Teardown itself never fails: the device-side
// disconnect command is best-effort and local release always completes.
func (m *Manager) Disconnect(ctx context.Context, force bool) bool {
	if m.reg != nil && m.reg.Active() && !force {
		m.logger.Warn("Refusing disconnect: recording in progress")
		return false
	}

	m.mu.Lock()
	m.shouldConnect = false
	h := m.handles
	p := m.peripheral
	m.handles = nil
	m.peripheral = nil
	m.linkGen++
	m.mu.Unlock()

	if st := m.machine.State(); st != statemachine.StateIdle && st != statemachine.StateError {
		m.machine.Transition(statemachine.StateDisconnecting, "disconnect requested")
	}

	if h != nil {
		m.sendDisconnectCommand(ctx, h)
		h.Close()
	}
	if p != nil {
		if err := p.Disconnect(); err != nil {
			m.logger.WithError(err).Debug("Platform disconnect failed")
		}
	}

	m.state.Reset()
	if m.machine.State() != statemachine.StateIdle {
		m.machine.Transition(statemachine.StateIdle, "disconnected")
	}
	return true
}

// sendDisconnectCommand asks the device to drop the link from its side by
// setting the disconnect bit in the mode byte. Bounded attempts; failure
// only means the local teardown proceeds without the courtesy.
func (m *Manager) sendDisconnectCommand(ctx context.Context, h *Handles) {
	if m.prof.DisconnectBit == 0 {
		return
	}
	uuid := m.prof.CharacteristicUUID(profile.RoleMode)
	if uuid == "" {
		return
	}
	c, err := h.Service.GetCharacteristic(ctx, uuid)
	if err != nil {
		m.logger.WithError(err).Debug("Mode characteristic unavailable for disconnect command")
		return
	}

	payload := []byte{m.state.OperatingMode() | m.prof.DisconnectBit}
	for attempt := 1; attempt <= disconnectCommandAttempts; attempt++ {
		err := c.Write(ctx, payload, true)
		if err == nil {
			m.logger.Debug("Device-side disconnect command acknowledged")
			return
		}
		m.logger.WithError(err).WithField("attempt", attempt).
			Warn("Device-side disconnect command failed")
	}
	m.logger.Warn("Device did not acknowledge disconnect command, releasing locally")
}

// watchLink waits for the platform disconnect signal of one link
// generation. Stale generations (superseded by a newer connect or an
// explicit disconnect) are ignored.
func (m *Manager) watchLink(p transport.Peripheral, gen int) {
	select {
	case <-p.Disconnected():
	case <-m.closed:
		return
	}

	m.mu.Lock()
	if m.linkGen != gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.onDisconnected()
}

// onDisconnected handles an unexpected link loss. With a recording active
// the session holds its resources and moves to Reconnecting for the
// watchdog to revive; otherwise everything is released back to Idle.
func (m *Manager) onDisconnected() {
	m.mu.Lock()
	shouldConnect := m.shouldConnect
	m.mu.Unlock()

	if m.reg != nil && m.reg.Active() && shouldConnect {
		m.logger.Info("Link lost during recording, awaiting reconnection")
		m.machine.Transition(statemachine.StateReconnecting, "link lost during recording")
		return
	}

	m.mu.Lock()
	h := m.handles
	m.handles = nil
	m.peripheral = nil
	m.shouldConnect = false
	m.mu.Unlock()

	if h != nil {
		h.Close()
	}
	m.state.Reset()

	m.logger.Info("Link lost, releasing session")
	m.machine.Transition(statemachine.StateDisconnecting, "link lost")
	m.machine.Transition(statemachine.StateIdle, "released")
}

// Reconnect revives a lost link on behalf of the recording watchdog. When
// the radio link survived (a subscription fault, not a link drop) only the
// event listeners are re-armed; otherwise the device is re-dialed and fully
// re-initialized. Safe to call repeatedly; a no-op when nothing needs doing.
func (m *Manager) Reconnect(ctx context.Context) error {
	if m.machine.IsConnected() {
		return nil
	}

	m.mu.Lock()
	shouldConnect := m.shouldConnect
	address := m.address
	p := m.peripheral
	h := m.handles
	m.mu.Unlock()
	if !shouldConnect || address == "" {
		return nil
	}

	switch m.machine.State() {
	case statemachine.StateReconnecting:
	case statemachine.StateError:
		if !m.machine.Transition(statemachine.StateReconnecting, "reconnect retry") {
			return nil
		}
	default:
		// Idle means a hard reset or explicit disconnect won; anything else
		// means an attempt is already in flight.
		return nil
	}

	linkAlive := false
	if p != nil {
		select {
		case <-p.Disconnected():
		default:
			linkAlive = true
		}
	}

	if linkAlive && h != nil {
		return m.reviveListeners(ctx, h)
	}
	return m.redial(ctx, address, h)
}

// reviveListeners re-arms subscriptions on a link that never dropped
func (m *Manager) reviveListeners(ctx context.Context, h *Handles) error {
	m.machine.Transition(statemachine.StateConnecting, "reviving listeners")
	if !m.machine.Transition(statemachine.StateInitializing, "re-arming subscriptions") {
		return nil
	}

	partial, err := m.init.reestablishEventListeners(ctx, h)
	if err != nil {
		m.machine.TransitionToError(err, "listener re-arm failed")
		return err
	}
	if partial {
		m.machine.Transition(statemachine.StatePartialConnected, "listeners re-armed degraded")
	} else {
		m.machine.Transition(statemachine.StateConnected, "listeners re-armed")
	}
	m.logger.Info("Event listeners re-established")
	return nil
}

// redial performs a full reconnect: new link, fresh initialization
func (m *Manager) redial(ctx context.Context, address string, stale *Handles) error {
	if !m.machine.Transition(statemachine.StateConnecting, "reconnect") {
		return nil
	}

	p, err := retry.DoValue(ctx, m.logger, "reconnect "+address, retry.ConnectPolicy(),
		func(ctx context.Context) (transport.Peripheral, error) {
			return m.tr.Connect(ctx, address)
		})
	if err != nil {
		m.machine.TransitionToError(err, "reconnect dial failed")
		return err
	}

	m.mu.Lock()
	m.peripheral = p
	m.handles = nil
	m.linkGen++
	gen := m.linkGen
	m.mu.Unlock()

	groutine.Go(nil, "link-watch", func(context.Context) { m.watchLink(p, gen) })
	if stale != nil {
		stale.Close()
	}

	if !m.machine.Transition(statemachine.StateInitializing, "reconnect initialization") {
		return nil
	}
	h, partial, err := m.init.run(ctx, p)
	if err != nil {
		m.machine.TransitionToError(err, "reconnect initialization failed")
		return err
	}

	m.mu.Lock()
	m.handles = h
	m.mu.Unlock()

	if partial {
		m.machine.Transition(statemachine.StatePartialConnected, "reconnected degraded")
	} else {
		m.machine.Transition(statemachine.StateConnected, "reconnected")
	}
	m.logger.WithField("addr", address).Info("Reconnected")
	return nil
}

// UpdateBattery applies an externally sourced battery value (for example a
// platform-level battery service) and fires the callback on change.
func (m *Manager) UpdateBattery(percent int) {
	if m.state.SetBattery(percent) && m.init.cb.OnBatteryUpdate != nil {
		m.init.cb.OnBatteryUpdate(percent)
	}
}

// UpdateCharging applies an externally sourced charging flag
func (m *Manager) UpdateCharging(charging bool) {
	if m.state.SetCharging(charging) && m.init.cb.OnChargingUpdate != nil {
		m.init.cb.OnChargingUpdate(charging)
	}
}

// Close force-disconnects, detaches from the recording registry and stops
// the link watcher. The manager is unusable afterwards.
func (m *Manager) Close(ctx context.Context) {
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
	m.Disconnect(ctx, true)

	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
}
