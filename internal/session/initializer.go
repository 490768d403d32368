package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/decode"
	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/reading"
	"github.com/david-ria/pmscanv2-sub000/internal/retry"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// notificationQueueCapacity bounds each per-characteristic event queue
const notificationQueueCapacity = 128

// initializer performs the post-connect GATT setup for one session:
// service discovery, static attribute reads, clock sync and notification
// subscriptions. A failed critical subscription aborts; failed non-critical
// ones degrade the session to a partial connection.
type initializer struct {
	logger  *logrus.Logger
	prof    *profile.Profile
	decoder decode.Decoder
	state   *DeviceState
	cb      Callbacks
}

// run executes the full initialization sequence. Returns the live handles
// and whether the session came up degraded.
func (in *initializer) run(ctx context.Context, p transport.Peripheral) (*Handles, bool, error) {
	svc, err := in.discoverPrimaryService(ctx, p)
	if err != nil {
		return nil, false, err
	}

	h := newHandles(p, svc)

	// Static reads, mode switch and clock sync are best-effort; the stream
	// matters more than the metadata.
	in.readStaticAttributes(ctx, h)
	in.ensureAcquisitionMode(ctx, h)
	in.syncClock(ctx, h)

	partial, err := in.subscribeNotifications(ctx, h)
	if err != nil {
		h.Close()
		return nil, false, err
	}
	return h, partial, nil
}

// discoverPrimaryService tries the profile's service candidates in order.
// With the enumerate fallback enabled, any service exposing the data
// characteristic is accepted, which keeps unknown hardware revisions usable.
func (in *initializer) discoverPrimaryService(ctx context.Context, p transport.Peripheral) (transport.Service, error) {
	for _, uuid := range in.prof.Discovery.ServiceCandidates {
		svc, err := p.GetService(ctx, uuid)
		if err == nil {
			return svc, nil
		}
		in.logger.WithFields(logrus.Fields{
			"service": transport.ShortenUUID(uuid),
			"family":  in.prof.Family,
		}).Debug("Service candidate not present")
	}

	if in.prof.Discovery.FallbackEnumerate {
		svcs, err := p.Services(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate services: %w", err)
		}
		dataUUID := transport.NormalizeUUID(in.prof.CharacteristicUUID(profile.RoleData))
		for _, svc := range svcs {
			for _, c := range svc.Characteristics() {
				if transport.NormalizeUUID(c.UUID()) == dataUUID {
					in.logger.WithField("service", transport.ShortenUUID(svc.UUID())).
						Info("Found data characteristic under unlisted service")
					return svc, nil
				}
			}
		}
	}

	return nil, &transport.NotFoundError{Resource: "service", UUIDs: in.prof.Discovery.ServiceCandidates}
}

// readStaticAttributes reads the slow-changing attributes sequentially.
// Individual failures are logged and skipped.
func (in *initializer) readStaticAttributes(ctx context.Context, h *Handles) {
	for _, role := range profile.StaticRoles {
		uuid := in.prof.CharacteristicUUID(role)
		if uuid == "" {
			continue
		}
		c, err := h.Service.GetCharacteristic(ctx, uuid)
		if err != nil {
			in.logger.WithField("role", role).Debug("Static characteristic not present")
			continue
		}
		data, err := retry.DoValue(ctx, in.logger, "read "+string(role), retry.ReadWritePolicy(),
			func(ctx context.Context) ([]byte, error) { return c.Read(ctx) })
		if err != nil {
			in.logger.WithError(err).WithField("role", role).Warn("Static attribute read failed")
			continue
		}
		in.applyStatic(role, data)
	}
}

func (in *initializer) applyStatic(role profile.Role, data []byte) {
	switch role {
	case profile.RoleBattery:
		if len(data) > 0 {
			if in.state.SetBattery(int(data[0])) && in.cb.OnBatteryUpdate != nil {
				in.cb.OnBatteryUpdate(int(data[0]))
			}
		}
	case profile.RoleFirmware:
		in.state.SetFirmwareVersion(strings.TrimRight(string(data), "\x00"))
	case profile.RoleMode:
		if len(data) > 0 {
			in.state.SetOperatingMode(data[0])
		}
	case profile.RoleInterval:
		switch {
		case len(data) >= 2:
			in.state.SetSamplingInterval(int(binary.LittleEndian.Uint16(data)))
		case len(data) == 1:
			in.state.SetSamplingInterval(int(data[0]))
		}
	case profile.RoleDisplay:
		in.state.SetDisplayConfig(data)
	}
}

// ensureAcquisitionMode switches the device into its measurement mode when
// the mode register reads back as anything else. A device already acquiring
// is left alone so an in-progress measurement session is not restarted.
func (in *initializer) ensureAcquisitionMode(ctx context.Context, h *Handles) {
	want := in.prof.AcquisitionMode
	uuid := in.prof.CharacteristicUUID(profile.RoleMode)
	if want == 0 || uuid == "" {
		return
	}
	if in.state.OperatingMode() == want {
		return
	}
	c, err := h.Service.GetCharacteristic(ctx, uuid)
	if err != nil {
		return
	}
	err = retry.Do(ctx, in.logger, "write mode", retry.ReadWritePolicy(),
		func(ctx context.Context) error { return c.Write(ctx, []byte{want}, true) })
	if err != nil {
		in.logger.WithError(err).Warn("Failed to switch device into acquisition mode")
		return
	}
	in.state.SetOperatingMode(want)
	in.logger.WithField("mode", want).Info("Switched device into acquisition mode")
}

// syncClock sets the on-device clock, but only when it reads back as zero:
// a running clock is never overwritten, it may carry an active session.
func (in *initializer) syncClock(ctx context.Context, h *Handles) {
	uuid := in.prof.CharacteristicUUID(profile.RoleClock)
	if uuid == "" || in.prof.ClockEpoch.IsZero() {
		return
	}
	c, err := h.Service.GetCharacteristic(ctx, uuid)
	if err != nil {
		return
	}

	data, err := retry.DoValue(ctx, in.logger, "read clock", retry.ReadWritePolicy(),
		func(ctx context.Context) ([]byte, error) { return c.Read(ctx) })
	if err != nil {
		in.logger.WithError(err).Warn("Clock read failed, skipping sync")
		return
	}
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) != 0 {
		return
	}

	now := uint32(time.Since(in.prof.ClockEpoch) / time.Second)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, now)
	err = retry.Do(ctx, in.logger, "write clock", retry.ReadWritePolicy(),
		func(ctx context.Context) error { return c.Write(ctx, buf, true) })
	if err != nil {
		in.logger.WithError(err).Warn("Clock sync failed")
		return
	}
	in.logger.WithField("device_time", now).Info("Synchronized device clock")
}

type subscribeResult struct {
	role profile.Role
	err  error
}

// subscribeNotifications arms every notify role concurrently. Outcomes are
// collected independently: a critical role failure aborts, non-critical
// failures only degrade.
func (in *initializer) subscribeNotifications(ctx context.Context, h *Handles) (bool, error) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var results []subscribeResult

	for _, role := range profile.NotifyRoles {
		uuid := in.prof.CharacteristicUUID(role)
		if uuid == "" {
			continue
		}
		wg.Add(1)
		go func(role profile.Role, uuid string) {
			defer wg.Done()
			err := in.subscribeRole(ctx, h, role, uuid, &mu)
			mu.Lock()
			results = append(results, subscribeResult{role: role, err: err})
			mu.Unlock()
		}(role, uuid)
	}
	wg.Wait()

	partial := false
	for _, res := range results {
		if res.err == nil {
			continue
		}
		if in.prof.IsCritical(res.role) {
			return false, fmt.Errorf("critical subscription %s failed: %w", res.role, res.err)
		}
		in.logger.WithError(res.err).WithField("role", res.role).
			Warn("Non-critical subscription failed, continuing degraded")
		partial = true
	}
	return partial, nil
}

func (in *initializer) subscribeRole(ctx context.Context, h *Handles, role profile.Role, uuid string, mu *sync.Mutex) error {
	c, err := h.Service.GetCharacteristic(ctx, uuid)
	if err != nil {
		return err
	}

	q := transport.NewNotificationQueue(string(role), notificationQueueCapacity, in.logger, in.dispatch(role))
	err = retry.Do(ctx, in.logger, "subscribe "+string(role), retry.SubscribePolicy(),
		func(ctx context.Context) error { return c.Subscribe(ctx, q.Push) })
	if err != nil {
		q.Close()
		return err
	}

	mu.Lock()
	h.bind(role, c, q)
	mu.Unlock()
	return nil
}

// dispatch builds the drain handler for one role. Handlers run on the
// queue's single drain goroutine, so per-role delivery stays ordered.
func (in *initializer) dispatch(role profile.Role) func(data []byte, flags uint32) {
	return func(data []byte, flags uint32) {
		if flags&transport.FlagDropped != 0 {
			in.logger.WithField("role", role).Warn("Notification backlog overflowed, values were dropped")
		}
		switch role {
		case profile.RoleData, profile.RoleIMData:
			in.dispatchReading(data)
		case profile.RoleBattery:
			if len(data) > 0 {
				if in.state.SetBattery(int(data[0])) && in.cb.OnBatteryUpdate != nil {
					in.cb.OnBatteryUpdate(int(data[0]))
				}
			}
		case profile.RoleCharging:
			if len(data) > 0 {
				charging := data[0] != 0
				if in.state.SetCharging(charging) && in.cb.OnChargingUpdate != nil {
					in.cb.OnChargingUpdate(charging)
				}
			}
		}
	}
}

// dispatchReading decodes one notification payload and delivers every
// frame it completed. Stream protocols can finish several frames per
// chunk; each one reaches the callback.
func (in *initializer) dispatchReading(data []byte) {
	for _, r := range in.decoder.Decode(data) {
		in.deliverReading(r)
	}
}

func (in *initializer) deliverReading(r *reading.Reading) {
	if r.SessionID != "" {
		in.state.SetSessionID(r.SessionID)
	}
	// Families without a dedicated battery channel carry it in the stream
	if in.prof.CharacteristicUUID(profile.RoleBattery) == "" {
		if in.state.SetBattery(r.Battery) && in.cb.OnBatteryUpdate != nil {
			in.cb.OnBatteryUpdate(r.Battery)
		}
		if in.state.SetCharging(r.Charging) && in.cb.OnChargingUpdate != nil {
			in.cb.OnChargingUpdate(r.Charging)
		}
	}
	if in.cb.OnReading != nil {
		in.cb.OnReading(r)
	}
}
