// Package scan handles device discovery and selection: filtered scanning,
// the user-facing picker with its RSSI fallback, and the preferred-device
// fast path that skips the picker entirely.
package scan

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// EventType marks whether a device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

// Event is one discovery notification
type Event struct {
	Type      EventType
	Candidate *Candidate
}

// Candidate is one discovered device. Fields are updated in place as
// further advertisements arrive; advertisement handlers run serially, so
// no locking is needed.
type Candidate struct {
	Adv       transport.Advertisement
	FirstSeen time.Time
	LastSeen  time.Time
	Updates   int
}

// Name returns the best display name for the candidate
func (c *Candidate) Name() string {
	if n := c.Adv.LocalName(); n != "" {
		return n
	}
	return c.Adv.Addr()
}

// Options configures one scan pass
type Options struct {
	// Duration bounds the pass; zero scans until the context ends
	Duration time.Duration
	// DuplicateFilter suppresses repeat advertisements from the platform
	DuplicateFilter bool
	Filter          transport.ScanFilter
}

// DefaultOptions returns the scan settings used for device selection
func DefaultOptions() Options {
	return Options{
		Duration:        10 * time.Second,
		DuplicateFilter: false,
	}
}

// IsZero reports whether no option has been set explicitly, so callers can
// substitute defaults. The filter's slice fields make Options non-comparable;
// this is the zero check to use instead of ==.
func (o Options) IsZero() bool {
	return o.Duration == 0 && !o.DuplicateFilter &&
		len(o.Filter.NamePrefixes) == 0 && len(o.Filter.ServiceUUIDs) == 0 &&
		len(o.Filter.AllowList) == 0 && len(o.Filter.BlockList) == 0
}

// Scanner performs filtered BLE discovery over a transport
type Scanner struct {
	logger  *logrus.Logger
	tr      transport.Transport
	devices *hashmap.Map[string, *Candidate]
}

// NewScanner creates a scanner
func NewScanner(logger *logrus.Logger, tr transport.Transport) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger, tr: tr}
}

// Scan runs one discovery pass and returns the candidates sorted by signal
// strength, strongest first. onEvent (optional) fires for every new or
// updated candidate while the pass is running. Context cancellation and the
// duration elapsing both end the pass normally.
func (s *Scanner) Scan(ctx context.Context, opts Options, onEvent func(Event)) ([]*Candidate, error) {
	s.devices = hashmap.New[string, *Candidate]()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan")

	err := s.tr.Scan(ctx, !opts.DuplicateFilter, func(adv transport.Advertisement) {
		s.handleAdvertisement(adv, opts.Filter, onEvent)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	out := s.snapshot()
	s.logger.WithField("device_count", len(out)).Info("BLE scan completed")
	return out, nil
}

func (s *Scanner) handleAdvertisement(adv transport.Advertisement, filter transport.ScanFilter, onEvent func(Event)) {
	if !filter.Match(adv) {
		return
	}

	now := time.Now()
	addr := adv.Addr()

	cand, existing := s.devices.Get(addr)
	if !existing {
		cand, existing = s.devices.GetOrInsert(addr, &Candidate{
			Adv:       adv,
			FirstSeen: now,
			LastSeen:  now,
		})
	}

	event := Event{Candidate: cand}
	if existing {
		cand.Adv = adv
		cand.LastSeen = now
		cand.Updates++
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  cand.Name(),
			"address": addr,
			"rssi":    adv.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	if onEvent != nil {
		onEvent(event)
	}
}

func (s *Scanner) snapshot() []*Candidate {
	out := make([]*Candidate, 0, s.devices.Len())
	s.devices.Range(func(_ string, c *Candidate) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Adv.RSSI() > out[j].Adv.RSSI()
	})
	return out
}
