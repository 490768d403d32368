package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// PreferredLookup reads the remembered device for a family
type PreferredLookup interface {
	Preferred(ctx context.Context, family string) (deviceID string, ok bool, err error)
}

// Selector turns a family profile into a concrete device choice: scan with
// the profile's filter, take the remembered device as soon as it shows up,
// otherwise connect directly to a lone match or hand multiple matches to
// the picker.
type Selector struct {
	logger  *logrus.Logger
	scanner *Scanner
	picker  *Picker
	prefs   PreferredLookup // optional
	opts    Options
}

// NewSelector creates a selector. prefs may be nil, disabling the
// preferred-device fast path.
func NewSelector(logger *logrus.Logger, scanner *Scanner, picker *Picker, prefs PreferredLookup, opts Options) *Selector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Selector{
		logger:  logger,
		scanner: scanner,
		picker:  picker,
		prefs:   prefs,
		opts:    opts,
	}
}

// SelectDevice resolves the device a session for prof should connect to
func (s *Selector) SelectDevice(ctx context.Context, prof *profile.Profile) (transport.Advertisement, error) {
	preferred := s.preferredDevice(ctx, prof.Family)

	opts := s.opts
	opts.Filter = transport.ScanFilter{
		NamePrefixes: prof.NamePrefixes,
		ServiceUUIDs: prof.Discovery.ServiceCandidates,
	}

	// The remembered device ends the scan early; no reason to keep the
	// radio busy once the device we want is in range.
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var hit *Candidate
	onEvent := func(e Event) {
		if preferred == "" || e.Type != EventNew {
			return
		}
		if e.Candidate.Adv.Addr() == preferred {
			mu.Lock()
			hit = e.Candidate
			mu.Unlock()
			cancel()
		}
	}

	candidates, err := s.scanner.Scan(scanCtx, opts, onEvent)
	// The scanner treats cancellation as a normal end of pass; the caller
	// aborting must still surface as their cancellation, not as not-found.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	mu.Lock()
	fastPath := hit
	mu.Unlock()
	if fastPath != nil {
		s.logger.WithFields(logrus.Fields{
			"device": fastPath.Name(),
			"addr":   fastPath.Adv.Addr(),
		}).Info("Remembered device found, skipping picker")
		return fastPath.Adv, nil
	}
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: no %s devices in range", transport.ErrDeviceNotFound, prof.Family)
	case 1:
		s.logger.WithField("device", candidates[0].Name()).Info("Single candidate, connecting directly")
		return candidates[0].Adv, nil
	default:
		if s.picker == nil {
			// Headless: candidates are sorted strongest first
			return candidates[0].Adv, nil
		}
		chosen, err := s.picker.Pick(ctx, candidates)
		if err != nil {
			return nil, err
		}
		return chosen.Adv, nil
	}
}

func (s *Selector) preferredDevice(ctx context.Context, family string) string {
	if s.prefs == nil {
		return ""
	}
	deviceID, ok, err := s.prefs.Preferred(ctx, family)
	if err != nil {
		s.logger.WithError(err).Warn("Preferred device lookup failed")
		return ""
	}
	if !ok {
		return ""
	}
	return deviceID
}
