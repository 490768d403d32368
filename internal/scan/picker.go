package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// DefaultPickerTimeout is how long a selection prompt stays open before
// the strongest-signal candidate is chosen automatically.
const DefaultPickerTimeout = 10 * time.Second

type pickResult struct {
	address  string
	rejected bool
}

// Picker mediates multi-candidate device selection with whatever UI the
// caller provides. Pick presents the candidates and blocks; the UI answers
// through Resolve or Reject. When nothing answers in time the candidate
// with the strongest signal wins, so a headless run still connects.
type Picker struct {
	logger  *logrus.Logger
	timeout time.Duration
	onShow  func(candidates []*Candidate)

	mu      sync.Mutex
	pending chan pickResult
}

// PickerOption adjusts picker construction
type PickerOption func(*Picker)

// WithPickerTimeout overrides the automatic-fallback deadline
func WithPickerTimeout(d time.Duration) PickerOption {
	return func(p *Picker) { p.timeout = d }
}

// NewPicker creates a picker. onShow (optional) is invoked with the
// candidates whenever a prompt opens.
func NewPicker(logger *logrus.Logger, onShow func([]*Candidate), opts ...PickerOption) *Picker {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Picker{
		logger:  logger,
		timeout: DefaultPickerTimeout,
		onShow:  onShow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pick presents candidates and waits for a decision. Exactly one prompt
// may be open at a time; a second concurrent Pick fails.
func (p *Picker) Pick(ctx context.Context, candidates []*Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates to pick from", transport.ErrDeviceNotFound)
	}

	ch := make(chan pickResult, 1)
	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("device selection already in progress")
	}
	p.pending = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
	}()

	if p.onShow != nil {
		p.onShow(candidates)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.rejected {
			return nil, fmt.Errorf("%w: device selection rejected", transport.ErrUserCancelled)
		}
		for _, c := range candidates {
			if transport.UUIDEqual(c.Adv.Addr(), res.address) || c.Adv.Addr() == res.address {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: selected device %s was not offered", transport.ErrDeviceNotFound, res.address)
	case <-timer.C:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Adv.RSSI() > best.Adv.RSSI() {
				best = c
			}
		}
		p.logger.WithFields(logrus.Fields{
			"device": best.Name(),
			"rssi":   best.Adv.RSSI(),
		}).Info("Selection prompt timed out, picking strongest signal")
		return best, nil
	}
}

// Resolve answers the open prompt with the chosen device address.
// Returns false when no prompt is open.
func (p *Picker) Resolve(address string) bool {
	return p.answer(pickResult{address: address})
}

// Reject answers the open prompt with a refusal
func (p *Picker) Reject() bool {
	return p.answer(pickResult{rejected: true})
}

func (p *Picker) answer(res pickResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return false
	}
	select {
	case p.pending <- res:
		return true
	default:
		return false
	}
}
