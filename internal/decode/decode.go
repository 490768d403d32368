// Package decode turns raw notification payloads into sensor readings.
// Decoders never fail loudly: a malformed payload yields nil and the
// notification is dropped, keeping the session alive. Two families are
// implemented, a binary fixed-offset protocol (PMScan) and a textual
// line-oriented protocol (AirBeam).
package decode

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/reading"
)

// Decoder consumes one notification payload and returns the readings it
// completed, in arrival order. One payload may complete several frames when
// the protocol is stream-oriented; every completed frame is returned, none
// are coalesced. Empty when the payload is malformed or completes nothing.
type Decoder interface {
	Decode(buf []byte) []*reading.Reading
}

// ForProfile builds the decoder named by a device profile
func ForProfile(p *profile.Profile, logger *logrus.Logger) (Decoder, error) {
	switch p.Decoder {
	case "pmscan-binary":
		return NewPMScanDecoder(logger), nil
	case "airbeam-lines":
		return NewAirBeamDecoder(logger), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q for family %s", p.Decoder, p.Family)
	}
}

// logWarnings emits one warning per plausibility violation. The reading is
// still delivered; extremes are data, not corruption.
func logWarnings(logger *logrus.Logger, family string, r *reading.Reading) {
	if logger == nil {
		return
	}
	for _, w := range r.RangeWarnings() {
		logger.WithField("family", family).Warnf("Suspicious reading: %s", w)
	}
}
