package decode

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/david-ria/pmscanv2-sub000/internal/reading"
)

// AirBeam frames are UTF-8 text lines pushed over a serial-style notify
// characteristic. A line routinely spans several BLE packets, so chunks are
// buffered until a newline before parsing. Three layouts are attempted in
// order, falling through whenever the parse does not look physically
// plausible (PM in 0..2000):
//
//  1. primary: 8 whitespace-separated fields
//     seq temp rh pm1 pm2.5 pm10 battery flags
//  2. fallback: the same 8 fields comma-separated
//  3. reduced: 5 fields (whitespace or comma)
//     temp rh pm1 pm2.5 pm10
const (
	airbeamStreamBufferSize = 512
	airbeamMaxLineLen       = 256

	airbeamPlausiblePMMax = 2000.0

	airbeamFullFieldCount    = 8
	airbeamReducedFieldCount = 5

	airbeamFlagCharging = 0x01
)

// AirBeamDecoder reassembles and parses the textual AirBeam protocol.
// Stateful: one instance per device session, not safe for concurrent use
// (it is only ever fed from a single notification queue).
type AirBeamDecoder struct {
	logger *logrus.Logger
	stream *ringbuffer.RingBuffer
	line   []byte
}

// NewAirBeamDecoder creates a line decoder with an empty reassembly buffer
func NewAirBeamDecoder(logger *logrus.Logger) *AirBeamDecoder {
	return &AirBeamDecoder{
		logger: logger,
		stream: ringbuffer.New(airbeamStreamBufferSize),
		line:   make([]byte, 0, airbeamMaxLineLen),
	}
}

var _ Decoder = (*AirBeamDecoder)(nil)

// Decode feeds one notification chunk into the reassembly buffer and
// returns one reading per line the chunk completed, in line order. A chunk
// carrying several complete lines yields them all. Feeding a frame split
// across arbitrary chunk boundaries yields exactly the same readings as
// feeding it whole.
func (d *AirBeamDecoder) Decode(buf []byte) []*reading.Reading {
	if _, err := d.stream.Write(buf); err != nil {
		// Buffer overrun means we lost synchronization; drop everything
		// and start clean at the next line boundary.
		if d.logger != nil {
			d.logger.WithError(err).Warn("AirBeam stream buffer overrun, resynchronizing")
		}
		d.stream.Reset()
		d.line = d.line[:0]
		return nil
	}

	var out []*reading.Reading
	for {
		b, err := d.stream.ReadByte()
		if err != nil {
			break
		}
		if b == '\n' {
			if r := d.parseLine(string(d.line)); r != nil {
				out = append(out, r)
			}
			d.line = d.line[:0]
			continue
		}
		if len(d.line) >= airbeamMaxLineLen {
			if d.logger != nil {
				d.logger.Warn("AirBeam line exceeded maximum length, discarding")
			}
			d.line = d.line[:0]
			continue
		}
		d.line = append(d.line, b)
	}
	return out
}

// parseLine tries the primary, comma-fallback and reduced layouts in order
func (d *AirBeamDecoder) parseLine(line string) *reading.Reading {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	if r := d.parseFull(strings.Fields(line)); r != nil {
		return r
	}
	if r := d.parseFull(splitComma(line)); r != nil {
		return r
	}
	if r := d.parseReduced(strings.Fields(line)); r != nil {
		return r
	}
	if r := d.parseReduced(splitComma(line)); r != nil {
		return r
	}

	if d.logger != nil {
		d.logger.WithField("line", line).Debug("Dropping unparseable AirBeam line")
	}
	return nil
}

func splitComma(line string) []string {
	parts := strings.Split(line, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFull maps the 8-field vector: seq temp rh pm1 pm2.5 pm10 batt flags
func (d *AirBeamDecoder) parseFull(fields []string) *reading.Reading {
	if len(fields) != airbeamFullFieldCount {
		return nil
	}

	vals, ok := parseFloats(fields[1:6])
	if !ok {
		return nil
	}
	battery, err := strconv.Atoi(fields[6])
	if err != nil {
		return nil
	}
	flags, err := strconv.Atoi(fields[7])
	if err != nil {
		return nil
	}

	r := &reading.Reading{
		TemperatureC:     vals[0],
		RelativeHumidity: vals[1],
		PM1:              vals[2],
		PM25:             vals[3],
		PM10:             vals[4],
		Battery:          battery,
		Charging:         flags&airbeamFlagCharging != 0,
		Timestamp:        time.Now(),
	}
	return d.accept(r)
}

// parseReduced maps the 5-field vector: temp rh pm1 pm2.5 pm10
func (d *AirBeamDecoder) parseReduced(fields []string) *reading.Reading {
	if len(fields) != airbeamReducedFieldCount {
		return nil
	}
	vals, ok := parseFloats(fields)
	if !ok {
		return nil
	}
	r := &reading.Reading{
		TemperatureC:     vals[0],
		RelativeHumidity: vals[1],
		PM1:              vals[2],
		PM25:             vals[3],
		PM10:             vals[4],
		Timestamp:        time.Now(),
	}
	return d.accept(r)
}

// accept applies the corruption check, the plausibility gate that drives
// format fallback, and the warning tier.
func (d *AirBeamDecoder) accept(r *reading.Reading) *reading.Reading {
	if err := r.CheckFinite(); err != nil {
		if d.logger != nil {
			d.logger.WithError(err).Warn("Dropping corrupt AirBeam line")
		}
		return nil
	}
	if !plausiblePM(r) {
		return nil
	}
	logWarnings(d.logger, "airbeam", r)
	return r
}

func plausiblePM(r *reading.Reading) bool {
	for _, v := range []float64{r.PM1, r.PM25, r.PM10} {
		if v < 0 || v > airbeamPlausiblePMMax {
			return false
		}
	}
	return true
}

func parseFloats(fields []string) ([]float64, bool) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
