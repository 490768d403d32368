package decode

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/reading"
)

// PMScan frame layout, little-endian. Offsets are fixed per hardware
// revision; this is the v2 layout. Values are fixed-point scaled.
//
//	 0:4   uint32  device time, seconds since the family epoch
//	 4:6   uint16  session id
//	 6:8   uint16  pm1 ×10 µg/m³
//	 8:10  uint16  pm2.5 ×10 µg/m³
//	10:12  uint16  pm10 ×10 µg/m³
//	12:14  int16   temperature ×10 °C
//	14:16  uint16  relative humidity ×10 %
//	16:20  float32 pressure hPa (0 = sensor not fitted)
//	20     uint8   battery percent
//	21     uint8   flags (bit0 charging)
//
// Long frames append optional fields; absence is not an error:
//
//	22:24  uint16  VOC index ×10            (len >= 30)
//	24:30  3×uint16 particle counts per bin (len >= 30)
//	30:32  int16   external temperature ×100 (len >= 34)
//	32:34  uint16  external humidity ×100    (len >= 34)
const (
	pmscanBaseFrameLen     = 22
	pmscanExtendedFrameLen = 30
	pmscanExternalFrameLen = 34

	pmscanFlagCharging = 0x01
)

// PMScanDecoder decodes binary PMScan frames. Stateless; one instance may
// serve many frames.
type PMScanDecoder struct {
	logger *logrus.Logger
}

// NewPMScanDecoder creates a PMScan frame decoder
func NewPMScanDecoder(logger *logrus.Logger) *PMScanDecoder {
	return &PMScanDecoder{logger: logger}
}

var _ Decoder = (*PMScanDecoder)(nil)

// Decode parses one frame. One notification carries at most one frame, so
// the result holds one reading or none. Truncated frames and frames whose
// float fields are non-finite (hard corruption signal) yield nothing. Finite
// values outside physical plausibility are logged and delivered anyway.
func (d *PMScanDecoder) Decode(buf []byte) []*reading.Reading {
	r := d.decodeFrame(buf)
	if r == nil {
		return nil
	}
	return []*reading.Reading{r}
}

func (d *PMScanDecoder) decodeFrame(buf []byte) *reading.Reading {
	if len(buf) < pmscanBaseFrameLen {
		if d.logger != nil {
			d.logger.WithField("len", len(buf)).Debug("Dropping truncated PMScan frame")
		}
		return nil
	}

	r := &reading.Reading{
		DeviceTime:       binary.LittleEndian.Uint32(buf[0:4]),
		SessionID:        strconv.Itoa(int(binary.LittleEndian.Uint16(buf[4:6]))),
		PM1:              float64(binary.LittleEndian.Uint16(buf[6:8])) / 10,
		PM25:             float64(binary.LittleEndian.Uint16(buf[8:10])) / 10,
		PM10:             float64(binary.LittleEndian.Uint16(buf[10:12])) / 10,
		TemperatureC:     float64(int16(binary.LittleEndian.Uint16(buf[12:14]))) / 10,
		RelativeHumidity: float64(binary.LittleEndian.Uint16(buf[14:16])) / 10,
		Battery:          int(buf[20]),
		Charging:         buf[21]&pmscanFlagCharging != 0,
		Timestamp:        time.Now(),
	}

	if p := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))); p != 0 {
		r.PressureHPa = &p
	}

	if len(buf) >= pmscanExtendedFrameLen {
		voc := float64(binary.LittleEndian.Uint16(buf[22:24])) / 10
		r.VOCIndex = &voc
		r.ParticleCounts = []uint16{
			binary.LittleEndian.Uint16(buf[24:26]),
			binary.LittleEndian.Uint16(buf[26:28]),
			binary.LittleEndian.Uint16(buf[28:30]),
		}
	}
	if len(buf) >= pmscanExternalFrameLen {
		extT := float64(int16(binary.LittleEndian.Uint16(buf[30:32]))) / 100
		extH := float64(binary.LittleEndian.Uint16(buf[32:34])) / 100
		r.ExternalTemperatureC = &extT
		r.ExternalHumidity = &extH
	}

	if err := r.CheckFinite(); err != nil {
		if d.logger != nil {
			d.logger.WithError(err).Warn("Dropping corrupt PMScan frame")
		}
		return nil
	}

	logWarnings(d.logger, "pmscan", r)
	return r
}
