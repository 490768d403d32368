package decode

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/david-ria/pmscanv2-sub000/internal/reading"
)

// PMScanDecoderTestSuite tests the binary fixed-offset frame decoder
type PMScanDecoderTestSuite struct {
	suite.Suite

	logger *logrus.Logger
	hook   *test.Hook
	dec    *PMScanDecoder
}

func TestPMScanDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(PMScanDecoderTestSuite))
}

func (suite *PMScanDecoderTestSuite) SetupTest() {
	suite.logger, suite.hook = test.NewNullLogger()
	suite.dec = NewPMScanDecoder(suite.logger)
}

// decodeOne feeds one frame and returns its reading, nil when dropped
func (suite *PMScanDecoderTestSuite) decodeOne(frame []byte) *reading.Reading {
	rs := suite.dec.Decode(frame)
	if len(rs) == 0 {
		return nil
	}
	suite.Require().Len(rs, 1, "one binary frame MUST yield at most one reading")
	return rs[0]
}

// frameSpec primes one synthetic frame with raw wire values
type frameSpec struct {
	deviceTime uint32
	sessionID  uint16
	pm1Raw     uint16 // ×10
	pm25Raw    uint16 // ×10
	pm10Raw    uint16 // ×10
	tempRaw    int16  // ×10
	humRaw     uint16 // ×10
	pressure   float32
	battery    byte
	flags      byte
}

func (f frameSpec) bytes() []byte {
	buf := make([]byte, pmscanBaseFrameLen)
	binary.LittleEndian.PutUint32(buf[0:4], f.deviceTime)
	binary.LittleEndian.PutUint16(buf[4:6], f.sessionID)
	binary.LittleEndian.PutUint16(buf[6:8], f.pm1Raw)
	binary.LittleEndian.PutUint16(buf[8:10], f.pm25Raw)
	binary.LittleEndian.PutUint16(buf[10:12], f.pm10Raw)
	binary.LittleEndian.PutUint16(buf[12:14], uint16(f.tempRaw))
	binary.LittleEndian.PutUint16(buf[14:16], f.humRaw)
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(f.pressure))
	buf[20] = f.battery
	buf[21] = f.flags
	return buf
}

func (suite *PMScanDecoderTestSuite) TestKnownFrameDecodesExactly() {
	// GOAL: Verify fixed-point fields land on exact engineering values
	//
	// TEST SCENARIO: Frame with raw pm values 1200/2500/4500, temp 221,
	// humidity 551 → reading carries exactly 120.0/250.0/450.0 µg/m³,
	// 22.1 °C and 55.1 %

	frame := frameSpec{
		deviceTime: 123456,
		sessionID:  7,
		pm1Raw:     1200,
		pm25Raw:    2500,
		pm10Raw:    4500,
		tempRaw:    221,
		humRaw:     551,
		pressure:   1013.25,
		battery:    87,
		flags:      pmscanFlagCharging,
	}.bytes()

	r := suite.decodeOne(frame)
	suite.Require().NotNil(r, "a well-formed frame MUST decode")

	suite.Equal(120.0, r.PM1)
	suite.Equal(250.0, r.PM25)
	suite.Equal(450.0, r.PM10)
	suite.Equal(22.1, r.TemperatureC)
	suite.Equal(55.1, r.RelativeHumidity)
	suite.Require().NotNil(r.PressureHPa)
	suite.InDelta(1013.25, *r.PressureHPa, 0.01)
	suite.Equal(87, r.Battery)
	suite.True(r.Charging, "flag bit0 MUST map to charging")
	suite.Equal(uint32(123456), r.DeviceTime)
	suite.Equal("7", r.SessionID)
	suite.False(r.Timestamp.IsZero(), "the receiver clock MUST stamp the reading")
}

func (suite *PMScanDecoderTestSuite) TestNegativeTemperature() {
	// GOAL: Verify the signed temperature field decodes below zero
	//
	// TEST SCENARIO: Raw temp -155 → -15.5 °C

	frame := frameSpec{tempRaw: -155, humRaw: 400}.bytes()
	r := suite.decodeOne(frame)
	suite.Require().NotNil(r)
	suite.Equal(-15.5, r.TemperatureC)
}

func (suite *PMScanDecoderTestSuite) TestTruncatedFrameIsDropped() {
	// GOAL: Verify short frames never produce a reading
	//
	// TEST SCENARIO: Every length below the base frame → nil

	full := frameSpec{pm1Raw: 10}.bytes()
	for n := 0; n < pmscanBaseFrameLen; n++ {
		suite.Nil(suite.decodeOne(full[:n]), "a %d-byte frame MUST be dropped", n)
	}
}

func (suite *PMScanDecoderTestSuite) TestNonFinitePressureIsHardRejected() {
	// GOAL: Verify non-finite values are treated as corruption, not data
	//
	// TEST SCENARIO: Frame with NaN and Inf pressure → nil reading plus a
	// warning log naming the corrupt frame

	for _, bad := range []float32{float32(math.NaN()), float32(math.Inf(1))} {
		suite.hook.Reset()
		frame := frameSpec{pm1Raw: 50, pm25Raw: 60, pm10Raw: 70, pressure: bad}.bytes()

		suite.Nil(suite.decodeOne(frame), "a non-finite field MUST drop the frame")

		entries := suite.hook.AllEntries()
		suite.Require().NotEmpty(entries, "the drop MUST be logged")
		suite.Equal(logrus.WarnLevel, entries[len(entries)-1].Level)
		suite.Contains(entries[len(entries)-1].Message, "corrupt")
	}
}

func (suite *PMScanDecoderTestSuite) TestImplausibleButFiniteValueIsDeliveredWithWarning() {
	// GOAL: Verify out-of-range finite values warn but still flow
	//
	// TEST SCENARIO: pm2.5 of 1500 µg/m³ (raw 15000) → reading delivered,
	// range warning logged

	frame := frameSpec{pm1Raw: 100, pm25Raw: 15000, pm10Raw: 15000, humRaw: 500}.bytes()
	r := suite.decodeOne(frame)

	suite.Require().NotNil(r, "an extreme but finite reading MUST be delivered")
	suite.Equal(1500.0, r.PM25)

	warned := false
	for _, e := range suite.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	suite.True(warned, "the range violation MUST be logged")
}

func (suite *PMScanDecoderTestSuite) TestZeroPressureMeansNotFitted() {
	// GOAL: Verify the zero pressure sentinel maps to an absent field
	//
	// TEST SCENARIO: pressure 0.0 → PressureHPa nil

	frame := frameSpec{pm1Raw: 10, pm25Raw: 20, pm10Raw: 30, pressure: 0}.bytes()
	r := suite.decodeOne(frame)
	suite.Require().NotNil(r)
	suite.Nil(r.PressureHPa, "pressure 0 MUST mean no sensor fitted")
}

func (suite *PMScanDecoderTestSuite) TestExtendedFrameFields() {
	// GOAL: Verify optional appended blocks decode when present
	//
	// TEST SCENARIO: 30-byte frame adds VOC and particle bins; 34-byte
	// frame adds external temperature and humidity

	base := frameSpec{pm1Raw: 10, pm25Raw: 20, pm10Raw: 30, humRaw: 400}.bytes()

	ext := make([]byte, pmscanExtendedFrameLen)
	copy(ext, base)
	binary.LittleEndian.PutUint16(ext[22:24], 1234) // VOC ×10
	binary.LittleEndian.PutUint16(ext[24:26], 100)
	binary.LittleEndian.PutUint16(ext[26:28], 200)
	binary.LittleEndian.PutUint16(ext[28:30], 300)

	r := suite.decodeOne(ext)
	suite.Require().NotNil(r)
	suite.Require().NotNil(r.VOCIndex)
	suite.Equal(123.4, *r.VOCIndex)
	suite.Equal([]uint16{100, 200, 300}, r.ParticleCounts)
	suite.Nil(r.ExternalTemperatureC, "a 30-byte frame has no external block")

	full := make([]byte, pmscanExternalFrameLen)
	copy(full, ext)
	extTempRaw := int16(-512) // ×100
	binary.LittleEndian.PutUint16(full[30:32], uint16(extTempRaw))
	binary.LittleEndian.PutUint16(full[32:34], 7788) // ×100

	r = suite.decodeOne(full)
	suite.Require().NotNil(r)
	suite.Require().NotNil(r.ExternalTemperatureC)
	suite.Equal(-5.12, *r.ExternalTemperatureC)
	suite.Require().NotNil(r.ExternalHumidity)
	suite.Equal(77.88, *r.ExternalHumidity)
}

func (suite *PMScanDecoderTestSuite) TestBaseFrameHasNoOptionalFields() {
	// GOAL: Verify absence of appended blocks is not an error
	//
	// TEST SCENARIO: 22-byte frame → VOC, bins and external fields all unset

	r := suite.decodeOne(frameSpec{pm1Raw: 10, pm25Raw: 20, pm10Raw: 30}.bytes())
	suite.Require().NotNil(r)
	suite.Nil(r.VOCIndex)
	suite.Nil(r.ParticleCounts)
	suite.Nil(r.ExternalTemperatureC)
	suite.Nil(r.ExternalHumidity)
}
