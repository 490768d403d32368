package adapter

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/reading"
	"github.com/david-ria/pmscanv2-sub000/internal/session"
	"github.com/david-ria/pmscanv2-sub000/internal/statemachine"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
	"github.com/david-ria/pmscanv2-sub000/internal/transport/transporttest"
)

const testAddress = "aa:bb:cc:dd:ee:ff"

// AdapterTestSuite smoke-tests the assembled connection layer end to end
type AdapterTestSuite struct {
	suite.Suite
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

func pmscanPeripheral() *transporttest.Peripheral {
	return transporttest.NewPeripheralBuilder(testAddress).
		Service(profile.PMScanServiceUUID).
		NotifyChar(profile.PMScanDataUUID).
		NotifyChar(profile.PMScanIMDataUUID).
		Char(profile.PMScanBatteryUUID, transport.PropRead|transport.PropNotify, []byte{87}).
		NotifyChar(profile.PMScanChargingUUID).
		ReadWriteChar(profile.PMScanModeUUID, []byte{0x01}).
		ReadChar(profile.PMScanIntervalUUID, []byte{10, 0}).
		ReadChar(profile.PMScanDisplayUUID, nil).
		ReadWriteChar(profile.PMScanClockUUID, []byte{0, 0, 0, 0}).
		ReadChar(profile.PMScanFirmwareUUID, []byte("2.4.1")).
		Build()
}

func pmscanFrame(pm25Raw uint16) []byte {
	buf := make([]byte, 22)
	binary.LittleEndian.PutUint16(buf[6:8], 40)
	binary.LittleEndian.PutUint16(buf[8:10], pm25Raw)
	binary.LittleEndian.PutUint16(buf[10:12], pm25Raw+50)
	binary.LittleEndian.PutUint16(buf[12:14], 215)
	binary.LittleEndian.PutUint16(buf[14:16], 450)
	buf[20] = 80
	return buf
}

func (suite *AdapterTestSuite) TestFullLifecycle() {
	// GOAL: Verify the assembled layer goes from connect to live reading and
	// back down
	//
	// TEST SCENARIO: Connect by address, initialize, push a frame →
	// LiveReading set; disconnect → Idle and the reading cleared

	logger, _ := test.NewNullLogger()
	tr := transporttest.NewTransport()
	p := pmscanPeripheral()
	tr.AddPeripheral(p)

	readings := make(chan *reading.Reading, 1)
	a, err := NewPMScan(Deps{
		Logger:    logger,
		Transport: tr,
		Callbacks: session.Callbacks{
			OnReading: func(r *reading.Reading) {
				select {
				case readings <- r:
				default:
				}
			},
		},
	})
	suite.Require().NoError(err)
	defer a.Close(context.Background())

	suite.Equal("pmscan", a.Family())
	suite.True(a.SupportsPressure())
	suite.True(a.SupportsTVOC())
	suite.Nil(a.LiveReading())

	ctx := context.Background()
	suite.Require().NoError(a.Connect(ctx, testAddress))
	suite.Require().NoError(a.InitializeNotifications(ctx))
	suite.Equal(statemachine.StateConnected, a.State())
	suite.Equal(87, a.DeviceState().Battery)
	suite.Equal(1, tr.ConnectCount())

	suite.Require().True(p.Service(profile.PMScanServiceUUID).
		Char(profile.PMScanDataUUID).Notify(pmscanFrame(123)))
	select {
	case r := <-readings:
		suite.Equal(12.3, r.PM25)
	case <-time.After(time.Second):
		suite.Fail("reading never arrived")
	}
	suite.Require().NotNil(a.LiveReading())
	suite.Equal(12.3, a.LiveReading().PM25)

	suite.True(a.Disconnect(ctx, false))
	suite.Equal(statemachine.StateIdle, a.State())
	suite.Nil(a.LiveReading(), "disconnecting MUST clear the live reading")
}

func (suite *AdapterTestSuite) TestAirBeamAdapterCapabilities() {
	// GOAL: Verify family capabilities surface through the adapter
	//
	// TEST SCENARIO: AirBeam adapter → no pressure, no VOC

	logger, _ := test.NewNullLogger()
	a, err := NewAirBeam(Deps{Logger: logger, Transport: transporttest.NewTransport()})
	suite.Require().NoError(err)
	defer a.Close(context.Background())

	suite.Equal("airbeam", a.Family())
	suite.False(a.SupportsPressure())
	suite.False(a.SupportsTVOC())
}

func (suite *AdapterTestSuite) TestExternalBatteryUpdates() {
	// GOAL: Verify platform-sourced battery values reach the state cache
	//
	// TEST SCENARIO: UpdateBattery and UpdateCharging → snapshot reflects both

	logger, _ := test.NewNullLogger()
	a, err := NewPMScan(Deps{Logger: logger, Transport: transporttest.NewTransport()})
	suite.Require().NoError(err)
	defer a.Close(context.Background())

	a.UpdateBattery(42)
	a.UpdateCharging(true)
	snap := a.DeviceState()
	suite.Equal(42, snap.Battery)
	suite.True(snap.Charging)
}

func (suite *AdapterTestSuite) TestRequiresTransport() {
	// GOAL: Verify assembly fails loudly without a transport
	//
	// TEST SCENARIO: Nil transport → constructor error

	_, err := NewPMScan(Deps{})
	suite.Error(err)
}
