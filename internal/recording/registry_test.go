package recording

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
)

// RegistryTestSuite tests recording state tracking and the reconnection watchdog
type RegistryTestSuite struct {
	suite.Suite
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

// fakeReconnector scripts a session for the watchdog
type fakeReconnector struct {
	connected    atomic.Bool
	reconnects   atomic.Int32
	reconnectErr error
}

func (f *fakeReconnector) IsConnected() bool { return f.connected.Load() }

func (f *fakeReconnector) Reconnect(ctx context.Context) error {
	f.reconnects.Add(1)
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.connected.Store(true)
	return nil
}

func (suite *RegistryTestSuite) newRegistry() *Registry {
	logger, _ := test.NewNullLogger()
	return NewRegistry(logger, WithReconnectInterval(10*time.Millisecond))
}

func (suite *RegistryTestSuite) TestActiveIsUnionOfFlags() {
	// GOAL: Verify foreground and background recording are independent flags
	//
	// TEST SCENARIO: Toggle each flag alone and together → Active is their union

	r := suite.newRegistry()
	suite.False(r.Active())

	r.SetForeground(true)
	suite.True(r.Active())

	r.SetBackground(true)
	r.SetForeground(false)
	suite.True(r.Active(), "background alone MUST keep recording active")

	r.SetBackground(false)
	suite.False(r.Active())
}

func (suite *RegistryTestSuite) TestWatchdogRevivesDeadSessions() {
	// GOAL: Verify an active recording drives reconnection of a dead link
	//
	// TEST SCENARIO: Attached disconnected session, foreground recording on →
	// Reconnect called until the session reports connected, then no more

	r := suite.newRegistry()
	f := &fakeReconnector{}
	detach := r.Attach(f)
	defer detach()

	r.SetForeground(true)
	defer r.SetForeground(false)

	suite.Eventually(func() bool { return f.IsConnected() },
		time.Second, 5*time.Millisecond, "the watchdog MUST revive the session")
	suite.GreaterOrEqual(f.reconnects.Load(), int32(1))

	// A connected session is left alone
	before := f.reconnects.Load()
	time.Sleep(50 * time.Millisecond)
	suite.Equal(before, f.reconnects.Load(), "connected sessions MUST not be probed further")
}

func (suite *RegistryTestSuite) TestNoRecordingMeansNoReconnection() {
	// GOAL: Verify the watchdog only runs while a recording is active
	//
	// TEST SCENARIO: Disconnected session attached, no recording → zero
	// Reconnect calls

	r := suite.newRegistry()
	f := &fakeReconnector{}
	detach := r.Attach(f)
	defer detach()

	time.Sleep(60 * time.Millisecond)
	suite.Zero(f.reconnects.Load(), "no recording MUST mean no reconnection attempts")
}

func (suite *RegistryTestSuite) TestReconnectFailuresAreRetriedNotFatal() {
	// GOAL: Verify reconnect errors are swallowed and retried on the next tick
	//
	// TEST SCENARIO: Session whose Reconnect always fails → multiple attempts
	// accumulate, nothing panics or stops

	r := suite.newRegistry()
	f := &fakeReconnector{reconnectErr: errors.New("radio is sulking")}
	detach := r.Attach(f)
	defer detach()

	r.SetForeground(true)
	defer r.SetForeground(false)

	suite.Eventually(func() bool { return f.reconnects.Load() >= 3 },
		time.Second, 5*time.Millisecond, "failures MUST be retried on subsequent ticks")
}

func (suite *RegistryTestSuite) TestDetachStopsProbing() {
	// GOAL: Verify a detached session is no longer the watchdog's business
	//
	// TEST SCENARIO: Detach while recording → attempt counter stops moving

	r := suite.newRegistry()
	f := &fakeReconnector{reconnectErr: errors.New("always down")}
	detach := r.Attach(f)

	r.SetForeground(true)
	defer r.SetForeground(false)

	suite.Eventually(func() bool { return f.reconnects.Load() >= 1 },
		time.Second, 5*time.Millisecond)

	detach()
	detach() // idempotent

	settled := f.reconnects.Load()
	time.Sleep(50 * time.Millisecond)
	// One in-flight probe may still land; the counter must then stop
	suite.LessOrEqual(f.reconnects.Load(), settled+1,
		"detached sessions MUST not keep being probed")
}

func (suite *RegistryTestSuite) TestStopAndRestartWatchdog() {
	// GOAL: Verify the watchdog can be cycled with the recording flags
	//
	// TEST SCENARIO: Recording on, off, on again → probing resumes after
	// the second start

	r := suite.newRegistry()
	f := &fakeReconnector{reconnectErr: errors.New("down")}
	detach := r.Attach(f)
	defer detach()

	r.SetForeground(true)
	suite.Eventually(func() bool { return f.reconnects.Load() >= 1 }, time.Second, 5*time.Millisecond)
	r.SetForeground(false)

	count := f.reconnects.Load()
	time.Sleep(50 * time.Millisecond)
	suite.LessOrEqual(f.reconnects.Load(), count+1)

	r.SetBackground(true)
	defer r.SetBackground(false)
	suite.Eventually(func() bool { return f.reconnects.Load() >= count+2 },
		time.Second, 5*time.Millisecond, "probing MUST resume when recording restarts")
}
