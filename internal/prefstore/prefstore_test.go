package prefstore

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
)

// PrefStoreTestSuite tests the SQLite-backed preferred-device store
type PrefStoreTestSuite struct {
	suite.Suite

	store *Store
}

func TestPrefStoreTestSuite(t *testing.T) {
	suite.Run(t, new(PrefStoreTestSuite))
}

func (suite *PrefStoreTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	store, err := Open(logger, ":memory:")
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *PrefStoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *PrefStoreTestSuite) TestPutAndGetRoundtrip() {
	// GOAL: Verify a remembered device reads back intact
	//
	// TEST SCENARIO: Put one record → Get returns every field

	ctx := context.Background()
	at := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.store.Put(ctx, Record{
		Family:          "pmscan",
		DeviceID:        "aa:bb:cc:dd:ee:ff",
		DisplayName:     "PMScan-7",
		LastConnectedAt: at,
	}))

	rec, err := suite.store.Get(ctx, "pmscan")
	suite.Require().NoError(err)
	suite.Require().NotNil(rec)
	suite.Equal("pmscan", rec.Family)
	suite.Equal("aa:bb:cc:dd:ee:ff", rec.DeviceID)
	suite.Equal("PMScan-7", rec.DisplayName)
	suite.True(rec.LastConnectedAt.Equal(at))
}

func (suite *PrefStoreTestSuite) TestGetMissingFamilyIsNilNotError() {
	// GOAL: Verify an unknown family is an absence, not a failure
	//
	// TEST SCENARIO: Get on an empty store → nil record, nil error

	rec, err := suite.store.Get(context.Background(), "airbeam")
	suite.NoError(err)
	suite.Nil(rec)
}

func (suite *PrefStoreTestSuite) TestPutUpsertsPerFamily() {
	// GOAL: Verify each family keeps exactly one remembered device
	//
	// TEST SCENARIO: Two Puts for the same family → the second wins, other
	// families untouched

	ctx := context.Background()
	suite.Require().NoError(suite.store.Put(ctx, Record{Family: "pmscan", DeviceID: "aa:01"}))
	suite.Require().NoError(suite.store.Put(ctx, Record{Family: "airbeam", DeviceID: "bb:01"}))
	suite.Require().NoError(suite.store.Put(ctx, Record{Family: "pmscan", DeviceID: "aa:02", DisplayName: "PMScan-new"}))

	rec, err := suite.store.Get(ctx, "pmscan")
	suite.Require().NoError(err)
	suite.Equal("aa:02", rec.DeviceID, "the later device MUST replace the earlier one")
	suite.Equal("PMScan-new", rec.DisplayName)

	other, err := suite.store.Get(ctx, "airbeam")
	suite.Require().NoError(err)
	suite.Equal("bb:01", other.DeviceID)
}

func (suite *PrefStoreTestSuite) TestPutValidatesRequiredFields() {
	// GOAL: Verify incomplete records are refused
	//
	// TEST SCENARIO: Missing family or device id → error

	ctx := context.Background()
	suite.Error(suite.store.Put(ctx, Record{DeviceID: "aa:01"}))
	suite.Error(suite.store.Put(ctx, Record{Family: "pmscan"}))
}

func (suite *PrefStoreTestSuite) TestForget() {
	// GOAL: Verify forgetting removes only the named family
	//
	// TEST SCENARIO: Two families stored, one forgotten → gone; forgetting
	// again is harmless

	ctx := context.Background()
	suite.Require().NoError(suite.store.Put(ctx, Record{Family: "pmscan", DeviceID: "aa:01"}))
	suite.Require().NoError(suite.store.Put(ctx, Record{Family: "airbeam", DeviceID: "bb:01"}))

	suite.Require().NoError(suite.store.Forget(ctx, "pmscan"))
	rec, err := suite.store.Get(ctx, "pmscan")
	suite.NoError(err)
	suite.Nil(rec)

	other, err := suite.store.Get(ctx, "airbeam")
	suite.Require().NoError(err)
	suite.NotNil(other)

	suite.NoError(suite.store.Forget(ctx, "pmscan"))
}

func (suite *PrefStoreTestSuite) TestSessionAndScanInterfaces() {
	// GOAL: Verify the interface adapters round-trip through the store
	//
	// TEST SCENARIO: Remember → Preferred reports the device; unknown
	// family → not ok

	ctx := context.Background()
	suite.Require().NoError(suite.store.Remember(ctx, "pmscan", "aa:01", "PMScan-7"))

	deviceID, ok, err := suite.store.Preferred(ctx, "pmscan")
	suite.Require().NoError(err)
	suite.True(ok)
	suite.Equal("aa:01", deviceID)

	_, ok, err = suite.store.Preferred(ctx, "airbeam")
	suite.NoError(err)
	suite.False(ok)
}
