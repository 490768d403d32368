package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// ProfileTestSuite tests family profiles and the registry
type ProfileTestSuite struct {
	suite.Suite
}

func TestProfileTestSuite(t *testing.T) {
	suite.Run(t, new(ProfileTestSuite))
}

type fakeAdv struct {
	name     string
	services []string
}

func (a fakeAdv) LocalName() string              { return a.name }
func (a fakeAdv) Addr() string                   { return "aa:bb:cc:dd:ee:ff" }
func (a fakeAdv) RSSI() int                      { return -55 }
func (a fakeAdv) TxPowerLevel() int              { return 0 }
func (a fakeAdv) Connectable() bool              { return true }
func (a fakeAdv) Services() []string             { return a.services }
func (a fakeAdv) ManufacturerData() []byte       { return nil }
func (a fakeAdv) ServiceData() map[string][]byte { return nil }

var _ transport.Advertisement = fakeAdv{}

func (suite *ProfileTestSuite) TestBuiltinsAreValid() {
	// GOAL: Verify the shipped profiles satisfy their own invariants
	//
	// TEST SCENARIO: PMScan and AirBeam → Validate passes, data role bound,
	// data is critical

	for _, p := range []*Profile{PMScan(), AirBeam()} {
		suite.NoError(p.Validate(), "built-in %s MUST validate", p.Family)
		suite.NotEmpty(p.CharacteristicUUID(RoleData))
		suite.True(p.IsCritical(RoleData), "the data stream MUST be critical")
	}

	suite.False(PMScan().IsCritical(RoleBattery),
		"battery MUST be non-critical so its loss only degrades")
}

func (suite *ProfileTestSuite) TestMatchesByNameOrService() {
	// GOAL: Verify family matching accepts either signal
	//
	// TEST SCENARIO: Name prefix only, advertised service only, neither →
	// match, match, no match

	p := PMScan()
	suite.True(p.Matches(fakeAdv{name: "PMScan-0042"}))
	suite.True(p.Matches(fakeAdv{services: []string{PMScanServiceUUID}}))
	suite.False(p.Matches(fakeAdv{name: "AirBeam3"}))
}

func (suite *ProfileTestSuite) TestRegistryMatchOrder() {
	// GOAL: Verify the first registered family wins an ambiguous match
	//
	// TEST SCENARIO: Advertisement matching a custom catch-all profile
	// registered after the built-ins → built-in still wins for its devices

	r := NewRegistry()
	r.Register(&Profile{
		Family:       "catchall",
		NamePrefixes: []string{"PMScan", "AirBeam"},
		Discovery:    DiscoveryStrategy{FallbackEnumerate: true},
		Characteristics: map[Role]string{
			RoleData: "ffe1",
		},
		Decoder: "airbeam-lines",
	})

	match := r.Match(fakeAdv{name: "PMScan-7"})
	suite.Require().NotNil(match)
	suite.Equal("pmscan", match.Family, "registration order MUST break ties")

	suite.Nil(r.Match(fakeAdv{name: "FitnessTracker"}))
}

func (suite *ProfileTestSuite) TestRegistryLookupAndAll() {
	// GOAL: Verify lookup and enumeration reflect registration
	//
	// TEST SCENARIO: Fresh registry → both built-ins present, in order

	r := NewRegistry()
	suite.NotNil(r.Lookup("pmscan"))
	suite.NotNil(r.Lookup("airbeam"))
	suite.Nil(r.Lookup("nonexistent"))

	all := r.All()
	suite.Require().Len(all, 2)
	suite.Equal("pmscan", all[0].Family)
	suite.Equal("airbeam", all[1].Family)
}

func (suite *ProfileTestSuite) TestLoadOverridesReplacesBuiltin() {
	// GOAL: Verify YAML overrides can repoint a family at new UUIDs
	//
	// TEST SCENARIO: Override doc replacing the pmscan data characteristic →
	// registry serves the override, other families untouched

	doc := `
profiles:
  - family: pmscan
    name_prefixes: ["PMScan"]
    discovery:
      service_candidates: ["f3649900-00b0-4240-ba50-05ca45bf8abc"]
      fallback_enumerate: true
    characteristics:
      data: "f3649901-00b0-4240-ba50-05ca45bf8abc"
    critical_roles: ["data"]
    decoder: pmscan-binary
`
	r := NewRegistry()
	suite.Require().NoError(r.LoadOverrides(strings.NewReader(doc)))

	p := r.Lookup("pmscan")
	suite.Require().NotNil(p)
	suite.Equal("f3649901-00b0-4240-ba50-05ca45bf8abc", p.CharacteristicUUID(RoleData))
	suite.Len(r.All(), 2, "overriding MUST not duplicate the family")
}

func (suite *ProfileTestSuite) TestLoadOverridesRejectsInvalidProfile() {
	// GOAL: Verify broken overrides are refused before they can break discovery
	//
	// TEST SCENARIO: Override without a data characteristic → error, built-in
	// remains active

	doc := `
profiles:
  - family: pmscan
    discovery:
      fallback_enumerate: true
    decoder: pmscan-binary
`
	r := NewRegistry()
	suite.Error(r.LoadOverrides(strings.NewReader(doc)))
	suite.Equal(PMScanDataUUID, r.Lookup("pmscan").CharacteristicUUID(RoleData),
		"a rejected override MUST leave the built-in untouched")
}

func (suite *ProfileTestSuite) TestValidateErrors() {
	// GOAL: Verify each consistency rule is enforced
	//
	// TEST SCENARIO: Profiles missing one required piece at a time → error

	valid := func() *Profile {
		return &Profile{
			Family:    "test",
			Discovery: DiscoveryStrategy{ServiceCandidates: []string{"ffe0"}},
			Characteristics: map[Role]string{
				RoleData: "ffe1",
			},
			CriticalRoles: []Role{RoleData},
			Decoder:       "airbeam-lines",
		}
	}

	suite.NoError(valid().Validate())

	p := valid()
	p.Family = ""
	suite.Error(p.Validate(), "family MUST be required")

	p = valid()
	p.Discovery = DiscoveryStrategy{}
	suite.Error(p.Validate(), "discovery MUST need candidates or the fallback")

	p = valid()
	delete(p.Characteristics, RoleData)
	suite.Error(p.Validate(), "the data characteristic MUST be required")

	p = valid()
	p.Decoder = ""
	suite.Error(p.Validate(), "the decoder MUST be required")

	p = valid()
	p.CriticalRoles = []Role{RoleBattery}
	suite.Error(p.Validate(), "critical roles MUST have a characteristic bound")
}
