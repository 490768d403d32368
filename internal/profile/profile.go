// Package profile describes each supported device family as configuration:
// GATT identifiers, a service discovery strategy, characteristic roles with
// their criticality, decoder selection and clock epoch. Exact byte offsets
// and UUIDs vary between hardware revisions, so they live here rather than
// in control flow; a new revision is a new profile, not a code change.
package profile

import (
	"fmt"
	"io"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// Role identifies what a characteristic is for, independent of its UUID
type Role string

const (
	RoleData     Role = "data"     // primary measurement notifications (critical)
	RoleIMData   Role = "im_data"  // secondary/in-memory data notifications
	RoleBattery  Role = "battery"  // battery level, read + push
	RoleCharging Role = "charging" // charging state push
	RoleMode     Role = "mode"     // operating mode byte, read/write
	RoleInterval Role = "interval" // sampling interval, read/write
	RoleFirmware Role = "firmware" // firmware version string, read
	RoleDisplay  Role = "display"  // display configuration blob, read
	RoleClock    Role = "clock"    // device clock, read/write, custom epoch
)

// NotifyRoles are the roles the initializer subscribes to, in a fixed order
var NotifyRoles = []Role{RoleData, RoleIMData, RoleBattery, RoleCharging}

// StaticRoles are read sequentially during initialization, in this order
var StaticRoles = []Role{RoleBattery, RoleFirmware, RoleMode, RoleInterval, RoleDisplay}

// DiscoveryStrategy is an ordered list of candidate service UUIDs plus an
// optional enumerate-everything fallback. Candidates are tried in order;
// with FallbackEnumerate set, a service containing the data characteristic
// is accepted even under an unknown UUID (exploratory hardware revisions).
type DiscoveryStrategy struct {
	ServiceCandidates []string `yaml:"service_candidates"`
	FallbackEnumerate bool     `yaml:"fallback_enumerate"`
}

// Profile is the complete wire-level description of one device family
type Profile struct {
	Family       string   `yaml:"family"`
	NamePrefixes []string `yaml:"name_prefixes"`

	Discovery       DiscoveryStrategy `yaml:"discovery"`
	Characteristics map[Role]string   `yaml:"characteristics"`
	CriticalRoles   []Role            `yaml:"critical_roles"`

	// Decoder selects the payload decoder: "pmscan-binary" or "airbeam-lines"
	Decoder string `yaml:"decoder"`

	// ClockEpoch is the zero point of the device's custom epoch. Zero value
	// means the family has no settable clock.
	ClockEpoch time.Time `yaml:"clock_epoch"`

	// AcquisitionMode is the mode byte the device must run in to stream
	// measurements; initialization writes it when the mode register reads
	// back as anything else. Zero means the family has no managed mode.
	AcquisitionMode byte `yaml:"acquisition_mode"`

	// DisconnectBit is OR-ed into the mode byte to command a device-side
	// disconnect. Zero means the family has no disconnect command.
	DisconnectBit byte `yaml:"disconnect_bit"`

	SupportsPressure bool `yaml:"supports_pressure"`
	SupportsTVOC     bool `yaml:"supports_tvoc"`
}

// CharacteristicUUID returns the UUID bound to role, or "" when the family
// has no characteristic for it.
func (p *Profile) CharacteristicUUID(role Role) string {
	return p.Characteristics[role]
}

// IsCritical reports whether a failed subscription on role must abort
// initialization rather than degrade it.
func (p *Profile) IsCritical(role Role) bool {
	for _, r := range p.CriticalRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Matches reports whether an advertisement looks like this family, by
// advertised service UUID or local-name prefix.
func (p *Profile) Matches(adv transport.Advertisement) bool {
	filter := transport.ScanFilter{
		NamePrefixes: p.NamePrefixes,
		ServiceUUIDs: p.Discovery.ServiceCandidates,
	}
	if len(filter.NamePrefixes) == 0 && len(filter.ServiceUUIDs) == 0 {
		return false
	}
	return filter.Match(adv)
}

// Validate checks internal consistency
func (p *Profile) Validate() error {
	if p.Family == "" {
		return fmt.Errorf("profile family is required")
	}
	if len(p.Discovery.ServiceCandidates) == 0 && !p.Discovery.FallbackEnumerate {
		return fmt.Errorf("profile %s: discovery needs service candidates or fallback enumerate", p.Family)
	}
	if p.Characteristics[RoleData] == "" {
		return fmt.Errorf("profile %s: data characteristic is required", p.Family)
	}
	if p.Decoder == "" {
		return fmt.Errorf("profile %s: decoder is required", p.Family)
	}
	for _, role := range p.CriticalRoles {
		if p.Characteristics[role] == "" {
			return fmt.Errorf("profile %s: critical role %s has no characteristic", p.Family, role)
		}
	}
	return nil
}

// Registry holds profiles in registration order; earlier registrations win
// when an advertisement matches several families.
type Registry struct {
	profiles *orderedmap.OrderedMap[string, *Profile]
}

// NewRegistry creates a registry pre-populated with the built-in families
func NewRegistry() *Registry {
	r := &Registry{profiles: orderedmap.New[string, *Profile]()}
	r.Register(PMScan())
	r.Register(AirBeam())
	return r
}

// Register adds or replaces a profile
func (r *Registry) Register(p *Profile) {
	r.profiles.Set(p.Family, p)
}

// Lookup returns the profile for family, or nil
func (r *Registry) Lookup(family string) *Profile {
	p, _ := r.profiles.Get(family)
	return p
}

// Match returns the first registered profile matching the advertisement
func (r *Registry) Match(adv transport.Advertisement) *Profile {
	for pair := r.profiles.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Matches(adv) {
			return pair.Value
		}
	}
	return nil
}

// All returns every profile in registration order
func (r *Registry) All() []*Profile {
	out := make([]*Profile, 0, r.profiles.Len())
	for pair := r.profiles.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// LoadOverrides reads YAML profile definitions (a list under "profiles")
// and registers them, replacing built-ins with the same family name. Used
// to adjust UUIDs or offsets once confirmed against real hardware.
func (r *Registry) LoadOverrides(src io.Reader) error {
	var doc struct {
		Profiles []*Profile `yaml:"profiles"`
	}
	dec := yaml.NewDecoder(src)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to parse profile overrides: %w", err)
	}
	for _, p := range doc.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		r.Register(p)
	}
	return nil
}
