// Package mib provides the RFC 1213 system group served by every agent.
package mib

import (
	"fmt"
	"time"

	"github.com/geekxflood/common/config"

	"github.com/geekxflood/proteus/internal/oid"
	"github.com/geekxflood/proteus/internal/registry"
)

// System group object identifiers.
const (
	SysDescr    = ".1.3.6.1.2.1.1.1.0"
	SysObjectID = ".1.3.6.1.2.1.1.2.0"
	SysUpTime   = ".1.3.6.1.2.1.1.3.0"
	SysContact  = ".1.3.6.1.2.1.1.4.0"
	SysName     = ".1.3.6.1.2.1.1.5.0"
	SysLocation = ".1.3.6.1.2.1.1.6.0"
	SysServices = ".1.3.6.1.2.1.1.7.0"
)

// DisplayStringSize is the capacity of the writable system strings.
const DisplayStringSize = 255

// SystemConfig holds the initial system group values.
type SystemConfig struct {
	Description string `json:"description"`
	ObjectID    string `json:"object_id"`
	Contact     string `json:"contact"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	Services    int    `json:"services"`
}

// DefaultSystemConfig returns the default system group configuration.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		Description: "Proteus SNMP agent",
		ObjectID:    ".1.3.6.1.4.1.8072.3.2.10",
		Services:    72,
	}
}

// LoadSystemConfig reads the system section from the configuration provider.
func LoadSystemConfig(cfg config.Provider) (*SystemConfig, error) {
	c := DefaultSystemConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Description, err = cfg.GetString("system.description", c.Description); err != nil {
		return nil, fmt.Errorf("failed to get system description: %w", err)
	}
	if c.ObjectID, err = cfg.GetString("system.object_id", c.ObjectID); err != nil {
		return nil, fmt.Errorf("failed to get system object id: %w", err)
	}
	if c.Contact, err = cfg.GetString("system.contact", c.Contact); err != nil {
		return nil, fmt.Errorf("failed to get system contact: %w", err)
	}
	if c.Name, err = cfg.GetString("system.name", c.Name); err != nil {
		return nil, fmt.Errorf("failed to get system name: %w", err)
	}
	if c.Location, err = cfg.GetString("system.location", c.Location); err != nil {
		return nil, fmt.Errorf("failed to get system location: %w", err)
	}
	if c.Services, err = cfg.GetInt("system.services", c.Services); err != nil {
		return nil, fmt.Errorf("failed to get system services: %w", err)
	}

	return c, c.Validate()
}

// Validate checks the configured values against their SMI ranges.
func (c *SystemConfig) Validate() error {
	if !oid.Valid(c.ObjectID) {
		return fmt.Errorf("system.object_id %q is not a valid OID", c.ObjectID)
	}
	if c.Services < 0 || c.Services > 127 {
		return fmt.Errorf("system.services must be between 0 and 127, got %d", c.Services)
	}
	for field, s := range map[string]string{
		"description": c.Description,
		"contact":     c.Contact,
		"name":        c.Name,
		"location":    c.Location,
	} {
		if len(s) > DisplayStringSize {
			return fmt.Errorf("system.%s longer than %d bytes", field, DisplayStringSize)
		}
	}
	return nil
}

// System owns the system group values. It is not safe for concurrent use;
// Tick and the registered accessors run on the dispatch goroutine.
type System struct {
	descr    []byte
	objectID string
	uptime   uint32
	contact  []byte
	name     []byte
	location []byte
	services int32

	started time.Time
	now     func() time.Time
	regs    []*registry.Registration
}

// NewSystem creates the system group from cfg.
func NewSystem(cfg *SystemConfig) *System {
	if cfg == nil {
		cfg = DefaultSystemConfig()
	}

	s := &System{
		descr:    displayString(cfg.Description),
		objectID: oid.Normalize(cfg.ObjectID),
		contact:  displayString(cfg.Contact),
		name:     displayString(cfg.Name),
		location: displayString(cfg.Location),
		services: int32(cfg.Services),
		now:      time.Now,
	}
	s.started = s.now()

	s.regs = []*registry.Registration{
		{OID: SysDescr, OverwritePrefix: true, Accessor: registry.OctetString{Ptr: &s.descr}},
		{OID: SysObjectID, OverwritePrefix: true, Accessor: registry.ObjectIdentifier{Ptr: &s.objectID}},
		{OID: SysUpTime, OverwritePrefix: true, Accessor: registry.TimeTicks{Ptr: &s.uptime}},
		{OID: SysContact, OverwritePrefix: true, Settable: true, Accessor: registry.OctetString{Ptr: &s.contact}},
		{OID: SysName, OverwritePrefix: true, Settable: true, Accessor: registry.OctetString{Ptr: &s.name}},
		{OID: SysLocation, OverwritePrefix: true, Settable: true, Accessor: registry.OctetString{Ptr: &s.location}},
		{OID: SysServices, OverwritePrefix: true, Accessor: registry.Integer{Ptr: &s.services}},
	}
	return s
}

func displayString(s string) []byte {
	if len(s) > DisplayStringSize {
		s = s[:DisplayStringSize]
	}
	return append(make([]byte, 0, DisplayStringSize), s...)
}

// Register adds the system group to reg. The group uses absolute OIDs and
// ignores the registry prefix.
func (s *System) Register(reg *registry.Registry) error {
	for i, r := range s.regs {
		if err := reg.Add(r); err != nil {
			for _, added := range s.regs[:i] {
				reg.Remove(added)
			}
			return fmt.Errorf("failed to register %s: %w", r.OID, err)
		}
	}
	return nil
}

// Registrations returns the system group registrations.
func (s *System) Registrations() []*registry.Registration {
	return s.regs
}

// Tick refreshes sysUpTime in hundredths of a second. The counter wraps
// after about 497 days.
func (s *System) Tick() {
	s.uptime = uint32(s.now().Sub(s.started) / (10 * time.Millisecond))
}

// Uptime returns the last computed sysUpTime.
func (s *System) Uptime() uint32 {
	return s.uptime
}

// Contact returns sysContact.
func (s *System) Contact() string { return string(s.contact) }

// Name returns sysName.
func (s *System) Name() string { return string(s.name) }

// Location returns sysLocation.
func (s *System) Location() string { return string(s.location) }
