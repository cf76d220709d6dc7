// Package lon implements the device-side control-network stack: a
// single-threaded, tick-driven node combining network-layer framing,
// transaction-ID allocation, transport/session/authentication, and a USB
// link driver into one cooperatively scheduled unit.
//
// Callers drive the stack by calling Init once and Service on every tick;
// nothing in the package blocks, sleeps, or spawns goroutines internally.
package lon

import (
	"github.com/enocean-oss/lon-core/npdu"
)

// State is the node's overall commissioning/health state.
type State uint8

const (
	StateAppUnconfig State = iota
	StateConfigured
	StateHardOffline
)

// ResetCause records why the most recent reset occurred, persisted across
// power cycles for diagnostics.
type ResetCause uint8

const (
	ResetCleared ResetCause = iota
	ResetPowerUp
	ResetExternal
	ResetWatchdog
	ResetSoftware
)

// Config is the node's mutable network configuration: domain table,
// address table, and identity. The checksum is computed from fields of
// this struct only (see checksum), never from read-only attributes such as
// the program ID or hardware version.
type Config struct {
	Domains   npdu.DomainTable
	Addresses npdu.AddressTable
	State     State
	UID       [6]byte
}

// checksum computes a simple multiply-and-add hash over the mutable
// configuration. It covers each domain entry's ID bytes, subnet, node and
// invalid flag, each address entry's kind, subnet, node and group, and
// State. Other fields (domain keys, auth type and clone flag, address
// entry domain, member, group size, timers and flags, and UID) are not
// covered, so changing them leaves the checksum unchanged.
func (c *Config) checksum() uint16 {
	var sum uint16
	add := func(b byte) { sum = sum*31 + uint16(b) }

	for _, d := range c.Domains {
		for i := 0; i < int(d.ID.Len); i++ {
			add(d.ID.Bytes[i])
		}
		add(d.Subnet)
		add(d.Node)
		if d.Invalid {
			add(1)
		}
	}
	for _, a := range c.Addresses {
		add(byte(a.Kind))
		add(a.Subnet)
		add(a.Node)
		add(a.Group)
	}
	add(byte(c.State))
	return sum
}

// Membership implements npdu.Membership against this node's configuration,
// so the network layer's receive filter can be driven without depending
// on this package.
type Membership struct {
	cfg *Config
}

func (m Membership) GroupMember(domain npdu.DomainIndex, group uint8) (uint8, bool) {
	for _, a := range m.cfg.Addresses {
		if a.Kind == npdu.AddrGroup && a.Domain == domain && a.Group == group {
			return a.Member, true
		}
	}
	return 0, false
}

func (m Membership) SubnetNode(domain npdu.DomainIndex) (uint8, uint8) {
	if domain == npdu.FlexDomain {
		return 0, 0
	}
	e := m.cfg.Domains.Resolve(domain)
	return e.Subnet, e.Node
}

func (m Membership) UID() [6]byte { return m.cfg.UID }

func (m Membership) Configured() bool { return m.cfg.State == StateConfigured }
