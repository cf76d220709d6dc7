package npdu

// Membership answers group and address queries against the receiving
// node's configuration; the network layer consults it rather than owning
// address/group state itself, so that npdu stays a pure framing package.
type Membership interface {
	// GroupMember reports whether the node belongs to group on the
	// given domain, and if so its member index within the group.
	GroupMember(domain DomainIndex, group uint8) (member uint8, ok bool)
	// Subnet and Node report the node's own address on the given
	// domain, as resolved from the domain table (0, 0 for flex).
	SubnetNode(domain DomainIndex) (subnet, node uint8)
	// UID returns the node's 48-bit unique identifier.
	UID() [6]byte
	// Configured reports whether the node has been commissioned with a
	// subnet/node address (as opposed to running unconfigured, only
	// reachable by broadcast or unique-ID).
	Configured() bool
}

// Accept applies the section 4.B receive filter, in order, to an inbound
// packet already resolved to a domain index (FlexDomain when the packet's
// domain ID matched none of the local entries). It returns false the
// moment any rule rejects the packet.
func Accept(h *Header, m Membership) bool {
	subnet, node := m.SubnetNode(h.Domain)

	// 1. Drop if source equals this node on the resolved domain
	// (loopback of our own packet via a repeater).
	if h.Domain != FlexDomain && h.SourceSubnet == subnet && h.SourceNode == node {
		return false
	}

	switch h.Dest.Format {
	case FmtBroadcast:
		if h.Dest.Subnet != 0 && h.Dest.Subnet != subnet {
			return false
		}
	case FmtMulticast:
		if _, ok := m.GroupMember(h.Domain, h.Dest.Group); !ok {
			return false
		}
	case FmtSubnetNode:
		if h.Dest.Selector {
			if h.Dest.Subnet != subnet || h.Dest.Node != node {
				return false
			}
		} else {
			if h.Dest.Subnet != subnet || h.Dest.Node != node {
				return false
			}
			if _, ok := m.GroupMember(h.Domain, h.Dest.Group); !ok {
				return false
			}
		}
	case FmtUniqueID:
		if h.Dest.UID != m.UID() {
			return false
		}
	default:
		return false
	}

	if !m.Configured() {
		if h.Dest.Format != FmtBroadcast && h.Dest.Format != FmtUniqueID {
			return false
		}
	} else if h.Domain == FlexDomain {
		if h.Dest.Format != FmtUniqueID {
			return false
		}
	}

	return true
}
