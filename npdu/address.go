package npdu

// AddrFormat is the 2-bit destination address format field of the NPDU
// header. Format 2 is shared between the subnet/node and multicast-ack
// shapes, disambiguated by the selector bit carried in the top bit of the
// node byte — see Dest.Selector.
type AddrFormat uint8

const (
	FmtBroadcast AddrFormat = 0
	FmtMulticast AddrFormat = 1
	FmtSubnetNode AddrFormat = 2 // or multicast-ack, see Dest.Selector
	FmtUniqueID  AddrFormat = 3
)

func (f AddrFormat) String() string {
	switch f {
	case FmtBroadcast:
		return "broadcast"
	case FmtMulticast:
		return "multicast"
	case FmtSubnetNode:
		return "subnet/node"
	case FmtUniqueID:
		return "unique-id"
	default:
		return "invalid"
	}
}

// Dest is the discriminated union of destination address shapes a network
// layer packet can carry, plus the pseudo-shape Turnaround used when a
// node addresses a reply back to itself without re-resolving through the
// address table (supplemental to the base spec; see the design notes on
// turnaround addressing).
type Dest struct {
	Format AddrFormat

	// Turnaround marks a locally looped-back destination: the reply path
	// for an incoming request, bypassing subnet/node/group resolution
	// entirely. When set, Header.Append returns an error instead of
	// encoding the destination.
	Turnaround bool

	Subnet uint8 // broadcast, subnet/node, unique-id
	Node   uint8 // subnet/node (1..127)
	Group  uint8 // multicast, multicast-ack

	// Selector distinguishes, for FmtSubnetNode, a plain subnet/node
	// destination (true) from a multicast-ack turnaround response
	// (false) per the top bit of the node byte (the second address byte).
	Selector bool

	// Member is the group member index, used only for multicast-ack so
	// the acknowledging node can report its position for group
	// completion accounting.
	Member uint8

	UID [6]byte // unique-id
}

// Broadcast builds a subnet-wide (subnet != 0) or domain-wide (subnet == 0)
// broadcast destination.
func Broadcast(subnet uint8) Dest {
	return Dest{Format: FmtBroadcast, Subnet: subnet}
}

// Multicast builds a group destination.
func Multicast(group uint8) Dest {
	return Dest{Format: FmtMulticast, Group: group}
}

// SubnetNode builds an explicit subnet/node destination.
func SubnetNode(subnet, node uint8) Dest {
	return Dest{Format: FmtSubnetNode, Subnet: subnet, Node: node, Selector: true}
}

// MulticastAck builds the reply-address shape a group member uses to
// acknowledge back to the group's originator.
func MulticastAck(subnet, node, group, member uint8) Dest {
	return Dest{Format: FmtSubnetNode, Subnet: subnet, Node: node, Group: group, Member: member, Selector: false}
}

// UniqueID builds a neuron-ID destination, used only before a node has been
// commissioned onto a subnet/node address.
func UniqueID(subnet uint8, uid [6]byte) Dest {
	return Dest{Format: FmtUniqueID, Subnet: subnet, UID: uid}
}

// AddrEntryKind discriminates the address table's tagged union.
type AddrEntryKind uint8

const (
	AddrUnassigned AddrEntryKind = iota
	AddrSubnetNode
	AddrBroadcast
	AddrGroup
	AddrTurnaround
)

// AddrEntry is one slot of the node's address table: outgoing messages name
// a table index rather than carrying a destination inline, matching the
// original lcs_node address table model.
type AddrEntry struct {
	Kind   AddrEntryKind
	Domain DomainIndex

	Subnet uint8
	Node   uint8

	Group     uint8
	GroupSize uint8 // 0 means "large group", ack handling switches to timeout-based

	// Member is this node's own position within the group, used to
	// synthesize this node's multicast acknowledgements; meaningless for
	// non-group entries.
	Member uint8

	RetryCount uint8
	RetryTimer uint16 // milliseconds
	TxTimer    uint16 // milliseconds

	// ReceiveTimerMS is the receive-record lifetime for inbound messages
	// addressed to this group; the largest value among matching entries
	// is used. If that is 0 the receive timer is left stopped and the
	// non-group default is not applied.
	ReceiveTimerMS uint16

	Ack   bool
	AuthEnabled bool
}

// AddressTableSize bounds how many outgoing address table entries a node
// carries; sized generously relative to typical 8-bit-constrained firmware
// since this target is not EEPROM-limited.
const AddressTableSize = 15

// AddressTable is the node's outgoing address table.
type AddressTable [AddressTableSize]AddrEntry

// Dest resolves a table entry into a concrete destination address, given
// the entry's own domain's table for subnet/node context when needed.
func (e *AddrEntry) Dest() Dest {
	switch e.Kind {
	case AddrSubnetNode:
		return SubnetNode(e.Subnet, e.Node)
	case AddrBroadcast:
		return Broadcast(e.Subnet)
	case AddrGroup:
		return Multicast(e.Group)
	case AddrTurnaround:
		return Dest{Turnaround: true}
	default:
		return Dest{}
	}
}
