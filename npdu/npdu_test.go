package npdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainLengthRoundTrip(t *testing.T) {
	for _, length := range []int{0, 1, 3, 6} {
		code, err := EncodeDomainLength(length)
		require.NoError(t, err)
		assert.Equal(t, length, DecodeDomainLength(code))
	}
}

func TestEncodeDomainLengthRejectsIllegalLengths(t *testing.T) {
	for _, length := range []int{2, 4, 5, 7, -1} {
		_, err := EncodeDomainLength(length)
		assert.ErrorIs(t, err, ErrDomainLength)
	}
}

func headerRoundTrip(t *testing.T, h Header, payload []byte) {
	t.Helper()
	buf, err := h.Append(nil)
	require.NoError(t, err)
	buf = append(buf, payload...)

	got, rest, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
	assert.Equal(t, h.Version, got.Version)
	assert.Equal(t, h.Type, got.Type)
	assert.Equal(t, h.SourceSubnet, got.SourceSubnet)
	assert.Equal(t, h.SourceNode, got.SourceNode)
	assert.Equal(t, h.Dest, got.Dest)
	assert.True(t, h.domainID.Equal(got.domainID))
}

func TestHeaderRoundTripBroadcast(t *testing.T) {
	h := Header{Version: ProtocolLegacy, Type: PDUApp, SourceSubnet: 3, SourceNode: 9, Dest: Broadcast(7)}
	h.SetDomainID(DomainID{Len: 1, Bytes: [6]byte{0xAA}})
	headerRoundTrip(t, h, []byte{1, 2, 3})
}

func TestHeaderRoundTripMulticast(t *testing.T) {
	h := Header{Version: ProtocolEnhanced, Type: PDUTransport, SourceSubnet: 1, SourceNode: 1, Dest: Multicast(42)}
	headerRoundTrip(t, h, []byte{0xFF})
}

func TestHeaderRoundTripSubnetNode(t *testing.T) {
	h := Header{Version: ProtocolLegacy, Type: PDUSession, SourceSubnet: 5, SourceNode: 5, Dest: SubnetNode(10, 20)}
	h.SetDomainID(DomainID{Len: 6, Bytes: [6]byte{1, 2, 3, 4, 5, 6}})
	headerRoundTrip(t, h, []byte{9, 9, 9})
}

func TestHeaderRoundTripMulticastAck(t *testing.T) {
	h := Header{Version: ProtocolLegacy, Type: PDUAuth, SourceSubnet: 5, SourceNode: 5, Dest: MulticastAck(10, 20, 3, 1)}
	headerRoundTrip(t, h, []byte{})
}

func TestHeaderRoundTripUniqueID(t *testing.T) {
	h := Header{Version: ProtocolLegacy, Type: PDUTransport, SourceSubnet: 0, SourceNode: 0, Dest: UniqueID(4, [6]byte{1, 2, 3, 4, 5, 6})}
	headerRoundTrip(t, h, []byte{7})
}

func TestAppendRejectsTurnaround(t *testing.T) {
	h := Header{Dest: Dest{Turnaround: true}}
	_, err := h.Append(nil)
	assert.Error(t, err)
}

func TestParseRejectsReservedVersion(t *testing.T) {
	_, _, err := Parse([]byte{0x40, 0, 0, 0})
	assert.ErrorIs(t, err, ErrReservedVersion)
}

func TestParseRejectsShortPacket(t *testing.T) {
	_, _, err := Parse([]byte{0, 0})
	assert.ErrorIs(t, err, ErrShortPacket)
}

type fakeMembership struct {
	subnet, node uint8
	group        uint8
	groupMember  uint8
	inGroup      bool
	uid          [6]byte
	configured   bool
}

func (f fakeMembership) GroupMember(_ DomainIndex, group uint8) (uint8, bool) {
	if group == f.group && f.inGroup {
		return f.groupMember, true
	}
	return 0, false
}
func (f fakeMembership) SubnetNode(_ DomainIndex) (uint8, uint8) { return f.subnet, f.node }
func (f fakeMembership) UID() [6]byte                            { return f.uid }
func (f fakeMembership) Configured() bool                        { return f.configured }

func TestAcceptDropsLoopback(t *testing.T) {
	m := fakeMembership{subnet: 1, node: 1, configured: true}
	h := Header{Domain: Domain0, SourceSubnet: 1, SourceNode: 1, Dest: Broadcast(0)}
	assert.False(t, Accept(&h, m))
}

func TestAcceptBroadcastDomainWide(t *testing.T) {
	m := fakeMembership{subnet: 1, node: 1, configured: true}
	h := Header{Domain: Domain0, SourceSubnet: 9, SourceNode: 9, Dest: Broadcast(0)}
	assert.True(t, Accept(&h, m))
}

func TestAcceptBroadcastWrongSubnetDropped(t *testing.T) {
	m := fakeMembership{subnet: 1, node: 1, configured: true}
	h := Header{Domain: Domain0, SourceSubnet: 9, SourceNode: 9, Dest: Broadcast(5)}
	assert.False(t, Accept(&h, m))
}

func TestAcceptMulticastRequiresMembership(t *testing.T) {
	m := fakeMembership{subnet: 1, node: 1, configured: true, group: 3, groupMember: 0, inGroup: true}
	h := Header{Domain: Domain0, SourceSubnet: 9, SourceNode: 9, Dest: Multicast(3)}
	assert.True(t, Accept(&h, m))

	h.Dest = Multicast(4)
	assert.False(t, Accept(&h, m))
}

func TestAcceptUnconfiguredDropsEverythingButBroadcastAndUID(t *testing.T) {
	m := fakeMembership{subnet: 0, node: 0, configured: false, uid: [6]byte{1, 2, 3, 4, 5, 6}}
	h := Header{Domain: FlexDomain, SourceSubnet: 9, SourceNode: 9, Dest: UniqueID(0, [6]byte{1, 2, 3, 4, 5, 6})}
	assert.True(t, Accept(&h, m))

	h.Dest = SubnetNode(1, 1)
	assert.False(t, Accept(&h, m))
}

func TestAcceptConfiguredOnFlexRequiresUniqueID(t *testing.T) {
	m := fakeMembership{subnet: 1, node: 1, configured: true, uid: [6]byte{9, 9, 9, 9, 9, 9}}
	h := Header{Domain: FlexDomain, SourceSubnet: 9, SourceNode: 9, Dest: Broadcast(0)}
	assert.False(t, Accept(&h, m))

	h.Dest = UniqueID(0, m.uid)
	assert.True(t, Accept(&h, m))
}

func TestDomainTableMatchID(t *testing.T) {
	var dt DomainTable
	dt[0] = DomainEntry{ID: DomainID{Len: 1, Bytes: [6]byte{0x11}}}
	dt[1] = DomainEntry{ID: DomainID{Len: 1, Bytes: [6]byte{0x22}}, Invalid: true}

	idx, ok := dt.MatchID(DomainID{Len: 1, Bytes: [6]byte{0x11}})
	assert.True(t, ok)
	assert.Equal(t, Domain0, idx)

	_, ok = dt.MatchID(DomainID{Len: 1, Bytes: [6]byte{0x22}})
	assert.False(t, ok, "invalid entries must not match")

	idx, ok = dt.MatchID(DomainID{Len: 1, Bytes: [6]byte{0x33}})
	assert.False(t, ok)
	assert.Equal(t, FlexDomain, idx)
}
