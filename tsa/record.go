package tsa

import (
	"github.com/enocean-oss/lon-core/npdu"
	"github.com/enocean-oss/lon-core/queue"
)

// TransmitRecord is one priority's in-flight outbound transaction, mirroring
// the transmit-record fields named in section 4.D.
type TransmitRecord struct {
	State    TransmitState
	Priority int

	Service Service
	Dest    npdu.Dest
	Domain  npdu.DomainIndex
	TID     uint16
	APDU    []byte
	Tag     uint32
	Auth    bool

	DestCount   int
	AckBitmap   uint64
	AckCount    int
	Responses   int
	MaxResponses int

	RetriesLeft      int
	RetryCount       int
	RetryIntervalMS  int64
	LastRetryExtraMS int64
	AltPath          bool
	Timer            queue.Timer

	Authenticating bool
}

func (r *TransmitRecord) free() { *r = TransmitRecord{} }

// ackMList returns the M_LIST bitmask of acknowledged group members used to
// frame a multicast REM_MSG_MSG/REMINDER_MSG retry: one bit per member,
// padded to the byte containing the highest-numbered acked member, with a
// one-byte minimum when no member has acked yet.
func (r *TransmitRecord) ackMList() (bytes [8]byte, length int) {
	highest := -1
	for m := 0; m < 64; m++ {
		if r.AckBitmap&(uint64(1)<<uint(m)) != 0 {
			bytes[m/8] |= 1 << uint(m%8)
			highest = m
		}
	}
	length = highest/8 + 1
	return bytes, length
}

// ReceiveRecord is one entry of the duplicate-suppression / session cache,
// with the named state set of section 4.D.
type ReceiveRecord struct {
	InUse bool

	SrcSubnet, SrcNode uint8
	SrcDomain          npdu.DomainID
	Domain             npdu.DomainIndex
	AddrFormat         npdu.AddrFormat
	Group              uint8

	TID     uint16
	Service Service
	State   ReceiveState

	Priority    int
	AltPath     bool
	ProtoVer    npdu.ProtocolVersion
	APDU        []byte

	AuthRequired bool
	AuthPassed   bool
	RandChallenge [8]byte

	Response []byte
	ReqID    uint16

	ReceiveTimer queue.Timer
}

func (r *ReceiveRecord) matchesSource(subnet, node uint8, domain npdu.DomainID, format npdu.AddrFormat, group uint8) bool {
	return r.InUse && r.SrcSubnet == subnet && r.SrcNode == node && r.SrcDomain.Equal(domain) &&
		r.AddrFormat == format && (format != npdu.FmtMulticast || r.Group == group)
}
