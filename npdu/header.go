package npdu

import "errors"

// PDUType is the 2-bit payload discriminator carried in the NPDU header,
// selecting which of the four higher layers owns the remaining bytes.
type PDUType uint8

const (
	PDUTransport PDUType = 0 // TPDU
	PDUSession   PDUType = 1 // SPDU
	PDUAuth      PDUType = 2 // AuthPDU
	PDUApp       PDUType = 3 // APDU
)

// ProtocolVersion is the 2-bit version field. Legacy carries a 4-bit
// transaction ID inside the transport/session header; Enhanced widens it to
// 12 bits. Values 1 and 3 are reserved and rejected on receipt.
type ProtocolVersion uint8

const (
	ProtocolLegacy   ProtocolVersion = 0
	ProtocolEnhanced ProtocolVersion = 2
)

var (
	ErrShortPacket      = errors.New("npdu: packet too short for header")
	ErrReservedVersion  = errors.New("npdu: reserved protocol version")
	ErrUnknownAddrFmt   = errors.New("npdu: unknown address format")
	ErrDestTruncated    = errors.New("npdu: destination address truncated")
	ErrNodeOutOfRange   = errors.New("npdu: node address out of range")
)

// Header is the parsed form of an NPDU's fixed leading fields: version,
// PDU type, domain selection and length, source address and destination
// address. Everything after it is the opaque payload owned by the PDU type
// named in Type.
type Header struct {
	Version ProtocolVersion
	Type    PDUType
	Domain  DomainIndex // resolved locally; never itself serialized

	SourceSubnet uint8
	SourceNode   uint8

	Dest Dest

	domainID DomainID // the wire-carried ID, filled on parse/append
}

// DomainID returns the domain identifier carried on the wire.
func (h *Header) DomainID() DomainID { return h.domainID }

// SetDomainID overrides the wire-carried domain identifier, used when
// building an outbound header from a DomainEntry.
func (h *Header) SetDomainID(id DomainID) { h.domainID = id }

// Append encodes the header and appends it to buf, returning the extended
// slice. The destination address shape follows h.Dest.Format; Turnaround
// destinations are never serialized onto the wire and Append rejects them,
// since a turnaround reply is resolved to a concrete shape before
// transmission.
func (h *Header) Append(buf []byte) ([]byte, error) {
	if h.Dest.Turnaround {
		return nil, errors.New("npdu: cannot serialize a turnaround destination")
	}
	lenCode, err := EncodeDomainLength(int(h.domainID.Len))
	if err != nil {
		return nil, err
	}

	b0 := byte(h.Version&3)<<6 | byte(h.Type&3)<<4 | byte(h.Dest.Format&3)<<2 | lenCode
	buf = append(buf, b0)
	buf = append(buf, h.SourceSubnet, h.SourceNode)

	switch h.Dest.Format {
	case FmtBroadcast:
		buf = append(buf, h.Dest.Subnet)
	case FmtMulticast:
		buf = append(buf, h.Dest.Group)
	case FmtSubnetNode:
		if h.Dest.Node > 0x7f {
			return nil, ErrNodeOutOfRange
		}
		sel := byte(0)
		if h.Dest.Selector {
			sel = 0x80
		}
		buf = append(buf, h.Dest.Subnet, sel|h.Dest.Node)
		if !h.Dest.Selector {
			buf = append(buf, h.Dest.Group, h.Dest.Member)
		}
	case FmtUniqueID:
		buf = append(buf, h.Dest.Subnet)
		buf = append(buf, h.Dest.UID[:]...)
	default:
		return nil, ErrUnknownAddrFmt
	}

	buf = append(buf, h.domainID.Bytes[:h.domainID.Len]...)
	return buf, nil
}

// Parse decodes a Header from the front of pkt and returns it along with
// the remaining payload bytes (everything owned by the named PDU type).
func Parse(pkt []byte) (Header, []byte, error) {
	var h Header
	if len(pkt) < 3 {
		return h, nil, ErrShortPacket
	}
	b0 := pkt[0]
	h.Version = ProtocolVersion(b0 >> 6 & 3)
	if h.Version != ProtocolLegacy && h.Version != ProtocolEnhanced {
		return h, nil, ErrReservedVersion
	}
	h.Type = PDUType(b0 >> 4 & 3)
	format := AddrFormat(b0 >> 2 & 3)
	domLen := DecodeDomainLength(b0 & 3)

	h.SourceSubnet = pkt[1]
	h.SourceNode = pkt[2]
	rest := pkt[3:]

	switch format {
	case FmtBroadcast:
		if len(rest) < 1 {
			return h, nil, ErrDestTruncated
		}
		h.Dest = Broadcast(rest[0])
		rest = rest[1:]
	case FmtMulticast:
		if len(rest) < 1 {
			return h, nil, ErrDestTruncated
		}
		h.Dest = Multicast(rest[0])
		rest = rest[1:]
	case FmtSubnetNode:
		if len(rest) < 2 {
			return h, nil, ErrDestTruncated
		}
		subnet := rest[0]
		sel := rest[1]&0x80 != 0
		node := rest[1] & 0x7f
		rest = rest[2:]
		if sel {
			h.Dest = SubnetNode(subnet, node)
		} else {
			if len(rest) < 2 {
				return h, nil, ErrDestTruncated
			}
			h.Dest = MulticastAck(subnet, node, rest[0], rest[1])
			rest = rest[2:]
		}
	case FmtUniqueID:
		if len(rest) < 7 {
			return h, nil, ErrDestTruncated
		}
		var uid [6]byte
		copy(uid[:], rest[1:7])
		h.Dest = UniqueID(rest[0], uid)
		rest = rest[7:]
	default:
		return h, nil, ErrUnknownAddrFmt
	}

	if len(rest) < domLen {
		return h, nil, ErrDestTruncated
	}
	h.domainID.Len = uint8(domLen)
	copy(h.domainID.Bytes[:domLen], rest[:domLen])
	rest = rest[domLen:]

	return h, rest, nil
}
