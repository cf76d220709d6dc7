package tsa

import "github.com/enocean-oss/lon-core/npdu"

// EncodeMsgHeader builds the {auth:1, msg_type:3, tid:4} leading byte of a
// TPDU/SPDU/AuthPDU, with a continuation byte carrying the upper 8 bits of
// the transaction ID in enhanced mode.
func EncodeMsgHeader(auth bool, msg MsgType, tid uint16, enhanced bool) []byte {
	b0 := byte(msg&0x7) << 4
	if auth {
		b0 |= 0x80
	}
	if enhanced {
		b0 |= byte(tid>>8) & 0xF
		return []byte{b0, byte(tid)}
	}
	b0 |= byte(tid) & 0xF
	return []byte{b0}
}

// MsgClass names which PDU type (section 4.B pdu_type field) a Frame rides
// on.
type MsgClass uint8

const (
	ClassTransport MsgClass = iota
	ClassSession
	ClassAuth
)

// Frame is the network-layer-facing view of one TPDU/SPDU/AuthPDU emission:
// enough information for the network layer to build and address an NPDU
// without the npdu package needing any knowledge of transport/session
// semantics.
type Frame struct {
	Dest     npdu.Dest
	Domain   npdu.DomainIndex
	Priority int

	Class MsgClass
	Msg   MsgType
	TID   uint16
	Auth  bool

	AltPath bool
	Retry   bool

	Group  uint8
	Member uint8

	Payload []byte
}

// Network is the downstream sink a Layer sends Frames to. Send returns
// false when the network output queue cannot currently accept the frame;
// the caller must not consume a retry or advance state on a false return.
// Avail reports how many more frames the given priority's output queue can
// currently hold, so a caller that must emit more than one frame
// atomically (multicast reminder framing) can check capacity up front.
type Network interface {
	Send(Frame) bool
	Avail(priority int) int
}

// classFor returns the PDU class a service's messages ride on.
func classFor(s Service) MsgClass {
	if s == Request {
		return ClassSession
	}
	return ClassTransport
}
