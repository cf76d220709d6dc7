// Package tsa implements the transport, session and authentication
// sublayer: the per-priority outbound transmit state machine, the inbound
// receive/duplicate-suppression state machine, and the challenge/reply
// authentication handshake. Grounded on the section 4.D behavior and, for
// the bit-exact authentication transform, on the encryption routine shown
// in lcs_tcs.c / lcs_node.h of the original implementation.
package tsa

// Service is the originating layer's delivery contract for a submission:
// acknowledged, unacknowledged-with-repeat, or a session request expecting
// a response.
type Service uint8

const (
	ACKD Service = iota
	UnackRpt
	Request
)

// MsgType is the message type field carried in the TPDU/SPDU/AuthPDU
// header, alongside the transaction ID. Unlike a single incrementing
// sequence, each PDU class (Transport, Session, Authentication) numbers
// its own message types from 0, exactly as PDUMsgType does in the
// original firmware — the same numeric value means different things on
// different classes, disambiguated by the NPDU's own pdu_type field.
type MsgType uint8

const (
	AckdMsg     MsgType = 0 // Transport
	UnackRptMsg MsgType = 1 // Transport
	AckMsg      MsgType = 2 // Transport

	RequestMsg  MsgType = 0 // Session
	ResponseMsg MsgType = 2 // Session

	// ReminderMsg and RemMsgMsg are shared between Transport and Session,
	// carrying a multicast retry's ack bitmask.
	ReminderMsg MsgType = 4
	RemMsgMsg   MsgType = 5

	ChallengeMsg    MsgType = 0 // Authentication
	ChallengeOMAMsg MsgType = 1 // Authentication
	ReplyMsg        MsgType = 2 // Authentication
	ReplyOMAMsg     MsgType = 3 // Authentication
)

// ReceiveState is the lifecycle of one receive record, matching section
// 4.D's named state set exactly.
type ReceiveState uint8

const (
	JustReceived ReceiveState = iota
	Authenticating
	Authenticated
	Delivered
	Responded
	Done
)

// TransmitState is the lifecycle of one transmit record.
type TransmitState uint8

const (
	Free TransmitState = iota
	Armed
)

// AltPathCount is the retries-remaining threshold at or below which a
// retransmission's Frame.AltPath is set.
const AltPathCount = 1

// NonGroupReceiveTimer is the default receive-record lifetime for
// subnet/node and broadcast addressed messages.
const NonGroupReceiveTimer = 3000 // milliseconds

// UniqueIDReceiveTimer is the fixed receive-record lifetime used for
// unique-ID addressed messages, per section 4.D step 2.
const UniqueIDReceiveTimer = 8000 // milliseconds

// TSResetDelayTime is the post-reset quiet period during which the
// transport and session send paths are suppressed, giving peers' stale
// receive records time to expire.
const TSResetDelayTime = 3000 // milliseconds

// DefaultBroadcastBacklog is the delta_backlog value for a broadcast
// destination with no configured backlog. No send path in this module
// reads it; link frames are sent with a delta-backlog of 0.
const DefaultBroadcastBacklog = 15
