package tsa

import (
	"math/rand"

	"github.com/enocean-oss/lon-core/npdu"
	"github.com/enocean-oss/lon-core/queue"
	"github.com/enocean-oss/lon-core/tcs"
)

// Submission is one application-originated outbound message, queued by
// priority and drained one at a time by the transmit state machine.
type Submission struct {
	Dest    npdu.Dest
	Domain  npdu.DomainIndex
	Service Service
	APDU    []byte
	Auth    bool
	Tag     uint32

	GroupSize     uint8
	IsGroupMember bool

	RetryCount       int
	RetryTimerMS     int64
	RepeatTimerMS    int64
	LastRetryExtraMS int64

	MaxResponses int
	BroadcastBacklog int
}

// CompletionEvent reports the outcome of one transmit-record's lifetime
// back to the application, tagged by the tag the submission carried.
type CompletionEvent struct {
	Tag     uint32
	Success bool
}

// Delivery is one admitted inbound message handed up to the application.
type Delivery struct {
	SrcSubnet, SrcNode uint8
	Service            Service
	Priority           int
	AltPath            bool
	AuthPassed         bool
	APDU               []byte
	ReqID              uint16 // session requests only; 0 otherwise
}

// AppSink receives delivered messages and completion notifications.
type AppSink interface {
	Deliver(Delivery) bool
	Complete(CompletionEvent)
}

// KeyProvider resolves a domain's authentication key and transform mode,
// this node's own position within a multicast group, and a group's
// configured receive-record lifetime.
type KeyProvider interface {
	AuthKey(domain npdu.DomainIndex) (key [12]byte, mode AuthMode, ok bool)
	MyMember(domain npdu.DomainIndex, group uint8) uint8
	GroupReceiveTimerMS(domain npdu.DomainIndex, group uint8) int64
}

const maxReceiveRecords = 15

// Layer is the transport/session/authentication sublayer for one node. It
// holds one transmit record and one destination-keyed TID allocator per
// priority, and a shared receive-record cache used for duplicate
// suppression and session bookkeeping across both priorities.
type Layer struct {
	enhanced bool
	clock    func() int64

	tx    [2]TransmitRecord
	out   [2]*queue.Ring[Submission]
	alloc [2]*tcs.Allocator

	recv [maxReceiveRecords]ReceiveRecord

	reqID uint16

	quiet queue.Timer

	app  AppSink
	keys KeyProvider
}

// NewLayer constructs a Layer. outboundDepth bounds each priority's
// submission queue.
func NewLayer(enhanced bool, outboundDepth int, app AppSink, keys KeyProvider, clock func() int64) *Layer {
	l := &Layer{enhanced: enhanced, app: app, keys: keys, clock: clock}
	for p := 0; p < 2; p++ {
		l.out[p] = queue.New[Submission](outboundDepth)
		l.alloc[p] = tcs.NewAllocator(enhanced)
	}
	return l
}

// Reset begins the post-reset quiet period during which sends are
// suppressed, so that a peer's stale receive records for this node have
// time to expire before new transaction IDs are reused.
func (l *Layer) Reset() {
	l.quiet.Set(l.clock(), TSResetDelayTime)
	for p := range l.tx {
		l.tx[p].free()
		l.alloc[p] = tcs.NewAllocator(l.enhanced)
	}
	for i := range l.recv {
		l.recv[i] = ReceiveRecord{}
	}
}

// Submit enqueues an outbound message for the given priority (0 normal, 1
// high). It returns false if that priority's queue is saturated.
func (l *Layer) Submit(priority int, sub Submission) bool {
	return l.out[priority].Push(sub) == nil
}

// ServiceSend drives the outbound state machine for both priorities, one
// unit of work each, and must be called once per tick. High priority is
// serviced first so that it always wins the send slot when both are ready.
func (l *Layer) ServiceSend(now int64, net Network) {
	if l.quiet.Running(now) {
		return
	}
	for _, p := range []int{1, 0} {
		l.serviceSendPriority(now, p, net)
	}
}

func (l *Layer) serviceSendPriority(now int64, p int, net Network) {
	tx := &l.tx[p]
	if tx.State == Free {
		l.arm(now, p, net)
		return
	}
	if !tx.Timer.Expired(now) {
		return
	}
	l.retryOrFinish(now, p, net)
}

func (l *Layer) arm(now int64, p int, net Network) {
	sub, ok := l.out[p].Peek()
	if !ok {
		return
	}

	if sub.IsGroupMember && sub.GroupSize == 1 {
		l.out[p].Pop()
		l.app.Complete(CompletionEvent{Tag: sub.Tag, Success: false})
		return
	}

	domID := l.domainIDFor(sub.Domain)
	tid, err := l.alloc[p].NewTrans(now, domID, sub.Dest)
	if err != nil {
		return // leave queued, retry next tick
	}
	l.out[p].Pop()

	destCount := 1
	switch sub.Dest.Format {
	case npdu.FmtMulticast:
		destCount = int(sub.GroupSize)
		if sub.IsGroupMember {
			destCount--
		}
		if destCount < 1 {
			destCount = 1
		}
	case npdu.FmtBroadcast:
		destCount = 1
	}

	tx := &l.tx[p]
	*tx = TransmitRecord{
		State:        Armed,
		Priority:     p,
		Service:      sub.Service,
		Dest:         sub.Dest,
		Domain:       sub.Domain,
		TID:          tid,
		APDU:         sub.APDU,
		Tag:          sub.Tag,
		Auth:         sub.Auth,
		DestCount:        destCount,
		RetriesLeft:      sub.RetryCount,
		RetryCount:       sub.RetryCount,
		MaxResponses:     sub.MaxResponses,
		LastRetryExtraMS: sub.LastRetryExtraMS,
	}

	ms := sub.RetryTimerMS
	if sub.Service == UnackRpt {
		ms = sub.RepeatTimerMS
	}
	tx.RetryIntervalMS = ms
	tx.Timer.Set(now, ms)

	msg := serviceMsgType(sub.Service)
	net.Send(l.frameFor(tx, msg, false, false))
}

func serviceMsgType(s Service) MsgType {
	switch s {
	case ACKD:
		return AckdMsg
	case UnackRpt:
		return UnackRptMsg
	default:
		return RequestMsg
	}
}

func (l *Layer) frameFor(tx *TransmitRecord, msg MsgType, retry, altPath bool) Frame {
	return Frame{
		Dest:    tx.Dest,
		Domain:  tx.Domain,
		Class:   classFor(tx.Service),
		Priority: tx.Priority,
		Msg:     msg,
		TID:     tx.TID,
		Auth:    tx.Auth,
		AltPath: altPath,
		Retry:   retry,
		Payload: tx.APDU,
	}
}

func (l *Layer) retryOrFinish(now int64, p int, net Network) {
	tx := &l.tx[p]

	allAcked := tx.AckCount >= tx.DestCount
	if allAcked {
		l.finish(p, net)
		return
	}
	if tx.RetriesLeft <= 0 {
		if tx.LastRetryExtraMS > 0 {
			// last-retry extension: give a proxy-chained peer one more
			// window of LastRetryExtraMS before the transaction is
			// declared dead.
			extra := tx.LastRetryExtraMS
			tx.LastRetryExtraMS = 0
			tx.Timer.Set(now, extra)
			return
		}
		l.finish(p, net)
		return
	}

	tx.RetriesLeft--
	altPath := tx.RetriesLeft <= AltPathCount

	if tx.Dest.Format == npdu.FmtMulticast {
		l.retryMulticast(tx, altPath, net)
	} else {
		msg := serviceMsgType(tx.Service)
		net.Send(l.frameFor(tx, msg, true, altPath))
	}
	tx.Timer.Set(now, tx.RetryIntervalMS)
}

// retryMulticast frames a multicast retry the way the M_LIST ack bitmap
// requires: a single REM_MSG_MSG carrying both the bitmap and the APDU
// when the bitmap fits in two bytes, or a separate REMINDER_MSG (bitmap
// only) followed by the normal PDU when it does not. The two-frame form is
// held back entirely if the output queue cannot hold both frames at once;
// either way the retry the caller already counted against RetriesLeft is
// considered spent.
func (l *Layer) retryMulticast(tx *TransmitRecord, altPath bool, net Network) {
	mlist, length := tx.ackMList()

	if length <= 2 {
		payload := append(append([]byte(nil), mlist[:length]...), tx.APDU...)
		net.Send(Frame{
			Dest: tx.Dest, Domain: tx.Domain, Class: classFor(tx.Service),
			Priority: tx.Priority, Msg: RemMsgMsg, TID: tx.TID, Auth: tx.Auth,
			AltPath: altPath, Retry: true, Payload: payload,
		})
		return
	}

	if net.Avail(tx.Priority) < 2 {
		return
	}
	net.Send(Frame{
		Dest: tx.Dest, Domain: tx.Domain, Class: classFor(tx.Service),
		Priority: tx.Priority, Msg: ReminderMsg, TID: tx.TID, Auth: tx.Auth,
		AltPath: altPath, Retry: true, Payload: append([]byte(nil), mlist[:length]...),
	})
	net.Send(l.frameFor(tx, serviceMsgType(tx.Service), true, altPath))
}

func (l *Layer) finish(p int, net Network) {
	tx := &l.tx[p]
	success := tx.Service == UnackRpt || tx.AckCount >= tx.DestCount ||
		(tx.Dest.Format == npdu.FmtBroadcast && tx.Responses >= 1)
	l.alloc[p].TransDone()
	l.app.Complete(CompletionEvent{Tag: tx.Tag, Success: success})
	tx.free()
}

func (l *Layer) domainIDFor(idx npdu.DomainIndex) npdu.DomainID {
	// Domain content is resolved by the network layer; tsa keys every
	// TID-table entry with the zero value, so destinations that differ
	// only in their domain share one entry.
	return npdu.DomainID{}
}

// HandleAck processes an inbound ACK_MSG or RESPONSE_MSG against the
// matching transmit record, per section 4.D.
func (l *Layer) HandleAck(p int, srcSubnet, srcNode uint8, tid uint16, member uint8, response []byte, net Network, logLateAck func()) {
	tx := &l.tx[p]
	if tx.State != Armed || l.alloc[p].ValidateTrans(tid) != tcs.Current {
		logLateAck()
		return
	}

	switch tx.Dest.Format {
	case npdu.FmtSubnetNode:
		if srcSubnet != tx.Dest.Subnet || srcNode != tx.Dest.Node {
			logLateAck()
			return
		}
		tx.AckCount = 1
	case npdu.FmtMulticast:
		bit := uint64(1) << member
		if tx.AckBitmap&bit == 0 {
			tx.AckBitmap |= bit
			tx.AckCount++
		}
	case npdu.FmtBroadcast:
		if response != nil {
			tx.Responses++
		}
	}

	if tx.AckCount >= tx.DestCount || (tx.Dest.Format == npdu.FmtBroadcast && tx.Responses >= tx.MaxResponses) {
		l.finish(p, net)
	}
}

// ReceiveNewMsg implements the ACKD_MSG / UNACK_RPT_MSG / REQUEST_MSG
// admission path of section 4.D.
func (l *Layer) ReceiveNewMsg(now int64, priority int, srcSubnet, srcNode uint8, domainIdx npdu.DomainIndex, domain npdu.DomainID, format npdu.AddrFormat, group uint8, service Service, tid uint16, authFlag, altPath bool, protoVer npdu.ProtocolVersion, apdu []byte, net Network, configured bool) {
	rec := l.findOrAllocReceive(srcSubnet, srcNode, domain, format, group)
	if rec == nil {
		return // no free slot; duplicate-suppression cache is saturated
	}

	fresh := !rec.InUse || rec.TID != tid || rec.Service != service
	if fresh {
		*rec = ReceiveRecord{
			InUse: true, SrcSubnet: srcSubnet, SrcNode: srcNode, SrcDomain: domain, Domain: domainIdx,
			AddrFormat: format, Group: group, TID: tid, Service: service,
			Priority: priority, AltPath: altPath, ProtoVer: protoVer, APDU: apdu,
			State: JustReceived,
		}
		rec.ReceiveTimer.Set(now, l.receiveTimerMS(domainIdx, format, group))
		if service == Request {
			rec.ReqID = l.NextReqID()
		}
	}

	authRequired := configured && authFlag
	if authRequired && (rec.State == JustReceived || rec.State == Authenticating) {
		rec.AuthRequired = true
		l.issueChallenge(now, rec, net)
		return
	}

	if rec.State != Delivered && rec.State != Responded && rec.State != Done {
		rec.State = Delivered
		if !l.app.Deliver(Delivery{
			SrcSubnet: srcSubnet, SrcNode: srcNode, Service: service,
			Priority: priority, AltPath: altPath, AuthPassed: rec.AuthPassed,
			APDU: rec.APDU, ReqID: rec.ReqID,
		}) {
			return // LcsLost counted by the AppSink
		}
	}

	if service == ACKD {
		l.emitAck(rec, net)
	}
	if service == Request && rec.State == Responded {
		l.emitResponse(rec, net)
	}
}

func (l *Layer) receiveTimerMS(domain npdu.DomainIndex, format npdu.AddrFormat, group uint8) int64 {
	switch format {
	case npdu.FmtUniqueID:
		return UniqueIDReceiveTimer
	case npdu.FmtMulticast:
		return l.keys.GroupReceiveTimerMS(domain, group)
	default:
		return NonGroupReceiveTimer
	}
}

func (l *Layer) findOrAllocReceive(subnet, node uint8, domain npdu.DomainID, format npdu.AddrFormat, group uint8) *ReceiveRecord {
	for i := range l.recv {
		if l.recv[i].matchesSource(subnet, node, domain, format, group) {
			return &l.recv[i]
		}
	}
	for i := range l.recv {
		if !l.recv[i].InUse {
			return &l.recv[i]
		}
	}
	return nil
}

func (l *Layer) emitAck(rec *ReceiveRecord, net Network) {
	f := Frame{Class: ClassTransport, Msg: AckMsg, TID: rec.TID, Priority: rec.Priority}
	if rec.AddrFormat == npdu.FmtMulticast {
		f.Dest = npdu.MulticastAck(rec.SrcSubnet, rec.SrcNode, rec.Group, l.keys.MyMember(rec.Domain, rec.Group))
	} else {
		f.Dest = npdu.SubnetNode(rec.SrcSubnet, rec.SrcNode)
	}
	net.Send(f)
}

func (l *Layer) emitResponse(rec *ReceiveRecord, net Network) {
	if rec.Response == nil {
		rec.State = Done
		return
	}
	f := Frame{Class: ClassSession, Msg: ResponseMsg, TID: rec.TID, Payload: rec.Response, Priority: rec.Priority}
	if rec.AddrFormat == npdu.FmtMulticast {
		f.Dest = npdu.MulticastAck(rec.SrcSubnet, rec.SrcNode, rec.Group, l.keys.MyMember(rec.Domain, rec.Group))
	} else {
		f.Dest = npdu.SubnetNode(rec.SrcSubnet, rec.SrcNode)
	}
	net.Send(f)
}

// PostResponse copies an application-submitted response into the matching
// receive record, keyed by session request ID, transitioning it to
// Responded. ServiceSend does not emit it: the response is sent when the
// requester retransmits the request and ReceiveNewMsg finds the record in
// Responded. A nil response is a "null response" and transitions straight
// to Done without ever being sent.
func (l *Layer) PostResponse(reqID uint16, response []byte) bool {
	for i := range l.recv {
		rec := &l.recv[i]
		if rec.InUse && rec.ReqID == reqID {
			if response == nil {
				rec.State = Done
				return true
			}
			rec.Response = response
			rec.State = Responded
			return true
		}
	}
	return false
}

// issueChallenge generates the 8-byte random challenge and emits it back
// to the originator, transitioning the receive record to Authenticating.
func (l *Layer) issueChallenge(now int64, rec *ReceiveRecord, net Network) {
	seed := rec.RandChallenge
	for i := range seed {
		seed[i] ^= byte(now>>(uint(i)%8)) ^ byte(rand.Intn(256))
	}
	rec.RandChallenge = seed
	rec.State = Authenticating

	msg := ChallengeMsg
	if _, mode, ok := l.keys.AuthKey(rec.Domain); ok && mode == AuthOMA {
		msg = ChallengeOMAMsg
	}

	f := Frame{Class: ClassAuth, Msg: msg, TID: rec.TID, Payload: append([]byte(nil), rec.RandChallenge[:]...), Priority: rec.Priority}
	if rec.AddrFormat == npdu.FmtMulticast {
		f.Dest = npdu.MulticastAck(rec.SrcSubnet, rec.SrcNode, rec.Group, l.keys.MyMember(rec.Domain, rec.Group))
		f.Group = rec.Group
	} else {
		f.Dest = npdu.SubnetNode(rec.SrcSubnet, rec.SrcNode)
	}
	net.Send(f)
}

// HandleChallenge computes and sends the authentication reply for the
// in-flight transmit record the challenge corresponds to.
func (l *Layer) HandleChallenge(p int, srcSubnet, srcNode uint8, tid uint16, rand [8]byte, omaAddr []byte, net Network, now int64) bool {
	tx := &l.tx[p]
	if tx.State != Armed || tx.TID != tid || !tx.Auth {
		return false
	}
	key, mode, ok := l.keys.AuthKey(tx.Domain)
	if !ok {
		return false
	}
	crypto := Encrypt(rand, tx.APDU, key, mode, omaAddr)

	msg := ReplyMsg
	if mode == AuthOMA {
		msg = ReplyOMAMsg
	}
	net.Send(Frame{Dest: npdu.SubnetNode(srcSubnet, srcNode), Class: ClassAuth, Msg: msg, TID: tid, Payload: crypto[:], Priority: p})
	tx.Timer.Set(now, tx.RetryIntervalMS)
	return true
}

// HandleReply verifies an inbound authentication reply against the
// receive record it corresponds to, setting AuthPassed and advancing the
// state machine to Authenticated either way.
func (l *Layer) HandleReply(srcSubnet, srcNode uint8, tid uint16, format npdu.AddrFormat, group uint8, crypto [8]byte, omaAddr []byte, logMismatch func(), net Network) {
	var rec *ReceiveRecord
	for i := range l.recv {
		r := &l.recv[i]
		if r.InUse && r.State == Authenticating && r.SrcSubnet == srcSubnet && r.SrcNode == srcNode &&
			r.AddrFormat == format && r.TID == tid && (format != npdu.FmtMulticast || r.Group == group) {
			rec = r
			break
		}
	}
	if rec == nil {
		return
	}

	key, mode, ok := l.keys.AuthKey(rec.Domain)
	want := Encrypt(rec.RandChallenge, rec.APDU, key, mode, omaAddr)
	rec.AuthPassed = ok && want == crypto
	if !rec.AuthPassed {
		logMismatch()
	}
	rec.State = Authenticated

	if rec.State != Delivered && rec.State != Responded && rec.State != Done {
		rec.State = Delivered
		l.app.Deliver(Delivery{
			SrcSubnet: rec.SrcSubnet, SrcNode: rec.SrcNode, Service: rec.Service,
			Priority: rec.Priority, AltPath: rec.AltPath, AuthPassed: rec.AuthPassed,
			APDU: rec.APDU, ReqID: rec.ReqID,
		})
	}
	if rec.Service == ACKD {
		l.emitAck(rec, net)
	}
}

// ServiceReceive expires stale receive records; must be called once per
// tick alongside ServiceSend.
func (l *Layer) ServiceReceive(now int64) {
	for i := range l.recv {
		r := &l.recv[i]
		if r.InUse && r.ReceiveTimer.Expired(now) {
			*r = ReceiveRecord{}
		}
	}
}

// NextReqID returns the next monotonic session request ID, skipping the
// reserved value 0.
func (l *Layer) NextReqID() uint16 {
	l.reqID++
	if l.reqID == 0 {
		l.reqID = 1
	}
	return l.reqID
}
