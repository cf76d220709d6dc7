package lon

import (
	"github.com/sirupsen/logrus"

	"github.com/enocean-oss/lon-core/link"
	"github.com/enocean-oss/lon-core/metrics"
	"github.com/enocean-oss/lon-core/npdu"
	"github.com/enocean-oss/lon-core/queue"
	"github.com/enocean-oss/lon-core/tsa"
)

// ChecksumInterval is how often the mutable configuration checksum is
// recomputed and compared against its last known-good value.
const ChecksumInterval = 1000 // milliseconds

// ErrorLogger receives the persistent single-byte error codes the stack
// raises — a thin seam over whatever durable error log the host firmware
// keeps, kept as an interface so tests can capture without a real one.
type ErrorLogger interface {
	LogError(code ErrorCode)
}

// ErrorCode names persistent error-log entries referenced by the
// specification.
type ErrorCode uint8

const (
	ErrConfigChecksum ErrorCode = iota
	ErrAuthenticationMismatch
	ErrBadAddressType
	ErrInvalidDomain
)

// netFrame is one admitted network-layer packet queued toward a link
// interface, or queued inward from one toward the TSA/application split.
type netFrame struct {
	header  npdu.Header
	payload []byte
}

// Stack is a single node: configuration, the network layer's filtering
// and framing, the TCS/TSA sublayers, and the link interfaces, all driven
// from one cooperative Init/Service pair.
type Stack struct {
	cfg    Config
	member Membership

	tsa  *tsa.Layer
	keys domainKeys

	ifaces []*link.Interface
	stats  metrics.Stats

	persist *Persistence
	errlog  ErrorLogger
	log     *logrus.Entry

	clock    func() int64
	checksum queue.Timer
	lastSum  uint16
	enhanced bool

	resetCause ResetCause

	netOutPriority *queue.Ring[netFrame]
	netOut         *queue.Ring[netFrame]
	netIn          *queue.Ring[netFrame]

	delivery *queue.Ring[tsa.Delivery]
	complete *queue.Ring[tsa.CompletionEvent]
}

// domainKeys implements tsa.KeyProvider over the node's domain table.
type domainKeys struct{ cfg *Config }

func (k domainKeys) AuthKey(domain npdu.DomainIndex) (key [12]byte, mode tsa.AuthMode, ok bool) {
	if domain == npdu.FlexDomain {
		return key, mode, false
	}
	e := k.cfg.Domains.Resolve(domain)
	if e.Invalid {
		return key, mode, false
	}
	mode = tsa.AuthClassic
	if e.Auth == npdu.AuthOMA {
		mode = tsa.AuthOMA
	}
	return e.Key, mode, true
}

func (k domainKeys) MyMember(domain npdu.DomainIndex, group uint8) uint8 {
	for _, a := range k.cfg.Addresses {
		if a.Kind == npdu.AddrGroup && a.Domain == domain && a.Group == group {
			return a.Member
		}
	}
	return 0
}

func (k domainKeys) GroupReceiveTimerMS(domain npdu.DomainIndex, group uint8) int64 {
	var max int64
	for _, a := range k.cfg.Addresses {
		if a.Kind == npdu.AddrGroup && a.Domain == domain && a.Group == group {
			if ms := int64(a.ReceiveTimerMS); ms > max {
				max = ms
			}
		}
	}
	return max
}

// appSink bridges tsa.AppSink to the stack's application-facing queues.
// Its stack field lets it reach the stats block for LcsLost accounting.
type appSink struct {
	stack    *Stack
	delivery *queue.Ring[tsa.Delivery]
	complete *queue.Ring[tsa.CompletionEvent]
}

func (s appSink) Deliver(d tsa.Delivery) bool {
	if s.delivery.Push(d) != nil {
		s.stack.stats.LcsLost.Inc()
		return false
	}
	return true
}

func (s appSink) Complete(c tsa.CompletionEvent) { s.complete.Push(c) }

// NewStack constructs a node with the given queue depths for its
// network-layer and application-facing queues. enhanced selects the
// 12-bit transaction ID wire format for this node.
func NewStack(clock func() int64, store Store, queueDepth int, enhanced bool) *Stack {
	st := &Stack{clock: clock, persist: NewPersistence(store), enhanced: enhanced, log: logrus.NewEntry(logrus.StandardLogger())}
	st.member = Membership{cfg: &st.cfg}
	st.keys = domainKeys{cfg: &st.cfg}

	st.delivery = queue.New[tsa.Delivery](queueDepth)
	st.complete = queue.New[tsa.CompletionEvent](queueDepth)
	st.tsa = tsa.NewLayer(enhanced, queueDepth, appSink{stack: st, delivery: st.delivery, complete: st.complete}, st.keys, clock)

	st.netOutPriority = queue.New[netFrame](queueDepth)
	st.netOut = queue.New[netFrame](queueDepth)
	st.netIn = queue.New[netFrame](queueDepth)

	return st
}

// NextDelivery returns the next application-layer delivery admitted by the
// transport/session sublayer, if any.
func (s *Stack) NextDelivery() (tsa.Delivery, bool) { return s.delivery.Pop() }

// NextCompletion returns the next outbound transaction's completion
// event, if any.
func (s *Stack) NextCompletion() (tsa.CompletionEvent, bool) { return s.complete.Pop() }

// Submit queues an outbound transport/session message on the given
// priority (0 normal, 1 high).
func (s *Stack) Submit(priority int, sub tsa.Submission) bool {
	return s.tsa.Submit(priority, sub)
}

// SetErrorLogger installs the sink for persistent error-log entries.
func (s *Stack) SetErrorLogger(l ErrorLogger) { s.errlog = l }

// SetLogger installs the structured logger used for protocol-event
// tracing (reset causes, checksum mismatches, late acks, authentication
// mismatches). Defaults to the standard logrus logger.
func (s *Stack) SetLogger(l *logrus.Entry) { s.log = l }

// Config returns the node's current configuration for read access and
// network-management mutation; callers must call MarkDirty after changing
// it so the change is eventually persisted.
func (s *Stack) Config() *Config { return &s.cfg }

// MarkDirty schedules a debounced persistence flush after a configuration
// change and records the new configuration checksum as the known-good
// value for the checksum monitor.
func (s *Stack) MarkDirty() {
	s.lastSum = s.cfg.checksum()
	s.persist.MarkDirty(s.clock())
}

// AddInterface registers a link-layer interface the stack will drive.
func (s *Stack) AddInterface(i *link.Interface) { s.ifaces = append(s.ifaces, i) }

// Stats returns the node's saturating link/transport statistics counters,
// for wiring into a link.Interface or a Prometheus collector.
func (s *Stack) Stats() *metrics.Stats { return &s.stats }

// Init performs the leaves-first reset sequence: link interfaces, then
// TSA/TCS (which also begins the post-reset quiet period), then loads
// persisted configuration and starts the checksum monitor.
func (s *Stack) Init(cause ResetCause) {
	now := s.clock()
	s.resetCause = cause
	s.log.WithField("cause", cause).Info("node reset")

	for _, iface := range s.ifaces {
		iface.Reset(now)
	}
	s.tsa.Reset()

	if err := s.persist.LoadNetworkImage(&s.cfg); err != nil {
		s.cfg = Config{State: StateAppUnconfig}
	}
	s.lastSum = s.cfg.checksum()
	s.checksum.SetRepeating(now, ChecksumInterval)
}

// Service drains one unit of work from every subsystem, in the order:
// housekeeping, send (app through link), then receive (link through app).
func (s *Stack) Service() {
	now := s.clock()

	s.serviceHousekeeping(now)
	s.serviceSend(now)
	s.serviceReceive(now)
}

func (s *Stack) serviceHousekeeping(now int64) {
	if s.checksum.Expired(now) {
		if s.cfg.checksum() != s.lastSum {
			s.cfg.State = StateAppUnconfig
			s.log.Warn("configuration checksum mismatch, forcing unconfigured state")
			if s.errlog != nil {
				s.errlog.LogError(ErrConfigChecksum)
			}
			s.Init(ResetSoftware)
			return
		}
	}
	s.persist.Service(now, &s.cfg)
	s.tsa.ServiceReceive(now)
}

func (s *Stack) serviceSend(now int64) {
	s.tsa.ServiceSend(now, stackNetwork{s})

	for _, iface := range s.ifaces {
		iface.ServiceSend(now)
	}
	s.drainNetworkOut()
}

func (s *Stack) drainNetworkOut() {
	f, ok := s.netOutPriority.Pop()
	priority := true
	if !ok {
		f, ok = s.netOut.Pop()
		priority = false
	}
	if !ok || len(s.ifaces) == 0 {
		return
	}
	buf, err := f.header.Append(nil)
	if err != nil {
		return
	}
	buf = append(buf, f.payload...)
	s.ifaces[0].EnqueueOutbound(link.Frame{Priority: priority, NPDU: buf})
}

func (s *Stack) serviceReceive(now int64) {
	for _, iface := range s.ifaces {
		iface.ServiceReceive()
		frame, ok := iface.Inbound()
		if !ok {
			continue
		}
		s.admit(now, frame)
	}
}

func (s *Stack) admit(now int64, lf link.Frame) {
	hdr, payload, err := npdu.Parse(lf.NPDU)
	if err != nil {
		s.stats.LcsRxError.Inc()
		return
	}

	idx, matched := s.cfg.Domains.MatchID(hdr.DomainID())
	hdr.Domain = idx
	if !matched {
		hdr.Domain = npdu.FlexDomain
	}

	if !npdu.Accept(&hdr, s.member) {
		return
	}

	switch hdr.Type {
	case npdu.PDUApp:
		// Application-layer delivery is out of this package's scope:
		// APDUs are queued on netIn, which Stack does not expose.
		if s.netIn.Push(netFrame{header: hdr, payload: payload}) != nil {
			s.stats.LcsLost.Inc()
		}
	case npdu.PDUTransport, npdu.PDUSession, npdu.PDUAuth:
		priority := 0
		if lf.Priority {
			priority = 1
		}
		s.admitTSA(now, priority, hdr, payload)
	}
}

// admitTSA decodes the shared {auth:1, msg_type:3, tid:4} leading byte and
// dispatches by PDU class first: each class numbers its own msg_type from
// 0, so the same numeric value means different things on a Transport,
// Session or Authentication PDU and must never be switched on directly
// without first knowing which class it came from.
func (s *Stack) admitTSA(now int64, priority int, hdr npdu.Header, payload []byte) {
	if len(payload) == 0 {
		return
	}
	b0 := payload[0]
	auth := b0&0x80 != 0
	msgType := tsa.MsgType(b0 >> 4 & 0x7)
	tid := uint16(b0 & 0xF)
	body := payload[1:]

	lateAck := func() {
		s.stats.LcsLateAck.Inc()
		s.log.WithFields(logrus.Fields{"subnet": hdr.SourceSubnet, "node": hdr.SourceNode, "tid": tid}).Debug("late ack")
	}

	switch hdr.Type {
	case npdu.PDUTransport:
		switch msgType {
		case tsa.AckdMsg, tsa.UnackRptMsg:
			s.tsa.ReceiveNewMsg(now, priority, hdr.SourceSubnet, hdr.SourceNode, hdr.Domain, hdr.DomainID(), hdr.Dest.Format,
				hdr.Dest.Group, serviceFor(msgType), tid, auth, false, hdr.Version, body, stackNetwork{s}, s.member.Configured())
		case tsa.AckMsg:
			s.tsa.HandleAck(priority, hdr.SourceSubnet, hdr.SourceNode, tid, hdr.Dest.Member, body, stackNetwork{s}, lateAck)
		}
	case npdu.PDUSession:
		switch msgType {
		case tsa.RequestMsg:
			s.tsa.ReceiveNewMsg(now, priority, hdr.SourceSubnet, hdr.SourceNode, hdr.Domain, hdr.DomainID(), hdr.Dest.Format,
				hdr.Dest.Group, tsa.Request, tid, auth, false, hdr.Version, body, stackNetwork{s}, s.member.Configured())
		case tsa.ResponseMsg:
			s.tsa.HandleAck(priority, hdr.SourceSubnet, hdr.SourceNode, tid, hdr.Dest.Member, body, stackNetwork{s}, lateAck)
		}
	case npdu.PDUAuth:
		switch msgType {
		case tsa.ChallengeMsg, tsa.ChallengeOMAMsg:
			var rand [8]byte
			copy(rand[:], body)
			s.tsa.HandleChallenge(priority, hdr.SourceSubnet, hdr.SourceNode, tid, rand, nil, stackNetwork{s}, now)
		case tsa.ReplyMsg, tsa.ReplyOMAMsg:
			var crypto [8]byte
			copy(crypto[:], body)
			s.tsa.HandleReply(hdr.SourceSubnet, hdr.SourceNode, tid, hdr.Dest.Format, hdr.Dest.Group, crypto, nil,
				func() {
					s.log.WithFields(logrus.Fields{"subnet": hdr.SourceSubnet, "node": hdr.SourceNode, "tid": tid}).Warn("authentication mismatch")
					if s.errlog != nil {
						s.errlog.LogError(ErrAuthenticationMismatch)
					}
				}, stackNetwork{s})
		}
	}
}

func serviceFor(m tsa.MsgType) tsa.Service {
	if m == tsa.UnackRptMsg {
		return tsa.UnackRpt
	}
	return tsa.ACKD
}

// stackNetwork adapts Stack to tsa.Network, turning a transport/session/
// auth Frame into an NPDU queued for the link layer. Frame.AltPath and
// Frame.Retry are not carried into the NPDU or the link header, and link
// frames are sent with a delta-backlog of 0.
type stackNetwork struct{ s *Stack }

func (n stackNetwork) Send(f tsa.Frame) bool {
	class := npdu.PDUTransport
	switch f.Class {
	case tsa.ClassSession:
		class = npdu.PDUSession
	case tsa.ClassAuth:
		class = npdu.PDUAuth
	}

	hdr := npdu.Header{Version: npdu.ProtocolLegacy, Type: class, Domain: f.Domain, Dest: f.Dest}
	e := n.s.cfg.Domains.Resolve(clampDomain(f.Domain))
	if f.Domain != npdu.FlexDomain {
		hdr.SourceSubnet, hdr.SourceNode = e.Subnet, e.Node
	}
	hdr.SetDomainID(e.ID)

	body := append(tsa.EncodeMsgHeader(f.Auth, f.Msg, f.TID, n.s.enhanced), f.Payload...)
	nf := netFrame{header: hdr, payload: body}

	q := n.s.netOut
	if f.Priority == 1 {
		q = n.s.netOutPriority
	}
	return q.Push(nf) == nil
}

func (n stackNetwork) Avail(priority int) int {
	q := n.s.netOut
	if priority == 1 {
		q = n.s.netOutPriority
	}
	return q.Cap() - q.Len()
}

func clampDomain(idx npdu.DomainIndex) npdu.DomainIndex {
	if idx == npdu.FlexDomain {
		return npdu.Domain0
	}
	return idx
}
