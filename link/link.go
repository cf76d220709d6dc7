// Package link implements the USB network-interface driver: serial
// framing over a daedaluz/goserial port, the startup Unique-ID read request
// (its reply is not parsed; see Interface.UID), transceiver-parameter
// query polling, and the priority/non-priority
// send and receive paths described in section 4.A. Grounded on the
// teacher's media package (one small type per physical concern) and on
// the termios-based port wrapper in the Daedaluz goserial example.
package link

import (
	"io"

	"github.com/enocean-oss/lon-core/metrics"
	"github.com/enocean-oss/lon-core/queue"
)

// Command is the network-interface control block command byte exchanged
// with the USB host interface.
type Command uint8

const (
	CmdOutboundL2     Command = 0x01
	CmdInboundL2Mode2 Command = 0x02
	CmdLocalNM      Command = 0x21
	CmdQueryXcvr    Command = 0x41
	CmdNicbReset    Command = 0x50
	CmdTxError      Command = 0xF0
	CmdRxError      Command = 0xF1
)

// InterfaceKind distinguishes a power-line transceiver, which needs the
// phase-set and UID-handshake dance, from a direct-mode (e.g. IP or
// RS-485) interface that does not.
type InterfaceKind uint8

const (
	KindDirect   InterfaceKind = iota
	KindPowerLine
)

// AltPathFlags is a 4-bit bitset of alternate-path routing hints. It is not
// part of Frame and is not encoded: the link header carries only the
// priority bit, a single alt-path bit and the 6-bit delta-backlog.
type AltPathFlags uint8

const (
	AltPathA AltPathFlags = 1 << iota
	AltPathB
	AltPathC
	AltPathD
)

// Frame is one link-layer unit: the 1-byte header plus the NPDU it
// carries.
type Frame struct {
	Priority     bool
	AltPath      bool
	DeltaBacklog uint8 // 6 bits
	NPDU         []byte
}

// header encodes {priority:1, alt-path:1, delta-backlog:6}.
func (f Frame) header() byte {
	var b byte
	if f.Priority {
		b |= 0x80
	}
	if f.AltPath {
		b |= 0x40
	}
	b |= f.DeltaBacklog & 0x3F
	return b
}

func parseHeader(b byte) (priority, altPath bool, backlog uint8) {
	return b&0x80 != 0, b&0x40 != 0, b & 0x3F
}

// Port is the subset of a goserial connection the driver needs: raw,
// non-blocking byte transport. A real interface is backed by
// github.com/daedaluz/goserial; tests supply an in-memory stub.
type Port interface {
	io.ReadWriteCloser
}

// Interface drives one physical USB network interface.
type Interface struct {
	name string
	kind InterfaceKind
	port Port
	st   *metrics.Stats

	uid       [6]byte
	haveUID   bool
	uidTimer  queue.Timer

	xcvrTimer queue.Timer
	phaseLatch bool

	outPriority *queue.Ring[Frame]
	out         *queue.Ring[Frame]
	in          *queue.Ring[Frame]

	rxBuf []byte
}

// NewInterface constructs a driver for one interface over an already-open
// port. queueDepth bounds each of the three link-level queues.
func NewInterface(name string, kind InterfaceKind, port Port, st *metrics.Stats, queueDepth int) *Interface {
	return &Interface{
		name: name, kind: kind, port: port, st: st,
		outPriority: queue.New[Frame](queueDepth),
		out:         queue.New[Frame](queueDepth),
		in:          queue.New[Frame](queueDepth),
	}
}

// Reset restarts the startup handshake: UID acquisition for power-line
// interfaces, and the periodic transceiver-parameter timer.
func (i *Interface) Reset(now int64) {
	i.haveUID = i.kind != KindPowerLine
	if i.kind == KindPowerLine {
		i.uidTimer.SetRepeating(now, 500)
		i.xcvrTimer.SetRepeating(now, 10000)
	}
	i.phaseLatch = false
}

// UID returns the node's unique identifier and whether it is known. A
// direct-mode interface reports ok after Reset, with a zero uid. A
// power-line interface sends the read request every 500 ms, but
// ServiceReceive does not parse the reply, so ok stays false and the
// QUERY_XCVR polling that waits on the UID does not start.
func (i *Interface) UID() (uid [6]byte, ok bool) { return i.uid, i.haveUID }

// EnqueueOutbound queues an NPDU for transmission, priority queue
// preferred. It returns false if the appropriate link queue is full.
func (i *Interface) EnqueueOutbound(f Frame) bool {
	if f.Priority {
		return i.outPriority.Push(f) == nil
	}
	return i.out.Push(f) == nil
}

// ServiceSend drains at most one frame into the port: the priority queue
// is preferred over the non-priority one, per section 4.A.
func (i *Interface) ServiceSend(now int64) {
	if i.kind == KindPowerLine && i.phaseLatch {
		i.sendPhaseSet()
		i.phaseLatch = false
	}
	if !i.haveUID && i.uidTimer.Expired(now) {
		i.sendUIDRequest()
		return
	}
	if i.haveUID && i.kind == KindPowerLine && i.xcvrTimer.Expired(now) {
		i.sendQueryXcvr()
	}

	f, ok := i.outPriority.Pop()
	if !ok {
		f, ok = i.out.Pop()
	}
	if !ok {
		return
	}
	i.transmit(f)
}

func (i *Interface) transmit(f Frame) {
	pdu := append([]byte{f.header()}, f.NPDU...)
	buf := append([]byte{byte(CmdOutboundL2), byte(len(pdu))}, pdu...)
	n, err := i.port.Write(buf)
	if err != nil || n != len(buf) {
		i.st.LcsTxFailure.Inc()
	}
}

func (i *Interface) sendUIDRequest() {
	// {cmd=local-NM, read memory, read-only-relative offset 0, length 6}
	_, err := i.port.Write([]byte{byte(CmdLocalNM), 0x00, 0x00, 0x06})
	if err != nil {
		i.st.LcsTxError.Inc()
	}
}

func (i *Interface) sendQueryXcvr() {
	_, err := i.port.Write([]byte{byte(CmdQueryXcvr)})
	if err != nil {
		i.st.LcsTxError.Inc()
	}
}

func (i *Interface) sendPhaseSet() {
	_, err := i.port.Write([]byte{byte(CmdNicbReset), 0x01})
	if err != nil {
		i.st.LcsTxError.Inc()
	}
}

// ServiceReceive reads at most one frame from the port and, if it is an
// admissible inbound L2 unit, enqueues it to the network-in queue.
func (i *Interface) ServiceReceive() {
	buf := make([]byte, 256)
	n, err := i.port.Read(buf)
	if err != nil || n == 0 {
		return
	}
	frame := buf[:n]

	cmd := Command(frame[0])
	switch cmd {
	case CmdTxError:
		i.st.LcsTxError.Inc()
		return
	case CmdRxError:
		i.st.LcsRxError.Inc()
		return
	case CmdNicbReset:
		if i.kind == KindPowerLine {
			i.phaseLatch = true
		}
		return
	}

	if cmd != CmdInboundL2Mode2 {
		if i.kind == KindPowerLine {
			i.phaseLatch = true
		}
		return
	}
	if len(frame) < 8 {
		i.st.LcsTxError.Inc() // short mode-2 frame: CRC failure on the wire
		return
	}
	if len(frame) < 2 {
		return
	}
	length := int(frame[1])
	if 2+length > len(frame) {
		i.st.LcsRxError.Inc()
		return
	}
	pdu := frame[2 : 2+length]

	if len(pdu) == 0 || pdu[0] != byte(CmdLocalNM) {
		i.st.LcsMissed.Inc()
		return
	}
	pdu = pdu[1:]

	if len(pdu) < 4 { // 1 link header + 3 trailing framing bytes minimum
		return
	}
	hdr := pdu[0]
	npdu := pdu[1 : len(pdu)-3]

	if i.kind == KindPowerLine && isQueryXcvrReply(npdu) {
		// Transceiver-parameter responses are intercepted, never
		// forwarded to the network layer.
		return
	}

	priority, altPath, backlog := parseHeader(hdr)
	f := Frame{Priority: priority, AltPath: altPath, DeltaBacklog: backlog, NPDU: append([]byte(nil), npdu...)}
	if i.in.Push(f) != nil {
		i.st.LcsMissed.Inc()
	}
}

func isQueryXcvrReply(npdu []byte) bool {
	return len(npdu) > 0 && npdu[0] == byte(CmdQueryXcvr)
}

// Inbound returns the next admitted frame from the network-in queue, if
// any.
func (i *Interface) Inbound() (Frame, bool) { return i.in.Pop() }

// Close releases the underlying port.
func (i *Interface) Close() error { return i.port.Close() }
