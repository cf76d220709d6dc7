package tsa

import (
	"testing"

	"github.com/enocean-oss/lon-core/npdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetwork struct {
	sent []Frame
}

func (n *fakeNetwork) Send(f Frame) bool {
	n.sent = append(n.sent, f)
	return true
}

func (n *fakeNetwork) Avail(priority int) int { return 4 }

type fakeApp struct {
	delivered   []Delivery
	completions []CompletionEvent
}

func (a *fakeApp) Deliver(d Delivery) bool {
	a.delivered = append(a.delivered, d)
	return true
}
func (a *fakeApp) Complete(c CompletionEvent) { a.completions = append(a.completions, c) }

type fakeKeys struct {
	key  [12]byte
	mode AuthMode
}

func (k fakeKeys) AuthKey(npdu.DomainIndex) ([12]byte, AuthMode, bool) { return k.key, k.mode, true }
func (k fakeKeys) MyMember(npdu.DomainIndex, uint8) uint8               { return 0 }
func (k fakeKeys) GroupReceiveTimerMS(npdu.DomainIndex, uint8) int64    { return 0 }

func newTestLayer() (*Layer, *fakeApp, *fakeNetwork) {
	app := &fakeApp{}
	net := &fakeNetwork{}
	clock := int64(0)
	l := NewLayer(false, 4, app, fakeKeys{key: [12]byte{1, 2, 3, 4, 5, 6}}, func() int64 { return clock })
	return l, app, net
}

func TestAckdUnicastFirstTrySucceeds(t *testing.T) {
	l, app, net := newTestLayer()

	ok := l.Submit(0, Submission{
		Dest: npdu.SubnetNode(3, 17), Service: ACKD, APDU: []byte{0x2D, 0xAA},
		Tag: 42, RetryCount: 3, RetryTimerMS: 100,
	})
	require.True(t, ok)

	l.ServiceSend(0, net)
	require.Len(t, net.sent, 1)
	assert.Equal(t, AckdMsg, net.sent[0].Msg)
	assert.Equal(t, uint16(1), net.sent[0].TID)

	l.HandleAck(0, 3, 17, 1, 0, nil, net, func() {})
	require.Len(t, app.completions, 1)
	assert.Equal(t, CompletionEvent{Tag: 42, Success: true}, app.completions[0])
}

func TestDuplicateSuppressionReEmitsCachedAck(t *testing.T) {
	l, app, net := newTestLayer()
	domain := npdu.DomainID{}

	l.ReceiveNewMsg(0, 0, 2, 5, npdu.Domain0, domain, npdu.FmtSubnetNode, 0, ACKD, 7, false, false, npdu.ProtocolLegacy, []byte{0xAA}, net, true)
	require.Len(t, app.delivered, 1)
	require.Len(t, net.sent, 1)

	l.ReceiveNewMsg(0, 0, 2, 5, npdu.Domain0, domain, npdu.FmtSubnetNode, 0, ACKD, 7, false, false, npdu.ProtocolLegacy, []byte{0xAA}, net, true)
	assert.Len(t, app.delivered, 1, "must not redeliver a duplicate")
	assert.Len(t, net.sent, 2, "must re-emit the cached ack")
}

func TestAuthenticatedRequestChallengeReplyFlow(t *testing.T) {
	l, app, net := newTestLayer()
	domain := npdu.DomainID{}

	l.ReceiveNewMsg(0, 0, 2, 5, npdu.Domain0, domain, npdu.FmtSubnetNode, 0, Request, 4, true, false, npdu.ProtocolLegacy, []byte{0x51}, net, true)
	require.Empty(t, app.delivered, "must not deliver before authentication completes")
	require.Len(t, net.sent, 1)
	assert.Equal(t, ChallengeMsg, net.sent[0].Msg)

	var rand [8]byte
	copy(rand[:], net.sent[0].Payload)

	l.HandleReply(2, 5, 4, npdu.FmtSubnetNode, 0, Encrypt(rand, []byte{0x51}, [12]byte{1, 2, 3, 4, 5, 6}, AuthClassic, nil), nil, func() { t.Fatal("must not mismatch") }, net)
	require.Len(t, app.delivered, 1)
	assert.True(t, app.delivered[0].AuthPassed)
}

func TestEncryptIsDeterministicAndKeySensitive(t *testing.T) {
	rand := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	apdu := []byte{0xAA, 0xBB, 0xCC}
	key1 := [12]byte{1, 2, 3, 4, 5, 6}
	key2 := [12]byte{9, 9, 9, 9, 9, 9}

	a := Encrypt(rand, apdu, key1, AuthClassic, nil)
	b := Encrypt(rand, apdu, key1, AuthClassic, nil)
	c := Encrypt(rand, apdu, key2, AuthClassic, nil)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEncryptOMAFoldsAddressBytes(t *testing.T) {
	rand := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	apdu := []byte{0xAA}
	key := [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	withAddr := Encrypt(rand, apdu, key, AuthOMA, []byte{1, 2, 3, 4, 5, 6, 7})
	withoutAddr := Encrypt(rand, apdu, key, AuthOMA, nil)
	assert.NotEqual(t, withAddr, withoutAddr)
}

func TestPostResponseNullTransitionsToDone(t *testing.T) {
	l, _, net := newTestLayer()
	domain := npdu.DomainID{}
	l.ReceiveNewMsg(0, 0, 2, 5, npdu.Domain0, domain, npdu.FmtSubnetNode, 0, Request, 9, false, false, npdu.ProtocolLegacy, []byte{1}, net, true)

	rec := &l.recv[0]
	rec.ReqID = l.NextReqID()

	require.True(t, l.PostResponse(rec.ReqID, nil))
	assert.Equal(t, Done, rec.State)
}
