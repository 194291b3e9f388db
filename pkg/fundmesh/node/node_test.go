package node

import (
	"testing"

	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

func newTestNode(name string) *Node {
	log := logging.NewDefault("node-test-" + name)
	log.ToggleDebug(false)
	return New(Config{Group: 1, Name: name, Address: "127.0.0.1", Port: 1}, log)
}

func TestCheckMessage_RejectsEmptyOrigin(t *testing.T) {
	n := newTestNode("A")
	if n.checkMessage(wire.Message{Orig: ""}) {
		t.Fatal("an envelope with no origin must never be accepted")
	}
}

func TestCheckMessage_AcceptsClientOriginatedWithNoMsgNum(t *testing.T) {
	n := newTestNode("A")
	msg := wire.Message{Orig: "client", MsgNum: 0}
	if !n.checkMessage(msg) {
		t.Fatal("a client-originated envelope (no msgNum) must always be accepted")
	}
	if !n.checkMessage(msg) {
		t.Fatal("repeating a no-msgNum envelope must still be accepted")
	}
}

func TestCheckMessage_DedupsRepeatedMsgNum(t *testing.T) {
	n := newTestNode("A")
	msg := wire.Message{Orig: "B", MsgNum: 7}
	if !n.checkMessage(msg) {
		t.Fatal("first delivery of (B, 7) must be accepted")
	}
	if n.checkMessage(msg) {
		t.Fatal("second delivery of (B, 7) must be rejected as a duplicate")
	}
}

func TestCheckMessage_WindowBoundsMemoryPerOrigin(t *testing.T) {
	n := newTestNode("A")
	for i := 0; i < dedupWindow+10; i++ {
		n.checkMessage(wire.Message{Orig: "B", MsgNum: i})
	}
	if len(n.dedup["B"]) > dedupWindow {
		t.Fatalf("dedup memory for one origin grew past dedupWindow: %d", len(n.dedup["B"]))
	}
}

func TestNextRouteEnvelope_IncrementsMsgNum(t *testing.T) {
	n := newTestNode("A")
	first := n.nextRouteEnvelope("B", wire.ActionReserve)
	second := n.nextRouteEnvelope("B", wire.ActionReserve)
	if second.MsgNum <= first.MsgNum {
		t.Fatalf("msgNum must strictly increase: %d then %d", first.MsgNum, second.MsgNum)
	}
	if first.Orig != "A" || first.Dest != "B" || first.ExchangeAction != wire.ActionReserve {
		t.Fatalf("unexpected envelope: %+v", first)
	}
}

func TestNextRouteEnvelope_PathMarksSuperPeerRole(t *testing.T) {
	n := newTestNode("A")
	n.role = roleSuperPeer
	msg := n.nextRouteEnvelope("B", wire.ActionCommit)
	if msg.Path != "A (Super)" {
		t.Fatalf("super-peer path annotation missing: %q", msg.Path)
	}
}

func TestHandleRegisterFromPeer_RejectsWhenNotSuperPeer(t *testing.T) {
	n := newTestNode("A")
	reply := n.handleRegisterFromPeer(wire.Message{Name: "B", PortNum: 2})
	if reply.Action != "" {
		t.Fatalf("a plain peer must not hand out peer numbers, got %+v", reply)
	}
}

func TestHandleRegisterFromPeer_AssignsIncreasingPeerNumbers(t *testing.T) {
	n := newTestNode("A")
	n.role = roleSuperPeer
	first := n.handleRegisterFromPeer(wire.Message{Name: "B", PortNum: 2})
	second := n.handleRegisterFromPeer(wire.Message{Name: "C", PortNum: 3})
	if first.Action != wire.ActionRegisterOK || second.Action != wire.ActionRegisterOK {
		t.Fatalf("expected RegisterOK replies, got %+v / %+v", first, second)
	}
	if second.PeerNum <= first.PeerNum {
		t.Fatalf("peer numbers must strictly increase: %d then %d", first.PeerNum, second.PeerNum)
	}
	if _, ok := n.peerList["B"]; !ok {
		t.Fatal("registered peer B must be recorded in the peer list")
	}
}
