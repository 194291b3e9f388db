// Package paxos implements the single-decree election Leslie Lamport's
// algorithm run among a region's peers to pick the next super-peer
// (spec.md section 4.D).
//
// Grounded on original_source/paxos.py's PaxosNode (proposal numbering,
// message shapes, promise/accepted bookkeeping) and restructured around
// transport.Inbound/transport.Send the way pkg/mcast/protocol.go drives
// its own Prepare/Promise/Accept/Accepted-shaped commit protocol through
// RPC. The quorum rule fixes SPEC_FULL.md section 6's Open Question: a
// proposal needs a strict majority, not >= half, of the peers.
package paxos

import (
	"context"
	"sync"
	"time"

	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/transport"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

// CollectionWindow bounds how long a proposer waits for Promise/Accepted
// replies before deciding the round failed, mirroring the original's use
// of a fixed gathering window around process_paxos's isReceiving flag.
const CollectionWindow = 5 * time.Second

// Peer is one other region member a proposer sends Prepare/Accept to.
type Peer struct {
	Name    string
	Address string
	Port    int
}

// Quorum reports whether count acceptances out of total peers (including
// the proposer itself) forms a strict majority.
func Quorum(count, total int) bool {
	return count > total/2
}

// Node tracks one peer's acceptor state for region Group: the highest
// proposal number it has promised, and the proposal (if any) it has
// accepted. It also acts as proposer when this peer contests an election.
type Node struct {
	log logging.Logger

	mu          sync.Mutex
	Group       int
	Name        string
	Address     string
	Port        int
	PeerNum     int
	electionNum int
	promise     int
	accepted    int
}

// NewNode constructs an acceptor/proposer for one region member.
func NewNode(group int, name, address string, port, peerNum int, log logging.Logger) *Node {
	return &Node{
		log:     log,
		Group:   group,
		Name:    name,
		Address: address,
		Port:    port,
		PeerNum: peerNum,
	}
}

// SetPeerNum updates the proposer tiebreak id once the directory or a
// super-peer has assigned one, since a Paxos Node is constructed before
// registration completes.
func (n *Node) SetPeerNum(peerNum int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PeerNum = peerNum
}

// HandlePrepare implements process_paxos's Prepare branch: promise the
// proposal if it strictly exceeds anything already promised.
func (n *Node) HandlePrepare(msg wire.Message) (wire.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if msg.Seq <= n.promise {
		return wire.Message{}, false
	}
	n.promise = msg.Seq
	n.log.Debugf("paxos: region %d promising seq %d to %s", n.Group, msg.Seq, msg.Name)
	return wire.Message{
		Action:   wire.ActionPromise,
		Group:    n.Group,
		Name:     n.Name,
		PortNum:  n.Port,
		Accepted: acceptedPtr(n.accepted),
	}, true
}

// HandleAccept implements process_paxos's Accept branch: only a proposal
// matching the outstanding promise is accepted.
func (n *Node) HandleAccept(msg wire.Message) (wire.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.promise != msg.Seq {
		return wire.Message{}, false
	}
	n.accepted = msg.Seq
	n.electionNum = msg.ElecNum
	n.log.Debugf("paxos: region %d accepted seq %d (elecNum=%d)", n.Group, msg.Seq, msg.ElecNum)
	return wire.Message{
		Action:   wire.ActionAccepted,
		Group:    n.Group,
		Name:     n.Name,
		PortNum:  n.Port,
		Accepted: acceptedPtr(n.accepted),
	}, true
}

func acceptedPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// Propose runs one full Prepare/Promise/Accept/Accepted round against
// peers and reports whether this node won a strict majority. On success
// the caller becomes the region's new super-peer at the returned election
// number.
func (n *Node) Propose(ctx context.Context, peers []Peer) (won bool, electionNum int, err error) {
	n.mu.Lock()
	n.electionNum++
	elecNum := n.electionNum
	seq := elecNum*100 + n.PeerNum
	n.promise = seq
	n.mu.Unlock()

	prepare := wire.Message{
		Action:  wire.ActionPrepare,
		Group:   n.Group,
		Name:    n.Name,
		PortNum: n.Port,
		Seq:     seq,
		ElecNum: elecNum,
	}
	promises := n.broadcastAndCollect(ctx, peers, prepare, wire.ActionPromise)
	// The proposer implicitly promises itself.
	if !Quorum(promises+1, len(peers)+1) {
		n.log.Warnf("paxos: region %d proposal seq %d failed to reach promise quorum (%d/%d)",
			n.Group, seq, promises+1, len(peers)+1)
		return false, elecNum, nil
	}

	accept := wire.Message{
		Action:  wire.ActionAccept,
		Group:   n.Group,
		Name:    n.Name,
		PortNum: n.Port,
		Seq:     seq,
		ElecNum: elecNum,
	}
	accepts := n.broadcastAndCollect(ctx, peers, accept, wire.ActionAccepted)
	n.mu.Lock()
	n.accepted = seq
	n.mu.Unlock()
	if !Quorum(accepts+1, len(peers)+1) {
		n.log.Warnf("paxos: region %d proposal seq %d failed to reach accept quorum (%d/%d)",
			n.Group, seq, accepts+1, len(peers)+1)
		return false, elecNum, nil
	}

	n.log.Infof("paxos: region %d won election at elecNum=%d", n.Group, elecNum)
	return true, elecNum, nil
}

// broadcastAndCollect sends msg to every peer and counts replies matching
// wantAction received within CollectionWindow, reproducing the original's
// isReceiving-gated response collection but bounded by a context deadline
// rather than an unbounded flag.
func (n *Node) broadcastAndCollect(ctx context.Context, peers []Peer, msg wire.Message, wantAction wire.Action) int {
	if len(peers) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, CollectionWindow)
	defer cancel()

	replies := make(chan bool, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			reply, err := transport.Send(p.Address, p.Port, msg, true, CollectionWindow, 1)
			if err != nil || reply == nil {
				replies <- false
				return
			}
			replies <- reply.Action == wantAction
		}()
	}

	count := 0
	for i := 0; i < len(peers); i++ {
		select {
		case ok := <-replies:
			if ok {
				count++
			}
		case <-ctx.Done():
			return count
		}
	}
	return count
}
