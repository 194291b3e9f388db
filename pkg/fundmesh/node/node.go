// Package node implements the two-tier peer/super-peer overlay every
// fundmesh process runs (spec.md section 4.C): registration with the
// directory, peer-list/super-peer-list maintenance, dedup'd routing, and
// election triggering when a super-peer goes dark. It owns one
// exchange.Exchange and satisfies exchange.Router so the 3PC roles never
// touch the network or the request queue directly.
//
// Grounded on original_source/Node.py (register/set_superpeer/send_message/
// process/check_message) and restructured around the single-consumer
// poll loop pkg/mcast/protocol.go's Unity uses instead of Node.py's
// shared Queue drained by one Thread -- the same discipline, a Go
// channel standing in for the Python queue (spec.md section 5).
package node

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jabolina/fundmesh/pkg/fundmesh/catalogue"
	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/exchange"
	"github.com/jabolina/fundmesh/pkg/fundmesh/inventory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/paxos"
	"github.com/jabolina/fundmesh/pkg/fundmesh/transport"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

// dedupWindow bounds the FIFO of remembered (orig, msgNum) pairs per
// origin (spec.md section 3, "Dedup table").
const dedupWindow = 100

// registerRetryDelay mirrors register()'s "Retrying..." backoff when the
// directory is unreachable.
const registerRetryDelay = 2 * time.Second

// rpcTimeout and rpcRetries bound ordinary overlay sends (Node.py's
// send_to_port defaults of timeout=5, retries=1).
const (
	rpcTimeout = 5 * time.Second
	rpcRetries = 1
)

type role int

const (
	rolePeer role = iota
	roleSuperPeer
)

// Config carries the boot-time parameters a Node needs from its owning
// cmd/fundmesh-node entrypoint (spec.md section 3, "Node identity").
type Config struct {
	Group         int
	Name          string
	Address       string
	Port          int
	DirectoryAddr string
	DirectoryPort int
}

// Node is one overlay participant. dedup is only ever touched from the
// single processor goroutine in Run, since only handleRoute (reached
// exclusively through process) reads or writes it. Every other mutable
// field below is reachable both from that processor goroutine and from
// exchange.Exchange's time.AfterFunc callbacks (schedulePhaseAbort, via
// the Router methods below), so mu guards them --
// the per-node mutex spec.md section 9 allows as an alternative to
// funneling timer-induced sends back through the request channel.
type Node struct {
	log  logging.Logger
	cfg  Config
	trns *transport.Transport

	paxosNode *paxos.Node
	exch      *exchange.Exchange

	mu            sync.Mutex
	role          role
	peerNum       int
	electionNum   int
	superPeerAddr string
	superPeerPort int
	peerList      map[string]wire.PeerEntry
	superpeers    map[string]wire.SuperpeerEntry
	maxPeerNum    int
	msgNum        int
	electing      bool

	dedup map[string][]int

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Node. Call SetExchange once an exchange.Exchange has
// been built with this Node as its Router (the two are mutually
// dependent, per spec.md section 9's "cyclic references" note, so
// construction happens in two steps instead of one circular literal).
func New(cfg Config, log logging.Logger) *Node {
	return &Node{
		log:           log,
		cfg:           cfg,
		superPeerPort: -1,
		peerList:      make(map[string]wire.PeerEntry),
		superpeers:    make(map[string]wire.SuperpeerEntry),
		dedup:         make(map[string][]int),
	}
}

// SetExchange wires this node's 3PC role handler in. Must be called
// before Run.
func (n *Node) SetExchange(exch *exchange.Exchange) {
	n.exch = exch
}

// ListenPort returns the port this node listens on, for callers (tests,
// cmd/fundmesh-node) that need to address it directly.
func (n *Node) ListenPort() int {
	return n.cfg.Port
}

// NewExchange is a convenience constructor building an exchange.Exchange
// already wired to this Node as its Router.
func NewExchange(n *Node, inv *inventory.Inventory, cat catalogue.Catalogue) *exchange.Exchange {
	exch := exchange.New(n.cfg.Name, inv, cat, n, n.log)
	n.SetExchange(exch)
	return exch
}

// Run starts listening, registers with the directory, and drains the
// single request queue until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	trns, err := transport.Listen(fmt.Sprintf("%s:%d", n.cfg.Address, n.cfg.Port), n.log)
	if err != nil {
		return err
	}
	n.trns = trns
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.paxosNode = paxos.NewNode(n.cfg.Group, n.cfg.Name, n.cfg.Address, n.cfg.Port, 0, n.log)

	go n.registerLoop()

	for {
		select {
		case <-n.ctx.Done():
			n.trns.Close()
			return nil
		case in, ok := <-n.trns.Listen():
			if !ok {
				return nil
			}
			n.process(in)
		}
	}
}

// Stop ends the node's processing loop.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

// registerLoop implements register(): retry Register against the
// directory until a reply arrives, then act on RegisterOK/RegisterURSuper.
func (n *Node) registerLoop() {
	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}
		reply, err := transport.Send(n.cfg.DirectoryAddr, n.cfg.DirectoryPort, wire.Message{
			Action:  wire.ActionRegister,
			Group:   n.cfg.Group,
			Name:    n.cfg.Name,
			PortNum: n.cfg.Port,
		}, true, rpcTimeout*2, 1)
		if err != nil {
			n.log.Warnf("node %s: registration failed, retrying. %v", n.cfg.Name, err)
			time.Sleep(registerRetryDelay)
			continue
		}
		switch reply.Action {
		case wire.ActionRegisterOK:
			n.mu.Lock()
			n.superPeerAddr = n.cfg.Address
			n.superPeerPort = reply.PortNum
			n.mu.Unlock()
			n.registerWithSuperPeer()
			return
		case wire.ActionRegisterURSuper:
			n.mu.Lock()
			n.electionNum = reply.ElecNum
			n.mu.Unlock()
			n.becomeSuperPeer()
			return
		default:
			n.log.Warnf("node %s: unexpected registration reply action %s", n.cfg.Name, reply.Action)
			time.Sleep(registerRetryDelay)
		}
	}
}

func (n *Node) registerWithSuperPeer() {
	n.mu.Lock()
	superPeerPort := n.superPeerPort
	n.mu.Unlock()

	reply, err := transport.Send(n.cfg.Address, superPeerPort, wire.Message{
		Action:  wire.ActionRegister,
		Group:   n.cfg.Group,
		Name:    n.cfg.Name,
		PortNum: n.cfg.Port,
	}, true, rpcTimeout, rpcRetries)
	if err != nil {
		n.log.Warnf("node %s: super-peer registration failed. %v", n.cfg.Name, err)
		return
	}
	if reply.Action == wire.ActionRegisterOK {
		n.mu.Lock()
		n.peerNum = reply.PeerNum
		n.electionNum = reply.ElecNum
		n.mu.Unlock()
		n.paxosNode.SetPeerNum(reply.PeerNum)
	}
}

// becomeSuperPeer implements set_superpeer: query the directory for the
// live super-peer list, then broadcast it to peers and super-peers.
func (n *Node) becomeSuperPeer() {
	n.mu.Lock()
	n.role = roleSuperPeer
	n.maxPeerNum = 0
	n.mu.Unlock()

	for {
		if n.querySuperpeers() {
			break
		}
		time.Sleep(5 * time.Second)
	}
	n.broadcastSuperpeerList()
	n.mu.Lock()
	delete(n.peerList, n.cfg.Name)
	n.mu.Unlock()
	n.broadcastPeerList()
	n.log.Infof("node %s: promoted to super-peer for region %d", n.cfg.Name, n.cfg.Group)
}

func (n *Node) querySuperpeers() bool {
	reply, err := transport.Send(n.cfg.DirectoryAddr, n.cfg.DirectoryPort, wire.Message{
		Action: wire.ActionQuery,
		Group:  n.cfg.Group,
	}, true, rpcTimeout, 1)
	if err != nil {
		return false
	}
	n.mu.Lock()
	for _, sp := range reply.SuperPeers {
		if sp.PortNum != -1 {
			n.superpeers[sp.Name] = sp
		}
		if sp.Group == n.cfg.Group {
			n.electionNum = sp.ElecNum
		}
	}
	n.mu.Unlock()
	return true
}

func (n *Node) broadcastSuperpeerList() {
	n.mu.Lock()
	snapshot := make(map[string]wire.SuperpeerEntry, len(n.superpeers))
	for name, sp := range n.superpeers {
		snapshot[name] = sp
	}
	n.mu.Unlock()

	msg := wire.Message{Action: wire.ActionSuperpeerListUpdate, SuperpeerList: snapshot}
	for name, sp := range snapshot {
		if name == n.cfg.Name {
			continue
		}
		if _, err := transport.Send(n.cfg.Address, sp.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: superpeer list send to %s failed. %v", n.cfg.Name, name, err)
		}
	}
}

func (n *Node) broadcastPeerList() {
	n.mu.Lock()
	snapshot := make(map[string]wire.PeerEntry, len(n.peerList))
	for name, p := range n.peerList {
		snapshot[name] = p
	}
	n.mu.Unlock()

	msg := wire.Message{Action: wire.ActionPeerListUpdate, PeerList: snapshot}
	for name, p := range snapshot {
		if name == n.cfg.Name {
			continue
		}
		if _, err := transport.Send(n.cfg.Address, p.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: peer list send to %s failed. %v", n.cfg.Name, name, err)
		}
	}
}

// process is the single consumer every inbound envelope funnels through,
// giving this node mutual exclusion over the dedup table and exchange
// delivery without a lock; mu still guards routing state shared with
// exchange.Exchange's timer callbacks (spec.md section 5 and 9).
func (n *Node) process(in transport.Inbound) {
	msg := in.Message
	switch msg.Action {
	case wire.ActionTimeUpdate:
		in.Respond(wire.Message{})
		n.handleTimeUpdate(msg)
	case wire.ActionRegister:
		in.Respond(n.handleRegisterFromPeer(msg))
	case wire.ActionPeerListUpdate:
		in.Respond(wire.Message{})
		n.mu.Lock()
		n.peerList = msg.PeerList
		n.mu.Unlock()
	case wire.ActionSuperpeerListUpdate:
		in.Respond(wire.Message{})
		n.mu.Lock()
		n.superpeers = msg.SuperpeerList
		n.mu.Unlock()
	case wire.ActionRoute:
		in.Respond(wire.Message{})
		n.handleRoute(msg)
	case wire.ActionPrepare:
		if reply, ok := n.paxosNode.HandlePrepare(msg); ok {
			in.Respond(reply)
		} else {
			in.Respond(wire.Message{})
		}
	case wire.ActionAccept:
		if reply, ok := n.paxosNode.HandleAccept(msg); ok {
			in.Respond(reply)
		} else {
			in.Respond(wire.Message{})
		}
	case wire.ActionTradeMF:
		in.Respond(wire.Message{})
		n.handleTradeMF(msg)
	default:
		in.Respond(wire.Message{})
		n.log.Warnf("node %s: unhandled action %s", n.cfg.Name, msg.Action)
	}
}

func (n *Node) handleTimeUpdate(msg wire.Message) {
	n.mu.Lock()
	isSuper := n.role == roleSuperPeer
	n.mu.Unlock()

	if isSuper {
		n.broadcastPeerList2(wire.Message{Action: wire.ActionTimeUpdate, ServerDate: msg.ServerDate, ServerTime: msg.ServerTime})
	}
	if n.exch != nil {
		n.exch.ApplyScheduledIssuance(clock.Tick{Date: msg.ServerDate, Time: msg.ServerTime})
	}
}

func (n *Node) broadcastPeerList2(msg wire.Message) {
	n.mu.Lock()
	snapshot := make(map[string]wire.PeerEntry, len(n.peerList))
	for name, p := range n.peerList {
		snapshot[name] = p
	}
	n.mu.Unlock()

	for name, p := range snapshot {
		if name == n.cfg.Name {
			continue
		}
		if _, err := transport.Send(n.cfg.Address, p.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: relay to %s failed. %v", n.cfg.Name, name, err)
		}
	}
}

// handleRegisterFromPeer implements the super-peer side of Register:
// assign the next peer_num and reply RegisterOK, then rebroadcast the
// peer list (Node.py's process()'s "Register" branch).
func (n *Node) handleRegisterFromPeer(msg wire.Message) wire.Message {
	n.mu.Lock()
	if n.role != roleSuperPeer {
		n.mu.Unlock()
		n.log.Warnf("node %s: received registration but is not a super-peer", n.cfg.Name)
		return wire.Message{}
	}
	n.maxPeerNum++
	peerNum := n.maxPeerNum
	n.peerList[msg.Name] = wire.PeerEntry{PortNum: msg.PortNum, PeerNum: peerNum}
	elecNum := n.electionNum
	n.mu.Unlock()

	n.broadcastPeerList()
	n.log.Infof("node %s: received registration from %s", n.cfg.Name, msg.Name)
	return wire.Message{Action: wire.ActionRegisterOK, PortNum: n.cfg.Port, PeerNum: peerNum, ElecNum: elecNum}
}

// checkMessage implements check_message: drop any message with an empty
// orig, drop a duplicate (orig, msgNum), and accept a message that has
// an orig but no msgNum (a client-originated envelope) every time.
func (n *Node) checkMessage(msg wire.Message) bool {
	if msg.Orig == "" {
		return false
	}
	if !msg.HasMsgNum() {
		return true
	}
	seen := n.dedup[msg.Orig]
	for _, m := range seen {
		if m == msg.MsgNum {
			return false
		}
	}
	seen = append(seen, msg.MsgNum)
	if len(seen) > dedupWindow {
		seen = seen[len(seen)-dedupWindow:]
	}
	n.dedup[msg.Orig] = seen
	return true
}

// handleRoute implements the "Route" branch of process(): dedup, then
// deliver locally or forward per this node's role (spec.md section 4.C).
// The role/peerList/superpeers read below is snapshotted under mu like
// route's is, since the same fields are written concurrently by
// exchange.Exchange's AfterFunc timer callbacks reaching back in through
// route/forwardToSuperPeer.
func (n *Node) handleRoute(msg wire.Message) {
	if !n.checkMessage(msg) {
		return
	}
	if msg.Dest == n.cfg.Name {
		n.deliverExchangePayload(msg)
		return
	}

	n.mu.Lock()
	isSuper := n.role == roleSuperPeer
	var peer wire.PeerEntry
	var peerOK bool
	var superpeersSnapshot map[string]wire.SuperpeerEntry
	if isSuper {
		peer, peerOK = n.peerList[msg.Dest]
		if !peerOK {
			superpeersSnapshot = make(map[string]wire.SuperpeerEntry, len(n.superpeers))
			for name, sp := range n.superpeers {
				superpeersSnapshot[name] = sp
			}
		}
	}
	n.mu.Unlock()

	if !isSuper {
		n.forwardToSuperPeer(msg)
		return
	}
	msg.Path = msg.Path + "/" + n.cfg.Name + " (Super)"
	if peerOK {
		if _, err := transport.Send(n.cfg.Address, peer.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: forward to peer %s failed. %v", n.cfg.Name, msg.Dest, err)
		}
		return
	}
	for name, sp := range superpeersSnapshot {
		if name == n.cfg.Name || strings.Contains(msg.Path, name) {
			continue
		}
		if _, err := transport.Send(n.cfg.Address, sp.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: flood to super-peer %s failed. %v", n.cfg.Name, name, err)
		}
	}
}

// route implements send_message: a super-peer delivers straight to a
// local peer or floods its super-peer mesh; a peer always hands off to
// its own super-peer, triggering an election first if none is known.
// Reached both from process() (indirectly, via handleRoute/deliverExchangePayload's
// synchronous handlers) and from exchange.Exchange's AfterFunc timer
// callbacks, so the role/peerList/superpeers read is snapshotted under
// mu rather than read live.
func (n *Node) route(msg wire.Message) {
	n.mu.Lock()
	isSuper := n.role == roleSuperPeer
	var peer wire.PeerEntry
	var peerOK bool
	var superpeersSnapshot map[string]wire.SuperpeerEntry
	if isSuper {
		peer, peerOK = n.peerList[msg.Dest]
		if !peerOK {
			superpeersSnapshot = make(map[string]wire.SuperpeerEntry, len(n.superpeers))
			for name, sp := range n.superpeers {
				superpeersSnapshot[name] = sp
			}
		}
	}
	n.mu.Unlock()

	if !isSuper {
		n.forwardToSuperPeer(msg)
		return
	}
	if peerOK {
		if _, err := transport.Send(n.cfg.Address, peer.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: send to peer %s failed. %v", n.cfg.Name, msg.Dest, err)
		}
		return
	}
	for name, sp := range superpeersSnapshot {
		if name == n.cfg.Name {
			continue
		}
		if _, err := transport.Send(n.cfg.Address, sp.PortNum, msg, false, rpcTimeout, rpcRetries); err != nil {
			n.log.Warnf("node %s: send to super-peer %s failed. %v", n.cfg.Name, name, err)
		}
	}
}

func (n *Node) forwardToSuperPeer(msg wire.Message) {
	n.mu.Lock()
	addr, port := n.superPeerAddr, n.superPeerPort
	n.mu.Unlock()

	if port <= 0 {
		n.electSuperPeer()
		n.mu.Lock()
		addr, port = n.superPeerAddr, n.superPeerPort
		n.mu.Unlock()
		if port <= 0 {
			n.log.Warnf("node %s: no super-peer available, dropping routed message to %s", n.cfg.Name, msg.Dest)
			return
		}
	}
	if _, err := transport.Send(addr, port, msg, false, rpcTimeout, rpcRetries); err != nil {
		n.log.Warnf("node %s: super-peer unreachable, triggering election. %v", n.cfg.Name, err)
		n.mu.Lock()
		n.superPeerPort = -1
		n.mu.Unlock()
		n.electSuperPeer()
		n.mu.Lock()
		addr, port = n.superPeerAddr, n.superPeerPort
		n.mu.Unlock()
		if port > 0 {
			if _, err := transport.Send(addr, port, msg, false, rpcTimeout, rpcRetries); err != nil {
				n.log.Warnf("node %s: retry after election still failed. %v", n.cfg.Name, err)
			}
		}
	}
}

// electSuperPeer implements elect_superpeer: run one Paxos round across
// this peer's known peers. Node.py polls peer_list directly; here we
// snapshot it into paxos.Peer values before handing off.
func (n *Node) electSuperPeer() {
	n.mu.Lock()
	if n.electing {
		n.mu.Unlock()
		return
	}
	n.electing = true
	peers := make([]paxos.Peer, 0, len(n.peerList))
	for name, p := range n.peerList {
		if name == n.cfg.Name {
			continue
		}
		peers = append(peers, paxos.Peer{Name: name, Address: n.cfg.Address, Port: p.PortNum})
	}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.electing = false
		n.mu.Unlock()
	}()

	won, elecNum, err := n.paxosNode.Propose(n.ctx, peers)
	if err != nil {
		n.log.Warnf("node %s: election round errored. %v", n.cfg.Name, err)
		return
	}
	if !won {
		n.log.Infof("node %s: election round at elecNum=%d did not reach quorum", n.cfg.Name, elecNum)
		return
	}

	if _, err := transport.Send(n.cfg.DirectoryAddr, n.cfg.DirectoryPort, wire.Message{
		Action:  wire.ActionElection,
		Group:   n.cfg.Group,
		Name:    n.cfg.Name,
		PortNum: n.cfg.Port,
		ElecNum: elecNum,
	}, false, rpcTimeout, rpcRetries); err != nil {
		n.log.Warnf("node %s: failed to notify directory of election win. %v", n.cfg.Name, err)
	}
	n.mu.Lock()
	n.electionNum = elecNum
	n.mu.Unlock()
	n.becomeSuperPeer()
}

// handleTradeMF implements receiving a direct client TradeMF request --
// not Route-wrapped, since the client is an external collaborator outside
// the overlay (spec.md section 2 flow description).
func (n *Node) handleTradeMF(msg wire.Message) {
	if n.exch == nil {
		n.log.Warnf("node %s: received TradeMF before exchange role was wired", n.cfg.Name)
		return
	}
	_, err := n.exch.ReceiveBuyOrder(msg.FundName, msg.Qty, msg.ClientPort)
	if err != nil {
		n.NotifyClient(msg.ClientPort, -1, wire.ResultFail)
	}
}

// deliverExchangePayload routes a Route envelope addressed to this node
// into the matching Exchange handler by ExchangeAction (Exchange.py's
// process_message).
func (n *Node) deliverExchangePayload(msg wire.Message) {
	if n.exch == nil {
		return
	}
	switch msg.ExchangeAction {
	case wire.ActionReserve:
		n.exch.HandleReserve(msg.Orig, msg.OrderNumber, msg.Stocks)
	case wire.ActionReserveAck:
		n.exch.ReceiveReservationResponse(msg.OrderNumber, msg.Orig, msg.ReservationNumber)
	case wire.ActionPreCommit:
		n.exch.HandlePreCommit(msg.Orig, msg.OrderNumber, msg.ReservationNumber)
	case wire.ActionPreCommitAck:
		n.exch.ReceivePreCommitResponse(msg.OrderNumber, msg.ReservationNumber)
	case wire.ActionCommit:
		n.exch.HandleCommit(msg.ReservationNumber)
	case wire.ActionCancelReservation:
		n.exch.HandleCancelReservation(msg.ReservationNumber)
	case wire.ActionCancelPreCommit:
		n.exch.HandleCancelPreCommit(msg.ReservationNumber)
	default:
		n.log.Warnf("node %s: unhandled exchange action %s", n.cfg.Name, msg.ExchangeAction)
	}
}

// ===================== exchange.Router =====================

func (n *Node) nextRouteEnvelope(dest string, exchangeAction wire.Action) wire.Message {
	n.mu.Lock()
	n.msgNum++
	msgNum := n.msgNum
	path := n.cfg.Name
	if n.role == roleSuperPeer {
		path += " (Super)"
	}
	n.mu.Unlock()

	return wire.Message{
		Action:         wire.ActionRoute,
		Orig:           n.cfg.Name,
		Path:           path,
		Dest:           dest,
		MsgNum:         msgNum,
		ExchangeAction: exchangeAction,
	}
}

func (n *Node) SendReserve(exchangeName string, orderNumber int, stocks map[string]int) {
	msg := n.nextRouteEnvelope(exchangeName, wire.ActionReserve)
	msg.OrderNumber = orderNumber
	msg.Stocks = stocks
	n.route(msg)
}

func (n *Node) SendReserveAck(origin string, orderNumber, reservationNumber int) {
	msg := n.nextRouteEnvelope(origin, wire.ActionReserveAck)
	msg.OrderNumber = orderNumber
	msg.ReservationNumber = reservationNumber
	n.route(msg)
}

func (n *Node) SendPreCommit(exchangeName string, orderNumber, reservationNumber int) {
	msg := n.nextRouteEnvelope(exchangeName, wire.ActionPreCommit)
	msg.OrderNumber = orderNumber
	msg.ReservationNumber = reservationNumber
	n.route(msg)
}

func (n *Node) SendPreCommitAck(origin string, orderNumber, reservationNumber int) {
	msg := n.nextRouteEnvelope(origin, wire.ActionPreCommitAck)
	msg.OrderNumber = orderNumber
	msg.ReservationNumber = reservationNumber
	n.route(msg)
}

func (n *Node) SendCommit(exchangeName string, reservationNumber int) {
	msg := n.nextRouteEnvelope(exchangeName, wire.ActionCommit)
	msg.ReservationNumber = reservationNumber
	n.route(msg)
}

func (n *Node) SendCancel(exchangeName string, reservationNumber int) {
	msg := n.nextRouteEnvelope(exchangeName, wire.ActionCancelReservation)
	msg.ReservationNumber = reservationNumber
	n.route(msg)
}

// NotifyClient delivers the terminal TradeMFAck directly to the client's
// listening port -- the client is outside the overlay, so this bypasses
// routing entirely (spec.md section 6, "Client-facing CLI").
func (n *Node) NotifyClient(clientPort, orderNumber int, result wire.Result) {
	if clientPort <= 0 {
		return
	}
	msg := wire.Message{Action: wire.ActionTradeMFAck, Result: result, OrderNumber: orderNumber}
	if _, err := transport.Send(n.cfg.Address, clientPort, msg, false, rpcTimeout, rpcRetries); err != nil {
		n.log.Warnf("node %s: failed to notify client on port %d. %v", n.cfg.Name, clientPort, err)
	}
}
