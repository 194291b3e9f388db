// Package directory implements the registration directory (spec.md
// section 4.B): the singleton rendezvous that assigns one super-peer per
// region, runs Paxos-result elections through, answers super-peer-list
// queries, and broadcasts the logical clock tick.
//
// Grounded on registrationServer.py (ClientThread.run, handle_registration,
// handle_election, handle_super_query, TimeThread), restructured as a
// single-actor poll loop in the manner of pkg/mcast/protocol.go's Unity:
// one goroutine drains one channel of transport.Inbound requests. The
// background tick broadcaster runs on its own goroutine, though, so the
// super-peer table still carries a plain mutex (spec.md section 5's
// explicitly sanctioned fallback) guarding the one piece of state both
// goroutines touch.
package directory

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/transport"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

const (
	// Regions is the number of continental groups (spec.md section 3,
	// "region (0..5)").
	Regions = 6

	// livenessProbes/livenessCooldown mirror registrationServer.py's
	// CONNECTION_TRIALS/CONNECTION_TRIALS_COOLDOWN.
	livenessProbes   = 3
	livenessCooldown = 1 * time.Second

	// probeTimeout is the short, dedicated liveness-probe timeout
	// (registrationServer.py's test_super_peer socket timeout of 0.1s),
	// deliberately distinct from the general RPC timeout so a slow-but-
	// alive super-peer isn't misclassified as dead.
	probeTimeout = 100 * time.Millisecond

	// tickInterval is the registration directory's background clock
	// cadence (registrationServer.py's SLEEP_TIMER).
	tickInterval = 1 * time.Second
)

// slot is one region's super-peer assignment. PortNum == -1 means vacant,
// matching registrationServer.py's SuperPeer defaults.
type slot struct {
	Region      int
	Name        string
	PortNum     int
	ElectionNum int
}

func vacantSlot(region int) slot {
	return slot{Region: region, PortNum: -1, ElectionNum: 0}
}

// Prober reports whether a super-peer at address:port is alive. Tests
// inject a fake prober; production uses transport.Probe.
type Prober func(address string, port int, timeout time.Duration) bool

// Directory is the registration rendezvous actor. slots is guarded by mu
// since tickLoop's broadcastTimeUpdate reads it from its own goroutine
// while process's handlers read and write it from Run's goroutine
// (spec.md section 5's "a simple mutex is acceptable" allowance); tick is
// only ever touched from tickLoop and needs none.
type Directory struct {
	log     logging.Logger
	address string
	trans   *transport.Transport
	prober  Prober

	mu    sync.Mutex
	slots [Regions]slot

	tick clock.Tick

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Directory with every region vacant and the clock set
// to the given initial tick. It does not start listening; call Run.
func New(address string, initial clock.Tick, log logging.Logger) *Directory {
	d := &Directory{
		log:     log,
		address: address,
		prober:  transport.Probe,
		tick:    initial,
	}
	for r := 0; r < Regions; r++ {
		d.slots[r] = vacantSlot(r)
	}
	return d
}

// Run binds the listening port and starts the single processor goroutine
// plus the background tick broadcaster. It blocks until ctx is done.
func (d *Directory) Run(ctx context.Context, port int) error {
	trans, err := transport.Listen(addrWithPort(d.address, port), d.log)
	if err != nil {
		return err
	}
	d.trans = trans
	d.ctx, d.cancel = context.WithCancel(ctx)

	go d.tickLoop()

	for {
		select {
		case <-d.ctx.Done():
			d.trans.Close()
			return nil
		case in, ok := <-d.trans.Listen():
			if !ok {
				return nil
			}
			d.process(in)
		}
	}
}

// Stop ends the directory's processing loop.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Directory) process(in transport.Inbound) {
	switch in.Message.Action {
	case wire.ActionRegister:
		in.Respond(d.handleRegister(in.Message))
	case wire.ActionElection:
		d.handleElection(in.Message)
		in.Respond(wire.Message{})
	case wire.ActionQuery:
		in.Respond(d.handleQuery(in.Message))
	default:
		d.log.Warnf("directory: unhandled action %s", in.Message.Action)
	}
}

// handleRegister implements registrationServer.py's handle_registration
// plus the three-way reclaim/takeover/assign distinction the original
// keeps internally (SPEC_FULL.md section 5 item 1).
func (d *Directory) handleRegister(msg wire.Message) wire.Message {
	region := msg.Group
	if region < 0 || region >= Regions {
		d.log.Warnf("directory: register for out-of-range region %d", region)
		return wire.Message{Action: wire.ActionRegisterOK, PortNum: -1}
	}
	d.mu.Lock()
	s := d.slots[region]
	d.mu.Unlock()

	switch {
	case s.PortNum == msg.PortNum && s.Name == msg.Name && s.PortNum != -1:
		// Same entity reconnecting: reclaim, bump election count.
		d.claimSlot(region, msg.Name, msg.PortNum, s.ElectionNum+1)
		d.log.Infof("directory: %s reclaimed region %d super-peer slot", msg.Name, region)
		return wire.Message{Action: wire.ActionRegisterURSuper, ElecNum: s.ElectionNum + 1}

	case s.PortNum == msg.PortNum && s.Name != msg.Name:
		// A different name took over the old super-peer's port: treat the
		// old super-peer as dead and hand the slot to the newcomer.
		d.claimSlot(region, msg.Name, msg.PortNum, s.ElectionNum+1)
		d.log.Infof("directory: %s took over region %d super-peer port from %s", msg.Name, region, s.Name)
		return wire.Message{Action: wire.ActionRegisterURSuper, ElecNum: s.ElectionNum + 1}

	case s.PortNum == -1:
		d.claimSlot(region, msg.Name, msg.PortNum, 0)
		d.log.Infof("directory: %s is the first super-peer for region %d", msg.Name, region)
		return wire.Message{Action: wire.ActionRegisterURSuper, ElecNum: 0}

	case !d.probeAlive(s.PortNum):
		d.claimSlot(region, msg.Name, msg.PortNum, s.ElectionNum+1)
		d.log.Warnf("directory: region %d super-peer %s unreachable, promoting %s", region, s.Name, msg.Name)
		return wire.Message{Action: wire.ActionRegisterURSuper, ElecNum: s.ElectionNum + 1}

	default:
		return wire.Message{Action: wire.ActionRegisterOK, PortNum: s.PortNum}
	}
}

func (d *Directory) probeAlive(port int) bool {
	for i := 0; i < livenessProbes; i++ {
		if d.prober(d.address, port, probeTimeout) {
			return true
		}
		time.Sleep(livenessCooldown)
	}
	return false
}

func (d *Directory) claimSlot(region int, name string, port int, electionNum int) {
	d.mu.Lock()
	d.slots[region] = slot{Region: region, Name: name, PortNum: port, ElectionNum: electionNum}
	d.mu.Unlock()
}

// handleElection implements handle_election: accept only a strictly
// higher election number from a port that passes the liveness probe, and
// reject an out-of-range region (SPEC_FULL.md section 5 item 2).
func (d *Directory) handleElection(msg wire.Message) {
	region := msg.Group
	if region < 0 || region >= Regions {
		d.log.Warnf("directory: election for out-of-range region %d", region)
		return
	}
	if !d.prober(d.address, msg.PortNum, probeTimeout) {
		d.log.Warnf("directory: election candidate %s:%d failed liveness probe", msg.Name, msg.PortNum)
		return
	}
	d.mu.Lock()
	currentElectionNum := d.slots[region].ElectionNum
	d.mu.Unlock()
	if msg.ElecNum <= currentElectionNum {
		d.log.Warnf("directory: election count %d for region %d too low (current %d)",
			msg.ElecNum, region, currentElectionNum)
		return
	}
	d.claimSlot(region, msg.Name, msg.PortNum, msg.ElecNum)
	d.log.Infof("directory: region %d elected %s (elecNum=%d)", region, msg.Name, msg.ElecNum)
}

func (d *Directory) handleQuery(wire.Message) wire.Message {
	d.mu.Lock()
	snapshot := d.slots
	d.mu.Unlock()

	entries := make([]wire.SuperpeerEntry, 0, Regions)
	for _, s := range snapshot {
		entries = append(entries, wire.SuperpeerEntry{
			Group:   s.Region,
			Name:    s.Name,
			PortNum: s.PortNum,
			ElecNum: s.ElectionNum,
		})
	}
	return wire.Message{Action: wire.ActionQueryAck, SuperPeers: entries}
}

// tickLoop advances the logical clock on a fixed cadence and broadcasts
// TimeUpdate to every live super-peer, mirroring TimeThread.run/
// send_time_update. This mutates d.tick directly (not through the
// request channel): nothing else ever reads or writes d.tick, so no
// locking is needed for it. broadcastTimeUpdate does read d.slots,
// which process's handlers write from the Run goroutine, so that read
// goes through mu like every other d.slots access.
func (d *Directory) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.tick = clock.Advance(d.tick)
			d.broadcastTimeUpdate()
		}
	}
}

func (d *Directory) broadcastTimeUpdate() {
	msg := wire.Message{
		Action:     wire.ActionTimeUpdate,
		ServerDate: d.tick.Date,
		ServerTime: d.tick.Time,
	}
	d.mu.Lock()
	snapshot := d.slots
	d.mu.Unlock()
	for _, s := range snapshot {
		if s.PortNum <= 0 || !d.prober(d.address, s.PortNum, probeTimeout) {
			continue
		}
		if _, err := transport.Send(d.address, s.PortNum, msg, false, 2*time.Second, 1); err != nil {
			d.log.Warnf("directory: time update to %s failed. %v", s.Name, err)
		}
	}
}

func addrWithPort(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}
