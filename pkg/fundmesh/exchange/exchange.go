// Package exchange implements the 3PC coordinator and participant roles
// every exchange node plays for a multi-leg mutual-fund trade (spec.md
// sections 4.E and 4.F). Per SPEC_FULL.md/spec.md section 9's "cyclic
// references" design note, both roles live on one Exchange object
// operating on disjoint state, rather than two heap-linked structures
// referencing each other the way original_source/Exchange.py's
// coordinator and participant code is interleaved in a single class.
package exchange

import (
	"sync"
	"time"

	"github.com/jabolina/fundmesh/pkg/fundmesh/catalogue"
	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/inventory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

// ReservationTimeout bounds both 3PC phases (Exchange.py's
// kReservationTimeout).
const ReservationTimeout = 10 * time.Second

// Leg sentinel values held in an Order's legs map before a real
// reservation number arrives. FAILED reuses inventory.ReservationFailed
// so a leg's value is a valid reservation number in exactly one case:
// it is neither of these two sentinels.
const (
	LegPending = -2
	LegFailed  = inventory.ReservationFailed
)

// Order is the coordinator-side record of one in-flight buy (spec.md
// section 3, "Order").
type Order struct {
	Number       int
	FundName     string
	RequestedQty int
	ClientPort   int
	Legs         map[string]int
}

func (o Order) allLegsSettled() bool {
	for _, v := range o.Legs {
		if v == LegPending {
			return false
		}
	}
	return true
}

func (o Order) allLegsValid() bool {
	for _, v := range o.Legs {
		if v == LegPending || v == LegFailed {
			return false
		}
	}
	return true
}

// Router delivers 3PC envelopes to a named exchange -- locally if
// exchange is this node's own name (the caller is expected to special
// case that before reaching for the network), or through the overlay
// otherwise -- and delivers the final TradeMFAck to a waiting client.
// Implemented by the node package, which alone knows how to route by
// name (spec.md section 4.C).
type Router interface {
	SendReserve(exchange string, orderNumber int, stocks map[string]int)
	SendReserveAck(origin string, orderNumber, reservationNumber int)
	SendPreCommit(exchange string, orderNumber, reservationNumber int)
	SendPreCommitAck(origin string, orderNumber, reservationNumber int)
	SendCommit(exchange string, reservationNumber int)
	SendCancel(exchange string, reservationNumber int)
	NotifyClient(clientPort, orderNumber int, result wire.Result)
}

// Exchange owns one node's inventory, the fund catalogue, and both 3PC
// roles. A single mutex serializes every mutation, satisfying spec.md
// section 9's requirement that timer-induced state changes never
// interleave with network-induced ones: AfterFunc callbacks below always
// take this same lock before touching orders or precommitAcks.
type Exchange struct {
	name      string
	log       logging.Logger
	inv       *inventory.Inventory
	catalogue catalogue.Catalogue
	router    Router

	mu     sync.Mutex
	orders []Order
	// precommitAcks counts precommit acks per order as a multiset, not a
	// set keyed by reservation number: reservation numbers are assigned
	// independently per participant (spec.md section 3, "Pre-commit acks
	// set"), so two legs of the same order can legitimately report the
	// same number. Completion is len(order.Legs) acks received, matching
	// the original's list-length check (Exchange.py's
	// receive_precommit_response, `len(self.precommit_acks[order_number])
	// == len(self.orders[order_number])`).
	precommitAcks map[int]int
	abortTimers   map[int]*time.Timer
}

// New constructs an Exchange for node name, backed by inv and cat, using
// router to reach remote exchanges and waiting clients.
func New(name string, inv *inventory.Inventory, cat catalogue.Catalogue, router Router, log logging.Logger) *Exchange {
	return &Exchange{
		name:          name,
		log:           log,
		inv:           inv,
		catalogue:     cat,
		router:        router,
		precommitAcks: make(map[int]int),
		abortTimers:   make(map[int]*time.Timer),
	}
}

// ===================== 3PC participant (Exchange role) =====================

// HandleReserve implements the participant side of a Reserve request:
// reserve_stocks locally and ack the origin exchange, whether local or
// remote (spec.md section 4.F step 3 / Exchange.py's process_message
// "reserve" branch).
func (e *Exchange) HandleReserve(origin string, orderNumber int, stocks map[string]int) {
	reservationNumber := e.inv.Reserve(stocks)
	if reservationNumber != inventory.ReservationFailed {
		e.scheduleTimeout(reservationNumber)
	}
	e.router.SendReserveAck(origin, orderNumber, reservationNumber)
}

// HandlePreCommit implements the participant side of a PreCommit
// request.
func (e *Exchange) HandlePreCommit(origin string, orderNumber, reservationNumber int) {
	code := e.inv.PreCommit(reservationNumber)
	e.router.SendPreCommitAck(origin, orderNumber, reservationNumber)
	if code != inventory.PreCommitOK {
		e.log.Warnf("exchange %s: precommit of reservation %d failed with code %d", e.name, reservationNumber, code)
	}
}

// HandleCommit implements the participant side of an (unacknowledged)
// Commit message.
func (e *Exchange) HandleCommit(reservationNumber int) {
	if code := e.inv.Execute(reservationNumber); code != inventory.ExecuteOK {
		e.log.Warnf("exchange %s: commit of reservation %d returned code %d", e.name, reservationNumber, code)
	}
}

// HandleCancelReservation and HandleCancelPreCommit both cancel a
// reservation; the original distinguishes the two message types but
// applies the same cancel_reservation logic to either (Exchange.py's
// process_message).
func (e *Exchange) HandleCancelReservation(reservationNumber int) {
	e.inv.Cancel(reservationNumber)
}

func (e *Exchange) HandleCancelPreCommit(reservationNumber int) {
	e.inv.Cancel(reservationNumber)
}

// ApplyScheduledIssuance forwards a logical clock tick relayed from the
// registration directory to this exchange's inventory, unlocking any
// scheduled new-share issuance due at that (date, time) (spec.md section
// 3, "Logical time").
func (e *Exchange) ApplyScheduledIssuance(tick clock.Tick) {
	e.inv.ApplyScheduledIssuance(tick)
}

// scheduleTimeout starts the universal reservation deadline: reserved
// cancels, precommitted executes (spec.md section 4.E, "Timeout
// handler"). inventory.Inventory.HandleTimeout is self-contained, so no
// additional Exchange-level locking is required here.
func (e *Exchange) scheduleTimeout(reservationNumber int) {
	time.AfterFunc(ReservationTimeout, func() {
		e.inv.HandleTimeout(reservationNumber)
	})
}

// ===================== 3PC coordinator =====================

// ReceiveBuyOrder implements receive_buy_order: expand fundName via the
// catalogue into one reservation per participating exchange, issuing
// local reservations directly and remote ones through the router.
func (e *Exchange) ReceiveBuyOrder(fundName string, qty, clientPort int) (int, error) {
	fund, ok := e.catalogue.Lookup(fundName)
	if !ok {
		return 0, errUnknownFund(fundName)
	}

	e.mu.Lock()
	order := Order{
		Number:       len(e.orders),
		FundName:     fundName,
		RequestedQty: qty,
		ClientPort:   clientPort,
		Legs:         make(map[string]int, len(fund)),
	}
	for exchangeName := range fund {
		order.Legs[exchangeName] = LegPending
	}
	e.orders = append(e.orders, order)
	orderNumber := order.Number
	e.mu.Unlock()

	e.schedulePhaseAbort(orderNumber)
	for exchangeName, stocks := range fund {
		if exchangeName == e.name {
			reservationNumber := e.inv.Reserve(stocks)
			if reservationNumber != inventory.ReservationFailed {
				e.scheduleTimeout(reservationNumber)
			}
			e.ReceiveReservationResponse(orderNumber, e.name, reservationNumber)
		} else {
			e.router.SendReserve(exchangeName, orderNumber, stocks)
		}
	}

	return orderNumber, nil
}

// schedulePhaseAbort arms the current phase's abort deadline, replacing
// (and stopping) whichever phase-abort timer orderNumber already had --
// moving from phase 1 to phase 2 must not leave the phase-1 deadline
// ticking alongside the phase-2 one.
func (e *Exchange) schedulePhaseAbort(orderNumber int) {
	timer := time.AfterFunc(ReservationTimeout, func() {
		e.abortValidReservations(orderNumber)
	})
	e.mu.Lock()
	if prev, ok := e.abortTimers[orderNumber]; ok {
		prev.Stop()
	}
	e.abortTimers[orderNumber] = timer
	e.mu.Unlock()
}

// stopAbortTimer cancels orderNumber's pending phase-abort timer. Called
// once an order reaches a terminal state (committed or already aborted)
// so a stale 10s deadline never fires against reservations that already
// settled -- otherwise a successful order would still be cancelled out
// from under the client ten seconds after its TradeMFAck{OK} (spec.md
// section 9).
func (e *Exchange) stopAbortTimer(orderNumber int) {
	e.mu.Lock()
	timer, ok := e.abortTimers[orderNumber]
	if ok {
		delete(e.abortTimers, orderNumber)
	}
	e.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// ReceiveReservationResponse implements receive_reservation_response: on
// any FAILED leg, abort the whole order; once every leg holds a valid
// reservation number, advance to PreCommit.
func (e *Exchange) ReceiveReservationResponse(orderNumber int, origin string, reservationNumber int) {
	e.mu.Lock()
	if orderNumber < 0 || orderNumber >= len(e.orders) {
		e.mu.Unlock()
		e.log.Warnf("exchange %s: reservation response for invalid order %d", e.name, orderNumber)
		return
	}
	order := &e.orders[orderNumber]
	if _, known := order.Legs[origin]; !known {
		e.mu.Unlock()
		e.log.Warnf("exchange %s: order %d has no leg for %s", e.name, orderNumber, origin)
		return
	}
	order.Legs[origin] = reservationNumber

	aborted := false
	for _, v := range order.Legs {
		if v == LegFailed {
			aborted = true
		}
	}
	if aborted {
		e.mu.Unlock()
		e.abortValidReservations(orderNumber)
		return
	}
	if order.allLegsValid() {
		e.mu.Unlock()
		e.schedulePhaseAbort(orderNumber)
		e.sendPreCommitMessages(orderNumber)
		return
	}
	e.mu.Unlock()
}

// abortValidReservations implements __abort_valid_reservations with the
// fixed predicate (spec.md section 9, "Abort-path bug"): a leg value is a
// valid reservation number iff it is neither LegPending nor LegFailed --
// never the exchange-name key the original mistakenly tested. Idempotent:
// once every leg is FAILED, a repeat call finds nothing to cancel.
func (e *Exchange) abortValidReservations(orderNumber int) {
	e.stopAbortTimer(orderNumber)

	e.mu.Lock()
	if orderNumber < 0 || orderNumber >= len(e.orders) {
		e.mu.Unlock()
		return
	}
	order := &e.orders[orderNumber]
	toCancel := make(map[string]int)
	for exchangeName, reservationNumber := range order.Legs {
		if reservationNumber == LegPending || reservationNumber == LegFailed {
			continue
		}
		toCancel[exchangeName] = reservationNumber
		order.Legs[exchangeName] = LegFailed
	}
	clientPort := order.ClientPort
	e.mu.Unlock()

	if len(toCancel) == 0 {
		return
	}
	for exchangeName, reservationNumber := range toCancel {
		if exchangeName == e.name {
			e.inv.Cancel(reservationNumber)
		} else {
			e.router.SendCancel(exchangeName, reservationNumber)
		}
	}
	e.router.NotifyClient(clientPort, orderNumber, wire.ResultTimeout)
}

func (e *Exchange) sendPreCommitMessages(orderNumber int) {
	e.mu.Lock()
	order := e.orders[orderNumber]
	e.precommitAcks[orderNumber] = 0
	e.mu.Unlock()

	for exchangeName, reservationNumber := range order.Legs {
		if exchangeName == e.name {
			e.inv.PreCommit(reservationNumber)
			e.ReceivePreCommitResponse(orderNumber, reservationNumber)
		} else {
			e.router.SendPreCommit(exchangeName, orderNumber, reservationNumber)
		}
	}
}

// ReceivePreCommitResponse implements receive_precommit_response: once
// every leg has acked precommit, send the final (unacknowledged) Commit
// to each and notify the client of success. Acks are counted as a
// multiset -- not deduplicated by reservationNumber -- since reservation
// numbers are assigned independently per participant and two legs of the
// same order can report the same number (spec.md section 3, "Pre-commit
// acks set").
func (e *Exchange) ReceivePreCommitResponse(orderNumber, reservationNumber int) {
	e.mu.Lock()
	count, known := e.precommitAcks[orderNumber]
	if !known {
		e.mu.Unlock()
		e.log.Warnf("exchange %s: precommit ack for non-precommitted order %d (reservation %d)",
			e.name, orderNumber, reservationNumber)
		return
	}
	count++
	order := e.orders[orderNumber]
	complete := count >= len(order.Legs)
	if complete {
		delete(e.precommitAcks, orderNumber)
	} else {
		e.precommitAcks[orderNumber] = count
	}
	e.mu.Unlock()

	if !complete {
		return
	}
	e.stopAbortTimer(orderNumber)
	for exchangeName, resNum := range order.Legs {
		if exchangeName == e.name {
			e.inv.Execute(resNum)
		} else {
			e.router.SendCommit(exchangeName, resNum)
		}
	}
	e.router.NotifyClient(order.ClientPort, orderNumber, wire.ResultOK)
}

type unknownFundError struct{ fund string }

func (e unknownFundError) Error() string { return "exchange: unknown mutual fund " + e.fund }

func errUnknownFund(fund string) error { return unknownFundError{fund: fund} }
