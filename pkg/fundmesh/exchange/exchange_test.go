package exchange

import (
	"sync"
	"testing"
	"time"

	"github.com/jabolina/fundmesh/pkg/fundmesh/catalogue"
	"github.com/jabolina/fundmesh/pkg/fundmesh/inventory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

// fakeRouter routes Reserve/PreCommit/Commit/Cancel synchronously into a
// peer Exchange map, standing in for the overlay node package.
type fakeRouter struct {
	mu        sync.Mutex
	exchanges map[string]*Exchange
	self      string
	acks      []wire.Result
	orderNums []int
}

func (r *fakeRouter) SendReserve(exchange string, orderNumber int, stocks map[string]int) {
	r.exchanges[exchange].HandleReserve(r.self, orderNumber, stocks)
}

func (r *fakeRouter) SendReserveAck(origin string, orderNumber, reservationNumber int) {
	r.exchanges[origin].ReceiveReservationResponse(orderNumber, r.self, reservationNumber)
}

func (r *fakeRouter) SendPreCommit(exchange string, orderNumber, reservationNumber int) {
	r.exchanges[exchange].HandlePreCommit(r.self, orderNumber, reservationNumber)
}

func (r *fakeRouter) SendPreCommitAck(origin string, orderNumber, reservationNumber int) {
	r.exchanges[origin].ReceivePreCommitResponse(orderNumber, reservationNumber)
}

func (r *fakeRouter) SendCommit(exchange string, reservationNumber int) {
	r.exchanges[exchange].HandleCommit(reservationNumber)
}

func (r *fakeRouter) SendCancel(exchange string, reservationNumber int) {
	r.exchanges[exchange].HandleCancelReservation(reservationNumber)
}

func (r *fakeRouter) NotifyClient(clientPort, orderNumber int, result wire.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, result)
	r.orderNums = append(r.orderNums, orderNumber)
}

func (r *fakeRouter) waitForAck(t *testing.T) (wire.Result, int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.acks) > 0 {
			result, order := r.acks[0], r.orderNums[0]
			r.mu.Unlock()
			return result, order
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for client notification")
	return "", 0
}

func newLog(t *testing.T) logging.Logger {
	t.Helper()
	log := logging.NewDefault("exchange-test")
	log.ToggleDebug(false)
	return log
}

func TestReceiveBuyOrder_SingleRegionSuccess(t *testing.T) {
	cat := catalogue.Catalogue{"FUND1": {"ExA": {"AAPL": 10, "MSFT": 10}}}
	inv := inventory.New(map[string]int{"AAPL": 50, "MSFT": 75}, inventory.NewMemoryLog(), nil, newLog(t))
	router := &fakeRouter{exchanges: make(map[string]*Exchange), self: "ExA"}
	exA := New("ExA", inv, cat, router, newLog(t))
	router.exchanges["ExA"] = exA

	orderNumber, err := exA.ReceiveBuyOrder("FUND1", 1, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, gotOrder := router.waitForAck(t)
	if result != wire.ResultOK {
		t.Fatalf("expected OK, got %s", result)
	}
	if gotOrder != orderNumber {
		t.Fatalf("order number mismatch: %d != %d", gotOrder, orderNumber)
	}
	if got := inv.Available("AAPL"); got != 40 {
		t.Fatalf("AAPL available = %d, want 40", got)
	}
	if got := inv.Available("MSFT"); got != 65 {
		t.Fatalf("MSFT available = %d, want 65", got)
	}
}

func TestReceiveBuyOrder_UnknownFundRejectedSynchronously(t *testing.T) {
	cat := catalogue.Catalogue{"FUND1": {"ExA": {"AAPL": 10}}}
	inv := inventory.New(map[string]int{"AAPL": 50}, inventory.NewMemoryLog(), nil, newLog(t))
	router := &fakeRouter{exchanges: make(map[string]*Exchange), self: "ExA"}
	exA := New("ExA", inv, cat, router, newLog(t))

	_, err := exA.ReceiveBuyOrder("NOSUCHFUND", 1, 5000)
	if err == nil {
		t.Fatal("expected an error for an unknown fund")
	}
	if len(router.acks) != 0 {
		t.Fatal("unknown fund must not create an order or notify the client")
	}
}

func TestReceiveBuyOrder_TwoRegionSuccess(t *testing.T) {
	cat := catalogue.Catalogue{"FUND2": {"ExA": {"AAPL": 10}, "ExB": {"SAP": 20}}}
	invA := inventory.New(map[string]int{"AAPL": 50}, inventory.NewMemoryLog(), nil, newLog(t))
	invB := inventory.New(map[string]int{"SAP": 50}, inventory.NewMemoryLog(), nil, newLog(t))

	exchanges := make(map[string]*Exchange)
	routerA := &fakeRouter{exchanges: exchanges, self: "ExA"}
	routerB := &fakeRouter{exchanges: exchanges, self: "ExB"}
	exA := New("ExA", invA, cat, routerA, newLog(t))
	exB := New("ExB", invB, cat, routerB, newLog(t))
	exchanges["ExA"] = exA
	exchanges["ExB"] = exB

	orderNumber, err := exA.ReceiveBuyOrder("FUND2", 1, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, gotOrder := routerA.waitForAck(t)
	if result != wire.ResultOK {
		t.Fatalf("expected OK, got %s", result)
	}
	if gotOrder != orderNumber {
		t.Fatalf("order number mismatch: %d != %d", gotOrder, orderNumber)
	}
	if got := invA.Available("AAPL"); got != 40 {
		t.Fatalf("AAPL available = %d, want 40", got)
	}
	if got := invB.Available("SAP"); got != 30 {
		t.Fatalf("SAP available = %d, want 30", got)
	}

	rA, ok := invA.Reservation(0)
	if !ok || rA.Status != inventory.StatusCommitted {
		t.Fatalf("ExA's leg must reach committed, got %+v (ok=%v)", rA, ok)
	}
	rB, ok := invB.Reservation(0)
	if !ok || rB.Status != inventory.StatusCommitted {
		t.Fatalf("ExB's leg must reach committed, got %+v (ok=%v)", rB, ok)
	}
}

func TestReceiveBuyOrder_RemoteFailureAbortsAndRestoresLocal(t *testing.T) {
	cat := catalogue.Catalogue{"FUND2": {"ExA": {"AAPL": 10}, "ExB": {"SAP": 200}}}
	invA := inventory.New(map[string]int{"AAPL": 50}, inventory.NewMemoryLog(), nil, newLog(t))
	invB := inventory.New(map[string]int{"SAP": 50}, inventory.NewMemoryLog(), nil, newLog(t))

	exchanges := make(map[string]*Exchange)
	routerA := &fakeRouter{exchanges: exchanges, self: "ExA"}
	routerB := &fakeRouter{exchanges: exchanges, self: "ExB"}
	exA := New("ExA", invA, cat, routerA, newLog(t))
	exB := New("ExB", invB, cat, routerB, newLog(t))
	exchanges["ExA"] = exA
	exchanges["ExB"] = exB

	orderNumber, err := exA.ReceiveBuyOrder("FUND2", 1, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, gotOrder := routerA.waitForAck(t)
	if result != wire.ResultTimeout {
		t.Fatalf("expected Timeout on remote failure, got %s", result)
	}
	if gotOrder != orderNumber {
		t.Fatalf("order number mismatch: %d != %d", gotOrder, orderNumber)
	}
	if got := invA.Available("AAPL"); got != 50 {
		t.Fatalf("ExA's reservation must be cancelled and restored, got %d", got)
	}
}
