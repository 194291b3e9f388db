package inventory

import (
	"testing"

	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
)

func newTestInventory(t *testing.T, initial map[string]int) *Inventory {
	t.Helper()
	log := logging.NewDefault("inventory-test")
	log.ToggleDebug(false)
	return New(initial, NewMemoryLog(), nil, log)
}

func TestReserve_SufficientStockDecrements(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 50, "MSFT": 75})

	id := inv.Reserve(map[string]int{"AAPL": 10, "MSFT": 10})
	if id != 0 {
		t.Fatalf("expected first reservation id 0, got %d", id)
	}
	if got := inv.Available("AAPL"); got != 40 {
		t.Fatalf("AAPL available = %d, want 40", got)
	}
	if got := inv.Available("MSFT"); got != 65 {
		t.Fatalf("MSFT available = %d, want 65", got)
	}
}

func TestReserve_InsufficientStockRestoresPartials(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AERO": 50})

	id := inv.Reserve(map[string]int{"AERO": 100})
	if id != ReservationFailed {
		t.Fatalf("expected ReservationFailed, got %d", id)
	}
	if got := inv.Available("AERO"); got != 50 {
		t.Fatalf("AERO available = %d, want unchanged 50", got)
	}
}

func TestReserve_UnknownSymbolFails(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})

	id := inv.Reserve(map[string]int{"AAPL": 5, "ZZZZ": 1})
	if id != ReservationFailed {
		t.Fatalf("expected ReservationFailed for unknown symbol, got %d", id)
	}
	if got := inv.Available("AAPL"); got != 10 {
		t.Fatalf("AAPL must be restored, got %d", got)
	}
}

func TestPreCommitThenExecute_FullLifecycle(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})

	if code := inv.PreCommit(id); code != PreCommitOK {
		t.Fatalf("precommit code = %d, want %d", code, PreCommitOK)
	}
	if code := inv.Execute(id); code != ExecuteOK {
		t.Fatalf("execute code = %d, want %d", code, ExecuteOK)
	}
	r, _ := inv.Reservation(id)
	if r.Status != StatusCommitted {
		t.Fatalf("status = %s, want committed", r.Status)
	}
}

func TestExecute_TwiceIsRejected(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})
	inv.PreCommit(id)
	inv.Execute(id)

	if code := inv.Execute(id); code != ExecuteAlreadyCommitted {
		t.Fatalf("second execute code = %d, want %d", code, ExecuteAlreadyCommitted)
	}
}

func TestExecute_WithoutPreCommitIsRejected(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})

	if code := inv.Execute(id); code != ExecuteNotPreCommitted {
		t.Fatalf("execute without precommit code = %d, want %d", code, ExecuteNotPreCommitted)
	}
}

func TestCancel_ReservedRestoresStock(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})

	if code := inv.Cancel(id); code != CancelOK {
		t.Fatalf("cancel code = %d, want %d", code, CancelOK)
	}
	if got := inv.Available("AAPL"); got != 10 {
		t.Fatalf("AAPL available = %d, want restored 10", got)
	}
}

func TestCancel_AfterCommitIsNoOp(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})
	inv.PreCommit(id)
	inv.Execute(id)

	if code := inv.Cancel(id); code != CancelWrongState {
		t.Fatalf("cancel after commit code = %d, want %d", code, CancelWrongState)
	}
	if got := inv.Available("AAPL"); got != 0 {
		t.Fatalf("committed stock must not be restored, got %d available", got)
	}
}

func TestHandleTimeout_ReservedCancels(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})

	inv.HandleTimeout(id)
	r, _ := inv.Reservation(id)
	if r.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", r.Status)
	}
	if got := inv.Available("AAPL"); got != 10 {
		t.Fatalf("AAPL available = %d, want restored 10", got)
	}
}

func TestHandleTimeout_PreCommitExecutes(t *testing.T) {
	inv := newTestInventory(t, map[string]int{"AAPL": 10})
	id := inv.Reserve(map[string]int{"AAPL": 10})
	inv.PreCommit(id)

	inv.HandleTimeout(id)
	r, _ := inv.Reservation(id)
	if r.Status != StatusCommitted {
		t.Fatalf("status = %s, want committed via the 3PC safety rule", r.Status)
	}
}

func TestApplyScheduledIssuance_UnlocksAtMatchingTick(t *testing.T) {
	log := logging.NewDefault("inventory-test")
	log.ToggleDebug(false)
	schedule := []ScheduledIssuance{{Date: "1/6/2020", Time: "09:00", Symbol: "AAPL", Qty: 100}}
	inv := New(map[string]int{"AAPL": 0}, NewMemoryLog(), schedule, log)

	inv.ApplyScheduledIssuance(clock.Tick{Date: "1/5/2020", Time: "09:00"})
	if got := inv.Available("AAPL"); got != 0 {
		t.Fatalf("issuance must not fire before its scheduled tick, got %d", got)
	}

	inv.ApplyScheduledIssuance(clock.Tick{Date: "1/6/2020", Time: "09:00"})
	if got := inv.Available("AAPL"); got != 100 {
		t.Fatalf("issuance must unlock at its scheduled tick, got %d", got)
	}

	inv.ApplyScheduledIssuance(clock.Tick{Date: "1/6/2020", Time: "09:00"})
	if got := inv.Available("AAPL"); got != 100 {
		t.Fatalf("issuance must apply at most once, got %d", got)
	}
}

func TestRecover_RebuildsPreCommittedReservations(t *testing.T) {
	log := logging.NewDefault("inventory-test")
	log.ToggleDebug(false)
	precommitLog := NewMemoryLog()
	inv := New(map[string]int{"AAPL": 10}, precommitLog, nil, log)
	id := inv.Reserve(map[string]int{"AAPL": 10})
	inv.PreCommit(id)

	restarted := New(map[string]int{"AAPL": 0}, precommitLog, nil, log)
	if err := restarted.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	r, ok := restarted.Reservation(id)
	if !ok {
		t.Fatalf("recovered inventory has no record for reservation %d", id)
	}
	if r.Status != StatusCommitted {
		t.Fatalf("recovered status = %s, want committed: the safety rule must finish a precommitted reservation on restart without waiting for the coordinator", r.Status)
	}
	if code := restarted.Execute(id); code != ExecuteAlreadyCommitted {
		t.Fatalf("a second execute after recovery must be rejected, code = %d", code)
	}
}
