// Package inventory implements the per-exchange stock ledger and
// reservation state machine the 3PC participant role drives (spec.md
// section 4.E). The reservation/commit/cancel semantics and error codes
// are grounded directly on original_source/Exchange.py's reserve_stocks,
// precommit_reservation, execute_reservation, cancel_reservation and
// __timeout_reservation.
package inventory

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
)

// Status is a reservation's position in the 3PC state machine
// (spec.md section 4.E).
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusPreCommit Status = "precommit"
	StatusCommitted Status = "committed"
	StatusCancelled Status = "cancelled"
)

// ReservationFailed is the sentinel reserve_stocks returns when a
// reservation cannot be satisfied (Exchange.py's kReservationFailed).
const ReservationFailed = -1

// Reservation is one participant-side record of tentatively-decremented
// stock, keyed by its 0-based position in the reservation log.
type Reservation struct {
	ID     int            `json:"id"`
	Status Status         `json:"status"`
	Stocks map[string]int `json:"stocks"`
}

// PreCommitError codes mirror precommit_reservation's return values.
const (
	PreCommitOK          = 0
	PreCommitLogFailure  = 1
	PreCommitWrongState  = 2
)

// ExecuteError codes mirror execute_reservation's return values.
const (
	ExecuteOK                  = 0
	ExecuteAlreadyCancelled    = 1
	ExecuteAlreadyCommitted    = 2
	ExecuteUnknownStatus       = 3
	ExecuteNotPreCommitted     = 4
	ExecuteInvalidReservation  = 5
)

// CancelError codes mirror cancel_reservation's return values.
const (
	CancelOK               = 0
	CancelInvalidReservation = 1
	CancelWrongState        = 2
)

// ScheduledIssuance is one row of the external scheduled-delta table
// (spec.md section 6, "Inventory store"): a new-share issuance that
// unlocks once the logical clock reaches (Date, Time).
type ScheduledIssuance struct {
	Date   string
	Time   string
	Symbol string
	Qty    int
}

// LoadSchedule reads the time-keyed scheduled-issuance table (spec.md
// section 6, "Inventory store") from a JSON file holding an array of
// ScheduledIssuance rows. An empty or absent path is not an error -- a
// participant with no scheduled issuance simply never unlocks any
// (mirroring the excluded CSV/DB bootstrap's optional nature, spec.md
// section 1).
func LoadSchedule(path string) ([]ScheduledIssuance, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: read schedule %s", path)
	}
	var rows []ScheduledIssuance
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrapf(err, "inventory: parse schedule %s", path)
	}
	return rows, nil
}

// Log persists precommitted reservations durably so a restarted
// participant can recover and honor the 3PC safety rule (spec.md
// section 9, "Open question: recovery from pre-commit log").
type Log interface {
	Append(r Reservation) error
	LoadAll() (map[int]Reservation, error)
	Close() error
}

// Inventory owns one exchange's available stock quantities and
// reservation log. Every method assumes the caller already serializes
// calls (spec.md section 5's single-processor discipline) except where
// noted; it holds its own mutex only as a defensive backstop, not as the
// primary correctness mechanism.
type Inventory struct {
	log   logging.Logger
	mu    sync.Mutex
	avail map[string]int

	reservations []Reservation
	precommit    Log
	schedule     []ScheduledIssuance
	applied      map[int]bool
}

// New constructs an Inventory seeded with the given available quantities.
// precommitLog may be nil, in which case precommit_reservation always
// fails with PreCommitLogFailure -- mirroring the original's fatal
// behavior when the database is unreachable (spec.md section 7).
func New(initial map[string]int, precommitLog Log, schedule []ScheduledIssuance, log logging.Logger) *Inventory {
	avail := make(map[string]int, len(initial))
	for k, v := range initial {
		avail[k] = v
	}
	return &Inventory{
		log:       log,
		avail:     avail,
		precommit: precommitLog,
		schedule:  schedule,
		applied:   make(map[int]bool),
	}
}

// Available reports the current unreserved quantity of symbol.
func (inv *Inventory) Available(symbol string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.avail[symbol]
}

// Reservation returns a copy of reservation id's current record.
func (inv *Inventory) Reservation(id int) (Reservation, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if id < 0 || id >= len(inv.reservations) {
		return Reservation{}, false
	}
	return inv.reservations[id], true
}

// Reserve atomically decrements every symbol in stocks by its requested
// quantity. If any symbol is unknown or insufficient, every partial
// decrement already applied in this call is undone and ReservationFailed
// is returned; reserve_stocks never errors otherwise.
func (inv *Inventory) Reserve(stocks map[string]int) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	taken := make(map[string]int, len(stocks))
	for symbol, qty := range stocks {
		have, known := inv.avail[symbol]
		if !known || have < qty {
			for s, q := range taken {
				inv.avail[s] += q
			}
			inv.log.Warnf("inventory: reservation failed for %s (requested %d, available %d, known=%v)",
				symbol, qty, have, known)
			return ReservationFailed
		}
		inv.avail[symbol] -= qty
		taken[symbol] = qty
	}

	r := Reservation{
		ID:     len(inv.reservations),
		Status: StatusReserved,
		Stocks: copyStocks(stocks),
	}
	inv.reservations = append(inv.reservations, r)
	return r.ID
}

// PreCommit transitions reservation id from reserved to precommit and
// durably logs it, the irrevocable step in the 3PC safety rule: once
// this returns PreCommitOK, the reservation must eventually commit even
// without further coordinator contact (spec.md section 4.E).
func (inv *Inventory) PreCommit(id int) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if id < 0 || id >= len(inv.reservations) {
		return PreCommitLogFailure
	}
	r := &inv.reservations[id]
	if r.Status != StatusReserved {
		return PreCommitWrongState
	}
	r.Status = StatusPreCommit

	if inv.precommit == nil {
		return PreCommitLogFailure
	}
	if err := inv.precommit.Append(*r); err != nil {
		inv.log.Errorf("inventory: precommit log append failed for reservation %d. %v", id, err)
		return PreCommitLogFailure
	}
	return PreCommitOK
}

// Execute transitions a precommitted reservation to committed. Inventory
// is not touched here -- the decrement already happened at Reserve time.
func (inv *Inventory) Execute(id int) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if id < 0 || id >= len(inv.reservations) {
		return ExecuteInvalidReservation
	}
	r := &inv.reservations[id]
	switch r.Status {
	case StatusCancelled:
		return ExecuteAlreadyCancelled
	case StatusCommitted:
		return ExecuteAlreadyCommitted
	case StatusReserved:
		return ExecuteNotPreCommitted
	case StatusPreCommit:
		r.Status = StatusCommitted
		return ExecuteOK
	default:
		return ExecuteUnknownStatus
	}
}

// Cancel transitions a reserved or precommitted reservation to cancelled
// and returns its stock to the available pool.
func (inv *Inventory) Cancel(id int) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if id < 0 || id >= len(inv.reservations) {
		return CancelInvalidReservation
	}
	r := &inv.reservations[id]
	if r.Status != StatusReserved && r.Status != StatusPreCommit {
		return CancelWrongState
	}
	r.Status = StatusCancelled
	for symbol, qty := range r.Stocks {
		inv.avail[symbol] += qty
	}
	return CancelOK
}

// HandleTimeout implements the 3PC safety rule: a reservation still in
// reserved is cancelled; one already precommitted is executed on its own
// (spec.md section 4.E, "Timeout handler").
func (inv *Inventory) HandleTimeout(id int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if id < 0 || id >= len(inv.reservations) {
		return
	}
	r := &inv.reservations[id]
	switch r.Status {
	case StatusReserved:
		r.Status = StatusCancelled
		for symbol, qty := range r.Stocks {
			inv.avail[symbol] += qty
		}
	case StatusPreCommit:
		r.Status = StatusCommitted
	}
}

// ApplyDelta adds delta (positive or negative) to symbol's available
// quantity, used for out-of-band issuance outside the scheduled table.
func (inv *Inventory) ApplyDelta(symbol string, delta int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.avail[symbol] += delta
}

// ApplyScheduledIssuance consumes the logical clock tick (spec.md
// section 3, "Used by inventory to unlock scheduled new-share issuance")
// and applies every scheduled row whose (date, time) has arrived and has
// not already been applied.
func (inv *Inventory) ApplyScheduledIssuance(tick clock.Tick) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for i, row := range inv.schedule {
		if inv.applied[i] {
			continue
		}
		if row.Date != tick.Date || row.Time != tick.Time {
			continue
		}
		inv.avail[row.Symbol] += row.Qty
		inv.applied[i] = true
		inv.log.Infof("inventory: issuing %d more %s at %s %s", row.Qty, row.Symbol, row.Date, row.Time)
	}
}

// Recover replays the durable precommit log, reconstructing any
// reservation that had passed the point of no return before a restart and
// immediately executing it (resolving the open recovery question in
// spec.md section 9, via the same safety rule HandleTimeout enforces at
// runtime: once precommitted, a reservation commits on its own). Their
// stock was already decremented before the crash, so Recover does not
// touch available quantities.
func (inv *Inventory) Recover() error {
	if inv.precommit == nil {
		return nil
	}
	records, err := inv.precommit.LoadAll()
	if err != nil {
		return err
	}

	inv.mu.Lock()

	maxID := -1
	for id := range records {
		if id > maxID {
			maxID = id
		}
	}
	if maxID < 0 {
		inv.mu.Unlock()
		return nil
	}
	if len(inv.reservations) <= maxID {
		grown := make([]Reservation, maxID+1)
		copy(grown, inv.reservations)
		for i := len(inv.reservations); i <= maxID; i++ {
			grown[i] = Reservation{ID: i, Status: StatusCancelled}
		}
		inv.reservations = grown
	}
	toExecute := make([]int, 0, len(records))
	for id, r := range records {
		inv.reservations[id] = r
		inv.log.Infof("inventory: recovered precommitted reservation %d from durable log", id)
		if r.Status == StatusPreCommit {
			toExecute = append(toExecute, id)
		}
	}
	inv.mu.Unlock()

	// The 3PC safety rule (spec.md section 4.E): a reservation that had
	// reached precommit before the crash must still commit on its own,
	// exactly as the in-memory per-reservation timer would have done had
	// the process stayed up. Execute re-takes inv.mu itself.
	for _, id := range toExecute {
		inv.Execute(id)
	}
	return nil
}

func copyStocks(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
