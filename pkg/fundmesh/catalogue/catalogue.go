// Package catalogue loads the static mutual-fund catalogue (spec.md
// section 6, "Fund catalogue file"): a JSON mapping from fund name to
// the per-exchange stock baskets a share of that fund requires.
//
// Grounded on original_source/Exchange.py's constructor, which loads
// `MutualFunds.json` at startup and treats a missing or malformed file
// as fatal.
package catalogue

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Leg is one exchange's contribution to a fund: stock symbol to quantity.
type Leg map[string]int

// Fund maps exchange name to that exchange's Leg for one mutual fund.
type Fund map[string]Leg

// Catalogue maps fund name to its per-exchange composition.
type Catalogue map[string]Fund

// Load reads and parses the catalogue file at path. A missing or
// malformed catalogue is a fatal startup condition (spec.md section 7);
// Load returns the error and leaves the fatal-exit decision to the
// caller (cmd/fundmesh-node), matching the rest of this module's no-panic
// error handling.
func Load(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "catalogue: read %s", path)
	}
	var c Catalogue
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "catalogue: parse %s", path)
	}
	if len(c) == 0 {
		return nil, errors.Errorf("catalogue: %s contains no funds", path)
	}
	return c, nil
}

// Lookup returns fundName's composition and whether it exists, used by
// the coordinator to validate a TradeMF request (spec.md section 4.F
// step 1).
func (c Catalogue) Lookup(fundName string) (Fund, bool) {
	fund, ok := c[fundName]
	return fund, ok
}
