// Package correlation pairs custodial-exchange transfers with the on-chain
// wallet transactions that carried them, so moving the asset between the
// taxpayer's own accounts is not reported as a disposal.
//
// A transfer matches a wallet transaction when the amounts agree within
// AmountTolerance and the timestamps agree within Window. Exchanges report a
// withdrawal inclusive of the network fee, so for transfers out of the
// exchange the wallet transaction's fee is added before comparing.
package correlation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoMatch = errors.New("correlation: no wallet transaction matches transfer")

// Default tolerances: 0.001 ETH in wei and fifteen minutes.
var (
	DefaultAmountTolerance = decimal.New(1, 15)
	DefaultWindow          = 15 * time.Minute
)

// Direction of a transfer relative to the exchange.
type Direction int

const (
	FromExchange Direction = iota + 1
	ToExchange
)

func (d Direction) String() string {
	switch d {
	case FromExchange:
		return "from_exchange"
	case ToExchange:
		return "to_exchange"
	}
	return "unknown"
}

// Transfer is a movement of the asset in or out of a custodial exchange
// account, as reported by the exchange.
type Transfer struct {
	Time           time.Time       `json:"time"`
	AmountSubunits decimal.Decimal `json:"amount_subunits"`
	Direction      Direction       `json:"direction"`
}

// Movement is the part of a wallet transaction the matcher compares.
type Movement struct {
	Time           time.Time       `json:"time"`
	AmountSubunits decimal.Decimal `json:"amount_subunits"`
	FeeSubunits    decimal.Decimal `json:"fee_subunits"`
}

// Match pairs a transfer with Movements[Wallet][Index].
type Match struct {
	Transfer Transfer
	Wallet   string
	Index    int
}

type Matcher struct {
	// AmountTolerance is the exclusive upper bound on the absolute amount
	// difference, in subunits.
	AmountTolerance decimal.Decimal

	// Window is the exclusive upper bound on the absolute time difference.
	Window time.Duration
}

// NewMatcher creates a matcher. Non-positive arguments fall back to
// DefaultAmountTolerance and DefaultWindow.
func NewMatcher(tolerance decimal.Decimal, window time.Duration) *Matcher {
	if !tolerance.IsPositive() {
		tolerance = DefaultAmountTolerance
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Matcher{AmountTolerance: tolerance, Window: window}
}

// Matches reports whether mv could have carried t.
func (m *Matcher) Matches(t Transfer, mv Movement) bool {
	amount := mv.AmountSubunits
	if t.Direction == FromExchange {
		amount = amount.Add(mv.FeeSubunits)
	}
	if !amount.Sub(t.AmountSubunits).Abs().LessThan(m.AmountTolerance) {
		return false
	}
	dt := mv.Time.Sub(t.Time)
	if dt < 0 {
		dt = -dt
	}
	return dt < m.Window
}

// Correlate matches each transfer, oldest first, to the first unclaimed
// movement that fits it. Wallets are searched in address order and each
// wallet's movements in slice order, so the result is deterministic. A
// movement is claimed by at most one transfer. Transfers with no match are
// returned separately.
func (m *Matcher) Correlate(transfers []Transfer, wallets map[string][]Movement) (matches []Match, unmatched []Transfer) {
	ordered := make([]Transfer, len(transfers))
	copy(ordered, transfers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time.Before(ordered[j].Time)
	})

	addresses := make([]string, 0, len(wallets))
	for a := range wallets {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)

	type key struct {
		wallet string
		index  int
	}
	claimed := make(map[key]bool)

	for _, t := range ordered {
		found := false
	search:
		for _, a := range addresses {
			for i, mv := range wallets[a] {
				k := key{a, i}
				if claimed[k] || !m.Matches(t, mv) {
					continue
				}
				claimed[k] = true
				matches = append(matches, Match{Transfer: t, Wallet: a, Index: i})
				found = true
				break search
			}
		}
		if !found {
			unmatched = append(unmatched, t)
		}
	}
	return matches, unmatched
}

// UnmatchedError describes the first unmatched transfer.
func UnmatchedError(unmatched []Transfer) error {
	if len(unmatched) == 0 {
		return nil
	}
	t := unmatched[0]
	return fmt.Errorf("%w: %s of %s subunits at %s (%d unmatched)",
		ErrNoMatch, t.Direction, t.AmountSubunits.String(), t.Time.Format(time.RFC3339), len(unmatched))
}
