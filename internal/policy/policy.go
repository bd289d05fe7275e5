// Package policy orders the open-lot pool before a disposal. Every Policy
// returns the pool from least to most tax optimal; the engine consumes from
// the end of the returned slice.
package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/holding"
	"github.com/ethlots/tax-engine/internal/lot"
)

var ErrUnknownMethod = errors.New("policy: unknown method")

// Policy is a pure ordering of pool for disposal d. Implementations return a
// new slice and never modify pool or the lots in it.
type Policy interface {
	Order(pool []*lot.AcquiredLot, d exchange.Dispose) []*lot.AcquiredLot
}

// Method names a Policy in configuration, reports and storage.
type Method string

const (
	MethodFIFO             Method = "fifo"
	MethodLowerTaxBracket  Method = "lower-tax-bracket"
	MethodHigherTaxBracket Method = "higher-tax-bracket"
)

// Methods lists every known method.
var Methods = []Method{MethodFIFO, MethodLowerTaxBracket, MethodHigherTaxBracket}

func ParseMethod(s string) (Method, error) {
	m := Method(s)
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Policy returns the implementation for m.
func (m Method) Policy() (Policy, error) {
	switch m {
	case MethodFIFO:
		return FirstInFirstOut{}, nil
	case MethodLowerTaxBracket:
		return LowerTaxBracket{}, nil
	case MethodHigherTaxBracket:
		return HigherTaxBracket{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(m))
}

// FirstInFirstOut consumes the oldest lot first regardless of gain.
type FirstInFirstOut struct{}

func (FirstInFirstOut) Order(pool []*lot.AcquiredLot, _ exchange.Dispose) []*lot.AcquiredLot {
	ordered := clone(pool)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimeAcquired.After(ordered[j].TimeAcquired)
	})
	return ordered
}

// LowerTaxBracket realizes more gain now. Consumption runs short-term
// non-gains newest first, then long-term lots cheapest first, then
// short-term gains newest first.
type LowerTaxBracket struct{}

func (LowerTaxBracket) Order(pool []*lot.AcquiredLot, d exchange.Dispose) []*lot.AcquiredLot {
	return bracketOrder(pool, d, true)
}

// HigherTaxBracket realizes less gain now. It differs from LowerTaxBracket
// only in consuming long-term lots most expensive first.
type HigherTaxBracket struct{}

func (HigherTaxBracket) Order(pool []*lot.AcquiredLot, d exchange.Dispose) []*lot.AcquiredLot {
	return bracketOrder(pool, d, false)
}

// bracketOrder returns short-term gains, then long-term lots, then
// short-term non-gains (loss or break-even). Both short-term segments are
// ascending by acquisition time; the long-term segment is by unit cost,
// descending when costDescending is set.
func bracketOrder(pool []*lot.AcquiredLot, d exchange.Dispose, costDescending bool) []*lot.AcquiredLot {
	var longTerm, shortGains, shortNonGains []*lot.AcquiredLot
	for _, l := range pool {
		switch {
		case holding.IsLongTerm(l.TimeAcquired, d.Time):
			longTerm = append(longTerm, l)
		case d.UnitProceedsExcludingFees.GreaterThan(l.UnitCostIncludingFees):
			shortGains = append(shortGains, l)
		default:
			shortNonGains = append(shortNonGains, l)
		}
	}

	byTime := func(s []*lot.AcquiredLot) {
		sort.SliceStable(s, func(i, j int) bool {
			return s[i].TimeAcquired.Before(s[j].TimeAcquired)
		})
	}
	byTime(shortGains)
	byTime(shortNonGains)
	sort.SliceStable(longTerm, func(i, j int) bool {
		if costDescending {
			return longTerm[i].UnitCostIncludingFees.GreaterThan(longTerm[j].UnitCostIncludingFees)
		}
		return longTerm[i].UnitCostIncludingFees.LessThan(longTerm[j].UnitCostIncludingFees)
	})

	ordered := make([]*lot.AcquiredLot, 0, len(pool))
	ordered = append(ordered, shortGains...)
	ordered = append(ordered, longTerm...)
	ordered = append(ordered, shortNonGains...)
	return ordered
}

func clone(pool []*lot.AcquiredLot) []*lot.AcquiredLot {
	out := make([]*lot.AcquiredLot, len(pool))
	copy(out, pool)
	return out
}
