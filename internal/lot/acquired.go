// Package lot models open (acquired) and closed (realized) positions of the
// tracked asset.
package lot

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/subunit"
)

var (
	ErrSplitRange     = errors.New("lot: split amount out of range")
	ErrMergeMismatch  = errors.New("lot: lots differ in acquisition time or unit cost")
	ErrDisposedBefore = errors.New("lot: disposal not after acquisition")
)

// AcquiredLot is an open position. AmountSubunits shrinks in place when the
// lot is split; a lot is never left holding zero.
type AcquiredLot struct {
	TimeAcquired          time.Time       `json:"time_acquired"`
	AmountSubunits        decimal.Decimal `json:"amount_subunits"`
	UnitCostIncludingFees decimal.Decimal `json:"unit_cost_including_fees"`
}

// NewAcquiredLot validates and builds an open lot. Amount must be a positive
// whole number of subunits and the unit cost (currency subunits per whole
// asset unit) must be positive.
func NewAcquiredLot(acquired time.Time, amount, unitCost decimal.Decimal) (*AcquiredLot, error) {
	if err := subunit.Positive.Validate("amount_subunits", amount); err != nil {
		return nil, err
	}
	if err := subunit.ValidateInteger("amount_subunits", amount); err != nil {
		return nil, err
	}
	if err := subunit.Positive.Validate("unit_cost_including_fees", unitCost); err != nil {
		return nil, err
	}
	return &AcquiredLot{
		TimeAcquired:          acquired,
		AmountSubunits:        amount,
		UnitCostIncludingFees: unitCost,
	}, nil
}

// Split moves amount out of l into a new lot with the same acquisition time
// and unit cost. amount must be strictly between zero and l's amount.
func (l *AcquiredLot) Split(amount decimal.Decimal) (*AcquiredLot, error) {
	if !amount.IsPositive() || !amount.LessThan(l.AmountSubunits) {
		return nil, fmt.Errorf("%w: expected value between 0 and %s, got %s instead",
			ErrSplitRange, l.AmountSubunits.String(), amount.String())
	}
	if err := subunit.ValidateInteger("amount_subunits", amount); err != nil {
		return nil, err
	}
	l.AmountSubunits = l.AmountSubunits.Sub(amount)
	return &AcquiredLot{
		TimeAcquired:          l.TimeAcquired,
		AmountSubunits:        amount,
		UnitCostIncludingFees: l.UnitCostIncludingFees,
	}, nil
}

// Merge folds other into l. Both lots must share acquisition time and unit
// cost, so the merged lot realizes exactly as the two parts would.
func (l *AcquiredLot) Merge(other *AcquiredLot) error {
	if !l.TimeAcquired.Equal(other.TimeAcquired) || !l.UnitCostIncludingFees.Equal(other.UnitCostIncludingFees) {
		return ErrMergeMismatch
	}
	l.AmountSubunits = l.AmountSubunits.Add(other.AmountSubunits)
	return nil
}

// Realize closes the whole lot at the given time and unit proceeds
// (currency subunits per whole asset unit, fees excluded). Cost and proceeds
// are rounded half up to whole currency units.
func (l *AcquiredLot) Realize(disposed time.Time, unitProceeds decimal.Decimal, asset subunit.Asset) (RealizedLot, error) {
	scale := asset.Scale()
	cost, err := subunit.RoundRatio(l.AmountSubunits.Mul(l.UnitCostIncludingFees), scale)
	if err != nil {
		return RealizedLot{}, err
	}
	proceeds, err := subunit.RoundRatio(l.AmountSubunits.Mul(unitProceeds), scale)
	if err != nil {
		return RealizedLot{}, err
	}
	return NewRealizedLot(l.TimeAcquired, disposed, l.AmountSubunits, cost, proceeds)
}
