// Package exchange defines the normalized events the tax engine consumes:
// acquisitions of the asset for currency and disposals of it.
package exchange

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// Transaction is either an Acquire or a Dispose.
type Transaction interface {
	OccurredAt() time.Time
	Amount() decimal.Decimal
	isTransaction()
}

// Acquire exchanges currency for the asset. UnitCostIncludingFees is in
// currency subunits per whole asset unit.
type Acquire struct {
	Time                  time.Time       `json:"time"`
	AmountSubunits        decimal.Decimal `json:"amount_subunits"`
	UnitCostIncludingFees decimal.Decimal `json:"unit_cost_including_fees"`
}

// NewAcquire applies the same checks as opening a lot.
func NewAcquire(t time.Time, amount, unitCost decimal.Decimal) (Acquire, error) {
	a := Acquire{Time: t, AmountSubunits: amount, UnitCostIncludingFees: unitCost}
	if _, err := a.ToLot(); err != nil {
		return Acquire{}, err
	}
	return a, nil
}

func (a Acquire) OccurredAt() time.Time   { return a.Time }
func (a Acquire) Amount() decimal.Decimal { return a.AmountSubunits }
func (Acquire) isTransaction()            {}

// ToLot opens a lot for this acquisition.
func (a Acquire) ToLot() (*lot.AcquiredLot, error) {
	return lot.NewAcquiredLot(a.Time, a.AmountSubunits, a.UnitCostIncludingFees)
}

// Dispose exchanges the asset for currency, or pays a fee in it (zero
// proceeds). UnitProceedsExcludingFees is in currency subunits per whole
// asset unit.
type Dispose struct {
	Time                      time.Time       `json:"time"`
	AmountSubunits            decimal.Decimal `json:"amount_subunits"`
	UnitProceedsExcludingFees decimal.Decimal `json:"unit_proceeds_excluding_fees"`
}

// NewDispose accepts a zero amount, which the engine treats as a no-op.
func NewDispose(t time.Time, amount, unitProceeds decimal.Decimal) (Dispose, error) {
	if err := subunit.NonNegative.Validate("amount_subunits", amount); err != nil {
		return Dispose{}, err
	}
	if err := subunit.ValidateInteger("amount_subunits", amount); err != nil {
		return Dispose{}, err
	}
	if err := subunit.NonNegative.Validate("unit_proceeds_excluding_fees", unitProceeds); err != nil {
		return Dispose{}, err
	}
	return Dispose{Time: t, AmountSubunits: amount, UnitProceedsExcludingFees: unitProceeds}, nil
}

func (d Dispose) OccurredAt() time.Time   { return d.Time }
func (d Dispose) Amount() decimal.Decimal { return d.AmountSubunits }
func (Dispose) isTransaction()            {}

// SortChronological returns a copy of txs stably sorted by time, oldest
// first. Events sharing a timestamp keep their input order.
func SortChronological(txs []Transaction) []Transaction {
	sorted := make([]Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt().Before(sorted[j].OccurredAt())
	})
	return sorted
}
