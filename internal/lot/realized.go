package lot

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/form8949"
	"github.com/ethlots/tax-engine/internal/holding"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// RealizedLot is a closed position. Cost and proceeds are whole currency
// units.
type RealizedLot struct {
	TimeAcquired          time.Time       `json:"time_acquired"`
	TimeDisposed          time.Time       `json:"time_disposed"`
	AmountSubunits        decimal.Decimal `json:"amount_subunits"`
	CostIncludingFees     decimal.Decimal `json:"cost_including_fees"`
	ProceedsExcludingFees decimal.Decimal `json:"proceeds_excluding_fees"`
}

func NewRealizedLot(acquired, disposed time.Time, amount, cost, proceeds decimal.Decimal) (RealizedLot, error) {
	if err := subunit.NonNegative.Validate("cost_including_fees", cost); err != nil {
		return RealizedLot{}, err
	}
	if err := subunit.NonNegative.Validate("proceeds_excluding_fees", proceeds); err != nil {
		return RealizedLot{}, err
	}
	if err := subunit.Positive.Validate("amount_subunits", amount); err != nil {
		return RealizedLot{}, err
	}
	if !disposed.After(acquired) {
		return RealizedLot{}, fmt.Errorf("%w: 'time_disposed' must be after 'time_acquired'", ErrDisposedBefore)
	}
	return RealizedLot{
		TimeAcquired:          acquired,
		TimeDisposed:          disposed,
		AmountSubunits:        amount,
		CostIncludingFees:     cost,
		ProceedsExcludingFees: proceeds,
	}, nil
}

// Gain is proceeds minus cost; negative for a loss.
func (r RealizedLot) Gain() decimal.Decimal {
	return r.ProceedsExcludingFees.Sub(r.CostIncludingFees)
}

func (r RealizedLot) IsLongTerm() bool {
	return holding.IsLongTerm(r.TimeAcquired, r.TimeDisposed)
}

// ReportRow converts the lot to a Form 8949 row. The tax year is the year of
// disposal.
func (r RealizedLot) ReportRow(asset subunit.Asset) (form8949.Row, error) {
	return form8949.NewRow(
		r.TimeDisposed.Year(),
		r.IsLongTerm(),
		fmt.Sprintf("%s %s", asset.FormatUnits(r.AmountSubunits), asset.Symbol),
		r.TimeAcquired.Format(form8949.DateLayout),
		r.TimeDisposed.Format(form8949.DateLayout),
		r.ProceedsExcludingFees,
		r.CostIncludingFees,
	)
}

// ReportRows converts lots in order.
func ReportRows(lots []RealizedLot, asset subunit.Asset) ([]form8949.Row, error) {
	rows := make([]form8949.Row, 0, len(lots))
	for _, l := range lots {
		row, err := l.ReportRow(asset)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
