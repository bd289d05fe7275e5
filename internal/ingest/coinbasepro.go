package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/correlation"
	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// proRow is one account-statement row of a Coinbase Pro export.
type proRow struct {
	line    int
	kind    string
	time    time.Time
	amount  decimal.Decimal
	unit    string
	orderID string
}

// ReadCoinbasePro reads a Coinbase Pro account statement. Each order is a
// match/match/fee triplet: the first match is the side given up (negative
// amount), the second the side received. Currency-side fees are folded into
// the unit price. Deposits and withdrawals of the asset become transfers;
// currency deposits and withdrawals are ignored. Rows whose transfer id is
// in blocklist are skipped.
func ReadCoinbasePro(r io.Reader, asset subunit.Asset, blocklist []string) (ExchangeActivity, error) {
	t, err := readTable(r, hasField("amount/balance unit"),
		"type", "time", "amount", "amount/balance unit", "transfer id", "order id")
	if err != nil {
		return ExchangeActivity{}, err
	}
	blocked := make(map[string]bool, len(blocklist))
	for _, id := range blocklist {
		blocked[id] = true
	}

	var (
		act     ExchangeActivity
		pending []proRow
	)
	for i := range t.records {
		if id := t.get(i, "transfer id"); id != "" && blocked[id] {
			continue
		}
		when, err := time.Parse(time.RFC3339Nano, t.get(i, "time"))
		if err != nil {
			return ExchangeActivity{}, t.rowError(i, "time %q: %v", t.get(i, "time"), err)
		}
		amount, err := t.decimal(i, "amount")
		if err != nil {
			return ExchangeActivity{}, err
		}
		row := proRow{
			line:    t.line(i),
			kind:    t.get(i, "type"),
			time:    when,
			amount:  amount,
			unit:    t.get(i, "amount/balance unit"),
			orderID: t.get(i, "order id"),
		}

		if row.orderID != "" {
			switch row.kind {
			case "match":
				pending = append(pending, row)
			case "fee":
				tx, err := proOrder(pending, row, asset)
				if err != nil {
					return ExchangeActivity{}, err
				}
				act.Trades = append(act.Trades, tx)
				pending = nil
			default:
				return ExchangeActivity{}, fmt.Errorf("%w: line %d: order row of type %q", ErrUnsupported, row.line, row.kind)
			}
			continue
		}
		if len(pending) > 0 {
			return ExchangeActivity{}, fmt.Errorf("%w: line %d: order %s has no fee row", ErrMalformedRow, pending[0].line, pending[0].orderID)
		}

		tr, ok, err := proTransfer(row, asset)
		if err != nil {
			return ExchangeActivity{}, err
		}
		if ok {
			act.Transfers = append(act.Transfers, tr)
		}
	}
	if len(pending) > 0 {
		return ExchangeActivity{}, fmt.Errorf("%w: line %d: order %s has no fee row", ErrMalformedRow, pending[0].line, pending[0].orderID)
	}
	return act, nil
}

func proOrder(matches []proRow, fee proRow, asset subunit.Asset) (exchange.Transaction, error) {
	if len(matches) != 2 {
		return nil, fmt.Errorf("%w: line %d: order %s has %d match rows, expected 2", ErrMalformedRow, fee.line, fee.orderID, len(matches))
	}
	gave, got := matches[0], matches[1]
	if gave.orderID != fee.orderID || got.orderID != fee.orderID {
		return nil, fmt.Errorf("%w: line %d: match rows belong to a different order than %s", ErrMalformedRow, fee.line, fee.orderID)
	}
	if !gave.time.Equal(got.time) {
		return nil, fmt.Errorf("%w: line %d: match rows of order %s differ in time", ErrMalformedRow, fee.line, fee.orderID)
	}
	if !gave.amount.IsNegative() || !got.amount.IsPositive() {
		return nil, fmt.Errorf("%w: line %d: order %s must give a negative and receive a positive amount", ErrMalformedRow, fee.line, fee.orderID)
	}
	if fee.amount.IsPositive() {
		return nil, fmt.Errorf("%w: line %d: order %s has a positive fee", ErrMalformedRow, fee.line, fee.orderID)
	}

	switch {
	case gave.unit != asset.Symbol && got.unit == asset.Symbol:
		// currency for asset; the fee raises the cost
		paid := gave.amount.Neg()
		if fee.unit == gave.unit {
			paid = paid.Sub(fee.amount)
		}
		unitCost := asset.ToCurrencySubunits(paid).DivRound(got.amount, unitPricePlaces)
		a, err := exchange.NewAcquire(got.time, asset.ToSubunits(got.amount), unitCost)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", fee.line, err)
		}
		return a, nil
	case gave.unit == asset.Symbol && got.unit != asset.Symbol:
		// asset for currency; the fee lowers the proceeds
		sold := gave.amount.Neg()
		received := got.amount
		if fee.unit == got.unit {
			received = received.Add(fee.amount)
		}
		unitProceeds := asset.ToCurrencySubunits(received).DivRound(sold, unitPricePlaces)
		if unitProceeds.IsNegative() {
			unitProceeds = decimal.Zero
		}
		d, err := exchange.NewDispose(got.time, asset.ToSubunits(sold), unitProceeds)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", fee.line, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: line %d: order %s trades %s for %s", ErrUnsupported, fee.line, fee.orderID, gave.unit, got.unit)
}

// proTransfer converts a deposit or withdrawal row. ok is false for rows in
// other units.
func proTransfer(row proRow, asset subunit.Asset) (tr correlation.Transfer, ok bool, err error) {
	if row.kind != "deposit" && row.kind != "withdrawal" {
		return tr, false, fmt.Errorf("%w: line %d: coinbase pro %q", ErrUnsupported, row.line, row.kind)
	}
	if row.unit != asset.Symbol {
		return tr, false, nil
	}

	amount := asset.ToSubunits(row.amount)
	dir := correlation.ToExchange
	if row.kind == "withdrawal" {
		amount = amount.Neg()
		dir = correlation.FromExchange
	}
	if !amount.IsPositive() {
		return tr, false, fmt.Errorf("%w: line %d: %s of non-positive amount %s", ErrMalformedRow, row.line, row.kind, row.amount)
	}
	return correlation.Transfer{Time: row.time, AmountSubunits: amount, Direction: dir}, true, nil
}
