package ingest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethlots/tax-engine/internal/correlation"
	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// CoinbaseTimeLayout is the Timestamp format of Coinbase transaction reports.
const CoinbaseTimeLayout = "2006-01-02T15:04:05Z"

// ExchangeActivity is what an exchange export contributes: trades that
// change holdings and transfers to be correlated with wallet history.
type ExchangeActivity struct {
	Trades    []exchange.Transaction
	Transfers []correlation.Transfer
}

func (a *ExchangeActivity) merge(other ExchangeActivity) {
	a.Trades = append(a.Trades, other.Trades...)
	a.Transfers = append(a.Transfers, other.Transfers...)
}

// ReadCoinbase reads a Coinbase transaction report. Report preamble lines
// before the header are skipped, as are rows for other assets. Buy becomes
// an acquisition priced from the fee-inclusive total; Send and Receive
// become transfers. Sells and other types are unsupported.
func ReadCoinbase(r io.Reader, asset subunit.Asset) (ExchangeActivity, error) {
	t, err := readTable(r, firstFieldIs("Timestamp"),
		"Timestamp", "Transaction Type", "Asset", "Quantity Transacted")
	if err != nil {
		return ExchangeActivity{}, err
	}
	totalCol := ""
	for name := range t.columns {
		if strings.HasPrefix(name, "Total (inclusive of fees") {
			totalCol = name
		}
	}
	if totalCol == "" {
		return ExchangeActivity{}, fmt.Errorf("%w: %q", ErrMissingColumn, "Total (inclusive of fees)")
	}

	var act ExchangeActivity
	for i := range t.records {
		if t.get(i, "Asset") != asset.Symbol {
			continue
		}
		when, err := time.Parse(CoinbaseTimeLayout, t.get(i, "Timestamp"))
		if err != nil {
			return ExchangeActivity{}, t.rowError(i, "Timestamp %q: %v", t.get(i, "Timestamp"), err)
		}
		qty, err := t.decimal(i, "Quantity Transacted")
		if err != nil {
			return ExchangeActivity{}, err
		}
		amount := asset.ToSubunits(qty)

		switch kind := t.get(i, "Transaction Type"); kind {
		case "Buy":
			total, err := t.decimal(i, totalCol)
			if err != nil {
				return ExchangeActivity{}, err
			}
			if !qty.IsPositive() {
				return ExchangeActivity{}, t.rowError(i, "buy of non-positive quantity %s", qty)
			}
			unitCost := asset.ToCurrencySubunits(total).DivRound(qty, unitPricePlaces)
			a, err := exchange.NewAcquire(when, amount, unitCost)
			if err != nil {
				return ExchangeActivity{}, t.rowError(i, "%v", err)
			}
			act.Trades = append(act.Trades, a)
		case "Send":
			act.Transfers = append(act.Transfers, correlation.Transfer{
				Time: when, AmountSubunits: amount, Direction: correlation.FromExchange,
			})
		case "Receive":
			act.Transfers = append(act.Transfers, correlation.Transfer{
				Time: when, AmountSubunits: amount, Direction: correlation.ToExchange,
			})
		default:
			return ExchangeActivity{}, fmt.Errorf("%w: line %d: coinbase %q", ErrUnsupported, t.line(i), kind)
		}
	}
	return act, nil
}
