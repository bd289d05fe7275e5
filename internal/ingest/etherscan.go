package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/correlation"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// WalletTransaction is one row of a self-custody wallet's history.
// UnitPrice is the market price in currency subunits per whole asset unit at
// the time of the transaction.
type WalletTransaction struct {
	Hash           string          `json:"hash"`
	Time           time.Time       `json:"time"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	AmountSubunits decimal.Decimal `json:"amount_subunits"`
	FeeSubunits    decimal.Decimal `json:"fee_subunits"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

func (w WalletTransaction) Movement() correlation.Movement {
	return correlation.Movement{
		Time:           w.Time,
		AmountSubunits: w.AmountSubunits,
		FeeSubunits:    w.FeeSubunits,
	}
}

// ReadEtherscan reads an Etherscan transaction export. A failed transaction
// (non-empty Status) moves no value but its fee is still paid.
func ReadEtherscan(r io.Reader, asset subunit.Asset) ([]WalletTransaction, error) {
	var (
		colIn  = fmt.Sprintf("Value_IN(%s)", asset.Symbol)
		colOut = fmt.Sprintf("Value_OUT(%s)", asset.Symbol)
		colFee = fmt.Sprintf("TxnFee(%s)", asset.Symbol)
		colPx  = fmt.Sprintf("Historical $Price/%s", titleSymbol(asset.Symbol))
	)
	t, err := readTable(r, firstFieldIs("Txhash"),
		"Txhash", "UnixTimestamp", "From", "To", colIn, colOut, colFee, colPx)
	if err != nil {
		return nil, err
	}

	txs := make([]WalletTransaction, 0, len(t.records))
	for i := range t.records {
		ts, err := strconv.ParseInt(t.get(i, "UnixTimestamp"), 10, 64)
		if err != nil {
			return nil, t.rowError(i, "UnixTimestamp %q is not an integer", t.get(i, "UnixTimestamp"))
		}
		in, err := t.decimal(i, colIn)
		if err != nil {
			return nil, err
		}
		out, err := t.decimal(i, colOut)
		if err != nil {
			return nil, err
		}
		fee, err := t.decimal(i, colFee)
		if err != nil {
			return nil, err
		}
		price, err := t.decimal(i, colPx)
		if err != nil {
			return nil, err
		}
		if !in.IsZero() && !out.IsZero() {
			return nil, t.rowError(i, "both %s and %s are set", colIn, colOut)
		}

		amount := asset.ToSubunits(in.Add(out))
		if t.get(i, "Status") != "" {
			amount = decimal.Zero
		}
		txs = append(txs, WalletTransaction{
			Hash:           t.get(i, "Txhash"),
			Time:           time.Unix(ts, 0).UTC(),
			From:           strings.ToLower(t.get(i, "From")),
			To:             strings.ToLower(t.get(i, "To")),
			AmountSubunits: amount,
			FeeSubunits:    asset.ToSubunits(fee),
			UnitPrice:      asset.ToCurrencySubunits(price),
		})
	}
	return txs, nil
}

// titleSymbol turns "ETH" into "Eth", matching Etherscan's price header.
func titleSymbol(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
