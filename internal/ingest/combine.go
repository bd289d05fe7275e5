package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/correlation"
	"github.com/ethlots/tax-engine/internal/exchange"
)

// Sources is everything read for one taxpayer. Wallets is keyed by wallet
// address.
type Sources struct {
	Wallets  map[string][]WalletTransaction
	Exchange ExchangeActivity
}

// AddWallet records the history of one owned wallet.
func (s *Sources) AddWallet(address string, txs []WalletTransaction) {
	if s.Wallets == nil {
		s.Wallets = make(map[string][]WalletTransaction)
	}
	addr := strings.ToLower(address)
	s.Wallets[addr] = append(s.Wallets[addr], txs...)
}

// AddExchange records activity from an exchange export.
func (s *Sources) AddExchange(act ExchangeActivity) {
	s.Exchange.merge(act)
}

// Combine correlates exchange transfers with wallet history and returns
// every acquisition and disposal, unsorted. Moving the asset between owned
// wallets or to and from the exchange is not a disposal, but the network
// fee always is (at zero proceeds). Sending to an address that is not owned
// disposes of the amount at the transaction's market price. Receiving from
// an address that is not owned is unsupported, since its cost basis is
// unknown. Every transfer must match a wallet transaction.
func Combine(src Sources, m *correlation.Matcher) ([]exchange.Transaction, error) {
	addresses := make([]string, 0, len(src.Wallets))
	for a := range src.Wallets {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)

	wallets := make(map[string][]WalletTransaction, len(src.Wallets))
	movements := make(map[string][]correlation.Movement, len(src.Wallets))
	for _, a := range addresses {
		txs := make([]WalletTransaction, len(src.Wallets[a]))
		copy(txs, src.Wallets[a])
		wallets[a] = txs
		for _, tx := range txs {
			movements[a] = append(movements[a], tx.Movement())
		}
	}

	matches, unmatched := m.Correlate(src.Exchange.Transfers, movements)
	if err := correlation.UnmatchedError(unmatched); err != nil {
		return nil, err
	}
	for _, mt := range matches {
		tx := &wallets[mt.Wallet][mt.Index]
		if mt.Transfer.Direction == correlation.FromExchange {
			tx.From = ExchangeWallet
		} else {
			tx.To = ExchangeWallet
		}
	}

	owned := map[string]bool{ExchangeWallet: true}
	for _, a := range addresses {
		owned[a] = true
	}

	out := make([]exchange.Transaction, 0, len(src.Exchange.Trades))
	out = append(out, src.Exchange.Trades...)
	for _, a := range addresses {
		for _, tx := range wallets[a] {
			if tx.To == a {
				if !owned[tx.From] {
					return nil, fmt.Errorf("%w: %s received from %s in %s; acquisitions outside the exchange have no cost basis",
						ErrUnsupported, a, tx.From, tx.Hash)
				}
				if tx.From != ExchangeWallet {
					// the sending wallet's history carries the fee
					continue
				}
			}
			if !owned[tx.To] && tx.AmountSubunits.IsPositive() {
				d, err := exchange.NewDispose(tx.Time, tx.AmountSubunits, tx.UnitPrice)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", tx.Hash, err)
				}
				out = append(out, d)
			}
			if tx.FeeSubunits.IsPositive() {
				out = append(out, exchange.Dispose{
					Time:                      tx.Time,
					AmountSubunits:            tx.FeeSubunits,
					UnitProceedsExcludingFees: decimal.Zero,
				})
			}
		}
	}
	return out, nil
}

// Summary counts what Combine produced.
type Summary struct {
	Acquisitions int       `json:"acquisitions"`
	Disposals    int       `json:"disposals"`
	First        time.Time `json:"first"`
	Last         time.Time `json:"last"`

	// DisposalYears lists the calendar years holding a non-zero disposal,
	// ascending. Each needs a method in the schedule.
	DisposalYears []int `json:"disposal_years"`
}

func Summarize(txs []exchange.Transaction) Summary {
	var s Summary
	years := make(map[int]bool)
	for _, tx := range txs {
		switch tx := tx.(type) {
		case exchange.Acquire:
			s.Acquisitions++
		case exchange.Dispose:
			s.Disposals++
			if !tx.AmountSubunits.IsZero() {
				years[tx.Time.Year()] = true
			}
		}
		at := tx.OccurredAt()
		if s.First.IsZero() || at.Before(s.First) {
			s.First = at
		}
		if at.After(s.Last) {
			s.Last = at
		}
	}
	for y := range years {
		s.DisposalYears = append(s.DisposalYears, y)
	}
	sort.Ints(s.DisposalYears)
	return s
}
