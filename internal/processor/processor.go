// Package processor turns a list of acquisitions and disposals into realized
// lots. A Processor owns its open-lot pool for the length of a run; it is not
// safe for concurrent use.
package processor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/policy"
	"github.com/ethlots/tax-engine/internal/subunit"
)

var (
	ErrNoPolicy             = errors.New("processor: no policy configured for year")
	ErrInsufficientHoldings = errors.New("processor: disposal exceeds open holdings")
	ErrUnknownTransaction   = errors.New("processor: unknown transaction type")
)

// Processor replays transactions in chronological order. Before each
// disposal the pool is reordered by the policy for the disposal's calendar
// year and lots are consumed from the end of the reordered pool.
type Processor struct {
	transactions []exchange.Transaction
	policies     map[int]policy.Policy
	asset        subunit.Asset
	logger       *slog.Logger

	open     []*lot.AcquiredLot
	realized []lot.RealizedLot
	stats    Stats
}

// Stats counts the work done by the last Run.
type Stats struct {
	Acquisitions int           `json:"acquisitions"`
	Disposals    int           `json:"disposals"`
	Splits       int           `json:"splits"`
	Duration     time.Duration `json:"duration"`
}

type Option func(*Processor)

// WithAsset sets the asset whose subunit scale prices realized lots.
// Defaults to ETH priced in cents.
func WithAsset(a subunit.Asset) Option {
	return func(p *Processor) { p.asset = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor. policies maps a calendar year to the policy used
// for disposals in that year.
func New(txs []exchange.Transaction, policies map[int]policy.Policy, opts ...Option) *Processor {
	p := &Processor{
		transactions: txs,
		policies:     policies,
		asset:        subunit.ETH,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes every transaction and returns the realized lots in creation
// order. Any error aborts the run and no partial result is returned. Run may
// be called again; each call starts from an empty pool.
func (p *Processor) Run() ([]lot.RealizedLot, error) {
	start := time.Now()
	p.open = nil
	p.realized = nil
	p.stats = Stats{}

	for _, tx := range exchange.SortChronological(p.transactions) {
		switch tx := tx.(type) {
		case exchange.Acquire:
			l, err := tx.ToLot()
			if err != nil {
				return nil, fmt.Errorf("acquire at %s: %w", tx.Time.Format(time.RFC3339), err)
			}
			p.open = append(p.open, l)
			p.stats.Acquisitions++
		case exchange.Dispose:
			if err := p.dispose(tx); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnknownTransaction, tx)
		}
	}

	p.stats.Duration = time.Since(start)
	p.logger.Debug("transactions processed",
		"transactions", len(p.transactions),
		"realized", len(p.realized),
		"open", len(p.open),
		"splits", p.stats.Splits,
	)
	return p.realized, nil
}

func (p *Processor) dispose(tx exchange.Dispose) error {
	if _, err := exchange.NewDispose(tx.Time, tx.AmountSubunits, tx.UnitProceedsExcludingFees); err != nil {
		return fmt.Errorf("dispose at %s: %w", tx.Time.Format(time.RFC3339), err)
	}
	if tx.AmountSubunits.IsZero() {
		return nil
	}
	year := tx.Time.Year()
	pol, ok := p.policies[year]
	if !ok || pol == nil {
		return fmt.Errorf("%w: %d", ErrNoPolicy, year)
	}
	p.stats.Disposals++

	p.open = pol.Order(p.open, tx)
	remaining := tx.AmountSubunits
	touched := 0
	for remaining.IsPositive() {
		if len(p.open) == 0 {
			return fmt.Errorf("%w: disposal at %s is short by %s subunits",
				ErrInsufficientHoldings, tx.Time.Format(time.RFC3339), remaining.String())
		}

		tail := p.open[len(p.open)-1]
		var consumed *lot.AcquiredLot
		if tail.AmountSubunits.GreaterThan(remaining) {
			piece, err := tail.Split(remaining)
			if err != nil {
				return err
			}
			consumed = piece
			p.stats.Splits++
		} else {
			consumed = tail
			p.open = p.open[:len(p.open)-1]
		}

		r, err := consumed.Realize(tx.Time, tx.UnitProceedsExcludingFees, p.asset)
		if err != nil {
			return fmt.Errorf("dispose at %s: %w", tx.Time.Format(time.RFC3339), err)
		}
		p.realized = append(p.realized, r)
		remaining = remaining.Sub(consumed.AmountSubunits)
		touched++
	}

	p.logger.Debug("disposal",
		"year", year,
		"amount_subunits", tx.AmountSubunits.String(),
		"lots", touched,
		"open", len(p.open),
	)
	return nil
}

// OpenLots returns copies of the lots still held after the last Run, oldest
// first. Lots sharing acquisition time and unit cost are merged into one.
func (p *Processor) OpenLots() []lot.AcquiredLot {
	sorted := make([]lot.AcquiredLot, 0, len(p.open))
	for _, l := range p.open {
		sorted = append(sorted, *l)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TimeAcquired.Equal(sorted[j].TimeAcquired) {
			return sorted[i].TimeAcquired.Before(sorted[j].TimeAcquired)
		}
		return sorted[i].UnitCostIncludingFees.LessThan(sorted[j].UnitCostIncludingFees)
	})

	out := make([]lot.AcquiredLot, 0, len(sorted))
	for i := range sorted {
		if n := len(out); n > 0 && out[n-1].Merge(&sorted[i]) == nil {
			continue
		}
		out = append(out, sorted[i])
	}
	return out
}

// OpenAmount is the total amount still held after the last Run.
func (p *Processor) OpenAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.open {
		total = total.Add(l.AmountSubunits)
	}
	return total
}

func (p *Processor) Stats() Stats {
	return p.stats
}

// Process is a one-shot New(...).Run().
func Process(txs []exchange.Transaction, policies map[int]policy.Policy, opts ...Option) ([]lot.RealizedLot, error) {
	return New(txs, policies, opts...).Run()
}
