// Package form8949 holds the rows of IRS Form 8949 (Sales and Other
// Dispositions of Capital Assets) and writes them in the formats the
// downstream form importer accepts.
package form8949

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/subunit"
)

// DateLayout is the MM/DD/YYYY format used for both date columns.
const DateLayout = "01/02/2006"

// Fields is the CSV header. Order is part of the importer contract.
var Fields = []string{
	"tax_year",
	"is_long_term",
	"description",
	"date_acquired",
	"date_sold",
	"proceeds_usd",
	"cost_usd",
}

// Row is one line of Form 8949. Proceeds and cost are whole currency units.
type Row struct {
	TaxYear      int             `json:"tax_year"`
	IsLongTerm   bool            `json:"is_long_term"`
	Description  string          `json:"description"`
	DateAcquired string          `json:"date_acquired"`
	DateSold     string          `json:"date_sold"`
	ProceedsUSD  decimal.Decimal `json:"proceeds_usd"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
}

// NewRow validates and builds a Row.
func NewRow(taxYear int, longTerm bool, description, acquired, sold string, proceeds, cost decimal.Decimal) (Row, error) {
	if err := subunit.NonNegative.Validate("proceeds_usd", proceeds); err != nil {
		return Row{}, err
	}
	if err := subunit.NonNegative.Validate("cost_usd", cost); err != nil {
		return Row{}, err
	}
	return Row{
		TaxYear:      taxYear,
		IsLongTerm:   longTerm,
		Description:  description,
		DateAcquired: acquired,
		DateSold:     sold,
		ProceedsUSD:  proceeds,
		CostUSD:      cost,
	}, nil
}

// Gain is proceeds minus cost; negative for a loss.
func (r Row) Gain() decimal.Decimal {
	return r.ProceedsUSD.Sub(r.CostUSD)
}

// Totals sums one holding-period section of a tax year.
type Totals struct {
	Rows     int             `json:"rows"`
	Proceeds decimal.Decimal `json:"proceeds"`
	Cost     decimal.Decimal `json:"cost"`
	Gain     decimal.Decimal `json:"gain"`
}

func (t *Totals) add(r Row) {
	t.Rows++
	t.Proceeds = t.Proceeds.Add(r.ProceedsUSD)
	t.Cost = t.Cost.Add(r.CostUSD)
	t.Gain = t.Gain.Add(r.Gain())
}

// YearSummary is the short-term (Part I) and long-term (Part II) totals for
// one tax year.
type YearSummary struct {
	TaxYear   int    `json:"tax_year"`
	ShortTerm Totals `json:"short_term"`
	LongTerm  Totals `json:"long_term"`
}

// Summarize groups rows by tax year, in ascending year order.
func Summarize(rows []Row) []YearSummary {
	byYear := make(map[int]*YearSummary)
	for _, r := range rows {
		s, ok := byYear[r.TaxYear]
		if !ok {
			s = &YearSummary{TaxYear: r.TaxYear}
			byYear[r.TaxYear] = s
		}
		if r.IsLongTerm {
			s.LongTerm.add(r)
		} else {
			s.ShortTerm.add(r)
		}
	}

	summaries := make([]YearSummary, 0, len(byYear))
	for _, s := range byYear {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TaxYear < summaries[j].TaxYear
	})
	return summaries
}
