// Package model defines the report types shared by the store and the HTTP
// service.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/form8949"
	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/policy"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// Report is the immutable result of one processor run. Once created it is
// never modified, only deleted.
type Report struct {
	ID           string                `json:"id" db:"id"`
	Owner        string                `json:"owner" db:"owner"`
	Asset        subunit.Asset         `json:"asset" db:"asset"`
	Policies     map[int]policy.Method `json:"policies" db:"policies"` // tax year → method
	Transactions int                   `json:"transactions" db:"transactions"`
	Realized     []lot.RealizedLot     `json:"realized"`
	OpenLots     []lot.AcquiredLot     `json:"open_lots"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
}

// Header is the list view of a report.
type Header struct {
	ID            string                `json:"id" db:"id"`
	Owner         string                `json:"owner" db:"owner"`
	Asset         subunit.Asset         `json:"asset" db:"asset"`
	Policies      map[int]policy.Method `json:"policies" db:"policies"`
	Transactions  int                   `json:"transactions" db:"transactions"`
	RealizedCount int                   `json:"realized_count"`
	OpenAmount    decimal.Decimal       `json:"open_amount_subunits"`
	CreatedAt     time.Time             `json:"created_at" db:"created_at"`
}

func (r *Report) Header() Header {
	return Header{
		ID:            r.ID,
		Owner:         r.Owner,
		Asset:         r.Asset,
		Policies:      r.Policies,
		Transactions:  r.Transactions,
		RealizedCount: len(r.Realized),
		OpenAmount:    r.OpenAmount(),
		CreatedAt:     r.CreatedAt,
	}
}

// OpenAmount is the total amount still held at the end of the run.
func (r *Report) OpenAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.OpenLots {
		total = total.Add(l.AmountSubunits)
	}
	return total
}

// Rows converts the realized lots to Form 8949 rows.
func (r *Report) Rows() ([]form8949.Row, error) {
	return lot.ReportRows(r.Realized, r.Asset)
}
