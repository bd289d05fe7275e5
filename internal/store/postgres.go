package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/model"
	"github.com/ethlots/tax-engine/internal/policy"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Subunit amounts and dollar values are stored as NUMERIC for exact
// decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id                TEXT PRIMARY KEY,
	owner             TEXT NOT NULL,
	asset_symbol      TEXT NOT NULL,
	asset_decimals    INTEGER NOT NULL,
	currency_decimals INTEGER NOT NULL,
	policies          JSONB NOT NULL,
	transactions      INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_owner_idx ON reports (owner, created_at DESC);

CREATE TABLE IF NOT EXISTS realized_lots (
	report_id        TEXT NOT NULL REFERENCES reports (id) ON DELETE CASCADE,
	seq              INTEGER NOT NULL,
	time_acquired    TIMESTAMPTZ NOT NULL,
	time_disposed    TIMESTAMPTZ NOT NULL,
	amount_subunits  NUMERIC NOT NULL,
	cost             NUMERIC NOT NULL,
	proceeds         NUMERIC NOT NULL,
	PRIMARY KEY (report_id, seq)
);

CREATE TABLE IF NOT EXISTS open_lots (
	report_id        TEXT NOT NULL REFERENCES reports (id) ON DELETE CASCADE,
	seq              INTEGER NOT NULL,
	time_acquired    TIMESTAMPTZ NOT NULL,
	amount_subunits  NUMERIC NOT NULL,
	unit_cost        NUMERIC NOT NULL,
	PRIMARY KEY (report_id, seq)
);
`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateReport(ctx context.Context, r *model.Report) error {
	policies, err := json.Marshal(r.Policies)
	if err != nil {
		return fmt.Errorf("encode policies: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO reports (id, owner, asset_symbol, asset_decimals, currency_decimals, policies, transactions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7, $8)`,
		r.ID, r.Owner, r.Asset.Symbol, r.Asset.Decimals, r.Asset.CurrencyDecimals,
		string(policies), r.Transactions, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}

	batch := &pgx.Batch{}
	for i, l := range r.Realized {
		batch.Queue(
			`INSERT INTO realized_lots (report_id, seq, time_acquired, time_disposed, amount_subunits, cost, proceeds)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)`,
			r.ID, i, l.TimeAcquired, l.TimeDisposed,
			l.AmountSubunits.String(), l.CostIncludingFees.String(), l.ProceedsExcludingFees.String(),
		)
	}
	for i, l := range r.OpenLots {
		batch.Queue(
			`INSERT INTO open_lots (report_id, seq, time_acquired, amount_subunits, unit_cost)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			r.ID, i, l.TimeAcquired,
			l.AmountSubunits.String(), l.UnitCostIncludingFees.String(),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert lots for report %s: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var r model.Report
	var policies []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, asset_symbol, asset_decimals, currency_decimals,
		        policies::TEXT, transactions, created_at
		 FROM reports WHERE id = $1`, id).
		Scan(&r.ID, &r.Owner, &r.Asset.Symbol, &r.Asset.Decimals, &r.Asset.CurrencyDecimals,
			&policies, &r.Transactions, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	if err := decodePolicies(policies, &r.Policies); err != nil {
		return nil, err
	}

	if r.Realized, err = s.realizedLots(ctx, id); err != nil {
		return nil, err
	}
	if r.OpenLots, err = s.openLots(ctx, id); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) realizedLots(ctx context.Context, id string) ([]lot.RealizedLot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT time_acquired, time_disposed,
		        amount_subunits::TEXT, cost::TEXT, proceeds::TEXT
		 FROM realized_lots WHERE report_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []lot.RealizedLot
	for rows.Next() {
		var l lot.RealizedLot
		var amountS, costS, proceedsS string
		if err := rows.Scan(&l.TimeAcquired, &l.TimeDisposed, &amountS, &costS, &proceedsS); err != nil {
			return nil, err
		}
		l.TimeAcquired = l.TimeAcquired.UTC()
		l.TimeDisposed = l.TimeDisposed.UTC()
		l.AmountSubunits, _ = decimal.NewFromString(amountS)
		l.CostIncludingFees, _ = decimal.NewFromString(costS)
		l.ProceedsExcludingFees, _ = decimal.NewFromString(proceedsS)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) openLots(ctx context.Context, id string) ([]lot.AcquiredLot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT time_acquired, amount_subunits::TEXT, unit_cost::TEXT
		 FROM open_lots WHERE report_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []lot.AcquiredLot
	for rows.Next() {
		var l lot.AcquiredLot
		var amountS, costS string
		if err := rows.Scan(&l.TimeAcquired, &amountS, &costS); err != nil {
			return nil, err
		}
		l.TimeAcquired = l.TimeAcquired.UTC()
		l.AmountSubunits, _ = decimal.NewFromString(amountS)
		l.UnitCostIncludingFees, _ = decimal.NewFromString(costS)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

const headerQuery = `
SELECT r.id, r.owner, r.asset_symbol, r.asset_decimals, r.currency_decimals,
       r.policies::TEXT, r.transactions, r.created_at,
       (SELECT COUNT(*) FROM realized_lots rl WHERE rl.report_id = r.id),
       (SELECT COALESCE(SUM(ol.amount_subunits), 0) FROM open_lots ol WHERE ol.report_id = r.id)::TEXT
FROM reports r`

func (s *PostgresStore) ListReports(ctx context.Context) ([]model.Header, error) {
	rows, err := s.pool.Query(ctx, headerQuery+` ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHeaders(rows)
}

func (s *PostgresStore) ListReportsByOwner(ctx context.Context, owner string) ([]model.Header, error) {
	rows, err := s.pool.Query(ctx, headerQuery+` WHERE r.owner = $1 ORDER BY r.created_at DESC, r.id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHeaders(rows)
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanHeaders(rows pgxRows) ([]model.Header, error) {
	headers := []model.Header{}
	for rows.Next() {
		var h model.Header
		var policies []byte
		var openS string

		if err := rows.Scan(&h.ID, &h.Owner, &h.Asset.Symbol, &h.Asset.Decimals, &h.Asset.CurrencyDecimals,
			&policies, &h.Transactions, &h.CreatedAt, &h.RealizedCount, &openS); err != nil {
			return nil, err
		}
		if err := decodePolicies(policies, &h.Policies); err != nil {
			return nil, err
		}
		h.CreatedAt = h.CreatedAt.UTC()
		h.OpenAmount, _ = decimal.NewFromString(openS)
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

func decodePolicies(data []byte, dst *map[int]policy.Method) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode policies: %w", err)
	}
	return nil
}
