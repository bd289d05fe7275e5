package processor

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/policy"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func at(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

func acquire(t time.Time, amount, unitCost string) exchange.Acquire {
	return exchange.Acquire{Time: t, AmountSubunits: d(amount), UnitCostIncludingFees: d(unitCost)}
}

func dispose(t time.Time, amount, unitProceeds string) exchange.Dispose {
	return exchange.Dispose{Time: t, AmountSubunits: d(amount), UnitProceedsExcludingFees: d(unitProceeds)}
}

var fifo2022 = map[int]policy.Policy{2022: policy.FirstInFirstOut{}}

func assertRealized(t *testing.T, got lot.RealizedLot, acquired, disposed time.Time, amount, cost, proceeds string) {
	t.Helper()
	if !got.TimeAcquired.Equal(acquired) || !got.TimeDisposed.Equal(disposed) {
		t.Errorf("expected times %v/%v, got %v/%v", acquired, disposed, got.TimeAcquired, got.TimeDisposed)
	}
	if !got.AmountSubunits.Equal(d(amount)) {
		t.Errorf("expected amount %s, got %s", amount, got.AmountSubunits)
	}
	if !got.CostIncludingFees.Equal(d(cost)) {
		t.Errorf("expected cost %s, got %s", cost, got.CostIncludingFees)
	}
	if !got.ProceedsExcludingFees.Equal(d(proceeds)) {
		t.Errorf("expected proceeds %s, got %s", proceeds, got.ProceedsExcludingFees)
	}
}

func TestRun_NoTransactions(t *testing.T) {
	got, err := Process(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no realized lots, got %d", len(got))
	}
}

func TestRun_SingleLotPartialDisposal(t *testing.T) {
	acquired, disposed := at(2022, 3, 17, 16, 21, 3), at(2022, 3, 17, 16, 21, 4)
	p := New([]exchange.Transaction{
		acquire(acquired, "3", "280900"),
		dispose(disposed, "2", "280688"),
	}, fifo2022)

	got, err := p.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 realized lot, got %d", len(got))
	}
	assertRealized(t, got[0], acquired, disposed, "2", "0", "0")

	open := p.OpenLots()
	if len(open) != 1 || !open[0].AmountSubunits.Equal(d("1")) {
		t.Errorf("expected 1 subunit left open, got %+v", open)
	}
}

func TestRun_MultipleLotsFIFO(t *testing.T) {
	lot2021 := at(2021, 3, 17, 16, 21, 3)
	lot2022 := at(2022, 3, 17, 16, 21, 3)
	march := at(2022, 3, 17, 16, 21, 4)
	april := at(2022, 4, 17, 16, 21, 4)

	// not in chronological order
	txs := []exchange.Transaction{
		dispose(april, "200000000000000000", "4028"),
		acquire(lot2022, "400000000000000000", "280900"),
		dispose(march, "300000000000000000", "280688"),
		acquire(lot2021, "100000000000000000", "280900"),
	}

	got, err := Process(txs, fifo2022)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 realized lots, got %d", len(got))
	}
	assertRealized(t, got[0], lot2021, march, "100000000000000000", "281", "281")
	assertRealized(t, got[1], lot2022, march, "200000000000000000", "562", "561")
	assertRealized(t, got[2], lot2022, april, "200000000000000000", "562", "8")
}

func TestRun_InputNotMutated(t *testing.T) {
	txs := []exchange.Transaction{
		dispose(at(2022, 4, 1, 0, 0, 0), "1", "1"),
		acquire(at(2022, 1, 1, 0, 0, 0), "1", "1"),
	}
	if _, err := Process(txs, fifo2022); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := txs[0].(exchange.Dispose); !ok {
		t.Errorf("input order changed")
	}
}

func TestRun_InsufficientHoldings(t *testing.T) {
	txs := []exchange.Transaction{
		acquire(at(2022, 1, 1, 0, 0, 0), "5", "100"),
		dispose(at(2022, 2, 1, 0, 0, 0), "6", "100"),
	}
	got, err := Process(txs, fifo2022)
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	if got != nil {
		t.Errorf("expected no partial result, got %d lots", len(got))
	}
}

func TestRun_DisposeBeforeAnyAcquire(t *testing.T) {
	txs := []exchange.Transaction{
		dispose(at(2022, 1, 1, 0, 0, 0), "1", "100"),
		acquire(at(2022, 2, 1, 0, 0, 0), "5", "100"),
	}
	if _, err := Process(txs, fifo2022); !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
}

func TestRun_MissingPolicy(t *testing.T) {
	txs := []exchange.Transaction{
		acquire(at(2022, 1, 1, 0, 0, 0), "5", "100"),
		dispose(at(2023, 2, 1, 0, 0, 0), "1", "100"),
	}
	_, err := Process(txs, fifo2022)
	if !errors.Is(err, ErrNoPolicy) {
		t.Fatalf("expected ErrNoPolicy, got %v", err)
	}
	if err.Error() != "processor: no policy configured for year: 2023" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestRun_ZeroDisposalIsNoOp(t *testing.T) {
	txs := []exchange.Transaction{
		acquire(at(2022, 1, 1, 0, 0, 0), "5", "100"),
		dispose(at(2024, 2, 1, 0, 0, 0), "0", "0"),
	}
	got, err := Process(txs, fifo2022)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no realized lots, got %d", len(got))
	}
}

func TestRun_InvalidDisposalRejected(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		proceeds string
	}{
		{"negative amount", "-3", "100"},
		{"fractional amount", "1.5", "100"},
		{"negative proceeds", "1", "-100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New([]exchange.Transaction{
				acquire(at(2022, 1, 1, 0, 0, 0), "5", "100"),
				dispose(at(2022, 2, 1, 0, 0, 0), tt.amount, tt.proceeds),
			}, fifo2022)
			got, err := p.Run()
			if err == nil {
				t.Fatal("expected error for invalid disposal")
			}
			if !strings.HasPrefix(err.Error(), "dispose at 2022-02-01T00:00:00Z: ") {
				t.Errorf("unexpected message %q", err.Error())
			}
			if got != nil {
				t.Errorf("expected no partial result, got %d lots", len(got))
			}
			if p.Stats().Disposals != 0 {
				t.Errorf("expected no counted disposals, got %d", p.Stats().Disposals)
			}
		})
	}
}

func TestRun_LogsEachDisposal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	txs := []exchange.Transaction{
		acquire(at(2022, 1, 1, 0, 0, 0), "5", "100"),
		acquire(at(2022, 1, 2, 0, 0, 0), "7", "100"),
		dispose(at(2022, 2, 1, 0, 0, 0), "8", "100"),
		dispose(at(2022, 3, 1, 0, 0, 0), "1", "100"),
	}
	if _, err := Process(txs, fifo2022, WithLogger(logger)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if n := strings.Count(out, "msg=disposal"); n != 2 {
		t.Fatalf("expected 2 disposal log lines, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "year=2022 amount_subunits=8 lots=2") {
		t.Errorf("missing first disposal fields:\n%s", out)
	}
}

func TestOpenLots_MergesMatchingLots(t *testing.T) {
	same := at(2022, 1, 1, 0, 0, 0)
	p := New([]exchange.Transaction{
		acquire(same, "5", "100"),
		acquire(at(2022, 1, 2, 0, 0, 0), "7", "100"),
		acquire(same, "4", "200"),
		acquire(same, "3", "100"),
		dispose(at(2022, 2, 1, 0, 0, 0), "1", "100"),
	}, fifo2022)
	if _, err := p.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	open := p.OpenLots()
	if len(open) != 3 {
		t.Fatalf("expected 3 open lots, got %+v", open)
	}
	if !p.OpenAmount().Equal(d("18")) {
		t.Errorf("expected 18 subunits open, got %s", p.OpenAmount())
	}
	total := decimal.Zero
	for _, l := range open {
		total = total.Add(l.AmountSubunits)
	}
	if !total.Equal(d("18")) {
		t.Errorf("merged lots hold %s subunits, expected 18", total)
	}
	if !open[0].TimeAcquired.Equal(same) || !open[0].UnitCostIncludingFees.Equal(d("100")) {
		t.Errorf("unexpected first lot %+v", open[0])
	}
	if !open[1].UnitCostIncludingFees.Equal(d("200")) || !open[1].AmountSubunits.Equal(d("4")) {
		t.Errorf("unexpected second lot %+v", open[1])
	}
}

func TestRun_ExactConsumptionEmptiesPool(t *testing.T) {
	p := New([]exchange.Transaction{
		acquire(at(2022, 1, 1, 0, 0, 0), "5", "100"),
		acquire(at(2022, 1, 2, 0, 0, 0), "7", "100"),
		dispose(at(2022, 2, 1, 0, 0, 0), "12", "100"),
	}, fifo2022)
	got, err := p.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 realized lots, got %d", len(got))
	}
	if len(p.OpenLots()) != 0 || !p.OpenAmount().IsZero() {
		t.Errorf("expected empty pool, got %v", p.OpenLots())
	}
	if s := p.Stats(); s.Acquisitions != 2 || s.Disposals != 1 || s.Splits != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestRun_PolicyChangesByDisposalYear(t *testing.T) {
	cheapOld := at(2020, 1, 1, 0, 0, 0)
	dearOld := at(2020, 6, 1, 0, 0, 0)
	txs := []exchange.Transaction{
		acquire(cheapOld, "10", "1000"),
		acquire(dearOld, "10", "9000"),
		dispose(at(2022, 6, 1, 0, 0, 0), "10", "5000"),
	}

	lower, err := Process(txs, map[int]policy.Policy{2022: policy.LowerTaxBracket{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lower[0].TimeAcquired.Equal(cheapOld) {
		t.Errorf("lower bracket should realize the cheapest long-term lot, got %v", lower[0].TimeAcquired)
	}

	higher, err := Process(txs, map[int]policy.Policy{2022: policy.HigherTaxBracket{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !higher[0].TimeAcquired.Equal(dearOld) {
		t.Errorf("higher bracket should realize the most expensive long-term lot, got %v", higher[0].TimeAcquired)
	}
}

func TestRun_Deterministic(t *testing.T) {
	txs := []exchange.Transaction{
		acquire(at(2021, 1, 1, 0, 0, 0), "100", "5000"),
		acquire(at(2021, 6, 1, 0, 0, 0), "100", "7000"),
		acquire(at(2022, 1, 1, 0, 0, 0), "100", "3000"),
		dispose(at(2022, 3, 1, 0, 0, 0), "150", "6000"),
		dispose(at(2022, 3, 1, 0, 0, 0), "3", "0"),
		dispose(at(2022, 9, 1, 0, 0, 0), "120", "4000"),
	}
	for _, m := range policy.Methods {
		pol, _ := m.Policy()
		policies := map[int]policy.Policy{2022: pol}
		p := New(txs, policies)
		first, err := p.Run()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", m, err)
		}
		second, err := p.Run()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", m, err)
		}
		if len(first) != len(second) {
			t.Fatalf("%s: runs differ in length", m)
		}
		for i := range first {
			a, b := first[i], second[i]
			if !a.TimeAcquired.Equal(b.TimeAcquired) || !a.AmountSubunits.Equal(b.AmountSubunits) || !a.CostIncludingFees.Equal(b.CostIncludingFees) {
				t.Errorf("%s: lot %d differs: %+v vs %+v", m, i, a, b)
			}
		}
	}
}
