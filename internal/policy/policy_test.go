package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/lot"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type spec struct {
	day  int
	cost string
}

// march2021 builds lots acquired on the given March 2021 days.
func march2021(specs ...spec) []*lot.AcquiredLot {
	pool := make([]*lot.AcquiredLot, 0, len(specs))
	for _, s := range specs {
		pool = append(pool, &lot.AcquiredLot{
			TimeAcquired:          time.Date(2021, 3, s.day, 0, 0, 0, 0, time.UTC),
			AmountSubunits:        d("78900000000000"),
			UnitCostIncludingFees: d(s.cost),
		})
	}
	return pool
}

func days(pool []*lot.AcquiredLot) []int {
	out := make([]int, len(pool))
	for i, l := range pool {
		out[i] = l.TimeAcquired.Day()
	}
	return out
}

func assertDays(t *testing.T, got []*lot.AcquiredLot, want []int) {
	t.Helper()
	g := days(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

var disposal = exchange.Dispose{
	Time:                      time.Date(2022, 3, 13, 0, 0, 0, 0, time.UTC),
	UnitProceedsExcludingFees: d("57075"),
}

func TestFirstInFirstOut(t *testing.T) {
	first := &lot.AcquiredLot{
		TimeAcquired:          time.Date(2022, 3, 13, 20, 10, 59, 0, time.UTC),
		AmountSubunits:        d("3583178900000000000"),
		UnitCostIncludingFees: d("257075"),
	}
	second := &lot.AcquiredLot{
		TimeAcquired:          time.Date(2022, 3, 13, 20, 11, 0, 0, time.UTC),
		AmountSubunits:        d("2168500000000000"),
		UnitCostIncludingFees: d("257074"),
	}
	later := &lot.AcquiredLot{
		TimeAcquired:          time.Date(2025, 3, 13, 20, 10, 59, 0, time.UTC),
		AmountSubunits:        d("3583178900000000000"),
		UnitCostIncludingFees: d("257075"),
	}

	tests := []struct {
		name string
		pool []*lot.AcquiredLot
		want []*lot.AcquiredLot
	}{
		{"empty", nil, nil},
		{"single", []*lot.AcquiredLot{first}, []*lot.AcquiredLot{first}},
		{"newest moves to front", []*lot.AcquiredLot{first, second}, []*lot.AcquiredLot{second, first}},
		{"already ordered", []*lot.AcquiredLot{later, second}, []*lot.AcquiredLot{later, second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FirstInFirstOut{}.Order(tt.pool, exchange.Dispose{})
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d lots, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("position %d: expected lot acquired %v, got %v", i, tt.want[i].TimeAcquired, got[i].TimeAcquired)
				}
			}
		})
	}
}

func TestFirstInFirstOut_DoesNotMutatePool(t *testing.T) {
	pool := march2021(spec{10, "1"}, spec{12, "1"}, spec{11, "1"})
	FirstInFirstOut{}.Order(pool, disposal)
	assertDays(t, pool, []int{10, 12, 11})
}

func TestLowerTaxBracket(t *testing.T) {
	tests := []struct {
		name string
		pool []*lot.AcquiredLot
		want []int
	}{
		{
			"short-term non-gains only",
			march2021(spec{14, "57076"}, spec{13, "57075"}),
			[]int{13, 14},
		},
		{
			"long-term by cost descending",
			march2021(spec{14, "57076"}, spec{13, "57075"}, spec{12, "57075"}, spec{10, "57070"}, spec{11, "657075"}),
			[]int{11, 12, 10, 13, 14},
		},
		{
			"all three segments",
			march2021(spec{15, "57076"}, spec{13, "57075"}, spec{12, "57075"}, spec{14, "57074"}, spec{10, "57070"}, spec{16, "1"}, spec{11, "657075"}),
			[]int{14, 16, 11, 12, 10, 13, 15},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDays(t, LowerTaxBracket{}.Order(tt.pool, disposal), tt.want)
		})
	}
}

func TestHigherTaxBracket(t *testing.T) {
	tests := []struct {
		name string
		pool []*lot.AcquiredLot
		want []int
	}{
		{
			"short-term non-gains only",
			march2021(spec{14, "57076"}, spec{13, "57075"}),
			[]int{13, 14},
		},
		{
			"long-term by cost ascending",
			march2021(spec{14, "57076"}, spec{13, "57075"}, spec{12, "57075"}, spec{10, "57070"}, spec{11, "657075"}),
			[]int{10, 12, 11, 13, 14},
		},
		{
			"all three segments",
			march2021(spec{15, "57076"}, spec{13, "57075"}, spec{12, "57075"}, spec{14, "57074"}, spec{10, "57070"}, spec{16, "1"}, spec{11, "657075"}),
			[]int{14, 16, 10, 12, 11, 13, 15},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDays(t, HigherTaxBracket{}.Order(tt.pool, disposal), tt.want)
		})
	}
}

func TestBracketPolicies_EmptyAndSameDay(t *testing.T) {
	for _, p := range []Policy{LowerTaxBracket{}, HigherTaxBracket{}} {
		if got := p.Order(nil, disposal); len(got) != 0 {
			t.Errorf("%T: expected empty, got %d lots", p, len(got))
		}

		same := []*lot.AcquiredLot{{
			TimeAcquired:          disposal.Time,
			AmountSubunits:        d("3583178900000000000"),
			UnitCostIncludingFees: d("257075"),
		}}
		got := p.Order(same, exchange.Dispose{Time: disposal.Time})
		if len(got) != 1 || got[0] != same[0] {
			t.Errorf("%T: expected the single lot back, got %v", p, got)
		}
	}
}

func TestPolicies_Deterministic(t *testing.T) {
	for _, m := range Methods {
		p, err := m.Policy()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pool := march2021(spec{15, "57076"}, spec{13, "57075"}, spec{12, "57075"}, spec{14, "57074"}, spec{10, "57070"}, spec{16, "1"}, spec{11, "657075"})
		first := days(p.Order(pool, disposal))
		second := days(p.Order(pool, disposal))
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("%s: orders differ: %v vs %v", m, first, second)
			}
		}
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		got, err := ParseMethod(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMethod(%q): expected %q, got %q (%v)", m, m, got, err)
		}
	}
	if _, err := ParseMethod("lifo"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
	if _, err := Method("lifo").Policy(); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}
