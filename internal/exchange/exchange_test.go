package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/subunit"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAcquireToLot(t *testing.T) {
	when := time.Date(2021, 3, 17, 0, 0, 0, 0, time.UTC)
	a, err := NewAcquire(when, d("500"), d("10340"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l, err := a.ToLot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.TimeAcquired.Equal(when) || !l.AmountSubunits.Equal(d("500")) || !l.UnitCostIncludingFees.Equal(d("10340")) {
		t.Errorf("unexpected lot %+v", l)
	}
}

func TestNewAcquire_Invalid(t *testing.T) {
	if _, err := NewAcquire(time.Now(), d("0"), d("1")); !errors.Is(err, subunit.ErrOutOfDomain) {
		t.Errorf("expected ErrOutOfDomain, got %v", err)
	}
}

func TestNewDispose(t *testing.T) {
	if _, err := NewDispose(time.Now(), d("0"), d("0")); err != nil {
		t.Errorf("zero disposal should be valid, got %v", err)
	}
	if _, err := NewDispose(time.Now(), d("-1"), d("0")); !errors.Is(err, subunit.ErrOutOfDomain) {
		t.Errorf("expected ErrOutOfDomain, got %v", err)
	}
	if _, err := NewDispose(time.Now(), d("1"), d("-5")); !errors.Is(err, subunit.ErrOutOfDomain) {
		t.Errorf("expected ErrOutOfDomain, got %v", err)
	}
	if _, err := NewDispose(time.Now(), d("0.5"), d("5")); !errors.Is(err, subunit.ErrNotInteger) {
		t.Errorf("expected ErrNotInteger, got %v", err)
	}
}

func TestSortChronological(t *testing.T) {
	txs := []Transaction{
		Dispose{Time: time.Date(2021, 3, 17, 4, 2, 3, 0, time.UTC), AmountSubunits: d("3583178900000000000"), UnitProceedsExcludingFees: d("300000")},
		Acquire{Time: time.Date(2021, 3, 17, 4, 2, 4, 0, time.UTC), AmountSubunits: d("53583178900000000000"), UnitCostIncludingFees: d("400000")},
		Dispose{Time: time.Date(2021, 3, 17, 4, 3, 1, 0, time.UTC), AmountSubunits: d("3583178900000000000"), UnitProceedsExcludingFees: d("300000")},
	}

	orders := [][]int{{2, 0, 1}, {0, 1, 2}, {1, 0, 2}}
	for _, order := range orders {
		in := []Transaction{txs[order[0]], txs[order[1]], txs[order[2]]}
		got := SortChronological(in)
		for i := range txs {
			if !got[i].OccurredAt().Equal(txs[i].OccurredAt()) {
				t.Errorf("order %v: position %d expected %v, got %v", order, i, txs[i].OccurredAt(), got[i].OccurredAt())
			}
		}
		if !in[0].OccurredAt().Equal(txs[order[0]].OccurredAt()) {
			t.Errorf("input slice was mutated")
		}
	}
}

func TestSortChronological_Stable(t *testing.T) {
	when := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		Dispose{Time: when, AmountSubunits: d("1")},
		Acquire{Time: when, AmountSubunits: d("2"), UnitCostIncludingFees: d("1")},
		Dispose{Time: when, AmountSubunits: d("3")},
	}
	got := SortChronological(txs)
	for i, want := range []string{"1", "2", "3"} {
		if !got[i].Amount().Equal(d(want)) {
			t.Errorf("position %d: expected amount %s, got %s", i, want, got[i].Amount())
		}
	}
}

func TestSortChronological_Empty(t *testing.T) {
	if got := SortChronological(nil); len(got) != 0 {
		t.Errorf("expected empty, got %d", len(got))
	}
}
