package schedule

import (
	"errors"
	"testing"

	"github.com/ethlots/tax-engine/internal/policy"
)

func TestParse_Valid(t *testing.T) {
	s, err := Parse("2021=fifo, 2022-2024=lower-tax-bracket,2025=higher-tax-bracket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[int]policy.Method{
		2021: policy.MethodFIFO,
		2022: policy.MethodLowerTaxBracket,
		2023: policy.MethodLowerTaxBracket,
		2024: policy.MethodLowerTaxBracket,
		2025: policy.MethodHigherTaxBracket,
	}
	if len(s) != len(want) {
		t.Fatalf("expected %d years, got %d", len(want), len(s))
	}
	for y, m := range want {
		if s[y] != m {
			t.Errorf("year %d: expected %s, got %s", y, m, s[y])
		}
	}
}

func TestParse_Empty(t *testing.T) {
	s, err := Parse("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 0 {
		t.Errorf("expected empty schedule, got %v", s)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"2021",
		"2021=",
		"21=fifo",
		"2021:fifo",
		"2021=FIFO",
		"2021=fifo,",
		"2023-2021=fifo",
	}
	for _, in := range tests {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("Parse(%q): expected ErrInvalidSchedule, got %v", in, err)
		}
	}
}

func TestParse_UnknownMethod(t *testing.T) {
	_, err := Parse("2021=lifo")
	if !errors.Is(err, policy.ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestParse_DuplicateYear(t *testing.T) {
	_, err := Parse("2021-2023=fifo,2022=higher-tax-bracket")
	if !errors.Is(err, ErrDuplicateYear) {
		t.Fatalf("expected ErrDuplicateYear, got %v", err)
	}
	if err.Error() != "schedule: year assigned more than once: 2022" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestString_RoundTrip(t *testing.T) {
	s, err := Parse("2023=higher-tax-bracket,2021-2022=fifo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := s.String()
	if got != "2021=fifo,2022=fifo,2023=higher-tax-bracket" {
		t.Errorf("unexpected format %q", got)
	}
	again, err := Parse(got)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.String() != got {
		t.Errorf("expected %q, got %q", got, again.String())
	}
}

func TestPolicies(t *testing.T) {
	s := Schedule{2021: policy.MethodFIFO, 2022: policy.MethodLowerTaxBracket}
	got, err := s.Policies()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got[2021].(policy.FirstInFirstOut); !ok {
		t.Errorf("expected FirstInFirstOut for 2021, got %T", got[2021])
	}
	if _, ok := got[2022].(policy.LowerTaxBracket); !ok {
		t.Errorf("expected LowerTaxBracket for 2022, got %T", got[2022])
	}

	bad := Schedule{2021: "lifo"}
	if _, err := bad.Policies(); !errors.Is(err, policy.ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestCovers(t *testing.T) {
	s := Schedule{2021: policy.MethodFIFO, 2022: policy.MethodFIFO}
	if err := s.Covers(2022, 2021); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	err := s.Covers(2024, 2023, 2021)
	if !errors.Is(err, ErrMissingYear) {
		t.Fatalf("expected ErrMissingYear, got %v", err)
	}
	if err.Error() != "schedule: no method for year: 2023" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
