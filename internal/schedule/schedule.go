// Package schedule parses and formats the per-year policy schedule, e.g.
// "2021=fifo,2022-2023=lower-tax-bracket".
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethlots/tax-engine/internal/policy"
)

// entryRegex matches: {YYYY}[-{YYYY}]={method}
// Example: 2022-2024=higher-tax-bracket
var entryRegex = regexp.MustCompile(`^(\d{4})(?:-(\d{4}))?=([a-z-]+)$`)

var (
	ErrInvalidSchedule = errors.New("schedule: invalid schedule format")
	ErrDuplicateYear   = errors.New("schedule: year assigned more than once")
	ErrMissingYear     = errors.New("schedule: no method for year")
)

// Schedule maps a calendar year to the method used for disposals in it.
type Schedule map[int]policy.Method

// Parse parses a comma-separated list of year or year-range assignments.
// Whitespace around entries is ignored. An empty string is an empty
// schedule.
func Parse(s string) (Schedule, error) {
	sched := Schedule{}
	if strings.TrimSpace(s) == "" {
		return sched, nil
	}

	for _, raw := range strings.Split(s, ",") {
		entry := strings.TrimSpace(raw)
		matches := entryRegex.FindStringSubmatch(entry)
		if matches == nil {
			return nil, fmt.Errorf("%w: %q (expected {year}[-{year}]={method})", ErrInvalidSchedule, entry)
		}

		first, _ := strconv.Atoi(matches[1])
		last := first
		if matches[2] != "" {
			last, _ = strconv.Atoi(matches[2])
		}
		if last < first {
			return nil, fmt.Errorf("%w: range %d-%d is reversed", ErrInvalidSchedule, first, last)
		}

		method, err := policy.ParseMethod(matches[3])
		if err != nil {
			return nil, err
		}
		for y := first; y <= last; y++ {
			if _, ok := sched[y]; ok {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateYear, y)
			}
			sched[y] = method
		}
	}
	return sched, nil
}

// Years returns the scheduled years in ascending order.
func (s Schedule) Years() []int {
	years := make([]int, 0, len(s))
	for y := range s {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// String formats the schedule one year per entry, in year order. The
// result parses back to an equal Schedule.
func (s Schedule) String() string {
	parts := make([]string, 0, len(s))
	for _, y := range s.Years() {
		parts = append(parts, fmt.Sprintf("%d=%s", y, s[y]))
	}
	return strings.Join(parts, ",")
}

// Policies resolves every method into its policy.
func (s Schedule) Policies() (map[int]policy.Policy, error) {
	out := make(map[int]policy.Policy, len(s))
	for y, m := range s {
		p, err := m.Policy()
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", y, err)
		}
		out[y] = p
	}
	return out, nil
}

// Covers reports the first of years that has no method.
func (s Schedule) Covers(years ...int) error {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	for _, y := range sorted {
		if _, ok := s[y]; !ok {
			return fmt.Errorf("%w: %d", ErrMissingYear, y)
		}
	}
	return nil
}
