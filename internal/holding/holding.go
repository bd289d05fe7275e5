// Package holding classifies the holding period of a disposed lot for US
// federal tax purposes.
package holding

import "time"

// IsLongTerm reports whether an asset acquired at acquired and disposed of
// at disposed was held for more than one year. Only calendar dates count and
// the acquisition date itself is excluded from the holding period. When the
// anniversary of a Feb 29 acquisition falls in a common year it is Feb 28.
//
// Callers guarantee disposed is after acquired.
func IsLongTerm(acquired, disposed time.Time) bool {
	return date(disposed).After(Anniversary(acquired))
}

// Anniversary returns the calendar date one year after t's date.
func Anniversary(t time.Time) time.Time {
	y, m, d := t.Date()
	if m == time.February && d == 29 && !isLeap(y+1) {
		d = 28
	}
	return time.Date(y+1, m, d, 0, 0, 0, 0, time.UTC)
}

func date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
