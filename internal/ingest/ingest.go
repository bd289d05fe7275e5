// Package ingest reads wallet and exchange exports and normalizes them into
// the acquisitions and disposals the processor consumes.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ExchangeWallet stands in for the custodial exchange account in a wallet
// transaction's From or To once a transfer has been correlated with it.
const ExchangeWallet = "coinbase"

// unitPricePlaces is the number of fractional currency-subunit digits kept
// when a unit price is derived from a total and a quantity.
const unitPricePlaces = 10

var (
	ErrMalformedRow  = errors.New("ingest: malformed row")
	ErrMissingColumn = errors.New("ingest: missing column")
	ErrUnsupported   = errors.New("ingest: unsupported transaction")
	ErrNoAddress     = errors.New("ingest: no wallet address in file name")
)

var addressRegex = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// WalletAddressFromFilename extracts the lower-cased wallet address from an
// export name such as "export-0xAbC...123.csv".
func WalletAddressFromFilename(name string) (string, error) {
	addr := addressRegex.FindString(name)
	if addr == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, name)
	}
	return strings.ToLower(addr), nil
}

// table is a CSV body addressed by header name.
type table struct {
	columns map[string]int
	records [][]string
	// line of records[0] in the source file
	firstLine int
}

// readTable reads a CSV whose header is the first row for which isHeader
// returns true. Rows before it are ignored.
func readTable(r io.Reader, isHeader func([]string) bool, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	line := 0
	var header []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no header row", ErrMalformedRow)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		line++
		if isHeader(rec) {
			header = rec
			break
		}
	}

	t := &table{columns: make(map[string]int, len(header)), firstLine: line + 1}
	for i, name := range header {
		t.columns[headerName(name)] = i
	}
	for _, name := range required {
		if _, ok := t.columns[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		t.records = append(t.records, rec)
	}
	return t, nil
}

// get returns the named field of record i, or "" when the record is short.
func (t *table) get(i int, name string) string {
	idx, ok := t.columns[name]
	if !ok || idx >= len(t.records[i]) {
		return ""
	}
	return strings.TrimSpace(t.records[i][idx])
}

func (t *table) decimal(i int, name string) (decimal.Decimal, error) {
	raw := t.get(i, name)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimPrefix(raw, "$"), ",", ""))
	if err != nil {
		return decimal.Zero, t.rowError(i, "%s %q is not a number", name, raw)
	}
	return v, nil
}

func (t *table) line(i int) int {
	return t.firstLine + i
}

func (t *table) rowError(i int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformedRow, t.line(i), fmt.Sprintf(format, args...))
}

func firstFieldIs(name string) func([]string) bool {
	return func(rec []string) bool {
		return len(rec) > 0 && headerName(rec[0]) == name
	}
}

func hasField(name string) func([]string) bool {
	return func(rec []string) bool {
		for _, f := range rec {
			if headerName(f) == name {
				return true
			}
		}
		return false
	}
}

// headerName trims whitespace and a leading byte order mark.
func headerName(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")
}
