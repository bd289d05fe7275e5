package form8949

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrMalformedCSV is returned by ReadCSV for files that do not follow the
// Form 8949 layout.
var ErrMalformedCSV = errors.New("form8949: malformed csv")

// WriteCSV writes the header followed by one record per row. Booleans are
// written as True/False, which is what the form importer expects.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Fields); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.TaxYear),
			formatBool(r.IsLongTerm),
			r.Description,
			r.DateAcquired,
			r.DateSold,
			r.ProceedsUSD.String(),
			r.CostUSD.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file produced by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedCSV, err)
	}
	if len(header) != len(Fields) {
		return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrMalformedCSV, len(Fields), len(header))
	}
	for i, f := range Fields {
		if header[i] != f {
			return nil, fmt.Errorf("%w: column %d is %q, expected %q", ErrMalformedCSV, i, header[i], f)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCSV, line, err)
		}
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCSV, line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(rec []string) (Row, error) {
	year, err := strconv.Atoi(rec[0])
	if err != nil {
		return Row{}, err
	}
	longTerm, err := parseBool(rec[1])
	if err != nil {
		return Row{}, err
	}
	proceeds, err := decimal.NewFromString(rec[5])
	if err != nil {
		return Row{}, err
	}
	cost, err := decimal.NewFromString(rec[6])
	if err != nil {
		return Row{}, err
	}
	return NewRow(year, longTerm, rec[2], rec[3], rec[4], proceeds, cost)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
