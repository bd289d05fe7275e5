package form8949

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

var summaryFields = []string{
	"tax_year",
	"short_term_rows",
	"short_term_proceeds_usd",
	"short_term_cost_usd",
	"short_term_gain_usd",
	"long_term_rows",
	"long_term_proceeds_usd",
	"long_term_cost_usd",
	"long_term_gain_usd",
}

// WriteXLSX writes a workbook with one sheet per tax year, holding that
// year's rows in the CSV column order, followed by a Summary sheet.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("close workbook", "err", err)
		}
	}()

	byYear := make(map[int][]Row)
	for _, r := range rows {
		byYear[r.TaxYear] = append(byYear[r.TaxYear], r)
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#cfe2f3"}},
	})
	if err != nil {
		return err
	}

	for _, y := range years {
		if err := fillYearSheet(f, strconv.Itoa(y), byYear[y], headerStyle); err != nil {
			return err
		}
	}
	if err := fillSummarySheet(f, Summarize(rows), headerStyle); err != nil {
		return err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(summarySheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	return f.Write(w)
}

func fillYearSheet(f *excelize.File, sheet string, rows []Row, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := writeHeader(f, sheet, Fields, headerStyle); err != nil {
		return err
	}
	for i, r := range rows {
		values := []any{
			r.TaxYear,
			formatBool(r.IsLongTerm),
			r.Description,
			r.DateAcquired,
			r.DateSold,
			r.ProceedsUSD.IntPart(),
			r.CostUSD.IntPart(),
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func fillSummarySheet(f *excelize.File, summaries []YearSummary, headerStyle int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	if err := writeHeader(f, summarySheet, summaryFields, headerStyle); err != nil {
		return err
	}
	for i, s := range summaries {
		values := []any{
			s.TaxYear,
			s.ShortTerm.Rows,
			s.ShortTerm.Proceeds.IntPart(),
			s.ShortTerm.Cost.IntPart(),
			s.ShortTerm.Gain.IntPart(),
			s.LongTerm.Rows,
			s.LongTerm.Proceeds.IntPart(),
			s.LongTerm.Cost.IntPart(),
			s.LongTerm.Gain.IntPart(),
		}
		if err := writeRow(f, summarySheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, fields []string, style int) error {
	values := make([]any, len(fields))
	for i, name := range fields {
		values[i] = name
	}
	if err := writeRow(f, sheet, 1, values); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(fields), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
