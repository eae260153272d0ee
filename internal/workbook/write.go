package workbook

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// textNumFmt is the built-in "@" (Text) number format.
const textNumFmt = 49

// Layout controls how one output sheet is presented.
type Layout struct {
	// Widths maps a column name to its width. Columns not listed get DefaultWidth.
	Widths       map[string]float64
	DefaultWidth float64

	// TextColumns are written as strings with the Text number format so the
	// reader does not turn them into dates or numbers.
	TextColumns []string

	FreezeHeader bool
	AutoFilter   bool
}

// OutputSheet is one sheet to write.
type OutputSheet struct {
	Name    string
	Columns []string
	Rows    []Row
	Layout  Layout
}

// Columns returns the union of the row keys in first-seen order, starting
// with preferred (which keeps its order even for columns no row populates).
func Columns(preferred []string, rows []Row) []string {
	cols := make([]string, 0, len(preferred))
	seen := make(map[string]bool, len(preferred))
	for _, c := range preferred {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, r := range rows {
		for _, k := range r.keys {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// Write renders sheets into an xlsx file on w. At least one sheet is required.
func Write(w io.Writer, sheets []OutputSheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("write workbook: no sheets")
	}

	f := excelize.NewFile()
	defer f.Close()

	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: textNumFmt})
	if err != nil {
		return fmt.Errorf("write workbook: text style: %w", err)
	}

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet.Name); err != nil {
				return fmt.Errorf("write workbook: rename sheet %q: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("write workbook: add sheet %q: %w", sheet.Name, err)
		}
		if err := writeSheet(f, sheet, textStyle); err != nil {
			return fmt.Errorf("write workbook: sheet %q: %w", sheet.Name, err)
		}
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet OutputSheet, textStyle int) error {
	cols := sheet.Columns
	if len(cols) == 0 {
		cols = Columns(nil, sheet.Rows)
	}
	if len(cols) == 0 {
		return nil
	}

	text := make(map[string]bool, len(sheet.Layout.TextColumns))
	for _, c := range sheet.Layout.TextColumns {
		text[c] = true
	}

	for ci, col := range cols {
		letter, err := excelize.ColumnNumberToName(ci + 1)
		if err != nil {
			return err
		}

		width := sheet.Layout.DefaultWidth
		if w, ok := sheet.Layout.Widths[col]; ok {
			width = w
		}
		if width > 0 {
			if err := f.SetColWidth(sheet.Name, letter, letter, width); err != nil {
				return err
			}
		}

		if err := f.SetCellStr(sheet.Name, letter+"1", col); err != nil {
			return err
		}

		for ri, row := range sheet.Rows {
			v, ok := row.Get(col)
			if !ok || v == nil {
				continue
			}
			cell := letter + strconv.Itoa(ri+2)
			if text[col] {
				if err := f.SetCellStr(sheet.Name, cell, CellText(v)); err != nil {
					return err
				}
				if err := f.SetCellStyle(sheet.Name, cell, cell, textStyle); err != nil {
					return err
				}
				continue
			}
			if err := f.SetCellValue(sheet.Name, cell, cellValue(v)); err != nil {
				return err
			}
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return err
	}
	lastRow := len(sheet.Rows) + 1

	if sheet.Layout.FreezeHeader {
		if err := f.SetPanes(sheet.Name, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}
	if sheet.Layout.AutoFilter {
		ref := "A1:" + lastCol + strconv.Itoa(lastRow)
		if err := f.AutoFilter(sheet.Name, ref, nil); err != nil {
			return err
		}
	}
	return nil
}

// cellValue unwraps json.Number into a numeric cell; everything else is
// handed to excelize as-is.
func cellValue(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
