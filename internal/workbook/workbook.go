// Package workbook reads and writes the spreadsheets exchanged with operators.
//
// A Workbook is an ordered list of named sheets. Each sheet is an ordered list
// of header-keyed rows: the first spreadsheet row supplies the column names,
// blank cells are left out of a row, and rows with no populated cells are
// dropped. Files are read from xlsx (via excelize) or delimited text, and
// written back to xlsx with per-sheet presentation settings.
package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrInvalid is wrapped by every error returned for unreadable input.
	ErrInvalid = errors.New("invalid workbook")

	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = fmt.Errorf("%w: empty file", ErrInvalid)

	// ErrLegacyXLS is returned for BIFF (.xls 97-2003) binaries, which
	// excelize cannot open.
	ErrLegacyXLS = fmt.Errorf("%w: legacy .xls binary format is not supported, save the file as .xlsx", ErrInvalid)
)

// DefaultSheetName names the sheet of single-sheet inputs without a name
// (CSV) and of exports that have no stored sheet layout.
const DefaultSheetName = "Routes"

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Sheet is one named sheet of header-keyed rows.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

// Workbook is an ordered list of sheets.
type Workbook struct {
	Sheets []Sheet
}

// Primary returns the first sheet, or nil for a workbook without sheets.
func (w *Workbook) Primary() *Sheet {
	if w == nil || len(w.Sheets) == 0 {
		return nil
	}
	return &w.Sheets[0]
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		names[i] = s.Name
	}
	return names
}

// Parse reads a workbook from raw file bytes. The container format is
// detected from content, not from the file name: zip archives are read as
// xlsx, anything else that is not a legacy binary workbook is read as CSV.
func Parse(data []byte) (*Workbook, error) {
	switch {
	case len(data) == 0:
		return nil, ErrEmptyFile
	case bytes.HasPrefix(data, zipMagic):
		return parseXLSX(data)
	case bytes.HasPrefix(data, ole2Magic):
		return nil, ErrLegacyXLS
	default:
		return parseCSV(data)
	}
}

func parseXLSX(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalid)
	}

	wb := &Workbook{Sheets: make([]Sheet, 0, len(names))}
	for _, name := range names {
		cells, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", ErrInvalid, name, err)
		}
		wb.Sheets = append(wb.Sheets, buildSheet(name, cells))
	}
	return wb, nil
}

// buildSheet turns a grid of cell text into header-keyed rows.
func buildSheet(name string, cells [][]string) Sheet {
	sheet := Sheet{Name: name}
	if len(cells) == 0 {
		return sheet
	}

	sheet.Headers = headerNames(cells[0])
	for _, line := range cells[1:] {
		var row Row
		for i, v := range line {
			if i >= len(sheet.Headers) || v == "" {
				continue
			}
			row.Set(sheet.Headers[i], v)
		}
		if row.Len() == 0 {
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

// headerNames trims header cells, names blank ones __EMPTY, __EMPTY_1, ...
// and suffixes repeats with _1, _2, ... so every column has a unique key.
func headerNames(raw []string) []string {
	headers := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	next := make(map[string]int)
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "__EMPTY"
		}
		key := h
		for used[key] {
			next[h]++
			key = h + "_" + strconv.Itoa(next[h])
		}
		used[key] = true
		headers[i] = key
	}
	return headers
}
