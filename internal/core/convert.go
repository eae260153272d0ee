package core

// convert.go coerces loosely typed spreadsheet cells into route fields.
//
// Cells arrive as whatever the workbook reader produced: strings from
// xlsx/CSV, json.Number or bool when a raw row was decoded from storage.
// Rules:
//   - text is trimmed; blank collapses to nil; long values are cut to the
//     field's maximum length in characters
//   - booleans accept real bools, or "true"/"1"/"yes" in any case

import (
	"strings"

	"github.com/JonMunkholm/routemigrate/internal/models"
	"github.com/JonMunkholm/routemigrate/internal/workbook"
)

// ToText converts a cell to a nullable string of at most maxLen characters.
// maxLen <= 0 means unbounded.
func ToText(v any, maxLen int) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(workbook.CellText(v))
	if s == "" {
		return nil
	}
	s = truncate(s, maxLen)
	return &s
}

// ToBool converts a cell to a boolean. Anything unrecognized is false.
func ToBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	}
	switch strings.ToLower(strings.TrimSpace(workbook.CellText(v))) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// FieldsFromRow applies the coercion table to one spreadsheet row.
func FieldsFromRow(row workbook.Row) models.RouteFields {
	var f models.RouteFields
	for i := range RouteFieldSpecs {
		spec := &RouteFieldSpecs[i]
		v, ok := row.Get(spec.Column)
		spec.Apply(&f, v, ok)
	}
	return f
}
