package core

import (
	"strings"

	"github.com/JonMunkholm/routemigrate/internal/models"
)

// FieldType represents how a spreadsheet cell is coerced into a route field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldBool
)

// ModuleNameColumn is the spreadsheet header of the module display name.
const ModuleNameColumn = "模块名称"

// FieldSpec defines the coercion rule for one route field.
type FieldSpec struct {
	Key         string // API and filter name: "routeId"
	Column      string // Spreadsheet header: "id"
	DBColumn    string // Database column: "route_id"
	Type        FieldType
	MaxLen      int  // Maximum length in characters for FieldText; 0 is unbounded
	DefaultTrue bool // FieldBool only: an absent cell means true

	text func(f *models.RouteFields) **string
	flag func(f *models.RouteFields) *bool
}

// RouteFieldSpecs is the coercion table consulted by the ingestor. Order
// follows the record layout.
var RouteFieldSpecs = []FieldSpec{
	textField("routeId", "id", "route_id", 50, func(f *models.RouteFields) **string { return &f.RouteID }),
	textField("parentId", "parent_id", "parent_id", 50, func(f *models.RouteFields) **string { return &f.ParentID }),
	textField("name", "name", "name", 200, func(f *models.RouteFields) **string { return &f.Name }),
	textField("path", "path", "path", 500, func(f *models.RouteFields) **string { return &f.Path }),
	textField("title", "title", "title", 200, func(f *models.RouteFields) **string { return &f.Title }),
	textField("icon", "icon", "icon", 200, func(f *models.RouteFields) **string { return &f.Icon }),
	boolField("notCache", "not_cache", "not_cache", false, func(f *models.RouteFields) *bool { return &f.NotCache }),
	boolField("hideInMenu", "hide_in_menu", "hide_in_menu", false, func(f *models.RouteFields) *bool { return &f.HideInMenu }),
	textField("component", "component", "component", 500, func(f *models.RouteFields) **string { return &f.Component }),
	textField("redirect", "redirect", "redirect", 500, func(f *models.RouteFields) **string { return &f.Redirect }),
	textField("order", "order", "sort_order", 100, func(f *models.RouteFields) **string { return &f.Order }),
	textField("src", "src", "src", 500, func(f *models.RouteFields) **string { return &f.Src }),
	textField("keyRule", "key_rule", "key_rule", 0, func(f *models.RouteFields) **string { return &f.KeyRule }),
	boolField("isActive", "is_active", "is_active", true, func(f *models.RouteFields) *bool { return &f.IsActive }),
	textField("moduleId", "module_id", "module_id", 50, func(f *models.RouteFields) **string { return &f.ModuleID }),
	textField("nav", "nav", "nav", 200, func(f *models.RouteFields) **string { return &f.Nav }),
	textField("type", "type", "route_type", 100, func(f *models.RouteFields) **string { return &f.Type }),
	textField("moduleName", ModuleNameColumn, "module_name", 200, func(f *models.RouteFields) **string { return &f.ModuleName }),
	textField("model", "model", "model", 200, func(f *models.RouteFields) **string { return &f.Model }),
	textField("word", "word", "word", 0, func(f *models.RouteFields) **string { return &f.Word }),
}

func textField(key, column, dbColumn string, maxLen int, text func(*models.RouteFields) **string) FieldSpec {
	return FieldSpec{Key: key, Column: column, DBColumn: dbColumn, Type: FieldText, MaxLen: maxLen, text: text}
}

func boolField(key, column, dbColumn string, defaultTrue bool, flag func(*models.RouteFields) *bool) FieldSpec {
	return FieldSpec{Key: key, Column: column, DBColumn: dbColumn, Type: FieldBool, DefaultTrue: defaultTrue, flag: flag}
}

// fieldIndex resolves both API keys and spreadsheet headers, case-insensitively.
var fieldIndex = func() map[string]*FieldSpec {
	idx := make(map[string]*FieldSpec, len(RouteFieldSpecs)*2)
	for i := range RouteFieldSpecs {
		spec := &RouteFieldSpecs[i]
		idx[strings.ToLower(spec.Key)] = spec
		idx[strings.ToLower(spec.Column)] = spec
	}
	return idx
}()

// LookupField finds the spec for an API key ("routeId") or a spreadsheet
// header ("id", "parent_id", "模块名称").
func LookupField(name string) (*FieldSpec, bool) {
	spec, ok := fieldIndex[strings.ToLower(strings.TrimSpace(name))]
	return spec, ok
}

// Apply coerces a raw cell into f. present reports whether the cell exists.
func (s *FieldSpec) Apply(f *models.RouteFields, v any, present bool) {
	switch s.Type {
	case FieldBool:
		if !present && s.DefaultTrue {
			*s.flag(f) = true
			return
		}
		*s.flag(f) = ToBool(v)
	default:
		*s.text(f) = ToText(v, s.MaxLen)
	}
}

// Text returns the field of f rendered for comparison: null is "" and
// booleans are "true"/"false".
func (s *FieldSpec) Text(f *models.RouteFields) string {
	if s.Type == FieldBool {
		if *s.flag(f) {
			return "true"
		}
		return "false"
	}
	if p := *s.text(f); p != nil {
		return *p
	}
	return ""
}

// Value returns the field of f as a cell value for export: nil for a null
// text field, the bool itself for flags.
func (s *FieldSpec) Value(f *models.RouteFields) any {
	if s.Type == FieldBool {
		return *s.flag(f)
	}
	if p := *s.text(f); p != nil {
		return *p
	}
	return nil
}
