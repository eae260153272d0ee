// Package models defines the persisted entities shared by the engine, the
// stores and the HTTP layer: route tables, route records and migration sessions.
package models

import "time"

// TableKind tags a route table as a raw import or a destination dataset.
type TableKind string

const (
	KindSource   TableKind = "source"
	KindStandard TableKind = "standard"
)

// Valid reports whether k is one of the known table kinds.
func (k TableKind) Valid() bool {
	return k == KindSource || k == KindStandard
}

// TableStatus is the lifecycle status of a route table.
type TableStatus string

const (
	TableActive   TableStatus = "active"
	TableArchived TableStatus = "archived"
)

// SessionStatus is the lifecycle status of a migration session.
type SessionStatus string

const (
	SessionDraft     SessionStatus = "draft"
	SessionCompleted SessionStatus = "completed"
	SessionExported  SessionStatus = "exported"
)

// RouteTable is a named collection of route records.
//
// AllSheets holds the serialized sheet snapshot captured at import time
// (see workbook.Snapshot). TotalRows caches the live record count.
type RouteTable struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Kind             TableKind   `json:"type"`
	Description      *string     `json:"description"`
	OriginalFileName *string     `json:"originalFileName"`
	FileSize         int64       `json:"fileSize"`
	TotalRows        int         `json:"totalRows"`
	AllSheets        *string     `json:"-"`
	Status           TableStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	DeletedAt        *time.Time  `json:"deletedAt,omitempty"`
}

// Ref returns the short summary embedded in session listings.
func (t *RouteTable) Ref() *TableRef {
	if t == nil {
		return nil
	}
	return &TableRef{ID: t.ID, Name: t.Name, Kind: t.Kind, TotalRows: t.TotalRows}
}

// TableSummary is a route table plus its live record count.
type TableSummary struct {
	RouteTable
	RecordCount int64 `json:"recordCount"`
}

// TableRef is the compact form of a route table carried by sessions.
type TableRef struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      TableKind `json:"type"`
	TotalRows int       `json:"totalRows"`
}

// RouteFields are the navigational attributes of one route, as parsed from
// a spreadsheet row. Nil means the cell was absent or blank.
type RouteFields struct {
	RouteID    *string `json:"routeId"`
	ParentID   *string `json:"parentId"`
	Name       *string `json:"name"`
	Path       *string `json:"path"`
	Title      *string `json:"title"`
	Icon       *string `json:"icon"`
	NotCache   bool    `json:"notCache"`
	HideInMenu bool    `json:"hideInMenu"`
	Component  *string `json:"component"`
	Redirect   *string `json:"redirect"`
	Order      *string `json:"order"`
	Src        *string `json:"src"`
	KeyRule    *string `json:"keyRule"`
	IsActive   bool    `json:"isActive"`
	ModuleID   *string `json:"moduleId"`
	Nav        *string `json:"nav"`
	Type       *string `json:"type"`
	ModuleName *string `json:"moduleName"`
	Model      *string `json:"model"`
	Word       *string `json:"word"`
}

// RouteRecord is one route belonging to exactly one table.
type RouteRecord struct {
	ID      int64 `json:"id"`
	TableID int64 `json:"tableId"`
	RouteFields

	RowIndex       int        `json:"rowIndex"`
	IsSelected     bool       `json:"isSelected"`
	SourceRecordID *int64     `json:"sourceRecordId"`
	RawData        *string    `json:"rawData,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// MigrationSession pairs a source table with a target table.
type MigrationSession struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	SourceTableID int64         `json:"sourceTableId"`
	TargetTableID int64         `json:"targetTableId"`
	Status        SessionStatus `json:"status"`
	SelectedCount int           `json:"selectedCount"`
	Description   *string       `json:"description"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	DeletedAt     *time.Time    `json:"deletedAt,omitempty"`

	SourceTable *TableRef `json:"sourceTable,omitempty"`
	TargetTable *TableRef `json:"targetTable,omitempty"`
}
