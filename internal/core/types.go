package core

import (
	"context"

	"github.com/JonMunkholm/routemigrate/internal/models"
)

// Store is the persistence contract consumed by the engine.
//
// Implementations report unknown or soft-deleted entities with an error
// wrapping ErrNotFound. Every read returns live rows only.
type Store interface {
	TableStore
	RecordStore
	SessionStore

	// WithTx runs fn against a store bound to one transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// TableStore persists route tables.
type TableStore interface {
	CreateTable(ctx context.Context, t *models.RouteTable) error
	GetTable(ctx context.Context, id int64) (*models.RouteTable, error)
	ListTables(ctx context.Context) ([]models.TableSummary, error)
	UpdateTableImport(ctx context.Context, id int64, imp TableImport) error
	SetTableTotalRows(ctx context.Context, id int64, total int) error
	// SoftDeleteTable marks the table and all of its records deleted.
	SoftDeleteTable(ctx context.Context, id int64) error
}

// RecordStore persists route records.
type RecordStore interface {
	// InsertRecords stores recs in one batch, assigning IDs and timestamps.
	InsertRecords(ctx context.Context, recs []*models.RouteRecord) error
	InsertRecord(ctx context.Context, rec *models.RouteRecord) error
	// UpdateRecordFields overwrites the route fields, provenance, row index
	// and raw snapshot of an existing record.
	UpdateRecordFields(ctx context.Context, id int64, from *models.RouteRecord) error
	// PurgeRecords physically deletes every record of a table.
	PurgeRecords(ctx context.Context, tableID int64) (int64, error)

	// ListRecords returns the table's records ordered by row index, then id.
	ListRecords(ctx context.Context, tableID int64) ([]models.RouteRecord, error)
	// QueryRecords returns one filtered page plus the filtered total.
	QueryRecords(ctx context.Context, q RecordQuery) ([]models.RouteRecord, int64, error)
	ListRouteIDs(ctx context.Context, tableID int64) ([]string, error)
	// FindTargetMatch looks up the record in tableID that a migrated copy of
	// src would collide with, or nil. See ExecuteMigration for the rule.
	FindTargetMatch(ctx context.Context, tableID int64, src *models.RouteRecord) (*models.RouteRecord, error)

	// SetSelected updates the selection flag of ids that belong to tableID
	// and returns how many records it matched.
	SetSelected(ctx context.Context, tableID int64, ids []int64, selected bool) (int64, error)
	CountRecords(ctx context.Context, tableID int64) (int64, error)
	CountSelected(ctx context.Context, tableID int64) (int64, error)
	DistinctModuleNames(ctx context.Context, tableID int64) ([]string, error)
}

// SessionStore persists migration sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.MigrationSession) error
	GetSession(ctx context.Context, id int64) (*models.MigrationSession, error)
	// ListSessions returns live sessions newest first, with table refs filled in.
	ListSessions(ctx context.Context) ([]models.MigrationSession, error)
	UpdateSessionSelectedCount(ctx context.Context, id int64, count int) error
	UpdateSessionStatus(ctx context.Context, id int64, status models.SessionStatus) error
	// MarkSessionsExported moves completed sessions targeting tableID to exported.
	MarkSessionsExported(ctx context.Context, tableID int64) (int64, error)
	SoftDeleteSession(ctx context.Context, id int64) error
}

// TableImport is the file metadata refreshed by a re-import.
type TableImport struct {
	OriginalFileName *string
	FileSize         int64
	TotalRows        int
	AllSheets        *string
}

// ModuleFilter restricts records by module name. The zero value matches
// every record; Empty matches records whose module name is null or "".
type ModuleFilter struct {
	Name  string
	Empty bool
}

// Active reports whether the filter restricts anything.
func (f ModuleFilter) Active() bool {
	return f.Empty || f.Name != ""
}

// RecordQuery selects a page of live records from one table.
type RecordQuery struct {
	TableID int64
	// Search is a case-insensitive substring matched against name, title,
	// path and module name.
	Search       string
	Module       ModuleFilter
	OnlySelected bool

	// Limit <= 0 returns every matching record.
	Limit  int
	Offset int
}

// Pagination describes one page of a larger result.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

// DefaultPageSize is used when a caller asks for no specific page size.
const DefaultPageSize = 50

// MaxPageSize caps caller-provided page sizes.
const MaxPageSize = 1000

// normalizePage applies page defaults: page starts at 1, page size falls
// back to DefaultPageSize and is capped at MaxPageSize.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// newPagination computes totalPages as ceil(total/pageSize). A page past
// the end is reported as requested, not clamped.
func newPagination(total int64, page, pageSize int) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
