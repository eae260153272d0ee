// Package database implements core.Store on PostgreSQL using pgx.
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is a core.Store backed by a connection pool or, inside WithTx, by
// a single transaction.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool // nil when bound to a transaction
}

var _ core.Store = (*Store)(nil)

// New creates a Store on pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx runs fn in a transaction. Calls on a store already bound to a
// transaction join it.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{db: tx})
	})
}

// ----------------------------------------------------------------------------
// Route tables
// ----------------------------------------------------------------------------

const tableColumns = `id, name, table_type, description, original_file_name, file_size,
	total_rows, all_sheets_data, status, created_at, updated_at, deleted_at`

func scanTable(row pgx.Row, extra ...any) (*models.RouteTable, error) {
	var t models.RouteTable
	dest := append([]any{
		&t.ID, &t.Name, &t.Kind, &t.Description, &t.OriginalFileName, &t.FileSize,
		&t.TotalRows, &t.AllSheets, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTable(ctx context.Context, t *models.RouteTable) error {
	if t.Status == "" {
		t.Status = models.TableActive
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO route_tables (name, table_type, description, original_file_name, file_size, total_rows, all_sheets_data, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		t.Name, t.Kind, t.Description, t.OriginalFileName, t.FileSize, t.TotalRows, t.AllSheets, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert route table: %w", err)
	}
	return nil
}

func (s *Store) GetTable(ctx context.Context, id int64) (*models.RouteTable, error) {
	t, err := scanTable(s.db.QueryRow(ctx,
		`SELECT `+tableColumns+` FROM route_tables WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NotFoundError("route table", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get route table %d: %w", id, err)
	}
	return t, nil
}

func (s *Store) ListTables(ctx context.Context) ([]models.TableSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tableColumns+`,
			(SELECT count(*) FROM route_records r WHERE r.table_id = t.id AND r.deleted_at IS NULL)
		FROM route_tables t
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list route tables: %w", err)
	}
	defer rows.Close()

	out := make([]models.TableSummary, 0)
	for rows.Next() {
		var count int64
		t, err := scanTable(rows, &count)
		if err != nil {
			return nil, err
		}
		out = append(out, models.TableSummary{RouteTable: *t, RecordCount: count})
	}
	return out, rows.Err()
}

func (s *Store) UpdateTableImport(ctx context.Context, id int64, imp core.TableImport) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE route_tables
		SET original_file_name = $2, file_size = $3, total_rows = $4, all_sheets_data = $5, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, imp.OriginalFileName, imp.FileSize, imp.TotalRows, imp.AllSheets)
	return affected("route table", id, tag, err)
}

func (s *Store) SetTableTotalRows(ctx context.Context, id int64, total int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE route_tables SET total_rows = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, total)
	return affected("route table", id, tag, err)
}

func (s *Store) SoftDeleteTable(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx core.Store) error {
		db := tx.(*Store).db
		tag, err := db.Exec(ctx,
			`UPDATE route_tables SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
		if err := affected("route table", id, tag, err); err != nil {
			return err
		}
		if _, err := db.Exec(ctx,
			`UPDATE route_records SET deleted_at = now() WHERE table_id = $1 AND deleted_at IS NULL`, id); err != nil {
			return fmt.Errorf("delete records of table %d: %w", id, err)
		}
		return nil
	})
}

// affected turns a zero-row update into ErrNotFound.
func affected(entity string, id int64, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return fmt.Errorf("update %s %d: %w", entity, id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFoundError(entity, id)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Route records
// ----------------------------------------------------------------------------

// fieldColumns follows the order of fieldArgs and fieldDest.
const fieldColumns = `route_id, parent_id, name, path, title, icon, not_cache, hide_in_menu,
	component, redirect, sort_order, src, key_rule, is_active, module_id, nav, route_type,
	module_name, model, word`

const recordColumns = `id, table_id, ` + fieldColumns + `,
	row_index, is_selected, source_record_id, raw_data, created_at, updated_at, deleted_at`

func fieldArgs(f *models.RouteFields) []any {
	return []any{
		f.RouteID, f.ParentID, f.Name, f.Path, f.Title, f.Icon, f.NotCache, f.HideInMenu,
		f.Component, f.Redirect, f.Order, f.Src, f.KeyRule, f.IsActive, f.ModuleID, f.Nav, f.Type,
		f.ModuleName, f.Model, f.Word,
	}
}

func fieldDest(f *models.RouteFields) []any {
	return []any{
		&f.RouteID, &f.ParentID, &f.Name, &f.Path, &f.Title, &f.Icon, &f.NotCache, &f.HideInMenu,
		&f.Component, &f.Redirect, &f.Order, &f.Src, &f.KeyRule, &f.IsActive, &f.ModuleID, &f.Nav, &f.Type,
		&f.ModuleName, &f.Model, &f.Word,
	}
}

func scanRecord(row pgx.Row) (*models.RouteRecord, error) {
	var r models.RouteRecord
	dest := []any{&r.ID, &r.TableID}
	dest = append(dest, fieldDest(&r.RouteFields)...)
	dest = append(dest, &r.RowIndex, &r.IsSelected, &r.SourceRecordID, &r.RawData,
		&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRecords(rows pgx.Rows) ([]models.RouteRecord, error) {
	defer rows.Close()
	out := make([]models.RouteRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const insertRecordSQL = `
	INSERT INTO route_records (table_id, ` + fieldColumns + `, row_index, is_selected, source_record_id, raw_data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	RETURNING id, created_at, updated_at`

func insertArgs(r *models.RouteRecord) []any {
	args := []any{r.TableID}
	args = append(args, fieldArgs(&r.RouteFields)...)
	return append(args, r.RowIndex, r.IsSelected, r.SourceRecordID, r.RawData)
}

// InsertRecords sends every insert in one batch round trip.
func (s *Store) InsertRecords(ctx context.Context, recs []*models.RouteRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(insertRecordSQL, insertArgs(r)...)
	}

	results := s.db.SendBatch(ctx, batch)
	for i, r := range recs {
		if err := results.QueryRow().Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			results.Close()
			return fmt.Errorf("insert record %d of %d: %w", i+1, len(recs), err)
		}
	}
	return results.Close()
}

func (s *Store) InsertRecord(ctx context.Context, r *models.RouteRecord) error {
	err := s.db.QueryRow(ctx, insertRecordSQL, insertArgs(r)...).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Store) UpdateRecordFields(ctx context.Context, id int64, from *models.RouteRecord) error {
	args := []any{id}
	args = append(args, fieldArgs(&from.RouteFields)...)
	args = append(args, from.RowIndex, from.SourceRecordID, from.RawData)
	tag, err := s.db.Exec(ctx, `
		UPDATE route_records SET
			route_id = $2, parent_id = $3, name = $4, path = $5, title = $6, icon = $7,
			not_cache = $8, hide_in_menu = $9, component = $10, redirect = $11, sort_order = $12,
			src = $13, key_rule = $14, is_active = $15, module_id = $16, nav = $17, route_type = $18,
			module_name = $19, model = $20, word = $21,
			row_index = $22, source_record_id = $23, raw_data = $24, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, args...)
	return affected("route record", id, tag, err)
}

func (s *Store) PurgeRecords(ctx context.Context, tableID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM route_records WHERE table_id = $1`, tableID)
	if err != nil {
		return 0, fmt.Errorf("purge records of table %d: %w", tableID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListRecords(ctx context.Context, tableID int64) ([]models.RouteRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+` FROM route_records
		WHERE table_id = $1 AND deleted_at IS NULL
		ORDER BY row_index, id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list records of table %d: %w", tableID, err)
	}
	return collectRecords(rows)
}

// recordFilter is the WHERE clause shared by QueryRecords and its count.
// $1 table, $2 search pattern or '', $3 module name or '', $4 empty-module
// flag, $5 selected-only flag.
const recordFilter = `
	WHERE table_id = $1 AND deleted_at IS NULL
	  AND ($2 = '' OR name ILIKE $2 OR title ILIKE $2 OR path ILIKE $2 OR module_name ILIKE $2)
	  AND ($3 = '' OR module_name = $3)
	  AND (NOT $4::boolean OR coalesce(module_name, '') = '')
	  AND (NOT $5::boolean OR is_selected)`

func (s *Store) QueryRecords(ctx context.Context, q core.RecordQuery) ([]models.RouteRecord, int64, error) {
	var pattern string
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern = "%" + escapeLike(search) + "%"
	}
	var module string
	if !q.Module.Empty {
		module = q.Module.Name
	}
	args := []any{q.TableID, pattern, module, q.Module.Empty, q.OnlySelected}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM route_records`+recordFilter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	var limit any // NULL means no limit
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM route_records`+recordFilter+`
		ORDER BY row_index, id
		LIMIT $6 OFFSET $7`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query records: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (s *Store) ListRouteIDs(ctx context.Context, tableID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT route_id FROM route_records
		WHERE table_id = $1 AND deleted_at IS NULL AND route_id IS NOT NULL AND route_id <> ''
		ORDER BY row_index, id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list route ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list route ids: %w", err)
	}
	return ids, nil
}

// FindTargetMatch locks and returns the first record in tableID with
// exactly src's route identifier. An identifier-less src matches the first
// record whose route_id is null or empty.
func (s *Store) FindTargetMatch(ctx context.Context, tableID int64, src *models.RouteRecord) (*models.RouteRecord, error) {
	var row pgx.Row
	if src.RouteID != nil && *src.RouteID != "" {
		row = s.db.QueryRow(ctx, `
			SELECT `+recordColumns+` FROM route_records
			WHERE table_id = $1 AND deleted_at IS NULL AND route_id = $2
			ORDER BY row_index, id
			LIMIT 1 FOR UPDATE`, tableID, *src.RouteID)
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT `+recordColumns+` FROM route_records
			WHERE table_id = $1 AND deleted_at IS NULL AND (route_id IS NULL OR route_id = '')
			ORDER BY row_index, id
			LIMIT 1 FOR UPDATE`, tableID)
	}
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find target match: %w", err)
	}
	return r, nil
}

func (s *Store) SetSelected(ctx context.Context, tableID int64, ids []int64, selected bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE route_records SET is_selected = $3, updated_at = now()
		WHERE table_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		tableID, ids, selected)
	if err != nil {
		return 0, fmt.Errorf("set selection: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountRecords(ctx context.Context, tableID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM route_records WHERE table_id = $1 AND deleted_at IS NULL`, tableID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) CountSelected(ctx context.Context, tableID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM route_records WHERE table_id = $1 AND deleted_at IS NULL AND is_selected`, tableID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count selected: %w", err)
	}
	return n, nil
}

func (s *Store) DistinctModuleNames(ctx context.Context, tableID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT module_name FROM route_records
		WHERE table_id = $1 AND deleted_at IS NULL AND module_name IS NOT NULL AND module_name <> ''`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list module names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list module names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// ----------------------------------------------------------------------------
// Migration sessions
// ----------------------------------------------------------------------------

const sessionColumns = `m.id, m.name, m.source_table_id, m.target_table_id, m.status,
	m.selected_count, m.description, m.created_at, m.updated_at, m.deleted_at`

func sessionDest(m *models.MigrationSession) []any {
	return []any{
		&m.ID, &m.Name, &m.SourceTableID, &m.TargetTableID, &m.Status,
		&m.SelectedCount, &m.Description, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	}
}

func (s *Store) CreateSession(ctx context.Context, m *models.MigrationSession) error {
	if m.Status == "" {
		m.Status = models.SessionDraft
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO migration_sessions (name, source_table_id, target_table_id, status, selected_count, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		m.Name, m.SourceTableID, m.TargetTableID, m.Status, m.SelectedCount, m.Description,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert migration session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*models.MigrationSession, error) {
	var m models.MigrationSession
	err := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM migration_sessions m WHERE m.id = $1 AND m.deleted_at IS NULL`, id,
	).Scan(sessionDest(&m)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NotFoundError("migration session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get migration session %d: %w", id, err)
	}
	return &m, nil
}

// nullRef scans the nullable columns of a LEFT JOINed route table.
type nullRef struct {
	id        *int64
	name      *string
	kind      *models.TableKind
	totalRows *int
}

func (r *nullRef) dest() []any {
	return []any{&r.id, &r.name, &r.kind, &r.totalRows}
}

func (r *nullRef) ref() *models.TableRef {
	if r.id == nil {
		return nil
	}
	ref := &models.TableRef{ID: *r.id}
	if r.name != nil {
		ref.Name = *r.name
	}
	if r.kind != nil {
		ref.Kind = *r.kind
	}
	if r.totalRows != nil {
		ref.TotalRows = *r.totalRows
	}
	return ref
}

func (s *Store) ListSessions(ctx context.Context) ([]models.MigrationSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`,
			st.id, st.name, st.table_type, st.total_rows,
			tt.id, tt.name, tt.table_type, tt.total_rows
		FROM migration_sessions m
		LEFT JOIN route_tables st ON st.id = m.source_table_id AND st.deleted_at IS NULL
		LEFT JOIN route_tables tt ON tt.id = m.target_table_id AND tt.deleted_at IS NULL
		WHERE m.deleted_at IS NULL
		ORDER BY m.created_at DESC, m.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list migration sessions: %w", err)
	}
	defer rows.Close()

	out := make([]models.MigrationSession, 0)
	for rows.Next() {
		var m models.MigrationSession
		var src, dst nullRef
		dest := append(sessionDest(&m), src.dest()...)
		dest = append(dest, dst.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		m.SourceTable = src.ref()
		m.TargetTable = dst.ref()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSessionSelectedCount(ctx context.Context, id int64, count int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE migration_sessions SET selected_count = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, count)
	return affected("migration session", id, tag, err)
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id int64, status models.SessionStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE migration_sessions SET status = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, status)
	return affected("migration session", id, tag, err)
}

func (s *Store) MarkSessionsExported(ctx context.Context, tableID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE migration_sessions SET status = $2, updated_at = now()
		WHERE target_table_id = $1 AND status = $3 AND deleted_at IS NULL`,
		tableID, models.SessionExported, models.SessionCompleted)
	if err != nil {
		return 0, fmt.Errorf("mark sessions exported: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) SoftDeleteSession(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE migration_sessions SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	return affected("migration session", id, tag, err)
}
