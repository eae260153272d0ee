// Package memstore provides an in-memory core.Store used by tests and by the
// server when no database is configured. Data does not survive a restart.
//
// Transactions write straight to the live maps and keep an undo journal of
// the rows they touch, so a transaction costs what it writes rather than a
// copy of the whole store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/models"
)

var _ core.Store = (*Store)(nil)

// Store is a mutex-guarded in-memory store. Transactions hold the lock for
// their whole run.
type Store struct {
	mu    sync.Mutex
	state *state
	nowFn func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{state: newState(), nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx runs fn against the live state and undoes its writes unless fn
// returns nil. A panic in fn also rolls back. Other callers block until fn
// returns.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	undo := newJournal(s.state)
	committed := false
	defer func() {
		if !committed {
			undo.rollback(s.state)
		}
	}()

	if err := fn(&txStore{state: s.state, nowFn: s.nowFn, undo: undo}); err != nil {
		return err
	}
	committed = true
	return nil
}

// run executes fn against the live state under the store lock.
func (s *Store) run(fn func(tx *txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txStore{state: s.state, nowFn: s.nowFn})
}

func (s *Store) CreateTable(ctx context.Context, t *models.RouteTable) error {
	return s.run(func(tx *txStore) error { return tx.CreateTable(ctx, t) })
}

func (s *Store) GetTable(ctx context.Context, id int64) (t *models.RouteTable, err error) {
	err = s.run(func(tx *txStore) error { t, err = tx.GetTable(ctx, id); return err })
	return t, err
}

func (s *Store) ListTables(ctx context.Context) (out []models.TableSummary, err error) {
	err = s.run(func(tx *txStore) error { out, err = tx.ListTables(ctx); return err })
	return out, err
}

func (s *Store) UpdateTableImport(ctx context.Context, id int64, imp core.TableImport) error {
	return s.run(func(tx *txStore) error { return tx.UpdateTableImport(ctx, id, imp) })
}

func (s *Store) SetTableTotalRows(ctx context.Context, id int64, total int) error {
	return s.run(func(tx *txStore) error { return tx.SetTableTotalRows(ctx, id, total) })
}

func (s *Store) SoftDeleteTable(ctx context.Context, id int64) error {
	return s.run(func(tx *txStore) error { return tx.SoftDeleteTable(ctx, id) })
}

func (s *Store) InsertRecords(ctx context.Context, recs []*models.RouteRecord) error {
	return s.run(func(tx *txStore) error { return tx.InsertRecords(ctx, recs) })
}

func (s *Store) InsertRecord(ctx context.Context, rec *models.RouteRecord) error {
	return s.run(func(tx *txStore) error { return tx.InsertRecord(ctx, rec) })
}

func (s *Store) UpdateRecordFields(ctx context.Context, id int64, from *models.RouteRecord) error {
	return s.run(func(tx *txStore) error { return tx.UpdateRecordFields(ctx, id, from) })
}

func (s *Store) PurgeRecords(ctx context.Context, tableID int64) (n int64, err error) {
	err = s.run(func(tx *txStore) error { n, err = tx.PurgeRecords(ctx, tableID); return err })
	return n, err
}

func (s *Store) ListRecords(ctx context.Context, tableID int64) (out []models.RouteRecord, err error) {
	err = s.run(func(tx *txStore) error { out, err = tx.ListRecords(ctx, tableID); return err })
	return out, err
}

func (s *Store) QueryRecords(ctx context.Context, q core.RecordQuery) (out []models.RouteRecord, total int64, err error) {
	err = s.run(func(tx *txStore) error { out, total, err = tx.QueryRecords(ctx, q); return err })
	return out, total, err
}

func (s *Store) ListRouteIDs(ctx context.Context, tableID int64) (out []string, err error) {
	err = s.run(func(tx *txStore) error { out, err = tx.ListRouteIDs(ctx, tableID); return err })
	return out, err
}

func (s *Store) FindTargetMatch(ctx context.Context, tableID int64, src *models.RouteRecord) (rec *models.RouteRecord, err error) {
	err = s.run(func(tx *txStore) error { rec, err = tx.FindTargetMatch(ctx, tableID, src); return err })
	return rec, err
}

func (s *Store) SetSelected(ctx context.Context, tableID int64, ids []int64, selected bool) (n int64, err error) {
	err = s.run(func(tx *txStore) error { n, err = tx.SetSelected(ctx, tableID, ids, selected); return err })
	return n, err
}

func (s *Store) CountRecords(ctx context.Context, tableID int64) (n int64, err error) {
	err = s.run(func(tx *txStore) error { n, err = tx.CountRecords(ctx, tableID); return err })
	return n, err
}

func (s *Store) CountSelected(ctx context.Context, tableID int64) (n int64, err error) {
	err = s.run(func(tx *txStore) error { n, err = tx.CountSelected(ctx, tableID); return err })
	return n, err
}

func (s *Store) DistinctModuleNames(ctx context.Context, tableID int64) (out []string, err error) {
	err = s.run(func(tx *txStore) error { out, err = tx.DistinctModuleNames(ctx, tableID); return err })
	return out, err
}

func (s *Store) CreateSession(ctx context.Context, m *models.MigrationSession) error {
	return s.run(func(tx *txStore) error { return tx.CreateSession(ctx, m) })
}

func (s *Store) GetSession(ctx context.Context, id int64) (m *models.MigrationSession, err error) {
	err = s.run(func(tx *txStore) error { m, err = tx.GetSession(ctx, id); return err })
	return m, err
}

func (s *Store) ListSessions(ctx context.Context) (out []models.MigrationSession, err error) {
	err = s.run(func(tx *txStore) error { out, err = tx.ListSessions(ctx); return err })
	return out, err
}

func (s *Store) UpdateSessionSelectedCount(ctx context.Context, id int64, count int) error {
	return s.run(func(tx *txStore) error { return tx.UpdateSessionSelectedCount(ctx, id, count) })
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id int64, status models.SessionStatus) error {
	return s.run(func(tx *txStore) error { return tx.UpdateSessionStatus(ctx, id, status) })
}

func (s *Store) MarkSessionsExported(ctx context.Context, tableID int64) (n int64, err error) {
	err = s.run(func(tx *txStore) error { n, err = tx.MarkSessionsExported(ctx, tableID); return err })
	return n, err
}

func (s *Store) SoftDeleteSession(ctx context.Context, id int64) error {
	return s.run(func(tx *txStore) error { return tx.SoftDeleteSession(ctx, id) })
}

// state holds every row, including soft-deleted ones.
type state struct {
	tables   map[int64]models.RouteTable
	records  map[int64]models.RouteRecord
	sessions map[int64]models.MigrationSession

	nextTable   int64
	nextRecord  int64
	nextSession int64
}

func newState() *state {
	return &state{
		tables:   make(map[int64]models.RouteTable),
		records:  make(map[int64]models.RouteRecord),
		sessions: make(map[int64]models.MigrationSession),
	}
}

// journal holds the value each touched row had before the transaction, nil
// for rows the transaction created. Values share string pointers, which are
// never written through.
type journal struct {
	tables   map[int64]*models.RouteTable
	records  map[int64]*models.RouteRecord
	sessions map[int64]*models.MigrationSession

	nextTable, nextRecord, nextSession int64
}

func newJournal(st *state) *journal {
	return &journal{
		tables:      make(map[int64]*models.RouteTable),
		records:     make(map[int64]*models.RouteRecord),
		sessions:    make(map[int64]*models.MigrationSession),
		nextTable:   st.nextTable,
		nextRecord:  st.nextRecord,
		nextSession: st.nextSession,
	}
}

func (j *journal) rollback(st *state) {
	restore(j.tables, st.tables)
	restore(j.records, st.records)
	restore(j.sessions, st.sessions)
	st.nextTable, st.nextRecord, st.nextSession = j.nextTable, j.nextRecord, j.nextSession
}

// remember saves the pre-transaction value of id the first time it is
// written.
func remember[V any](undo map[int64]*V, live map[int64]V, id int64) {
	if _, seen := undo[id]; seen {
		return
	}
	if old, ok := live[id]; ok {
		undo[id] = &old
		return
	}
	undo[id] = nil
}

func restore[V any](undo map[int64]*V, live map[int64]V) {
	for id, old := range undo {
		if old == nil {
			delete(live, id)
			continue
		}
		live[id] = *old
	}
}

// txStore implements core.Store directly on a state without locking. The
// owning Store holds the lock for its lifetime. undo is nil outside WithTx.
type txStore struct {
	state *state
	nowFn func() time.Time
	undo  *journal
}

func (t *txStore) putTable(tbl models.RouteTable) {
	if t.undo != nil {
		remember(t.undo.tables, t.state.tables, tbl.ID)
	}
	t.state.tables[tbl.ID] = tbl
}

func (t *txStore) putRecord(r models.RouteRecord) {
	if t.undo != nil {
		remember(t.undo.records, t.state.records, r.ID)
	}
	t.state.records[r.ID] = r
}

func (t *txStore) deleteRecord(id int64) {
	if t.undo != nil {
		remember(t.undo.records, t.state.records, id)
	}
	delete(t.state.records, id)
}

func (t *txStore) putSession(m models.MigrationSession) {
	if t.undo != nil {
		remember(t.undo.sessions, t.state.sessions, m.ID)
	}
	t.state.sessions[m.ID] = m
}

var _ core.Store = (*txStore)(nil)

func (t *txStore) WithTx(ctx context.Context, fn func(tx core.Store) error) error {
	return fn(t)
}

func (t *txStore) now() time.Time {
	return t.nowFn().UTC()
}

func (t *txStore) liveTable(id int64) (models.RouteTable, error) {
	tbl, ok := t.state.tables[id]
	if !ok || tbl.DeletedAt != nil {
		return models.RouteTable{}, core.NotFoundError("route table", id)
	}
	return tbl, nil
}

func (t *txStore) liveSession(id int64) (models.MigrationSession, error) {
	m, ok := t.state.sessions[id]
	if !ok || m.DeletedAt != nil {
		return models.MigrationSession{}, core.NotFoundError("migration session", id)
	}
	return m, nil
}

// liveRecords returns the table's live records ordered by row index, then id.
func (t *txStore) liveRecords(tableID int64) []models.RouteRecord {
	var out []models.RouteRecord
	for _, r := range t.state.records {
		if r.TableID == tableID && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *txStore) CreateTable(_ context.Context, tbl *models.RouteTable) error {
	now := t.now()
	t.state.nextTable++
	tbl.ID = t.state.nextTable
	tbl.CreatedAt = now
	tbl.UpdatedAt = now
	if tbl.Status == "" {
		tbl.Status = models.TableActive
	}
	t.putTable(*tbl)
	return nil
}

func (t *txStore) GetTable(_ context.Context, id int64) (*models.RouteTable, error) {
	tbl, err := t.liveTable(id)
	if err != nil {
		return nil, err
	}
	return &tbl, nil
}

func (t *txStore) ListTables(_ context.Context) ([]models.TableSummary, error) {
	counts := make(map[int64]int64)
	for _, r := range t.state.records {
		if r.DeletedAt == nil {
			counts[r.TableID]++
		}
	}
	out := make([]models.TableSummary, 0, len(t.state.tables))
	for _, tbl := range t.state.tables {
		if tbl.DeletedAt != nil {
			continue
		}
		out = append(out, models.TableSummary{RouteTable: tbl, RecordCount: counts[tbl.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *txStore) UpdateTableImport(_ context.Context, id int64, imp core.TableImport) error {
	tbl, err := t.liveTable(id)
	if err != nil {
		return err
	}
	tbl.OriginalFileName = imp.OriginalFileName
	tbl.FileSize = imp.FileSize
	tbl.TotalRows = imp.TotalRows
	tbl.AllSheets = imp.AllSheets
	tbl.UpdatedAt = t.now()
	t.putTable(tbl)
	return nil
}

func (t *txStore) SetTableTotalRows(_ context.Context, id int64, total int) error {
	tbl, err := t.liveTable(id)
	if err != nil {
		return err
	}
	tbl.TotalRows = total
	tbl.UpdatedAt = t.now()
	t.putTable(tbl)
	return nil
}

func (t *txStore) SoftDeleteTable(_ context.Context, id int64) error {
	tbl, err := t.liveTable(id)
	if err != nil {
		return err
	}
	now := t.now()
	tbl.DeletedAt = &now
	tbl.UpdatedAt = now
	t.putTable(tbl)
	for _, r := range t.state.records {
		if r.TableID == id && r.DeletedAt == nil {
			r.DeletedAt = &now
			t.putRecord(r)
		}
	}
	return nil
}

func (t *txStore) InsertRecords(ctx context.Context, recs []*models.RouteRecord) error {
	for _, r := range recs {
		if err := t.InsertRecord(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *txStore) InsertRecord(_ context.Context, rec *models.RouteRecord) error {
	if _, err := t.liveTable(rec.TableID); err != nil {
		return err
	}
	now := t.now()
	t.state.nextRecord++
	rec.ID = t.state.nextRecord
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.DeletedAt = nil
	t.putRecord(*rec)
	return nil
}

func (t *txStore) UpdateRecordFields(_ context.Context, id int64, from *models.RouteRecord) error {
	r, ok := t.state.records[id]
	if !ok || r.DeletedAt != nil {
		return core.NotFoundError("route record", id)
	}
	r.RouteFields = from.RouteFields
	r.SourceRecordID = from.SourceRecordID
	r.RowIndex = from.RowIndex
	r.RawData = from.RawData
	r.UpdatedAt = t.now()
	t.putRecord(r)
	return nil
}

func (t *txStore) PurgeRecords(_ context.Context, tableID int64) (int64, error) {
	var n int64
	for id, r := range t.state.records {
		if r.TableID == tableID {
			t.deleteRecord(id)
			n++
		}
	}
	return n, nil
}

func (t *txStore) ListRecords(_ context.Context, tableID int64) ([]models.RouteRecord, error) {
	return t.liveRecords(tableID), nil
}

func (t *txStore) QueryRecords(_ context.Context, q core.RecordQuery) ([]models.RouteRecord, int64, error) {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]models.RouteRecord, 0)
	for _, r := range t.liveRecords(q.TableID) {
		if q.OnlySelected && !r.IsSelected {
			continue
		}
		if !matchesModule(q.Module, r.ModuleName) {
			continue
		}
		if search != "" && !matchesSearch(search, &r) {
			continue
		}
		matched = append(matched, r)
	}

	total := int64(len(matched))
	if q.Limit <= 0 {
		return matched, total, nil
	}
	if q.Offset >= len(matched) {
		return []models.RouteRecord{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end], total, nil
}

func matchesModule(f core.ModuleFilter, name *string) bool {
	switch {
	case f.Empty:
		return name == nil || *name == ""
	case f.Name != "":
		return name != nil && *name == f.Name
	default:
		return true
	}
}

// matchesSearch reports whether needle (already lower-cased) occurs in any
// of the searchable fields.
func matchesSearch(needle string, r *models.RouteRecord) bool {
	for _, p := range []*string{r.Name, r.Title, r.Path, r.ModuleName} {
		if p != nil && strings.Contains(strings.ToLower(*p), needle) {
			return true
		}
	}
	return false
}

func (t *txStore) ListRouteIDs(_ context.Context, tableID int64) ([]string, error) {
	var out []string
	for _, r := range t.liveRecords(tableID) {
		if r.RouteID != nil && *r.RouteID != "" {
			out = append(out, *r.RouteID)
		}
	}
	return out, nil
}

// FindTargetMatch returns the first live record in tableID with exactly the
// same route identifier as src. Null and empty identifiers are one value.
func (t *txStore) FindTargetMatch(_ context.Context, tableID int64, src *models.RouteRecord) (*models.RouteRecord, error) {
	want := deref(src.RouteID)
	for _, r := range t.liveRecords(tableID) {
		if deref(r.RouteID) == want {
			return &r, nil
		}
	}
	return nil, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (t *txStore) SetSelected(_ context.Context, tableID int64, ids []int64, selected bool) (int64, error) {
	var n int64
	now := t.now()
	for _, id := range ids {
		r, ok := t.state.records[id]
		if !ok || r.TableID != tableID || r.DeletedAt != nil {
			continue
		}
		r.IsSelected = selected
		r.UpdatedAt = now
		t.putRecord(r)
		n++
	}
	return n, nil
}

func (t *txStore) CountRecords(_ context.Context, tableID int64) (int64, error) {
	return int64(len(t.liveRecords(tableID))), nil
}

func (t *txStore) CountSelected(_ context.Context, tableID int64) (int64, error) {
	var n int64
	for _, r := range t.liveRecords(tableID) {
		if r.IsSelected {
			n++
		}
	}
	return n, nil
}

func (t *txStore) DistinctModuleNames(_ context.Context, tableID int64) ([]string, error) {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, r := range t.liveRecords(tableID) {
		if r.ModuleName == nil || *r.ModuleName == "" || seen[*r.ModuleName] {
			continue
		}
		seen[*r.ModuleName] = true
		out = append(out, *r.ModuleName)
	}
	sort.Strings(out)
	return out, nil
}

func (t *txStore) CreateSession(_ context.Context, m *models.MigrationSession) error {
	now := t.now()
	t.state.nextSession++
	m.ID = t.state.nextSession
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = models.SessionDraft
	}
	stored := *m
	stored.SourceTable, stored.TargetTable = nil, nil
	t.putSession(stored)
	return nil
}

func (t *txStore) GetSession(_ context.Context, id int64) (*models.MigrationSession, error) {
	m, err := t.liveSession(id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *txStore) ListSessions(_ context.Context) ([]models.MigrationSession, error) {
	out := make([]models.MigrationSession, 0, len(t.state.sessions))
	for _, m := range t.state.sessions {
		if m.DeletedAt != nil {
			continue
		}
		if tbl, err := t.liveTable(m.SourceTableID); err == nil {
			m.SourceTable = tbl.Ref()
		}
		if tbl, err := t.liveTable(m.TargetTableID); err == nil {
			m.TargetTable = tbl.Ref()
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *txStore) UpdateSessionSelectedCount(_ context.Context, id int64, count int) error {
	m, err := t.liveSession(id)
	if err != nil {
		return err
	}
	m.SelectedCount = count
	m.UpdatedAt = t.now()
	t.putSession(m)
	return nil
}

func (t *txStore) UpdateSessionStatus(_ context.Context, id int64, status models.SessionStatus) error {
	m, err := t.liveSession(id)
	if err != nil {
		return err
	}
	m.Status = status
	m.UpdatedAt = t.now()
	t.putSession(m)
	return nil
}

func (t *txStore) MarkSessionsExported(_ context.Context, tableID int64) (int64, error) {
	var n int64
	now := t.now()
	for _, m := range t.state.sessions {
		if m.DeletedAt != nil || m.TargetTableID != tableID || m.Status != models.SessionCompleted {
			continue
		}
		m.Status = models.SessionExported
		m.UpdatedAt = now
		t.putSession(m)
		n++
	}
	return n, nil
}

func (t *txStore) SoftDeleteSession(_ context.Context, id int64) error {
	m, err := t.liveSession(id)
	if err != nil {
		return err
	}
	now := t.now()
	m.DeletedAt = &now
	m.UpdatedAt = now
	t.putSession(m)
	return nil
}
