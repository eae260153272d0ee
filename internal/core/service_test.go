package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/memstore"
	"github.com/JonMunkholm/routemigrate/internal/models"
	"github.com/JonMunkholm/routemigrate/internal/workbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type harness struct {
	svc     *core.Service
	store   *memstore.Store
	tempDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	store := memstore.New(memstore.WithClock(clock))
	dir := t.TempDir()
	svc := core.NewService(store, core.Options{
		TempDir:  dir,
		Location: time.UTC,
		Now:      clock,
	})
	return &harness{svc: svc, store: store, tempDir: dir}
}

func (h *harness) ingest(t *testing.T, name string, kind models.TableKind, csv string) *core.IngestResult {
	t.Helper()
	res, err := h.svc.IngestFile(context.Background(),
		core.TableMeta{Name: name, Kind: kind},
		core.FileInfo{Name: name + ".csv", Size: int64(len(csv))},
		[]byte(csv))
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T, source, target int64) *models.MigrationSession {
	t.Helper()
	s, err := h.svc.CreateSession(context.Background(), core.SessionInput{
		Name:          "session",
		SourceTableID: source,
		TargetTableID: target,
	})
	require.NoError(t, err)
	return s
}

func (h *harness) records(t *testing.T, tableID int64) []models.RouteRecord {
	t.Helper()
	recs, err := h.store.ListRecords(context.Background(), tableID)
	require.NoError(t, err)
	return recs
}

func (h *harness) selectAll(t *testing.T, sess *models.MigrationSession) int {
	t.Helper()
	var ids []int64
	for _, r := range h.records(t, sess.SourceTableID) {
		ids = append(ids, r.ID)
	}
	n, err := h.svc.SetSelection(context.Background(), sess.ID, ids, true)
	require.NoError(t, err)
	return n
}

func routeIDs(recs []core.ComparedRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		if r.RouteID != nil {
			out[i] = *r.RouteID
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Ingest
// ----------------------------------------------------------------------------

func TestIngestFile_RowCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.ingest(t, "routes", models.KindSource, "id,name,path\n1,home,/\n,,\n2,users,/users\n3,roles,/roles\n")

	assert.Equal(t, 3, res.RecordCount)
	assert.Equal(t, []string{workbook.DefaultSheetName}, res.SheetNames)
	assert.Equal(t, 3, res.Table.TotalRows)

	n, err := h.store.CountRecords(ctx, res.TableID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	recs := h.records(t, res.TableID)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, i+2, r.RowIndex)
		assert.True(t, r.IsActive)
		require.NotNil(t, r.RawData)
	}
	assert.Equal(t, `{"id":"1","name":"home","path":"/"}`, *recs[0].RawData)
}

func TestIngestFile_HeaderOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.ingest(t, "empty", models.KindStandard, "id,name,path\n")
	assert.Equal(t, 0, res.RecordCount)
	assert.Equal(t, 0, res.Table.TotalRows)

	n, err := h.store.CountRecords(ctx, res.TableID)
	require.NoError(t, err)
	assert.Zero(t, n)

	var data []byte
	require.NoError(t, h.svc.Export(ctx, res.TableID, func(_ string, r io.Reader) error {
		data, err = io.ReadAll(r)
		return err
	}))
	assert.NotEmpty(t, data)
}

func TestIngestFile_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := []byte("id\n1\n")

	tests := []struct {
		name string
		meta core.TableMeta
	}{
		{"missing name", core.TableMeta{Kind: models.KindSource}},
		{"blank name", core.TableMeta{Name: "   ", Kind: models.KindSource}},
		{"long name", core.TableMeta{Name: strings.Repeat("名", 101), Kind: models.KindSource}},
		{"missing type", core.TableMeta{Name: "routes"}},
		{"unknown type", core.TableMeta{Name: "routes", Kind: "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.IngestFile(ctx, tt.meta, core.FileInfo{}, data)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}

	tables, err := h.svc.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestIngestFile_Unparseable(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.IngestFile(context.Background(),
		core.TableMeta{Name: "routes", Kind: models.KindSource},
		core.FileInfo{Name: "old.xls"},
		[]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0, 0})

	assert.ErrorIs(t, err, core.ErrParse)
	assert.ErrorIs(t, err, workbook.ErrLegacyXLS)
}

func TestReimportFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orig := h.ingest(t, "routes", models.KindStandard, "id,name\n1,a\n2,b\n3,c\n")

	csv := "id,name\n9,z\n8,y\n"
	res, err := h.svc.ReimportFile(ctx, orig.TableID, core.FileInfo{Name: "v2.csv", Size: int64(len(csv))}, []byte(csv))
	require.NoError(t, err)

	require.NotNil(t, res.OldRecordCount)
	assert.EqualValues(t, 3, *res.OldRecordCount)
	assert.Equal(t, 2, res.RecordCount)
	assert.Equal(t, 2, res.Table.TotalRows)
	require.NotNil(t, res.Table.OriginalFileName)
	assert.Equal(t, "v2.csv", *res.Table.OriginalFileName)

	recs := h.records(t, orig.TableID)
	require.Len(t, recs, 2)
	assert.Equal(t, "9", *recs[0].RouteID)

	tables, err := h.svc.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.EqualValues(t, 2, tables[0].RecordCount)
}

func TestReimportFile_ResetsSessionSelectedCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\n1\n2\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n3\n")
	sess := h.session(t, src.TableID, dst.TableID)
	other := h.session(t, dst.TableID, src.TableID)
	require.Equal(t, 2, h.selectAll(t, sess))
	require.Equal(t, 1, h.selectAll(t, other))

	csv := "id\n1\n2\n"
	_, err := h.svc.ReimportFile(ctx, src.TableID, core.FileInfo{Name: "v2.csv", Size: int64(len(csv))}, []byte(csv))
	require.NoError(t, err)

	stored, err := h.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.SelectedCount)

	live, err := h.store.CountSelected(ctx, src.TableID)
	require.NoError(t, err)
	assert.Zero(t, live)

	untouched, err := h.store.GetSession(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, untouched.SelectedCount, "sessions over other sources keep their count")
}

func TestReimportFile_UnknownTable(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ReimportFile(context.Background(), 42, core.FileInfo{}, []byte("not parsed"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// ----------------------------------------------------------------------------
// Sessions and selection
// ----------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\n1\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n2\n")

	sess := h.session(t, src.TableID, dst.TableID)
	assert.Equal(t, models.SessionDraft, sess.Status)
	assert.Equal(t, 0, sess.SelectedCount)
	require.NotNil(t, sess.SourceTable)
	assert.Equal(t, "source", sess.SourceTable.Name)

	_, err := h.svc.CreateSession(ctx, core.SessionInput{Name: "same", SourceTableID: src.TableID, TargetTableID: src.TableID})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = h.svc.CreateSession(ctx, core.SessionInput{Name: "missing", SourceTableID: src.TableID, TargetTableID: 99})
	assert.ErrorIs(t, err, core.ErrNotFound)

	sessions, err := h.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].TargetTable)
	assert.Equal(t, "target", sessions[0].TargetTable.Name)
}

func TestSetSelection_CountMatchesFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\n1\n2\n3\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n7\n")
	sess := h.session(t, src.TableID, dst.TableID)

	recs := h.records(t, src.TableID)
	foreign := h.records(t, dst.TableID)[0].ID

	n, err := h.svc.SetSelection(ctx, sess.ID, []int64{recs[0].ID, recs[1].ID, foreign}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.svc.SetSelection(ctx, sess.ID, []int64{recs[0].ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := h.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	live, err := h.store.CountSelected(ctx, src.TableID)
	require.NoError(t, err)
	assert.EqualValues(t, live, stored.SelectedCount)

	target := h.records(t, dst.TableID)
	assert.False(t, target[0].IsSelected, "records outside the source table are untouched")

	_, err = h.svc.SetSelection(ctx, sess.ID, nil, true)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = h.svc.SetSelection(ctx, 404, []int64{recs[0].ID}, true)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\n1\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n2\n")
	sess := h.session(t, src.TableID, dst.TableID)

	require.NoError(t, h.svc.DeleteSession(ctx, sess.ID))
	assert.ErrorIs(t, h.svc.DeleteSession(ctx, sess.ID), core.ErrNotFound)

	sessions, err := h.svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestDeleteTable_SessionReportsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\n1\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n2\n")
	sess := h.session(t, src.TableID, dst.TableID)

	require.NoError(t, h.svc.DeleteTable(ctx, dst.TableID))

	_, err := h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{})
	assert.ErrorIs(t, err, core.ErrNotFound)

	n, err := h.store.CountRecords(ctx, dst.TableID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ----------------------------------------------------------------------------
// Comparison
// ----------------------------------------------------------------------------

func TestGetComparison_SimpleIgnoresCase(t *testing.T) {
	h := newHarness(t)
	src := h.ingest(t, "source", models.KindSource, "id,name\nABC,upper\nxyz,lower\n,blank\n")
	dst := h.ingest(t, "target", models.KindStandard, "id,name\nabc,a\nXYZ,b\n,blank\n")
	sess := h.session(t, src.TableID, dst.TableID)

	cmp, err := h.svc.GetComparison(context.Background(), sess.ID, core.ComparisonQuery{})
	require.NoError(t, err)

	assert.Equal(t, core.StrategySimple, cmp.Strategy)
	require.Len(t, cmp.SourceRecords, 3)
	assert.True(t, cmp.SourceRecords[0].ExistsInTarget)
	assert.True(t, cmp.SourceRecords[1].ExistsInTarget)
	require.NotNil(t, cmp.SourceRecords[0].ConflictInfo)
	assert.Equal(t, "ABC", cmp.SourceRecords[0].ConflictInfo.RouteID)

	assert.False(t, cmp.SourceRecords[2].ExistsInTarget, "empty identifiers never match")
	assert.Nil(t, cmp.SourceRecords[2].ConflictInfo)
}

func TestGetComparison_Advanced(t *testing.T) {
	h := newHarness(t)
	src := h.ingest(t, "source", models.KindSource, "id,title\n1,A\n2,B\n3,C\n")
	dst := h.ingest(t, "target", models.KindStandard, "id,title\n1,X\n2,B\n")
	sess := h.session(t, src.TableID, dst.TableID)

	cmp, err := h.svc.GetComparison(context.Background(), sess.ID, core.ComparisonQuery{
		Advanced: &core.AdvancedFilter{
			Enabled:         true,
			SameFields:      []string{"id"},
			DifferentFields: []string{"title"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, core.StrategyAdvanced, cmp.Strategy)
	require.Len(t, cmp.SourceRecords, 3)

	first := cmp.SourceRecords[0]
	assert.True(t, first.ExistsInTarget)
	assert.True(t, first.CanUpdate)
	require.NotNil(t, first.ConflictInfo)
	assert.Equal(t, []string{"title"}, first.ConflictInfo.Differences)
	require.NotNil(t, first.ConflictInfo.MatchingRecord)
	assert.Equal(t, "X", *first.ConflictInfo.MatchingRecord.Title)

	second := cmp.SourceRecords[1]
	assert.True(t, second.ExistsInTarget)
	assert.False(t, second.CanUpdate)
	assert.Empty(t, second.ConflictInfo.Differences)

	raw, err := json.Marshal(second.ConflictInfo)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"differences":[]`)

	assert.False(t, cmp.SourceRecords[2].ExistsInTarget)
	assert.False(t, cmp.SourceRecords[2].CanUpdate)
}

func TestGetComparison_MalformedFilterFallsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\nA\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\na\n")
	sess := h.session(t, src.TableID, dst.TableID)

	for _, raw := range []string{`{"enabled":true,`, `{"enabled":true,"sameFields":["nope"]}`} {
		cmp, err := h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{
			Advanced: core.DecodeAdvancedFilter(ctx, raw),
		})
		require.NoError(t, err, raw)
		assert.Equal(t, core.StrategySimple, cmp.Strategy, raw)
		assert.True(t, cmp.SourceRecords[0].ExistsInTarget, raw)
	}
}

func TestGetComparison_OnlyEligible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\n1\n2\n3\n4\n5\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n2\n4\n")
	sess := h.session(t, src.TableID, dst.TableID)

	cmp, err := h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{OnlyEligible: true, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, cmp.Pagination.Total)
	assert.Equal(t, 2, cmp.Pagination.TotalPages)
	assert.Equal(t, []string{"1", "3"}, routeIDs(cmp.SourceRecords))

	cmp, err = h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{OnlyEligible: true, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, routeIDs(cmp.SourceRecords))
}

func TestGetComparison_ModuleFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id,模块名称\n1,系统\n2,\n3,系统\n4,报表\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n9\n")
	sess := h.session(t, src.TableID, dst.TableID)

	cmp, err := h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{Module: core.ModuleFilter{Empty: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, routeIDs(cmp.SourceRecords))

	cmp, err = h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{Module: core.ModuleFilter{Name: "系统"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, routeIDs(cmp.SourceRecords))

	opts, err := h.svc.ModuleOptions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"报表", "系统"}, opts)
}

func TestPagination_PastLastPage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("id\n")
	for i := 0; i < 10; i++ {
		b.WriteString(strings.Repeat("r", i+1) + "\n")
	}
	src := h.ingest(t, "source", models.KindSource, b.String())
	dst := h.ingest(t, "target", models.KindStandard, "id\nx\n")
	sess := h.session(t, src.TableID, dst.TableID)

	detail, err := h.svc.GetTableDetail(ctx, src.TableID, "", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, detail.Records)
	assert.Equal(t, core.Pagination{Total: 10, Page: 2, PageSize: 10, TotalPages: 1}, detail.Pagination)

	cmp, err := h.svc.GetComparison(ctx, sess.ID, core.ComparisonQuery{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, cmp.SourceRecords)
	assert.Equal(t, 1, cmp.Pagination.TotalPages)
}

func TestGetTableDetail_Search(t *testing.T) {
	h := newHarness(t)
	src := h.ingest(t, "source", models.KindSource, "id,name,title\n1,Dashboard,Home\n2,users,User List\n3,roles,Roles\n")

	detail, err := h.svc.GetTableDetail(context.Background(), src.TableID, "USER", 0, 0)
	require.NoError(t, err)
	require.Len(t, detail.Records, 1)
	assert.Equal(t, "2", *detail.Records[0].RouteID)
	assert.Equal(t, core.DefaultPageSize, detail.Pagination.PageSize)
}

// ----------------------------------------------------------------------------
// Execution
// ----------------------------------------------------------------------------

func TestExecuteMigration_EmptySelection(t *testing.T) {
	h := newHarness(t)
	src := h.ingest(t, "source", models.KindSource, "id\n1\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\n2\n")
	sess := h.session(t, src.TableID, dst.TableID)

	_, err := h.svc.ExecuteMigration(context.Background(), sess.ID, false)
	assert.ErrorIs(t, err, core.ErrEmptySelection)
}

func TestExecuteMigration_SkipIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id,name\n1,new\n2,b\n,no-id\n")
	dst := h.ingest(t, "target", models.KindStandard, "id,name\n1,old\n")
	sess := h.session(t, src.TableID, dst.TableID)
	require.Equal(t, 3, h.selectAll(t, sess))

	res, err := h.svc.ExecuteMigration(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.MigrationResult{MigratedCount: 2, SkippedCount: 1, TotalSelected: 3}, *res)

	table, err := h.store.GetTable(ctx, dst.TableID)
	require.NoError(t, err)
	assert.Equal(t, 3, table.TotalRows)

	res, err = h.svc.ExecuteMigration(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MigratedCount)
	assert.Equal(t, 3, res.SkippedCount)

	n, err := h.store.CountRecords(ctx, dst.TableID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	stored, err := h.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, stored.Status)

	target := h.records(t, dst.TableID)
	assert.Equal(t, "old", *target[0].Name, "skip leaves the existing record alone")
}

func TestExecuteMigration_MissingIdentifiersCollide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id,name\n,a\n,b\n")
	dst := h.ingest(t, "target", models.KindStandard, "id,name\n,existing\n")
	sess := h.session(t, src.TableID, dst.TableID)
	h.selectAll(t, sess)

	res, err := h.svc.ExecuteMigration(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, core.MigrationResult{MigratedCount: 0, SkippedCount: 2, TotalSelected: 2}, *res)

	target := h.records(t, dst.TableID)
	require.Len(t, target, 1)
	assert.Equal(t, "existing", *target[0].Name)

	res, err = h.svc.ExecuteMigration(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MigratedCount)

	target = h.records(t, dst.TableID)
	require.Len(t, target, 1, "overwrite updates the single identifier-less record in place")
	assert.Equal(t, "b", *target[0].Name)
}

func TestExecuteMigration_Overwrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id,name\n1,new\n2,b\n")
	dst := h.ingest(t, "target", models.KindStandard, "id,name\n1,old\n")
	sess := h.session(t, src.TableID, dst.TableID)
	h.selectAll(t, sess)

	res, err := h.svc.ExecuteMigration(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MigratedCount)
	assert.Equal(t, 0, res.SkippedCount)

	target := h.records(t, dst.TableID)
	require.Len(t, target, 2)
	assert.Equal(t, "new", *target[0].Name)
	require.NotNil(t, target[0].SourceRecordID)
	assert.Equal(t, h.records(t, src.TableID)[0].ID, *target[0].SourceRecordID)
	assert.Equal(t, `{"id":"1","name":"new"}`, *target[0].RawData)
}

func TestExecuteMigration_ExactIdentifierMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id\nABC\n")
	dst := h.ingest(t, "target", models.KindStandard, "id\nabc\n")
	sess := h.session(t, src.TableID, dst.TableID)
	h.selectAll(t, sess)

	res, err := h.svc.ExecuteMigration(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MigratedCount)

	n, err := h.store.CountRecords(ctx, dst.TableID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

// ----------------------------------------------------------------------------
// Export
// ----------------------------------------------------------------------------

func TestExport_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "routes", models.KindStandard, "id,name,path\n1,home,/\n")

	var name string
	var data []byte
	err := h.svc.Export(ctx, src.TableID, func(fileName string, r io.Reader) error {
		entries, err := os.ReadDir(h.tempDir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "workbook is staged in the temp dir")

		name = fileName
		data, err = io.ReadAll(r)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "routes_2024-01-02.xlsx", name)
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file is removed")

	wb, err := workbook.Parse(data)
	require.NoError(t, err)
	sheet := wb.Primary()
	require.NotNil(t, sheet)
	assert.Equal(t, workbook.DefaultSheetName, sheet.Name)
	assert.Equal(t, []string{"id", "name", "path", "created_at", "updated_at", "deleted_at"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)

	row := sheet.Rows[0]
	assert.Equal(t, "1", row.String("id"))
	assert.Equal(t, "home", row.String("name"))
	assert.Equal(t, "/", row.String("path"))
	assert.Equal(t, "2024-01-02 03:04:05", row.String("created_at"))
	_, ok := row.Get("deleted_at")
	assert.False(t, ok)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	cellType, err := f.GetCellType(workbook.DefaultSheetName, "D2")
	require.NoError(t, err)
	assert.Equal(t, excelize.CellTypeSharedString, cellType, "created_at is stored as text")

	styleID, err := f.GetCellStyle(workbook.DefaultSheetName, "D2")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	assert.Equal(t, 49, style.NumFmt, "created_at uses the Text number format")
}

func TestExport_ExtraSheetsAndSessionStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.ingest(t, "source", models.KindSource, "id,name\n1,a\n")
	dst := h.ingest(t, "target", models.KindStandard, "id,name\n2,b\n")

	extra := &workbook.Workbook{Sheets: []workbook.Sheet{
		{Name: "Menu", Headers: []string{"id", "name"}, Rows: []workbook.Row{workbook.NewRow("id", "2", "name", "b")}},
		{Name: "Notes", Headers: []string{"note"}, Rows: []workbook.Row{workbook.NewRow("note", "keep me")}},
	}}
	_, err := h.svc.Reimport(ctx, dst.TableID, core.FileInfo{Name: "menu.xlsx"}, extra)
	require.NoError(t, err)

	sess := h.session(t, src.TableID, dst.TableID)
	h.selectAll(t, sess)
	_, err = h.svc.ExecuteMigration(ctx, sess.ID, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.svc.Export(ctx, dst.TableID, func(_ string, r io.Reader) error {
		_, err := io.Copy(&buf, r)
		return err
	}))

	wb, err := workbook.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"Menu", "Notes"}, wb.SheetNames())
	assert.Len(t, wb.Sheets[0].Rows, 2)
	require.Len(t, wb.Sheets[1].Rows, 1)
	assert.Equal(t, "keep me", wb.Sheets[1].Rows[0].String("note"))

	stored, err := h.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExported, stored.Status)
}

func TestExport_SendFailureRemovesFile(t *testing.T) {
	h := newHarness(t)
	src := h.ingest(t, "routes", models.KindStandard, "id\n1\n")
	boom := errors.New("client went away")

	err := h.svc.Export(context.Background(), src.TableID, func(string, io.Reader) error { return boom })
	assert.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExport_UnknownTable(t *testing.T) {
	h := newHarness(t)
	err := h.svc.Export(context.Background(), 7, func(string, io.Reader) error {
		t.Fatal("send must not be called")
		return nil
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
