package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func seed(t *testing.T, s *Store, routeIDs ...string) int64 {
	t.Helper()
	ctx := context.Background()
	tbl := &models.RouteTable{Name: "t", Kind: models.KindSource}
	require.NoError(t, s.CreateTable(ctx, tbl))

	recs := make([]*models.RouteRecord, len(routeIDs))
	for i, id := range routeIDs {
		recs[i] = &models.RouteRecord{TableID: tbl.ID, RowIndex: i + 2}
		if id != "" {
			recs[i].RouteID = str(id)
		}
	}
	require.NoError(t, s.InsertRecords(ctx, recs))
	return tbl.ID
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	tableID := seed(t, s, "1")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx core.Store) error {
		if _, err := tx.PurgeRecords(ctx, tableID); err != nil {
			return err
		}
		n, err := tx.CountRecords(ctx, tableID)
		require.NoError(t, err)
		assert.Zero(t, n, "purge is visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountRecords(ctx, tableID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestWithTx_RollbackRestoresEveryWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	tableID := seed(t, s, "1", "2")
	before, err := s.ListRecords(ctx, tableID)
	require.NoError(t, err)
	boom := errors.New("boom")

	err = s.WithTx(ctx, func(tx core.Store) error {
		if err := tx.UpdateRecordFields(ctx, before[0].ID, &models.RouteRecord{RouteFields: models.RouteFields{RouteID: str("changed")}}); err != nil {
			return err
		}
		if err := tx.InsertRecord(ctx, &models.RouteRecord{TableID: tableID, RouteFields: models.RouteFields{RouteID: str("3")}}); err != nil {
			return err
		}
		if _, err := tx.SetSelected(ctx, tableID, []int64{before[1].ID}, true); err != nil {
			return err
		}
		if err := tx.CreateSession(ctx, &models.MigrationSession{Name: "s", SourceTableID: tableID, TargetTableID: tableID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.ListRecords(ctx, tableID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	rec := &models.RouteRecord{TableID: tableID}
	require.NoError(t, s.InsertRecord(ctx, rec))
	assert.Equal(t, before[1].ID+1, rec.ID, "ids handed out by the rolled back transaction are reused")
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	s := New()
	ctx := context.Background()
	tableID := seed(t, s, "1")

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx core.Store) error {
			if _, err := tx.PurgeRecords(ctx, tableID); err != nil {
				return err
			}
			panic("boom")
		})
	})

	n, err := s.CountRecords(ctx, tableID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestWithTx_Commits(t *testing.T) {
	s := New()
	ctx := context.Background()

	var id int64
	require.NoError(t, s.WithTx(ctx, func(tx core.Store) error {
		tbl := &models.RouteTable{Name: "t", Kind: models.KindStandard}
		if err := tx.CreateTable(ctx, tbl); err != nil {
			return err
		}
		id = tbl.ID
		return nil
	}))

	tbl, err := s.GetTable(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TableActive, tbl.Status)
}

func TestSoftDeleteTable_HidesRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	tableID := seed(t, s, "1", "2")

	require.NoError(t, s.SoftDeleteTable(ctx, tableID))

	_, err := s.GetTable(ctx, tableID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.SoftDeleteTable(ctx, tableID), core.ErrNotFound)

	recs, err := s.ListRecords(ctx, tableID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestFindTargetMatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	tableID := seed(t, s, "ABC", "")

	match, err := s.FindTargetMatch(ctx, tableID, &models.RouteRecord{RouteFields: models.RouteFields{RouteID: str("ABC")}})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "ABC", *match.RouteID)

	match, err = s.FindTargetMatch(ctx, tableID, &models.RouteRecord{RouteFields: models.RouteFields{RouteID: str("abc")}})
	require.NoError(t, err)
	assert.Nil(t, match, "identifiers match exactly")

	match, err = s.FindTargetMatch(ctx, tableID, &models.RouteRecord{ID: 500})
	require.NoError(t, err)
	require.NotNil(t, match, "a missing identifier matches a target record without one")
	assert.Nil(t, match.RouteID)
	assert.Equal(t, 3, match.RowIndex)

	match, err = s.FindTargetMatch(ctx, tableID, &models.RouteRecord{RouteFields: models.RouteFields{RouteID: str("")}})
	require.NoError(t, err)
	require.NotNil(t, match, "empty and missing identifiers are the same value")
	assert.Equal(t, 3, match.RowIndex)

	other := seed(t, s, "X")
	match, err = s.FindTargetMatch(ctx, other, &models.RouteRecord{ID: 500})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestQueryRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	tableID := seed(t, s, "1", "2", "3", "4", "5")

	recs, total, err := s.QueryRecords(ctx, core.RecordQuery{TableID: tableID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "3", *recs[0].RouteID)

	recs, total, err = s.QueryRecords(ctx, core.RecordQuery{TableID: tableID, Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Empty(t, recs)

	all, err := s.ListRecords(ctx, tableID)
	require.NoError(t, err)
	n, err := s.SetSelected(ctx, tableID, []int64{all[0].ID, all[4].ID, 9999}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	recs, total, err = s.QueryRecords(ctx, core.RecordQuery{TableID: tableID, OnlySelected: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, recs, 2)
}

func TestMarkSessionsExported(t *testing.T) {
	s := New()
	ctx := context.Background()
	src := seed(t, s, "1")
	dst := seed(t, s, "2")

	done := &models.MigrationSession{Name: "done", SourceTableID: src, TargetTableID: dst, Status: models.SessionCompleted}
	draft := &models.MigrationSession{Name: "draft", SourceTableID: src, TargetTableID: dst}
	require.NoError(t, s.CreateSession(ctx, done))
	require.NoError(t, s.CreateSession(ctx, draft))

	n, err := s.MarkSessionsExported(ctx, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetSession(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExported, got.Status)

	got, err = s.GetSession(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionDraft, got.Status)
}
