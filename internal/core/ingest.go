package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/models"
	"github.com/JonMunkholm/routemigrate/internal/workbook"
)

// maxTableNameLen matches the name column width of route_tables.
const maxTableNameLen = 100

// TableMeta describes a table created by an import.
type TableMeta struct {
	Name        string
	Kind        models.TableKind
	Description string
}

// FileInfo describes the uploaded file a workbook was read from.
type FileInfo struct {
	Name string
	Size int64
}

// IngestResult reports the outcome of an import or re-import.
type IngestResult struct {
	Table          *models.RouteTable `json:"table"`
	TableID        int64              `json:"tableId"`
	RecordCount    int                `json:"recordCount"`
	OldRecordCount *int64             `json:"oldRecordCount,omitempty"`
	SheetNames     []string           `json:"sheetNames"`
}

// Validate checks the metadata before any file work is done.
func (m TableMeta) Validate() error {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return validationError("table name is required")
	}
	if utf8.RuneCountInString(name) > maxTableNameLen {
		return validationError("table name exceeds %d characters", maxTableNameLen)
	}
	if m.Kind == "" {
		return validationError("table type is required")
	}
	if !m.Kind.Valid() {
		return validationError("table type %q must be %q or %q", m.Kind, models.KindSource, models.KindStandard)
	}
	return nil
}

// ParseWorkbook reads an uploaded file under the file limiter. Unreadable
// input is reported as ErrParse.
func (s *Service) ParseWorkbook(ctx context.Context, data []byte) (*workbook.Workbook, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	wb, err := workbook.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return wb, nil
}

// IngestFile validates meta, parses data and ingests the workbook.
func (s *Service) IngestFile(ctx context.Context, meta TableMeta, file FileInfo, data []byte) (*IngestResult, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	wb, err := s.ParseWorkbook(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, meta, file, wb)
}

// Ingest creates a route table from the first sheet of wb. The table row
// and all of its records are written in one transaction.
func (s *Service) Ingest(ctx context.Context, meta TableMeta, file FileInfo, wb *workbook.Workbook) (*IngestResult, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	sheet := wb.Primary()
	if sheet == nil {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrParse)
	}

	snapshot, err := workbook.NewSnapshot(wb).Encode()
	if err != nil {
		return nil, err
	}

	table := &models.RouteTable{
		Name:      strings.TrimSpace(meta.Name),
		Kind:      meta.Kind,
		FileSize:  file.Size,
		TotalRows: len(sheet.Rows),
		AllSheets: &snapshot,
		Status:    models.TableActive,
	}
	if d := strings.TrimSpace(meta.Description); d != "" {
		table.Description = &d
	}
	if file.Name != "" {
		table.OriginalFileName = &file.Name
	}

	recs, err := buildRecords(sheet)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateTable(ctx, table); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		for _, r := range recs {
			r.TableID = table.ID
		}
		if err := tx.InsertRecords(ctx, recs); err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %q: %w", table.Name, err)
	}

	s.recorder.RecordsIngested(string(table.Kind), len(recs))
	logging.FromContext(ctx).Info("route table imported",
		"table_id", table.ID,
		"name", table.Name,
		"type", table.Kind,
		"records", len(recs),
		"sheets", len(wb.Sheets),
	)

	return &IngestResult{
		Table:       table,
		TableID:     table.ID,
		RecordCount: len(recs),
		SheetNames:  wb.SheetNames(),
	}, nil
}

// ReimportFile replaces the records of an existing table with data.
// An unknown table is reported before the file is parsed.
func (s *Service) ReimportFile(ctx context.Context, tableID int64, file FileInfo, data []byte) (*IngestResult, error) {
	if _, err := s.store.GetTable(ctx, tableID); err != nil {
		return nil, err
	}
	wb, err := s.ParseWorkbook(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.Reimport(ctx, tableID, file, wb)
}

// Reimport purges every record of the table (hard delete), ingests the
// first sheet of wb in their place and refreshes the table's file metadata.
func (s *Service) Reimport(ctx context.Context, tableID int64, file FileInfo, wb *workbook.Workbook) (*IngestResult, error) {
	sheet := wb.Primary()
	if sheet == nil {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrParse)
	}

	snapshot, err := workbook.NewSnapshot(wb).Encode()
	if err != nil {
		return nil, err
	}
	recs, err := buildRecords(sheet)
	if err != nil {
		return nil, err
	}

	var table *models.RouteTable
	var old int64
	err = s.store.WithTx(ctx, func(tx Store) error {
		var err error
		if table, err = tx.GetTable(ctx, tableID); err != nil {
			return err
		}
		if old, err = tx.PurgeRecords(ctx, tableID); err != nil {
			return fmt.Errorf("purge records: %w", err)
		}
		for _, r := range recs {
			r.TableID = tableID
		}
		if err := tx.InsertRecords(ctx, recs); err != nil {
			return fmt.Errorf("insert records: %w", err)
		}

		imp := TableImport{
			FileSize:  file.Size,
			TotalRows: len(recs),
			AllSheets: &snapshot,
		}
		if file.Name != "" {
			imp.OriginalFileName = &file.Name
		}
		if err := tx.UpdateTableImport(ctx, tableID, imp); err != nil {
			return fmt.Errorf("update table: %w", err)
		}
		if err := refreshSelectedCounts(ctx, tx, tableID); err != nil {
			return err
		}
		table, err = tx.GetTable(ctx, tableID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reimport table %d: %w", tableID, err)
	}

	s.recorder.RecordsIngested(string(table.Kind), len(recs))
	logging.FromContext(ctx).Info("route table reimported",
		"table_id", tableID,
		"records", len(recs),
		"previous_records", old,
	)

	return &IngestResult{
		Table:          table,
		TableID:        tableID,
		RecordCount:    len(recs),
		OldRecordCount: &old,
		SheetNames:     wb.SheetNames(),
	}, nil
}

// refreshSelectedCounts rewrites the cached selected count of every session
// whose source is tableID. Purged records take their flags with them.
func refreshSelectedCounts(ctx context.Context, tx Store, tableID int64) error {
	sessions, err := tx.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	var count int64
	counted := false
	for _, m := range sessions {
		if m.SourceTableID != tableID {
			continue
		}
		if !counted {
			if count, err = tx.CountSelected(ctx, tableID); err != nil {
				return fmt.Errorf("count selected: %w", err)
			}
			counted = true
		}
		if m.SelectedCount == int(count) {
			continue
		}
		if err := tx.UpdateSessionSelectedCount(ctx, m.ID, int(count)); err != nil {
			return fmt.Errorf("update session %d: %w", m.ID, err)
		}
	}
	return nil
}

// buildRecords converts sheet rows to records. Row indexes follow the
// spreadsheet convention: the header is row 1, so the first data row is 2.
func buildRecords(sheet *workbook.Sheet) ([]*models.RouteRecord, error) {
	recs := make([]*models.RouteRecord, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", i+2, err)
		}
		rawStr := string(raw)
		recs = append(recs, &models.RouteRecord{
			RouteFields: FieldsFromRow(row),
			RowIndex:    i + 2,
			RawData:     &rawStr,
		})
	}
	return recs, nil
}
