package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/models"
	"github.com/JonMunkholm/routemigrate/internal/workbook"
	"github.com/google/uuid"
)

// TimestampLayout is the text form of exported timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp columns are always written as text.
const (
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
	colDeletedAt = "deleted_at"
)

var timestampColumns = []string{colCreatedAt, colUpdatedAt, colDeletedAt}

// exportColumn is one column of a row synthesized from record fields.
type exportColumn struct {
	name  string
	width float64
}

// exportColumns is the column layout used when a record has no raw row.
// Widths also apply to the primary sheet of every export.
var exportColumns = []exportColumn{
	{"id", 19}, {"parent_id", 19}, {"name", 18}, {"path", 25}, {"title", 18},
	{"icon", 12}, {"not_cache", 10}, {"hide_in_menu", 12}, {"component", 20},
	{"redirect", 20}, {"order", 8}, {"src", 15}, {colCreatedAt, 18},
	{colUpdatedAt, 18}, {"key_rule", 25}, {colDeletedAt, 18}, {"is_active", 10},
	{"module_id", 19}, {"nav", 12}, {"type", 12}, {ModuleNameColumn, 15},
	{"model", 12}, {"word", 30},
}

const (
	primaryDefaultWidth = 15
	extraSheetWidth     = 20
)

var exportWidths = func() map[string]float64 {
	m := make(map[string]float64, len(exportColumns))
	for _, c := range exportColumns {
		m[c.name] = c.width
	}
	return m
}()

func exportColumnNames() []string {
	names := make([]string, len(exportColumns))
	for i, c := range exportColumns {
		names[i] = c.name
	}
	return names
}

// ExportFileName names the download for table on day now.
func ExportFileName(table *models.RouteTable, now time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", table.Name, now.Format("2006-01-02"))
}

// Export renders a table to xlsx and hands the file to send.
//
// The workbook is written to a uniquely named file under the service's
// temp dir, reopened, and passed to send as a reader. The file is removed
// when Export returns, whether rendering, send, or neither failed.
// Completed sessions targeting the table move to exported on success.
func (s *Service) Export(ctx context.Context, tableID int64, send func(fileName string, r io.Reader) error) (err error) {
	defer func() { s.recorder.ExportFinished(err) }()

	table, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	records, err := s.store.ListRecords(ctx, tableID)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	sheets := s.buildSheets(ctx, table, records)

	path := filepath.Join(s.tempDir, "route-export-"+uuid.NewString()+".xlsx")
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.FromContext(ctx).Warn("remove export temp file", "path", path, "error", rmErr)
		}
	}()

	if err := s.renderTo(ctx, path, sheets); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopen export: %w", err)
	}
	defer f.Close()

	name := ExportFileName(table, s.now().In(s.loc))
	if err := send(name, f); err != nil {
		return fmt.Errorf("send export: %w", err)
	}

	if _, err := s.store.MarkSessionsExported(ctx, tableID); err != nil {
		logging.FromContext(ctx).Warn("mark sessions exported", "table_id", tableID, "error", err)
	}
	logging.FromContext(ctx).Info("route table exported",
		"table_id", tableID,
		"file", name,
		"records", len(records),
		"sheets", len(sheets),
	)
	return nil
}

// renderTo writes sheets to a new file at path under the file limiter.
func (s *Service) renderTo(ctx context.Context, path string, sheets []workbook.OutputSheet) error {
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.limiter.Release()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := workbook.Write(f, sheets); err != nil {
		f.Close()
		return fmt.Errorf("render export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

// buildSheets lays out the export: the primary sheet holds the records,
// further sheets are restored from the import-time snapshot.
func (s *Service) buildSheets(ctx context.Context, table *models.RouteTable, records []models.RouteRecord) []workbook.OutputSheet {
	var snap *workbook.Snapshot
	if table.AllSheets != nil {
		var err error
		if snap, err = workbook.DecodeSnapshot(*table.AllSheets); err != nil {
			logging.FromContext(ctx).Warn("ignoring unreadable sheet snapshot", "table_id", table.ID, "error", err)
			snap = nil
		}
	}

	rows := make([]workbook.Row, len(records))
	synthesized := false
	for i := range records {
		row, ok := s.rawRow(ctx, &records[i])
		if !ok {
			row = s.synthesizeRow(&records[i])
			synthesized = true
		}
		rows[i] = row
	}

	primaryName := workbook.DefaultSheetName
	var preferred []string
	if snap != nil {
		primaryName = snap.SheetNames[0]
		preferred = snap.Headers[primaryName]
	}
	if synthesized {
		preferred = appendMissing(append([]string(nil), preferred...), exportColumnNames())
	}

	sheets := []workbook.OutputSheet{{
		Name:    primaryName,
		Columns: workbook.Columns(preferred, rows),
		Rows:    rows,
		Layout: workbook.Layout{
			Widths:       exportWidths,
			DefaultWidth: primaryDefaultWidth,
			TextColumns:  timestampColumns,
			FreezeHeader: true,
			AutoFilter:   true,
		},
	}}

	if snap == nil {
		return sheets
	}
	for _, name := range snap.SheetNames[1:] {
		stored := snap.Sheets[name]
		extra := make([]workbook.Row, len(stored))
		for i, r := range stored {
			extra[i] = timestampsAsText(r)
		}
		sheets = append(sheets, workbook.OutputSheet{
			Name:    name,
			Columns: workbook.Columns(snap.Headers[name], extra),
			Rows:    extra,
			Layout: workbook.Layout{
				DefaultWidth: extraSheetWidth,
				TextColumns:  timestampColumns,
				FreezeHeader: true,
				AutoFilter:   true,
			},
		})
	}
	return sheets
}

// rawRow decodes the record's raw snapshot and stamps it with the stored
// timestamps. ok is false when there is no usable snapshot.
func (s *Service) rawRow(ctx context.Context, rec *models.RouteRecord) (workbook.Row, bool) {
	if rec.RawData == nil || *rec.RawData == "" {
		return workbook.Row{}, false
	}
	var row workbook.Row
	if err := json.Unmarshal([]byte(*rec.RawData), &row); err != nil {
		logging.FromContext(ctx).Warn("unreadable raw row, exporting normalized fields",
			"record_id", rec.ID, "error", err)
		return workbook.Row{}, false
	}
	s.stampTimestamps(&row, rec)
	return row, true
}

// synthesizeRow rebuilds a spreadsheet row from the normalized fields.
func (s *Service) synthesizeRow(rec *models.RouteRecord) workbook.Row {
	var row workbook.Row
	for _, c := range exportColumns {
		switch c.name {
		case colCreatedAt, colUpdatedAt, colDeletedAt:
			row.Set(c.name, nil) // filled by stampTimestamps
		default:
			spec, _ := LookupField(c.name)
			row.Set(c.name, spec.Value(&rec.RouteFields))
		}
	}
	s.stampTimestamps(&row, rec)
	return row
}

func (s *Service) stampTimestamps(row *workbook.Row, rec *models.RouteRecord) {
	row.Set(colCreatedAt, s.formatTime(&rec.CreatedAt))
	row.Set(colUpdatedAt, s.formatTime(&rec.UpdatedAt))
	row.Set(colDeletedAt, s.formatTime(rec.DeletedAt))
}

// formatTime renders t as text, or nil for a missing time.
func (s *Service) formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.In(s.loc).Format(TimestampLayout)
}

// timestampsAsText returns a copy of r whose timestamp cells are strings.
func timestampsAsText(r workbook.Row) workbook.Row {
	out := r.Clone()
	for _, c := range timestampColumns {
		if v, ok := out.Get(c); ok && v != nil {
			out.Set(c, workbook.CellText(v))
		}
	}
	return out
}

func appendMissing(cols, more []string) []string {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	for _, c := range more {
		if !seen[c] {
			cols = append(cols, c)
		}
	}
	return cols
}
