package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/models"
)

// TableDetail is a table with one page of its records.
type TableDetail struct {
	Table      *models.RouteTable   `json:"table"`
	Records    []models.RouteRecord `json:"records"`
	Pagination Pagination           `json:"pagination"`
}

// ListTables returns live tables with their live record counts.
func (s *Service) ListTables(ctx context.Context) ([]models.TableSummary, error) {
	return s.store.ListTables(ctx)
}

// GetTableDetail returns a table and a searchable page of its records,
// ordered by row index.
func (s *Service) GetTableDetail(ctx context.Context, id int64, search string, page, pageSize int) (*TableDetail, error) {
	table, err := s.store.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}

	page, pageSize = normalizePage(page, pageSize)
	recs, total, err := s.store.QueryRecords(ctx, RecordQuery{
		TableID: id,
		Search:  search,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	return &TableDetail{
		Table:      table,
		Records:    recs,
		Pagination: newPagination(total, page, pageSize),
	}, nil
}

// DeleteTable soft-deletes a table and its records. Sessions that reference
// it stay in place and report the table as not found from then on.
func (s *Service) DeleteTable(ctx context.Context, id int64) error {
	if err := s.store.SoftDeleteTable(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("route table deleted", "table_id", id)
	return nil
}
