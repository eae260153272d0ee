package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/routemigrate/internal/models"
)

// ComparisonQuery filters and pages the source side of a comparison.
type ComparisonQuery struct {
	Search       string
	Module       ModuleFilter
	OnlySelected bool
	// OnlyEligible drops records the active strategy reports as already
	// present in the target.
	OnlyEligible bool
	Page         int
	PageSize     int
	Advanced     *AdvancedFilter
}

// ComparedRecord is a source record annotated against the target table.
type ComparedRecord struct {
	models.RouteRecord
	ExistsInTarget bool          `json:"existsInTarget"`
	CanUpdate      bool          `json:"canUpdate"`
	ConflictInfo   *ConflictInfo `json:"conflictInfo"`
}

// Comparison is one page of a source-versus-target comparison.
type Comparison struct {
	Session       *models.MigrationSession `json:"session"`
	SourceRecords []ComparedRecord         `json:"sourceRecords"`
	Pagination    Pagination               `json:"pagination"`
	Strategy      string                   `json:"strategy"`
}

// GetComparison annotates a page of the session's source records with their
// existence in the target table.
//
// Without OnlyEligible the store pages the filtered records and only that
// page is annotated. With OnlyEligible every filtered record is annotated,
// present ones are dropped, and the remainder is paged in memory so totals
// reflect eligible records only.
func (s *Service) GetComparison(ctx context.Context, sessionID int64, q ComparisonQuery) (*Comparison, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	strategy, err := s.newStrategy(ctx, s.store, session.TargetTableID, q.Advanced)
	if err != nil {
		return nil, fmt.Errorf("index target table %d: %w", session.TargetTableID, err)
	}

	page, pageSize := normalizePage(q.Page, q.PageSize)
	rq := RecordQuery{
		TableID:      session.SourceTableID,
		Search:       q.Search,
		Module:       q.Module,
		OnlySelected: q.OnlySelected,
	}

	var out []ComparedRecord
	var total int64

	if q.OnlyEligible {
		all, _, err := s.store.QueryRecords(ctx, rq)
		if err != nil {
			return nil, fmt.Errorf("query source records: %w", err)
		}
		eligible := make([]ComparedRecord, 0, len(all))
		for i := range all {
			c := annotate(strategy, &all[i])
			if !c.ExistsInTarget {
				eligible = append(eligible, c)
			}
		}
		total = int64(len(eligible))
		out = pageSlice(eligible, page, pageSize)
	} else {
		rq.Limit = pageSize
		rq.Offset = (page - 1) * pageSize
		recs, n, err := s.store.QueryRecords(ctx, rq)
		if err != nil {
			return nil, fmt.Errorf("query source records: %w", err)
		}
		total = n
		out = make([]ComparedRecord, len(recs))
		for i := range recs {
			out[i] = annotate(strategy, &recs[i])
		}
	}

	s.recorder.ComparisonServed(strategy.Name())

	return &Comparison{
		Session:       session,
		SourceRecords: out,
		Pagination:    newPagination(total, page, pageSize),
		Strategy:      strategy.Name(),
	}, nil
}

func annotate(strategy MatchStrategy, rec *models.RouteRecord) ComparedRecord {
	a := strategy.Annotate(rec)
	return ComparedRecord{
		RouteRecord:    *rec,
		ExistsInTarget: a.ExistsInTarget,
		CanUpdate:      a.CanUpdate,
		ConflictInfo:   a.Conflict,
	}
}

// pageSlice returns the requested 1-based page of items; a page past the
// end is empty.
func pageSlice[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
