package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/models"
)

// MigrationResult reports what an execution did.
type MigrationResult struct {
	MigratedCount int `json:"migratedCount"`
	SkippedCount  int `json:"skippedCount"`
	TotalSelected int `json:"totalSelected"`
}

// ExecuteMigration copies the session's selected source records into its
// target table.
//
// A copy collides with an existing target record that has the same route
// identifier, compared exactly. A record with no identifier collides with
// any target record that also has none.
// Colliding records are updated in place when overwrite is set and skipped
// otherwise; everything else is inserted. Each lookup and its write share a
// transaction. Afterwards the target's total row count is recomputed and the
// session is marked completed.
//
// At most one execution per session runs at a time; a concurrent call gets
// ErrExecutionInProgress.
func (s *Service) ExecuteMigration(ctx context.Context, sessionID int64, overwrite bool) (*MigrationResult, error) {
	if !s.beginExecution(sessionID) {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrExecutionInProgress)
	}
	defer s.endExecution(sessionID)

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	selected, _, err := s.store.QueryRecords(ctx, RecordQuery{
		TableID:      session.SourceTableID,
		OnlySelected: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load selected records: %w", err)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrEmptySelection)
	}

	log := logging.WithFields(ctx, "session_id", sessionID, "target_table_id", session.TargetTableID)
	result := &MigrationResult{TotalSelected: len(selected)}

	for i := range selected {
		src := &selected[i]
		var migrated bool
		err := s.store.WithTx(ctx, func(tx Store) error {
			existing, err := tx.FindTargetMatch(ctx, session.TargetTableID, src)
			if err != nil {
				return fmt.Errorf("find match: %w", err)
			}
			rec := migratedCopy(src, session.TargetTableID)
			switch {
			case existing == nil:
				migrated = true
				return tx.InsertRecord(ctx, rec)
			case overwrite:
				migrated = true
				return tx.UpdateRecordFields(ctx, existing.ID, rec)
			default:
				migrated = false
				return nil
			}
		})
		if err != nil {
			return nil, fmt.Errorf("migrate source record %d: %w", src.ID, err)
		}
		if migrated {
			result.MigratedCount++
		} else {
			result.SkippedCount++
		}
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		n, err := tx.CountRecords(ctx, session.TargetTableID)
		if err != nil {
			return err
		}
		if err := tx.SetTableTotalRows(ctx, session.TargetTableID, int(n)); err != nil {
			return err
		}
		return tx.UpdateSessionStatus(ctx, sessionID, models.SessionCompleted)
	})
	if err != nil {
		return nil, fmt.Errorf("finalize session %d: %w", sessionID, err)
	}

	s.recorder.MigrationFinished(result.MigratedCount, result.SkippedCount)
	log.Info("migration executed",
		"migrated", result.MigratedCount,
		"skipped", result.SkippedCount,
		"selected", result.TotalSelected,
		"overwrite", overwrite,
	)
	return result, nil
}

// migratedCopy derives the target-side record for src. The raw snapshot is
// carried over so exports of the target keep the source's original row.
func migratedCopy(src *models.RouteRecord, targetTableID int64) *models.RouteRecord {
	sourceID := src.ID
	return &models.RouteRecord{
		TableID:        targetTableID,
		RouteFields:    src.RouteFields,
		RowIndex:       src.RowIndex,
		SourceRecordID: &sourceID,
		RawData:        src.RawData,
	}
}

func (s *Service) beginExecution(sessionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[sessionID]; busy {
		return false
	}
	s.running[sessionID] = struct{}{}
	return true
}

func (s *Service) endExecution(sessionID int64) {
	s.mu.Lock()
	delete(s.running, sessionID)
	s.mu.Unlock()
}
