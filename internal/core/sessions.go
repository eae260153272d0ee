package core

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/models"
)

// maxSessionNameLen matches the name column width of migration_sessions.
const maxSessionNameLen = 100

// SessionInput is the caller-provided part of a new session.
type SessionInput struct {
	Name          string `json:"name"`
	SourceTableID int64  `json:"sourceTableId"`
	TargetTableID int64  `json:"targetTableId"`
	Description   string `json:"description"`
}

func (in SessionInput) validate() error {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return validationError("session name is required")
	case utf8.RuneCountInString(name) > maxSessionNameLen:
		return validationError("session name exceeds %d characters", maxSessionNameLen)
	case in.SourceTableID <= 0:
		return validationError("sourceTableId is required")
	case in.TargetTableID <= 0:
		return validationError("targetTableId is required")
	case in.SourceTableID == in.TargetTableID:
		return validationError("source and target must be different tables")
	}
	return nil
}

// CreateSession pairs two existing tables in a new draft session.
func (s *Service) CreateSession(ctx context.Context, in SessionInput) (*models.MigrationSession, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	source, err := s.store.GetTable(ctx, in.SourceTableID)
	if err != nil {
		return nil, fmt.Errorf("source table: %w", err)
	}
	target, err := s.store.GetTable(ctx, in.TargetTableID)
	if err != nil {
		return nil, fmt.Errorf("target table: %w", err)
	}

	session := &models.MigrationSession{
		Name:          strings.TrimSpace(in.Name),
		SourceTableID: source.ID,
		TargetTableID: target.ID,
		Status:        models.SessionDraft,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		session.Description = &d
	}

	// Selection flags can survive from an earlier session over the same
	// source table, so the cached count starts from the live value.
	selected, err := s.store.CountSelected(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("count selected: %w", err)
	}
	session.SelectedCount = int(selected)

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.SourceTable = source.Ref()
	session.TargetTable = target.Ref()

	logging.FromContext(ctx).Info("migration session created",
		"session_id", session.ID,
		"source_table_id", source.ID,
		"target_table_id", target.ID,
	)
	return session, nil
}

// ListSessions returns live sessions, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]models.MigrationSession, error) {
	return s.store.ListSessions(ctx)
}

// DeleteSession soft-deletes a session.
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	if err := s.store.SoftDeleteSession(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("migration session deleted", "session_id", id)
	return nil
}

// ModuleOptions lists the distinct non-empty module names of the session's
// source table, sorted.
func (s *Service) ModuleOptions(ctx context.Context, sessionID int64) ([]string, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.DistinctModuleNames(ctx, session.SourceTableID)
}

// SetSelection marks ids selected or unselected and returns the session's
// recomputed selected count. Ids outside the session's source table are
// ignored. Flags and count are written in one transaction.
func (s *Service) SetSelection(ctx context.Context, sessionID int64, ids []int64, selected bool) (int, error) {
	if ids == nil {
		return 0, validationError("recordIds must be an array")
	}

	var count int64
	err := s.store.WithTx(ctx, func(tx Store) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		changed, err := tx.SetSelected(ctx, session.SourceTableID, ids, selected)
		if err != nil {
			return fmt.Errorf("set selected: %w", err)
		}
		s.recorder.SelectionChanged(changed)

		if count, err = tx.CountSelected(ctx, session.SourceTableID); err != nil {
			return fmt.Errorf("count selected: %w", err)
		}
		return tx.UpdateSessionSelectedCount(ctx, sessionID, int(count))
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// loadSession fetches a session with its table refs filled in. Either
// table having been deleted is reported as not found.
func (s *Service) loadSession(ctx context.Context, id int64) (*models.MigrationSession, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	source, err := s.store.GetTable(ctx, session.SourceTableID)
	if err != nil {
		return nil, fmt.Errorf("source table: %w", err)
	}
	target, err := s.store.GetTable(ctx, session.TargetTableID)
	if err != nil {
		return nil, fmt.Errorf("target table: %w", err)
	}
	session.SourceTable = source.Ref()
	session.TargetTable = target.Ref()
	return session, nil
}
