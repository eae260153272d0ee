package web

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/logging"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in core.SessionInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		respondError(w, r, err)
		return
	}

	session, err := s.service.CreateSession(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, session, "session created")
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessions, "")
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.service.DeleteSession(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nil, "session deleted")
}

// handleComparison serves one page of the source-versus-target comparison.
//
// Query parameters: page, pageSize, search, onlySelected, onlyEligible,
// moduleName, moduleEmpty, advancedFilter (JSON).
func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	cq := core.ComparisonQuery{
		Search: q.Get("search"),
		Module: core.ModuleFilter{
			Name:  strings.TrimSpace(q.Get("moduleName")),
			Empty: parseBoolParam(r, "moduleEmpty"),
		},
		OnlySelected: parseBoolParam(r, "onlySelected"),
		OnlyEligible: parseBoolParam(r, "onlyEligible"),
		Page:         parseIntParam(r, "page", 1),
		PageSize:     parseIntParam(r, "pageSize", core.DefaultPageSize),
		Advanced:     core.DecodeAdvancedFilter(r.Context(), q.Get("advancedFilter")),
	}

	comparison, err := s.service.GetComparison(r.Context(), id, cq)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, comparison, "")
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	modules, err := s.service.ModuleOptions(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if modules == nil {
		modules = []string{}
	}
	writeJSON(w, r, http.StatusOK, modules, "")
}

type toggleSelectionRequest struct {
	RecordIDs []int64 `json:"recordIds"`
	Selected  bool    `json:"selected"`
}

type toggleSelectionResponse struct {
	SelectedCount int `json:"selectedCount"`
}

func (s *Server) handleToggleSelection(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req toggleSelectionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}

	count, err := s.service.SetSelection(r.Context(), id, req.RecordIDs, req.Selected)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toggleSelectionResponse{SelectedCount: count}, "")
}

type executeRequest struct {
	OverwriteConflicts bool `json:"overwriteConflicts"`
}

// handleExecute runs the migration. The body is optional; without it
// conflicts are skipped.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req executeRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.ExecuteMigration(r.Context(), id, req.OverwriteConflicts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, "migration completed")
}

// handleExport streams a table as an xlsx attachment. Once the first byte
// is written a failure can only be logged.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "tableId")
	if err != nil {
		respondError(w, r, err)
		return
	}

	started := false
	err = s.service.Export(r.Context(), id, func(fileName string, body io.Reader) error {
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", contentDisposition(fileName))
		w.WriteHeader(http.StatusOK)
		started = true
		_, err := io.Copy(w, body)
		return err
	})
	if err == nil {
		return
	}
	if started {
		logging.FromContext(r.Context()).Error("export stream failed", "table_id", id, "error", err)
		return
	}
	respondError(w, r, err)
}

// contentDisposition builds an attachment header; non-ASCII names are
// emitted as RFC 2231 filename* parameters.
func contentDisposition(fileName string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName}); v != "" {
		return v
	}
	return `attachment; filename="export.xlsx"`
}
