package web

import (
	"net/http"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/models"
)

// handleListTables returns every live table with its record count.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListTables(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tables, "")
}

// handleUploadTable creates a table from a multipart upload with fields
// file, name, type and description.
func (s *Server) handleUploadTable(w http.ResponseWriter, r *http.Request) {
	info, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	meta := core.TableMeta{
		Name:        r.FormValue("name"),
		Kind:        models.TableKind(r.FormValue("type")),
		Description: r.FormValue("description"),
	}
	result, err := s.service.IngestFile(r.Context(), meta, info, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result, "upload succeeded")
}

// handleReimportTable replaces a table's records from a new file.
func (s *Server) handleReimportTable(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	info, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.ReimportFile(r.Context(), id, info, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, "reimport succeeded")
}

// handleTableDetail returns a table with one page of its records.
func (s *Server) handleTableDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	detail, err := s.service.GetTableDetail(r.Context(), id,
		r.URL.Query().Get("search"),
		parseIntParam(r, "page", 1),
		parseIntParam(r, "pageSize", core.DefaultPageSize),
	)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail, "")
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.service.DeleteTable(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nil, "table deleted")
}
