package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/go-chi/chi/v5"
)

// maxJSONBody bounds request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

// multipartOverhead is allowed on top of the file size for form fields and
// part headers.
const multipartOverhead = 1 << 20

// allowedExtensions are the upload file types accepted at the door. Content
// is still sniffed by the workbook reader.
var allowedExtensions = map[string]bool{".xlsx": true, ".xls": true, ".csv": true}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam treats "true" and "1" as true, anything else as false.
func parseBoolParam(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "true", "1":
		return true
	}
	return false
}

// parseIDParam reads a positive int64 path parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", core.ErrValidation, name, raw)
	}
	return id, nil
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", core.ErrValidation, err)
	}
	return nil
}

// readUpload extracts the "file" part of a multipart request, enforcing the
// configured size limit and accepted extensions.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (core.FileInfo, []byte, error) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.FileInfo{}, nil, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, maxSize)
		}
		return core.FileInfo{}, nil, fmt.Errorf("%w: invalid multipart form: %v", core.ErrValidation, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.FileInfo{}, nil, errNoFile
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		return core.FileInfo{}, nil, fmt.Errorf("%w: unsupported file type %q, use .xlsx, .xls or .csv", core.ErrValidation, ext)
	}
	if header.Size > maxSize {
		return core.FileInfo{}, nil, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, maxSize)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return core.FileInfo{}, nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return core.FileInfo{}, nil, errEmptyFile
	}

	return core.FileInfo{Name: header.Filename, Size: int64(len(data))}, data, nil
}
