package workbook

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the sheet layout captured at import time and stored with the
// table. The primary sheet's rows are not kept here: they live on the
// records themselves. Every sheet's header order is kept so an export can
// restore the original column layout even for sparse rows.
type Snapshot struct {
	SheetNames []string            `json:"sheetNames"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Sheets     map[string][]Row    `json:"sheets"`
}

// NewSnapshot captures the layout of wb.
func NewSnapshot(wb *Workbook) *Snapshot {
	s := &Snapshot{
		SheetNames: wb.SheetNames(),
		Headers:    make(map[string][]string, len(wb.Sheets)),
		Sheets:     make(map[string][]Row, len(wb.Sheets)),
	}
	for i, sheet := range wb.Sheets {
		s.Headers[sheet.Name] = sheet.Headers
		if i == 0 {
			continue
		}
		rows := sheet.Rows
		if rows == nil {
			rows = []Row{}
		}
		s.Sheets[sheet.Name] = rows
	}
	return s
}

// Encode serializes the snapshot for storage.
func (s *Snapshot) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode sheet snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeSnapshot parses a stored snapshot.
func DecodeSnapshot(raw string) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode sheet snapshot: %w", err)
	}
	if len(s.SheetNames) == 0 {
		return nil, fmt.Errorf("decode sheet snapshot: no sheet names")
	}
	return &s, nil
}
