package workbook

// csv.go reads delimited text exports as a single-sheet workbook.
//
// Operators often save route sheets from Chinese-locale Excel, which writes
// GB18030 (or UTF-16 with a BOM) rather than UTF-8. Input is normalized to
// UTF-8 before the CSV reader sees it:
//   - UTF-8 BOM is stripped
//   - UTF-16 LE/BE with BOM is transcoded
//   - valid UTF-8 passes through unchanged
//   - anything else is decoded as GB18030

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText converts raw text bytes to UTF-8 and reports the detected
// source encoding.
func DecodeText(data []byte) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], "utf-8-bom", nil
	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: utf-16 decode: %v", ErrInvalid, err)
		}
		return out, "utf-16", nil
	case utf8.Valid(data):
		return data, "utf-8", nil
	}

	out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: gb18030 decode: %v", ErrInvalid, err)
	}
	return out, "gb18030", nil
}

func parseCSV(data []byte) (*Workbook, error) {
	text, _, err := DecodeText(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid csv: %v", ErrInvalid, err)
	}

	return &Workbook{Sheets: []Sheet{buildSheet(DefaultSheetName, records)}}, nil
}

// sniffDelimiter picks tab for tab-separated exports, comma otherwise.
func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	if bytes.Count(line, []byte{'\t'}) > bytes.Count(line, []byte{','}) {
		return '\t'
	}
	return ','
}
