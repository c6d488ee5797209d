// Package parser turns uploaded CSV and JSON files into schema-less rows.
// CSV is header based; JSON accepts either an array of objects or a single
// object.
package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/sniffer"
)

// Format identifies which reader handles a file
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ScalarKey holds the value of a JSON array element that is not an object.
const ScalarKey = "value"

var (
	ErrInvalidUTF8  = errors.New("content is not valid UTF-8 text")
	ErrInvalidJSON  = errors.New("content is not valid JSON")
	ErrMalformedCSV = errors.New("content is not valid CSV")
)

var utf8BOM = []byte("\uFEFF")

// DetectFormat dispatches on the declared MIME type first and the file
// extension second. Plain text without a .json extension is read as CSV.
func DetectFormat(mimeType, fileName string) Format {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case mimeType == "application/json":
		return FormatJSON
	case mimeType == "text/csv", ext == ".csv":
		return FormatCSV
	case ext == ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Parse decodes data with the reader selected by format.
func Parse(data []byte, format Format) ([]*Row, error) {
	if format == FormatJSON {
		return ParseJSON(data)
	}
	return ParseCSV(data)
}

// ParseCSV reads header-based delimited text. The first non-blank line is the
// header; blank lines are skipped; short rows are padded with empty strings
// and surplus fields are dropped. The delimiter is detected from the header.
func ParseCSV(data []byte) ([]*Row, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	headerLine, ok := sniffer.FirstNonEmptyLine(data)
	if !ok {
		return []*Row{}, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffer.DetectDelimiter(headerLine)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var headers []string
	rows := []*Row{}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
		}
		if isBlankRecord(record) {
			continue
		}

		if headers == nil {
			headers = make([]string, len(record))
			for i, h := range record {
				headers[i] = strings.TrimSpace(h)
			}
			continue
		}

		row := NewRow(len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			value := ""
			if i < len(record) {
				value = record[i]
			}
			row.Set(h, value)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// ParseJSON reads a JSON document. A top-level value that is not an array is
// treated as a one-element array. Object elements keep their key order;
// scalar elements become a single-key row under ScalarKey and null elements
// become empty rows.
func ParseJSON(data []byte) ([]*Row, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}

	root := gjson.ParseBytes(data)
	elements := []gjson.Result{root}
	if root.IsArray() {
		elements = root.Array()
	}

	rows := make([]*Row, 0, len(elements))
	for _, el := range elements {
		rows = append(rows, rowFromJSON(el))
	}
	return rows, nil
}

func rowFromJSON(el gjson.Result) *Row {
	switch {
	case el.IsObject():
		row := NewRow(8)
		el.ForEach(func(key, value gjson.Result) bool {
			row.Set(key.String(), jsonValue(value))
			return true
		})
		return row
	case el.Type == gjson.Null:
		return NewRow(0)
	default:
		row := NewRow(1)
		row.Set(ScalarKey, jsonValue(el))
		return row
	}
}

func jsonValue(v gjson.Result) any {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return json.Number(v.Raw)
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.JSON:
		return json.RawMessage(v.Raw)
	default:
		return nil
	}
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
