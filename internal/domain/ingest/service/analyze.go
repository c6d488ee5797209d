package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/sniffer"
)

const analyzeSampleRows = 5

// Analysis previews how a file would be ingested.
type Analysis struct {
	Format       parser.Format               `json:"format"`
	Headers      []string                    `json:"headers"`
	Delimiter    string                      `json:"delimiter,omitempty"`
	Fingerprint  string                      `json:"fingerprint,omitempty"`
	RowCount     int                         `json:"rowCount"`
	SampleRows   []*parser.Row               `json:"sampleRows"`
	Columns      map[string]normalizer.Match `json:"columns"`
	KnownColumns []string                    `json:"knownColumns,omitempty"`
}

// Analyze parses file without storing anything and reports the detected
// layout and the column each canonical field would be read from.
func (s *Service) Analyze(ctx context.Context, file *File) (*Analysis, error) {
	_, span := s.tracer.Start(ctx, "IngestService.Analyze")
	defer span.End()

	if file == nil || file.Data == nil {
		return nil, invalid("file", "no file provided")
	}
	if file.size() > s.cfg.MaxFileSize {
		return nil, invalid("file", "file size exceeds %dMB limit", s.cfg.MaxFileSize/1024/1024)
	}
	if err := s.checkMimeType(file.MimeType); err != nil {
		return nil, err
	}

	format := parser.DetectFormat(file.MimeType, file.Name)
	rows, err := parser.Parse(file.Data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	a := &Analysis{
		Format:     format,
		RowCount:   len(rows),
		SampleRows: rows[:min(len(rows), analyzeSampleRows)],
	}

	switch format {
	case parser.FormatCSV:
		cfg, err := sniffer.DetectConfig(file.Data)
		switch {
		case errors.Is(err, sniffer.ErrEmptyFile), errors.Is(err, sniffer.ErrNoHeadersFound):
		case err != nil:
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		default:
			a.Headers = cfg.Headers
			a.Delimiter = string(cfg.Delimiter)
			a.Fingerprint = cfg.Fingerprint
			a.KnownColumns = cfg.KnownColumns
		}
	case parser.FormatJSON:
		a.Headers = jsonKeys(file.Data)
		if len(a.Headers) > 0 {
			a.Fingerprint = sniffer.Fingerprint(a.Headers)
		}
	}

	a.Columns = s.normalizer.Preview(a.Headers)
	return a, nil
}

// headerFingerprint identifies the column layout of a file: the CSV header
// row, or the keys of the first JSON object. Nil when there is none.
func headerFingerprint(data []byte, format parser.Format) *string {
	var headers []string
	switch format {
	case parser.FormatJSON:
		headers = jsonKeys(data)
	default:
		cfg, err := sniffer.DetectConfig(data)
		if err != nil {
			return nil
		}
		headers = cfg.Headers
	}
	if len(headers) == 0 {
		return nil
	}
	fp := sniffer.Fingerprint(headers)
	return &fp
}

// jsonKeys returns the keys of the top-level object, or of the first element
// when the document is an array.
func jsonKeys(data []byte) []string {
	if !gjson.ValidBytes(data) {
		return nil
	}
	doc := gjson.ParseBytes(data)
	if doc.IsArray() {
		doc = doc.Get("0")
	}
	if !doc.IsObject() {
		return nil
	}

	var keys []string
	doc.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}
