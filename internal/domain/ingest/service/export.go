package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
)

// ExportFormat selects the encoding of a records export.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

const exportSheet = "Records"

// Export is an encoded records file ready to be served.
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

type exportRow struct {
	RecordIndex int    `csv:"record_index"`
	Date        string `csv:"date"`
	Amount      string `csv:"amount"`
	Category    string `csv:"category"`
	Description string `csv:"description"`
	Tags        string `csv:"tags"`
}

func toExportRow(rec *repository.DataRecord) exportRow {
	row := exportRow{
		RecordIndex: rec.RecordIndex,
		Category:    rec.Category,
		Description: rec.Description.String,
		Tags:        strings.Join(rec.Tags, ";"),
	}
	if rec.Date.Valid {
		row.Date = rec.Date.Time.UTC().Format(time.RFC3339)
	}
	if rec.Amount.Valid {
		row.Amount = rec.Amount.Decimal.String()
	}
	return row
}

// ExportRecords encodes every normalized record of an upload owned by userID.
func (s *Service) ExportRecords(ctx context.Context, userID, uploadID uuid.UUID, format ExportFormat) (*Export, error) {
	upload, err := s.GetUpload(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListRecords(ctx, uploadID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	rows := make([]exportRow, len(records))
	for i, rec := range records {
		rows[i] = toExportRow(rec)
	}

	base := strings.TrimSuffix(upload.FileName, filepath.Ext(upload.FileName))
	switch format {
	case ExportCSV, "":
		data, err := gocsv.MarshalBytes(&rows)
		if err != nil {
			return nil, fmt.Errorf("failed to encode csv: %w", err)
		}
		return &Export{FileName: base + "-records.csv", ContentType: "text/csv", Data: data}, nil
	case ExportXLSX:
		data, err := encodeXLSX(rows, records)
		if err != nil {
			return nil, err
		}
		return &Export{
			FileName:    base + "-records.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	default:
		return nil, invalid("format", "unsupported export format %q", format)
	}
}

func encodeXLSX(rows []exportRow, records []*repository.DataRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []any{"record_index", "date", "amount", "category", "description", "tags"}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range rows {
		var amount any
		if records[i].Amount.Valid {
			amount = records[i].Amount.Decimal.InexactFloat64()
		}
		values := []any{row.RecordIndex, row.Date, amount, row.Category, row.Description, row.Tags}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
