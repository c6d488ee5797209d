// Package repository provides persistence for uploads, their data records and
// the metrics derived from them.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to
	// the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an upload is not in the status a
	// lifecycle step expects.
	ErrInvalidTransition = errors.New("invalid upload status transition")
)

// UploadStatus is the lifecycle state of an upload.
type UploadStatus string

const (
	StatusCreated    UploadStatus = "created"
	StatusProcessing UploadStatus = "processing"
	StatusProcessed  UploadStatus = "processed"
	StatusFailed     UploadStatus = "failed"
)

// staleStatuses are the states an interrupted upload can be left in.
var staleStatuses = []UploadStatus{StatusCreated, StatusProcessing}

// DataSource identifies where an uploaded file came from.
type DataSource string

const (
	SourceCSVUpload   DataSource = "CSV_UPLOAD"
	SourceExcelUpload DataSource = "EXCEL_UPLOAD"
	SourceJSONUpload  DataSource = "JSON_UPLOAD"
	SourceJiraAPI     DataSource = "JIRA_API"
	SourceJiraExport  DataSource = "JIRA_EXPORT"
	SourceNotionAPI   DataSource = "NOTION_API"
	SourceAWSBilling  DataSource = "AWS_BILLING"
	SourceAWSExport   DataSource = "AWS_EXPORT"
	SourceManualEntry DataSource = "MANUAL_ENTRY"
)

var dataSources = []DataSource{
	SourceCSVUpload, SourceExcelUpload, SourceJSONUpload,
	SourceJiraAPI, SourceJiraExport, SourceNotionAPI,
	SourceAWSBilling, SourceAWSExport, SourceManualEntry,
}

// DataSources returns every accepted data source.
func DataSources() []DataSource {
	out := make([]DataSource, len(dataSources))
	copy(out, dataSources)
	return out
}

// ParseDataSource validates s against the known data sources. Matching is
// exact after trimming surrounding whitespace.
func ParseDataSource(s string) (DataSource, error) {
	s = strings.TrimSpace(s)
	for _, ds := range dataSources {
		if string(ds) == s {
			return ds, nil
		}
	}
	return "", fmt.Errorf("unknown data source %q", s)
}

// MetricType classifies a metric.
type MetricType string

const (
	MetricCost         MetricType = "COST"
	MetricProductivity MetricType = "PRODUCTIVITY"
	MetricEfficiency   MetricType = "EFFICIENCY"
	MetricUsage        MetricType = "USAGE"
)

// Upload is the durable record of one ingested file.
type Upload struct {
	ID                uuid.UUID    `json:"id"`
	FileName          string       `json:"fileName"`
	OriginalName      string       `json:"originalName"`
	FileSize          int64        `json:"fileSize"`
	MimeType          string       `json:"mimeType"`
	DataSource        DataSource   `json:"dataSource"`
	Category          string       `json:"category"`
	UploadedBy        uuid.UUID    `json:"uploadedBy"`
	Status            UploadStatus `json:"status"`
	IsProcessed       bool         `json:"isProcessed"`
	ProcessedAt       *time.Time   `json:"processedAt,omitempty"`
	ErrorLog          *string      `json:"errorLog,omitempty"`
	StoragePath       string       `json:"storagePath"`
	HeaderFingerprint *string      `json:"headerFingerprint,omitempty"`
	RecordCount       int          `json:"recordCount"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// DataRecord is one normalized row of an upload.
type DataRecord struct {
	ID            uuid.UUID           `json:"id"`
	UploadID      uuid.UUID           `json:"uploadId"`
	RecordIndex   int                 `json:"recordIndex"`
	RawData       json.RawMessage     `json:"rawData"`
	ProcessedData json.RawMessage     `json:"processedData"`
	Amount        decimal.NullDecimal `json:"amount"`
	Date          null.Time           `json:"date"`
	Category      string              `json:"category"`
	Description   null.String         `json:"description"`
	Tags          []string            `json:"tags"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// MetricMetadata is stored alongside a metric value.
type MetricMetadata struct {
	RecordCount int        `json:"recordCount"`
	Source      DataSource `json:"source"`
	UploadID    uuid.UUID  `json:"uploadId"`
}

// Metric is a derived value keyed by (name, type, period, category).
type Metric struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Type         MetricType      `json:"type"`
	Value        decimal.Decimal `json:"value"`
	Unit         string          `json:"unit"`
	Period       string          `json:"period"`
	Category     string          `json:"category"`
	Metadata     MetricMetadata  `json:"metadata"`
	CalculatedAt time.Time       `json:"calculatedAt"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// MetricFilter narrows ListMetrics. Empty fields match everything.
type MetricFilter struct {
	Period   string
	Category string
	Type     MetricType
}

// UploadRepository persists uploads and walks them through their lifecycle:
// created -> processing -> processed | failed.
type UploadRepository interface {
	// CreateUpload inserts u with status created. A zero ID is generated.
	CreateUpload(ctx context.Context, u *Upload) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// CompleteUpload inserts all records and marks the upload processed in
	// one transaction. Either both happen or neither does.
	CompleteUpload(ctx context.Context, id uuid.UUID, records []DataRecord) error
	FailUpload(ctx context.Context, id uuid.UUID, reason string) error
	GetUpload(ctx context.Context, id, owner uuid.UUID) (*Upload, error)
	ListUploads(ctx context.Context, owner uuid.UUID) ([]*Upload, error)
	// ListProcessedUploads returns every processed upload of every owner,
	// oldest first.
	ListProcessedUploads(ctx context.Context) ([]*Upload, error)
	// ListRecords returns records ordered by record index. A limit <= 0
	// returns every record from offset on.
	ListRecords(ctx context.Context, uploadID uuid.UUID, limit, offset int) ([]*DataRecord, error)
	// FailStaleUploads moves uploads stuck in created or processing since
	// before cutoff to failed and reports how many were moved.
	FailStaleUploads(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// MetricRepository persists derived metrics.
type MetricRepository interface {
	// UpsertMetric inserts m or, when a metric with the same key exists,
	// replaces its value and calculated_at. The stored row is returned.
	UpsertMetric(ctx context.Context, m *Metric) (*Metric, error)
	ListMetrics(ctx context.Context, filter MetricFilter) ([]*Metric, error)
}

// Store is the full persistence surface of the ingestion pipeline.
type Store interface {
	UploadRepository
	MetricRepository
}

// recordBatchSize bounds the number of rows per multi-row INSERT so that
// statements stay under the Postgres bind parameter limit.
const recordBatchSize = 1000

func decimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse decimal %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func emptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
