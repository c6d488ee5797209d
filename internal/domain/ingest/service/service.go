// Package service runs the ingestion pipeline: gate checks, blob storage,
// parsing, normalization, record persistence, metric aggregation and the
// final upload transition.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/internal/domain/metrics"
	"github.com/FACorreiaa/wellspend/internal/domain/search"
	"github.com/FACorreiaa/wellspend/pkg/storage"
	"github.com/FACorreiaa/wellspend/pkg/telemetry"
)

// File is an uploaded file as received by the transport.
type File struct {
	Name string
	// MimeType is the type the gate checks and the parser dispatches on.
	MimeType string
	// DeclaredType is the type the client sent, recorded on the upload. When
	// empty, MimeType is recorded.
	DeclaredType string
	Data         []byte
	// Size is the size reported by the transport; len(Data) when zero.
	Size int64
}

func (f *File) declaredType() string {
	if f.DeclaredType != "" {
		return f.DeclaredType
	}
	return f.MimeType
}

func (f *File) size() int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Data))
}

// UploadRequest is one POST /upload submission.
type UploadRequest struct {
	File       *File
	Category   string
	DataSource string
	UserID     uuid.UUID
}

// UploadResult describes an accepted upload. A non-nil Err means the file was
// stored but processing failed and the upload is now failed.
type UploadResult struct {
	UploadID         uuid.UUID
	RecordsProcessed int
	Err              error
	Aggregation      metrics.Result
}

// Partial reports whether the upload was stored but not processed.
func (r *UploadResult) Partial() bool {
	return r.Err != nil
}

// Config bounds what the gate accepts.
type Config struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// Service orchestrates uploads end to end.
type Service struct {
	store      repository.UploadRepository
	blobs      storage.Storage
	normalizer *normalizer.Normalizer
	aggregator *metrics.Aggregator
	index      *search.Index      // Optional: nil disables record search
	metrics    *telemetry.Metrics // Optional
	tracer     trace.Tracer
	validator  *validator.Validate
	names      *filenameClock
	cfg        Config
	logger     *slog.Logger
}

// NewService creates the ingestion service.
func NewService(
	store repository.UploadRepository,
	blobs storage.Storage,
	norm *normalizer.Normalizer,
	aggregator *metrics.Aggregator,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		blobs:      blobs,
		normalizer: norm,
		aggregator: aggregator,
		tracer:     telemetry.Tracer(),
		validator:  newValidator(),
		names:      &filenameClock{now: time.Now},
		cfg:        cfg,
		logger:     logger,
	}
}

// WithSearchIndex indexes processed records for full-text search.
func (s *Service) WithSearchIndex(index *search.Index) *Service {
	s.index = index
	return s
}

// WithMetrics reports pipeline outcomes to Prometheus.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// Upload runs the full pipeline for one file. The returned error is either a
// *ValidationError (nothing was stored) or wraps ErrInfrastructure (the gate
// could not store the file or create the upload). Once the upload row exists
// every failure is reported through UploadResult.Err instead.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "IngestService.Upload",
		trace.WithAttributes(
			attribute.String("category", req.Category),
			attribute.String("data_source", req.DataSource),
		))
	defer span.End()

	start := time.Now()

	if err := s.validate(req); err != nil {
		s.metrics.ObserveRejection()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	source, _ := repository.ParseDataSource(req.DataSource)

	upload, err := s.accept(ctx, req, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gate failed")
		return nil, err
	}

	logger := s.logger.With(
		slog.String("uploadID", upload.ID.String()),
		slog.String("category", upload.Category),
	)
	span.SetAttributes(attribute.String("upload_id", upload.ID.String()))

	records, err := s.process(ctx, upload, req.File)
	if err != nil {
		// The request may be gone; the failure must still be recorded.
		failCtx := context.WithoutCancel(ctx)
		if failErr := s.store.FailUpload(failCtx, upload.ID, err.Error()); failErr != nil {
			logger.Error("failed to record processing failure", slog.Any("error", failErr))
		}
		logger.Warn("upload processing failed", slog.Any("error", err))
		s.metrics.ObserveUpload(telemetry.OutcomeFailed, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		return &UploadResult{UploadID: upload.ID, Err: err}, nil
	}

	// Records are committed; the metric must follow even if the client left.
	agg := s.aggregator.Aggregate(context.WithoutCancel(ctx), metrics.Input{
		UploadID: upload.ID,
		Category: upload.Category,
		Source:   upload.DataSource,
		Records:  records,
	})
	s.metrics.ObserveAggregation(agg.Outcome.String())

	if s.index != nil {
		if err := s.index.IndexRecords(upload.UploadedBy, records); err != nil {
			logger.Warn("failed to index records", slog.Any("error", err))
		}
	}

	s.metrics.ObserveUpload(telemetry.OutcomeProcessed, len(records), time.Since(start))
	logger.Info("upload processed",
		slog.Int("records", len(records)),
		slog.String("aggregation", agg.Outcome.String()),
	)

	return &UploadResult{
		UploadID:         upload.ID,
		RecordsProcessed: len(records),
		Aggregation:      agg,
	}, nil
}

// accept stores the raw bytes and creates the upload row.
func (s *Service) accept(ctx context.Context, req *UploadRequest, source repository.DataSource) (*repository.Upload, error) {
	name := s.names.storageName(req.File.Name)

	info, err := s.blobs.Write(ctx, name, req.File.MimeType, req.File.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store file: %w", ErrInfrastructure, err)
	}

	upload := &repository.Upload{
		FileName:          name,
		OriginalName:      req.File.Name,
		FileSize:          int64(len(req.File.Data)),
		MimeType:          req.File.declaredType(),
		DataSource:        source,
		Category:          strings.TrimSpace(req.Category),
		UploadedBy:        req.UserID,
		StoragePath:       info.Path,
		HeaderFingerprint: headerFingerprint(req.File.Data, parser.DetectFormat(req.File.MimeType, req.File.Name)),
	}
	if err := s.store.CreateUpload(ctx, upload); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), name); delErr != nil {
			s.logger.Error("failed to remove orphaned file", slog.String("file", name), slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("%w: failed to create upload: %w", ErrInfrastructure, err)
	}
	return upload, nil
}

// process takes a created upload to processed and returns its records.
func (s *Service) process(ctx context.Context, upload *repository.Upload, file *File) ([]repository.DataRecord, error) {
	if err := s.store.MarkProcessing(ctx, upload.ID); err != nil {
		return nil, fmt.Errorf("%w: failed to start processing: %w", ErrPersistence, err)
	}

	_, parseSpan := s.tracer.Start(ctx, "IngestService.Parse")
	rows, err := parser.Parse(file.Data, parser.DetectFormat(file.MimeType, file.Name))
	parseSpan.SetAttributes(attribute.Int("rows", len(rows)))
	parseSpan.End()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	records, err := s.buildRecords(upload, rows)
	if err != nil {
		return nil, err
	}

	persistCtx, persistSpan := s.tracer.Start(ctx, "IngestService.Persist",
		trace.WithAttributes(attribute.Int("records", len(records))))
	err = s.store.CompleteUpload(persistCtx, upload.ID, records)
	persistSpan.End()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to save records: %w", ErrPersistence, err)
	}
	return records, nil
}

func (s *Service) buildRecords(upload *repository.Upload, rows []*parser.Row) ([]repository.DataRecord, error) {
	records := make([]repository.DataRecord, len(rows))
	for i, row := range rows {
		res := s.normalizer.Normalize(row, upload.Category)

		raw, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode row %d: %w", ErrParse, i, err)
		}
		processed, err := json.Marshal(res.Normalized)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode normalized row %d: %w", ErrParse, i, err)
		}

		records[i] = repository.DataRecord{
			ID:            uuid.New(),
			UploadID:      upload.ID,
			RecordIndex:   i,
			RawData:       raw,
			ProcessedData: processed,
			Amount:        res.Amount,
			Date:          res.Date,
			Category:      upload.Category,
			Description:   res.Description,
			Tags:          res.Tags,
		}
	}
	return records, nil
}

// GetUpload returns an upload owned by userID.
func (s *Service) GetUpload(ctx context.Context, userID, uploadID uuid.UUID) (*repository.Upload, error) {
	upload, err := s.store.GetUpload(ctx, uploadID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

// ListUploads returns the uploads of userID, newest first.
func (s *Service) ListUploads(ctx context.Context, userID uuid.UUID) ([]*repository.Upload, error) {
	uploads, err := s.store.ListUploads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return uploads, nil
}

// ListRecords pages through the records of an upload owned by userID.
func (s *Service) ListRecords(ctx context.Context, userID, uploadID uuid.UUID, limit, offset int) ([]*repository.DataRecord, error) {
	if _, err := s.GetUpload(ctx, userID, uploadID); err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, uploadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// SearchRecords finds records of userID by description or tag.
func (s *Service) SearchRecords(ctx context.Context, userID uuid.UUID, query string, limit int) ([]search.Hit, error) {
	if s.index == nil {
		return nil, ErrSearchDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, invalid("q", "search query is required")
	}
	hits, err := s.index.Search(userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	return hits, nil
}
