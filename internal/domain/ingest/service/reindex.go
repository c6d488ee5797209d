package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
)

// RebuildSearchIndex indexes the records of every processed upload in the
// store and returns how many records were indexed. Record IDs are stable, so
// documents already in the index are replaced rather than duplicated.
func (s *Service) RebuildSearchIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, ErrSearchDisabled
	}

	ctx, span := s.tracer.Start(ctx, "IngestService.RebuildSearchIndex")
	defer span.End()

	uploads, err := s.store.ListProcessedUploads(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processed uploads: %w", err)
	}

	indexed := 0
	for _, u := range uploads {
		records, err := s.store.ListRecords(ctx, u.ID, 0, 0)
		if err != nil {
			return indexed, fmt.Errorf("failed to list records of upload %s: %w", u.ID, err)
		}
		if len(records) == 0 {
			continue
		}

		batch := make([]repository.DataRecord, len(records))
		for i, rec := range records {
			batch[i] = *rec
		}
		if err := s.index.IndexRecords(u.UploadedBy, batch); err != nil {
			return indexed, fmt.Errorf("failed to index upload %s: %w", u.ID, err)
		}
		indexed += len(batch)
	}

	docs, err := s.index.DocumentCount()
	if err != nil {
		s.logger.Warn("failed to count indexed documents", slog.Any("error", err))
	}
	s.logger.Info("search index rebuilt",
		slog.Int("uploads", len(uploads)),
		slog.Int("records", indexed),
		slog.Uint64("documents", docs),
	)
	return indexed, nil
}
