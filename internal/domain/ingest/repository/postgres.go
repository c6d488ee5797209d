package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of *pgxpool.Pool used by PostgresRepository.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Store on top of pgx.
type PostgresRepository struct {
	pool DBTX
	psql sq.StatementBuilderType
}

// NewPostgresRepository creates a PostgreSQL-backed store.
func NewPostgresRepository(pool DBTX) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const uploadColumns = `id, file_name, original_name, file_size, mime_type, data_source, category,
		uploaded_by, status::text, is_processed, processed_at, error_log, storage_path,
		header_fingerprint, record_count, created_at, updated_at`

func scanUpload(row pgx.Row) (*Upload, error) {
	var u Upload
	err := row.Scan(
		&u.ID, &u.FileName, &u.OriginalName, &u.FileSize, &u.MimeType, &u.DataSource, &u.Category,
		&u.UploadedBy, &u.Status, &u.IsProcessed, &u.ProcessedAt, &u.ErrorLog, &u.StoragePath,
		&u.HeaderFingerprint, &u.RecordCount, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUpload inserts a new upload in status created.
func (r *PostgresRepository) CreateUpload(ctx context.Context, u *Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	query := `
		INSERT INTO uploads (
			id, file_name, original_name, file_size, mime_type, data_source,
			category, uploaded_by, status, storage_path, header_fingerprint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'created', $9, $10)
		RETURNING status::text, is_processed, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		u.ID, u.FileName, u.OriginalName, u.FileSize, u.MimeType, string(u.DataSource),
		u.Category, u.UploadedBy, u.StoragePath, u.HeaderFingerprint,
	).Scan(&u.Status, &u.IsProcessed, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	return nil
}

// MarkProcessing moves an upload from created to processing.
func (r *PostgresRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE uploads SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'created'
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark upload processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// CompleteUpload bulk-inserts the records of an upload and marks it processed
// in a single transaction.
func (r *PostgresRepository) CompleteUpload(ctx context.Context, id uuid.UUID, records []DataRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(records); start += recordBatchSize {
		end := min(start+recordBatchSize, len(records))
		if err := r.insertRecords(ctx, tx, id, records[start:end]); err != nil {
			return err
		}
	}

	query := `
		UPDATE uploads
		SET status = 'processed', is_processed = TRUE, processed_at = NOW(),
			record_count = $2, error_log = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := tx.Exec(ctx, query, id, len(records))
	if err != nil {
		return fmt.Errorf("failed to mark upload processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrInvalidTransition)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) insertRecords(ctx context.Context, tx pgx.Tx, uploadID uuid.UUID, records []DataRecord) error {
	builder := r.psql.
		Insert("data_records").
		Columns(
			"id", "upload_id", "record_index", "raw_data", "processed_data",
			"amount", "date", "category", "description", "tags",
		)

	for i := range records {
		rec := &records[i]
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.UploadID = uploadID
		tags := rec.Tags
		if tags == nil {
			tags = []string{}
		}
		builder = builder.Values(
			rec.ID, uploadID, rec.RecordIndex,
			emptyJSON(rec.RawData), emptyJSON(rec.ProcessedData),
			decimalArg(rec.Amount), rec.Date.Ptr(), rec.Category, rec.Description.Ptr(), tags,
		)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build record insert: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert data records: %w", err)
	}
	return nil
}

// FailUpload marks an upload failed with reason. Uploads that already
// finished are left untouched.
func (r *PostgresRepository) FailUpload(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE uploads
		SET status = 'failed', is_processed = FALSE, error_log = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('created', 'processing')
	`

	tag, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// GetUpload returns an upload owned by owner.
func (r *PostgresRepository) GetUpload(ctx context.Context, id, owner uuid.UUID) (*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1 AND uploaded_by = $2`

	u, err := scanUpload(r.pool.QueryRow(ctx, query, id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return u, nil
}

// ListUploads returns the uploads of owner, newest first.
func (r *PostgresRepository) ListUploads(ctx context.Context, owner uuid.UUID) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE uploaded_by = $1 ORDER BY created_at DESC, id`

	uploads, err := r.queryUploads(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return uploads, nil
}

// ListProcessedUploads returns every processed upload, oldest first.
func (r *PostgresRepository) ListProcessedUploads(ctx context.Context) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE status = 'processed' ORDER BY created_at, id`

	uploads, err := r.queryUploads(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed uploads: %w", err)
	}
	return uploads, nil
}

func (r *PostgresRepository) queryUploads(ctx context.Context, query string, args ...any) ([]*Upload, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate uploads: %w", err)
	}
	return uploads, nil
}

// ListRecords returns the records of an upload in record index order.
func (r *PostgresRepository) ListRecords(ctx context.Context, uploadID uuid.UUID, limit, offset int) ([]*DataRecord, error) {
	builder := r.psql.
		Select(
			"id", "upload_id", "record_index", "raw_data", "processed_data",
			"amount::text", "date", "category", "description", "tags", "created_at",
		).
		From("data_records").
		Where(sq.Eq{"upload_id": uploadID}).
		OrderBy("record_index")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build record query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*DataRecord
	for rows.Next() {
		var (
			rec         DataRecord
			raw, proc   []byte
			amount      *string
			date        *time.Time
			description *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.UploadID, &rec.RecordIndex, &raw, &proc,
			&amount, &date, &rec.Category, &description, &rec.Tags, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.RawData = json.RawMessage(raw)
		rec.ProcessedData = json.RawMessage(proc)
		rec.Date = null.TimeFromPtr(date)
		rec.Description = null.StringFromPtr(description)
		if rec.Amount, err = parseNullDecimal(amount); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// FailStaleUploads fails uploads left in created or processing since before
// cutoff.
func (r *PostgresRepository) FailStaleUploads(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `
		UPDATE uploads
		SET status = 'failed', error_log = $2, updated_at = NOW()
		WHERE status IN ('created', 'processing') AND updated_at < $1
	`

	tag, err := r.pool.Exec(ctx, query, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale uploads: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertMetric inserts a metric or replaces the value of the existing metric
// with the same (name, type, period, category). Concurrent writers race and
// the last one wins.
func (r *PostgresRepository) UpsertMetric(ctx context.Context, m *Metric) (*Metric, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metric metadata: %w", err)
	}

	query := `
		INSERT INTO metrics (id, name, type, value, unit, period, category, metadata, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (name, type, period, category)
		DO UPDATE SET value = EXCLUDED.value, calculated_at = EXCLUDED.calculated_at
		RETURNING id, name, type, value::text, unit, period, category, metadata, calculated_at, created_at
	`

	out, err := scanMetric(r.pool.QueryRow(ctx, query,
		m.ID, m.Name, string(m.Type), m.Value.String(), m.Unit, m.Period, m.Category, metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert metric: %w", err)
	}
	return out, nil
}

// ListMetrics returns metrics matching filter, newest period first.
func (r *PostgresRepository) ListMetrics(ctx context.Context, filter MetricFilter) ([]*Metric, error) {
	builder := r.psql.
		Select("id", "name", "type", "value::text", "unit", "period", "category", "metadata", "calculated_at", "created_at").
		From("metrics").
		OrderBy("period DESC", "category", "name")
	if filter.Period != "" {
		builder = builder.Where(sq.Eq{"period": filter.Period})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"type": string(filter.Type)})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build metric query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}
	return metrics, nil
}

func scanMetric(row pgx.Row) (*Metric, error) {
	var (
		m        Metric
		value    string
		metadata []byte
	)
	if err := row.Scan(
		&m.ID, &m.Name, &m.Type, &value, &m.Unit, &m.Period, &m.Category,
		&metadata, &m.CalculatedAt, &m.CreatedAt,
	); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metric value %q: %w", value, err)
	}
	m.Value = d

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metric metadata: %w", err)
		}
	}
	return &m, nil
}
