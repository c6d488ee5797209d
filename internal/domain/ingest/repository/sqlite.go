package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sqliteBatchSize keeps multi-row inserts under SQLite's bind variable limit.
const sqliteBatchSize = 200

type uploadModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	FileName          string `gorm:"uniqueIndex;size:512"`
	OriginalName      string `gorm:"size:512"`
	FileSize          int64
	MimeType          string `gorm:"size:128"`
	DataSource        string `gorm:"size:32"`
	Category          string `gorm:"size:255"`
	UploadedBy        string `gorm:"index:idx_uploads_owner;size:36"`
	Status            string `gorm:"index;size:16"`
	IsProcessed       bool
	ProcessedAt       *time.Time
	ErrorLog          *string `gorm:"type:text"`
	StoragePath       string  `gorm:"size:1024"`
	HeaderFingerprint *string `gorm:"size:64"`
	RecordCount       int
	CreatedAt         time.Time `gorm:"index:idx_uploads_owner"`
	UpdatedAt         time.Time
}

func (uploadModel) TableName() string { return "uploads" }

type recordModel struct {
	ID            string  `gorm:"primaryKey;size:36"`
	UploadID      string  `gorm:"uniqueIndex:uniq_upload_record;size:36"`
	RecordIndex   int     `gorm:"uniqueIndex:uniq_upload_record"`
	RawData       string  `gorm:"type:text"`
	ProcessedData string  `gorm:"type:text"`
	Amount        *string `gorm:"size:64"`
	Date          *time.Time
	Category      string   `gorm:"index;size:255"`
	Description   *string  `gorm:"type:text"`
	Tags          []string `gorm:"serializer:json;type:text"`
	CreatedAt     time.Time
}

func (recordModel) TableName() string { return "data_records" }

type metricModel struct {
	ID           string         `gorm:"primaryKey;size:36"`
	Name         string         `gorm:"uniqueIndex:uniq_metric_key;size:255"`
	Type         string         `gorm:"uniqueIndex:uniq_metric_key;size:32"`
	Value        string         `gorm:"size:64"`
	Unit         string         `gorm:"size:16"`
	Period       string         `gorm:"uniqueIndex:uniq_metric_key;size:16"`
	Category     string         `gorm:"uniqueIndex:uniq_metric_key;size:255"`
	Metadata     MetricMetadata `gorm:"serializer:json;type:text"`
	CalculatedAt time.Time
	CreatedAt    time.Time
}

func (metricModel) TableName() string { return "metrics" }

// SQLiteRepository implements Store on an embedded SQLite database. It backs
// single-node deployments and the offline ingest command.
type SQLiteRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// its schema. Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&uploadModel{}, &recordModel{}, &metricModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *SQLiteRepository) CreateUpload(ctx context.Context, u *Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := r.now()
	m := uploadModel{
		ID:                u.ID.String(),
		FileName:          u.FileName,
		OriginalName:      u.OriginalName,
		FileSize:          u.FileSize,
		MimeType:          u.MimeType,
		DataSource:        string(u.DataSource),
		Category:          u.Category,
		UploadedBy:        u.UploadedBy.String(),
		Status:            string(StatusCreated),
		StoragePath:       u.StoragePath,
		HeaderFingerprint: u.HeaderFingerprint,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	u.Status = StatusCreated
	u.IsProcessed = false
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) transition(db *gorm.DB, id uuid.UUID, from []UploadStatus, updates map[string]any) error {
	updates["updated_at"] = r.now()
	res := db.Model(&uploadModel{}).
		Where("id = ? AND status IN ?", id.String(), statusStrings(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	err := r.transition(r.db.WithContext(ctx), id, []UploadStatus{StatusCreated}, map[string]any{
		"status": string(StatusProcessing),
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("failed to mark upload processing: %w", err)
	}
	return err
}

func (r *SQLiteRepository) CompleteUpload(ctx context.Context, id uuid.UUID, records []DataRecord) error {
	models := make([]recordModel, 0, len(records))
	now := r.now()
	for i := range records {
		rec := &records[i]
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.UploadID = id
		tags := rec.Tags
		if tags == nil {
			tags = []string{}
		}
		models = append(models, recordModel{
			ID:            rec.ID.String(),
			UploadID:      id.String(),
			RecordIndex:   rec.RecordIndex,
			RawData:       string(emptyJSON(rec.RawData)),
			ProcessedData: string(emptyJSON(rec.ProcessedData)),
			Amount:        decimalArg(rec.Amount),
			Date:          rec.Date.Ptr(),
			Category:      rec.Category,
			Description:   rec.Description.Ptr(),
			Tags:          tags,
			CreatedAt:     now,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(models) > 0 {
			if err := tx.CreateInBatches(&models, sqliteBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert data records: %w", err)
			}
		}
		return r.transition(tx, id, []UploadStatus{StatusProcessing}, map[string]any{
			"status":       string(StatusProcessed),
			"is_processed": true,
			"processed_at": now,
			"record_count": len(records),
			"error_log":    nil,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to complete upload: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FailUpload(ctx context.Context, id uuid.UUID, reason string) error {
	err := r.transition(r.db.WithContext(ctx), id, []UploadStatus{StatusCreated, StatusProcessing}, map[string]any{
		"status":       string(StatusFailed),
		"is_processed": false,
		"error_log":    reason,
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	return err
}

func (r *SQLiteRepository) GetUpload(ctx context.Context, id, owner uuid.UUID) (*Upload, error) {
	var m uploadModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND uploaded_by = ?", id.String(), owner.String()).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return m.toUpload()
}

func (r *SQLiteRepository) ListUploads(ctx context.Context, owner uuid.UUID) ([]*Upload, error) {
	uploads, err := findUploads(r.db.WithContext(ctx).
		Where("uploaded_by = ?", owner.String()).
		Order("created_at DESC").Order("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return uploads, nil
}

func (r *SQLiteRepository) ListProcessedUploads(ctx context.Context) ([]*Upload, error) {
	uploads, err := findUploads(r.db.WithContext(ctx).
		Where("status = ?", string(StatusProcessed)).
		Order("created_at").Order("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list processed uploads: %w", err)
	}
	return uploads, nil
}

func findUploads(q *gorm.DB) ([]*Upload, error) {
	var models []uploadModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	uploads := make([]*Upload, 0, len(models))
	for i := range models {
		u, err := models[i].toUpload()
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func (r *SQLiteRepository) ListRecords(ctx context.Context, uploadID uuid.UUID, limit, offset int) ([]*DataRecord, error) {
	q := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID.String()).
		Order("record_index")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(offset)
	}

	var models []recordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*DataRecord, 0, len(models))
	for i := range models {
		rec, err := models[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *SQLiteRepository) FailStaleUploads(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&uploadModel{}).
		Where("status IN ? AND updated_at < ?", statusStrings(staleStatuses), cutoff.UTC()).
		Updates(map[string]any{
			"status":     string(StatusFailed),
			"error_log":  reason,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail stale uploads: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *SQLiteRepository) UpsertMetric(ctx context.Context, m *Metric) (*Metric, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := r.now()
	row := metricModel{
		ID:           m.ID.String(),
		Name:         m.Name,
		Type:         string(m.Type),
		Value:        m.Value.String(),
		Unit:         m.Unit,
		Period:       m.Period,
		Category:     m.Category,
		Metadata:     m.Metadata,
		CalculatedAt: now,
		CreatedAt:    now,
	}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "type"}, {Name: "period"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "calculated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert metric: %w", err)
	}

	var stored metricModel
	err = db.Where("name = ? AND type = ? AND period = ? AND category = ?",
		m.Name, string(m.Type), m.Period, m.Category).First(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reload metric: %w", err)
	}
	return stored.toMetric()
}

func (r *SQLiteRepository) ListMetrics(ctx context.Context, filter MetricFilter) ([]*Metric, error) {
	q := r.db.WithContext(ctx).Order("period DESC").Order("category").Order("name")
	if filter.Period != "" {
		q = q.Where("period = ?", filter.Period)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}

	var models []metricModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}

	metrics := make([]*Metric, 0, len(models))
	for i := range models {
		m, err := models[i].toMetric()
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func (m *uploadModel) toUpload() (*Upload, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upload id: %w", err)
	}
	owner, err := uuid.Parse(m.UploadedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upload owner: %w", err)
	}
	return &Upload{
		ID:                id,
		FileName:          m.FileName,
		OriginalName:      m.OriginalName,
		FileSize:          m.FileSize,
		MimeType:          m.MimeType,
		DataSource:        DataSource(m.DataSource),
		Category:          m.Category,
		UploadedBy:        owner,
		Status:            UploadStatus(m.Status),
		IsProcessed:       m.IsProcessed,
		ProcessedAt:       m.ProcessedAt,
		ErrorLog:          m.ErrorLog,
		StoragePath:       m.StoragePath,
		HeaderFingerprint: m.HeaderFingerprint,
		RecordCount:       m.RecordCount,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}, nil
}

func (m *recordModel) toRecord() (*DataRecord, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record id: %w", err)
	}
	uploadID, err := uuid.Parse(m.UploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record upload id: %w", err)
	}
	amount, err := parseNullDecimal(m.Amount)
	if err != nil {
		return nil, err
	}
	return &DataRecord{
		ID:            id,
		UploadID:      uploadID,
		RecordIndex:   m.RecordIndex,
		RawData:       json.RawMessage(m.RawData),
		ProcessedData: json.RawMessage(m.ProcessedData),
		Amount:        amount,
		Date:          null.TimeFromPtr(m.Date),
		Category:      m.Category,
		Description:   null.StringFromPtr(m.Description),
		Tags:          m.Tags,
		CreatedAt:     m.CreatedAt,
	}, nil
}

func (m *metricModel) toMetric() (*Metric, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metric id: %w", err)
	}
	value, err := decimal.NewFromString(m.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metric value %q: %w", m.Value, err)
	}
	return &Metric{
		ID:           id,
		Name:         m.Name,
		Type:         MetricType(m.Type),
		Value:        value,
		Unit:         m.Unit,
		Period:       m.Period,
		Category:     m.Category,
		Metadata:     m.Metadata,
		CalculatedAt: m.CalculatedAt,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func statusStrings(statuses []UploadStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
