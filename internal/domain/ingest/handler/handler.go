// Package handler exposes the ingestion pipeline over HTTP.
package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/service"
	"github.com/FACorreiaa/wellspend/internal/domain/metrics"
	"github.com/FACorreiaa/wellspend/pkg/interceptors"
)

const (
	// multipartOverhead is the room left for form fields and part headers on
	// top of the largest accepted file.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20

	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	defaultSearchLimit = 20
)

type uploadResponse struct {
	UploadID         uuid.UUID `json:"uploadId"`
	RecordsProcessed int       `json:"recordsProcessed"`
	Message          string    `json:"message"`
}

type partialResponse struct {
	UploadID uuid.UUID `json:"uploadId"`
	Error    string    `json:"error"`
	Message  string    `json:"message"`
}

// IngestHandler serves uploads and the read side built on them.
type IngestHandler struct {
	ingestSvc   *service.Service
	metricsSvc  *metrics.Service
	maxFileSize int64
	logger      *slog.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingestSvc *service.Service, metricsSvc *metrics.Service, maxFileSize int64, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		ingestSvc:   ingestSvc,
		metricsSvc:  metricsSvc,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Routes mounts every endpoint on r. Callers install authentication first.
func (h *IngestHandler) Routes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Post("/upload/analyze", h.Analyze)
	r.Get("/uploads", h.ListUploads)
	r.Get("/uploads/{id}", h.GetUpload)
	r.Get("/uploads/{id}/records", h.ListRecords)
	r.Get("/uploads/{id}/records/export", h.ExportRecords)
	r.Get("/metrics", h.ListMetrics)
	r.Get("/records/search", h.SearchRecords)
}

// Upload handles POST /upload.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok {
		interceptors.WriteError(w, http.StatusUnauthorized, interceptors.ErrUnauthenticated.Error())
		return
	}

	file, err := h.readFile(w, r)
	if presentError(ctx, h.logger, w, err) {
		return
	}

	res, err := h.ingestSvc.Upload(ctx, &service.UploadRequest{
		File:       file,
		Category:   r.FormValue("category"),
		DataSource: r.FormValue("dataSource"),
		UserID:     userID,
	})
	if presentError(ctx, h.logger, w, err) {
		return
	}

	if res.Partial() {
		interceptors.WriteJSON(w, http.StatusPartialContent, partialResponse{
			UploadID: res.UploadID,
			Error:    res.Err.Error(),
			Message:  "File uploaded but processing failed",
		})
		return
	}

	interceptors.WriteJSON(w, http.StatusOK, uploadResponse{
		UploadID:         res.UploadID,
		RecordsProcessed: res.RecordsProcessed,
		Message:          "File uploaded and processed successfully",
	})
}

// Analyze handles POST /upload/analyze.
func (h *IngestHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	file, err := h.readFile(w, r)
	if presentError(ctx, h.logger, w, err) {
		return
	}

	analysis, err := h.ingestSvc.Analyze(ctx, file)
	if errors.Is(err, service.ErrParse) {
		interceptors.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if presentError(ctx, h.logger, w, err) {
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, analysis)
}

// readFile reads the "file" part of a multipart request. A missing part
// yields a nil file so the gate reports it.
func (h *IngestHandler) readFile(w http.ResponseWriter, r *http.Request) (*service.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &service.ValidationError{
				Field:  "file",
				Reason: fmt.Sprintf("file size exceeds %dMB limit", h.maxFileSize/1024/1024),
			}
		}
		return nil, &service.ValidationError{Field: "file", Reason: "request must be multipart/form-data"}
	}

	part, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	declared := mediaTypeOf(header.Header.Get("Content-Type"))
	return &service.File{
		Name:         header.Filename,
		MimeType:     effectiveType(declared, header.Filename),
		DeclaredType: declared,
		Data:         data,
		Size:         header.Size,
	}, nil
}

// effectiveType returns the media type the pipeline dispatches on: the
// declared type without parameters, or the type implied by the file
// extension when the client sent none or a generic one.
func effectiveType(declared, fileName string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := service.TypeByExtension(fileName); t != "" {
		return t
	}
	return declared
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// ListUploads handles GET /uploads.
func (h *IngestHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok {
		interceptors.WriteError(w, http.StatusUnauthorized, interceptors.ErrUnauthenticated.Error())
		return
	}

	uploads, err := h.ingestSvc.ListUploads(ctx, userID)
	if presentError(ctx, h.logger, w, err) {
		return
	}
	if uploads == nil {
		uploads = []*repository.Upload{}
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

// GetUpload handles GET /uploads/{id}.
func (h *IngestHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, uploadID, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}

	upload, err := h.ingestSvc.GetUpload(ctx, userID, uploadID)
	if presentError(ctx, h.logger, w, err) {
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, upload)
}

// ListRecords handles GET /uploads/{id}/records?limit=&offset=.
func (h *IngestHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, uploadID, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", defaultRecordLimit)
	if presentError(ctx, h.logger, w, err) {
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if presentError(ctx, h.logger, w, err) {
		return
	}
	limit = min(max(limit, 1), maxRecordLimit)

	records, err := h.ingestSvc.ListRecords(ctx, userID, uploadID, limit, offset)
	if presentError(ctx, h.logger, w, err) {
		return
	}
	if records == nil {
		records = []*repository.DataRecord{}
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

// ExportRecords handles GET /uploads/{id}/records/export?format=csv|xlsx.
func (h *IngestHandler) ExportRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, uploadID, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}

	format := service.ExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	export, err := h.ingestSvc.ExportRecords(ctx, userID, uploadID, format)
	if presentError(ctx, h.logger, w, err) {
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": export.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// ListMetrics handles GET /metrics?period=&category=&type=.
func (h *IngestHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	views, err := h.metricsSvc.List(ctx, repository.MetricFilter{
		Period:   q.Get("period"),
		Category: q.Get("category"),
		Type:     repository.MetricType(strings.ToUpper(q.Get("type"))),
	})
	if presentError(ctx, h.logger, w, err) {
		return
	}
	if views == nil {
		views = []metrics.View{}
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"metrics": views})
}

// SearchRecords handles GET /records/search?q=&limit=.
func (h *IngestHandler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok {
		interceptors.WriteError(w, http.StatusUnauthorized, interceptors.ErrUnauthenticated.Error())
		return
	}

	limit, err := queryInt(r, "limit", defaultSearchLimit)
	if presentError(ctx, h.logger, w, err) {
		return
	}

	hits, err := h.ingestSvc.SearchRecords(ctx, userID, r.URL.Query().Get("q"), limit)
	if presentError(ctx, h.logger, w, err) {
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

// ownedUpload resolves the principal and the {id} path parameter, writing the
// error response itself when either is missing.
func (h *IngestHandler) ownedUpload(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok {
		interceptors.WriteError(w, http.StatusUnauthorized, interceptors.ErrUnauthenticated.Error())
		return uuid.Nil, uuid.Nil, false
	}

	uploadID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "upload id must be a UUID")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, uploadID, true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &service.ValidationError{Field: key, Reason: key + " must be a non-negative integer"}
	}
	return n, nil
}
