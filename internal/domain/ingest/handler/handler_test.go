package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/service"
	"github.com/FACorreiaa/wellspend/internal/domain/metrics"
	"github.com/FACorreiaa/wellspend/internal/domain/search"
	"github.com/FACorreiaa/wellspend/pkg/interceptors"
	"github.com/FACorreiaa/wellspend/pkg/storage"
)

const (
	costsCSV    = "date,amount,description\n2024-01-15,100.50,EC2\n2024-01-16,,S3\n"
	maxFileSize = 4096
)

var secret = []byte("handler-test-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	e     *httpexpect.Expect
	auth  *httpexpect.Expect
	user  uuid.UUID
	store *repository.SQLiteRepository
}

type unavailableBlobs struct{}

func (unavailableBlobs) Write(context.Context, string, string, []byte) (*storage.FileInfo, error) {
	return nil, errors.New("no space left on device")
}
func (unavailableBlobs) Exists(context.Context, string) (bool, error) { return false, nil }
func (unavailableBlobs) Read(context.Context, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}
func (unavailableBlobs) Delete(context.Context, string) error { return nil }
func (unavailableBlobs) Close() error                         { return nil }

func newEnv(t *testing.T, blobs storage.Storage, withSearch bool) *env {
	t.Helper()

	store, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if blobs == nil {
		mem, err := storage.NewBucketStorage(context.Background(), "mem://")
		require.NoError(t, err)
		t.Cleanup(func() { _ = mem.Close() })
		blobs = mem
	}

	svc := service.NewService(
		store,
		blobs,
		normalizer.New(normalizer.DefaultConfig()),
		metrics.NewAggregator(store, discardLogger()),
		service.Config{MaxFileSize: maxFileSize, AllowedTypes: []string{"text/csv", "application/json", "text/plain"}},
		discardLogger(),
	)
	if withSearch {
		index, err := search.NewIndex("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = index.Close() })
		svc.WithSearchIndex(index)
	}

	h := NewIngestHandler(svc, metrics.NewService(store), maxFileSize, discardLogger())

	r := chi.NewRouter()
	r.Use(interceptors.NewAuthenticator(secret, discardLogger()).Middleware)
	h.Routes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	user := uuid.New()
	token, err := interceptors.IssueToken(secret, user, time.Hour)
	require.NoError(t, err)

	e := httpexpect.Default(t, server.URL)
	return &env{
		e: e,
		auth: e.Builder(func(req *httpexpect.Request) {
			req.WithHeader("Authorization", "Bearer "+token)
		}),
		user:  user,
		store: store,
	}
}

// multipartBody builds a form whose file part carries an explicit Content-Type.
func multipartBody(t *testing.T, fileName, contentType string, data []byte, fields map[string]string) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if data != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func form(category, dataSource string) map[string]string {
	return map[string]string{"category": category, "dataSource": dataSource}
}

func (v *env) upload(t *testing.T, fileName, contentType, content string, fields map[string]string) *httpexpect.Response {
	body, ct := multipartBody(t, fileName, contentType, []byte(content), fields)
	return v.auth.POST("/upload").
		WithHeader("Content-Type", ct).
		WithBytes(body).
		Expect()
}

func TestUpload_RequiresPrincipal(t *testing.T) {
	v := newEnv(t, nil, false)

	v.e.POST("/upload").
		WithMultipart().
		WithFileBytes("file", "costs.csv", []byte(costsCSV)).
		WithFormField("category", "cloud").
		WithFormField("dataSource", "CSV_UPLOAD").
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().HasValue("error", "unauthenticated")

	v.e.GET("/uploads").
		WithHeader("Authorization", "Bearer not-a-token").
		Expect().
		Status(http.StatusUnauthorized)
}

func TestUpload_Success(t *testing.T) {
	v := newEnv(t, nil, false)

	// httpexpect sends file parts as application/octet-stream; the
	// extension decides how the file is parsed.
	obj := v.auth.POST("/upload").
		WithMultipart().
		WithFileBytes("file", "costs.csv", []byte(costsCSV)).
		WithFormField("category", "cloud").
		WithFormField("dataSource", "CSV_UPLOAD").
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	obj.HasValue("recordsProcessed", 2)
	obj.HasValue("message", "File uploaded and processed successfully")
	uploadID := obj.Value("uploadId").String().NotEmpty().Raw()

	upload := v.auth.GET("/uploads/" + uploadID).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	upload.HasValue("status", "processed")
	upload.HasValue("isProcessed", true)
	upload.HasValue("mimeType", "application/octet-stream")
	upload.HasValue("recordCount", 2)
	upload.NotContainsKey("errorLog")

	records := v.auth.GET("/uploads/"+uploadID+"/records").
		WithQuery("limit", 1).
		WithQuery("offset", 1).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	records.HasValue("limit", 1)
	page := records.Value("records").Array()
	page.Length().IsEqual(1)
	page.Value(0).Object().HasValue("recordIndex", 1)
	page.Value(0).Object().HasValue("description", "S3")
	page.Value(0).Object().Value("amount").IsNull()

	v.auth.GET("/uploads").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("uploads").Array().Length().IsEqual(1)

	m := v.auth.GET("/metrics").
		WithQuery("category", "cloud").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("metrics").Array()
	m.Length().IsEqual(1)
	m.Value(0).Object().HasValue("name", "cloud_costs")
	m.Value(0).Object().HasValue("value", "100.5")
	m.Value(0).Object().HasValue("display", "$100.50")
}

func TestUpload_PartialSuccess(t *testing.T) {
	v := newEnv(t, nil, false)

	obj := v.upload(t, "broken.json", "application/json", `[{"amount": 1},`, form("hr", "JSON_UPLOAD")).
		Status(http.StatusPartialContent).
		JSON().Object()

	obj.HasValue("message", "File uploaded but processing failed")
	obj.Value("error").String().NotEmpty()
	uploadID := obj.Value("uploadId").String().NotEmpty().Raw()

	upload := v.auth.GET("/uploads/" + uploadID).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	upload.HasValue("status", "failed")
	upload.HasValue("isProcessed", false)
	upload.Value("errorLog").String().NotEmpty()
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		content     []byte
		fields      map[string]string
		wantError   string
	}{
		{
			name:      "no file",
			fields:    form("cloud", "CSV_UPLOAD"),
			wantError: "no file provided",
		},
		{
			name:        "oversized",
			fileName:    "big.csv",
			contentType: "text/csv",
			content:     bytes.Repeat([]byte("a"), maxFileSize+1),
			fields:      form("cloud", "CSV_UPLOAD"),
			wantError:   "file size exceeds",
		},
		{
			name:        "disallowed type",
			fileName:    "invoice.pdf",
			contentType: "application/pdf",
			content:     []byte("%PDF-1.4"),
			fields:      form("cloud", "CSV_UPLOAD"),
			wantError:   "invalid file type",
		},
		{
			name:        "missing category",
			fileName:    "costs.csv",
			contentType: "text/csv",
			content:     []byte(costsCSV),
			fields:      map[string]string{"dataSource": "CSV_UPLOAD"},
			wantError:   "category is required",
		},
		{
			name:        "unknown data source",
			fileName:    "costs.csv",
			contentType: "text/csv; charset=utf-8",
			content:     []byte(costsCSV),
			fields:      form("cloud", "SFTP"),
			wantError:   "unknown data source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newEnv(t, nil, false)

			body, ct := multipartBody(t, tt.fileName, tt.contentType, tt.content, tt.fields)
			v.auth.POST("/upload").
				WithHeader("Content-Type", ct).
				WithBytes(body).
				Expect().
				Status(http.StatusBadRequest).
				JSON().Object().Value("error").String().Contains(tt.wantError)

			uploads, err := v.store.ListUploads(context.Background(), v.user)
			require.NoError(t, err)
			assert.Empty(t, uploads)
		})
	}
}

func TestReadFile_BodyLimit(t *testing.T) {
	h := NewIngestHandler(nil, nil, maxFileSize, discardLogger())
	body, ct := multipartBody(t, "huge.csv", "text/csv", bytes.Repeat([]byte("a"), maxFileSize+multipartOverhead+1), nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(body))
	req.Header.Set("Content-Type", ct)

	_, err := h.readFile(httptest.NewRecorder(), req)
	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file", verr.Field)
	assert.Contains(t, verr.Reason, "file size exceeds")
}

func TestUpload_NotMultipart(t *testing.T) {
	v := newEnv(t, nil, false)

	v.auth.POST("/upload").
		WithJSON(map[string]string{"category": "cloud"}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().HasValue("error", "request must be multipart/form-data")
}

func TestUpload_InfrastructureFailure(t *testing.T) {
	v := newEnv(t, unavailableBlobs{}, false)

	v.upload(t, "costs.csv", "text/csv", costsCSV, form("cloud", "CSV_UPLOAD")).
		Status(http.StatusInternalServerError).
		JSON().Object().HasValue("error", internalErrorMessage)
}

func TestAnalyze(t *testing.T) {
	v := newEnv(t, nil, false)

	obj := v.auth.POST("/upload/analyze").
		WithMultipart().
		WithFileBytes("file", "team.csv", []byte("Date;Cost;Title\n2024-02-01;12;Linear\n")).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	obj.HasValue("format", "csv")
	obj.HasValue("delimiter", ";")
	obj.HasValue("rowCount", 1)
	obj.Path("$.columns.amount.key").IsEqual("Cost")
	obj.Path("$.sampleRows[0].Title").IsEqual("Linear")

	v.auth.POST("/upload/analyze").
		WithMultipart().
		WithFileBytes("file", "x.json", []byte("{")).
		Expect().
		Status(http.StatusBadRequest)

	uploads, err := v.store.ListUploads(context.Background(), v.user)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestUploadReads(t *testing.T) {
	v := newEnv(t, nil, false)

	uploadID := v.upload(t, "costs.csv", "text/csv", costsCSV, form("cloud", "CSV_UPLOAD")).
		Status(http.StatusOK).
		JSON().Object().Value("uploadId").String().Raw()

	v.auth.GET("/uploads/not-a-uuid").
		Expect().
		Status(http.StatusBadRequest)

	v.auth.GET("/uploads/" + uuid.NewString()).
		Expect().
		Status(http.StatusNotFound)

	v.auth.GET("/uploads/"+uploadID+"/records").
		WithQuery("limit", "-1").
		Expect().
		Status(http.StatusBadRequest)

	export := v.auth.GET("/uploads/"+uploadID+"/records/export").
		WithQuery("format", "csv").
		Expect().
		Status(http.StatusOK)
	export.Header("Content-Type").IsEqual("text/csv")
	export.Header("Content-Disposition").Contains("attachment")
	export.Body().Contains("record_index,date,amount,category,description,tags")

	v.auth.GET("/uploads/"+uploadID+"/records/export").
		WithQuery("format", "xlsx").
		Expect().
		Status(http.StatusOK).
		Header("Content-Type").Contains("spreadsheetml")

	v.auth.GET("/uploads/"+uploadID+"/records/export").
		WithQuery("format", "pdf").
		Expect().
		Status(http.StatusBadRequest)

	v.auth.GET("/metrics").
		WithQuery("period", "2024-13").
		Expect().
		Status(http.StatusBadRequest)
}

func TestSearchRecords(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		v := newEnv(t, nil, false)
		v.auth.GET("/records/search").
			WithQuery("q", "ec2").
			Expect().
			Status(http.StatusServiceUnavailable)
	})

	t.Run("enabled", func(t *testing.T) {
		v := newEnv(t, nil, true)
		v.upload(t, "costs.csv", "text/csv", costsCSV, form("cloud", "CSV_UPLOAD")).
			Status(http.StatusOK)

		hits := v.auth.GET("/records/search").
			WithQuery("q", "ec2").
			Expect().
			Status(http.StatusOK).
			JSON().Object().Value("hits").Array()
		hits.Length().IsEqual(1)
		hits.Value(0).Object().HasValue("description", "EC2")

		v.auth.GET("/records/search").
			Expect().
			Status(http.StatusBadRequest)
	})
}

func TestEffectiveType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		declared string
		want     string
	}{
		{"explicit", "data.bin", "text/csv", "text/csv"},
		{"octet stream csv", "a.csv", "application/octet-stream", "text/csv"},
		{"missing json", "a.JSON", "", "application/json"},
		{"missing txt", "notes.txt", "", "text/plain"},
		{"explicit pdf kept", "a.csv", "application/pdf", "application/pdf"},
		{"unknown stays generic", "a.bin", "application/octet-stream", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, effectiveType(tt.declared, tt.fileName))
		})
	}

	assert.Equal(t, "text/csv", mediaTypeOf("text/csv; charset=utf-8"))
	assert.Equal(t, "", mediaTypeOf(""))
}
