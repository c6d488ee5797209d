package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/wellspend/pkg/config"
	"github.com/FACorreiaa/wellspend/pkg/interceptors"
	"github.com/FACorreiaa/wellspend/pkg/storage"
)

const secret = "server-test-secret"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.SQLitePath = ":memory:"
	cfg.Storage = storage.Config{Type: storage.StorageTypeBucket, BucketURL: "mem://"}
	cfg.Auth.JWTSecret = secret
	cfg.Sweeper.Enabled = false
	cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	return cfg
}

func newDeps(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := InitDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(deps.Cleanup)
	return deps
}

func TestServe_RequiresSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""
	deps := newDeps(t, cfg)

	assert.Nil(t, deps.Authenticator)
	assert.NotNil(t, deps.IngestService)

	err := Serve(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt secret is required")
}

func TestInitDependencies_Optional(t *testing.T) {
	cfg := testConfig()
	cfg.Search.Enabled = false
	cfg.Observability.MetricsEnabled = false

	deps := newDeps(t, cfg)

	assert.Nil(t, deps.SearchIndex)
	assert.Nil(t, deps.Telemetry)
	assert.Nil(t, deps.Scheduler)
	assert.Nil(t, NewMetricsServer(deps))
	assert.Nil(t, deps.DB)
}

func TestInitDependencies_RebuildsSearchIndexFromStore(t *testing.T) {
	cfg := testConfig()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "wellspend.db")
	cfg.Storage = storage.Config{Type: storage.StorageTypeLocal, LocalPath: filepath.Join(t.TempDir(), "blobs")}
	userID := uuid.New()
	ctx := context.Background()

	first, err := InitDependencies(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	res, err := first.IngestService.Upload(ctx, uploadRequest(userID, "seats.csv"))
	first.Cleanup()
	require.NoError(t, err)
	require.False(t, res.Partial())

	reopened := newDeps(t, cfg)
	hits, err := reopened.IngestService.SearchRecords(ctx, userID, "seat", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.UploadID, hits[0].UploadID)
}

func TestRouter(t *testing.T) {
	deps := newDeps(t, testConfig())

	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)

	token, err := interceptors.IssueToken([]byte(secret), uuid.New(), time.Hour)
	require.NoError(t, err)

	e := httpexpect.Default(t, server.URL)
	auth := e.Builder(func(req *httpexpect.Request) {
		req.WithHeader("Authorization", "Bearer "+token)
	})

	e.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object().HasValue("status", "ok")
	e.GET("/uploads").Expect().Status(http.StatusUnauthorized)

	auth.POST("/upload").
		WithMultipart().
		WithFileBytes("file", "costs.csv", []byte("date,amount,description\n2024-01-15,12.00,EC2\n")).
		WithFormField("category", "infra").
		WithFormField("dataSource", "CSV_UPLOAD").
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("recordsProcessed", 1)

	auth.GET("/uploads").Expect().Status(http.StatusOK).JSON().Object().Value("uploads").Array().Length().IsEqual(1)
	auth.GET("/records/search").WithQuery("q", "EC2").Expect().Status(http.StatusOK)

	e.OPTIONS("/upload").
		WithHeader("Origin", "https://app.example.com").
		WithHeader("Access-Control-Request-Method", "POST").
		Expect().
		Status(http.StatusNoContent).
		Header("Access-Control-Allow-Origin").IsEqual("https://app.example.com")

	metricsServer := httptest.NewServer(NewMetricsServer(deps).Handler)
	t.Cleanup(metricsServer.Close)

	httpexpect.Default(t, metricsServer.URL).
		GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains(`wellspend_uploads_total{outcome="processed"} 1`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Observability.MetricsEnabled = false
	cfg.Sweeper.Enabled = true
	cfg.Sweeper.Schedule = "@every 1h"
	deps := newDeps(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
