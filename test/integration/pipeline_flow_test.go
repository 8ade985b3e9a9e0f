package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/eventbus"
	"github.com/matchbot/reconcile/internal/handler"
	"github.com/matchbot/reconcile/internal/objectstore"
	"github.com/matchbot/reconcile/internal/server"
	"github.com/matchbot/reconcile/internal/service"
	"github.com/matchbot/reconcile/internal/storage"
	"github.com/matchbot/reconcile/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Limits: config.LimitsConfig{
			MaxFileSize:           100 << 20,
			SizeTolerance:         1024,
			QualityThreshold:      0.10,
			AmountTolerance:       "0.01",
			BatchSize:             100,
			ChunkSize:             64 << 10,
			StorageRetryAttempts:  2,
			ExtractionTimeout:     time.Minute,
			ReconciliationTimeout: time.Minute,
			PresignTTL:            15 * time.Minute,
		},
	}
}

func setupTestServer(t *testing.T) (*httptest.Server, *objectstore.LocalStore, eventbus.EventBus) {
	t.Helper()

	log := logger.NewNop()
	cfg := testConfig()

	repo := storage.NewMemoryStore()
	store, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New(log, &eventbus.Config{ChannelBuffer: 100, MaxRetries: 3})

	extractor := service.NewExtractor(repo, store, cfg.Limits, log)
	reconciler, err := service.NewReconciler(repo, bus, cfg.Limits, log)
	require.NoError(t, err)
	tracker := service.NewTracker(repo, store, bus, cfg.Limits, log)

	require.NoError(t, bus.Subscribe(eventbus.EventTypeFileExtract, eventbus.NewExtractConsumer(extractor, log, 4)))
	require.NoError(t, bus.Subscribe(eventbus.EventTypeJobRun, eventbus.NewJobConsumer(reconciler, log, 2)))
	require.NoError(t, bus.Start(context.Background()))

	fileHandler := handler.NewFileHandler(tracker, extractor, log)
	jobHandler := handler.NewJobHandler(reconciler, log)
	healthHandler := handler.NewHealthHandler()

	srv := server.New(cfg, log, fileHandler, jobHandler, healthHandler)

	return httptest.NewServer(srv.Handler()), store, bus
}

func postJSON(t *testing.T, url string, body interface{}) map[string]interface{} {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, "POST %s", url)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// ingestFile drives one file through register, upload, confirm and waits for
// it to reach ready.
func ingestFile(t *testing.T, baseURL string, store *objectstore.LocalStore, content string) string {
	t.Helper()

	out := postJSON(t, baseURL+"/files", map[string]interface{}{
		"owner_id":      "owner-1",
		"filename":      "statement.csv",
		"content_type":  "text/csv",
		"declared_size": len(content),
	})

	file := out["file"].(map[string]interface{})
	fileID := file["id"].(string)
	storageKey := file["storage_key"].(string)
	require.NotEmpty(t, out["upload"].(map[string]interface{})["url"])

	// Stand-in for the client's presigned PUT.
	require.NoError(t, store.Put(context.Background(), storageKey, strings.NewReader(content)))

	postJSON(t, fmt.Sprintf("%s/files/%s/uploaded", baseURL, fileID), nil)
	postJSON(t, fmt.Sprintf("%s/files/%s/confirm", baseURL, fileID), map[string]interface{}{})

	waitForStatus(t, fmt.Sprintf("%s/files/%s", baseURL, fileID), "ready")
	return fileID
}

func waitForStatus(t *testing.T, url, want string) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		code, out := getJSON(t, url)
		require.Equal(t, http.StatusOK, code)
		status, _ := out["status"].(string)
		if status == want {
			return
		}
		if status == "failed" {
			t.Fatalf("entity at %s failed: %v", url, out["failure_reason"])
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to reach %s", url, want)
}

func TestPipelineFlow(t *testing.T) {
	srv, store, bus := setupTestServer(t)
	defer srv.Close()
	defer bus.Shutdown(context.Background())

	sourceCSV := "date,amount,description\n" +
		"2023-05-01,100.00,rent\n" +
		"2023-05-02,20.00,groceries\n" +
		"2023-05-03,5.00,coffee\n"

	comparisonCSV := "date,amount,description\n" +
		"2023-05-01,100.00,rent\n" + // exact match
		"2023-05-02,20.01,grocery store\n" + // similarity match
		"2023-06-09,77.00,unknown charge\n" // comparison only

	sourceID := ingestFile(t, srv.URL, store, sourceCSV)
	comparisonID := ingestFile(t, srv.URL, store, comparisonCSV)

	job := postJSON(t, srv.URL+"/jobs", map[string]interface{}{
		"owner_id":            "owner-1",
		"source_file_id":      sourceID,
		"comparison_file_ids": []string{comparisonID},
	})
	jobID := job["id"].(string)
	assert.Equal(t, "pending", job["status"])

	postJSON(t, fmt.Sprintf("%s/jobs/%s/run", srv.URL, jobID), nil)
	waitForStatus(t, fmt.Sprintf("%s/jobs/%s", srv.URL, jobID), "completed")

	code, result := getJSON(t, fmt.Sprintf("%s/jobs/%s/result", srv.URL, jobID))
	require.Equal(t, http.StatusOK, code)

	comparisons := result["comparisons"].([]interface{})
	require.Len(t, comparisons, 1)
	outcome := comparisons[0].(map[string]interface{})

	assert.Len(t, outcome["matched"].([]interface{}), 1)
	assert.Len(t, outcome["mismatched"].([]interface{}), 1)
	assert.Len(t, outcome["source_only"].([]interface{}), 1)
	assert.Len(t, outcome["comparison_only"].([]interface{}), 1)
}

func TestRerunAppendsResultHistory(t *testing.T) {
	srv, store, bus := setupTestServer(t)
	defer srv.Close()
	defer bus.Shutdown(context.Background())

	csv := "date,amount,description\n2023-05-01,10.00,coffee\n"
	sourceID := ingestFile(t, srv.URL, store, csv)
	comparisonID := ingestFile(t, srv.URL, store, csv)

	job := postJSON(t, srv.URL+"/jobs", map[string]interface{}{
		"owner_id":            "owner-1",
		"source_file_id":      sourceID,
		"comparison_file_ids": []string{comparisonID},
	})
	jobID := job["id"].(string)

	for i := 0; i < 2; i++ {
		postJSON(t, fmt.Sprintf("%s/jobs/%s/run", srv.URL, jobID), nil)
		waitForStatus(t, fmt.Sprintf("%s/jobs/%s", srv.URL, jobID), "completed")
	}

	code, out := getJSON(t, fmt.Sprintf("%s/jobs/%s/results", srv.URL, jobID))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["results"].([]interface{}), 2)
}

func TestSizeMismatchRejectsUpload(t *testing.T) {
	srv, store, bus := setupTestServer(t)
	defer srv.Close()
	defer bus.Shutdown(context.Background())

	out := postJSON(t, srv.URL+"/files", map[string]interface{}{
		"owner_id":      "owner-1",
		"filename":      "statement.csv",
		"content_type":  "text/csv",
		"declared_size": 50000,
	})
	file := out["file"].(map[string]interface{})
	fileID := file["id"].(string)
	storageKey := file["storage_key"].(string)

	require.NoError(t, store.Put(context.Background(), storageKey, strings.NewReader("tiny")))

	resp, err := http.Post(fmt.Sprintf("%s/files/%s/uploaded", srv.URL, fileID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, got := getJSON(t, fmt.Sprintf("%s/files/%s", srv.URL, fileID))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failed", got["status"])
}

func TestHealthCheck(t *testing.T) {
	srv, _, bus := setupTestServer(t)
	defer srv.Close()
	defer bus.Shutdown(context.Background())

	code, out := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}

func TestUnknownFileReturns404(t *testing.T) {
	srv, _, bus := setupTestServer(t)
	defer srv.Close()
	defer bus.Shutdown(context.Background())

	code, _ := getJSON(t, srv.URL+"/files/6a6e2a6e-9c2c-4a4e-8f2d-0f6f0d3c1a2b")
	assert.Equal(t, http.StatusNotFound, code)
}
