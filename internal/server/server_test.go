package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"soundprint/internal/audio"
	"soundprint/internal/config"
	"soundprint/internal/database"
	"soundprint/internal/downloader"
	"soundprint/internal/logging"
	"soundprint/internal/metadata"
	"soundprint/internal/pipeline"
	"soundprint/internal/store"
	"soundprint/internal/tempfiles"
	"soundprint/internal/testsupport"
)

// stubAcquirer saves uploads with the real downloader but fakes URL fetches.
type stubAcquirer struct {
	*downloader.Downloader
	temp *tempfiles.Manager
	fail error
}

func (a *stubAcquirer) Acquire(ctx context.Context, opID, rawURL string) (*downloader.Acquired, error) {
	if a.fail != nil {
		return nil, &downloader.AcquisitionError{Source: rawURL, Err: a.fail}
	}
	artifact, f, err := a.temp.Create(opID, ".wav")
	if err != nil {
		return nil, err
	}
	f.Write([]byte("audio"))
	f.Close()
	return &downloader.Acquired{Artifact: artifact, Path: artifact.Path, TitleHint: "Hinted Title"}, nil
}

// stubExtractor rejects artifacts whose content starts with "bad".
type stubExtractor struct{}

func (stubExtractor) Fingerprint(ctx context.Context, path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &audio.DecodeError{Path: path, Err: err}
	}
	if bytes.HasPrefix(data, []byte("bad")) {
		return nil, &audio.DecodeError{Path: path, Err: audio.ErrNoSamples}
	}
	return make([]float64, 13), nil
}

type stubEnricher struct{}

func (stubEnricher) Enrich(ctx context.Context, q metadata.Query) (metadata.Result, error) {
	return metadata.Result{Metadata: metadata.Fallback(q)}, nil
}

type testServer struct {
	cfg      *config.Config
	server   *Server
	http     *httptest.Server
	acquirer *stubAcquirer
	temp     *tempfiles.Manager
}

func newTestServer(t *testing.T, withJobs bool) *testServer {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()

	temp, err := tempfiles.NewManager(cfg.Audio.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	acquirer := &stubAcquirer{Downloader: downloader.NewDownloader(cfg, temp, logger), temp: temp}

	var opts []pipeline.Option
	var jobs JobHistory
	if withJobs {
		db, err := database.NewDatabase(cfg.Jobs.DatabasePath, logger)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		opts = append(opts, pipeline.WithJobs(db))
		jobs = db
	}
	registrar := pipeline.New(acquirer, stubExtractor{}, stubEnricher{}, store.New(cfg.Store.Path, logger), opts...)

	srv := NewServer(cfg, registrar, jobs, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{cfg: cfg, server: srv, http: ts, acquirer: acquirer, temp: temp}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) postJSON(t *testing.T, path string, v interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return ts.do(t, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

type createdResponse struct {
	Success bool `json:"success"`
	Track   struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Artist      string    `json:"artist"`
		Album       string    `json:"album"`
		Fingerprint []float64 `json:"fingerprint"`
	} `json:"track"`
}

func TestResultsJSONEmptyStore(t *testing.T) {
	ts := newTestServer(t, false)
	resp := ts.do(t, http.MethodGet, "/results.json", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var collection map[string]interface{}
	decode(t, resp, &collection)
	if len(collection) != 0 {
		t.Errorf("Expected empty collection, got %v", collection)
	}
}

func TestRegisterLifecycle(t *testing.T) {
	ts := newTestServer(t, false)

	resp := ts.postJSON(t, "/api/register", registerRequest{
		URL:    "https://www.youtube.com/watch?v=test",
		Title:  "Test Song",
		Artist: "Test Artist",
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created createdResponse
	decode(t, resp, &created)
	if !created.Success || created.Track.ID == "" {
		t.Fatalf("Unexpected response %+v", created)
	}
	if created.Track.Title != "Test Song" || created.Track.Artist != "Test Artist" {
		t.Errorf("Expected Test Song / Test Artist, got %q / %q", created.Track.Title, created.Track.Artist)
	}
	if len(created.Track.Fingerprint) != 13 {
		t.Errorf("Expected 13 coefficients, got %d", len(created.Track.Fingerprint))
	}
	id := created.Track.ID

	t.Run("ResultsJSON", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/results.json", nil, "")
		var collection map[string]map[string]interface{}
		decode(t, resp, &collection)
		record, ok := collection[id]
		if !ok {
			t.Fatalf("Expected %s in results.json", id)
		}
		if _, hasID := record["id"]; hasID {
			t.Error("Stored record should not repeat its id")
		}
		for _, key := range []string{"title", "artist", "album", "cover", "url", "fingerprint"} {
			if _, ok := record[key]; !ok {
				t.Errorf("Expected key %q in record", key)
			}
		}
	})

	t.Run("Get", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/tracks/"+id, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		var track map[string]interface{}
		decode(t, resp, &track)
		if track["id"] != id {
			t.Errorf("Expected id %s, got %v", id, track["id"])
		}
	})

	t.Run("List", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/tracks?search=test+song", nil, "")
		var tracks []map[string]interface{}
		decode(t, resp, &tracks)
		if len(tracks) != 1 {
			t.Errorf("Expected 1 matching track, got %d", len(tracks))
		}

		resp = ts.do(t, http.MethodGet, "/api/tracks?search=nothing-like-this", nil, "")
		decode(t, resp, &tracks)
		if len(tracks) != 0 {
			t.Errorf("Expected no matching tracks, got %d", len(tracks))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		resp := ts.do(t, http.MethodDelete, "/api/tracks/"+id, nil, "")
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", resp.StatusCode)
		}
		resp = ts.do(t, http.MethodGet, "/api/tracks/"+id, nil, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
		}
		// Deleting again is a no-op.
		resp = ts.do(t, http.MethodDelete, "/api/tracks/"+id, nil, "")
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("Expected 204 for repeated delete, got %d", resp.StatusCode)
		}
	})

	entries, err := os.ReadDir(ts.temp.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected temp dir to be empty, got %d entries", len(entries))
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t, false)

	testCases := []struct {
		name string
		body interface{}
		code string
	}{
		{"missing url", registerRequest{}, "MISSING_URL"},
		{"ftp url", registerRequest{URL: "ftp://example.com/a.mp3"}, "INVALID_URL_PROTOCOL"},
		{"title too long", registerRequest{URL: "https://example.com/a", Title: strings.Repeat("a", 256)}, "TITLE_TOO_LONG"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.postJSON(t, "/api/register", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", resp.StatusCode)
			}
			var result ValidationResult
			decode(t, resp, &result)
			if len(result.Errors) == 0 || result.Errors[0].Code != tc.code {
				t.Errorf("Expected code %s, got %+v", tc.code, result.Errors)
			}
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/register", strings.NewReader("{"), "application/json")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/register", nil, "")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestRegisterAcquisitionFailure(t *testing.T) {
	ts := newTestServer(t, false)
	ts.acquirer.fail = errors.New("HTTP Error 404: Not Found")

	resp := ts.postJSON(t, "/api/register", registerRequest{URL: "https://example.com/gone"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decode(t, resp, &body)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "404") {
		t.Errorf("Expected acquisition message in error, got %q", msg)
	}

	resp = ts.do(t, http.MethodGet, "/results.json", nil, "")
	var collection map[string]interface{}
	decode(t, resp, &collection)
	if len(collection) != 0 {
		t.Errorf("Expected no records after failure, got %d", len(collection))
	}
}

func TestRegisterDisabled(t *testing.T) {
	ts := newTestServer(t, false)
	ts.cfg.Downloader.Enabled = false

	resp := ts.postJSON(t, "/api/register", registerRequest{URL: "https://example.com/a"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, false)

	t.Run("Success", func(t *testing.T) {
		body, ct := multipartUpload(t, "clip.wav", []byte("RIFF...."), map[string]string{"artist": "Someone"})
		resp := ts.do(t, http.MethodPost, "/api/upload", body, ct)
		if resp.StatusCode != http.StatusCreated {
			data, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, data)
		}
		var created createdResponse
		decode(t, resp, &created)
		if created.Track.Title != pipeline.UploadPlaceholder {
			t.Errorf("Expected placeholder title, got %q", created.Track.Title)
		}
		if created.Track.Artist != "Someone" {
			t.Errorf("Expected artist Someone, got %q", created.Track.Artist)
		}
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		body, ct := multipartUpload(t, "notes.txt", []byte("hello"), nil)
		resp := ts.do(t, http.MethodPost, "/api/upload", body, ct)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		body, ct := multipartUpload(t, "", nil, map[string]string{"title": "x"})
		resp := ts.do(t, http.MethodPost, "/api/upload", body, ct)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Undecodable", func(t *testing.T) {
		body, ct := multipartUpload(t, "broken.mp3", []byte("bad data"), nil)
		resp := ts.do(t, http.MethodPost, "/api/upload", body, ct)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d", resp.StatusCode)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		body, ct := multipartUpload(t, "empty.wav", nil, nil)
		resp := ts.do(t, http.MethodPost, "/api/upload", body, ct)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	entries, err := os.ReadDir(ts.temp.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected temp dir to be empty, got %d entries", len(entries))
	}
}

func TestTrackIDValidation(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/api/tracks/abc", "/api/tracks/track_zzzzzzzz", "/api/tracks/track_1234abcd/extra"} {
		resp := ts.do(t, http.MethodGet, path, nil, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}
	resp := ts.do(t, http.MethodGet, "/api/tracks/track_1234abcd", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", resp.StatusCode)
	}
}

func TestJobsEndpoints(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		ts := newTestServer(t, false)
		resp := ts.do(t, http.MethodGet, "/api/jobs", nil, "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", resp.StatusCode)
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		ts := newTestServer(t, true)
		resp := ts.postJSON(t, "/api/register", registerRequest{URL: "https://example.com/a", Title: "A"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", resp.StatusCode)
		}
		var created createdResponse
		decode(t, resp, &created)

		resp = ts.do(t, http.MethodGet, "/api/jobs", nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		var jobs []map[string]interface{}
		decode(t, resp, &jobs)
		if len(jobs) != 1 {
			t.Fatalf("Expected 1 job, got %d", len(jobs))
		}
		if jobs[0]["status"] != "completed" || jobs[0]["trackId"] != created.Track.ID {
			t.Errorf("Unexpected job %v", jobs[0])
		}

		jobID, _ := jobs[0]["id"].(string)
		resp = ts.do(t, http.MethodGet, "/api/jobs/"+jobID, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200 for job %s, got %d", jobID, resp.StatusCode)
		}

		resp = ts.do(t, http.MethodGet, "/api/jobs/does-not-exist", nil, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}

		resp = ts.do(t, http.MethodGet, "/api/jobs?limit=-1", nil, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for negative limit, got %d", resp.StatusCode)
		}
	})
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, true)
	resp := ts.do(t, http.MethodGet, "/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var health HealthStatus
	decode(t, resp, &health)
	if health.Status != "healthy" || health.Store != "ok" || health.Jobs != "ok" {
		t.Errorf("Unexpected health %+v", health)
	}

	t.Run("CorruptStore", func(t *testing.T) {
		if err := os.MkdirAll(filepath.Dir(ts.cfg.Store.Path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(ts.cfg.Store.Path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		resp := ts.do(t, http.MethodGet, "/health", nil, "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", resp.StatusCode)
		}
		resp = ts.do(t, http.MethodGet, "/results.json", nil, "")
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected 500 for corrupt store, got %d", resp.StatusCode)
		}
	})
}

func TestConfigEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	resp := ts.do(t, http.MethodGet, "/api/config", nil, "")
	var cfg ConfigResponse
	decode(t, resp, &cfg)
	if cfg.Fingerprint.Coefficients != 13 || cfg.Fingerprint.SampleRate != 22050 {
		t.Errorf("Unexpected fingerprint config %+v", cfg.Fingerprint)
	}
	if len(cfg.Upload.SupportedFormats) == 0 {
		t.Error("Expected supported formats")
	}
	if cfg.JobHistory {
		t.Error("Expected job history to be reported as disabled")
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, false)
	req, err := http.NewRequest(http.MethodOptions, ts.http.URL+"/api/register", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS origin header, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestPanicRecovery(t *testing.T) {
	ts := newTestServer(t, false)
	handler := ts.server.panicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ts := newTestServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- ts.server.Start(ctx)
	}()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}
