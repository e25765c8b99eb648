package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"soundprint/internal/audio"
	"soundprint/internal/cache"
	"soundprint/internal/config"
	"soundprint/internal/downloader"
	"soundprint/internal/ident"
	"soundprint/internal/logging"
	"soundprint/internal/metadata"
	"soundprint/internal/store"
	"soundprint/internal/tempfiles"
	"soundprint/internal/testsupport"
	"soundprint/pkg/models"

	"github.com/google/uuid"
)

type recordedJobs struct {
	mu   sync.Mutex
	jobs map[string][]models.JobStatus
	last map[string]models.Job
}

func (r *recordedJobs) UpsertJob(job models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs == nil {
		r.jobs = map[string][]models.JobStatus{}
		r.last = map[string]models.Job{}
	}
	r.jobs[job.ID] = append(r.jobs[job.ID], job.Status)
	r.last[job.ID] = job
	return nil
}

type harness struct {
	cfg       *config.Config
	temp      *tempfiles.Manager
	store     *store.Store
	registrar *Registrar
	jobs      *recordedJobs
	lookups   atomic.Int32
}

// newHarness wires the real components against a fake yt-dlp and a lookup
// server that never finds anything.
func newHarness(t *testing.T, fake testsupport.FakeYtDlp) *harness {
	t.Helper()
	h := &harness{cfg: testsupport.NewConfig(t), jobs: &recordedJobs{}}

	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.lookups.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultCount":0,"results":[]}`))
	}))
	t.Cleanup(lookup.Close)
	h.cfg.Lookup.BaseURL = lookup.URL

	if fake.Fixture != "" || fake.Fail {
		h.cfg.Downloader.YtDlpPath = testsupport.WriteFakeYtDlp(t, t.TempDir(), fake)
	}

	logger := logging.NewNop()
	var err error
	h.temp, err = tempfiles.NewManager(h.cfg.Audio.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	extractor, err := audio.NewExtractor(h.cfg.Audio, logger)
	if err != nil {
		t.Fatal(err)
	}
	enricher, err := metadata.NewFromConfig(h.cfg.Lookup, cache.NopStore{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	h.store = store.New(h.cfg.Store.Path, logger)
	h.registrar = New(
		downloader.NewDownloader(h.cfg, h.temp, logger),
		extractor,
		enricher,
		h.store,
		WithJobs(h.jobs),
		WithLogger(logger),
	)
	return h
}

func (h *harness) assertTempEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.temp.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected temp dir to be empty, found %v", names)
	}
}

func silentClip(t *testing.T, seconds float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silence.wav")
	testsupport.WriteWAV(t, path, testsupport.Silence(22050, seconds), 22050)
	return path
}

func toneClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	testsupport.WriteWAV(t, path, testsupport.Sine(440, 0.5, 22050, 0.5), 22050)
	return path
}

func TestRegisterURLWithExplicitTitle(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{Fixture: silentClip(t, 10), Title: "Some Upload Title"})

	before, err := h.registrar.Load()
	if err != nil {
		t.Fatal(err)
	}

	track, err := h.registrar.Register(context.Background(), Source{
		URL:    "https://www.youtube.com/watch?v=test",
		Title:  "Test Song",
		Artist: "Test Artist",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if track.Title != "Test Song" || track.Artist != "Test Artist" {
		t.Errorf("Expected Test Song / Test Artist, got %q / %q", track.Title, track.Artist)
	}
	if track.Album != "" || track.Cover != "" || track.URL != "" {
		t.Errorf("Expected empty album/cover/url, got %+v", track)
	}
	if len(track.Fingerprint) != 13 {
		t.Errorf("Expected 13 coefficients, got %d", len(track.Fingerprint))
	}
	if !ident.Valid(ident.DefaultPrefix, track.ID) {
		t.Errorf("Unexpected track id %q", track.ID)
	}
	if h.lookups.Load() != 1 {
		t.Errorf("Expected one lookup request, got %d", h.lookups.Load())
	}

	after, err := h.registrar.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before)+1 {
		t.Errorf("Expected %d records, got %d", len(before)+1, len(after))
	}
	stored, ok := after.WithID(track.ID)
	if !ok {
		t.Fatalf("Expected %s in store", track.ID)
	}
	if stored.Title != "Test Song" || len(stored.Fingerprint) != 13 {
		t.Errorf("Unexpected stored record %+v", stored)
	}

	h.assertTempEmpty(t)

	statuses := h.jobs.jobs
	if len(statuses) != 1 {
		t.Fatalf("Expected one recorded job, got %d", len(statuses))
	}
	for id, seq := range statuses {
		if seq[len(seq)-1] != models.JobCompleted {
			t.Errorf("Expected last status completed, got %v", seq)
		}
		if h.jobs.last[id].TrackID != track.ID {
			t.Errorf("Expected job to reference %s, got %s", track.ID, h.jobs.last[id].TrackID)
		}
		if h.jobs.last[id].CompletedAt == nil {
			t.Error("Expected completed_at to be set")
		}
	}
}

func TestRegisterURLUsesTitleHint(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{Fixture: toneClip(t), Title: "Band - Tune"})

	track, err := h.registrar.Register(context.Background(), Source{URL: "https://example.com/watch?v=1"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if track.Title != "Band - Tune" {
		t.Errorf("Expected title from hint, got %q", track.Title)
	}
	if track.Artist != "" {
		t.Errorf("Expected empty artist, got %q", track.Artist)
	}
}

func TestRegisterUploadDefaultsToPlaceholder(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{})
	data, err := os.ReadFile(toneClip(t))
	if err != nil {
		t.Fatal(err)
	}

	track, err := h.registrar.Register(context.Background(), Source{
		Upload:   bytes.NewReader(data),
		Filename: "my recording.wav",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if track.Title != UploadPlaceholder {
		t.Errorf("Expected placeholder title, got %q", track.Title)
	}
	if len(track.Fingerprint) != 13 {
		t.Errorf("Expected 13 coefficients, got %d", len(track.Fingerprint))
	}
	h.assertTempEmpty(t)
}

func TestRegisterAcquisitionFailure(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{Fail: true})

	_, err := h.registrar.Register(context.Background(), Source{URL: "https://example.com/gone", Title: "X"})
	if err == nil {
		t.Fatal("Expected error")
	}
	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("Expected *RegistrationError, got %T", err)
	}
	if regErr.Stage != StageAcquire {
		t.Errorf("Expected acquire stage, got %s", regErr.Stage)
	}
	var acqErr *downloader.AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Errorf("Expected wrapped AcquisitionError, got %v", err)
	}

	collection, err := h.registrar.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(collection) != 0 {
		t.Errorf("Expected no records after failure, got %d", len(collection))
	}
	if h.lookups.Load() != 0 {
		t.Errorf("Expected no lookup after acquisition failure, got %d", h.lookups.Load())
	}
	h.assertTempEmpty(t)

	for _, job := range h.jobs.last {
		if job.Status != models.JobFailed || job.Error == "" {
			t.Errorf("Expected failed job with error, got %+v", job)
		}
	}
}

func TestRegisterDecodeFailure(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{})

	_, err := h.registrar.Register(context.Background(), Source{
		Upload:   bytes.NewReader([]byte("definitely not audio")),
		Filename: "broken.wav",
	})
	var regErr *RegistrationError
	if !errors.As(err, &regErr) || regErr.Stage != StageExtract {
		t.Fatalf("Expected extract-stage RegistrationError, got %v", err)
	}
	var decErr *audio.DecodeError
	if !errors.As(err, &decErr) {
		t.Errorf("Expected wrapped DecodeError, got %v", err)
	}

	if _, statErr := os.Stat(h.cfg.Store.Path); !os.IsNotExist(statErr) {
		t.Errorf("Expected store file to be untouched, stat returned %v", statErr)
	}
	h.assertTempEmpty(t)
}

func TestRegisterRejectsEmptySource(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{})
	_, err := h.registrar.Register(context.Background(), Source{Title: "Nothing"})
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
}

func TestConcurrentRegistrationsKeepEveryRecord(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{Fixture: toneClip(t)})

	const n = 8
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			track, err := h.registrar.Register(context.Background(), Source{
				URL:   fmt.Sprintf("https://example.com/watch?v=%d", i),
				Title: fmt.Sprintf("Song %d", i),
			})
			if err != nil {
				t.Errorf("Register %d returned error: %v", i, err)
				return
			}
			ids <- track.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	collection, err := h.registrar.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(collection) != n {
		t.Errorf("Expected %d records, got %d", n, len(collection))
	}
	for id := range ids {
		if _, ok := collection[id]; !ok {
			t.Errorf("Missing record %s", id)
		}
	}
	h.assertTempEmpty(t)
}

func TestRegisterRetriesOnIDCollision(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{Fixture: toneClip(t)})

	fixed := uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000000")
	fresh := uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000000")
	var calls atomic.Int32
	gen := &ident.Generator{Prefix: ident.DefaultPrefix, NewUUID: func() uuid.UUID {
		// The first two ids collide, the third is new.
		if calls.Add(1) <= 2 {
			return fixed
		}
		return fresh
	}}
	h.registrar.ids = gen

	first, err := h.registrar.Register(context.Background(), Source{URL: "https://example.com/1", Title: "One"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.registrar.Register(context.Background(), Source{URL: "https://example.com/2", Title: "Two"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "track_aaaaaaaa" || second.ID != "track_bbbbbbbb" {
		t.Errorf("Expected track_aaaaaaaa and track_bbbbbbbb, got %s and %s", first.ID, second.ID)
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t, testsupport.FakeYtDlp{Fixture: toneClip(t)})
	track, err := h.registrar.Register(context.Background(), Source{URL: "https://example.com/1", Title: "One"})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.registrar.Delete(track.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok, err := h.registrar.Get(track.ID); err != nil || ok {
		t.Errorf("Expected %s to be gone (ok=%v, err=%v)", track.ID, ok, err)
	}
	if err := h.registrar.Delete("track_00000000"); err != nil {
		t.Errorf("Deleting an unknown id should be a no-op, got %v", err)
	}
}

func TestBuildQuery(t *testing.T) {
	testCases := []struct {
		name     string
		src      Source
		hint     string
		expected metadata.Query
	}{
		{"explicit title", Source{Title: " Song ", Artist: "Band"}, "hint", metadata.Query{Title: "Song", Artist: "Band"}},
		{"hint", Source{Artist: "Band"}, "Band - Song", metadata.Query{Hint: "Band - Song", Artist: "Band"}},
		{"placeholder", Source{}, "  ", metadata.Query{Title: UploadPlaceholder}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildQuery(tc.src, tc.hint); got != tc.expected {
				t.Errorf("Expected %+v, got %+v", tc.expected, got)
			}
		})
	}
}
