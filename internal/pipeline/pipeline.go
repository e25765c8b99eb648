// Package pipeline registers audio sources: it acquires a local artifact,
// fingerprints it, enriches it with metadata and stores the resulting track.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"soundprint/internal/downloader"
	"soundprint/internal/ident"
	"soundprint/internal/logging"
	"soundprint/internal/metadata"
	"soundprint/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UploadPlaceholder is the lookup title for uploads registered without one.
const UploadPlaceholder = "Uploaded Track"

// ErrNoSource is returned when a Source names neither a URL nor an upload.
var ErrNoSource = errors.New("source must have a url or an upload")

// Acquirer produces local audio artifacts.
type Acquirer interface {
	Acquire(ctx context.Context, opID, rawURL string) (*downloader.Acquired, error)
	SaveUpload(opID string, r io.Reader, filename string) (*downloader.Acquired, error)
}

// FeatureExtractor turns an artifact into a fingerprint vector.
type FeatureExtractor interface {
	Fingerprint(ctx context.Context, path string) ([]float64, error)
}

// Enricher resolves descriptive metadata for a query.
type Enricher interface {
	Enrich(ctx context.Context, q metadata.Query) (metadata.Result, error)
}

// TrackStore is the record store the registrar writes to.
type TrackStore interface {
	Load() (models.Collection, error)
	Get(id string) (models.Track, bool, error)
	InsertNew(next func() string, track models.Track) (string, error)
	Delete(id string) error
}

// JobRecorder persists registration progress. Recording is best effort.
type JobRecorder interface {
	UpsertJob(job models.Job) error
}

// Source describes what to register. Exactly one of URL or Upload is used;
// URL wins when both are set.
type Source struct {
	URL      string
	Upload   io.Reader
	Filename string
	Title    string
	Artist   string
}

// Kind returns "url" or "upload".
func (s Source) Kind() string {
	if s.URL != "" {
		return "url"
	}
	return "upload"
}

func (s Source) describe() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Filename
}

// Registrar runs registrations. It is safe for concurrent use.
type Registrar struct {
	acquirer  Acquirer
	extractor FeatureExtractor
	enricher  Enricher
	store     TrackStore
	ids       *ident.Generator
	jobs      JobRecorder
	logger    *logrus.Entry
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithJobs records every registration through rec.
func WithJobs(rec JobRecorder) Option {
	return func(r *Registrar) {
		r.jobs = rec
	}
}

// WithIDGenerator overrides the track id generator.
func WithIDGenerator(g *ident.Generator) Option {
	return func(r *Registrar) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Registrar) {
		r.logger = logging.Component(logger, "pipeline")
	}
}

// New wires a registrar from its collaborators.
func New(acquirer Acquirer, extractor FeatureExtractor, enricher Enricher, store TrackStore, opts ...Option) *Registrar {
	r := &Registrar{
		acquirer:  acquirer,
		extractor: extractor,
		enricher:  enricher,
		store:     store,
		ids:       ident.New(ident.DefaultPrefix),
		logger:    logging.Component(nil, "pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register acquires, fingerprints, enriches and stores src. The temporary
// artifact is removed on every path. On error nothing is stored and the
// error is a *RegistrationError.
func (r *Registrar) Register(ctx context.Context, src Source) (models.Track, error) {
	opID := uuid.NewString()
	log := r.logger.WithFields(logrus.Fields{
		"opId":   opID,
		"kind":   src.Kind(),
		"source": src.describe(),
	})

	job := &models.Job{
		ID:        opID,
		Kind:      src.Kind(),
		Source:    src.describe(),
		Title:     src.Title,
		Artist:    src.Artist,
		Status:    models.JobPending,
		CreatedAt: time.Now(),
	}
	r.record(job, log)

	fail := func(stage Stage, err error) (models.Track, error) {
		regErr := &RegistrationError{Stage: stage, Source: src.describe(), Err: err}
		job.Status = models.JobFailed
		job.Error = regErr.Error()
		r.finish(job, log)
		log.WithError(err).WithField("stage", stage).Warn("Registration failed")
		return models.Track{}, regErr
	}

	job.Status = models.JobAcquiring
	r.record(job, log)
	acquired, err := r.acquire(ctx, opID, src)
	if err != nil {
		return fail(StageAcquire, err)
	}
	defer r.release(acquired, log)

	job.Status = models.JobExtracting
	r.record(job, log)
	fingerprint, err := r.extractor.Fingerprint(ctx, acquired.Path)
	r.release(acquired, log)
	if err != nil {
		return fail(StageExtract, err)
	}

	job.Status = models.JobEnriching
	r.record(job, log)
	query := buildQuery(src, acquired.TitleHint)
	result, err := r.enricher.Enrich(ctx, query)
	if err != nil {
		log.WithError(err).Warn("Enrichment reported an error, keeping fallback metadata")
	} else if result.Degraded != nil {
		log.WithError(result.Degraded).Info("Enrichment degraded to fallback metadata")
	}

	md := result.Metadata
	track := models.Track{
		Title:       md.Title,
		Artist:      md.Artist,
		Album:       md.Album,
		Cover:       md.Cover,
		URL:         md.URL,
		Fingerprint: fingerprint,
	}

	job.Status = models.JobStoring
	r.record(job, log)
	id, err := r.store.InsertNew(r.ids.Next, track)
	if err != nil {
		return fail(StageStore, err)
	}
	track.ID = id

	job.Status = models.JobCompleted
	job.TrackID = id
	job.Title = track.Title
	job.Artist = track.Artist
	r.finish(job, log)

	log.WithFields(logrus.Fields{
		"trackId": id,
		"title":   track.Title,
		"matched": result.Matched,
	}).Info("Track registered")
	return track, nil
}

func (r *Registrar) acquire(ctx context.Context, opID string, src Source) (*downloader.Acquired, error) {
	switch {
	case src.URL != "":
		return r.acquirer.Acquire(ctx, opID, src.URL)
	case src.Upload != nil:
		return r.acquirer.SaveUpload(opID, src.Upload, src.Filename)
	default:
		return nil, ErrNoSource
	}
}

// release deletes the run's artifact. It may be called more than once.
func (r *Registrar) release(acquired *downloader.Acquired, log *logrus.Entry) {
	if acquired == nil {
		return
	}
	if err := acquired.Artifact.Remove(); err != nil {
		log.WithError(err).WithField("path", acquired.Path).Warn("Failed to remove temporary artifact")
	}
}

// buildQuery prefers the caller's title, then the source's own title, then
// the upload placeholder.
func buildQuery(src Source, hint string) metadata.Query {
	title := strings.TrimSpace(src.Title)
	artist := strings.TrimSpace(src.Artist)
	switch {
	case title != "":
		return metadata.Query{Title: title, Artist: artist}
	case strings.TrimSpace(hint) != "":
		return metadata.Query{Hint: strings.TrimSpace(hint), Artist: artist}
	default:
		return metadata.Query{Title: UploadPlaceholder, Artist: artist}
	}
}

func (r *Registrar) record(job *models.Job, log *logrus.Entry) {
	if r.jobs == nil {
		return
	}
	if err := r.jobs.UpsertJob(*job); err != nil {
		log.WithError(err).Warn("Failed to record job")
	}
}

func (r *Registrar) finish(job *models.Job, log *logrus.Entry) {
	now := time.Now()
	job.CompletedAt = &now
	r.record(job, log)
}

// Load returns the full track collection.
func (r *Registrar) Load() (models.Collection, error) {
	return r.store.Load()
}

// Get returns one track by id.
func (r *Registrar) Get(id string) (models.Track, bool, error) {
	return r.store.Get(id)
}

// Delete removes a track. Unknown ids are not an error.
func (r *Registrar) Delete(id string) error {
	if err := r.store.Delete(id); err != nil {
		return fmt.Errorf("delete track %s: %w", id, err)
	}
	r.logger.WithField("trackId", id).Info("Track deleted")
	return nil
}
