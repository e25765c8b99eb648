// Package metadata enriches registrations with descriptive track metadata
// from an external search service, degrading to the caller's own text when
// the service has no match or cannot be reached.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soundprint/internal/cache"
	"soundprint/internal/config"
	"soundprint/internal/logging"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Query is the text an enrichment lookup is built from.
type Query struct {
	Title  string
	Artist string
	// Hint is a source-provided title used when Title is empty.
	Hint string
}

// Term returns the free-text search term: "title artist" when a title is
// given, otherwise the hint.
func (q Query) Term() string {
	title := strings.TrimSpace(q.Title)
	artist := strings.TrimSpace(q.Artist)
	if title != "" {
		return strings.TrimSpace(title + " " + artist)
	}
	if hint := strings.TrimSpace(q.Hint); hint != "" {
		return hint
	}
	return artist
}

// Metadata is the descriptive part of a track record.
type Metadata struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Cover      string `json:"cover"`
	URL        string `json:"url"`
	ProviderID string `json:"providerId,omitempty"`
}

// Result is either a match from the service or a fallback built from the
// query. Degraded carries the reason a lookup fell back because of a
// service problem; it is nil for a clean zero-result answer.
type Result struct {
	Metadata Metadata
	Matched  bool
	Degraded error
}

// Fallback builds the record used when nothing matched.
func Fallback(q Query) Metadata {
	title := q.Title
	if strings.TrimSpace(title) == "" {
		title = q.Term()
	}
	return Metadata{
		Title:  title,
		Artist: q.Artist,
	}
}

// UpgradeCover rewrites every occurrence of the low-resolution token.
func UpgradeCover(cover, lowRes, highRes string) string {
	if cover == "" || lowRes == "" || highRes == "" {
		return cover
	}
	return strings.ReplaceAll(cover, lowRes, highRes)
}

// Enricher looks up metadata with caching and request coalescing.
type Enricher struct {
	searcher Searcher
	cache    cache.Store
	group    singleflight.Group
	lowRes   string
	highRes  string
	timeout  time.Duration
	logger   *logrus.Entry
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithCache stores successful lookups in store.
func WithCache(store cache.Store) EnricherOption {
	return func(e *Enricher) {
		if store != nil {
			e.cache = store
		}
	}
}

// WithCoverTokens sets the artwork resolution tokens.
func WithCoverTokens(lowRes, highRes string) EnricherOption {
	return func(e *Enricher) {
		e.lowRes = lowRes
		e.highRes = highRes
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(timeout time.Duration) EnricherOption {
	return func(e *Enricher) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = logging.Component(logger, "enricher")
	}
}

// NewEnricher wraps a searcher.
func NewEnricher(searcher Searcher, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		searcher: searcher,
		cache:    cache.NopStore{},
		lowRes:   "100x100",
		highRes:  "600x600",
		timeout:  10 * time.Second,
		logger:   logging.Component(nil, "enricher"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lookup is what gets cached: the service's answer before any fallback.
type lookup struct {
	Matched  bool     `json:"matched"`
	Metadata Metadata `json:"metadata"`
}

// Enrich resolves q to metadata. Unreachable services, timeouts and zero
// matches all produce the fallback with a nil error. A malformed response
// also produces the fallback, together with an error wrapping
// ErrMalformedResponse.
func (e *Enricher) Enrich(ctx context.Context, q Query) (Result, error) {
	fallback := Result{Metadata: Fallback(q)}

	term := q.Term()
	if term == "" {
		return fallback, nil
	}
	key := cacheKey(term)
	log := e.logger.WithField("term", term)

	if found, ok := e.fromCache(ctx, key); ok {
		log.Debug("Lookup served from cache")
		return e.merge(q, found), nil
	}

	value, err, shared := e.group.Do(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		resp, err := e.searcher.Search(lookupCtx, term)
		if err != nil {
			return nil, err
		}
		found := lookup{}
		if len(resp.Results) > 0 {
			r := resp.Results[0]
			found.Matched = true
			found.Metadata = Metadata{
				Title:  r.TrackName,
				Artist: r.ArtistName,
				Album:  r.CollectionName,
				Cover:  r.ArtworkURL100,
				URL:    r.TrackViewURL,
			}
			if r.TrackID != 0 {
				found.Metadata.ProviderID = strconv.FormatInt(r.TrackID, 10)
			}
		}
		e.toCache(lookupCtx, key, found)
		return found, nil
	})
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			log.WithError(err).Warn("Lookup returned a malformed response, using fallback")
			return fallback, err
		}
		log.WithError(err).Warn("Lookup failed, using fallback")
		fallback.Degraded = err
		return fallback, nil
	}

	found := value.(lookup)
	log.WithFields(logrus.Fields{
		"matched": found.Matched,
		"shared":  shared,
	}).Debug("Lookup completed")
	return e.merge(q, found), nil
}

func (e *Enricher) merge(q Query, found lookup) Result {
	if !found.Matched {
		return Result{Metadata: Fallback(q)}
	}
	md := found.Metadata
	fb := Fallback(q)
	if md.Title == "" {
		md.Title = fb.Title
	}
	if md.Artist == "" {
		md.Artist = fb.Artist
	}
	md.Cover = UpgradeCover(md.Cover, e.lowRes, e.highRes)
	return Result{Metadata: md, Matched: true}
}

func (e *Enricher) fromCache(ctx context.Context, key string) (lookup, bool) {
	data, ok, err := e.cache.Lookup(ctx, key)
	if err != nil {
		e.logger.WithError(err).Debug("Lookup cache read failed")
		return lookup{}, false
	}
	if !ok {
		return lookup{}, false
	}
	var found lookup
	if err := json.Unmarshal(data, &found); err != nil {
		return lookup{}, false
	}
	return found, true
}

func (e *Enricher) toCache(ctx context.Context, key string, found lookup) {
	data, err := json.Marshal(found)
	if err != nil {
		return
	}
	if err := e.cache.Store(ctx, key, data); err != nil {
		e.logger.WithError(err).Debug("Lookup cache write failed")
	}
}

func cacheKey(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), " ")
}

// NewFromConfig builds an iTunes-backed enricher from the lookup settings.
func NewFromConfig(cfg config.LookupConfig, store cache.Store, logger *logrus.Logger) (*Enricher, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client, err := NewClient(cfg.BaseURL,
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithCountry(cfg.Country),
		WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
	)
	if err != nil {
		return nil, err
	}
	return NewEnricher(client,
		WithCache(store),
		WithCoverTokens(cfg.LowResToken, cfg.HighResToken),
		WithTimeout(timeout),
		WithLogger(logger),
	), nil
}
