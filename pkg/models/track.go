package models

import "time"

// Track represents one registered audio track in the fingerprint store.
// The ID is the store key and is not repeated inside the serialized value.
type Track struct {
	ID          string    `json:"-"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album"`
	Cover       string    `json:"cover"`
	URL         string    `json:"url"`
	Fingerprint []float64 `json:"fingerprint"`
}

// Collection is the full id -> track mapping persisted by the store.
type Collection map[string]Track

// Clone returns a deep copy so callers can mutate without touching the source.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for id, track := range c {
		track.Fingerprint = append([]float64(nil), track.Fingerprint...)
		out[id] = track
	}
	return out
}

// WithID returns the track with its ID populated from the store key.
func (c Collection) WithID(id string) (Track, bool) {
	track, ok := c[id]
	if !ok {
		return Track{}, false
	}
	track.ID = id
	return track, true
}

// JobStatus represents the stage a registration job has reached
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAcquiring  JobStatus = "acquiring"
	JobExtracting JobStatus = "extracting"
	JobEnriching  JobStatus = "enriching"
	JobStoring    JobStatus = "storing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed
}

// Job records the history of one registration attempt
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"` // "url" or "upload"
	Source      string     `json:"source"`
	Title       string     `json:"title,omitempty"`
	Artist      string     `json:"artist,omitempty"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	TrackID     string     `json:"trackId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
