package domain

import "time"

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindPreview JobKind = "preview"
	JobKindRefine  JobKind = "refine"
	JobKindSkybox  JobKind = "skybox"
)

// Job tracks an in-flight generation task for rate-limit bookkeeping. The
// authoritative task state lives with the external provider and is re-fetched
// on every poll; nothing here caches intermediate status.
type Job struct {
	TaskID      string
	Kind        JobKind
	ClientID    string
	SubmittedAt time.Time
}

// ResultPayload collects every asset URL field the providers are known to
// emit on a successful task. Fields are empty when the provider omitted them.
type ResultPayload struct {
	// ModelGLB is the binary model URL, preferred for 3D results.
	ModelGLB string
	// ModelSource is the generic source-file URL fallback.
	ModelSource string
	// FileURL is the skybox image URL.
	FileURL string
	ThumbnailURL string
}

// Asset is the normalized, directly-fetchable result of a finished job.
type Asset struct {
	AssetURL     string
	ThumbnailURL string
}

// Snapshot is one observation of a task's lifecycle, as reported by the
// provider at poll time.
type Snapshot struct {
	TaskID        string
	State         State
	Progress      int
	QueuePosition int
	ErrorMessage  string
	Payload       ResultPayload
}
