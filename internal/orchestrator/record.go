package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Lifecycle state of a build.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// Reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Point-in-time snapshot of a build record, safe to retain and marshal.
//
// The log is a copy; mutating it does not affect the record.
type Build struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	ImageTag       string    `json:"imageTag"`
	ImageID        string    `json:"imageId,omitempty"`
	ImageSizeBytes int64     `json:"imageSizeBytes,omitempty"`
	Progress       int       `json:"progress"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt,omitzero"`
	Log            []string  `json:"-"`
}

// Authoritative state for one build attempt.
//
// Fields are guarded by mu. Transitions are compare-and-set so the
// lifecycle goroutine, cancellation, and timeout paths can race safely;
// exactly one caller wins the terminal transition.
type record struct {
	mu sync.Mutex

	id        string
	status    Status
	imageTag  string // Assigned at creation, never changes.
	imageID   string
	imageSize int64
	log       []string
	errText   string
	startedAt time.Time
	endedAt   time.Time

	workDir string             // Private working directory, removed on every terminal path.
	cancel  context.CancelFunc // Ends the lifecycle context; set before the record is published.
}

// Appends a log chunk in arrival order.
//
// Chunks arriving after the terminal transition are dropped; a terminal
// record never changes.
func (r *record) append(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return
	}
	r.log = append(r.log, chunk)
}

// Transitions the record from pending to building.
//
// Returns false when the record is no longer pending (cancelled during
// preparation), in which case the caller must abandon the build.
func (r *record) toBuilding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusPending {
		return false
	}
	r.status = StatusBuilding
	return true
}

// Transitions the record to failed with the given reason.
//
// Returns false when the record is already terminal; the first terminal
// transition wins and later ones are no-ops.
func (r *record) fail(now time.Time, reason error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	r.status = StatusFailed
	r.errText = reason.Error()
	r.endedAt = now
	return true
}

// Transitions the record from building to success, recording the image
// identity resolved by inspection.
func (r *record) succeed(now time.Time, imageID string, sizeBytes int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	r.status = StatusSuccess
	r.imageID = imageID
	r.imageSize = sizeBytes
	r.endedAt = now
	return true
}

// Returns the current status.
func (r *record) currentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Returns a consistent snapshot of the record with derived progress.
func (r *record) snapshot() Build {
	r.mu.Lock()
	defer r.mu.Unlock()

	logCopy := make([]string, len(r.log))
	copy(logCopy, r.log)

	return Build{
		ID:             r.id,
		Status:         r.status,
		ImageTag:       r.imageTag,
		ImageID:        r.imageID,
		ImageSizeBytes: r.imageSize,
		Progress:       progressFor(r.status, r.log),
		Error:          r.errText,
		StartedAt:      r.startedAt,
		EndedAt:        r.endedAt,
		Log:            logCopy,
	}
}

// Reports whether the record is terminal and ended before the cutoff.
func (r *record) expired(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Terminal() && !r.endedAt.IsZero() && r.endedAt.Before(cutoff)
}
