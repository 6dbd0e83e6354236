// Package session tracks one end-to-end album build attempt per user, from
// start through download or failure. Sessions are advanced through a strict
// forward-only step sequence and own a scratch directory on disk.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/albumforge/albumforge/internal/matcher"
	"github.com/albumforge/albumforge/internal/recognize"
)

// Status is the lifecycle state of a session. Transitions are strictly
// forward; failed is terminal and carries an error string for display.
type Status string

const (
	StatusStarted            Status = "started"
	StatusReferencesUploaded Status = "references_uploaded"
	StatusEventsUploaded     Status = "events_uploaded"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// Step numbers in the client workflow.
const (
	StepReferences = 1 // awaiting reference photos
	StepEvents     = 2 // awaiting event photos
	StepBuild      = 3 // ready to build
)

func stepName(step int) string {
	switch step {
	case StepReferences:
		return "upload reference photos"
	case StepEvents:
		return "upload event photos"
	case StepBuild:
		return "build album"
	}
	return "unknown"
}

// StepError reports an operation attempted out of its required step. The
// message names the expected step so clients know what to do next.
type StepError struct {
	Current  int
	Required int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("session is at step %d (%s), this operation requires step %d (%s)",
		e.Current, stepName(e.Current), e.Required, stepName(e.Required))
}

// Session is one in-progress album build. All mutation goes through methods
// holding the internal mutex; the pipeline driver is the single writer, but
// status polls may read concurrently.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	WorkDir   string

	mu             sync.RWMutex
	step           int
	status         Status
	errMsg         string
	people         map[string]*recognize.Person
	eventPhotos    []string
	eventEmbedding map[string][]float32 // photo path -> whole-image embedding
	results        *matcher.Results
	zipPath        string
	buildSeconds   float64
}

// New creates a session for the given owner with a fresh scratch directory
// under baseDir. The session ID is the owner ID joined with the creation
// unix timestamp in nanoseconds.
func New(ownerID, baseDir string) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	// Nanosecond resolution so back-to-back creates by the same owner get
	// distinct IDs.
	id := fmt.Sprintf("%s_%d", ownerID, time.Now().UnixNano())

	workDir := filepath.Join(baseDir, "albumforge-"+id)
	for _, sub := range []string{"references", "events", "album"} {
		if err := os.MkdirAll(filepath.Join(workDir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("creating session work dir: %w", err)
		}
	}

	return &Session{
		ID:             id,
		OwnerID:        ownerID,
		CreatedAt:      time.Now(),
		WorkDir:        workDir,
		step:           StepReferences,
		status:         StatusStarted,
		people:         make(map[string]*recognize.Person),
		eventEmbedding: make(map[string][]float32),
	}, nil
}

// ReferenceDir is where preprocessed reference photos live.
func (s *Session) ReferenceDir() string { return filepath.Join(s.WorkDir, "references") }

// EventDir is where preprocessed event photos live.
func (s *Session) EventDir() string { return filepath.Join(s.WorkDir, "events") }

// AlbumDir is where the organizer materializes the album.
func (s *Session) AlbumDir() string { return filepath.Join(s.WorkDir, "album") }

// RequireStep returns a StepError when the session is not at the given step.
func (s *Session) RequireStep(step int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.step != step {
		return &StepError{Current: s.step, Required: step}
	}
	return nil
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Step returns the current workflow step.
func (s *Session) Step() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// SetReferences records the built reference people and advances to the
// event upload step.
func (s *Session) SetReferences(people map[string]*recognize.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepReferences {
		return &StepError{Current: s.step, Required: StepReferences}
	}
	if len(people) == 0 {
		return fmt.Errorf("at least one reference person is required")
	}
	s.people = people
	s.step = StepEvents
	s.status = StatusReferencesUploaded
	return nil
}

// SetEventPhotos records the preprocessed event photo paths (ordered) and
// advances to the build step.
func (s *Session) SetEventPhotos(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepEvents {
		return &StepError{Current: s.step, Required: StepEvents}
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one event photo is required")
	}
	s.eventPhotos = paths
	s.step = StepBuild
	s.status = StatusEventsUploaded
	return nil
}

// SetEventEmbedding records a whole-image embedding for one event photo,
// used for near-duplicate detection. Best effort; never gates the pipeline.
func (s *Session) SetEventEmbedding(path string, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventEmbedding[path] = embedding
}

// EventEmbeddings returns a copy of the whole-image embedding map.
func (s *Session) EventEmbeddings() map[string][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float32, len(s.eventEmbedding))
	for k, v := range s.eventEmbedding {
		out[k] = v
	}
	return out
}

// People returns the reference people keyed by name.
func (s *Session) People() map[string]*recognize.Person {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*recognize.Person, len(s.people))
	for k, v := range s.people {
		out[k] = v
	}
	return out
}

// EventPhotos returns the ordered preprocessed event photo paths.
func (s *Session) EventPhotos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.eventPhotos...)
}

// BeginBuild marks the session as processing. Only valid at the build step.
func (s *Session) BeginBuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepBuild {
		return &StepError{Current: s.step, Required: StepBuild}
	}
	if s.status == StatusProcessing {
		return fmt.Errorf("a build is already in progress for this session")
	}
	s.status = StatusProcessing
	return nil
}

// CompleteBuild records the matcher results and the exported ZIP; terminal
// success state.
func (s *Session) CompleteBuild(results *matcher.Results, zipPath string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = results
	s.zipPath = zipPath
	s.buildSeconds = elapsed.Seconds()
	s.status = StatusCompleted
}

// Fail marks the session failed with a display message. Terminal.
func (s *Session) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.errMsg = msg
}

// Results returns the matcher results, nil until the build completes.
func (s *Session) Results() *matcher.Results {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results
}

// ZipPath returns the exported archive path, empty until the build completes.
func (s *Session) ZipPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zipPath
}

// Snapshot is a point-in-time view of a session for status responses.
type Snapshot struct {
	ID              string         `json:"id"`
	Step            int            `json:"step"`
	Status          Status         `json:"status"`
	Error           string         `json:"error,omitempty"`
	ReferencePeople map[string]int `json:"reference_people,omitempty"` // name -> contributing photos
	EventPhotoCount int            `json:"event_photo_count"`
	MatchCounts     map[string]int `json:"match_counts,omitempty"` // person -> matched photos
	ProcessingTime  float64        `json:"processing_time_seconds,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Snapshot builds a consistent status view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:              s.ID,
		Step:            s.step,
		Status:          s.status,
		Error:           s.errMsg,
		EventPhotoCount: len(s.eventPhotos),
		ProcessingTime:  s.buildSeconds,
		CreatedAt:       s.CreatedAt,
	}
	if len(s.people) > 0 {
		snap.ReferencePeople = make(map[string]int, len(s.people))
		for name, p := range s.people {
			snap.ReferencePeople[name] = len(p.SourceFiles)
		}
	}
	if s.results != nil {
		snap.MatchCounts = make(map[string]int, len(s.results.People)+1)
		for name, matches := range s.results.People {
			snap.MatchCounts[name] = len(matches)
		}
		snap.MatchCounts[matcher.UnknownBucket] = len(s.results.Unknown)
	}
	return snap
}

// Cleanup removes the session scratch directory and the exported ZIP.
func (s *Session) Cleanup() error {
	s.mu.Lock()
	zipPath := s.zipPath
	s.mu.Unlock()

	if zipPath != "" {
		if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing archive: %w", err)
		}
	}
	if err := os.RemoveAll(s.WorkDir); err != nil {
		return fmt.Errorf("removing session work dir: %w", err)
	}
	return nil
}
