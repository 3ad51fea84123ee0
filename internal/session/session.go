package session

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/archivescan/pipeline/constants"
	"github.com/archivescan/pipeline/internal/common"
)

// MetadataFile is the per-session metadata document inside the session dir.
const MetadataFile = "session_metadata.json"

// Session is one pipeline run. All mutation goes through methods holding
// the session mutex; readers take a Snapshot.
type Session struct {
	mu sync.Mutex

	ID              string                  `json:"session_id"`
	Status          constants.SessionStatus `json:"status"`
	CurrentStage    constants.Stage         `json:"current_stage"`
	CompletedStages []constants.Stage       `json:"completed_stages"`
	Stats           map[string]any          `json:"stats"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`

	// Dir is derived from the storage root at load time, never persisted.
	Dir string `json:"-"`
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	ID              string                  `json:"session_id"`
	Status          constants.SessionStatus `json:"status"`
	CurrentStage    constants.Stage         `json:"current_stage"`
	CompletedStages []constants.Stage       `json:"completed_stages"`
	Stats           map[string]any          `json:"stats"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]any, len(s.Stats))
	for k, v := range s.Stats {
		stats[k] = v
	}
	return Snapshot{
		ID:              s.ID,
		Status:          s.Status,
		CurrentStage:    s.CurrentStage,
		CompletedStages: slices.Clone(s.CompletedStages),
		Stats:           stats,
		Error:           s.Error,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// UploadsDir holds the submitted archive.
func (s *Session) UploadsDir() string { return filepath.Join(s.Dir, "uploads") }

// ProcessedDir holds unit directories and generated artifacts.
func (s *Session) ProcessedDir() string { return filepath.Join(s.Dir, "processed") }

// MetadataPath is the on-disk location of the metadata document.
func (s *Session) MetadataPath() string { return filepath.Join(s.Dir, MetadataFile) }

// SetStage records the stage about to run.
func (s *Session) SetStage(stage constants.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = constants.StatusProcessing
	s.CurrentStage = stage
	s.touch()
}

// CompleteStage appends stage to the completed list.
func (s *Session) CompleteStage(stage constants.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.CompletedStages, stage) {
		s.CompletedStages = append(s.CompletedStages, stage)
	}
	s.touch()
}

// SetStatus moves the session to a new lifecycle status.
func (s *Session) SetStatus(status constants.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.touch()
}

// Fail marks the session failed with a reason.
func (s *Session) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = constants.StatusError
	s.Error = msg
	s.touch()
}

// EnsureReviewReady gates result delivery: it returns ErrNotReady until
// the session has reached review_ready.
func (s *Session) EnsureReviewReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != constants.StatusReviewReady {
		return fmt.Errorf("session %s in status %s: %w", s.ID, s.Status, common.ErrNotReady)
	}
	return nil
}

// SetStat records one stats entry.
func (s *Session) SetStat(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Stats == nil {
		s.Stats = make(map[string]any)
	}
	s.Stats[key] = value
	s.touch()
}

// StageCompleted reports whether stage is in the completed list.
func (s *Session) StageCompleted(stage constants.Stage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.CompletedStages, stage)
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
