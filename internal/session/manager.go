package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archivescan/pipeline/constants"
	"github.com/archivescan/pipeline/internal/common"
)

// Manager owns the on-disk session tree and the in-memory registry.
// The registry map is never handed out; callers go through Get/List.
type Manager struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		return nil, common.WrapError(common.ErrInvalidInput, "session storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("session root: %w", err)
	}
	return &Manager{
		root:     root,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Create allocates a new session with its directory tree and persists the
// initial metadata document.
func (m *Manager) Create() (*Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		Status:       constants.StatusCreated,
		CurrentStage: constants.StageUploading,
		Stats:        make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
		Dir:          filepath.Join(m.root, id),
	}

	for _, dir := range []string{s.Dir, s.UploadsDir(), s.ProcessedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session dirs: %w", err)
		}
	}
	if err := m.Save(s); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session.created", "session_id", id, "dir", s.Dir)
	return s, nil
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, common.ErrNotFound)
	}
	return s, nil
}

// List returns snapshots of every registered session, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps
}

// Save writes the metadata document atomically: temp file then rename.
func (m *Manager) Save(s *Session) error {
	snap := s.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, MetadataFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("session metadata temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session metadata: %w", err)
	}
	if err := os.Rename(tmpName, s.MetadataPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session metadata: %w", err)
	}
	return nil
}

// Load reads a session's metadata from disk and registers it.
func (m *Manager) Load(id string) (*Session, error) {
	dir := filepath.Join(m.root, id)
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse session metadata: %w", err)
	}

	s := &Session{
		ID:              snap.ID,
		Status:          snap.Status,
		CurrentStage:    snap.CurrentStage,
		CompletedStages: snap.CompletedStages,
		Stats:           snap.Stats,
		Error:           snap.Error,
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       snap.UpdatedAt,
		Dir:             dir,
	}
	if s.Stats == nil {
		s.Stats = make(map[string]any)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Delete removes the session from the registry and its files from disk.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, common.ErrNotFound)
	}

	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	m.logger.Info("session.deleted", "session_id", id)
	return nil
}

// ExpireSweep evicts every session older than timeout. The registry lock is
// held only while snapshotting candidates; disk removal runs unlocked so a
// slow delete does not stall session creation.
func (m *Manager) ExpireSweep(now time.Time, timeout time.Duration) int {
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if now.Sub(s.Snapshot().CreatedAt) > timeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range expired {
		if err := m.Delete(id); err != nil {
			m.logger.Error("session.expire_failed", "session_id", id, "error", err)
			continue
		}
		m.logger.Info("session.expired", "session_id", id)
		removed++
	}
	return removed
}

// ScanExisting loads every session directory under the root. A session that
// was mid-stage when the process died (status still processing, current
// stage not completed) is transitioned to error so its state is explicit
// rather than silently stale.
func (m *Manager) ScanExisting() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("scan session root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := m.Load(e.Name())
		if err != nil {
			m.logger.Warn("session.scan_skipped", "dir", e.Name(), "error", err)
			continue
		}

		snap := s.Snapshot()
		if snap.Status == constants.StatusProcessing && !s.StageCompleted(snap.CurrentStage) {
			s.Fail(fmt.Sprintf("interrupted during %s", snap.CurrentStage))
			if err := m.Save(s); err != nil {
				m.logger.Error("session.scan_save_failed", "session_id", s.ID, "error", err)
				continue
			}
			m.logger.Warn("session.interrupted", "session_id", s.ID, "stage", snap.CurrentStage)
		}
	}
	return nil
}
