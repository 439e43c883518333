package snapshot

// ============================================================================
// Responsibilities:
// 1. Persist the hottest cached calculations as a JSON snapshot
// 2. Atomic writes (temp file + rename) so a crash never leaves a torn file
// 3. Validate the schema version on load
// 4. Feed cache warm-up on the next start
//
// Only inputs are stored. Results are recomputed on warm-up, so a snapshot
// written by an older calculator build never serves stale numbers.
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// SchemaVersion is the current snapshot layout.
const SchemaVersion = 1

// ============================================================================
// Errors
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// ============================================================================
// Data structures
// ============================================================================

// Entry is one hot calculation.
type Entry struct {
	Key         string        `json:"key"`
	Kind        string        `json:"kind"`
	Input       types.Payload `json:"input"`
	AccessCount int64         `json:"access_count"`
}

// Data is the on-disk snapshot.
type Data struct {
	SchemaVer int       `json:"schema_ver"`
	SavedAt   time.Time `json:"saved_at"`
	Entries   []Entry   `json:"entries"`
}

// Manager reads and writes one snapshot file.
type Manager struct {
	path string
	mu   sync.Mutex // serializes file operations
}

// NewManager creates a manager for path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// ============================================================================
// Core operations
// ============================================================================

// Write stores data atomically: the JSON goes to path.tmp first and is then
// renamed over the snapshot. SchemaVer and an unset SavedAt are filled in.
func (m *Manager) Write(data Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data.SchemaVer = SchemaVersion
	if data.SavedAt.IsZero() {
		data.SavedAt = time.Now().UTC()
	}
	if data.Entries == nil {
		data.Entries = []Entry{}
	}

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields empty data (first start).
func (m *Manager) Load() (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data Data

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Data{SchemaVer: SchemaVersion, Entries: []Entry{}}, nil
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	if data.Entries == nil {
		data.Entries = []Entry{}
	}
	return data, nil
}

// Exists reports whether the snapshot file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the snapshot path.
func (m *Manager) GetPath() string {
	return m.path
}
