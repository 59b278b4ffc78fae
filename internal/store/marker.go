package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerInfo is the content of the bootstrap-complete marker.
type MarkerInfo struct {
	InitializedAt time.Time `json:"initialized_at"`
	ConfigPath    string    `json:"config_path"`
	Generated     []string  `json:"generated,omitempty"`
	TokensMinted  bool      `json:"tokens_minted"`
	DataCleared   bool      `json:"data_cleared"`
}

// Marker records that bootstrap completed. It lives next to, never inside,
// the config record.
type Marker struct {
	path string
}

// NewMarker returns the marker stored in stateDir.
func NewMarker(stateDir string) *Marker {
	return &Marker{path: filepath.Join(stateDir, "initialized.json")}
}

// Path returns the marker file path.
func (m *Marker) Path() string {
	return m.path
}

// Exists reports whether bootstrap has completed.
func (m *Marker) Exists() (bool, error) {
	_, err := os.Stat(m.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check marker %s: %w", m.path, err)
}

// Read returns the marker content.
func (m *Marker) Read() (*MarkerInfo, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read marker: %w", err)
	}
	var info MarkerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse marker %s: %w", m.path, err)
	}
	return &info, nil
}

// Write creates or replaces the marker.
func (m *Marker) Write(info MarkerInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	return WriteFileAtomic(m.path, data, 0600)
}
