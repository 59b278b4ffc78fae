package storage

import (
	"errors"
	"time"
)

// ErrNoStatus is returned by GetStatus for a class that was never bootstrapped
// or rotated.
var ErrNoStatus = errors.New("no rotation status recorded")

// Storage defines the interface for rotation metadata storage
type Storage interface {
	// SaveStatus saves the current rotation status for a secret class
	SaveStatus(status *RotationStatus) error

	// GetStatus retrieves the current rotation status for a secret class
	GetStatus(class string) (*RotationStatus, error)

	// SaveHistory saves a rotation history entry
	SaveHistory(entry *HistoryEntry) error

	// GetHistory retrieves rotation history for a secret class, newest first
	GetHistory(class string, limit int) ([]HistoryEntry, error)

	// GetAllHistory retrieves rotation history for all classes, newest first
	GetAllHistory(limit int) ([]HistoryEntry, error)

	// CleanupOldEntries removes history entries older than the specified duration
	CleanupOldEntries(olderThan time.Duration) error
}

// Status values
const (
	StatusActive  = "active"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// Actions recorded in history
const (
	ActionBootstrap = "bootstrap"
	ActionRotate    = "rotate"
)

// RotationStatus is the current state of one secret class. Epoch starts at 1
// when the deployment is bootstrapped and increments on every completed
// rotation.
type RotationStatus struct {
	Class         string    `json:"class"`
	Status        string    `json:"status"`
	Epoch         int       `json:"epoch"`
	LastRotation  time.Time `json:"last_rotation"`
	LastResult    string    `json:"last_result"`
	LastError     string    `json:"last_error,omitempty"`
	RotationCount int       `json:"rotation_count"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`

	// KeyFingerprint identifies the value the encrypted subsystem was last
	// initialised under. Only set for the encryption key class.
	KeyFingerprint string `json:"key_fingerprint,omitempty"`
}

// HistoryEntry represents a single bootstrap or rotation event
type HistoryEntry struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Class       string        `json:"class"`
	Action      string        `json:"action"`
	Status      string        `json:"status"`
	Epoch       int           `json:"epoch"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	User        string        `json:"user,omitempty"`
	BackupPath  string        `json:"backup_path,omitempty"`
	Snapshot    string        `json:"snapshot,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Steps       []StepResult  `json:"steps,omitempty"`
}

// StepResult represents the result of a single store write
type StepResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
