package fakes

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/systmms/rekey/internal/services"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/secrets"
)

// FakeConfigStore is an in-memory store.ConfigStore.
type FakeConfigStore struct {
	mu sync.Mutex

	Material  secrets.Material
	Saves     int
	Snapshots []string

	LoadErr     error
	SaveErr     error
	SnapshotErr error
}

var _ store.ConfigStore = (*FakeConfigStore)(nil)

// Load implements store.ConfigStore.
func (f *FakeConfigStore) Load() (secrets.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Material, f.LoadErr
}

// Save implements store.ConfigStore.
func (f *FakeConfigStore) Save(m secrets.Material) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveErr != nil {
		return f.SaveErr
	}
	f.Material = m
	f.Saves++
	return nil
}

// Snapshot implements store.ConfigStore.
func (f *FakeConfigStore) Snapshot(label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SnapshotErr != nil {
		return "", f.SnapshotErr
	}
	path := "/snapshots/.env." + label + ".bak"
	f.Snapshots = append(f.Snapshots, path)
	return path, nil
}

// Location implements store.ConfigStore.
func (f *FakeConfigStore) Location() string { return "memory://.env" }

// FakeOrchestrator records service operations.
type FakeOrchestrator struct {
	mu    sync.Mutex
	calls []string

	// Errs maps a verb ("stop", "start", "restart") to the error it returns.
	Errs map[string]error
}

var _ services.Orchestrator = (*FakeOrchestrator)(nil)

// NewFakeOrchestrator returns an orchestrator where every call succeeds.
func NewFakeOrchestrator() *FakeOrchestrator {
	return &FakeOrchestrator{Errs: make(map[string]error)}
}

func (f *FakeOrchestrator) do(verb string, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(names) == 0 {
		return nil
	}
	f.calls = append(f.calls, verb+" "+strings.Join(names, " "))
	return f.Errs[verb]
}

// Stop implements services.Orchestrator.
func (f *FakeOrchestrator) Stop(_ context.Context, names ...string) error {
	return f.do("stop", names)
}

// Start implements services.Orchestrator.
func (f *FakeOrchestrator) Start(_ context.Context, names ...string) error {
	return f.do("start", names)
}

// Restart implements services.Orchestrator.
func (f *FakeOrchestrator) Restart(_ context.Context, names ...string) error {
	return f.do("restart", names)
}

// Calls returns the recorded operations, e.g. "restart auth rest".
func (f *FakeOrchestrator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeBackup is a services.Backup returning a fixed result.
type FakeBackup struct {
	mu sync.Mutex

	Enabled  bool
	Path     string
	Err      error
	Triggers int
}

var _ services.Backup = (*FakeBackup)(nil)

// NewFakeBackup returns a configured backup that succeeds.
func NewFakeBackup() *FakeBackup {
	return &FakeBackup{Enabled: true, Path: "/backups/db.sql.gz"}
}

// Configured implements services.Backup.
func (f *FakeBackup) Configured() bool { return f.Enabled }

// Trigger implements services.Backup.
func (f *FakeBackup) Trigger(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Enabled {
		return "", services.ErrBackupNotConfigured
	}
	f.Triggers++
	if f.Err != nil {
		return "", f.Err
	}
	if f.Path == "" {
		return "", errors.New("backup produced no file")
	}
	return f.Path, nil
}
