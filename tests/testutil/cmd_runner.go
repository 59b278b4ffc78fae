// Package testutil provides testing utilities for rekey.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/systmms/rekey/pkg/exec"
)

// MockRunner is a configurable exec.CommandRunner for tests.
type MockRunner struct {
	mu sync.Mutex

	// Responses maps command prefixes to results.
	// Key format: "command arg1 arg2" (space-separated command and args)
	Responses map[string]exec.Result

	// DefaultResult is used when no prefix matches. The zero Result is a
	// successful run with no output.
	DefaultResult exec.Result

	// RecordedCalls stores every command line, space-joined.
	RecordedCalls []string

	// OnRun, when set, runs before the response is chosen. Tests use it to
	// create files a real command would have produced.
	OnRun func(cmdline string)
}

// NewMockRunner creates a runner that succeeds for every command.
func NewMockRunner() *MockRunner {
	return &MockRunner{Responses: make(map[string]exec.Result)}
}

// Run implements exec.CommandRunner.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) exec.Result {
	key := name
	if len(args) > 0 {
		key = name + " " + strings.Join(args, " ")
	}

	m.mu.Lock()
	m.RecordedCalls = append(m.RecordedCalls, key)
	onRun := m.OnRun
	m.mu.Unlock()

	if onRun != nil {
		onRun(key)
	}
	if err := ctx.Err(); err != nil {
		return exec.Result{ExitCode: -1, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Longest matching prefix wins so specific responses override general ones.
	best, found := "", false
	for pattern := range m.Responses {
		if strings.HasPrefix(key, pattern) && len(pattern) >= len(best) {
			best, found = pattern, true
		}
	}
	if found {
		return m.Responses[best]
	}
	return m.DefaultResult
}

// AddResponse registers a result for commands starting with prefix.
func (m *MockRunner) AddResponse(prefix string, res exec.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[prefix] = res
}

// AddFailure registers a non-zero exit with stderr for prefix.
func (m *MockRunner) AddFailure(prefix string, exitCode int, stderr string) {
	m.AddResponse(prefix, exec.Result{ExitCode: exitCode, Stderr: []byte(stderr)})
}

// Calls returns a copy of every recorded command line.
func (m *MockRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.RecordedCalls...)
}

// CallsContaining returns the recorded command lines containing substr.
func (m *MockRunner) CallsContaining(substr string) []string {
	var out []string
	for _, c := range m.Calls() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}
