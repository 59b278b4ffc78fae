package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/rekey/internal/logging"
)

// LogCapture is a logging.Logger writing to an in-memory buffer, so tests
// can check what an operator would have seen.
//
//	logs := testutil.NewLogCapture(t)
//	run(logs.Logger)
//	logs.AssertContains(t, "rotation complete")
type LogCapture struct {
	*logging.Logger
	buf *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewLogCapture returns a capture with debug output enabled and colour off.
func NewLogCapture(t *testing.T) *LogCapture {
	t.Helper()
	buf := &syncBuffer{}
	return &LogCapture{
		Logger: logging.NewWithWriter(buf, true, true),
		buf:    buf,
	}
}

// Output returns everything logged so far.
func (l *LogCapture) Output() string {
	return l.buf.String()
}

// Lines returns the logged lines.
func (l *LogCapture) Lines() []string {
	out := strings.TrimRight(l.Output(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// AssertContains checks that substr was logged.
func (l *LogCapture) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.Output(), substr)
}

// AssertNotContains checks that substr was never logged.
func (l *LogCapture) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.Output(), substr)
}
