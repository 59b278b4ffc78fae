package store

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/systmms/rekey/internal/config"
	"github.com/systmms/rekey/pkg/secrets"
)

// EnvFile is the ConfigStore backed by a dotenv file.
type EnvFile struct {
	path      string
	backupDir string
	keys      config.KeyNames
	now       func() time.Time
}

// NewEnvFile returns a store for path. Snapshots are written to backupDir.
func NewEnvFile(path, backupDir string, keys config.KeyNames) *EnvFile {
	return &EnvFile{
		path:      path,
		backupDir: backupDir,
		keys:      keys,
		now:       time.Now,
	}
}

// Location returns the file path.
func (e *EnvFile) Location() string {
	return e.path
}

// Read parses the whole file. A missing file reads as empty.
func (e *EnvFile) Read() (map[string]string, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", e.path, err)
	}
	values, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.path, err)
	}
	return values, nil
}

// Get returns one value and whether it is present.
func (e *EnvFile) Get(name string) (string, bool, error) {
	values, err := e.Read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[name]
	return v, ok, nil
}

// Load implements ConfigStore.
func (e *EnvFile) Load() (secrets.Material, error) {
	values, err := e.Read()
	if err != nil {
		return secrets.Material{}, err
	}
	return secrets.Material{
		Password:      values[e.keys.Password],
		SigningSecret: values[e.keys.SigningSecret],
		EncryptionKey: values[e.keys.EncryptionKey],
		AnonToken:     values[e.keys.AnonToken],
		ServiceToken:  values[e.keys.ServiceToken],
	}, nil
}

// Save implements ConfigStore.
func (e *EnvFile) Save(m secrets.Material) error {
	return e.Write(map[string]string{
		e.keys.Password:      m.Password,
		e.keys.SigningSecret: m.SigningSecret,
		e.keys.EncryptionKey: m.EncryptionKey,
		e.keys.AnonToken:     m.AnonToken,
		e.keys.ServiceToken:  m.ServiceToken,
	})
}

// envAssignment captures the leading "export " prefix, if any, and the key.
var envAssignment = regexp.MustCompile(`^(\s*(?:export\s+)?)([A-Za-z_][A-Za-z0-9_.]*)\s*=`)

// Write sets the given keys in one atomic replace. Lines for other keys,
// comments and blank lines are kept as they are; existing assignments are
// rewritten in place and new keys are appended.
func (e *EnvFile) Write(values map[string]string) error {
	original, err := os.ReadFile(e.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	perm := os.FileMode(0600)
	if info, statErr := os.Stat(e.path); statErr == nil {
		perm = info.Mode().Perm()
	}

	var out strings.Builder
	written := make(map[string]bool, len(values))
	if len(original) > 0 {
		lines := strings.Split(strings.TrimRight(string(original), "\n"), "\n")
		for _, line := range lines {
			m := envAssignment.FindStringSubmatch(line)
			if m != nil {
				prefix, key := m[1], m[2]
				if v, ok := values[key]; ok {
					if written[key] {
						continue // drop duplicate assignments of a managed key
					}
					rendered, err := renderLine(key, v)
					if err != nil {
						return err
					}
					out.WriteString(prefix)
					out.WriteString(rendered)
					out.WriteByte('\n')
					written[key] = true
					continue
				}
			}
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}

	// Appended keys follow a stable order so repeated writes are identical.
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if written[key] {
			continue
		}
		rendered, err := renderLine(key, values[key])
		if err != nil {
			return err
		}
		out.WriteString(rendered)
		out.WriteByte('\n')
	}

	// Refuse to write something godotenv cannot read back.
	if _, err := godotenv.Parse(strings.NewReader(out.String())); err != nil {
		return fmt.Errorf("refusing to write unparsable %s: %w", e.path, err)
	}

	return WriteFileAtomic(e.path, []byte(out.String()), perm)
}

// Snapshot implements ConfigStore. The backup is named
// <file>.<UTC timestamp>.<label>.bak.
func (e *EnvFile) Snapshot(label string) (string, error) {
	src, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open %s: %w", e.path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(e.backupDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	stamp := e.now().UTC().Format("20060102T150405Z")
	var (
		dst string
		f   *os.File
	)
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s.%s.%s.bak", filepath.Base(e.path), stamp, label)
		if i > 0 {
			name = fmt.Sprintf("%s.%s-%d.%s.bak", filepath.Base(e.path), stamp, i, label)
		}
		dst = filepath.Join(e.backupDir, name)
		f, err = os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			break
		}
		if !os.IsExist(err) || i >= 100 {
			return "", fmt.Errorf("failed to create snapshot: %w", err)
		}
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return dst, nil
}

func renderLine(key, value string) (string, error) {
	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", key, err)
	}
	return line, nil
}
