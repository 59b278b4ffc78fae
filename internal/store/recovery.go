package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// WriteRecovery saves values that reached some stores but not the config
// record, so an interrupted rotation can be finished by hand. The file is
// dotenv formatted, mode 0600, and named <label>.<UTC timestamp>.env under dir.
func WriteRecovery(dir, label string, values map[string]string, now time.Time) (string, error) {
	content, err := godotenv.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to render recovery values: %w", err)
	}

	stamp := now.UTC().Format("20060102T150405Z")
	path := filepath.Join(dir, fmt.Sprintf("%s.%s.env", label, stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s.%s-%d.env", label, stamp, i))
	}

	if err := WriteFileAtomic(path, []byte(content+"\n"), 0600); err != nil {
		return "", err
	}
	return path, nil
}
