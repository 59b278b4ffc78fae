// Package secretgen produces the random material for every secret class.
package secretgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/pkg/secrets"
)

// minEntropyBytes is the smallest read per generated value (192 bits).
const minEntropyBytes = 24

// maxRefills bounds how often Generate tops up after filtering. Hitting it
// means the source is returning garbage.
const maxRefills = 8

// Generator draws secret material from a cryptographically secure source.
type Generator struct {
	source io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{source: rand.Reader}
}

// NewWithSource returns a generator reading from r. Tests use this to simulate
// a failing entropy source; production code must pass crypto/rand.Reader.
func NewWithSource(r io.Reader) *Generator {
	return &Generator{source: r}
}

// Generate returns a fresh value for class: base64 of the random bytes with
// '/', '+' and '=' removed, truncated to the class length.
func (g *Generator) Generate(class secrets.Class) (string, error) {
	length := class.Length()

	// base64 yields 4 chars per 3 bytes; read enough that the filtered output
	// almost always covers length in one pass.
	n := (length*3)/4 + length/2
	if n < minEntropyBytes {
		n = minEntropyBytes
	}

	var out strings.Builder
	for attempt := 0; out.Len() < length; attempt++ {
		if attempt > maxRefills {
			return "", fmt.Errorf("%w: could not fill %d characters", dserrors.ErrEntropySourceUnavailable, length)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(g.source, buf); err != nil {
			return "", fmt.Errorf("%w: %v", dserrors.ErrEntropySourceUnavailable, err)
		}
		for _, r := range base64.StdEncoding.EncodeToString(buf) {
			if r == '/' || r == '+' || r == '=' {
				continue
			}
			out.WriteRune(r)
		}
	}

	return out.String()[:length], nil
}

// GenerateAll returns one value per class.
func (g *Generator) GenerateAll(classes ...secrets.Class) (map[secrets.Class]string, error) {
	values := make(map[secrets.Class]string, len(classes))
	for _, c := range classes {
		v, err := g.Generate(c)
		if err != nil {
			return nil, err
		}
		values[c] = v
	}
	return values, nil
}
