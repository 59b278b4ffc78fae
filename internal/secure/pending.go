package secure

import (
	"fmt"
	"sync"
)

// Pending holds freshly generated secret values between generation and the
// moment they are written to the stores. Values stay sealed while the
// operator works through confirmation prompts.
type Pending struct {
	mu      sync.Mutex
	buffers map[string]*SecureBuffer
}

// NewPending returns an empty holder.
func NewPending() *Pending {
	return &Pending{buffers: make(map[string]*SecureBuffer)}
}

// Put seals value under name, replacing any earlier value.
func (p *Pending) Put(name, value string) error {
	buf, err := NewSecureBuffer([]byte(value))
	if err != nil {
		return fmt.Errorf("seal %s: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.buffers[name]; ok {
		old.Destroy()
	}
	p.buffers[name] = buf
	return nil
}

// Reveal returns the plaintext for name. The returned string is an ordinary
// Go string; callers should keep it only as long as the store write needs it.
func (p *Pending) Reveal(name string) (string, error) {
	p.mu.Lock()
	buf, ok := p.buffers[name]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no pending value for %s", name)
	}

	locked, err := buf.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Destroy discards every held value.
func (p *Pending) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, buf := range p.buffers {
		buf.Destroy()
		delete(p.buffers, name)
	}
}
