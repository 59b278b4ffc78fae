package rotation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LinePrompter asks questions on out and reads one line per answer from in.
// End of input counts as a "no".
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter wraps an input and output stream, normally stdin and stderr.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Ask implements Prompter.
func (p *LinePrompter) Ask(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if prompt.YesNo() {
		fmt.Fprintf(p.out, "\n%s [y/N]: ", prompt.Message)
	} else {
		fmt.Fprintf(p.out, "\n%s: ", prompt.Message)
	}

	// Read in the background so an interrupt is not stuck behind a blocking
	// terminal read.
	lines := make(chan lineResult, 1)
	go func() {
		response, err := p.in.ReadString('\n')
		lines <- lineResult{response, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case r := <-lines:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return "", fmt.Errorf("failed to read response: %w", r.err)
		}
		return strings.TrimSpace(r.line), nil
	}
}

type lineResult struct {
	line string
	err  error
}

// FlagPrompter answers from command-line flags for non-interactive runs:
// Yes answers every y/N question and Phrase answers the typed-phrase stage.
type FlagPrompter struct {
	Yes    bool
	Phrase string
}

// Ask implements Prompter.
func (p FlagPrompter) Ask(_ context.Context, prompt Prompt) (string, error) {
	if !prompt.YesNo() {
		return p.Phrase, nil
	}
	if p.Yes {
		return "yes", nil
	}
	return "no", nil
}

// ScriptedPrompter replays a fixed answer sequence and records the prompts it
// was shown. It fails once the script runs out.
type ScriptedPrompter struct {
	mu      sync.Mutex
	answers []string
	asked   []Prompt
}

// NewScriptedPrompter returns a prompter that answers with answers in order.
func NewScriptedPrompter(answers ...string) *ScriptedPrompter {
	return &ScriptedPrompter{answers: answers}
}

// Ask implements Prompter.
func (p *ScriptedPrompter) Ask(_ context.Context, prompt Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.asked = append(p.asked, prompt)
	if len(p.answers) == 0 {
		return "", fmt.Errorf("no scripted answer for %s", prompt.Stage)
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

// Stages returns the stages asked so far, in order.
func (p *ScriptedPrompter) Stages() []Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stage, 0, len(p.asked))
	for _, a := range p.asked {
		out = append(out, a.Stage)
	}
	return out
}
