package rotation

import (
	"context"
	"fmt"
	"strings"

	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/pkg/secrets"
)

// Typed phrases required before the two session- or data-destroying
// rotations. They differ so one cannot be pasted into the other's prompt.
const (
	SigningSecretPhrase = "ROTATE SIGNING SECRET"
	EncryptionKeyPhrase = "DESTROY ENCRYPTED DATA"
)

// Stage is a state of the confirmation machine.
type Stage int

const (
	AwaitingConfirmation Stage = iota
	AwaitingBackupChoice
	AwaitingLossAck
	AwaitingRegenerabilityAck
	AwaitingTypedPhrase
	Executing
)

func (s Stage) String() string {
	switch s {
	case AwaitingConfirmation:
		return "AwaitingConfirmation"
	case AwaitingBackupChoice:
		return "AwaitingBackupChoice"
	case AwaitingLossAck:
		return "AwaitingLossAck"
	case AwaitingRegenerabilityAck:
		return "AwaitingRegenerabilityAck"
	case AwaitingTypedPhrase:
		return "AwaitingTypedPhrase"
	case Executing:
		return "Executing"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Prompt is one question put to the operator.
type Prompt struct {
	Stage   Stage
	Class   secrets.Class
	Message string
	// Phrase is set for AwaitingTypedPhrase: the answer must equal it exactly.
	Phrase string
}

// YesNo reports whether the prompt expects a y/N answer.
func (p Prompt) YesNo() bool {
	return p.Phrase == ""
}

// Prompter supplies operator answers. Implementations decide where answers
// come from: a terminal, command-line flags, or a test script.
type Prompter interface {
	Ask(ctx context.Context, p Prompt) (string, error)
}

// Decision is the outcome of a completed confirmation run.
type Decision struct {
	Backup bool
}

// stagesFor returns the confirmation stages for a class, in order.
func stagesFor(class secrets.Class) []Stage {
	switch class {
	case secrets.SigningSecret:
		return []Stage{AwaitingBackupChoice, AwaitingLossAck, AwaitingTypedPhrase}
	case secrets.EncryptionKey:
		return []Stage{AwaitingBackupChoice, AwaitingLossAck, AwaitingRegenerabilityAck, AwaitingTypedPhrase}
	default:
		return []Stage{AwaitingConfirmation}
	}
}

// PhraseFor returns the typed phrase a class requires, or "".
func PhraseFor(class secrets.Class) string {
	switch class {
	case secrets.SigningSecret:
		return SigningSecretPhrase
	case secrets.EncryptionKey:
		return EncryptionKeyPhrase
	}
	return ""
}

func promptFor(stage Stage, class secrets.Class, backupDesc string) Prompt {
	p := Prompt{Stage: stage, Class: class}
	switch stage {
	case AwaitingConfirmation:
		p.Message = fmt.Sprintf("Rotate the %s now? Dependent services will restart.", class.Title())
	case AwaitingBackupChoice:
		p.Message = fmt.Sprintf("Take a database backup (%s) before rotating?", backupDesc)
	case AwaitingLossAck:
		if class == secrets.EncryptionKey {
			p.Message = "All data encrypted under the current key will be PERMANENTLY DELETED. A backup cannot restore it under the new key. Continue?"
		} else {
			p.Message = "Every issued token (anon, service_role and all user sessions) becomes invalid immediately. Continue?"
		}
	case AwaitingRegenerabilityAck:
		p.Message = "Confirm the encrypted data can be recreated from outside this deployment (for example pooler tenants re-registered by the stack on start)."
	case AwaitingTypedPhrase:
		p.Phrase = PhraseFor(class)
		p.Message = fmt.Sprintf("Type %q to proceed", p.Phrase)
	}
	return p
}

// confirm drives the confirmation machine from its first stage for class to
// Executing. Any declined stage returns ErrConfirmationDeclined. Declining the
// backup also aborts: the destructive classes only run without a backup when
// skipBackup is set, in which case the stage is passed without asking.
func confirm(ctx context.Context, class secrets.Class, prompter Prompter, backupDesc string, skipBackup bool) (Decision, error) {
	var d Decision
	if prompter == nil {
		return d, fmt.Errorf("no prompter configured")
	}

	for _, stage := range stagesFor(class) {
		if stage == AwaitingBackupChoice && skipBackup {
			continue
		}
		if err := ctx.Err(); err != nil {
			return d, err
		}

		p := promptFor(stage, class, backupDesc)
		answer, err := prompter.Ask(ctx, p)
		if err != nil {
			return d, fmt.Errorf("%s: %w", stage, err)
		}

		if p.YesNo() {
			if !IsYes(answer) {
				if stage == AwaitingBackupChoice {
					return d, fmt.Errorf("%s: a backup is required for this rotation (pass --skip-backup to rotate without one): %w",
						stage, dserrors.ErrConfirmationDeclined)
				}
				return d, fmt.Errorf("%s: %w", stage, dserrors.ErrConfirmationDeclined)
			}
			if stage == AwaitingBackupChoice {
				d.Backup = true
			}
			continue
		}

		if strings.TrimSpace(answer) != p.Phrase {
			return d, fmt.Errorf("%s: phrase did not match: %w", stage, dserrors.ErrConfirmationDeclined)
		}
	}
	return d, nil
}

// IsYes reports whether answer is an affirmative y/N reply.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
