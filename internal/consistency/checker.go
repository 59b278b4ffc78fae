// Package consistency verifies that every store holding a copy of a secret
// agrees with the config record. It only reads.
package consistency

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/internal/metrics"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/secrets"
	"github.com/systmms/rekey/pkg/token"
)

// Invariant names, in the order they are checked.
const (
	RolePasswords   = "role-passwords"
	SigningSetting  = "signing-secret-setting"
	DerivedTokens   = "derived-tokens"
	EncryptionKeyID = "encryption-key"
)

// Outcome is the result of checking one invariant.
type Outcome int

const (
	Match Outcome = iota
	Mismatch
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "MATCH"
	case Mismatch:
		return "MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// Finding is the outcome for one invariant. Details explain a mismatch;
// Reason explains why the outcome is unknown.
type Finding struct {
	Invariant string
	Outcome   Outcome
	Details   []string
	Reason    string
}

// Report lists one finding per invariant.
type Report struct {
	CheckedAt time.Time
	Findings  []Finding
}

// Finding returns the finding for name.
func (r Report) Finding(name string) (Finding, bool) {
	for _, f := range r.Findings {
		if f.Invariant == name {
			return f, true
		}
	}
	return Finding{}, false
}

// OK reports whether every invariant matched.
func (r Report) OK() bool {
	for _, f := range r.Findings {
		if f.Outcome != Match {
			return false
		}
	}
	return true
}

// Err returns an InvariantViolation listing the mismatched invariants, or nil.
// Unknown findings are not violations.
func (r Report) Err() error {
	var v dserrors.InvariantViolation
	for _, f := range r.Findings {
		if f.Outcome != Mismatch {
			continue
		}
		v.Invariants = append(v.Invariants, f.Invariant)
		v.Details = append(v.Details, f.Details...)
	}
	if len(v.Invariants) == 0 {
		return nil
	}
	return &v
}

// Deps are the stores a Checker reads.
type Deps struct {
	Config   store.ConfigStore
	Database store.Database
	History  storage.Storage
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
	Now      func() time.Time
}

// Checker compares the config record with the backing stores.
type Checker struct {
	deps Deps
}

// New returns a checker.
func New(deps Deps) *Checker {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Checker{deps: deps}
}

// Verify checks every invariant. A store that cannot be read yields Unknown
// for the invariants depending on it; the other invariants are still checked.
func (c *Checker) Verify(ctx context.Context) Report {
	report := Report{CheckedAt: c.deps.Now()}

	m, err := c.deps.Config.Load()
	if err != nil {
		reason := fmt.Sprintf("cannot read %s: %v", c.deps.Config.Location(), err)
		for _, name := range []string{RolePasswords, SigningSetting, DerivedTokens, EncryptionKeyID} {
			report.Findings = append(report.Findings, Finding{Invariant: name, Outcome: Unknown, Reason: reason})
		}
	} else {
		report.Findings = []Finding{
			c.checkRoles(ctx, m),
			c.checkSetting(ctx, m),
			checkTokens(m),
			c.checkEncryptionKey(m),
		}
	}

	for _, f := range report.Findings {
		c.deps.Logger.Debug("Invariant %s: %s", f.Invariant, f.Outcome)
		c.deps.Metrics.RecordInvariant(f.Invariant, metricValue(f.Outcome))
	}
	c.deps.Metrics.RecordCheckRun(report.CheckedAt)
	return report
}

func metricValue(o Outcome) float64 {
	switch o {
	case Match:
		return metrics.InvariantMatch
	case Mismatch:
		return metrics.InvariantMismatch
	default:
		return metrics.InvariantUnknown
	}
}

// checkRoles logs in as every role with the configured password.
func (c *Checker) checkRoles(ctx context.Context, m secrets.Material) Finding {
	f := Finding{Invariant: RolePasswords}
	var unreachable []string
	for _, role := range c.deps.Database.Roles() {
		err := c.deps.Database.VerifyRoleLogin(ctx, role, m.Password)
		switch {
		case err == nil:
		case errors.Is(err, dserrors.ErrBackendUnreachable):
			unreachable = append(unreachable, role)
		default:
			f.Details = append(f.Details, fmt.Sprintf("role %s rejects the configured password", role))
			c.deps.Logger.Debug("Login as %s failed: %v", role, err)
		}
	}

	switch {
	case len(f.Details) > 0:
		f.Outcome = Mismatch
	case len(unreachable) > 0:
		f.Outcome = Unknown
		f.Reason = fmt.Sprintf("database unreachable while logging in as %v", unreachable)
	default:
		f.Outcome = Match
	}
	return f
}

func (c *Checker) checkSetting(ctx context.Context, m secrets.Material) Finding {
	f := Finding{Invariant: SigningSetting}
	value, err := c.deps.Database.ReadSetting(ctx)
	if err != nil {
		f.Outcome = Unknown
		f.Reason = fmt.Sprintf("cannot read %s: %v", c.deps.Database.SettingName(), err)
		return f
	}

	switch {
	case value == "":
		f.Outcome = Mismatch
		f.Details = []string{fmt.Sprintf("database setting %s is not set", c.deps.Database.SettingName())}
	case subtle.ConstantTimeCompare([]byte(value), []byte(m.SigningSecret)) != 1:
		f.Outcome = Mismatch
		f.Details = []string{fmt.Sprintf("database setting %s differs from the configured signing secret", c.deps.Database.SettingName())}
	default:
		f.Outcome = Match
	}
	return f
}

func checkTokens(m secrets.Material) Finding {
	f := Finding{Invariant: DerivedTokens}
	for _, role := range secrets.Roles() {
		value := m.Token(role)
		if value == "" {
			f.Details = append(f.Details, fmt.Sprintf("%s token is missing", role))
			continue
		}
		claims, err := token.Verify(value, m.SigningSecret)
		if err != nil {
			f.Details = append(f.Details, fmt.Sprintf("%s token does not verify under the configured signing secret", role))
			continue
		}
		if claims.Role != role {
			f.Details = append(f.Details, fmt.Sprintf("%s token carries role %q", role, claims.Role))
		}
	}
	if len(f.Details) > 0 {
		f.Outcome = Mismatch
	} else {
		f.Outcome = Match
	}
	return f
}

// checkEncryptionKey compares the current key with the fingerprint recorded
// when the encrypted subsystem was last initialised.
func (c *Checker) checkEncryptionKey(m secrets.Material) Finding {
	f := Finding{Invariant: EncryptionKeyID}
	if c.deps.History == nil {
		f.Outcome = Unknown
		f.Reason = "no rotation history available"
		return f
	}

	status, err := c.deps.History.GetStatus(secrets.EncryptionKey.String())
	switch {
	case errors.Is(err, storage.ErrNoStatus):
		f.Outcome = Unknown
		f.Reason = "no key fingerprint recorded; run 'rekey init' or rotate the encryption key"
		return f
	case err != nil:
		f.Outcome = Unknown
		f.Reason = fmt.Sprintf("cannot read rotation history: %v", err)
		return f
	case status.KeyFingerprint == "":
		f.Outcome = Unknown
		f.Reason = "no key fingerprint recorded; run 'rekey init' or rotate the encryption key"
		return f
	}

	if status.KeyFingerprint != secrets.Fingerprint(m.EncryptionKey) {
		f.Outcome = Mismatch
		f.Details = []string{"the configured encryption key is not the key the encrypted subsystem was initialised under"}
		return f
	}
	f.Outcome = Match
	return f
}
