// Package secrets defines the fixed secret set managed by rekey: the three
// generated secret classes, the two derived tokens, and the helpers used to
// decide whether a stored value is still a placeholder.
package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Class identifies a kind of generated secret. Each class has its own length
// and its own rotation blast radius.
type Class string

const (
	// Password is replicated across the database roles.
	Password Class = "password"
	// SigningSecret is the HMAC key the derived tokens are signed with.
	SigningSecret Class = "signing_secret"
	// EncryptionKey is trusted implicitly by the encrypted subsystem.
	EncryptionKey Class = "encryption_key"
)

// Classes returns the secret classes in bootstrap order.
func Classes() []Class {
	return []Class{Password, SigningSecret, EncryptionKey}
}

// Length returns the number of characters a generated value of this class has.
func (c Class) Length() int {
	if c == SigningSecret {
		return 48
	}
	return 32
}

// String returns the class name.
func (c Class) String() string {
	return string(c)
}

// Title returns a human readable name.
func (c Class) Title() string {
	switch c {
	case Password:
		return "database password"
	case SigningSecret:
		return "token signing secret"
	case EncryptionKey:
		return "encryption key"
	default:
		return string(c)
	}
}

// ParseClass accepts the canonical names plus a few operator-friendly aliases.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "password", "db-password", "postgres-password":
		return Password, nil
	case "signing_secret", "signing-secret", "jwt", "jwt-secret", "jwt_secret":
		return SigningSecret, nil
	case "encryption_key", "encryption-key", "enc-key", "vault-key":
		return EncryptionKey, nil
	}
	return "", fmt.Errorf("unknown secret class %q (expected password, signing-secret or encryption-key)", s)
}

// Role is the role claim carried by a derived token.
type Role string

const (
	Anon        Role = "anon"
	ServiceRole Role = "service_role"
)

// Roles returns the token roles in minting order.
func Roles() []Role {
	return []Role{Anon, ServiceRole}
}

// Material is the full secret set as held by the config store.
type Material struct {
	Password      string
	SigningSecret string
	EncryptionKey string
	AnonToken     string
	ServiceToken  string
}

// Secret returns the value for a class.
func (m Material) Secret(c Class) string {
	switch c {
	case Password:
		return m.Password
	case SigningSecret:
		return m.SigningSecret
	case EncryptionKey:
		return m.EncryptionKey
	}
	return ""
}

// SetSecret replaces the value for a class.
func (m *Material) SetSecret(c Class, value string) {
	switch c {
	case Password:
		m.Password = value
	case SigningSecret:
		m.SigningSecret = value
	case EncryptionKey:
		m.EncryptionKey = value
	}
}

// Token returns the derived token for a role.
func (m Material) Token(r Role) string {
	if r == ServiceRole {
		return m.ServiceToken
	}
	return m.AnonToken
}

// SetToken replaces the derived token for a role.
func (m *Material) SetToken(r Role, value string) {
	if r == ServiceRole {
		m.ServiceToken = value
		return
	}
	m.AnonToken = value
}

// Values returns every non-empty value, for log redaction.
func (m Material) Values() []string {
	var out []string
	for _, v := range []string{m.Password, m.SigningSecret, m.EncryptionKey, m.AnonToken, m.ServiceToken} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Well-known values shipped in upstream example env files. A deployment still
// holding one of these has never been bootstrapped.
var knownPlaceholders = map[string]struct{}{
	"your-super-secret-and-long-postgres-password":                 {},
	"your-super-secret-jwt-token-with-at-least-32-characters-long": {},
	"your-encryption-key-32-chars-min":                             {},
	"your-32-character-encryption-key":                             {},
	"super-secret-jwt-token-with-at-least-32-characters-long":      {},
	"postgres":                                                     {},
	"password":                                                     {},
}

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^your[-_]`),
	regexp.MustCompile(`(?i)^change[-_ ]?me`),
	regexp.MustCompile(`(?i)placeholder`),
	regexp.MustCompile(`^<.*>$`),
	regexp.MustCompile(`^\$\{.*\}$`),
	regexp.MustCompile(`(?i)^(x+|todo|tbd|replace[-_]?me)$`),
}

// IsPlaceholder reports whether a stored secret value is absent or one of the
// recognised placeholder shapes.
func IsPlaceholder(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return true
	}
	if _, ok := knownPlaceholders[strings.ToLower(v)]; ok {
		return true
	}
	for _, re := range placeholderPatterns {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// Fingerprint returns a short, non-reversible identifier for a value so that
// history records can say which key was in effect without storing it.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
