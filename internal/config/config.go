package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/pkg/secrets"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "rekey.yaml"

// Config holds the runtime configuration
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	MetricsFile    string
	Definition     *Definition
}

// Definition represents the rekey.yaml structure
type Definition struct {
	Version            int                      `yaml:"version"`
	EnvFile            string                   `yaml:"env_file"`
	StateDir           string                   `yaml:"state_dir"`
	Keys               KeyNames                 `yaml:"keys"`
	Tokens             TokenConfig              `yaml:"tokens"`
	Database           DatabaseConfig           `yaml:"database"`
	EncryptedSubsystem EncryptedSubsystemConfig `yaml:"encrypted_subsystem"`
	Services           ServicesConfig           `yaml:"services"`
	Backup             BackupConfig             `yaml:"backup"`
	Notify             NotifyConfig             `yaml:"notify"`
}

// KeyNames maps each managed value to its key in the env file.
type KeyNames struct {
	Password      string `yaml:"password"`
	SigningSecret string `yaml:"signing_secret"`
	EncryptionKey string `yaml:"encryption_key"`
	AnonToken     string `yaml:"anon_token"`
	ServiceToken  string `yaml:"service_token"`
}

// TokenConfig controls derived token minting.
type TokenConfig struct {
	Issuer string `yaml:"issuer"`
}

// DatabaseConfig describes how to reach the database and which of its
// objects hold secret copies. The password always comes from the env file.
type DatabaseConfig struct {
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	Name      string   `yaml:"name"`
	User      string   `yaml:"user"`
	SSLMode   string   `yaml:"sslmode"`
	TimeoutMs int      `yaml:"timeout_ms"`
	Roles     []string `yaml:"roles"`
	Setting   string   `yaml:"setting"`
	DataDir   string   `yaml:"data_dir"`
	Service   string   `yaml:"service"`
}

// EncryptedSubsystemConfig names the table holding state encrypted under the
// encryption key.
type EncryptedSubsystemConfig struct {
	Table string `yaml:"table"`
}

// ServicesConfig drives the container orchestration collaborator.
type ServicesConfig struct {
	Command     []string            `yaml:"command"`
	ComposeFile string              `yaml:"compose_file"`
	Project     string              `yaml:"project"`
	Restart     map[string][]string `yaml:"restart"`
	// TimeoutMs bounds each compose invocation.
	TimeoutMs int `yaml:"timeout_ms"`
}

// BackupConfig configures the external backup trigger. The command must print
// the path of the backup file as its last line of output.
type BackupConfig struct {
	Command   []string `yaml:"command"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// NotifyConfig lists where rotation outcomes and detected drift are reported.
// URLs and header values may reference environment variables as ${NAME}.
type NotifyConfig struct {
	// Deployment names this deployment in messages; defaults to the env file
	// path.
	Deployment string               `yaml:"deployment"`
	Webhooks   []WebhookNotifyConfig `yaml:"webhooks"`
	Slack      *SlackNotifyConfig    `yaml:"slack"`
}

// WebhookNotifyConfig posts a JSON document per event.
type WebhookNotifyConfig struct {
	Name      string            `yaml:"name"`
	URL       string            `yaml:"url"`
	Method    string            `yaml:"method"`
	Headers   map[string]string `yaml:"headers"`
	Events    []string          `yaml:"events"`
	TimeoutMs int               `yaml:"timeout_ms"`
	Retry     *RetryConfig      `yaml:"retry"`
}

// RetryConfig controls webhook redelivery.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

// SlackNotifyConfig posts to a Slack incoming webhook.
type SlackNotifyConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Channel    string   `yaml:"channel"`
	Events     []string `yaml:"events"`
	Mentions   []string `yaml:"mentions"`
}

// Enabled reports whether any notifier is configured.
func (n NotifyConfig) Enabled() bool {
	return len(n.Webhooks) > 0 || n.Slack != nil
}

// Default returns the definition used when no rekey.yaml exists. It matches
// the layout of the upstream self-hosted docker stack.
func Default() *Definition {
	return &Definition{
		Version:  0,
		EnvFile:  ".env",
		StateDir: ".rekey",
		Keys: KeyNames{
			Password:      "POSTGRES_PASSWORD",
			SigningSecret: "JWT_SECRET",
			EncryptionKey: "VAULT_ENC_KEY",
			AnonToken:     "ANON_KEY",
			ServiceToken:  "SERVICE_ROLE_KEY",
		},
		Tokens: TokenConfig{Issuer: "supabase"},
		Database: DatabaseConfig{
			Host:      "localhost",
			Port:      5432,
			Name:      "postgres",
			User:      "supabase_admin",
			SSLMode:   "disable",
			TimeoutMs: 10000,
			Roles: []string{
				"postgres",
				"supabase_admin",
				"authenticator",
				"supabase_auth_admin",
				"supabase_storage_admin",
			},
			Setting: "app.settings.jwt_secret",
			DataDir: "volumes/db/data",
			Service: "db",
		},
		EncryptedSubsystem: EncryptedSubsystemConfig{Table: "_supavisor.tenants"},
		Services: ServicesConfig{
			Command: []string{"docker", "compose"},
			Restart: map[string][]string{
				string(secrets.Password):      {"auth", "rest", "storage", "meta", "supavisor"},
				string(secrets.SigningSecret): {"auth", "rest", "realtime", "storage", "kong", "functions"},
				string(secrets.EncryptionKey): {"supavisor"},
			},
		},
		Backup: BackupConfig{TimeoutMs: 600000},
	}
}

// Load reads and parses the rekey.yaml file. A missing file at the default
// path is not an error: the built-in defaults are used instead.
func (c *Config) Load() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) && c.Path == DefaultPath {
			if c.Logger != nil {
				c.Logger.Debug("No %s found, using built-in defaults", DefaultPath)
			}
			c.Definition = Default()
			return nil
		}
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or omit it to use the built-in defaults",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	c.Definition = def
	return nil
}

// Parse validates raw YAML against the schema and overlays it on the defaults.
func Parse(data []byte) (*Definition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	def := Default()
	// Lists and maps given in the file replace the defaults wholesale.
	def.Database.Roles = nil
	def.Services.Command = nil
	def.Services.Restart = nil
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}

	defaults := Default()
	if len(def.Database.Roles) == 0 {
		def.Database.Roles = defaults.Database.Roles
	}
	if len(def.Services.Command) == 0 {
		def.Services.Command = defaults.Services.Command
	}
	if def.Services.Restart == nil {
		def.Services.Restart = defaults.Services.Restart
	}

	return def, nil
}

func validateSchema(raw map[string]interface{}) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return dserrors.ConfigError{Message: fmt.Sprintf("configuration cannot be converted for validation: %v", err)}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return dserrors.ConfigError{Message: fmt.Sprintf("schema validation failed: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	first := result.Errors()[0]
	return dserrors.ConfigError{
		Field:      first.Field(),
		Message:    strings.Join(problems, "; "),
		Suggestion: "Compare your rekey.yaml with the documented keys; unknown keys are rejected",
	}
}

// ResolvePath returns p relative to the directory holding the config file.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	base := "."
	if c.Path != "" {
		base = filepath.Dir(c.Path)
	}
	return filepath.Join(base, p)
}

// EnvFilePath returns the resolved config-store path.
func (c *Config) EnvFilePath() string {
	return c.ResolvePath(c.Definition.EnvFile)
}

// StateDirPath returns the resolved state directory.
func (c *Config) StateDirPath() string {
	return c.ResolvePath(c.Definition.StateDir)
}

// Timeout returns the per-call database timeout.
func (d DatabaseConfig) Timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Timeout returns how long one compose invocation may run.
func (s ServicesConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Timeout returns how long the backup command may run.
func (b BackupConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// KeyFor returns the env-file key holding a secret class.
func (k KeyNames) KeyFor(c secrets.Class) string {
	switch c {
	case secrets.Password:
		return k.Password
	case secrets.SigningSecret:
		return k.SigningSecret
	case secrets.EncryptionKey:
		return k.EncryptionKey
	}
	return ""
}

// TokenKeyFor returns the env-file key holding a derived token.
func (k KeyNames) TokenKeyFor(r secrets.Role) string {
	if r == secrets.ServiceRole {
		return k.ServiceToken
	}
	return k.AnonToken
}

// RestartFor returns the services to restart after rotating class.
func (s ServicesConfig) RestartFor(c secrets.Class) []string {
	return s.Restart[string(c)]
}
