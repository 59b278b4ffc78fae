// Package store adapts the places a deployment's secrets live: the env file
// its services read, the database (role passwords, a database-level setting
// and the encrypted subsystem's table), and the local state directory.
//
// Every write is idempotent for the same target value.
package store

import (
	"context"

	"github.com/systmms/rekey/pkg/secrets"
)

// Store names used in step results and backend errors.
const (
	StoreConfig       = "config"
	StoreDatabase     = "database"
	StoreDatabaseRole = "database-role"
	StoreSetting      = "database-setting"
	StoreEncrypted    = "encrypted-state"
	StoreServices     = "services"
)

// ConfigStore is the authoritative record of the secret set.
type ConfigStore interface {
	// Load returns the managed values. A missing record yields empty Material.
	Load() (secrets.Material, error)
	// Save writes the managed values in a single atomic replace, keeping every
	// other entry of the record.
	Save(m secrets.Material) error
	// Snapshot copies the current record to a timestamped backup and returns
	// its path. It returns "" when there is no record yet.
	Snapshot(label string) (string, error)
	// Location describes the record for operator messages.
	Location() string
}

// Database is the backing store holding copies of Password and SigningSecret
// and the state encrypted under EncryptionKey.
type Database interface {
	// Roles lists the login roles sharing the deployment password, in the
	// order they are rotated.
	Roles() []string
	// SettingName is the database-level setting holding the signing secret.
	SettingName() string
	// EncryptedTable is the table truncated when the encryption key rotates.
	EncryptedTable() string

	Ping(ctx context.Context) error
	ReadSetting(ctx context.Context) (string, error)
	WriteSetting(ctx context.Context, value string) error
	WriteRolePassword(ctx context.Context, role, password string) error
	TruncateEncryptedState(ctx context.Context) error
	VerifyRoleLogin(ctx context.Context, role, password string) error
	Close() error
}
