package fakes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/store"
)

// DefaultRoles mirrors the default role list.
var DefaultRoles = []string{"postgres", "supabase_admin", "authenticator", "supabase_auth_admin", "supabase_storage_admin"}

// FakeDatabase is an in-memory store.Database.
type FakeDatabase struct {
	mu sync.Mutex

	RoleNames []string
	Setting   string
	Table     string

	// Passwords holds each role's current password.
	Passwords map[string]string
	// SettingValue is the current database-level setting.
	SettingValue string
	// EncryptedRows counts rows in the encrypted table.
	EncryptedRows int

	// Failure injection
	Unreachable bool
	FailRole    map[string]error
	SettingErr  error
	TruncateErr error

	calls []string
}

var _ store.Database = (*FakeDatabase)(nil)

// NewFakeDatabase returns a database where every role has password and the
// setting holds signingSecret.
func NewFakeDatabase(password, signingSecret string) *FakeDatabase {
	f := &FakeDatabase{
		RoleNames:     append([]string(nil), DefaultRoles...),
		Setting:       "app.settings.jwt_secret",
		Table:         "_supavisor.tenants",
		Passwords:     make(map[string]string),
		SettingValue:  signingSecret,
		EncryptedRows: 3,
		FailRole:      make(map[string]error),
	}
	for _, r := range f.RoleNames {
		f.Passwords[r] = password
	}
	return f
}

func (f *FakeDatabase) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *FakeDatabase) unreachable(op string) error {
	return &dserrors.BackendError{Store: store.StoreDatabase, Op: op, Err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), Unreachable: true}
}

// Calls returns the mutating calls made so far, e.g. "alter role postgres".
func (f *FakeDatabase) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Roles implements store.Database.
func (f *FakeDatabase) Roles() []string { return append([]string(nil), f.RoleNames...) }

// SettingName implements store.Database.
func (f *FakeDatabase) SettingName() string { return f.Setting }

// EncryptedTable implements store.Database.
func (f *FakeDatabase) EncryptedTable() string { return f.Table }

// Ping implements store.Database.
func (f *FakeDatabase) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return f.unreachable("ping")
	}
	return nil
}

// ReadSetting implements store.Database.
func (f *FakeDatabase) ReadSetting(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return "", f.unreachable("read setting")
	}
	return f.SettingValue, nil
}

// WriteSetting implements store.Database.
func (f *FakeDatabase) WriteSetting(_ context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return f.unreachable("write setting")
	}
	f.record("write setting")
	if f.SettingErr != nil {
		return &dserrors.BackendError{Store: store.StoreSetting, Op: "write setting", Err: f.SettingErr}
	}
	f.SettingValue = value
	return nil
}

// WriteRolePassword implements store.Database.
func (f *FakeDatabase) WriteRolePassword(_ context.Context, role, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return f.unreachable("alter role " + role)
	}
	f.record("alter role %s", role)
	if err := f.FailRole[role]; err != nil {
		return &dserrors.BackendError{Store: store.StoreDatabaseRole, Op: "alter role " + role, Err: err}
	}
	f.Passwords[role] = password
	return nil
}

// TruncateEncryptedState implements store.Database.
func (f *FakeDatabase) TruncateEncryptedState(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return f.unreachable("truncate")
	}
	f.record("truncate %s", f.Table)
	if f.TruncateErr != nil {
		return &dserrors.BackendError{Store: store.StoreEncrypted, Op: "truncate " + f.Table, Err: f.TruncateErr}
	}
	f.EncryptedRows = 0
	return nil
}

// VerifyRoleLogin implements store.Database.
func (f *FakeDatabase) VerifyRoleLogin(_ context.Context, role, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return f.unreachable("login as " + role)
	}
	current, ok := f.Passwords[role]
	if !ok || current != password {
		return &dserrors.BackendError{Store: store.StoreDatabaseRole, Op: "login as " + role,
			Err: fmt.Errorf("password authentication failed for user %q", role)}
	}
	return nil
}

// Close implements store.Database.
func (f *FakeDatabase) Close() error { return nil }
