package rotation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/metrics"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/rotation"
	"github.com/systmms/rekey/pkg/secrets"
	"github.com/systmms/rekey/pkg/token"
	"github.com/systmms/rekey/tests/fakes"
	"github.com/systmms/rekey/tests/testutil"
)

const (
	oldPassword = "Zq8v2LkP4mN7xR1tY6uW3eA9sD5fG0hJ"
	oldSigning  = "b7Qe2Rt9Yu4Io1Pa6Sd3Fg8Hj5Kl0ZxCv7Bn2Mq4We9Rt1Y"
	oldEncKey   = "Mn3Bv8Cx1Zl6Kj4Hg9Fd2Sa7Qw5Er0Ty"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

type harness struct {
	cfg     *fakes.FakeConfigStore
	db      *fakes.FakeDatabase
	svc     *fakes.FakeOrchestrator
	backup  *fakes.FakeBackup
	history *storage.FileStorage
	metrics *metrics.Metrics
	logs    *testutil.LogCapture
	dir     string
	ctl     *rotation.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	anon, service, err := token.MintPair(oldSigning, "supabase", fixedNow.Add(-24*time.Hour))
	require.NoError(t, err)

	def := config.Default()
	h := &harness{
		cfg: &fakes.FakeConfigStore{Material: secrets.Material{
			Password:      oldPassword,
			SigningSecret: oldSigning,
			EncryptionKey: oldEncKey,
			AnonToken:     anon.Value,
			ServiceToken:  service.Value,
		}},
		db:      fakes.NewFakeDatabase(oldPassword, oldSigning),
		svc:     fakes.NewFakeOrchestrator(),
		backup:  fakes.NewFakeBackup(),
		metrics: metrics.New(),
		logs:    testutil.NewLogCapture(t),
		dir:     t.TempDir(),
	}
	h.history = storage.NewFileStorage(filepath.Join(h.dir, "history"))
	h.ctl = rotation.NewController(rotation.Deps{
		Config:      h.cfg,
		Database:    h.db,
		Services:    h.svc,
		Backup:      h.backup,
		History:     h.history,
		Metrics:     h.metrics,
		Logger:      h.logs.Logger,
		Keys:        def.Keys,
		Issuer:      def.Tokens.Issuer,
		Restart:     def.Services.RestartFor,
		RecoveryDir: filepath.Join(h.dir, "recovery"),
		User:        "tester",
		Now:         func() time.Time { return fixedNow },
	})
	return h
}

func execute(class secrets.Class, answers ...string) rotation.Request {
	return rotation.Request{
		Class:    class,
		Mode:     rotation.ModeExecute,
		Prompter: rotation.NewScriptedPrompter(answers...),
	}
}

func TestRotateRefusesWithoutMode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.ctl.Rotate(context.Background(), rotation.Request{Class: secrets.Password})
	require.Error(t, err)
	var ue dserrors.UserError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Suggestion, "--dry-run")
	assert.Empty(t, h.db.Calls())
}

func TestRotateRefusesPlaceholder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.cfg.Material.Password = "your-super-secret-and-long-postgres-password"

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.Password, "y"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placeholder")
	assert.Empty(t, h.db.Calls())
}

func TestPreviewTouchesNothing(t *testing.T) {
	t.Parallel()

	for _, class := range secrets.Classes() {
		t.Run(class.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			before := h.cfg.Material

			res, err := h.ctl.Rotate(context.Background(), rotation.Request{Class: class, Mode: rotation.ModePreview})
			require.NoError(t, err)

			assert.Equal(t, before, h.cfg.Material)
			assert.Zero(t, h.cfg.Saves)
			assert.Empty(t, h.cfg.Snapshots)
			assert.Empty(t, h.db.Calls())
			assert.Empty(t, h.svc.Calls())
			assert.Zero(t, h.backup.Triggers)
			assert.Empty(t, res.Steps)
			assert.NotEmpty(t, res.Plan.Writes)
			h.logs.AssertContains(t, "Dry run: no changes made")
		})
	}
}

func TestPreviewLeavesEnvFileByteIdentical(t *testing.T) {
	t.Parallel()

	anon, service, err := token.MintPair(oldSigning, "supabase", fixedNow)
	require.NoError(t, err)
	content := "# managed\nPOSTGRES_PASSWORD=" + oldPassword + "\nJWT_SECRET=" + oldSigning +
		"\nANON_KEY=" + anon.Value + "\nSERVICE_ROLE_KEY=" + service.Value + "\nVAULT_ENC_KEY=" + oldEncKey + "\n"
	d := testutil.NewDeployment(t, content)
	db := fakes.NewFakeDatabase(oldPassword, oldSigning)

	ctl := rotation.NewController(rotation.Deps{
		Config:   d.Env,
		Database: db,
		Keys:     d.Config.Definition.Keys,
	})
	_, err = ctl.Rotate(context.Background(), rotation.Request{Class: secrets.Password, Mode: rotation.ModePreview})
	require.NoError(t, err)

	assert.Equal(t, content, d.ReadEnv(t))
	assert.Empty(t, d.Backups(t))
	assert.Empty(t, db.Calls())
}

func TestPlanListsStoresPerClass(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	p := h.ctl.Plan(secrets.Password, false)
	require.Len(t, p.Writes, len(fakes.DefaultRoles)+1)
	for i, role := range fakes.DefaultRoles {
		assert.Equal(t, store.StoreDatabaseRole, p.Writes[i].Store)
		assert.Equal(t, role, p.Writes[i].Target)
	}
	assert.Equal(t, store.StoreConfig, p.Writes[len(p.Writes)-1].Store)
	assert.False(t, p.Backup)

	p = h.ctl.Plan(secrets.SigningSecret, false)
	assert.Equal(t, store.StoreSetting, p.Writes[0].Store)
	assert.Contains(t, p.Writes[1].Description, "ANON_KEY")
	assert.Contains(t, p.Writes[1].Description, "SERVICE_ROLE_KEY")
	assert.True(t, p.Backup)
	assert.Equal(t, rotation.SigningSecretPhrase, p.Phrase)

	p = h.ctl.Plan(secrets.EncryptionKey, true)
	assert.Equal(t, store.StoreEncrypted, p.Writes[0].Store)
	assert.Equal(t, "_supavisor.tenants", p.Writes[0].Target)
	assert.False(t, p.Backup)
	assert.Equal(t, []string{"supavisor"}, p.Restart)
}

func TestRotatePassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res, err := h.ctl.Rotate(context.Background(), execute(secrets.Password, "y"))
	require.NoError(t, err)

	newPassword := h.cfg.Material.Password
	assert.NotEqual(t, oldPassword, newPassword)
	assert.Len(t, newPassword, secrets.Password.Length())
	for _, role := range fakes.DefaultRoles {
		assert.Equal(t, newPassword, h.db.Passwords[role], role)
	}
	assert.Equal(t, oldSigning, h.cfg.Material.SigningSecret)
	assert.Equal(t, oldEncKey, h.cfg.Material.EncryptionKey)
	assert.Equal(t, 1, h.cfg.Saves)
	assert.Len(t, h.cfg.Snapshots, 1)
	assert.Equal(t, []string{"restart auth rest storage meta supavisor"}, h.svc.Calls())
	assert.Zero(t, h.backup.Triggers)

	for _, s := range res.Steps {
		assert.Equal(t, dserrors.StepOK, s.Status, s.Label())
	}
	assert.Equal(t, 1, res.Epoch)
	assert.Empty(t, res.RecoveryPath)

	st, err := h.history.GetStatus(string(secrets.Password))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusActive, st.Status)
	assert.Equal(t, 1, st.SuccessCount)

	testutil.AssertNoSecretLeak(t, h.logs.Output(), []string{newPassword, oldPassword})
}

func TestRotatePasswordPartialFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.db.FailRole["supabase_admin"] = errors.New("permission denied to alter role")

	res, err := h.ctl.Rotate(context.Background(), execute(secrets.Password, "y"))
	require.Error(t, err)

	var partial *dserrors.PartialRotationFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"database-role:postgres"}, partial.Updated())
	assert.Equal(t, []string{
		"database-role:supabase_admin",
		"database-role:authenticator",
		"database-role:supabase_auth_admin",
		"database-role:supabase_storage_admin",
		"config:memory://.env",
		"services:auth,rest,storage,meta,supavisor",
	}, partial.NotUpdated())

	// The config record keeps the old value; only the first role moved.
	assert.Equal(t, oldPassword, h.cfg.Material.Password)
	assert.Zero(t, h.cfg.Saves)
	assert.NotEqual(t, oldPassword, h.db.Passwords["postgres"])
	assert.Equal(t, oldPassword, h.db.Passwords["authenticator"])
	assert.Empty(t, h.svc.Calls())

	// The value held by postgres is recoverable from the recovery file.
	require.NotEmpty(t, res.RecoveryPath)
	info, err := os.Stat(res.RecoveryPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	saved, err := godotenv.Read(res.RecoveryPath)
	require.NoError(t, err)
	assert.Equal(t, h.db.Passwords["postgres"], saved["POSTGRES_PASSWORD"])

	st, err := h.history.GetStatus(string(secrets.Password))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPartial, st.Status)
	assert.Equal(t, 0, st.Epoch)

	h.logs.AssertContains(t, "not updated")
	h.logs.AssertContains(t, res.RecoveryPath)
	testutil.AssertNoSecretLeak(t, h.logs.Output(), []string{h.db.Passwords["postgres"]})
}

func TestRotatePasswordFirstRoleFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.db.FailRole["postgres"] = errors.New("boom")

	res, err := h.ctl.Rotate(context.Background(), execute(secrets.Password, "y"))
	require.Error(t, err)

	var partial *dserrors.PartialRotationFailure
	require.True(t, errors.As(err, &partial))
	assert.Empty(t, partial.Updated())
	assert.Empty(t, res.RecoveryPath)
	h.logs.AssertContains(t, "No store was changed")

	st, err := h.history.GetStatus(string(secrets.Password))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, st.Status)
}

func TestRotateSigningSecret(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	oldAnon := h.cfg.Material.AnonToken

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.SigningSecret, "y", "y", rotation.SigningSecretPhrase))
	require.NoError(t, err)

	m := h.cfg.Material
	assert.NotEqual(t, oldSigning, m.SigningSecret)
	assert.Len(t, m.SigningSecret, secrets.SigningSecret.Length())
	assert.Equal(t, m.SigningSecret, h.db.SettingValue)
	assert.Equal(t, 1, h.backup.Triggers)
	assert.Equal(t, []string{"write setting"}, h.db.Calls())

	for _, role := range secrets.Roles() {
		claims, err := token.Verify(m.Token(role), h.db.SettingValue)
		require.NoError(t, err)
		assert.Equal(t, role, claims.Role)
	}

	// Tokens issued under the old secret no longer verify.
	_, err = token.Verify(oldAnon, h.db.SettingValue)
	assert.ErrorIs(t, err, token.ErrInvalidSignature)
}

func TestRotateSigningSecretDeclinedPhrase(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	before := h.cfg.Material

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.SigningSecret, "y", "y", rotation.EncryptionKeyPhrase))
	assert.ErrorIs(t, err, dserrors.ErrConfirmationDeclined)
	assert.Equal(t, before, h.cfg.Material)
	assert.Equal(t, oldSigning, h.db.SettingValue)
	assert.Zero(t, h.backup.Triggers)
	assert.Empty(t, h.cfg.Snapshots)
}

func TestRotateEncryptionKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.EncryptionKey, "y", "y", "y", rotation.EncryptionKeyPhrase))
	require.NoError(t, err)

	assert.Zero(t, h.db.EncryptedRows)
	assert.NotEqual(t, oldEncKey, h.cfg.Material.EncryptionKey)
	assert.Equal(t, []string{"restart supavisor"}, h.svc.Calls())

	st, err := h.history.GetStatus(string(secrets.EncryptionKey))
	require.NoError(t, err)
	assert.Equal(t, secrets.Fingerprint(h.cfg.Material.EncryptionKey), st.KeyFingerprint)
}

func TestRotateEncryptionKeyDeclined(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.EncryptionKey, "y", "y", "y", "destroy encrypted data"))
	assert.ErrorIs(t, err, dserrors.ErrConfirmationDeclined)
	assert.Equal(t, 3, h.db.EncryptedRows)
	assert.Empty(t, h.db.Calls())
	assert.Equal(t, oldEncKey, h.cfg.Material.EncryptionKey)
	h.logs.AssertContains(t, "nothing was changed")
}

func TestRotateRequiresConfiguredBackup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backup.Enabled = false

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.EncryptionKey, "y", "y", "y", rotation.EncryptionKeyPhrase))
	var ue dserrors.UserError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Suggestion, "--skip-backup")
	assert.Equal(t, 3, h.db.EncryptedRows)

	req := execute(secrets.EncryptionKey, "y", "y", rotation.EncryptionKeyPhrase)
	req.SkipBackup = true
	res, err := h.ctl.Rotate(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.BackupPath)
	assert.Zero(t, h.db.EncryptedRows)
}

func TestRotateBackupFailureChangesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backup.Err = errors.New("pg_dump: connection refused")

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.SigningSecret, "y", "y", rotation.SigningSecretPhrase))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backup failed")
	assert.Equal(t, oldSigning, h.db.SettingValue)
	assert.Empty(t, h.db.Calls())
}

func TestRotateUnreachableDatabase(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.db.Unreachable = true

	_, err := h.ctl.Rotate(context.Background(), execute(secrets.Password, "y"))
	assert.ErrorIs(t, err, dserrors.ErrBackendUnreachable)
	assert.Zero(t, h.cfg.Saves)
}

func TestRotateServiceRestartFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.Errs["restart"] = errors.New("no such service: meta")

	res, err := h.ctl.Rotate(context.Background(), execute(secrets.Password, "y"))
	var partial *dserrors.PartialRotationFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"services:auth,rest,storage,meta,supavisor"}, partial.NotUpdated())

	// Every store holds the new value, so the epoch still advances.
	assert.Equal(t, 1, h.cfg.Saves)
	assert.Equal(t, 1, res.Epoch)
	assert.Empty(t, res.RecoveryPath)
	h.logs.AssertContains(t, "only the service restart failed")
}

func TestRotateConfigWriteFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.cfg.SaveErr = errors.New("read-only file system")

	res, err := h.ctl.Rotate(context.Background(), execute(secrets.SigningSecret, "y", "y", rotation.SigningSecretPhrase))
	var partial *dserrors.PartialRotationFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"database-setting:app.settings.jwt_secret"}, partial.Updated())

	require.NotEmpty(t, res.RecoveryPath)
	saved, err := godotenv.Read(res.RecoveryPath)
	require.NoError(t, err)
	assert.Equal(t, h.db.SettingValue, saved["JWT_SECRET"])
	claims, err := token.Verify(saved["SERVICE_ROLE_KEY"], h.db.SettingValue)
	require.NoError(t, err)
	assert.Equal(t, secrets.ServiceRole, claims.Role)
}

func TestRotateWritesSurviveCancellation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel once the operator has confirmed, before any store write.
	prompter := cancelAfterConfirm{cancel: cancel}

	_, err := h.ctl.Rotate(ctx, rotation.Request{Class: secrets.Password, Mode: rotation.ModeExecute, Prompter: prompter})
	require.NoError(t, err)
	assert.Equal(t, 1, h.cfg.Saves)
	assert.Equal(t, h.cfg.Material.Password, h.db.Passwords["supabase_storage_admin"])
}

type cancelAfterConfirm struct {
	cancel context.CancelFunc
}

func (p cancelAfterConfirm) Ask(_ context.Context, _ rotation.Prompt) (string, error) {
	p.cancel()
	return "y", nil
}
