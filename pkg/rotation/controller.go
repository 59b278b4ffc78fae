package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/internal/metrics"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/internal/secure"
	"github.com/systmms/rekey/internal/services"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/secretgen"
	"github.com/systmms/rekey/pkg/secrets"
	"github.com/systmms/rekey/pkg/token"
)

// Mode states what the caller wants a rotation to do.
type Mode string

const (
	// ModePreview prints the planned store writes and changes nothing.
	ModePreview Mode = "preview"
	// ModeExecute performs the rotation after confirmation.
	ModeExecute Mode = "execute"
)

// Deps are the collaborators a Controller works against.
type Deps struct {
	Config   store.ConfigStore
	Database store.Database
	Services services.Orchestrator
	Backup   services.Backup
	History  storage.Storage
	Metrics  *metrics.Metrics

	Generator *secretgen.Generator
	Logger    *logging.Logger

	Keys   config.KeyNames
	Issuer string
	// Restart lists the services restarted after a class rotates.
	Restart func(secrets.Class) []string
	// RecoveryDir receives new values when a rotation stops after some stores
	// already hold them.
	RecoveryDir string
	User        string
	Now         func() time.Time
}

// Controller rotates one secret class at a time.
type Controller struct {
	deps Deps
}

// NewController fills in defaults for optional dependencies.
func NewController(deps Deps) *Controller {
	if deps.Generator == nil {
		deps.Generator = secretgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Restart == nil {
		deps.Restart = func(secrets.Class) []string { return nil }
	}
	if deps.Issuer == "" {
		deps.Issuer = "supabase"
	}
	return &Controller{deps: deps}
}

// Request describes one rotation.
type Request struct {
	Class    secrets.Class
	Mode     Mode
	Prompter Prompter
	// SkipBackup lets the destructive classes run without a backup.
	SkipBackup bool
}

// Write is one planned store modification.
type Write struct {
	Store       string
	Target      string
	Description string
}

// Plan lists everything a rotation will touch, in execution order.
type Plan struct {
	Class   secrets.Class
	Backup  bool
	Writes  []Write
	Restart []string
	Phrase  string
}

// Result reports what a rotation did.
type Result struct {
	Class        secrets.Class
	Mode         Mode
	Plan         Plan
	Steps        []dserrors.StepResult
	Snapshot     string
	BackupPath   string
	RecoveryPath string
	Epoch        int
}

// Plan returns the writes a rotation of class would perform.
func (c *Controller) Plan(class secrets.Class, skipBackup bool) Plan {
	db := c.deps.Database
	keys := c.deps.Keys
	p := Plan{
		Class:   class,
		Backup:  class != secrets.Password && !skipBackup,
		Restart: c.deps.Restart(class),
		Phrase:  PhraseFor(class),
	}

	configKeys := []string{keys.KeyFor(class)}
	switch class {
	case secrets.Password:
		for _, role := range db.Roles() {
			p.Writes = append(p.Writes, Write{
				Store:       store.StoreDatabaseRole,
				Target:      role,
				Description: fmt.Sprintf("ALTER ROLE %s WITH PASSWORD <new>", role),
			})
		}
	case secrets.SigningSecret:
		p.Writes = append(p.Writes, Write{
			Store:       store.StoreSetting,
			Target:      db.SettingName(),
			Description: fmt.Sprintf("ALTER DATABASE SET %s TO <new>", db.SettingName()),
		})
		for _, role := range secrets.Roles() {
			configKeys = append(configKeys, keys.TokenKeyFor(role))
		}
	case secrets.EncryptionKey:
		p.Writes = append(p.Writes, Write{
			Store:       store.StoreEncrypted,
			Target:      db.EncryptedTable(),
			Description: fmt.Sprintf("TRUNCATE TABLE %s (all rows permanently deleted)", db.EncryptedTable()),
		})
	}

	p.Writes = append(p.Writes, Write{
		Store:       store.StoreConfig,
		Target:      c.deps.Config.Location(),
		Description: "set " + strings.Join(configKeys, ", "),
	})
	return p
}

// Rotate runs one rotation. In preview mode it only prints the plan. In
// execute mode it walks the operator through the class's confirmation stages,
// then writes the backing stores, then the config record, then restarts the
// dependent services. A failing step stops the run; the returned
// PartialRotationFailure lists which stores were updated.
func (c *Controller) Rotate(ctx context.Context, req Request) (*Result, error) {
	log := c.deps.Logger

	switch req.Mode {
	case ModePreview, ModeExecute:
	default:
		return nil, dserrors.UserError{
			Message:    "Refusing to rotate without an explicit mode",
			Suggestion: "Pass --dry-run to preview the rotation or --execute to perform it",
		}
	}
	if !validClass(req.Class) {
		return nil, fmt.Errorf("unknown secret class %q", req.Class)
	}

	current, err := c.deps.Config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.deps.Config.Location(), err)
	}
	if secrets.IsPlaceholder(current.Secret(req.Class)) {
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("The %s in %s is still a placeholder", req.Class.Title(), c.deps.Config.Location()),
			Suggestion: "Run 'rekey init' to bootstrap the deployment before rotating",
		}
	}

	plan := c.Plan(req.Class, req.SkipBackup)
	res := &Result{Class: req.Class, Mode: req.Mode, Plan: plan}
	c.printPlan(plan)

	if req.Mode == ModePreview {
		log.Info("Dry run: no changes made")
		return res, nil
	}

	if plan.Backup && (c.deps.Backup == nil || !c.deps.Backup.Configured()) {
		return res, dserrors.UserError{
			Message:    fmt.Sprintf("Rotating the %s requires a database backup, but none is configured", req.Class.Title()),
			Suggestion: "Set backup.command in rekey.yaml, or pass --skip-backup to rotate without one",
		}
	}

	if err := c.deps.Database.Ping(ctx); err != nil {
		return res, err
	}

	pending := secure.NewPending()
	defer pending.Destroy()
	if err := c.generate(pending, req.Class); err != nil {
		return res, err
	}

	decision, err := confirm(ctx, req.Class, req.Prompter, "backup.command", req.SkipBackup)
	if err != nil {
		if errors.Is(err, dserrors.ErrConfirmationDeclined) {
			log.Warn("Rotation cancelled; nothing was changed")
		}
		return res, err
	}

	started := c.deps.Now()
	c.deps.Metrics.RecordRotationStarted(req.Class.String())

	if decision.Backup {
		log.Info("Running backup...")
		path, err := c.deps.Backup.Trigger(ctx)
		if err != nil {
			return res, dserrors.UserError{
				Message:    "Backup failed; nothing was changed",
				Suggestion: "Fix the backup command and retry, or pass --skip-backup to rotate without one",
				Err:        err,
			}
		}
		res.BackupPath = path
		log.Info("Backup written to %s", path)
	}

	snapshot, err := c.deps.Config.Snapshot("pre-rotate-" + req.Class.String())
	if err != nil {
		return res, fmt.Errorf("failed to snapshot %s: %w", c.deps.Config.Location(), err)
	}
	res.Snapshot = snapshot
	if snapshot != "" {
		log.Info("Config snapshot saved to %s", snapshot)
	}

	next, err := c.nextMaterial(pending, current, req.Class)
	if err != nil {
		return res, err
	}

	// Writes run to completion or to the first failure even if the operator
	// interrupts; each store call still has its own timeout.
	writeCtx := context.WithoutCancel(ctx)
	res.Steps = c.execute(writeCtx, plan, next)
	for _, s := range res.Steps {
		if s.Status == dserrors.StepFailed {
			log.Error("%-20s %s: %v", s.Label(), s.Status, s.Err)
		} else {
			log.Info("%-20s %s", s.Label(), s.Status)
		}
	}

	failure := failedStep(res.Steps)
	if failure != nil && anyBackingStoreUpdated(res.Steps) && !stepOK(res.Steps, store.StoreConfig) {
		path, err := store.WriteRecovery(c.deps.RecoveryDir, req.Class.String(), c.changedValues(req.Class, next), c.deps.Now())
		if err != nil {
			log.Error("Failed to save the new values for recovery: %v", err)
		} else {
			res.RecoveryPath = path
		}
	}

	res.Epoch = c.record(req.Class, res, next, started, failure)

	if failure == nil {
		log.Info("Rotated %s (epoch %d)", req.Class.Title(), res.Epoch)
		log.Info("Run 'rekey check' to confirm every store agrees")
		return res, nil
	}

	c.printGuidance(res)
	return res, &dserrors.PartialRotationFailure{Class: req.Class.String(), Steps: res.Steps}
}

func validClass(class secrets.Class) bool {
	for _, c := range secrets.Classes() {
		if c == class {
			return true
		}
	}
	return false
}

func (c *Controller) printPlan(p Plan) {
	log := c.deps.Logger
	log.Info("Rotation plan for the %s:", p.Class.Title())
	if p.Backup {
		log.Info("  backup               run backup.command before any change")
	}
	log.Info("  snapshot             copy %s before writing it", c.deps.Config.Location())
	for _, w := range p.Writes {
		label := w.Store
		if w.Target != "" {
			label += ":" + w.Target
		}
		log.Info("  %-20s %s", label, w.Description)
	}
	if len(p.Restart) > 0 {
		log.Info("  %-20s restart %s", store.StoreServices, strings.Join(p.Restart, ", "))
	}
}

func (c *Controller) generate(pending *secure.Pending, class secrets.Class) error {
	value, err := c.deps.Generator.Generate(class)
	if err != nil {
		return err
	}
	return pending.Put(class.String(), value)
}

// nextMaterial is the config record as it will look after the rotation.
func (c *Controller) nextMaterial(pending *secure.Pending, current secrets.Material, class secrets.Class) (secrets.Material, error) {
	value, err := pending.Reveal(class.String())
	if err != nil {
		return secrets.Material{}, err
	}
	next := current
	next.SetSecret(class, value)

	if class == secrets.SigningSecret {
		anon, service, err := token.MintPair(value, c.deps.Issuer, c.deps.Now())
		if err != nil {
			return secrets.Material{}, err
		}
		next.SetToken(secrets.Anon, anon.Value)
		next.SetToken(secrets.ServiceRole, service.Value)
	}
	return next, nil
}

type step struct {
	result dserrors.StepResult
	run    func(ctx context.Context) error
}

func (c *Controller) steps(plan Plan, next secrets.Material) []step {
	db := c.deps.Database
	var out []step
	for _, w := range plan.Writes {
		var run func(ctx context.Context) error
		switch w.Store {
		case store.StoreDatabaseRole:
			run = func(ctx context.Context) error { return db.WriteRolePassword(ctx, w.Target, next.Password) }
		case store.StoreSetting:
			run = func(ctx context.Context) error { return db.WriteSetting(ctx, next.SigningSecret) }
		case store.StoreEncrypted:
			run = func(ctx context.Context) error { return db.TruncateEncryptedState(ctx) }
		case store.StoreConfig:
			run = func(context.Context) error { return c.deps.Config.Save(next) }
		}
		out = append(out, step{result: dserrors.StepResult{Store: w.Store, Target: w.Target}, run: run})
	}

	if len(plan.Restart) > 0 && c.deps.Services != nil {
		out = append(out, step{
			result: dserrors.StepResult{Store: store.StoreServices, Target: strings.Join(plan.Restart, ",")},
			run:    func(ctx context.Context) error { return c.deps.Services.Restart(ctx, plan.Restart...) },
		})
	}
	return out
}

// execute runs the steps in order. After the first failure the remaining
// steps are reported as skipped.
func (c *Controller) execute(ctx context.Context, plan Plan, next secrets.Material) []dserrors.StepResult {
	var (
		results []dserrors.StepResult
		failed  bool
	)
	for _, s := range c.steps(plan, next) {
		r := s.result
		switch {
		case failed:
			r.Status = dserrors.StepSkipped
		default:
			c.deps.Logger.Debug("Writing %s", r.Label())
			if err := s.run(ctx); err != nil {
				r.Status = dserrors.StepFailed
				r.Err = err
				failed = true
			} else {
				r.Status = dserrors.StepOK
			}
		}
		results = append(results, r)
	}
	return results
}

func failedStep(steps []dserrors.StepResult) *dserrors.StepResult {
	for i := range steps {
		if steps[i].Status == dserrors.StepFailed {
			return &steps[i]
		}
	}
	return nil
}

func stepOK(steps []dserrors.StepResult, storeName string) bool {
	for _, s := range steps {
		if s.Store == storeName {
			return s.Status == dserrors.StepOK
		}
	}
	return false
}

func anyBackingStoreUpdated(steps []dserrors.StepResult) bool {
	for _, s := range steps {
		if s.Status != dserrors.StepOK {
			continue
		}
		switch s.Store {
		case store.StoreDatabaseRole, store.StoreSetting, store.StoreEncrypted:
			return true
		}
	}
	return false
}

// changedValues are the config entries a rotation of class replaces.
func (c *Controller) changedValues(class secrets.Class, next secrets.Material) map[string]string {
	keys := c.deps.Keys
	values := map[string]string{keys.KeyFor(class): next.Secret(class)}
	if class == secrets.SigningSecret {
		for _, role := range secrets.Roles() {
			values[keys.TokenKeyFor(role)] = next.Token(role)
		}
	}
	return values
}

// record writes the run to history and metrics and returns the resulting
// epoch. The epoch only advances once the config record holds the new value.
func (c *Controller) record(class secrets.Class, res *Result, next secrets.Material, started time.Time, failure *dserrors.StepResult) int {
	duration := c.deps.Now().Sub(started)

	status := storage.StatusFailed
	switch {
	case stepOK(res.Steps, store.StoreConfig):
		status = storage.StatusActive
	case anyBackingStoreUpdated(res.Steps):
		status = storage.StatusPartial
	}

	entry := &storage.HistoryEntry{
		Timestamp:  started.UTC(),
		Class:      class.String(),
		Action:     storage.ActionRotate,
		Status:     status,
		Duration:   duration,
		User:       c.deps.User,
		BackupPath: res.BackupPath,
		Snapshot:   res.Snapshot,
	}
	if failure != nil {
		entry.Error = logging.Redact(failure.Err.Error(), next.Values())
	}
	// Once truncated, the encrypted subsystem re-initialises under the new
	// key whether or not the config write landed.
	if class == secrets.EncryptionKey && stepOK(res.Steps, store.StoreEncrypted) {
		entry.Fingerprint = secrets.Fingerprint(next.EncryptionKey)
	}
	for _, s := range res.Steps {
		sr := storage.StepResult{Name: s.Label(), Status: string(s.Status)}
		if s.Err != nil {
			sr.Error = logging.Redact(s.Err.Error(), next.Values())
		}
		entry.Steps = append(entry.Steps, sr)
	}

	c.deps.Metrics.RecordRotationCompleted(class.String(), status, duration)

	if c.deps.History == nil {
		return 0
	}
	st, err := storage.Record(c.deps.History, entry)
	if err != nil {
		c.deps.Logger.Warn("Failed to record rotation history: %v", err)
		return 0
	}
	c.deps.Metrics.RecordEpoch(class.String(), st.Epoch, st.LastRotation)
	return st.Epoch
}

func (c *Controller) printGuidance(res *Result) {
	log := c.deps.Logger
	location := c.deps.Config.Location()
	failure := &dserrors.PartialRotationFailure{Class: res.Class.String(), Steps: res.Steps}

	log.Error("Rotation of the %s stopped before completing", res.Class.Title())
	log.Error("  updated:     %s", joinOrNone(failure.Updated()))
	log.Error("  not updated: %s", joinOrNone(failure.NotUpdated()))
	log.Warn("Recovery (no automatic rollback is attempted):")

	if stepOK(res.Steps, store.StoreConfig) {
		log.Warn("  All stores hold the new %s; only the service restart failed.", res.Class.Title())
		log.Warn("  Restart them by hand: docker compose up -d --force-recreate --no-deps %s", strings.Join(res.Plan.Restart, " "))
		return
	}

	if !anyBackingStoreUpdated(res.Steps) {
		log.Warn("  No store was changed. %s still holds the old %s; it is safe to retry.", location, res.Class.Title())
		return
	}

	if res.RecoveryPath != "" {
		log.Warn("  The new values are saved in %s (mode 0600).", res.RecoveryPath)
	}
	switch res.Class {
	case secrets.Password:
		log.Warn("  Either finish the rotation: set the remaining roles to the new password and copy it into %s,", location)
		log.Warn("  or undo it: set the updated roles back to the password still in %s.", location)
	case secrets.SigningSecret:
		log.Warn("  The database setting holds the new secret but %s does not.", location)
		log.Warn("  Copy the secret and both tokens from the recovery file into %s, or write the old secret back to the setting.", location)
	case secrets.EncryptionKey:
		log.Warn("  The encrypted state was truncated and cannot be restored under either key.")
		log.Warn("  Copy the new key from the recovery file into %s so the subsystem re-initialises under it.", location)
	}
	if res.Snapshot != "" {
		log.Warn("  The pre-rotation config is preserved at %s.", res.Snapshot)
	}
	log.Warn("  Then run 'rekey check' to confirm every store agrees.")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
