// Package bootstrap replaces the placeholder secrets a fresh deployment ships
// with and marks the deployment as initialized.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/internal/metrics"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/internal/services"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/secretgen"
	"github.com/systmms/rekey/pkg/secrets"
	"github.com/systmms/rekey/pkg/token"
)

// State is the bootstrap state of a deployment.
type State int

const (
	Uninitialized State = iota
	Initialized
)

func (s State) String() string {
	if s == Initialized {
		return "initialized"
	}
	return "uninitialized"
}

// Deps are the collaborators an Initializer works against.
type Deps struct {
	Config  store.ConfigStore
	Marker  *store.Marker
	DataDir *store.DataDir
	// Services stops DatabaseService before its data directory is cleared.
	Services        services.Orchestrator
	DatabaseService string
	History         storage.Storage
	Metrics         *metrics.Metrics

	Generator *secretgen.Generator
	Logger    *logging.Logger

	Issuer     string
	ConfigPath string
	Now        func() time.Time
}

// Initializer performs the one-time bootstrap.
type Initializer struct {
	deps Deps
}

// New fills in defaults for optional dependencies.
func New(deps Deps) *Initializer {
	if deps.Generator == nil {
		deps.Generator = secretgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DataDir == nil {
		deps.DataDir = store.NewDataDir("")
	}
	if deps.Issuer == "" {
		deps.Issuer = "supabase"
	}
	return &Initializer{deps: deps}
}

// Result reports what Initialize did.
type Result struct {
	AlreadyInitialized bool
	Generated          []secrets.Class
	TokensMinted       bool
	DataCleared        bool
	Snapshot           string
}

// State reports whether the marker is present.
func (in *Initializer) State() (State, error) {
	ok, err := in.deps.Marker.Exists()
	if err != nil {
		return Uninitialized, err
	}
	if ok {
		return Initialized, nil
	}
	return Uninitialized, nil
}

// Initialize generates every secret that is absent or a placeholder, mints the
// derived tokens when needed and writes the config record once. Running it
// again after success changes nothing.
func (in *Initializer) Initialize(ctx context.Context) (*Result, error) {
	log := in.deps.Logger

	state, err := in.State()
	if err != nil {
		return nil, err
	}
	if state == Initialized {
		in.reportInitialized()
		return &Result{AlreadyInitialized: true}, nil
	}

	current, err := in.deps.Config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", in.deps.Config.Location(), err)
	}

	next := current
	res := &Result{}
	for _, class := range secrets.Classes() {
		if !secrets.IsPlaceholder(current.Secret(class)) {
			log.Debug("Keeping existing %s", class.Title())
			continue
		}
		value, err := in.deps.Generator.Generate(class)
		if err != nil {
			return nil, err
		}
		next.SetSecret(class, value)
		res.Generated = append(res.Generated, class)
	}

	if generated(res, secrets.SigningSecret) || token.IsPlaceholder(current.AnonToken) || token.IsPlaceholder(current.ServiceToken) {
		anon, service, err := token.MintPair(next.SigningSecret, in.deps.Issuer, in.deps.Now())
		if err != nil {
			return nil, err
		}
		next.SetToken(secrets.Anon, anon.Value)
		next.SetToken(secrets.ServiceRole, service.Value)
		res.TokensMinted = true
	}

	// From here on the run completes even if the operator interrupts it.
	ctx = context.WithoutCancel(ctx)

	// The database only applies the configured password when it initialises
	// an empty data directory.
	if generated(res, secrets.Password) {
		cleared, err := in.clearDataDir(ctx)
		if err != nil {
			return nil, err
		}
		res.DataCleared = cleared
	}

	if len(res.Generated) > 0 || res.TokensMinted {
		snapshot, err := in.deps.Config.Snapshot("pre-init")
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", in.deps.Config.Location(), err)
		}
		res.Snapshot = snapshot
		if snapshot != "" {
			log.Info("Config snapshot saved to %s", snapshot)
		}

		if err := in.deps.Config.Save(next); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", in.deps.Config.Location(), err)
		}
		for _, class := range res.Generated {
			log.Info("Generated %s", class.Title())
		}
		if res.TokensMinted {
			log.Info("Minted %s and %s tokens", secrets.Anon, secrets.ServiceRole)
		}
	} else {
		log.Info("All secrets in %s are already set", in.deps.Config.Location())
	}

	in.recordEpochs(next)

	generatedNames := make([]string, 0, len(res.Generated))
	for _, c := range res.Generated {
		generatedNames = append(generatedNames, c.String())
	}
	if err := in.deps.Marker.Write(store.MarkerInfo{
		InitializedAt: in.deps.Now().UTC(),
		ConfigPath:    in.deps.ConfigPath,
		Generated:     generatedNames,
		TokensMinted:  res.TokensMinted,
		DataCleared:   res.DataCleared,
	}); err != nil {
		return nil, fmt.Errorf("config written but marker could not be saved: %w", err)
	}

	log.Info("Deployment initialized")
	return res, nil
}

func generated(res *Result, class secrets.Class) bool {
	for _, c := range res.Generated {
		if c == class {
			return true
		}
	}
	return false
}

func (in *Initializer) clearDataDir(ctx context.Context) (bool, error) {
	dir := in.deps.DataDir
	hasData, err := dir.HasData()
	if err != nil || !hasData {
		return false, err
	}

	in.deps.Logger.Warn("Database data directory %s holds data created with the old password; clearing it", dir.Path())
	if in.deps.Services != nil && in.deps.DatabaseService != "" {
		if err := in.deps.Services.Stop(ctx, in.deps.DatabaseService); err != nil {
			return false, fmt.Errorf("failed to stop %s before clearing its data: %w", in.deps.DatabaseService, err)
		}
	}
	if err := dir.Clear(); err != nil {
		return false, err
	}
	return true, nil
}

// recordEpochs starts every class without history at epoch 1.
func (in *Initializer) recordEpochs(m secrets.Material) {
	if in.deps.History == nil {
		return
	}
	now := in.deps.Now().UTC()
	for _, class := range secrets.Classes() {
		_, err := in.deps.History.GetStatus(class.String())
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNoStatus) {
			in.deps.Logger.Warn("Failed to read %s history: %v", class, err)
			continue
		}

		entry := &storage.HistoryEntry{
			Timestamp: now,
			Class:     class.String(),
			Action:    storage.ActionBootstrap,
			Status:    storage.StatusActive,
		}
		if class == secrets.EncryptionKey {
			entry.Fingerprint = secrets.Fingerprint(m.EncryptionKey)
		}
		st, err := storage.Record(in.deps.History, entry)
		if err != nil {
			in.deps.Logger.Warn("Failed to record %s history: %v", class, err)
			continue
		}
		in.deps.Metrics.RecordEpoch(class.String(), st.Epoch, st.LastRotation)
	}
}

func (in *Initializer) reportInitialized() {
	log := in.deps.Logger
	info, err := in.deps.Marker.Read()
	if err != nil {
		log.Info("Deployment already initialized")
		return
	}
	log.Info("Deployment already initialized on %s", info.InitializedAt.Format(time.RFC3339))

	m, err := in.deps.Config.Load()
	if err != nil {
		return
	}
	for _, class := range secrets.Classes() {
		if secrets.IsPlaceholder(m.Secret(class)) {
			log.Warn("%s in %s is a placeholder although the deployment is marked initialized", class.Title(), in.deps.Config.Location())
			log.Warn("Remove %s and run 'rekey init' again to bootstrap from scratch", in.deps.Marker.Path())
			return
		}
	}
}
