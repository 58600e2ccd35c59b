// Package subject keeps independent per-subject identity, encoder and action
// history instances, optionally backed by persistent storage.
package subject

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
	"github.com/danielpatrickdp/equilibrium/internal/state"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// ErrNotFound is returned for unknown subject IDs.
var ErrNotFound = errors.New("subject not found")

// #region config
// Config bundles the per-subject component configurations.
type Config struct {
	Encoder    encoder.Config    `yaml:"encoder"`
	Predictor  trajectory.Config `yaml:"predictor"`
	Gate       gate.GateConfig   `yaml:"gate"`
	MaxActions int               `yaml:"max_actions"` // retained action history, 0 keeps everything
}

// DefaultConfig returns the default component configurations.
func DefaultConfig() Config {
	return Config{
		Encoder:    encoder.DefaultConfig(),
		Predictor:  trajectory.DefaultConfig(),
		Gate:       gate.DefaultGateConfig(),
		MaxActions: 10000,
	}
}

// Validate checks every sub-configuration.
func (c Config) Validate() error {
	if err := c.Encoder.Validate(); err != nil {
		return err
	}
	if err := c.Gate.Validate(); err != nil {
		return err
	}
	if c.MaxActions < 0 {
		return fmt.Errorf("subject config: max actions %d is negative", c.MaxActions)
	}
	return nil
}

// #endregion config

// #region persister
// Persister stores subjects between runs. *state.Store implements it.
type Persister interface {
	SaveGenesis(rec identity.GenesisRecord) error
	LoadGenesis(id string) (identity.GenesisRecord, error)
	UpdateGenesis(rec identity.GenesisRecord) error
	CommitSnapshot(subjectID string, snap encoder.Snapshot) (state.SnapshotVersion, error)
	CurrentSnapshot(subjectID string) (state.SnapshotVersion, error)
	Rollback(subjectID, versionID string) error
	AppendAction(subjectID string, a gate.Action) error
	LoadActions(subjectID string) ([]gate.Action, error)
	LogDecision(entry logging.AuditEntry) error
}

// #endregion persister

// #region subject
// Subject is one identity with its own encoder and action history. The
// encoder serializes its own calls; mu guards everything else. lockMu is
// held for the whole of a Lock so only one caller snapshots.
type Subject struct {
	enc *encoder.Encoder

	lockMu sync.Mutex

	mu        sync.Mutex
	genesis   identity.GenesisRecord
	actions   []gate.Action
	versionID string
}

// ID returns the genesis record ID.
func (s *Subject) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genesis.ID
}

// Genesis returns a copy of the genesis record.
func (s *Subject) Genesis() identity.GenesisRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genesis
}

// Encoder returns the subject's encoder.
func (s *Subject) Encoder() *encoder.Encoder {
	return s.enc
}

// Actions returns a copy of the action history, oldest first.
func (s *Subject) Actions() []gate.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gate.Action(nil), s.actions...)
}

// VersionID is the snapshot version the subject was last saved as or
// restored from. Empty when nothing was persisted.
func (s *Subject) VersionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionID
}

// #endregion subject
