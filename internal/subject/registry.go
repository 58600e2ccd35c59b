package subject

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
	"github.com/danielpatrickdp/equilibrium/internal/state"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// #region registry
// Registry maps subject IDs to independent subjects. Calls on different
// subjects never contend beyond the map lookup.
type Registry struct {
	deriver *identity.Deriver
	config  Config
	gate    *gate.Gate
	store   Persister // nil keeps subjects in memory only
	now     func() time.Time

	mu       sync.RWMutex
	subjects map[string]*Subject
}

// NewRegistry creates a registry over src. store may be nil.
func NewRegistry(src digits.Source, config Config, store Persister) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		deriver:  identity.NewDeriver(src),
		config:   config,
		gate:     gate.NewGate(config.Gate),
		store:    store,
		now:      time.Now,
		subjects: make(map[string]*Subject),
	}, nil
}

// SetClock replaces the time source for new subjects, actions and proofs.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	for _, s := range r.subjects {
		s.enc.SetClock(now)
	}
}

// Deriver returns the registry's deriver.
func (r *Registry) Deriver() *identity.Deriver {
	return r.deriver
}

// Gate returns the registry's tier gate.
func (r *Registry) Gate() *gate.Gate {
	return r.gate
}

// IDs lists the subjects currently held in memory.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subjects))
	for id := range r.subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) clock() func() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now
}

// #endregion registry

// #region create-load
// Create derives a new subject from entropy and persists its genesis record.
func (r *Registry) Create(entropy []byte) (*Subject, error) {
	rec, err := r.deriver.CreateGenesis(entropy)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = r.clock()().UTC().UnixMilli()

	s, err := r.newSubject(rec)
	if err != nil {
		return nil, err
	}
	if r.store != nil {
		if err := r.store.SaveGenesis(rec); err != nil {
			return nil, fmt.Errorf("create subject: %w", err)
		}
	}

	r.mu.Lock()
	r.subjects[rec.ID] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) newSubject(rec identity.GenesisRecord) (*Subject, error) {
	enc, err := encoder.New(r.deriver.Source(), rec.Derivation(), r.config.Encoder, r.config.Predictor)
	if err != nil {
		return nil, fmt.Errorf("new subject %s: %w", rec.ID, err)
	}
	enc.SetClock(r.clock())
	return &Subject{enc: enc, genesis: rec}, nil
}

// Get returns a subject held in memory, loading it from the store on first
// use.
func (r *Registry) Get(id string) (*Subject, error) {
	r.mu.RLock()
	s, ok := r.subjects[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	return r.Load(id)
}

// Load reads a subject from the store, verifies its genesis record and
// restores its active snapshot and action history. A record that does not
// re-derive is rejected with a *identity.TamperError.
func (r *Registry) Load(id string) (*Subject, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec, err := r.store.LoadGenesis(id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}

	res := r.deriver.VerifyGenesis(rec)
	if err := r.audit(logging.PayloadEntry(id, "", logging.TriggerVerify, res.Valid, res.Reason, res)); err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, fmt.Errorf("load subject %s: %w", id, res.Err())
	}

	s, err := r.newSubject(rec)
	if err != nil {
		return nil, err
	}
	v, err := r.store.CurrentSnapshot(id)
	switch {
	case err == nil:
		s.enc.Restore(v.Snapshot)
		s.versionID = v.VersionID
	case !errors.Is(err, state.ErrNotFound):
		return nil, fmt.Errorf("load subject %s: %w", id, err)
	}
	actions, err := r.store.LoadActions(id)
	if err != nil {
		return nil, fmt.Errorf("load subject %s: %w", id, err)
	}
	s.actions = r.trimActions(actions)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subjects[id]; ok {
		return existing, nil
	}
	r.subjects[id] = s
	return s, nil
}

// Verify re-derives the subject's genesis record as currently stored.
func (r *Registry) Verify(id string) (identity.VerificationResult, error) {
	var rec identity.GenesisRecord
	if r.store != nil {
		var err error
		rec, err = r.store.LoadGenesis(id)
		if errors.Is(err, state.ErrNotFound) {
			return identity.VerificationResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return identity.VerificationResult{}, fmt.Errorf("verify subject: %w", err)
		}
	} else {
		s, err := r.Get(id)
		if err != nil {
			return identity.VerificationResult{}, err
		}
		rec = s.Genesis()
	}
	res := r.deriver.VerifyGenesis(rec)
	if err := r.audit(logging.PayloadEntry(id, "", logging.TriggerVerify, res.Valid, res.Reason, res)); err != nil {
		return res, err
	}
	return res, nil
}

// #endregion create-load

// #region encode
// Encode encodes one measurement for subject id.
func (r *Registry) Encode(id string, value float64, dimension string) (encoder.EncodedValue, error) {
	s, err := r.Get(id)
	if err != nil {
		return encoder.EncodedValue{}, err
	}
	return s.enc.Encode(value, dimension)
}

// Decode inverts an encoding with subject id's quadratic.
func (r *Registry) Decode(id string, ev encoder.EncodedValue) (encoder.DecodedResult, error) {
	s, err := r.Get(id)
	if err != nil {
		return encoder.DecodedResult{}, err
	}
	return s.enc.Decode(ev), nil
}

// Predict projects subject id's accumulated behavior toward its vertex.
func (r *Registry) Predict(id string) (trajectory.Prediction, error) {
	s, err := r.Get(id)
	if err != nil {
		return trajectory.Prediction{}, err
	}
	return s.enc.Predict(), nil
}

// #endregion encode

// #region actions
// RecordAction appends a scored action and returns the new history length.
// A zero timestamp is filled from the registry clock.
func (r *Registry) RecordAction(id string, a gate.Action) (int, error) {
	s, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	if a.Timestamp == 0 {
		a.Timestamp = r.clock()().UTC().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.store != nil {
		if err := r.store.AppendAction(id, a); err != nil {
			return 0, err
		}
	}
	s.actions = r.trimActions(append(s.actions, a))
	return len(s.actions), nil
}

// Score evaluates subject id's action history and records the decision.
func (r *Registry) Score(id string) (gate.Result, error) {
	s, err := r.Get(id)
	if err != nil {
		return gate.Result{}, err
	}
	actions := s.Actions()
	res := r.gate.Evaluate(actions)
	rec := logging.NewTierRecord(id, actions, r.config.Gate, res)
	if err := r.audit(logging.TierEntry(s.VersionID(), rec)); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Registry) trimActions(actions []gate.Action) []gate.Action {
	if limit := r.config.MaxActions; limit > 0 && len(actions) > limit {
		n := copy(actions, actions[len(actions)-limit:])
		return actions[:n]
	}
	return actions
}

// #endregion actions

// #region snapshot-lock
// Snapshot exports subject id's encoder state. With a store it is committed
// as a new version; without one the version ID stays empty.
func (r *Registry) Snapshot(id string) (state.SnapshotVersion, error) {
	s, err := r.Get(id)
	if err != nil {
		return state.SnapshotVersion{}, err
	}
	return r.snapshot(s)
}

func (r *Registry) snapshot(s *Subject) (state.SnapshotVersion, error) {
	snap := s.enc.Snapshot()
	id := s.ID()
	if r.store == nil {
		hash, err := snap.Hash()
		if err != nil {
			return state.SnapshotVersion{}, err
		}
		return state.SnapshotVersion{SubjectID: id, Hash: hash, Snapshot: snap, CreatedAt: r.clock()().UTC()}, nil
	}
	v, err := r.store.CommitSnapshot(id, snap)
	if err != nil {
		return state.SnapshotVersion{}, fmt.Errorf("snapshot %s: %w", id, err)
	}
	s.mu.Lock()
	s.versionID = v.VersionID
	s.mu.Unlock()
	return v, nil
}

// Rollback restores subject id's encoder to a stored snapshot version.
func (r *Registry) Rollback(id, versionID string) error {
	if r.store == nil {
		return fmt.Errorf("rollback %s: no store configured", id)
	}
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := r.store.Rollback(id, versionID); err != nil {
		return err
	}
	v, err := r.store.CurrentSnapshot(id)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", id, err)
	}
	s.enc.Restore(v.Snapshot)
	s.mu.Lock()
	s.versionID = v.VersionID
	s.mu.Unlock()
	return nil
}

// Lock snapshots subject id, folds the snapshot hash into its genesis
// record and persists the root signature. It succeeds once per subject.
func (r *Registry) Lock(id string) (identity.GenesisRecord, error) {
	s, err := r.Get(id)
	if err != nil {
		return identity.GenesisRecord{}, err
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.Genesis().Locked {
		return identity.GenesisRecord{}, fmt.Errorf("lock %s: %w", id, identity.ErrAlreadyLocked)
	}

	v, err := r.snapshot(s)
	if err != nil {
		return identity.GenesisRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := identity.Lock(s.genesis, v.Hash, r.clock()())
	if err != nil {
		return identity.GenesisRecord{}, fmt.Errorf("lock %s: %w", id, err)
	}
	if r.store != nil {
		if err := r.store.UpdateGenesis(locked); err != nil {
			return identity.GenesisRecord{}, err
		}
	}
	s.genesis = locked
	if err := r.audit(logging.PayloadEntry(id, v.VersionID, logging.TriggerLock, true, "snapshot "+v.Hash, nil)); err != nil {
		return locked, err
	}
	return locked, nil
}

// #endregion snapshot-lock

// #region ownership
// ProveOwnership builds an ownership proof for subject id over its current
// encoding count.
func (r *Registry) ProveOwnership(id string) (identity.OwnershipProof, error) {
	s, err := r.Get(id)
	if err != nil {
		return identity.OwnershipProof{}, err
	}
	return r.deriver.ProveOwnership(s.Genesis().Offset, s.enc.DataPoints(), r.clock()())
}

// VerifyOwnership checks a proof with this registry's digit source. id is
// only used to attribute the audit entry and may be empty.
func (r *Registry) VerifyOwnership(id string, p identity.OwnershipProof) error {
	verr := r.deriver.VerifyOwnership(p)
	reason := "proof verified"
	if verr != nil {
		reason = verr.Error()
	}
	if err := r.audit(logging.PayloadEntry(id, "", logging.TriggerOwnership, verr == nil, reason, p.Data)); err != nil {
		return err
	}
	return verr
}

// SealGenesis signs subject id's current genesis record with key. Locking
// afterwards changes the record, so seal a locked record.
func (r *Registry) SealGenesis(id string, key ed25519.PrivateKey) (identity.Seal, error) {
	s, err := r.Get(id)
	if err != nil {
		return identity.Seal{}, err
	}
	seal, err := identity.SealRecord(s.Genesis(), key)
	if err != nil {
		return identity.Seal{}, err
	}
	if err := r.audit(logging.PayloadEntry(id, "", logging.TriggerSeal, true, "sealed by "+seal.PublicKey, seal)); err != nil {
		return seal, err
	}
	return seal, nil
}

// VerifyGenesisSeal checks seal against subject id's current genesis record.
func (r *Registry) VerifyGenesisSeal(id string, seal identity.Seal) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	verr := identity.VerifySeal(s.Genesis(), seal)
	reason := "seal verified"
	if verr != nil {
		reason = verr.Error()
	}
	if err := r.audit(logging.PayloadEntry(id, "", logging.TriggerSeal, verr == nil, reason, seal)); err != nil {
		return err
	}
	return verr
}

// #endregion ownership

// #region audit
func (r *Registry) audit(entry logging.AuditEntry, err error) error {
	if err != nil {
		return err
	}
	if r.store == nil {
		return nil
	}
	if err := r.store.LogDecision(entry); err != nil {
		return fmt.Errorf("audit %s: %w", entry.TriggerType, err)
	}
	return nil
}

// #endregion audit
