// Package state persists genesis records, versioned encoder snapshots, action
// histories and the decision audit log in SQLite.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS genesis_records (
	id               TEXT PRIMARY KEY,
	offset_index     INTEGER NOT NULL,
	source_version   TEXT NOT NULL,
	a                REAL NOT NULL,
	b                REAL NOT NULL,
	c                REAL NOT NULL,
	vertex_x         REAL NOT NULL,
	vertex_y         REAL NOT NULL,
	derivation_proof TEXT NOT NULL,
	entropy_proof    TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	locked           INTEGER NOT NULL DEFAULT 0,
	snapshot_hash    TEXT,
	root_signature   TEXT,
	locked_at        INTEGER
);

CREATE TABLE IF NOT EXISTS snapshot_versions (
	version_id    TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	parent_id     TEXT,
	snapshot_json TEXT NOT NULL,
	snapshot_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (subject_id) REFERENCES genesis_records(id),
	FOREIGN KEY (parent_id) REFERENCES snapshot_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_snapshot (
	subject_id    TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	FOREIGN KEY (subject_id) REFERENCES genesis_records(id),
	FOREIGN KEY (version_id) REFERENCES snapshot_versions(version_id)
);

CREATE TABLE IF NOT EXISTS action_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id    TEXT NOT NULL,
	score         REAL NOT NULL,
	timestamp     INTEGER NOT NULL,
	FOREIGN KEY (subject_id) REFERENCES genesis_records(id)
);

CREATE INDEX IF NOT EXISTS idx_action_history_subject ON action_history(subject_id, id);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id    TEXT NOT NULL,
	version_id    TEXT,
	trigger_type  TEXT NOT NULL,
	payload_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
`
// #endregion schema

// #region store-struct
// Store manages subjects in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// LogDecision appends an entry to the audit log.
func (s *Store) LogDecision(entry logging.AuditEntry) error {
	return logging.LogDecision(s.db, entry)
}
// #endregion db-accessor

// #region genesis
// SaveGenesis inserts a new genesis record.
func (s *Store) SaveGenesis(rec identity.GenesisRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO genesis_records (id, offset_index, source_version, a, b, c, vertex_x, vertex_y,
			derivation_proof, entropy_proof, created_at, locked, snapshot_hash, root_signature, locked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Offset, rec.SourceVersion, rec.A, rec.B, rec.C, rec.VertexX, rec.VertexY,
		rec.DerivationProof, rec.EntropyProof, rec.CreatedAt, boolInt(rec.Locked),
		nullIfEmpty(rec.SnapshotHash), nullIfEmpty(rec.RootSignature), nullIfZero(rec.LockedAt),
	)
	if err != nil {
		return fmt.Errorf("insert genesis %s: %w", rec.ID, err)
	}
	return nil
}

// LoadGenesis reads a genesis record exactly as stored. Callers verify it.
func (s *Store) LoadGenesis(id string) (identity.GenesisRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, offset_index, source_version, a, b, c, vertex_x, vertex_y, derivation_proof,
			entropy_proof, created_at, locked, snapshot_hash, root_signature, locked_at
		 FROM genesis_records WHERE id = ?`, id,
	)
	rec, err := scanGenesis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.GenesisRecord{}, fmt.Errorf("genesis %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return identity.GenesisRecord{}, fmt.Errorf("get genesis %s: %w", id, err)
	}
	return rec, nil
}

// UpdateGenesis persists the lock fields of rec. Derived fields are never
// rewritten, and an already locked record cannot be locked again.
func (s *Store) UpdateGenesis(rec identity.GenesisRecord) error {
	res, err := s.db.Exec(
		`UPDATE genesis_records SET locked = ?, snapshot_hash = ?, root_signature = ?, locked_at = ?
		 WHERE id = ? AND locked = 0`,
		boolInt(rec.Locked), nullIfEmpty(rec.SnapshotHash), nullIfEmpty(rec.RootSignature),
		nullIfZero(rec.LockedAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update genesis %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update genesis %s: %w", rec.ID, err)
	}
	if n == 0 {
		if _, err := s.LoadGenesis(rec.ID); err != nil {
			return err
		}
		return fmt.Errorf("update genesis %s: %w", rec.ID, identity.ErrAlreadyLocked)
	}
	return nil
}

// ListGenesis returns every genesis record, oldest first.
func (s *Store) ListGenesis() ([]identity.GenesisRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, offset_index, source_version, a, b, c, vertex_x, vertex_y, derivation_proof,
			entropy_proof, created_at, locked, snapshot_hash, root_signature, locked_at
		 FROM genesis_records ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list genesis: %w", err)
	}
	defer rows.Close()

	var recs []identity.GenesisRecord
	for rows.Next() {
		rec, err := scanGenesis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan genesis: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGenesis(sc scanner) (identity.GenesisRecord, error) {
	var rec identity.GenesisRecord
	var locked int
	var snapHash, rootSig sql.NullString
	var lockedAt sql.NullInt64
	err := sc.Scan(&rec.ID, &rec.Offset, &rec.SourceVersion, &rec.A, &rec.B, &rec.C,
		&rec.VertexX, &rec.VertexY, &rec.DerivationProof, &rec.EntropyProof, &rec.CreatedAt,
		&locked, &snapHash, &rootSig, &lockedAt)
	if err != nil {
		return identity.GenesisRecord{}, err
	}
	rec.Locked = locked != 0
	rec.SnapshotHash = snapHash.String
	rec.RootSignature = rootSig.String
	rec.LockedAt = lockedAt.Int64
	return rec, nil
}
// #endregion genesis

// #region commit-snapshot
// CommitSnapshot inserts a new snapshot version for subjectID, parented on
// the current active version, and moves the active pointer atomically.
func (s *Store) CommitSnapshot(subjectID string, snap encoder.Snapshot) (SnapshotVersion, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return SnapshotVersion{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	hash, err := snap.Hash()
	if err != nil {
		return SnapshotVersion{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SnapshotVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_snapshot WHERE subject_id = ?`, subjectID).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return SnapshotVersion{}, fmt.Errorf("get active: %w", err)
	}

	v := SnapshotVersion{
		VersionID: uuid.New().String(),
		SubjectID: subjectID,
		ParentID:  parent.String,
		Hash:      hash,
		Snapshot:  snap,
		CreatedAt: time.Now().UTC(),
	}

	var parentPtr interface{}
	if v.ParentID != "" {
		parentPtr = v.ParentID
	}

	_, err = tx.Exec(
		`INSERT INTO snapshot_versions (version_id, subject_id, parent_id, snapshot_json, snapshot_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, subjectID, parentPtr, string(data), hash, v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SnapshotVersion{}, fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_snapshot (subject_id, version_id) VALUES (?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET version_id = excluded.version_id`,
		subjectID, v.VersionID,
	)
	if err != nil {
		return SnapshotVersion{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SnapshotVersion{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}
// #endregion commit-snapshot

// #region get-snapshot
// CurrentSnapshot reads the active snapshot version of subjectID.
func (s *Store) CurrentSnapshot(subjectID string) (SnapshotVersion, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_snapshot WHERE subject_id = ?`, subjectID).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotVersion{}, fmt.Errorf("active snapshot of %s: %w", subjectID, ErrNotFound)
	}
	if err != nil {
		return SnapshotVersion{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetSnapshot(versionID)
}

// GetSnapshot retrieves a specific snapshot version by ID.
func (s *Store) GetSnapshot(versionID string) (SnapshotVersion, error) {
	row := s.db.QueryRow(
		`SELECT version_id, subject_id, parent_id, snapshot_json, snapshot_hash, created_at
		 FROM snapshot_versions WHERE version_id = ?`, versionID,
	)
	v, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotVersion{}, fmt.Errorf("snapshot %s: %w", versionID, ErrNotFound)
	}
	if err != nil {
		return SnapshotVersion{}, fmt.Errorf("get snapshot %s: %w", versionID, err)
	}
	return v, nil
}

func scanSnapshot(sc scanner) (SnapshotVersion, error) {
	var v SnapshotVersion
	var parentID sql.NullString
	var data, createdStr string
	if err := sc.Scan(&v.VersionID, &v.SubjectID, &parentID, &data, &v.Hash, &createdStr); err != nil {
		return SnapshotVersion{}, err
	}
	v.ParentID = parentID.String
	if err := json.Unmarshal([]byte(data), &v.Snapshot); err != nil {
		return SnapshotVersion{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return v, nil
}
// #endregion get-snapshot

// #region rollback
// Rollback sets the active pointer of subjectID to a previous version.
func (s *Store) Rollback(subjectID, targetVersionID string) error {
	// Verify the target version exists and belongs to the subject
	var owner string
	err := s.db.QueryRow(
		`SELECT subject_id FROM snapshot_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != subjectID) {
		return fmt.Errorf("version %s of %s: %w", targetVersionID, subjectID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}

	_, err = s.db.Exec(`UPDATE active_snapshot SET version_id = ? WHERE subject_id = ?`, targetVersionID, subjectID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
// #endregion rollback

// #region list-snapshots
// ListSnapshots returns the most recent snapshot versions of subjectID.
func (s *Store) ListSnapshots(subjectID string, limit int) ([]SnapshotVersion, error) {
	rows, err := s.db.Query(
		`SELECT version_id, subject_id, parent_id, snapshot_json, snapshot_hash, created_at
		 FROM snapshot_versions WHERE subject_id = ? ORDER BY rowid DESC LIMIT ?`,
		subjectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var versions []SnapshotVersion
	for rows.Next() {
		v, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
// #endregion list-snapshots

// #region actions
// AppendAction records one scored action for subjectID.
func (s *Store) AppendAction(subjectID string, a gate.Action) error {
	_, err := s.db.Exec(
		`INSERT INTO action_history (subject_id, score, timestamp) VALUES (?, ?, ?)`,
		subjectID, a.Score, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// LoadActions returns the action history of subjectID, oldest first.
func (s *Store) LoadActions(subjectID string) ([]gate.Action, error) {
	rows, err := s.db.Query(
		`SELECT score, timestamp FROM action_history WHERE subject_id = ? ORDER BY id`, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()

	var actions []gate.Action
	for rows.Next() {
		var a gate.Action
		if err := rows.Scan(&a.Score, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
// #endregion actions

// #region helpers
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
// #endregion helpers
