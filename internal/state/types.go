package state

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
)

// ErrNotFound is returned when a genesis record or snapshot version is missing.
var ErrNotFound = errors.New("not found")

// #region snapshot-version
// SnapshotVersion is one committed encoder snapshot of a subject.
type SnapshotVersion struct {
	VersionID string
	SubjectID string
	ParentID  string
	Hash      string // SHA-256 of the snapshot JSON
	Snapshot  encoder.Snapshot
	CreatedAt time.Time
}

// #endregion snapshot-version
