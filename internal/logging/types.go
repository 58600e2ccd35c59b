package logging

import (
	"time"

	"github.com/danielpatrickdp/equilibrium/internal/gate"
)

// #region triggers
// Trigger names the operation that produced an audit entry.
const (
	TriggerScore     = "score"
	TriggerVerify    = "verify"
	TriggerLock      = "lock"
	TriggerOwnership = "ownership"
	TriggerSeal      = "seal"
)

// Decisions recorded for non-score triggers.
const (
	DecisionPass = "pass"
	DecisionFail = "fail"
)

// #endregion triggers

// #region audit-entry
// AuditEntry is a single row in the provenance_log table.
type AuditEntry struct {
	ID          int64
	SubjectID   string
	VersionID   string // snapshot version active at decision time, if any
	TriggerType string
	PayloadJSON string
	Decision    string // tier name for scores, "pass" | "fail" otherwise
	Reason      string
	CreatedAt   time.Time
}

// #endregion audit-entry

// #region tier-record
// TierRecord captures the complete gate input and output for one score.
// Serialized as JSON into provenance_log.payload_json for deterministic replay.
type TierRecord struct {
	SubjectID string `json:"subject_id"`

	// Exact history as evaluated, oldest first
	Actions []gate.Action `json:"actions"`

	// Gate thresholds active at decision time
	Config gate.GateConfig `json:"config"`

	// Gate output
	Tier        gate.Tier         `json:"tier"`
	Gated       bool              `json:"gated"`
	Remaining   int               `json:"remaining,omitempty"`
	Reason      string            `json:"reason"`
	Diagnostics *gate.Diagnostics `json:"diagnostics,omitempty"`
}

// NewTierRecord bundles a gate evaluation for the audit log.
func NewTierRecord(subjectID string, actions []gate.Action, config gate.GateConfig, res gate.Result) TierRecord {
	return TierRecord{
		SubjectID:   subjectID,
		Actions:     actions,
		Config:      config,
		Tier:        res.Tier,
		Gated:       res.Gated,
		Remaining:   res.Remaining,
		Reason:      res.Reason,
		Diagnostics: res.Diagnostics,
	}
}

// Result reassembles the recorded gate output.
func (r TierRecord) Result() gate.Result {
	return gate.Result{
		Tier:        r.Tier,
		Gated:       r.Gated,
		Remaining:   r.Remaining,
		Reason:      r.Reason,
		Diagnostics: r.Diagnostics,
	}
}

// #endregion tier-record
