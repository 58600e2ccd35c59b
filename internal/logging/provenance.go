// Package logging writes and reads the decision audit trail kept in the
// provenance_log table.
package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region log-decision
// LogDecision writes an audit entry to the provenance_log table.
func LogDecision(db *sql.DB, entry AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (subject_id, version_id, trigger_type, payload_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SubjectID,
		nullIfEmpty(entry.VersionID),
		entry.TriggerType,
		nullIfEmpty(entry.PayloadJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// LogTier records a gate evaluation with its full input as payload.
func LogTier(db *sql.DB, versionID string, rec TierRecord) error {
	entry, err := TierEntry(versionID, rec)
	if err != nil {
		return err
	}
	return LogDecision(db, entry)
}

// TierEntry builds the audit entry for a gate evaluation.
func TierEntry(versionID string, rec TierRecord) (AuditEntry, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("marshal tier record: %w", err)
	}
	return AuditEntry{
		SubjectID:   rec.SubjectID,
		VersionID:   versionID,
		TriggerType: TriggerScore,
		PayloadJSON: string(payload),
		Decision:    rec.Tier.String(),
		Reason:      rec.Reason,
	}, nil
}

// PayloadEntry builds a pass/fail audit entry with v as JSON payload.
func PayloadEntry(subjectID, versionID, trigger string, passed bool, reason string, v any) (AuditEntry, error) {
	entry := AuditEntry{
		SubjectID:   subjectID,
		VersionID:   versionID,
		TriggerType: trigger,
		Decision:    DecisionFail,
		Reason:      reason,
	}
	if passed {
		entry.Decision = DecisionPass
	}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			return AuditEntry{}, fmt.Errorf("marshal %s payload: %w", trigger, err)
		}
		entry.PayloadJSON = string(payload)
	}
	return entry, nil
}

// #endregion log-decision

// #region list-decisions
// ListDecisions returns audit entries newest first. An empty subjectID lists
// every subject; an empty trigger lists every trigger.
func ListDecisions(db *sql.DB, subjectID, trigger string, limit int) ([]AuditEntry, error) {
	rows, err := db.Query(
		`SELECT id, subject_id, version_id, trigger_type, payload_json, decision, reason, created_at
		 FROM provenance_log
		 WHERE (? = '' OR subject_id = ?) AND (? = '' OR trigger_type = ?)
		 ORDER BY id DESC LIMIT ?`,
		subjectID, subjectID, trigger, trigger, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var versionID, payload, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.ID, &e.SubjectID, &versionID, &e.TriggerType, &payload, &e.Decision, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.VersionID = versionID.String
		e.PayloadJSON = payload.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TierRecords decodes the payloads of score entries, oldest first.
func TierRecords(entries []AuditEntry) ([]TierRecord, error) {
	var recs []TierRecord
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.TriggerType != TriggerScore || e.PayloadJSON == "" {
			continue
		}
		var rec TierRecord
		if err := json.Unmarshal([]byte(e.PayloadJSON), &rec); err != nil {
			return nil, fmt.Errorf("decode tier record %d: %w", e.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// #endregion list-decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
