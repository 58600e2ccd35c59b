package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newGenesis(t *testing.T, s *Store, entropy string) identity.GenesisRecord {
	t.Helper()
	rec, err := identity.NewDeriver(digits.Pi()).CreateGenesis([]byte(entropy))
	if err != nil {
		t.Fatalf("CreateGenesis: %v", err)
	}
	if err := s.SaveGenesis(rec); err != nil {
		t.Fatalf("SaveGenesis: %v", err)
	}
	return rec
}

func makeSnapshot(n int) encoder.Snapshot {
	snap := encoder.Snapshot{}
	for i := 0; i < n; i++ {
		v := trajectory.Vector{X: float64(i) * 0.1, Y: float64(i) * 0.3, Timestamp: int64(1000 + i), Dimension: "click_rate"}
		snap.Vectors = append(snap.Vectors, v)
		snap.RecentEncodingHistory = append(snap.RecentEncodingHistory, encoder.EncodedValue{
			Original:  float64(i),
			Dimension: "click_rate",
			Rotated:   v.X,
			Timestamp: v.Timestamp,
		})
	}
	snap.VectorCount = n
	if n > 0 {
		snap.Centroid = trajectory.Point{X: float64(n-1) * 0.05, Y: float64(n-1) * 0.15}
	}
	return snap
}

func TestGenesisRoundTrip(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "alice")

	got, err := s.LoadGenesis(rec.ID)
	if err != nil {
		t.Fatalf("LoadGenesis: %v", err)
	}
	if got != rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
	if res := identity.NewDeriver(digits.Pi()).VerifyGenesis(got); !res.Valid {
		t.Fatalf("stored record should verify: %s", res.Reason)
	}
}

func TestLoadGenesisNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.LoadGenesis("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveGenesisDuplicate(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "bob")
	if err := s.SaveGenesis(rec); err == nil {
		t.Fatal("expected error saving duplicate id")
	}
}

func TestUpdateGenesisLock(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "carol")

	locked, err := identity.Lock(rec, "deadbeef", time.UnixMilli(1_700_000_000_000))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := s.UpdateGenesis(locked); err != nil {
		t.Fatalf("UpdateGenesis: %v", err)
	}

	got, err := s.LoadGenesis(rec.ID)
	if err != nil {
		t.Fatalf("LoadGenesis: %v", err)
	}
	if !got.Locked || got.RootSignature != locked.RootSignature || got.LockedAt != 1_700_000_000_000 {
		t.Fatalf("lock fields not persisted: %+v", got)
	}
	if res := identity.NewDeriver(digits.Pi()).VerifyGenesis(got); !res.Valid {
		t.Fatalf("locked record should verify: %s", res.Reason)
	}

	if err := s.UpdateGenesis(locked); !errors.Is(err, identity.ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	ghost := locked
	ghost.ID = "ghost"
	if err := s.UpdateGenesis(ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateGenesisKeepsDerivedFields(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "dave")

	tampered := rec
	tampered.A += 1
	if err := s.UpdateGenesis(tampered); err != nil {
		t.Fatalf("UpdateGenesis: %v", err)
	}
	got, _ := s.LoadGenesis(rec.ID)
	if got.A != rec.A {
		t.Fatalf("derived field rewritten: %v -> %v", rec.A, got.A)
	}
}

func TestListGenesis(t *testing.T) {
	s := tempDB(t)
	newGenesis(t, s, "one")
	newGenesis(t, s, "two")

	recs, err := s.ListGenesis()
	if err != nil {
		t.Fatalf("ListGenesis: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}

func TestCommitAndRollbackSnapshot(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "erin")

	if _, err := s.CurrentSnapshot(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first commit, got %v", err)
	}

	v1, err := s.CommitSnapshot(rec.ID, makeSnapshot(2))
	if err != nil {
		t.Fatalf("CommitSnapshot v1: %v", err)
	}
	if v1.ParentID != "" {
		t.Fatalf("first version should have no parent, got %s", v1.ParentID)
	}

	v2, err := s.CommitSnapshot(rec.ID, makeSnapshot(5))
	if err != nil {
		t.Fatalf("CommitSnapshot v2: %v", err)
	}
	if v2.ParentID != v1.VersionID {
		t.Fatalf("expected parent %s, got %s", v1.VersionID, v2.ParentID)
	}

	cur, err := s.CurrentSnapshot(rec.ID)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	if cur.VersionID != v2.VersionID || cur.Snapshot.VectorCount != 5 {
		t.Fatalf("expected v2 active, got %s (%d vectors)", cur.VersionID, cur.Snapshot.VectorCount)
	}
	hash, _ := cur.Snapshot.Hash()
	if hash != v2.Hash {
		t.Fatalf("snapshot hash changed across storage: %s vs %s", hash, v2.Hash)
	}

	if err := s.Rollback(rec.ID, v1.VersionID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, _ = s.CurrentSnapshot(rec.ID)
	if cur.VersionID != v1.VersionID {
		t.Fatalf("expected v1 after rollback, got %s", cur.VersionID)
	}

	v3, err := s.CommitSnapshot(rec.ID, makeSnapshot(3))
	if err != nil {
		t.Fatalf("CommitSnapshot v3: %v", err)
	}
	if v3.ParentID != v1.VersionID {
		t.Fatalf("commit after rollback should branch from v1, got parent %s", v3.ParentID)
	}
}

func TestRollbackRejectsForeignVersion(t *testing.T) {
	s := tempDB(t)
	a := newGenesis(t, s, "frank")
	b := newGenesis(t, s, "grace")

	va, err := s.CommitSnapshot(a.ID, makeSnapshot(1))
	if err != nil {
		t.Fatalf("CommitSnapshot: %v", err)
	}
	if _, err := s.CommitSnapshot(b.ID, makeSnapshot(1)); err != nil {
		t.Fatalf("CommitSnapshot: %v", err)
	}

	if err := s.Rollback(b.ID, va.VersionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another subject's version, got %v", err)
	}
	if err := s.Rollback(a.ID, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitSnapshotUnknownSubject(t *testing.T) {
	s := tempDB(t)
	if _, err := s.CommitSnapshot("nobody", makeSnapshot(1)); err == nil {
		t.Fatal("expected foreign key error for unknown subject")
	}
}

func TestListSnapshots(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "heidi")

	var last SnapshotVersion
	for i := 1; i <= 5; i++ {
		v, err := s.CommitSnapshot(rec.ID, makeSnapshot(i))
		if err != nil {
			t.Fatalf("CommitSnapshot %d: %v", i, err)
		}
		last = v
	}

	versions, err := s.ListSnapshots(rec.ID, 3)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].VersionID != last.VersionID {
		t.Fatalf("expected newest first, got %s", versions[0].VersionID)
	}
}

func TestActions(t *testing.T) {
	s := tempDB(t)
	rec := newGenesis(t, s, "ivan")
	other := newGenesis(t, s, "judy")

	for i, score := range []float64{0.1, 0.5, 0.9} {
		if err := s.AppendAction(rec.ID, gate.Action{Score: score, Timestamp: int64(i)}); err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
	}
	if err := s.AppendAction(other.ID, gate.Action{Score: 1}); err != nil {
		t.Fatalf("AppendAction: %v", err)
	}

	actions, err := s.LoadActions(rec.ID)
	if err != nil {
		t.Fatalf("LoadActions: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	if actions[0].Score != 0.1 || actions[2].Score != 0.9 || actions[2].Timestamp != 2 {
		t.Fatalf("actions out of order: %+v", actions)
	}

	empty, err := s.LoadActions("nobody")
	if err != nil {
		t.Fatalf("LoadActions: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no actions, got %d", len(empty))
	}
}

func TestStoreLogDecision(t *testing.T) {
	s := tempDB(t)
	err := s.LogDecision(logging.AuditEntry{SubjectID: "x", TriggerType: logging.TriggerVerify, Decision: "fail"})
	if err != nil {
		t.Fatalf("LogDecision: %v", err)
	}
	entries, err := logging.ListDecisions(s.DB(), "x", "", 10)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(entries) != 1 || entries[0].Decision != "fail" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	rec := newGenesis(t, s, "kim")
	if _, err := s.LoadGenesis(rec.ID); err != nil {
		t.Fatalf("LoadGenesis: %v", err)
	}
}
