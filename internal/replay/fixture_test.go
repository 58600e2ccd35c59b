package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
)

// #region fixture-tests

// runFixture loads a fixture, replays every case and fails on any mismatch.
// This is the regression test for the tier gate: if thresholds or weighting
// change, it catches drift.
func runFixture(t *testing.T, name string) []ReplayResult {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	config, err := f.ToGateConfig()
	if err != nil {
		t.Fatalf("ToGateConfig: %v", err)
	}

	cases := make([]Case, len(f.Cases))
	for i := range f.Cases {
		cases[i] = f.Cases[i].ToCase()
	}

	results := Replay(cases, config)
	if len(results) != len(f.Cases) {
		t.Fatalf("expected %d results, got %d", len(f.Cases), len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("case %s: %v (reason: %s)", r.Name, r.Failures, r.Result.Reason)
		}
	}
	return results
}

func TestFixture_Scenarios(t *testing.T) {
	results := runFixture(t, "scenarios.json")

	s := Summarize(results)
	if s.Gated != 1 {
		t.Errorf("expected 1 gated case, got %d", s.Gated)
	}
	if s.ByTier[gate.Blocked] != 1 {
		t.Errorf("expected 1 blocked case, got %d", s.ByTier[gate.Blocked])
	}
}

func TestFixture_LightRatio(t *testing.T) {
	runFixture(t, "light_ratio.json")
}

func TestFixture_CaseExpansion(t *testing.T) {
	fc := FixtureCase{
		Name:    "expand",
		Actions: gate.FromScores([]float64{0.2}),
		Segments: []FixtureSegment{
			{Scores: []float64{0.9, 0.1}, Repeat: 2},
			{Scores: []float64{0.5}, Repeat: 1},
		},
	}
	c := fc.ToCase()
	want := []float64{0.2, 0.9, 0.1, 0.9, 0.1, 0.5}
	if len(c.History) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(c.History))
	}
	for i, w := range want {
		if c.History[i].Score != w {
			t.Fatalf("action %d: expected %.1f, got %.1f", i, w, c.History[i].Score)
		}
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// TestFixture_BadGateConfig verifies descending thresholds are rejected.
func TestFixture_BadGateConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad_config.json")
	data := `{"gate_config": {"thresholds": [0.9, 0.5, 0.3, 0.1]}, "cases": []}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if _, err := f.ToGateConfig(); err == nil {
		t.Fatal("expected error for descending thresholds")
	}
}

// TestExportFixture_RoundTrip exports recorded decisions and replays the
// written fixture.
func TestExportFixture_RoundTrip(t *testing.T) {
	cfg := gate.DefaultGateConfig()
	g := gate.NewGate(cfg)
	var recs []logging.TierRecord
	for _, h := range [][]gate.Action{repeatScores(0.85, 50), repeatScores(0.1, 30), repeatScores(0.9, 4)} {
		recs = append(recs, logging.NewTierRecord("subject", h, cfg, g.Evaluate(h)))
	}

	f, err := ExportFixture("exported", recs)
	if err != nil {
		t.Fatalf("ExportFixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "exported.json")
	if err := WriteFixture(f, path); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}

	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(loaded.Cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(loaded.Cases))
	}
	config, err := loaded.ToGateConfig()
	if err != nil {
		t.Fatalf("ToGateConfig: %v", err)
	}
	if config != cfg {
		t.Fatalf("gate config changed in export: %+v", config)
	}
	cases := make([]Case, len(loaded.Cases))
	for i := range loaded.Cases {
		cases[i] = loaded.Cases[i].ToCase()
	}
	for _, r := range Replay(cases, config) {
		if !r.Passed {
			t.Errorf("%s: %v", r.Name, r.Failures)
		}
	}
	if loaded.Cases[2].Expected.Gated == nil || !*loaded.Cases[2].Expected.Gated {
		t.Fatal("short history should be exported as gated")
	}
}

// TestExportFixture_MixedConfigs verifies records under different gate
// configs are refused.
func TestExportFixture_MixedConfigs(t *testing.T) {
	a := gate.DefaultGateConfig()
	b := a
	b.MinHistory = 34
	recs := []logging.TierRecord{
		logging.NewTierRecord("s", repeatScores(0.5, 40), a, gate.NewGate(a).Evaluate(repeatScores(0.5, 40))),
		logging.NewTierRecord("s", repeatScores(0.5, 40), b, gate.NewGate(b).Evaluate(repeatScores(0.5, 40))),
	}
	if _, err := ExportFixture("mixed", recs); err == nil {
		t.Fatal("expected error for mixed gate configs")
	}
	if _, err := ExportFixture("empty", nil); err == nil {
		t.Fatal("expected error for no records")
	}
}

// #endregion fixture-tests
