package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string           `json:"description"`
	GateConfig  *json.RawMessage `json:"gate_config,omitempty"` // overrides over the default gate config
	Cases       []FixtureCase    `json:"cases"`
}

// FixtureCase is one named action history with its expected outcome.
// Actions come first, then each segment expanded in order.
type FixtureCase struct {
	Name     string           `json:"name"`
	Actions  []gate.Action    `json:"actions,omitempty"`
	Segments []FixtureSegment `json:"segments,omitempty"`
	Expected FixtureExpected  `json:"expected"`
}

// FixtureSegment repeats a score pattern.
type FixtureSegment struct {
	Scores []float64 `json:"scores"`
	Repeat int       `json:"repeat"`
}

// FixtureExpected lists the outcome checks for a case. Nil fields are not
// checked.
type FixtureExpected struct {
	Tier             *gate.Tier `json:"tier,omitempty"`
	MinTier          *gate.Tier `json:"min_tier,omitempty"`
	MaxTier          *gate.Tier `json:"max_tier,omitempty"`
	Gated            *bool      `json:"gated,omitempty"`
	PenaltyApplied   *bool      `json:"penalty_applied,omitempty"`
	LightRatioCapped *bool      `json:"light_ratio_capped,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToGateConfig applies the fixture's overrides to the default gate config.
func (f *Fixture) ToGateConfig() (gate.GateConfig, error) {
	cfg := gate.DefaultGateConfig()
	if f.GateConfig == nil {
		return cfg, nil
	}
	if err := json.Unmarshal(*f.GateConfig, &cfg); err != nil {
		return cfg, fmt.Errorf("parse gate config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ToCase converts a FixtureCase to a domain Case.
func (fc *FixtureCase) ToCase() Case {
	history := append([]gate.Action(nil), fc.Actions...)
	for _, seg := range fc.Segments {
		for i := 0; i < seg.Repeat; i++ {
			history = append(history, gate.FromScores(seg.Scores)...)
		}
	}
	return Case{Name: fc.Name, History: history, Expected: fc.Expected}
}

// #endregion fixture-loader

// #region fixture-export

// ExportFixture builds a fixture from audit log tier records so recorded
// decisions can be replayed later. All records must share one gate config.
func ExportFixture(description string, recs []logging.TierRecord) (*Fixture, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("export fixture: no tier records")
	}
	cfg := recs[0].Config
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("export fixture: marshal gate config: %w", err)
	}
	msg := json.RawMessage(raw)

	f := &Fixture{Description: description, GateConfig: &msg}
	for i, rec := range recs {
		if rec.Config != cfg {
			return nil, fmt.Errorf("export fixture: record %d uses a different gate config", i)
		}
		tier, gated := rec.Tier, rec.Gated
		want := FixtureExpected{Tier: &tier, Gated: &gated}
		if rec.Diagnostics != nil {
			penalty := rec.Diagnostics.EntropyPenaltyApplied
			capped := rec.Diagnostics.LightRatioCapped
			want.PenaltyApplied = &penalty
			want.LightRatioCapped = &capped
		}
		f.Cases = append(f.Cases, FixtureCase{
			Name:     fmt.Sprintf("%s#%d", rec.SubjectID, i),
			Actions:  rec.Actions,
			Expected: want,
		})
	}
	return f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(f *Fixture, path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-export
