package gate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/equilibrium/internal/golden"
)

// #region tier
// Tier is an ordered access level.
type Tier int

const (
	Blocked Tier = iota
	Degraded
	Partial
	Full
	Sovereign
)

var tierNames = [...]string{"BLOCKED", "DEGRADED", "PARTIAL", "FULL", "SOVEREIGN"}

func (t Tier) String() string {
	if t < Blocked || t > Sovereign {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if t < Blocked || t > Sovereign {
		return nil, fmt.Errorf("marshal tier: %d out of range", int(t))
	}
	return []byte(tierNames[t]), nil
}

// UnmarshalText accepts a tier name in any case.
func (t *Tier) UnmarshalText(b []byte) error {
	p, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// UnmarshalJSON accepts a tier name or its ordinal.
func (t *Tier) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < int(Blocked) || n > int(Sovereign) {
			return fmt.Errorf("decode tier: %d out of range", n)
		}
		*t = Tier(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("decode tier: %w", err)
	}
	return t.UnmarshalText([]byte(name))
}

// ParseTier looks up a tier by name.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(s, name) {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("parse tier: unknown tier %q", s)
}

// #endregion tier

// #region action
// Action is one scored action. Score is expected in [0, 1]; the gate does not
// clamp it.
type Action struct {
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"` // unix millis, 0 if unknown
}

// UnmarshalJSON accepts either a bare number (the score) or an object.
func (a *Action) UnmarshalJSON(b []byte) error {
	var score float64
	if err := json.Unmarshal(b, &score); err == nil {
		*a = Action{Score: score}
		return nil
	}
	type plain Action
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	*a = Action(p)
	return nil
}

// FromScores wraps raw scores as actions in the same order.
func FromScores(scores []float64) []Action {
	actions := make([]Action, len(scores))
	for i, s := range scores {
		actions[i] = Action{Score: s}
	}
	return actions
}

// #endregion action

// #region gate-config
// GateConfig holds the tier gate thresholds.
type GateConfig struct {
	MinHistory     int        `yaml:"min_history" json:"min_history"`         // actions required before any tier is granted
	EntropyWindow  int        `yaml:"entropy_window" json:"entropy_window"`   // most recent actions checked for patterns
	EntropyBins    int        `yaml:"entropy_bins" json:"entropy_bins"`       // equal-width bins over [0, 1]
	MinEntropy     float64    `yaml:"min_entropy" json:"min_entropy"`         // bits
	PenaltyPerBit  float64    `yaml:"penalty_per_bit" json:"penalty_per_bit"` // reduction per bit below MinEntropy
	MaxPenalty     float64    `yaml:"max_penalty" json:"max_penalty"`
	LightThreshold float64    `yaml:"light_threshold" json:"light_threshold"`
	MinLightRatio  float64    `yaml:"min_light_ratio" json:"min_light_ratio"` // required for FULL and above
	Thresholds     [4]float64 `yaml:"thresholds" json:"thresholds"`           // DEGRADED, PARTIAL, FULL, SOVEREIGN
}

// DefaultGateConfig returns the golden-ratio thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinHistory:     21,
		EntropyWindow:  21,
		EntropyBins:    10,
		MinEntropy:     1.5,
		PenaltyPerBit:  0.10,
		MaxPenalty:     0.30,
		LightThreshold: 0.5,
		MinLightRatio:  golden.InvPhi,
		Thresholds: [4]float64{
			golden.InvPow(3),
			golden.InvPow(2),
			golden.InvPow(1),
			golden.InvPow(0.5),
		},
	}
}

// Validate checks that thresholds ascend and windows are positive.
func (c GateConfig) Validate() error {
	if c.MinHistory < 1 || c.EntropyWindow < 1 || c.EntropyBins < 1 {
		return fmt.Errorf("gate config: history %d / window %d / bins %d must be positive",
			c.MinHistory, c.EntropyWindow, c.EntropyBins)
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if c.Thresholds[i] <= c.Thresholds[i-1] {
			return fmt.Errorf("gate config: thresholds must ascend, got %v", c.Thresholds)
		}
	}
	if c.MaxPenalty < 0 || c.MaxPenalty >= 1 {
		return fmt.Errorf("gate config: max penalty %g outside [0, 1)", c.MaxPenalty)
	}
	return nil
}

// #endregion gate-config

// #region result
// Diagnostics is the full breakdown behind a tier.
type Diagnostics struct {
	HistoryLength         int     `json:"historyLength"`
	AggregateScore        float64 `json:"aggregateScore"`
	WeightSum             float64 `json:"weightSum"`
	Entropy               float64 `json:"entropy"` // bits
	EntropyWindow         int     `json:"entropyWindow"`
	EntropyPenaltyApplied bool    `json:"entropyPenaltyApplied"`
	EntropyPenalty        float64 `json:"entropyPenalty"` // fraction removed
	EffectiveScore        float64 `json:"effectiveScore"`
	LightRatio            float64 `json:"lightRatio"`
	RawTier               Tier    `json:"rawTier"`
	LightRatioCapped      bool    `json:"lightRatioCapped"`
}

// Result is the output of the gate evaluation.
type Result struct {
	Tier        Tier         `json:"tier"`
	Gated       bool         `json:"gated"`
	Remaining   int          `json:"remaining,omitempty"` // actions still needed while gated
	Reason      string       `json:"reason"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"` // nil while gated
}

// MarshalJSON writes the tier as its ordinal with the name alongside in
// tierName.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Tier < Blocked || r.Tier > Sovereign {
		return nil, fmt.Errorf("marshal result: tier %d out of range", int(r.Tier))
	}
	type plain Result
	return json.Marshal(struct {
		plain
		Tier     int    `json:"tier"`
		TierName string `json:"tierName"`
	}{plain(r), int(r.Tier), r.Tier.String()})
}

// UnmarshalJSON reads either tier form. When both tier and tierName are
// present they must agree.
func (r *Result) UnmarshalJSON(b []byte) error {
	type plain Result
	aux := struct {
		*plain
		TierName string `json:"tierName"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if aux.TierName != "" && !strings.EqualFold(aux.TierName, r.Tier.String()) {
		return fmt.Errorf("decode result: tierName %q disagrees with tier %s", aux.TierName, r.Tier)
	}
	return nil
}

// #endregion result
