// Package gate maps a subject's scored action history to an access tier.
//
// Scores are weighted by age so the oldest actions count most, penalized when
// the recent window is suspiciously repetitive, and capped below FULL when too
// few actions scored above the light threshold. The gate is stateless: every
// call receives the whole history, oldest first.
package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/equilibrium/internal/golden"
)

// #region gate
// Gate evaluates action histories against fixed tier thresholds.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the gate's configuration.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Evaluate checks the history gate first, then scores. history is ordered
// oldest first.
func (g *Gate) Evaluate(history []Action) Result {
	n := len(history)

	// --- History gate ---
	if n < g.config.MinHistory {
		remaining := g.config.MinHistory - n
		return Result{
			Tier:      Partial,
			Gated:     true,
			Remaining: remaining,
			Reason:    fmt.Sprintf("history gate: %d more actions required", remaining),
		}
	}

	// --- Scoring ---
	aggregate, weightSum := fibonacciAggregate(history)

	window := history
	if len(window) > g.config.EntropyWindow {
		window = window[len(window)-g.config.EntropyWindow:]
	}
	entropy := shannonEntropy(window, g.config.EntropyBins)

	penalty := 0.0
	if entropy < g.config.MinEntropy {
		penalty = math.Min(g.config.MaxPenalty, g.config.PenaltyPerBit*(g.config.MinEntropy-entropy))
	}
	effective := aggregate * (1 - penalty)

	light := lightRatio(history, g.config.LightThreshold)
	raw := g.tierFor(effective)
	tier := raw
	capped := false
	if tier >= Full && light < g.config.MinLightRatio {
		tier = Partial
		capped = true
	}

	diag := &Diagnostics{
		HistoryLength:         n,
		AggregateScore:        aggregate,
		WeightSum:             weightSum,
		Entropy:               entropy,
		EntropyWindow:         len(window),
		EntropyPenaltyApplied: penalty > 0,
		EntropyPenalty:        penalty,
		EffectiveScore:        effective,
		LightRatio:            light,
		RawTier:               raw,
		LightRatioCapped:      capped,
	}
	return Result{
		Tier:        tier,
		Gated:       false,
		Reason:      reasonFor(diag, tier),
		Diagnostics: diag,
	}
}

// #endregion gate

// #region helpers
// tierFor maps an effective score onto the ascending thresholds.
func (g *Gate) tierFor(score float64) Tier {
	tier := Blocked
	for i, th := range g.config.Thresholds {
		if score >= th {
			tier = Tier(i + 1)
		}
	}
	return tier
}

// fibonacciAggregate weights each action by F(min(age+1, 55)), where the most
// recent action has age 0. The oldest actions carry the largest weights.
func fibonacciAggregate(history []Action) (float64, float64) {
	var sum, weights float64
	last := len(history) - 1
	for i, a := range history {
		w := golden.Fib(min(last-i+1, golden.MaxFibIndex))
		sum += a.Score * w
		weights += w
	}
	if weights == 0 {
		return 0, 0
	}
	return sum / weights, weights
}

// shannonEntropy is the base-2 entropy of the scores binned into equal-width
// buckets over [0, 1]. Out-of-range scores land in the edge buckets.
func shannonEntropy(actions []Action, bins int) float64 {
	if len(actions) == 0 {
		return 0
	}
	counts := make([]int, bins)
	for _, a := range actions {
		idx := int(math.Floor(a.Score * float64(bins)))
		idx = max(0, min(bins-1, idx))
		counts[idx]++
	}
	total := float64(len(actions))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// lightRatio is the fraction of actions scoring strictly above threshold.
func lightRatio(history []Action, threshold float64) float64 {
	if len(history) == 0 {
		return 0
	}
	light := 0
	for _, a := range history {
		if a.Score > threshold {
			light++
		}
	}
	return float64(light) / float64(len(history))
}

func reasonFor(d *Diagnostics, tier Tier) string {
	reason := fmt.Sprintf("effective score %.4f → %s", d.EffectiveScore, tier)
	if d.EntropyPenaltyApplied {
		reason += fmt.Sprintf("; entropy %.3f bits, penalty %.1f%%", d.Entropy, d.EntropyPenalty*100)
	}
	if d.LightRatioCapped {
		reason += fmt.Sprintf("; light ratio %.3f capped %s to %s", d.LightRatio, d.RawTier, tier)
	}
	return reason
}

// #endregion helpers
