// Package replay runs recorded or scripted action histories back through the
// tier gate and checks the outcomes against expectations.
package replay

import (
	"fmt"

	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
)

// #region types
// Case is one action history to replay.
type Case struct {
	Name     string
	History  []gate.Action
	Expected FixtureExpected
}

// ReplayResult captures the outcome of replaying one case.
type ReplayResult struct {
	Name     string
	Result   gate.Result
	Passed   bool
	Failures []string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total  int
	Passed int
	Failed int
	Gated  int
	ByTier map[gate.Tier]int
}

// #endregion types

// #region replay
// Replay evaluates each case with a gate built from config.
func Replay(cases []Case, config gate.GateConfig) []ReplayResult {
	g := gate.NewGate(config)
	results := make([]ReplayResult, 0, len(cases))
	for _, c := range cases {
		res := g.Evaluate(c.History)
		failures := check(c.Expected, res)
		results = append(results, ReplayResult{
			Name:     c.Name,
			Result:   res,
			Passed:   len(failures) == 0,
			Failures: failures,
		})
	}
	return results
}

// ReplayRecords re-evaluates audit log tier records with the config each was
// recorded under. A record passes when the replay reproduces its tier,
// gating and penalty.
func ReplayRecords(recs []logging.TierRecord) []ReplayResult {
	results := make([]ReplayResult, 0, len(recs))
	for i, rec := range recs {
		res := gate.NewGate(rec.Config).Evaluate(rec.Actions)
		want := FixtureExpected{Tier: &rec.Tier, Gated: &rec.Gated}
		if rec.Diagnostics != nil {
			want.PenaltyApplied = &rec.Diagnostics.EntropyPenaltyApplied
		}
		failures := check(want, res)
		results = append(results, ReplayResult{
			Name:     fmt.Sprintf("%s#%d", rec.SubjectID, i),
			Result:   res,
			Passed:   len(failures) == 0,
			Failures: failures,
		})
	}
	return results
}

func check(want FixtureExpected, res gate.Result) []string {
	var failures []string
	if want.Tier != nil && res.Tier != *want.Tier {
		failures = append(failures, fmt.Sprintf("tier %s, expected %s", res.Tier, *want.Tier))
	}
	if want.MinTier != nil && res.Tier < *want.MinTier {
		failures = append(failures, fmt.Sprintf("tier %s below %s", res.Tier, *want.MinTier))
	}
	if want.MaxTier != nil && res.Tier > *want.MaxTier {
		failures = append(failures, fmt.Sprintf("tier %s above %s", res.Tier, *want.MaxTier))
	}
	if want.Gated != nil && res.Gated != *want.Gated {
		failures = append(failures, fmt.Sprintf("gated %t, expected %t", res.Gated, *want.Gated))
	}
	penalty, capped := false, false
	if res.Diagnostics != nil {
		penalty = res.Diagnostics.EntropyPenaltyApplied
		capped = res.Diagnostics.LightRatioCapped
	}
	if want.PenaltyApplied != nil && penalty != *want.PenaltyApplied {
		failures = append(failures, fmt.Sprintf("entropy penalty %t, expected %t", penalty, *want.PenaltyApplied))
	}
	if want.LightRatioCapped != nil && capped != *want.LightRatioCapped {
		failures = append(failures, fmt.Sprintf("light ratio cap %t, expected %t", capped, *want.LightRatioCapped))
	}
	return failures
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{
		Total:  len(results),
		ByTier: make(map[gate.Tier]int),
	}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		if r.Result.Gated {
			s.Gated++
			continue
		}
		s.ByTier[r.Result.Tier]++
	}
	return s
}

// #endregion replay
