// Package eval runs a self-check of the derivation and encoding pipeline
// against a digit source before it is trusted with real subjects.
package eval

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// #region eval-harness
// EvalHarness runs the pipeline self-check.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks determinism, uniqueness, encode/decode round trips and, for the
// embedded pi source, the integrity of the digit asset.
func (h *EvalHarness) Run(src digits.Source, encCfg encoder.Config) EvalResult {
	d := identity.NewDeriver(src)
	rng := rand.New(rand.NewPCG(h.config.Seed, h.config.Seed^0x9e3779b97f4a7c15))

	var metrics []EvalMetric
	var failReasons []string
	check := func(m EvalMetric, reason string) {
		metrics = append(metrics, m)
		if !m.Pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Determinism: repeated derivations at sampled offsets
	det := h.determinism(d, rng)
	check(EvalMetric{Name: "determinism", Value: det, Pass: det == 1},
		fmt.Sprintf("determinism %.4f below 1", det))

	// 2. Uniqueness: distinct offsets give distinct vertices
	uniq := h.uniqueness(d, rng)
	check(EvalMetric{Name: "uniqueness", Value: uniq, Pass: uniq >= h.config.MinUniqueness},
		fmt.Sprintf("uniqueness %.4f below %.4f", uniq, h.config.MinUniqueness))

	// 3. Round trip: decode(encode(v)) recovers v on the real branch
	worst, complexCount, err := h.roundTrip(d, encCfg, rng)
	if err != nil {
		check(EvalMetric{Name: "round_trip_error", Value: math.Inf(1), Pass: false}, err.Error())
	} else {
		check(EvalMetric{Name: "round_trip_error", Value: worst, Pass: worst <= h.config.RoundTripTolerance},
			fmt.Sprintf("round trip error %.3g exceeds %.3g", worst, h.config.RoundTripTolerance))
		check(EvalMetric{Name: "round_trip_complex", Value: float64(complexCount), Pass: complexCount == 0},
			fmt.Sprintf("%d round trips fell on the complex branch", complexCount))
	}

	// 4. Digit asset integrity: embedded pi matches a fresh computation
	if src.Version() == digits.PiVersion && h.config.PiCheckDigits > 0 {
		n := min(h.config.PiCheckDigits, src.Len())
		ok := src.Window(0, n) == digits.MachinPi(n)
		check(EvalMetric{Name: "pi_integrity", Value: float64(n), Pass: ok},
			fmt.Sprintf("embedded pi differs from computed pi within %d digits", n))
	}

	passed := len(failReasons) == 0
	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region checks
// determinism returns the share of repeated derivations identical to the first.
func (h *EvalHarness) determinism(d *identity.Deriver, rng *rand.Rand) float64 {
	same, total := 0, 0
	for i := 0; i < h.config.DeterminismOffsets; i++ {
		offset := rng.IntN(d.MaxOffset())
		first, err := d.Derive(offset)
		if err != nil {
			continue
		}
		for j := 1; j < h.config.DeterminismRuns; j++ {
			again, err := d.Derive(offset)
			total++
			if err == nil && again == first {
				same++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(same) / float64(total)
}

// uniqueness returns the share of distinct-offset pairs whose vertices differ.
func (h *EvalHarness) uniqueness(d *identity.Deriver, rng *rand.Rand) float64 {
	maxOff := d.MaxOffset()
	differ, total := 0, 0
	for total < h.config.UniquenessPairs {
		a, b := rng.IntN(maxOff), rng.IntN(maxOff)
		if a == b {
			continue
		}
		total++
		da, errA := d.Derive(a)
		db, errB := d.Derive(b)
		if errA != nil || errB != nil {
			continue
		}
		if !identity.ApproxEqual(da.Vertex.X, db.Vertex.X) || !identity.ApproxEqual(da.Vertex.Y, db.Vertex.Y) {
			differ++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(differ) / float64(total)
}

// roundTrip encodes random in-range values for every configured dimension at
// a random offset and returns the worst range-relative decode error.
func (h *EvalHarness) roundTrip(d *identity.Deriver, encCfg encoder.Config, rng *rand.Rand) (float64, int, error) {
	var deriv identity.Derivation
	var err error
	for attempt := 0; attempt < 16; attempt++ {
		deriv, err = d.Derive(rng.IntN(d.MaxOffset()))
		if err == nil {
			break
		}
	}
	if err != nil {
		return 0, 0, fmt.Errorf("round trip: %w", err)
	}

	cfg := encCfg
	cfg.HistoryLimit = h.config.RoundTripSamples
	enc, err := encoder.New(d.Source(), deriv, cfg, trajectory.DefaultConfig())
	if err != nil {
		return 0, 0, fmt.Errorf("round trip: %w", err)
	}

	dims := make([]string, 0, len(cfg.Ranges))
	for dim := range cfg.Ranges {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	worst, complexCount := 0.0, 0
	for _, dim := range dims {
		r := cfg.Ranges[dim]
		for i := 0; i < h.config.RoundTripSamples; i++ {
			v := r.Min + rng.Float64()*(r.Max-r.Min)
			ev, err := enc.Encode(v, dim)
			if err != nil {
				return 0, 0, fmt.Errorf("round trip: %w", err)
			}
			dec := enc.Decode(ev)
			if dec.WasComplex {
				complexCount++
				continue
			}
			worst = math.Max(worst, math.Abs(dec.Value-v)/(r.Max-r.Min))
		}
	}
	return worst, complexCount, nil
}

// #endregion checks
