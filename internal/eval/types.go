package eval

// #region eval-config
// EvalConfig holds the self-check sample sizes and thresholds.
type EvalConfig struct {
	DeterminismRuns    int     `yaml:"determinism_runs"`     // derivations per sampled offset
	DeterminismOffsets int     `yaml:"determinism_offsets"`  // offsets sampled for determinism
	UniquenessPairs    int     `yaml:"uniqueness_pairs"`     // distinct-offset pairs compared
	MinUniqueness      float64 `yaml:"min_uniqueness"`       // required share of differing vertices
	RoundTripSamples   int     `yaml:"round_trip_samples"`   // encode/decode pairs per dimension
	RoundTripTolerance float64 `yaml:"round_trip_tolerance"` // relative to each dimension's range
	PiCheckDigits      int     `yaml:"pi_check_digits"`      // embedded pi digits recomputed, 0 skips
	Seed               uint64  `yaml:"seed"`
}

// DefaultEvalConfig returns the standard self-check sizes.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		DeterminismRuns:    100,
		DeterminismOffsets: 10,
		UniquenessPairs:    1000,
		MinUniqueness:      0.99,
		RoundTripSamples:   25,
		RoundTripTolerance: 1e-6,
		PiCheckDigits:      1000,
		Seed:               1618,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a self-check run.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// #endregion eval-result
