package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// #region range
// Range is the expected raw span of one dimension.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// #endregion range

// #region config
// Config holds encoder parameters.
type Config struct {
	Ranges          map[string]Range `yaml:"ranges"`
	Fallback        Range            `yaml:"fallback"`
	SubOffsetWindow int              `yaml:"sub_offset_window"` // dimension sub-offsets fall in [0, window)
	RotationDigits  int              `yaml:"rotation_digits"`
	HistoryLimit    int              `yaml:"history_limit"`    // 0 keeps everything
	SnapshotHistory int              `yaml:"snapshot_history"` // encodings carried in a snapshot
}

// DefaultRanges are the known measurement spans. Durations are in seconds,
// response time in milliseconds, click rate per second and typing speed in
// words per minute.
func DefaultRanges() map[string]Range {
	return map[string]Range{
		"session_duration":  {Min: 0, Max: 3600},
		"response_time":     {Min: 0, Max: 5000},
		"click_rate":        {Min: 0, Max: 10},
		"scroll_depth":      {Min: 0, Max: 1},
		"typing_speed":      {Min: 0, Max: 150},
		"dwell_time":        {Min: 0, Max: 600},
		"interaction_count": {Min: 0, Max: 1000},
		"error_rate":        {Min: 0, Max: 1},
	}
}

// DefaultConfig returns the standard encoder parameters.
func DefaultConfig() Config {
	return Config{
		Ranges:          DefaultRanges(),
		Fallback:        Range{Min: 0, Max: 10000},
		SubOffsetWindow: 50,
		RotationDigits:  6,
		HistoryLimit:    1000,
		SnapshotHistory: 100,
	}
}

// Validate checks that every range is non-empty and the digit windows fit
// inside the offset reserve.
func (c Config) Validate() error {
	if c.Fallback.Max <= c.Fallback.Min {
		return fmt.Errorf("encoder config: fallback range [%g, %g] is empty", c.Fallback.Min, c.Fallback.Max)
	}
	for name, r := range c.Ranges {
		if r.Max <= r.Min {
			return fmt.Errorf("encoder config: range %q [%g, %g] is empty", name, r.Min, r.Max)
		}
	}
	if c.SubOffsetWindow <= 0 || c.RotationDigits <= 0 || c.RotationDigits > 15 {
		return fmt.Errorf("encoder config: sub offset window %d / rotation digits %d out of range", c.SubOffsetWindow, c.RotationDigits)
	}
	if c.SubOffsetWindow+c.RotationDigits > 100 {
		return fmt.Errorf("encoder config: rotation window exceeds offset reserve")
	}
	return nil
}

// #endregion config

// #region encoded-value
// Label classifies one step relative to the previous step in the same dimension.
type Label string

const (
	Approaching Label = "approaching_optimal"
	Departing   Label = "departing_optimal"
)

// Compressed is the golden-spiral form of a quadratic result.
type Compressed struct {
	Magnitude float64 `json:"magnitude"`
	Phase     float64 `json:"phase"`
}

// EncodedValue is one encoded measurement.
type EncodedValue struct {
	Original        float64    `json:"original"`
	Dimension       string     `json:"dimension"`
	Normalized      float64    `json:"normalized"`
	Rotated         float64    `json:"rotated"`
	QuadraticResult float64    `json:"quadraticResult"`
	Compressed      Compressed `json:"compressed"`
	VertexDistance  float64    `json:"vertexDistance"`
	Trajectory      Label      `json:"trajectory"`
	Timestamp       int64      `json:"timestamp"` // unix millis
}

// DecodedResult is the best-effort inverse of an EncodedValue.
type DecodedResult struct {
	Value           float64 `json:"value"`
	Dimension       string  `json:"dimension"`
	Normalized      float64 `json:"normalized"`
	Rotated         float64 `json:"rotated"`
	QuadraticResult float64 `json:"quadraticResult"`
	WasComplex      bool    `json:"wasComplex"`
	Real            float64 `json:"real"`
	Imaginary       float64 `json:"imaginary"`
	Confidence      float64 `json:"confidence"`
}

// #endregion encoded-value

// #region snapshot
// Snapshot is the backup form of a subject's accumulated behavior. Restoring
// it does not re-derive anything from raw inputs.
type Snapshot struct {
	trajectory.State
	RecentEncodingHistory []EncodedValue `json:"recentEncodingHistory"`
	// LastDistances is the latest vertex distance per dimension, including
	// dimensions that fell out of RecentEncodingHistory.
	LastDistances map[string]float64 `json:"lastDistances,omitempty"`
}

// Hash is the SHA-256 hex of the snapshot's JSON form.
func (s Snapshot) Hash() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// #endregion snapshot
