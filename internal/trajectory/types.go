package trajectory

// #region point
// Point is a position in encoded space: x is the rotated value, y the
// quadratic result.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is one accumulated encoding.
type Vector struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
	Dimension string  `json:"dimension"`
}

// Sample is a per-dimension vertex distance, in encoding order.
type Sample struct {
	Dimension      string
	VertexDistance float64
}

// #endregion point

// #region config
// Config holds accumulator and prediction parameters.
type Config struct {
	Capacity          int     `yaml:"capacity"`           // retained vectors
	WindowSize        int     `yaml:"window_size"`        // deltas averaged into the trajectory
	MinPoints         int     `yaml:"min_points"`         // below this, no prediction
	ProjectionSteps   int     `yaml:"projection_steps"`   // forward projection budget
	ReachThreshold    float64 `yaml:"reach_threshold"`    // distance that counts as reaching the vertex
	ConfidenceCeiling int     `yaml:"confidence_ceiling"` // points at which confidence saturates
	FocusDistance     float64 `yaml:"focus_distance"`     // mean distance that triggers a dimension focus
	FocusTrendWindow  int     `yaml:"focus_trend_window"` // recent distances used for trend
}

// DefaultConfig returns the standard prediction parameters.
func DefaultConfig() Config {
	return Config{
		Capacity:          1000,
		WindowSize:        20,
		MinPoints:         3,
		ProjectionSteps:   100,
		ReachThreshold:    0.1,
		ConfidenceCeiling: 100,
		FocusDistance:     2.0,
		FocusTrendWindow:  5,
	}
}

// #endregion config

// #region prediction
// Severity buckets the heading error.
type Severity string

const (
	SeverityOnTrack     Severity = "on_track"
	SeverityMinor       Severity = "minor"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
)

// CourseCorrection describes how far the heading is from the vertex.
type CourseCorrection struct {
	AngleDifference float64  `json:"angleDifference"` // degrees, signed
	Severity        Severity `json:"severity"`
	Direction       string   `json:"direction"` // "increase" | "decrease"
}

// DimensionFocus flags a dimension that sits far from the vertex.
type DimensionFocus struct {
	Dimension    string  `json:"dimension"`
	MeanDistance float64 `json:"meanDistance"`
	Trend        string  `json:"trend"` // "worsening" | "improving"
	Samples      int     `json:"samples"`
}

// Path is the projected route of the centroid.
type Path struct {
	Centroid         Point             `json:"centroid"`
	Vertex           Point             `json:"vertex"`
	Trajectory       Point             `json:"trajectory"`
	CurrentDistance  float64           `json:"currentDistance"`
	TrajectoryAngle  float64           `json:"trajectoryAngle"` // radians
	AngleToVertex    float64           `json:"angleToVertex"`   // radians
	Reachable        bool              `json:"reachable"`
	StepsToVertex    int               `json:"stepsToVertex,omitempty"`
	ClosestApproach  float64           `json:"closestApproach"`
	ClosestStep      int               `json:"closestStep"`
	CourseCorrection *CourseCorrection `json:"courseCorrection,omitempty"`
	DimensionFocus   []DimensionFocus  `json:"dimensionFocus,omitempty"`
}

// Prediction is the result of Predict. Path is nil when there is not yet
// enough data; that is a normal state, not an error.
type Prediction struct {
	Path       *Path   `json:"prediction"`
	Confidence float64 `json:"confidence"`
	DataPoints int     `json:"dataPoints"`
	Reason     string  `json:"reason"`
}

// #endregion prediction
