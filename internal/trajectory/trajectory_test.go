package trajectory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addPoints(acc *Accumulator, pts ...Point) {
	for i, p := range pts {
		acc.Add(Vector{X: p.X, Y: p.Y, Timestamp: int64(i), Dimension: "d"})
	}
}

func TestAccumulatorCentroidAndTrajectory(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{2, 4}, Point{4, 2})

	assert.Equal(t, 3, acc.Len())
	assert.Equal(t, 3, acc.Total())
	assert.InDelta(t, 2.0, acc.Centroid().X, 1e-12)
	assert.InDelta(t, 2.0, acc.Centroid().Y, 1e-12)
	// deltas (2,4) and (2,-2)
	assert.InDelta(t, 2.0, acc.Trajectory().X, 1e-12)
	assert.InDelta(t, 1.0, acc.Trajectory().Y, 1e-12)
}

func TestAccumulatorEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 3
	cfg.WindowSize = 2
	acc := NewAccumulator(cfg)
	addPoints(acc, Point{1, 1}, Point{2, 2}, Point{3, 3}, Point{10, 10}, Point{20, 20})

	assert.Equal(t, 3, acc.Len())
	assert.Equal(t, 5, acc.Total())
	vs := acc.Vectors()
	require.Len(t, vs, 3)
	assert.Equal(t, 3.0, vs[0].X)
	assert.Equal(t, 20.0, vs[2].X)
	assert.InDelta(t, 11.0, acc.Centroid().X, 1e-12)

	// window keeps (7,7) and (10,10)
	assert.Len(t, acc.Deltas(), 2)
	assert.InDelta(t, 8.5, acc.Trajectory().X, 1e-12)
}

func TestAccumulatorEmpty(t *testing.T) {
	acc := NewAccumulator(Config{})
	assert.Equal(t, Point{}, acc.Centroid())
	assert.Equal(t, Point{}, acc.Trajectory())
	assert.Empty(t, acc.Vectors())
}

func TestAccumulatorRestoreIsAuthoritative(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{1, 1}, Point{2, 2})
	st := acc.State()

	restored := NewAccumulator(DefaultConfig())
	restored.Restore(st)
	assert.Equal(t, acc.Centroid(), restored.Centroid())
	assert.Equal(t, acc.Trajectory(), restored.Trajectory())
	assert.Equal(t, 3, restored.Total())

	st.Centroid = Point{X: 5, Y: 5}
	st.VectorCount = 40
	other := NewAccumulator(DefaultConfig())
	other.Restore(st)
	assert.InDelta(t, 5.0, other.Centroid().X, 1e-12)
	assert.Equal(t, 40, other.Total())

	other.Add(Vector{X: 3, Y: 3})
	assert.Equal(t, 41, other.Total())
	assert.InDelta(t, (15.0+3.0)/4, other.Centroid().X, 1e-12)
}

func TestAccumulatorRestoreWithoutVectors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 4
	acc := NewAccumulator(cfg)
	acc.Restore(State{Centroid: Point{X: 2, Y: 8}, VectorCount: 10})

	assert.Equal(t, 10, acc.Total())
	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, Point{X: 2, Y: 8}, acc.Centroid())

	// The prior fills the ring's free slots: three of four after one add.
	acc.Add(Vector{X: 6, Y: 0})
	assert.InDelta(t, (2.0*3+6)/4, acc.Centroid().X, 1e-12)
	assert.InDelta(t, 8.0*3/4, acc.Centroid().Y, 1e-12)

	addPoints(acc, Point{6, 0}, Point{6, 0}, Point{6, 0})
	assert.Equal(t, Point{X: 6, Y: 0}, acc.Centroid(), "a full ring no longer uses the prior")

	acc.Restore(acc.State())
	assert.Equal(t, Point{X: 6, Y: 0}, acc.Centroid())
}

func TestPredictInsufficientData(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{1, 1})

	pred := NewPredictor(DefaultConfig()).Predict(acc, Point{5, 5}, nil)
	assert.Nil(t, pred.Path)
	assert.Zero(t, pred.Confidence)
	assert.Equal(t, 2, pred.DataPoints)
	assert.Contains(t, pred.Reason, "insufficient")
}

func TestPredictReachable(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{1, 0}, Point{2, 0})

	pred := NewPredictor(DefaultConfig()).Predict(acc, Point{10, 0}, nil)
	require.NotNil(t, pred.Path)
	assert.True(t, pred.Path.Reachable)
	assert.Equal(t, 9, pred.Path.StepsToVertex)
	assert.Nil(t, pred.Path.CourseCorrection)
	assert.Greater(t, pred.Confidence, 0.0)
	assert.Less(t, pred.Confidence, 0.5, "three points are low confidence")
}

func TestPredictAlreadyAtVertex(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{1, 1}, Point{1, 1}, Point{1, 1})

	pred := NewPredictor(DefaultConfig()).Predict(acc, Point{1, 1}, nil)
	require.NotNil(t, pred.Path)
	assert.True(t, pred.Path.Reachable)
	assert.Zero(t, pred.Path.StepsToVertex)
}

func TestPredictDepartingNeedsSignificantCorrection(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{-1, 0}, Point{-2, 0})

	pred := NewPredictor(DefaultConfig()).Predict(acc, Point{10, 0}, nil)
	require.NotNil(t, pred.Path)
	assert.False(t, pred.Path.Reachable)
	assert.InDelta(t, 11.0, pred.Path.ClosestApproach, 1e-12)
	require.NotNil(t, pred.Path.CourseCorrection)
	assert.Equal(t, SeveritySignificant, pred.Path.CourseCorrection.Severity)
	assert.InDelta(t, 180.0, math.Abs(pred.Path.CourseCorrection.AngleDifference), 1e-9)
}

func TestPredictMinorCorrection(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{1, 0}, Point{2, 0})
	rad := 30 * math.Pi / 180
	vertex := Point{X: 1 + 10*math.Cos(rad), Y: 10 * math.Sin(rad)}

	pred := NewPredictor(DefaultConfig()).Predict(acc, vertex, nil)
	require.NotNil(t, pred.Path)
	assert.False(t, pred.Path.Reachable)
	cc := pred.Path.CourseCorrection
	require.NotNil(t, cc)
	assert.Equal(t, SeverityMinor, cc.Severity)
	assert.Equal(t, "increase", cc.Direction)
	assert.InDelta(t, 30.0, cc.AngleDifference, 1e-9)
	assert.InDelta(t, 5.0, pred.Path.ClosestApproach, 0.1)
}

func TestCourseCorrectionBuckets(t *testing.T) {
	cases := []struct {
		deg float64
		sev Severity
		dir string
	}{
		{5, SeverityOnTrack, "increase"},
		{-20, SeverityMinor, "decrease"},
		{60, SeverityModerate, "increase"},
		{-120, SeveritySignificant, "decrease"},
	}
	for _, tc := range cases {
		cc := courseCorrection(0, tc.deg*math.Pi/180)
		assert.Equal(t, tc.sev, cc.Severity, "deg %v", tc.deg)
		assert.Equal(t, tc.dir, cc.Direction, "deg %v", tc.deg)
	}
}

func TestDimensionFocus(t *testing.T) {
	acc := NewAccumulator(DefaultConfig())
	addPoints(acc, Point{0, 0}, Point{1, 0}, Point{2, 0})

	var samples []Sample
	for _, d := range []float64{3, 4, 5, 6, 7, 8} {
		samples = append(samples, Sample{Dimension: "worse", VertexDistance: d})
	}
	samples = append(samples,
		Sample{Dimension: "fine", VertexDistance: 1},
		Sample{Dimension: "fine", VertexDistance: 1},
		Sample{Dimension: "better", VertexDistance: 9},
		Sample{Dimension: "better", VertexDistance: 8},
		Sample{Dimension: "better", VertexDistance: 7},
	)

	pred := NewPredictor(DefaultConfig()).Predict(acc, Point{10, 0}, samples)
	require.NotNil(t, pred.Path)
	focus := pred.Path.DimensionFocus
	require.Len(t, focus, 2)
	assert.Equal(t, "better", focus[0].Dimension)
	assert.Equal(t, "improving", focus[0].Trend)
	assert.Equal(t, "worse", focus[1].Dimension)
	assert.Equal(t, "worsening", focus[1].Trend)
	assert.Equal(t, 6, focus[1].Samples)
}

func TestConfidenceIsLogarithmicAndSaturates(t *testing.T) {
	p := NewPredictor(DefaultConfig())
	assert.Zero(t, p.confidence(2))
	c3, c10, c50 := p.confidence(3), p.confidence(10), p.confidence(50)
	assert.Less(t, c3, c10)
	assert.Less(t, c10, c50)
	assert.InDelta(t, 0.5, c10, 1e-12)
	assert.Equal(t, 1.0, p.confidence(100))
	assert.Equal(t, 1.0, p.confidence(5000))
}
