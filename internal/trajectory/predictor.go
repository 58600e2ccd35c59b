package trajectory

import (
	"fmt"
	"math"
	"sort"
)

// #region predictor
// Predictor projects an accumulator toward a vertex.
type Predictor struct {
	config Config
}

// NewPredictor creates a predictor with the given configuration.
func NewPredictor(config Config) *Predictor {
	return &Predictor{config: config}
}

// Predict estimates whether and when the centroid reaches vertex. samples are
// the per-dimension vertex distances in encoding order.
func (p *Predictor) Predict(acc *Accumulator, vertex Point, samples []Sample) Prediction {
	n := acc.Total()
	if n < p.config.MinPoints {
		return Prediction{
			Path:       nil,
			Confidence: 0,
			DataPoints: n,
			Reason:     fmt.Sprintf("insufficient data: %d of %d points", n, p.config.MinPoints),
		}
	}

	centroid := acc.Centroid()
	heading := acc.Trajectory()
	path := &Path{
		Centroid:        centroid,
		Vertex:          vertex,
		Trajectory:      heading,
		CurrentDistance: distance(centroid, vertex),
		TrajectoryAngle: math.Atan2(heading.Y, heading.X),
		AngleToVertex:   math.Atan2(vertex.Y-centroid.Y, vertex.X-centroid.X),
	}

	p.project(path)
	if !path.Reachable {
		path.CourseCorrection = courseCorrection(path.TrajectoryAngle, path.AngleToVertex)
	}
	path.DimensionFocus = p.dimensionFocus(samples)

	reason := fmt.Sprintf("closest approach %.4f after %d steps", path.ClosestApproach, path.ClosestStep)
	if path.Reachable {
		reason = fmt.Sprintf("vertex reachable in %d steps", path.StepsToVertex)
	}
	return Prediction{
		Path:       path,
		Confidence: p.confidence(n),
		DataPoints: n,
		Reason:     reason,
	}
}

// #endregion predictor

// #region projection
// project walks the centroid along the heading, stopping early once within
// the reach threshold.
func (p *Predictor) project(path *Path) {
	pos := path.Centroid
	path.ClosestApproach = path.CurrentDistance
	path.ClosestStep = 0
	if path.CurrentDistance < p.config.ReachThreshold {
		path.Reachable = true
		return
	}
	if path.Trajectory.X == 0 && path.Trajectory.Y == 0 {
		return
	}
	for step := 1; step <= p.config.ProjectionSteps; step++ {
		pos.X += path.Trajectory.X
		pos.Y += path.Trajectory.Y
		d := distance(pos, path.Vertex)
		if d < path.ClosestApproach {
			path.ClosestApproach = d
			path.ClosestStep = step
		}
		if d < p.config.ReachThreshold {
			path.Reachable = true
			path.StepsToVertex = step
			return
		}
	}
}

// courseCorrection buckets the signed heading error.
func courseCorrection(heading, toVertex float64) *CourseCorrection {
	diff := normalizeAngle(toVertex - heading)
	deg := diff * 180 / math.Pi
	abs := math.Abs(deg)

	var sev Severity
	switch {
	case abs < 15:
		sev = SeverityOnTrack
	case abs < 45:
		sev = SeverityMinor
	case abs < 90:
		sev = SeverityModerate
	default:
		sev = SeveritySignificant
	}
	dir := "decrease"
	if diff > 0 {
		dir = "increase"
	}
	return &CourseCorrection{AngleDifference: deg, Severity: sev, Direction: dir}
}

// normalizeAngle maps a to (-π, π].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// #endregion projection

// #region dimension-focus
func (p *Predictor) dimensionFocus(samples []Sample) []DimensionFocus {
	byDim := make(map[string][]float64)
	for _, s := range samples {
		byDim[s.Dimension] = append(byDim[s.Dimension], s.VertexDistance)
	}

	var out []DimensionFocus
	for dim, dists := range byDim {
		var sum float64
		for _, d := range dists {
			sum += d
		}
		mean := sum / float64(len(dists))
		if mean <= p.config.FocusDistance {
			continue
		}
		recent := dists
		if w := p.config.FocusTrendWindow; w > 0 && len(recent) > w {
			recent = recent[len(recent)-w:]
		}
		trend := "improving"
		if recent[len(recent)-1]-recent[0] > 0 {
			trend = "worsening"
		}
		out = append(out, DimensionFocus{
			Dimension:    dim,
			MeanDistance: mean,
			Trend:        trend,
			Samples:      len(dists),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeanDistance > out[j].MeanDistance })
	return out
}

// #endregion dimension-focus

// #region confidence
// confidence grows with ln(n) and saturates at the configured ceiling.
func (p *Predictor) confidence(n int) float64 {
	if n < p.config.MinPoints || n < 2 {
		return 0
	}
	ceiling := max(p.config.ConfidenceCeiling, 2)
	return math.Min(1, math.Log(float64(n))/math.Log(float64(ceiling)))
}

// #endregion confidence

// #region helpers
func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// #endregion helpers
