// Package encoder turns raw behavioral measurements into a subject-specific
// encoding using the subject's derived quadratic, and tracks how the encoded
// behavior moves relative to the subject's vertex.
package encoder

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/golden"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// ErrInvalidMeasurement rejects non-finite values and empty dimension names.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// #region encoder
// Encoder owns one subject's encoding history and accumulator. Encode calls
// are serialized by an internal mutex so they apply in arrival order.
type Encoder struct {
	src    digits.Source
	deriv  identity.Derivation
	config Config

	mu           sync.Mutex
	history      []EncodedValue
	lastDistance map[string]float64
	acc          *trajectory.Accumulator
	predictor    *trajectory.Predictor
	now          func() time.Time
}

// New creates an encoder for the subject described by deriv. deriv must
// have come from src.
func New(src digits.Source, deriv identity.Derivation, config Config, predCfg trajectory.Config) (*Encoder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deriv.SourceVersion != src.Version() {
		return nil, fmt.Errorf("new encoder: derivation from %q, source is %q", deriv.SourceVersion, src.Version())
	}
	if math.Abs(deriv.Coefficients.A) < identity.Epsilon {
		return nil, fmt.Errorf("new encoder: %w", identity.ErrDegenerateQuadratic)
	}
	return &Encoder{
		src:          src,
		deriv:        deriv,
		config:       config,
		lastDistance: make(map[string]float64),
		acc:          trajectory.NewAccumulator(predCfg),
		predictor:    trajectory.NewPredictor(predCfg),
		now:          time.Now,
	}, nil
}

// SetClock replaces the timestamp source.
func (e *Encoder) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Derivation returns the subject's derivation.
func (e *Encoder) Derivation() identity.Derivation {
	return e.deriv
}

// #endregion encoder

// #region encode
// Encode runs value through normalize → rotate → quadratic → spiral,
// classifies the step against the previous one in the same dimension and
// appends it to history and the accumulator.
func (e *Encoder) Encode(value float64, dimension string) (EncodedValue, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return EncodedValue{}, fmt.Errorf("encode %q: %w: value %v is not finite", dimension, ErrInvalidMeasurement, value)
	}
	dim := CanonicalDimension(dimension)
	if dim == "" {
		return EncodedValue{}, fmt.Errorf("encode: %w: empty dimension", ErrInvalidMeasurement)
	}

	normalized := normalize(value, e.rangeFor(dim))
	rotated := normalized * e.rotationScale(dim)
	y := e.deriv.Coefficients.Eval(rotated)
	compressed := spiralCompress(y)
	dist := math.Hypot(rotated-e.deriv.Vertex.X, y-e.deriv.Vertex.Y)

	e.mu.Lock()
	defer e.mu.Unlock()

	label := Approaching
	if prev, ok := e.lastDistance[dim]; ok && dist > prev {
		label = Departing
	}
	e.lastDistance[dim] = dist

	ev := EncodedValue{
		Original:        value,
		Dimension:       dim,
		Normalized:      normalized,
		Rotated:         rotated,
		QuadraticResult: y,
		Compressed:      compressed,
		VertexDistance:  dist,
		Trajectory:      label,
		Timestamp:       e.now().UTC().UnixMilli(),
	}
	e.appendHistory(ev)
	e.acc.Add(trajectory.Vector{X: rotated, Y: y, Timestamp: ev.Timestamp, Dimension: dim})
	return ev, nil
}

func (e *Encoder) appendHistory(ev EncodedValue) {
	e.history = append(e.history, ev)
	if limit := e.config.HistoryLimit; limit > 0 && len(e.history) > limit {
		n := copy(e.history, e.history[len(e.history)-limit:])
		e.history = e.history[:n]
	}
}

// #endregion encode

// #region decode
// Decode inverts an encoding. It never fails: a negative discriminant yields
// the complex root's real part with WasComplex set and lower confidence.
func (e *Encoder) Decode(ev EncodedValue) DecodedResult {
	dim := CanonicalDimension(ev.Dimension)
	c := e.deriv.Coefficients
	y := spiralExpand(ev.Compressed.Magnitude)

	res := DecodedResult{Dimension: dim, QuadraticResult: y, Confidence: 0.95}

	// Solve a·x² + b·x + (c − y) = 0 on the branch x ≥ vertex.x, where
	// every rotated value lives.
	disc := c.B*c.B - 4*c.A*(c.C-y)
	vx := -c.B / (2 * c.A)
	if disc >= 0 {
		res.Rotated = vx + math.Sqrt(disc)/(2*math.Abs(c.A))
		res.Real = res.Rotated
	} else {
		res.WasComplex = true
		res.Real = vx
		res.Imaginary = math.Sqrt(-disc) / (2 * math.Abs(c.A))
		res.Rotated = vx
		res.Confidence = 0.7
	}

	scale := e.rotationScale(dim)
	res.Normalized = res.Rotated / scale
	r := e.rangeFor(dim)
	res.Value = r.Min + res.Normalized*(r.Max-r.Min)
	return res
}

// #endregion decode

// #region transforms
// CanonicalDimension NFC-normalizes, trims and lower-cases a dimension name
// so visually identical names share a sub-offset.
func CanonicalDimension(name string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(name)))
}

func (e *Encoder) rangeFor(dim string) Range {
	if r, ok := e.config.Ranges[dim]; ok {
		return r
	}
	return e.config.Fallback
}

// normalize maps v into [0, 1] over r, clamping outside values.
func normalize(v float64, r Range) float64 {
	n := (v - r.Min) / (r.Max - r.Min)
	return math.Max(0, math.Min(1, n))
}

// subOffset picks a dimension-specific position inside the rotation window.
func (e *Encoder) subOffset(dim string) int {
	sum := sha256.Sum256([]byte(dim))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(e.config.SubOffsetWindow))
}

// rotationAngle reads a digit window at genesis offset + sub-offset and maps
// it into [0, π/2).
func (e *Encoder) rotationAngle(dim string) float64 {
	w := e.src.Window(e.deriv.Offset+e.subOffset(dim), e.config.RotationDigits)
	n, err := strconv.ParseUint(w, 10, 64)
	if err != nil {
		panic("encoder: non-digit window from source " + e.src.Version())
	}
	return float64(n) / math.Pow10(e.config.RotationDigits) * math.Pi / 2
}

// rotationScale is the factor of the mix n·cosθ + (n/φ)·sinθ. It is at
// least 1/φ for θ in [0, π/2), so the mix is always invertible.
func (e *Encoder) rotationScale(dim string) float64 {
	theta := e.rotationAngle(dim)
	return math.Cos(theta) + golden.InvPhi*math.Sin(theta)
}

var lnPhi = math.Log(golden.Phi)

// spiralCompress maps y onto the golden spiral: the signed turn count
// log_φ(1+|y|) and its angular position in golden-angle steps.
func spiralCompress(y float64) Compressed {
	m := math.Copysign(math.Log1p(math.Abs(y))/lnPhi, y)
	phase := math.Mod(m*golden.Angle, 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	return Compressed{Magnitude: m, Phase: phase}
}

func spiralExpand(m float64) float64 {
	return math.Copysign(math.Expm1(math.Abs(m)*lnPhi), m)
}

// #endregion transforms

// #region accessors
// History returns a copy of the encoding history, oldest first.
func (e *Encoder) History() []EncodedValue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EncodedValue(nil), e.history...)
}

// Centroid returns the accumulator centroid.
func (e *Encoder) Centroid() trajectory.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Centroid()
}

// DataPoints is the number of encodings ever accumulated.
func (e *Encoder) DataPoints() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Total()
}

// Predict projects the accumulated behavior toward the vertex.
func (e *Encoder) Predict() trajectory.Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()
	samples := make([]trajectory.Sample, len(e.history))
	for i, ev := range e.history {
		samples[i] = trajectory.Sample{Dimension: ev.Dimension, VertexDistance: ev.VertexDistance}
	}
	v := trajectory.Point{X: e.deriv.Vertex.X, Y: e.deriv.Vertex.Y}
	return e.predictor.Predict(e.acc, v, samples)
}

// #endregion accessors

// #region snapshot
// Snapshot exports the accumulator and the most recent encodings.
func (e *Encoder) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	recent := e.history
	if n := e.config.SnapshotHistory; n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	var last map[string]float64
	if len(e.lastDistance) > 0 {
		last = make(map[string]float64, len(e.lastDistance))
		for dim, d := range e.lastDistance {
			last[dim] = d
		}
	}
	return Snapshot{
		State:                 e.acc.State(),
		RecentEncodingHistory: append([]EncodedValue{}, recent...),
		LastDistances:         last,
	}
}

// Restore replaces the encoder state with s. The snapshot is authoritative.
func (e *Encoder) Restore(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.Restore(s.State)
	e.history = append([]EncodedValue(nil), s.RecentEncodingHistory...)
	if limit := e.config.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}
	e.lastDistance = make(map[string]float64)
	for dim, d := range s.LastDistances {
		e.lastDistance[CanonicalDimension(dim)] = d
	}
	// Older snapshots carry no distance map; fall back to the history.
	if len(s.LastDistances) == 0 {
		for _, ev := range e.history {
			e.lastDistance[ev.Dimension] = ev.VertexDistance
		}
	}
}

// #endregion snapshot
