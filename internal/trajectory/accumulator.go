// Package trajectory accumulates encoded behavior into a centroid and a short
// heading, and projects that heading toward a subject's vertex.
package trajectory

// #region accumulator
// Accumulator keeps a bounded ring of vectors with a running centroid and the
// most recent per-step deltas. It is not safe for concurrent use; the owning
// encoder serializes access.
type Accumulator struct {
	capacity int
	window   int

	ring  []Vector
	head  int // index of the oldest vector once the ring is full
	sumX  float64
	sumY  float64
	total int // vectors ever added, including evicted ones

	// prior stands in for vectors a restored snapshot counted but did not
	// carry. Its weight shrinks as the ring fills.
	prior       Point
	priorWeight int

	deltas []Point
}

// NewAccumulator builds an accumulator from cfg's capacity and window.
func NewAccumulator(cfg Config) *Accumulator {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultConfig().Capacity
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultConfig().WindowSize
	}
	return &Accumulator{
		capacity: capacity,
		window:   window,
		ring:     make([]Vector, 0, capacity),
		deltas:   make([]Point, 0, window),
	}
}

// Add appends v, evicting the oldest vector on overflow.
func (a *Accumulator) Add(v Vector) {
	if n := len(a.ring); n > 0 {
		last := a.latest()
		a.pushDelta(Point{X: v.X - last.X, Y: v.Y - last.Y})
	}

	if len(a.ring) < a.capacity {
		a.ring = append(a.ring, v)
	} else {
		old := a.ring[a.head]
		a.sumX -= old.X
		a.sumY -= old.Y
		a.ring[a.head] = v
		a.head = (a.head + 1) % a.capacity
	}
	a.sumX += v.X
	a.sumY += v.Y
	a.total++
}

func (a *Accumulator) latest() Vector {
	if len(a.ring) < a.capacity {
		return a.ring[len(a.ring)-1]
	}
	return a.ring[(a.head+a.capacity-1)%a.capacity]
}

func (a *Accumulator) pushDelta(d Point) {
	if len(a.deltas) == a.window {
		copy(a.deltas, a.deltas[1:])
		a.deltas = a.deltas[:a.window-1]
	}
	a.deltas = append(a.deltas, d)
}

// Len is the number of retained vectors.
func (a *Accumulator) Len() int { return len(a.ring) }

// Total is the number of vectors ever added.
func (a *Accumulator) Total() int { return a.total }

// Centroid is the mean of the retained vectors, blended with any restored
// centroid that arrived without its vectors.
func (a *Accumulator) Centroid() Point {
	n := len(a.ring)
	w := min(a.priorWeight, a.capacity-n)
	if n+w == 0 {
		return Point{}
	}
	d := float64(n + w)
	return Point{
		X: (a.sumX + a.prior.X*float64(w)) / d,
		Y: (a.sumY + a.prior.Y*float64(w)) / d,
	}
}

// Trajectory is the mean of the recent per-step deltas.
func (a *Accumulator) Trajectory() Point {
	if len(a.deltas) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, d := range a.deltas {
		sx += d.X
		sy += d.Y
	}
	n := float64(len(a.deltas))
	return Point{X: sx / n, Y: sy / n}
}

// Vectors returns the retained vectors, oldest first.
func (a *Accumulator) Vectors() []Vector {
	out := make([]Vector, 0, len(a.ring))
	if len(a.ring) < a.capacity {
		return append(out, a.ring...)
	}
	out = append(out, a.ring[a.head:]...)
	return append(out, a.ring[:a.head]...)
}

// Deltas returns the trajectory window, oldest first.
func (a *Accumulator) Deltas() []Point {
	return append([]Point(nil), a.deltas...)
}

// #endregion accumulator

// #region restore
// State is the serializable form of an accumulator.
type State struct {
	Centroid    Point    `json:"centroid"`
	VectorCount int      `json:"vectorCount"`
	Trajectory  Point    `json:"trajectory"`
	Vectors     []Vector `json:"vectors"`
	Deltas      []Point  `json:"deltas"`
}

// State exports the accumulator.
func (a *Accumulator) State() State {
	return State{
		Centroid:    a.Centroid(),
		VectorCount: a.total,
		Trajectory:  a.Trajectory(),
		Vectors:     a.Vectors(),
		Deltas:      a.Deltas(),
	}
}

// Restore replaces the accumulator contents with s. The stored centroid is
// authoritative: running sums are rebuilt from it rather than from vectors.
// A state with a count but no vectors keeps the centroid as a weighted prior.
func (a *Accumulator) Restore(s State) {
	vectors := s.Vectors
	if len(vectors) > a.capacity {
		vectors = vectors[len(vectors)-a.capacity:]
	}
	a.ring = append(make([]Vector, 0, a.capacity), vectors...)
	a.head = 0
	n := float64(len(a.ring))
	a.sumX = s.Centroid.X * n
	a.sumY = s.Centroid.Y * n
	a.total = max(s.VectorCount, len(a.ring))
	a.prior, a.priorWeight = Point{}, 0
	if len(a.ring) == 0 && s.VectorCount > 0 {
		a.prior = s.Centroid
		a.priorWeight = min(s.VectorCount, a.capacity)
	}

	deltas := s.Deltas
	if len(deltas) > a.window {
		deltas = deltas[len(deltas)-a.window:]
	}
	a.deltas = append(make([]Point, 0, a.window), deltas...)
}

// #endregion restore
