// Package golden holds the golden-ratio constants and Fibonacci table shared
// by the identity derivation, the behavioral encoder and the tier gate.
package golden

import "math"

// #region constants
var (
	// Phi is the golden ratio (1+√5)/2.
	Phi = (1 + math.Sqrt(5)) / 2
	// InvPhi is 1/φ, also φ-1.
	InvPhi = 1 / Phi
	// Angle is the golden angle in radians, 2π/φ².
	Angle = 2 * math.Pi / (Phi * Phi)
)

// #endregion constants

// #region powers
// InvPow returns φ^-p.
func InvPow(p float64) float64 {
	return math.Pow(Phi, -p)
}

// #endregion powers

// #region fibonacci
// MaxFibIndex is the largest Fibonacci index kept in the table. F(55) is
// still exactly representable as a float64.
const MaxFibIndex = 55

var fibTable = buildFib(MaxFibIndex)

func buildFib(n int) []float64 {
	t := make([]float64, n+1)
	if n >= 1 {
		t[1] = 1
	}
	for i := 2; i <= n; i++ {
		t[i] = t[i-1] + t[i-2]
	}
	return t
}

// Fib returns F(n) with F(1)=F(2)=1. Indices above MaxFibIndex are capped,
// indices below 1 return 0.
func Fib(n int) float64 {
	if n < 1 {
		return 0
	}
	if n > MaxFibIndex {
		n = MaxFibIndex
	}
	return fibTable[n]
}

// #endregion fibonacci
