// Package identity derives a subject's quadratic model and optimal point from
// a genesis offset into a digit source, and packages that derivation into a
// verifiable genesis record.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/golden"
)

// #region constants
const (
	// Epsilon is the tolerance for every floating-point equality check.
	Epsilon = 1e-10

	coefficientDigits = 10
	coefficientStride = 10
	// coefficientScale parses a window d.ddddddddd.
	coefficientScale = 1e9

	domainDerivation = "equilibrium/derivation/v1"
	domainEntropy    = "equilibrium/entropy/v1"
	domainOffset     = "equilibrium/offset/v1"
	domainRoot       = "equilibrium/root/v1"
	domainOwnership  = "equilibrium/ownership/v1"
)

// perturbation is the constant golden-ratio factor applied to each parsed window.
var perturbation = 1 + golden.InvPhi/100

// #endregion constants

// #region deriver
// Deriver derives identities from one digit source.
type Deriver struct {
	src digits.Source
}

// NewDeriver binds a deriver to src.
func NewDeriver(src digits.Source) *Deriver {
	return &Deriver{src: src}
}

// Source returns the bound digit source.
func (d *Deriver) Source() digits.Source {
	return d.src
}

// MaxOffset is the exclusive upper bound for offsets.
func (d *Deriver) MaxOffset() int {
	return digits.MaxOffset(d.src)
}

// ValidateOffset returns an *InvalidOffsetError if offset is out of range.
func (d *Deriver) ValidateOffset(offset int) error {
	if offset < 0 || offset >= d.MaxOffset() {
		return &InvalidOffsetError{Offset: offset, Max: d.MaxOffset()}
	}
	return nil
}

// Derive computes coefficients, vertex and derivation proof for offset. It
// is pure: the same source and offset always produce the same result.
func (d *Deriver) Derive(offset int) (Derivation, error) {
	if err := d.ValidateOffset(offset); err != nil {
		return Derivation{}, err
	}
	coeffs := Coefficients{
		A: d.coefficient(offset),
		B: d.coefficient(offset + coefficientStride),
		C: d.coefficient(offset + 2*coefficientStride),
	}
	if math.Abs(coeffs.A) < Epsilon {
		return Derivation{}, ErrDegenerateQuadratic
	}
	return Derivation{
		Offset:        offset,
		SourceVersion: d.src.Version(),
		Coefficients:  coeffs,
		Vertex:        VertexOf(coeffs),
		Proof:         derivationProof(d.src.Version(), offset, coeffs),
	}, nil
}

// coefficient parses the 10-digit window at offset as d.ddddddddd and
// applies the golden perturbation.
func (d *Deriver) coefficient(offset int) float64 {
	w := d.src.Window(offset, coefficientDigits)
	n, err := strconv.ParseUint(w, 10, 64)
	if err != nil {
		// Sources only ever hold ASCII digits.
		panic("identity: non-digit window from source " + d.src.Version())
	}
	return float64(n) / coefficientScale * perturbation
}

// #endregion deriver

// #region vertex
// VertexOf returns the turning point of the quadratic. A must be non-zero.
func VertexOf(c Coefficients) Vertex {
	x := -c.B / (2 * c.A)
	return Vertex{X: x, Y: c.Eval(x)}
}

// #endregion vertex

// #region hashing
// hashWithDomain computes SHA-256 over domain, a zero byte, then each part
// followed by a zero byte.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func derivationProof(version string, offset int, c Coefficients) string {
	return hashWithDomain(domainDerivation,
		[]byte(version),
		[]byte(strconv.Itoa(offset)),
		[]byte(formatFloat(c.A)),
		[]byte(formatFloat(c.B)),
		[]byte(formatFloat(c.C)),
	)
}

// #endregion hashing

// #region compare
// ApproxEqual compares within Epsilon, scaled by magnitude above 1 so large
// vertex values survive serialization round-trips.
func ApproxEqual(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= Epsilon*scale
}

// #endregion compare
