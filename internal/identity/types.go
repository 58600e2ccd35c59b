package identity

import "time"

// #region coefficients
// Coefficients are the a, b, c of a subject's quadratic f(x) = a·x² + b·x + c.
type Coefficients struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Eval returns f(x).
func (c Coefficients) Eval(x float64) float64 {
	return c.A*x*x + c.B*x + c.C
}

// #endregion coefficients

// #region vertex
// Vertex is the turning point of the quadratic, the subject's optimal point.
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// #endregion vertex

// #region derivation
// Derivation is everything that follows deterministically from an offset.
type Derivation struct {
	Offset        int          `json:"offset"`
	SourceVersion string       `json:"sourceVersion"`
	Coefficients  Coefficients `json:"coefficients"`
	Vertex        Vertex       `json:"vertex"`
	Proof         string       `json:"derivationProof"`
}

// #endregion derivation

// #region genesis-record
// GenesisRecord is the immutable identity record of one subject. It is
// serialized as a flat object so floating-point fields survive external
// persistence at full precision.
type GenesisRecord struct {
	ID              string  `json:"id"`
	Offset          int     `json:"offset"`
	SourceVersion   string  `json:"sourceVersion"`
	A               float64 `json:"a"`
	B               float64 `json:"b"`
	C               float64 `json:"c"`
	VertexX         float64 `json:"vertexX"`
	VertexY         float64 `json:"vertexY"`
	DerivationProof string  `json:"derivationProof"`
	EntropyProof    string  `json:"entropyProof"`
	CreatedAt       int64   `json:"createdAt"` // unix millis

	// Set once by Lock.
	Locked        bool   `json:"locked"`
	SnapshotHash  string `json:"snapshotHash,omitempty"`
	RootSignature string `json:"rootSignature,omitempty"`
	LockedAt      int64  `json:"lockedAt,omitempty"`
}

// Coefficients returns the stored coefficients.
func (r GenesisRecord) Coefficients() Coefficients {
	return Coefficients{A: r.A, B: r.B, C: r.C}
}

// Vertex returns the stored vertex.
func (r GenesisRecord) Vertex() Vertex {
	return Vertex{X: r.VertexX, Y: r.VertexY}
}

// Derivation rebuilds the derivation view of the stored fields.
func (r GenesisRecord) Derivation() Derivation {
	return Derivation{
		Offset:        r.Offset,
		SourceVersion: r.SourceVersion,
		Coefficients:  r.Coefficients(),
		Vertex:        r.Vertex(),
		Proof:         r.DerivationProof,
	}
}

// CreatedTime returns CreatedAt as a time.Time.
func (r GenesisRecord) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}

// #endregion genesis-record

// #region verification
// Mismatch names one field that failed re-derivation.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerificationResult is the outcome of VerifyGenesis.
type VerificationResult struct {
	Valid      bool       `json:"valid"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Reason     string     `json:"reason"`
}

// Err returns a *TamperError when the record failed verification.
func (v VerificationResult) Err() error {
	if v.Valid {
		return nil
	}
	return &TamperError{Mismatches: v.Mismatches, Reason: v.Reason}
}

// #endregion verification

// #region ownership
// OwnershipData is the public half of an ownership proof.
type OwnershipData struct {
	Offset        int     `json:"offset"`
	VertexX       float64 `json:"vertexX"`
	VertexY       float64 `json:"vertexY"`
	HistoryLength int     `json:"historyLength"`
	Timestamp     int64   `json:"timestamp"`
}

// OwnershipProof is exchanged with a verifier holding the same digit source.
type OwnershipProof struct {
	Proof                 string        `json:"proof"`
	Data                  OwnershipData `json:"data"`
	VerificationChallenge string        `json:"verificationChallenge"`
}

// #endregion ownership
