package identity

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"time"
)

// #region prove
// ProveOwnership answers a challenge that only a holder of the same digit
// source and offset can reproduce. It shows knowledge of a value that
// re-derives to the vertex; it is not a signature over a secret key.
func (d *Deriver) ProveOwnership(offset, historyLength int, now time.Time) (OwnershipProof, error) {
	deriv, err := d.Derive(offset)
	if err != nil {
		return OwnershipProof{}, fmt.Errorf("prove ownership: %w", err)
	}
	data := OwnershipData{
		Offset:        offset,
		VertexX:       deriv.Vertex.X,
		VertexY:       deriv.Vertex.Y,
		HistoryLength: historyLength,
		Timestamp:     now.UTC().UnixMilli(),
	}
	challenge := ownershipChallenge(deriv.Coefficients, data)
	return OwnershipProof{
		Proof:                 ownershipHash(data, challenge),
		Data:                  data,
		VerificationChallenge: challenge,
	}, nil
}

// #endregion prove

// #region verify
// VerifyOwnership recomputes the challenge from the proof data using this
// deriver's own quadratic for the claimed offset.
func (d *Deriver) VerifyOwnership(p OwnershipProof) error {
	deriv, err := d.Derive(p.Data.Offset)
	if err != nil {
		return fmt.Errorf("verify ownership: %w", err)
	}
	if !ApproxEqual(deriv.Vertex.X, p.Data.VertexX) || !ApproxEqual(deriv.Vertex.Y, p.Data.VertexY) {
		return fmt.Errorf("%w: vertex does not re-derive from offset %d", ErrOwnershipMismatch, p.Data.Offset)
	}
	challenge := ownershipChallenge(deriv.Coefficients, p.Data)
	if subtle.ConstantTimeCompare([]byte(challenge), []byte(p.VerificationChallenge)) != 1 {
		return fmt.Errorf("%w: challenge", ErrOwnershipMismatch)
	}
	expected := ownershipHash(p.Data, challenge)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(p.Proof)) != 1 {
		return fmt.Errorf("%w: proof hash", ErrOwnershipMismatch)
	}
	return nil
}

// #endregion verify

// #region helpers
// ownershipChallenge evaluates the quadratic at a point in [0, 1) chosen by
// the public data.
func ownershipChallenge(c Coefficients, data OwnershipData) string {
	seed := (data.Timestamp + int64(data.HistoryLength)) % 1000
	if seed < 0 {
		seed += 1000
	}
	x := float64(seed) / 1000
	return strconv.FormatFloat(c.Eval(x), 'f', 10, 64)
}

func ownershipHash(data OwnershipData, challenge string) string {
	return hashWithDomain(domainOwnership,
		[]byte(strconv.Itoa(data.Offset)),
		[]byte(formatFloat(data.VertexX)),
		[]byte(formatFloat(data.VertexY)),
		[]byte(strconv.Itoa(data.HistoryLength)),
		[]byte(strconv.FormatInt(data.Timestamp, 10)),
		[]byte(challenge),
	)
}

// #endregion helpers
