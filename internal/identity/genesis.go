package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// #region create-genesis
// maxGenesisRetries bounds the walk past degenerate offsets.
const maxGenesisRetries = 16

// CreateGenesis hashes caller-supplied entropy into a valid offset, derives
// the identity and packages it as a new record. A degenerate quadratic moves
// to the next offset.
func (d *Deriver) CreateGenesis(entropy []byte) (GenesisRecord, error) {
	if len(entropy) == 0 {
		return GenesisRecord{}, fmt.Errorf("create genesis: empty entropy")
	}
	maxOffset := d.MaxOffset()
	if maxOffset <= 0 {
		return GenesisRecord{}, fmt.Errorf("create genesis: %w", &InvalidOffsetError{Offset: 0, Max: maxOffset})
	}

	sum := sha256.Sum256(append([]byte(domainOffset+"\x00"), entropy...))
	offset := int(binary.BigEndian.Uint64(sum[:8]) % uint64(maxOffset))

	var deriv Derivation
	var err error
	for i := 0; i < maxGenesisRetries; i++ {
		deriv, err = d.Derive((offset + i) % maxOffset)
		if !errors.Is(err, ErrDegenerateQuadratic) {
			break
		}
	}
	if err != nil {
		return GenesisRecord{}, fmt.Errorf("create genesis: %w", err)
	}

	return GenesisRecord{
		ID:              uuid.New().String(),
		Offset:          deriv.Offset,
		SourceVersion:   deriv.SourceVersion,
		A:               deriv.Coefficients.A,
		B:               deriv.Coefficients.B,
		C:               deriv.Coefficients.C,
		VertexX:         deriv.Vertex.X,
		VertexY:         deriv.Vertex.Y,
		DerivationProof: deriv.Proof,
		EntropyProof:    hashWithDomain(domainEntropy, entropy),
		CreatedAt:       time.Now().UTC().UnixMilli(),
	}, nil
}

// #endregion create-genesis

// #region verify-genesis
// VerifyGenesis re-derives from the stored offset and compares every stored
// field. Mismatches are reported by field name and never corrected.
func (d *Deriver) VerifyGenesis(rec GenesisRecord) VerificationResult {
	if rec.SourceVersion != d.src.Version() {
		return VerificationResult{
			Valid: false,
			Mismatches: []Mismatch{{
				Field:    "sourceVersion",
				Expected: d.src.Version(),
				Actual:   rec.SourceVersion,
			}},
			Reason: "record was derived from a different digit source",
		}
	}

	deriv, err := d.Derive(rec.Offset)
	if err != nil {
		return VerificationResult{
			Valid: false,
			Mismatches: []Mismatch{{
				Field:    "offset",
				Expected: fmt.Sprintf("[0, %d)", d.MaxOffset()),
				Actual:   strconv.Itoa(rec.Offset),
			}},
			Reason: err.Error(),
		}
	}

	var mismatches []Mismatch
	checkFloat := func(field string, expected, actual float64) {
		if !ApproxEqual(expected, actual) {
			mismatches = append(mismatches, Mismatch{Field: field, Expected: formatFloat(expected), Actual: formatFloat(actual)})
		}
	}
	checkString := func(field, expected, actual string) {
		if expected != actual {
			mismatches = append(mismatches, Mismatch{Field: field, Expected: expected, Actual: actual})
		}
	}

	checkFloat("a", deriv.Coefficients.A, rec.A)
	checkFloat("b", deriv.Coefficients.B, rec.B)
	checkFloat("c", deriv.Coefficients.C, rec.C)
	checkFloat("vertexX", deriv.Vertex.X, rec.VertexX)
	checkFloat("vertexY", deriv.Vertex.Y, rec.VertexY)
	checkString("derivationProof", deriv.Proof, rec.DerivationProof)

	if rec.Locked {
		checkString("rootSignature", rootSignature(rec.DerivationProof, rec.EntropyProof, rec.SnapshotHash), rec.RootSignature)
	} else if rec.RootSignature != "" || rec.SnapshotHash != "" {
		mismatches = append(mismatches, Mismatch{Field: "locked", Expected: "true", Actual: "false"})
	}

	if len(mismatches) > 0 {
		return VerificationResult{
			Valid:      false,
			Mismatches: mismatches,
			Reason:     fmt.Sprintf("%d field(s) do not re-derive from offset %d", len(mismatches), rec.Offset),
		}
	}
	return VerificationResult{Valid: true, Reason: "all fields re-derive"}
}

// #endregion verify-genesis

// #region lock
// Lock folds a snapshot hash of accumulated behavior into the record and
// produces a root signature. It is allowed once per record.
func Lock(rec GenesisRecord, snapshotHash string, now time.Time) (GenesisRecord, error) {
	if rec.Locked {
		return rec, ErrAlreadyLocked
	}
	if snapshotHash == "" {
		return rec, fmt.Errorf("lock genesis: empty snapshot hash")
	}
	rec.Locked = true
	rec.SnapshotHash = snapshotHash
	rec.RootSignature = rootSignature(rec.DerivationProof, rec.EntropyProof, snapshotHash)
	rec.LockedAt = now.UTC().UnixMilli()
	return rec, nil
}

func rootSignature(derivationProof, entropyProof, snapshotHash string) string {
	return hashWithDomain(domainRoot, []byte(derivationProof), []byte(entropyProof), []byte(snapshotHash))
}

// #endregion lock
